package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"etraxis/internal/domain"
	"etraxis/internal/engine/auth"
	"etraxis/internal/events"
	"etraxis/internal/fieldtype"
	"etraxis/internal/i18n"
	"etraxis/internal/repo"
	"etraxis/internal/validate"
	"etraxis/internal/values"
)

const SubjectMaxLength = 250

// CreateIssueOptions are parameters for creating an issue. Values are keyed
// by field id; a writable field without a submitted value gets its default.
type CreateIssueOptions struct {
	TemplateID    int64
	Subject       string
	ResponsibleID *int64
	Values        map[int64]any
	ActorID       int64
}

func (e Engine) CreateIssue(ctx context.Context, opts CreateIssueOptions) (issue domain.Issue, err error) {
	ctx, done := e.span(ctx, "issue.create", "template", opts.TemplateID, "actor", opts.ActorID)
	defer func() { done(err) }()

	err = e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		tpl, err := r.Template(ctx, opts.TemplateID)
		if err != nil {
			return err
		}
		project, err := r.Project(ctx, tpl.ProjectID)
		if err != nil {
			return err
		}
		if tpl.Locked || project.Suspended {
			return auth.ForbiddenError{Permission: string(domain.PermissionCreateIssues)}
		}
		a, err := e.principal(ctx, r, opts.ActorID, nil)
		if err != nil {
			return err
		}
		// The creator is the author of the issue being created.
		p := domain.NewAuthorPrincipal(a.user, a.groups)
		grants := auth.Service{Grants: r}
		if err := grants.Require(ctx, p, tpl.ID, domain.PermissionCreateIssues); err != nil {
			return err
		}
		initial, err := r.InitialState(ctx, tpl.ID)
		if err != nil {
			return fmt.Errorf("template %d has no initial state: %w", tpl.ID, err)
		}

		store := e.store(r, a.user)
		subject, violations := e.checkSubject(opts.Subject, a.user)
		fields, err := r.Fields(ctx, initial.ID)
		if err != nil {
			return err
		}
		submitted, more, err := e.collect(ctx, store, grants, p, fields, opts.Values, nil, true, a.user)
		if err != nil {
			return err
		}
		if violations = append(violations, more...); len(violations) > 0 {
			return violations
		}

		now := e.now().Unix()
		issue = domain.Issue{TemplateID: tpl.ID, StateID: initial.ID, Subject: subject, AuthorID: a.user.ID, CreatedAt: now, ChangedAt: now}
		if initial.Responsible == domain.ResponsibleAssign {
			if err := e.checkResponsible(ctx, r, "issue.create", initial, opts.ResponsibleID); err != nil {
				return err
			}
			issue.ResponsibleID = opts.ResponsibleID
		}
		if issue.ID, err = r.InsertIssue(ctx, issue); err != nil {
			return fmt.Errorf("insert issue: %w", err)
		}
		w := e.writer()
		event, err := w.Append(ctx, tx, issue.ID, a.user.ID, domain.EventIssueCreated, events.Payload{"state": initial.ID})
		if err != nil {
			return err
		}
		if issue.ResponsibleID != nil {
			if _, err := w.Append(ctx, tx, issue.ID, a.user.ID, domain.EventIssueAssigned, events.Payload{"responsible": *issue.ResponsibleID}); err != nil {
				return err
			}
		}
		return storeAll(ctx, store, &issue, event, fields, submitted)
	})
	return issue, err
}

// UpdateIssueOptions are parameters for editing an issue. A nil Subject and
// absent Values keys leave the current values untouched.
type UpdateIssueOptions struct {
	IssueID int64
	Subject *string
	Values  map[int64]any
	ActorID int64
}

func (e Engine) UpdateIssue(ctx context.Context, opts UpdateIssueOptions) (issue domain.Issue, err error) {
	ctx, done := e.span(ctx, "issue.update", "issue", opts.IssueID, "actor", opts.ActorID)
	defer func() { done(err) }()

	err = e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		var a actor
		if issue, a, err = e.loadIssue(ctx, r, opts.IssueID, opts.ActorID, domain.PermissionEditIssues); err != nil {
			return err
		}
		if err := e.ensureEditable(ctx, r, "issue.update", issue); err != nil {
			return err
		}
		grants := auth.Service{Grants: r}
		store := e.store(r, a.user)

		var violations validate.Violations
		subject := issue.Subject
		if opts.Subject != nil {
			subject, violations = e.checkSubject(*opts.Subject, a.user)
		}
		fields, _, err := issueFields(ctx, r, issue)
		if err != nil {
			return err
		}
		submitted, more, err := e.collect(ctx, store, grants, a.principal, fields, opts.Values, nil, false, a.user)
		if err != nil {
			return err
		}
		if violations = append(violations, more...); len(violations) > 0 {
			return violations
		}

		event, err := e.writer().Append(ctx, tx, issue.ID, a.user.ID, domain.EventIssueEdited, nil)
		if err != nil {
			return err
		}
		if subject != issue.Subject {
			if err := changeSubject(ctx, r, event, issue.Subject, subject); err != nil {
				return err
			}
			issue.Subject = subject
		}
		if err := storeAll(ctx, store, &issue, event, fields, submitted); err != nil {
			return err
		}
		issue.Touch(e.now().Unix())
		return r.UpdateIssue(ctx, issue)
	})
	return issue, err
}

// ChangeStateOptions moves an issue. ResponsibleID is required when the
// target state assigns a responsible; Values fill the target state's fields.
type ChangeStateOptions struct {
	IssueID       int64
	StateID       int64
	ResponsibleID *int64
	Values        map[int64]any
	ActorID       int64
}

func (e Engine) ChangeState(ctx context.Context, opts ChangeStateOptions) (issue domain.Issue, err error) {
	ctx, done := e.span(ctx, "state.change", "issue", opts.IssueID, "state", opts.StateID, "actor", opts.ActorID)
	defer func() { done(err) }()

	err = e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		var a actor
		if issue, a, err = e.loadIssue(ctx, r, opts.IssueID, opts.ActorID); err != nil {
			return err
		}
		ok, err := e.resolver(r).CanTransition(ctx, issue, a.principal, opts.StateID)
		if err != nil {
			return err
		}
		if !ok {
			return auth.ForbiddenError{Permission: "state.change"}
		}
		target, err := r.State(ctx, opts.StateID)
		if err != nil {
			return err
		}

		grants := auth.Service{Grants: r}
		store := e.store(r, a.user)
		fields, err := r.Fields(ctx, target.ID)
		if err != nil {
			return err
		}
		stored, err := r.FieldValues(ctx, issue.ID)
		if err != nil {
			return err
		}
		submitted, violations, err := e.collect(ctx, store, grants, a.principal, fields, opts.Values, stored, true, a.user)
		if err != nil {
			return err
		}
		if len(violations) > 0 {
			return violations
		}

		previous := issue.ResponsibleID
		switch target.Responsible {
		case domain.ResponsibleAssign:
			if err := e.checkResponsible(ctx, r, "state.change", target, opts.ResponsibleID); err != nil {
				return err
			}
			issue.ResponsibleID = opts.ResponsibleID
		case domain.ResponsibleRemove:
			issue.ResponsibleID = nil
		}

		now := e.now().Unix()
		typ := domain.EventStateChanged
		if target.IsFinal() {
			typ = domain.EventIssueClosed
			issue.ClosedAt = &now
		}
		issue.StateID = target.ID
		issue.Touch(now)
		if err := r.UpdateIssue(ctx, issue); err != nil {
			return err
		}

		w := e.writer()
		event, err := w.Append(ctx, tx, issue.ID, a.user.ID, typ, events.Payload{"state": target.ID})
		if err != nil {
			return err
		}
		if issue.ResponsibleID != nil && !sameID(previous, issue.ResponsibleID) {
			if _, err := w.Append(ctx, tx, issue.ID, a.user.ID, domain.EventIssueAssigned, events.Payload{"responsible": *issue.ResponsibleID}); err != nil {
				return err
			}
		}
		return storeAll(ctx, store, &issue, event, fields, submitted)
	})
	return issue, err
}

// Reassign hands the issue over to another responsible of its current state.
func (e Engine) Reassign(ctx context.Context, issueID, responsibleID, actorID int64) (issue domain.Issue, err error) {
	ctx, done := e.span(ctx, "issue.reassign", "issue", issueID, "responsible", responsibleID, "actor", actorID)
	defer func() { done(err) }()

	err = e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		var a actor
		if issue, a, err = e.loadIssue(ctx, r, issueID, actorID, domain.PermissionReassignIssues); err != nil {
			return err
		}
		if err := e.ensureEditable(ctx, r, "issue.reassign", issue); err != nil {
			return err
		}
		state, err := r.State(ctx, issue.StateID)
		if err != nil {
			return err
		}
		if state.Responsible != domain.ResponsibleAssign || issue.ResponsibleID == nil {
			return domain.InvariantError{Op: "issue.reassign", Reason: fmt.Sprintf("issue %d has no responsible to reassign", issue.ID)}
		}
		if *issue.ResponsibleID == responsibleID {
			return nil
		}
		if err := e.checkResponsible(ctx, r, "issue.reassign", state, &responsibleID); err != nil {
			return err
		}
		issue.ResponsibleID = &responsibleID
		issue.Touch(e.now().Unix())
		if err := r.UpdateIssue(ctx, issue); err != nil {
			return err
		}
		_, err = e.writer().Append(ctx, tx, issue.ID, a.user.ID, domain.EventIssueAssigned, events.Payload{"responsible": responsibleID})
		return err
	})
	return issue, err
}

// Suspend postpones the issue until the given time.
func (e Engine) Suspend(ctx context.Context, issueID int64, until time.Time, actorID int64) (issue domain.Issue, err error) {
	ctx, done := e.span(ctx, "issue.suspend", "issue", issueID, "actor", actorID)
	defer func() { done(err) }()

	err = e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		var a actor
		if issue, a, err = e.loadIssue(ctx, r, issueID, actorID, domain.PermissionSuspendIssues); err != nil {
			return err
		}
		now := e.now().Unix()
		if issue.IsClosed() {
			return domain.InvariantError{Op: "issue.suspend", Reason: fmt.Sprintf("issue %d is closed", issue.ID)}
		}
		resumesAt := until.Unix()
		if resumesAt <= now {
			return domain.InvariantError{Op: "issue.suspend", Reason: "suspension must end in the future"}
		}
		issue.ResumesAt = &resumesAt
		issue.Touch(now)
		if err := r.UpdateIssue(ctx, issue); err != nil {
			return err
		}
		_, err = e.writer().Append(ctx, tx, issue.ID, a.user.ID, domain.EventIssueSuspended, events.Payload{"until": resumesAt})
		return err
	})
	return issue, err
}

func (e Engine) Resume(ctx context.Context, issueID, actorID int64) (issue domain.Issue, err error) {
	ctx, done := e.span(ctx, "issue.resume", "issue", issueID, "actor", actorID)
	defer func() { done(err) }()

	err = e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		var a actor
		if issue, a, err = e.loadIssue(ctx, r, issueID, actorID, domain.PermissionResumeIssues); err != nil {
			return err
		}
		now := e.now().Unix()
		if !issue.IsSuspended(now) {
			return domain.InvariantError{Op: "issue.resume", Reason: fmt.Sprintf("issue %d is not suspended", issue.ID)}
		}
		issue.ResumesAt = nil
		issue.Touch(now)
		if err := r.UpdateIssue(ctx, issue); err != nil {
			return err
		}
		_, err = e.writer().Append(ctx, tx, issue.ID, a.user.ID, domain.EventIssueResumed, nil)
		return err
	})
	return issue, err
}

// AddDependency makes the issue wait for dependencyID: while the dependency
// is open the issue cannot enter a final state.
func (e Engine) AddDependency(ctx context.Context, issueID, dependencyID, actorID int64) (err error) {
	ctx, done := e.span(ctx, "dependency.add", "issue", issueID, "dependency", dependencyID, "actor", actorID)
	defer func() { done(err) }()

	return e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		issue, a, err := e.loadIssue(ctx, r, issueID, actorID, domain.PermissionAddDependencies)
		if err != nil {
			return err
		}
		if issueID == dependencyID {
			return domain.InvariantError{Op: "dependency.add", Reason: "an issue cannot depend on itself"}
		}
		if _, err := r.Issue(ctx, dependencyID); err != nil {
			return fmt.Errorf("dependency %d: %w", dependencyID, err)
		}
		if err := r.AddDependency(ctx, domain.Dependency{IssueID: issue.ID, DependencyID: dependencyID}); err != nil {
			return err
		}
		if err := r.TouchIssue(ctx, issue.ID, e.now().Unix()); err != nil {
			return err
		}
		_, err = e.writer().Append(ctx, tx, issue.ID, a.user.ID, domain.EventDependencyAdded, events.Payload{"issue": dependencyID})
		return err
	})
}

func (e Engine) RemoveDependency(ctx context.Context, issueID, dependencyID, actorID int64) (err error) {
	ctx, done := e.span(ctx, "dependency.remove", "issue", issueID, "dependency", dependencyID, "actor", actorID)
	defer func() { done(err) }()

	return e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		issue, a, err := e.loadIssue(ctx, r, issueID, actorID, domain.PermissionRemoveDependencies)
		if err != nil {
			return err
		}
		if err := r.RemoveDependency(ctx, domain.Dependency{IssueID: issue.ID, DependencyID: dependencyID}); err != nil {
			return fmt.Errorf("dependency %d: %w", dependencyID, err)
		}
		if err := r.TouchIssue(ctx, issue.ID, e.now().Unix()); err != nil {
			return err
		}
		_, err = e.writer().Append(ctx, tx, issue.ID, a.user.ID, domain.EventDependencyRemoved, events.Payload{"issue": dependencyID})
		return err
	})
}

// loadIssue loads the issue and the acting principal, and requires the
// listed template permissions besides issue.view.
func (e Engine) loadIssue(ctx context.Context, r repo.Repo, issueID, actorID int64, perms ...domain.TemplatePermission) (domain.Issue, actor, error) {
	issue, err := r.Issue(ctx, issueID)
	if err != nil {
		return issue, actor{}, fmt.Errorf("issue %d: %w", issueID, err)
	}
	a, err := e.principal(ctx, r, actorID, &issue)
	if err != nil {
		return issue, a, err
	}
	perms = append([]domain.TemplatePermission{domain.PermissionViewIssues}, perms...)
	if err := (auth.Service{Grants: r}).Require(ctx, a.principal, issue.TemplateID, perms...); err != nil {
		return issue, a, err
	}
	return issue, a, nil
}

// ensureEditable rejects changes of suspended and frozen issues.
func (e Engine) ensureEditable(ctx context.Context, r repo.Repo, op string, issue domain.Issue) error {
	now := e.now().Unix()
	if issue.IsSuspended(now) {
		return domain.InvariantError{Op: op, Reason: fmt.Sprintf("issue %d is suspended", issue.ID)}
	}
	tpl, err := r.Template(ctx, issue.TemplateID)
	if err != nil {
		return err
	}
	if issue.IsFrozen(tpl, now) {
		return domain.InvariantError{Op: op, Reason: fmt.Sprintf("issue %d is frozen", issue.ID)}
	}
	return nil
}

func (e Engine) checkResponsible(ctx context.Context, r repo.Repo, op string, state domain.State, userID *int64) error {
	if userID == nil {
		return domain.InvariantError{Op: op, Reason: fmt.Sprintf("state %q requires a responsible", state.Name)}
	}
	ok, err := e.resolver(r).IsCandidate(ctx, state.ID, *userID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.InvariantError{Op: op, Reason: fmt.Sprintf("user %d cannot be responsible in state %q", *userID, state.Name)}
	}
	return nil
}

func (e Engine) checkSubject(subject string, u domain.User) (string, validate.Violations) {
	subject = strings.TrimSpace(subject)
	locale := e.locale(u)
	constraints := []validate.Constraint{
		validate.NotBlank{Message: e.Translator.Translate(locale, i18n.MsgNotBlank)},
		validate.Length{Max: SubjectMaxLength, Message: e.Translator.Translate(locale, i18n.MsgTooLong, strconv.Itoa(SubjectMaxLength))},
	}
	violations := e.validator().Validate(subject, constraints)
	for i := range violations {
		violations[i].Field = "subject"
	}
	return subject, violations
}

func (e Engine) validator() validate.Validator {
	if e.Validator != nil {
		return e.Validator
	}
	return validate.Default{}
}

// collect validates the submitted values of the fields the principal may
// write and returns them keyed by field id. Values of other fields are
// ignored. A field without a submitted value keeps its stored value; with
// defaults set, a field with neither gets its default.
func (e Engine) collect(ctx context.Context, store values.Store, grants auth.Service, p domain.Principal, fields []domain.Field,
	submitted map[int64]any, stored map[int64]domain.FieldValue, defaults bool, u domain.User) (map[int64]any, validate.Violations, error) {
	res := map[int64]any{}
	var violations validate.Violations
	locale := e.locale(u)
	for i := range fields {
		f := &fields[i]
		perm, err := grants.FieldPermission(ctx, p, f.ID)
		if err != nil {
			return nil, nil, err
		}
		if !perm.CanWrite() {
			if _, ok := submitted[f.ID]; ok {
				e.logger().Debug("ignoring value of read-only field", "field", f.ID, "user", u.ID)
			}
			continue
		}
		raw, ok := submitted[f.ID]
		if !ok {
			if _, kept := stored[f.ID]; kept || !defaults {
				continue
			}
			if raw, err = store.Default(ctx, f); err != nil {
				return nil, nil, err
			}
		}
		found, err := store.Validate(ctx, f, raw, locale)
		if err != nil {
			return nil, nil, err
		}
		for _, v := range found {
			v.Field = f.Name
			violations = append(violations, v)
		}
		res[f.ID] = raw
	}
	return res, violations, nil
}

func storeAll(ctx context.Context, store values.Store, issue *domain.Issue, event domain.Event, fields []domain.Field, submitted map[int64]any) error {
	for i := range fields {
		raw, ok := submitted[fields[i].ID]
		if !ok {
			continue
		}
		v, err := store.SetValue(ctx, issue, event, &fields[i], raw)
		if err != nil {
			return fmt.Errorf("field %q: %w", fields[i].Name, err)
		}
		if v == nil {
			return fmt.Errorf("field %q: %w", fields[i].Name, fieldtype.ErrNotFound)
		}
	}
	return nil
}

// changeSubject records a subject change; both subjects are interned strings.
func changeSubject(ctx context.Context, r repo.Repo, event domain.Event, from, to string) error {
	oldID, err := r.Intern(ctx, fieldtype.KindString, from)
	if err != nil {
		return err
	}
	newID, err := r.Intern(ctx, fieldtype.KindString, to)
	if err != nil {
		return err
	}
	_, err = r.InsertChange(ctx, domain.Change{EventID: event.ID, OldValue: &oldID, NewValue: &newID})
	return err
}

// issueFields returns the active fields of the issue's template that belong
// to its current state or already hold a value, together with the values.
func issueFields(ctx context.Context, r repo.Repo, issue domain.Issue) ([]domain.Field, map[int64]domain.FieldValue, error) {
	all, err := r.TemplateFields(ctx, issue.TemplateID)
	if err != nil {
		return nil, nil, err
	}
	stored, err := r.FieldValues(ctx, issue.ID)
	if err != nil {
		return nil, nil, err
	}
	var res []domain.Field
	for _, f := range all {
		if _, ok := stored[f.ID]; ok || f.StateID == issue.StateID {
			res = append(res, f)
		}
	}
	return res, stored, nil
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

package engine

import (
	"context"
	"fmt"

	"etraxis/internal/domain"
	"etraxis/internal/engine/auth"
	"etraxis/internal/fieldtype"
	"etraxis/internal/repo"
)

// Issue returns the issue if the actor may view it.
func (e Engine) Issue(ctx context.Context, issueID, actorID int64) (domain.Issue, error) {
	issue, _, err := e.loadIssue(ctx, e.Repo, issueID, actorID)
	return issue, err
}

// Permissions lists the template permissions the actor holds on the issue.
func (e Engine) Permissions(ctx context.Context, issueID, actorID int64) ([]domain.TemplatePermission, error) {
	issue, a, err := e.loadIssue(ctx, e.Repo, issueID, actorID)
	if err != nil {
		return nil, err
	}
	set, err := (auth.Service{Grants: e.Repo}).TemplatePermissions(ctx, a.forIssue(&issue), issue.TemplateID)
	if err != nil {
		return nil, err
	}
	return set.Sorted(), nil
}

// Transitions lists the states the actor may move the issue to.
func (e Engine) Transitions(ctx context.Context, issueID, actorID int64) ([]domain.State, error) {
	issue, a, err := e.loadIssue(ctx, e.Repo, issueID, actorID)
	if err != nil {
		return nil, err
	}
	return e.resolver(e.Repo).Transitions(ctx, issue, a.principal)
}

// Responsibles lists the users who may become responsible for the issue in
// the state. With excludeCurrent the current responsible is left out, as
// when reassigning.
func (e Engine) Responsibles(ctx context.Context, issueID, stateID, actorID int64, excludeCurrent bool) ([]domain.User, error) {
	issue, _, err := e.loadIssue(ctx, e.Repo, issueID, actorID)
	if err != nil {
		return nil, err
	}
	state, err := e.Repo.State(ctx, stateID)
	if err != nil {
		return nil, err
	}
	if state.TemplateID != issue.TemplateID {
		return nil, fmt.Errorf("state %d of issue %d: %w", stateID, issueID, repo.ErrNotFound)
	}
	return e.resolver(e.Repo).Responsibles(ctx, stateID, &issue, excludeCurrent)
}

// FieldValueView is one readable field of an issue with its decoded value.
type FieldValueView struct {
	Field    domain.Field `json:"field"`
	Value    any          `json:"value"`
	ReadOnly bool         `json:"read_only"`
}

// FieldValues returns the issue's fields the actor may read, in state and
// position order.
func (e Engine) FieldValues(ctx context.Context, issueID, actorID int64) ([]FieldValueView, error) {
	issue, a, err := e.loadIssue(ctx, e.Repo, issueID, actorID)
	if err != nil {
		return nil, err
	}
	fields, stored, err := issueFields(ctx, e.Repo, issue)
	if err != nil {
		return nil, err
	}
	perms, err := (auth.Service{Grants: e.Repo}).FieldPermissions(ctx, a.principal, fields)
	if err != nil {
		return nil, err
	}
	deps := e.deps(e.Repo, a.user)
	var res []FieldValueView
	for i := range fields {
		f := &fields[i]
		if !perms[f.ID].CanRead() {
			continue
		}
		view := FieldValueView{Field: *f, ReadOnly: !perms[f.ID].CanWrite()}
		if v, ok := stored[f.ID]; ok {
			if view.Value, err = decode(ctx, f, deps, v.Value); err != nil {
				return nil, err
			}
		}
		res = append(res, view)
	}
	return res, nil
}

// ChangeView is one history entry with decoded values. A nil Field marks a
// change of the subject.
type ChangeView struct {
	Event    domain.Event  `json:"event"`
	Field    *domain.Field `json:"field,omitempty"`
	OldValue any           `json:"old_value"`
	NewValue any           `json:"new_value"`
}

// Changes returns the issue history. Changes of fields the actor cannot read
// are left out.
func (e Engine) Changes(ctx context.Context, issueID, actorID int64) ([]ChangeView, error) {
	issue, a, err := e.loadIssue(ctx, e.Repo, issueID, actorID)
	if err != nil {
		return nil, err
	}
	history, err := e.Repo.Changes(ctx, issue.ID)
	if err != nil {
		return nil, err
	}
	grants := auth.Service{Grants: e.Repo}
	deps := e.deps(e.Repo, a.user)
	fields := map[int64]*domain.Field{}
	readable := map[int64]bool{}
	var res []ChangeView
	for _, h := range history {
		view := ChangeView{Event: h.Event}
		if h.Change.FieldID == nil {
			if view.OldValue, err = lookupString(ctx, e.Repo, h.Change.OldValue); err != nil {
				return nil, err
			}
			if view.NewValue, err = lookupString(ctx, e.Repo, h.Change.NewValue); err != nil {
				return nil, err
			}
			res = append(res, view)
			continue
		}
		id := *h.Change.FieldID
		if _, ok := fields[id]; !ok {
			f, err := e.Repo.Field(ctx, id)
			if err != nil {
				return nil, err
			}
			perm, err := grants.FieldPermission(ctx, a.principal, id)
			if err != nil {
				return nil, err
			}
			fields[id], readable[id] = &f, perm.CanRead()
		}
		if !readable[id] {
			continue
		}
		view.Field = fields[id]
		if view.OldValue, err = decode(ctx, view.Field, deps, h.Change.OldValue); err != nil {
			return nil, err
		}
		if view.NewValue, err = decode(ctx, view.Field, deps, h.Change.NewValue); err != nil {
			return nil, err
		}
		res = append(res, view)
	}
	return res, nil
}

func decode(ctx context.Context, f *domain.Field, deps fieldtype.Deps, token *int64) (any, error) {
	c, err := fieldtype.New(f, deps)
	if err != nil {
		return nil, err
	}
	return c.Decode(ctx, token)
}

func lookupString(ctx context.Context, r repo.Repo, id *int64) (any, error) {
	if id == nil {
		return nil, nil
	}
	s, ok, err := r.Lookup(ctx, fieldtype.KindString, *id)
	if err != nil || !ok {
		return nil, err
	}
	return s, nil
}

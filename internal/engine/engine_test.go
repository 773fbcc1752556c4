package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etraxis/internal/config"
	"etraxis/internal/db"
	"etraxis/internal/domain"
	"etraxis/internal/engine"
	"etraxis/internal/engine/auth"
	"etraxis/internal/fieldtype"
	"etraxis/internal/migrate"
	"etraxis/internal/repo"
	"etraxis/internal/validate"
)

var fixedNow = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context

	alice, bob, carol, dave int64
	project                 int64
	reporters, developers   int64
	template                int64
	open, assigned, done    domain.State
	severity, description   domain.Field
	effort                  domain.Field
	low, high               domain.ListItem
}

// newTestEnv builds a bug tracking template:
//
//	Open (initial) -> Assigned (assign) -> Done (final)
//
// Alice reports issues, Bob and Carol develop them, Dave is an outsider.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	eng, err := engine.New(conn, config.Default())
	require.NoError(t, err)
	eng.Now = func() time.Time { return fixedNow }
	env := &testEnv{Engine: eng, Ctx: ctx}
	r := eng.Repo

	user := func(name string) int64 {
		id, err := r.InsertUser(ctx, domain.User{Email: name + "@example.com", Fullname: name})
		require.NoError(t, err)
		return id
	}
	env.alice, env.bob, env.carol, env.dave = user("Alice"), user("Bob"), user("Carol"), user("Dave")

	env.project, err = r.InsertProject(ctx, domain.Project{Name: "eTraxis", CreatedAt: fixedNow.Unix()})
	require.NoError(t, err)
	group := func(name string, members ...int64) int64 {
		id, err := r.InsertGroup(ctx, domain.Group{ProjectID: &env.project, Name: name})
		require.NoError(t, err)
		for _, m := range members {
			require.NoError(t, r.AddMember(ctx, id, m))
		}
		return id
	}
	env.reporters = group("Reporters", env.alice)
	env.developers = group("Developers", env.bob, env.carol)

	env.template, err = r.InsertTemplate(ctx, domain.Template{ProjectID: env.project, Name: "Bugfix", Prefix: "bug"})
	require.NoError(t, err)

	state := func(name string, typ domain.StateType, resp domain.StateResponsible) domain.State {
		s, err := eng.CreateState(ctx, domain.State{TemplateID: env.template, Name: name, Type: typ, Responsible: resp})
		require.NoError(t, err)
		return s
	}
	env.open = state("Open", domain.StateTypeInitial, domain.ResponsibleRemove)
	env.assigned = state("Assigned", domain.StateTypeIntermediate, domain.ResponsibleAssign)
	env.done = state("Done", domain.StateTypeFinal, domain.ResponsibleRemove)

	require.NoError(t, eng.SetTemplateGroupsPermission(ctx, env.template, domain.PermissionViewIssues, []int64{env.reporters, env.developers}))
	require.NoError(t, eng.SetTemplateGroupsPermission(ctx, env.template, domain.PermissionCreateIssues, []int64{env.reporters}))
	require.NoError(t, eng.SetTemplateGroupsPermission(ctx, env.template, domain.PermissionEditIssues, []int64{env.developers}))
	require.NoError(t, eng.SetTemplateGroupsPermission(ctx, env.template, domain.PermissionReassignIssues, []int64{env.developers}))
	for _, perm := range []domain.TemplatePermission{
		domain.PermissionEditIssues,
		domain.PermissionSuspendIssues,
		domain.PermissionResumeIssues,
		domain.PermissionAddDependencies,
		domain.PermissionRemoveDependencies,
	} {
		require.NoError(t, eng.SetTemplateRolesPermission(ctx, env.template, perm, []domain.SystemRole{domain.RoleAuthor}))
	}

	require.NoError(t, eng.SetRolesTransition(ctx, env.open.ID, env.assigned.ID, []domain.SystemRole{domain.RoleAuthor}))
	require.NoError(t, eng.SetRolesTransition(ctx, env.assigned.ID, env.done.ID, []domain.SystemRole{domain.RoleResponsible}))
	require.NoError(t, eng.SetResponsibleGroups(ctx, env.assigned.ID, []int64{env.developers}))

	env.severity, err = eng.CreateField(ctx, domain.Field{StateID: env.open.ID, Name: "Severity", Type: domain.FieldTypeList, Required: true})
	require.NoError(t, err)
	env.low, err = eng.AddListItem(ctx, env.severity.ID, 1, "Low")
	require.NoError(t, err)
	env.high, err = eng.AddListItem(ctx, env.severity.ID, 2, "High")
	require.NoError(t, err)
	env.description, err = eng.CreateField(ctx, domain.Field{StateID: env.open.ID, Name: "Description", Type: domain.FieldTypeText})
	require.NoError(t, err)
	env.effort, err = eng.CreateField(ctx, domain.Field{StateID: env.assigned.ID, Name: "Effort", Type: domain.FieldTypeNumber})
	require.NoError(t, err)
	env.effort, err = eng.UpdateField(ctx, env.effort.ID, func(c fieldtype.Codec) error {
		c.(fieldtype.NumberField).SetMinimum(1)
		c.(fieldtype.NumberField).SetMaximum(100)
		return nil
	})
	require.NoError(t, err)

	author := []domain.SystemRole{domain.RoleAuthor}
	require.NoError(t, eng.SetFieldRolesPermission(ctx, env.severity.ID, domain.FieldPermissionReadWrite, author))
	require.NoError(t, eng.SetFieldGroupsPermission(ctx, env.severity.ID, domain.FieldPermissionRead, []int64{env.developers}))
	require.NoError(t, eng.SetFieldRolesPermission(ctx, env.description.ID, domain.FieldPermissionReadWrite, author))
	require.NoError(t, eng.SetFieldRolesPermission(ctx, env.effort.ID, domain.FieldPermissionRead, author))
	require.NoError(t, eng.SetFieldGroupsPermission(ctx, env.effort.ID, domain.FieldPermissionReadWrite, []int64{env.developers}))
	return env
}

func (env *testEnv) report(t *testing.T, subject string) domain.Issue {
	t.Helper()
	issue, err := env.Engine.CreateIssue(env.Ctx, engine.CreateIssueOptions{
		TemplateID: env.template,
		Subject:    subject,
		Values:     map[int64]any{env.severity.ID: int64(2)},
		ActorID:    env.alice,
	})
	require.NoError(t, err)
	return issue
}

func (env *testEnv) assign(t *testing.T, issue domain.Issue, to int64) domain.Issue {
	t.Helper()
	issue, err := env.Engine.ChangeState(env.Ctx, engine.ChangeStateOptions{
		IssueID: issue.ID, StateID: env.assigned.ID, ResponsibleID: &to, ActorID: env.alice,
	})
	require.NoError(t, err)
	return issue
}

func stateIDs(states []domain.State) []int64 {
	var ids []int64
	for _, s := range states {
		ids = append(ids, s.ID)
	}
	return ids
}

func TestCreateIssue(t *testing.T) {
	env := newTestEnv(t)
	issue := env.report(t, "  Crash on start  ")
	assert.Equal(t, "Crash on start", issue.Subject)
	assert.Equal(t, env.open.ID, issue.StateID)
	assert.Equal(t, env.alice, issue.AuthorID)
	assert.Nil(t, issue.ResponsibleID)
	assert.Equal(t, fixedNow.Unix(), issue.CreatedAt)

	views, err := env.Engine.FieldValues(env.Ctx, issue.ID, env.alice)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "Severity", views[0].Field.Name)
	assert.Equal(t, env.high, views[0].Value)
	assert.False(t, views[0].ReadOnly)
	assert.Equal(t, "Description", views[1].Field.Name)
	assert.Nil(t, views[1].Value)

	evs, err := env.Engine.Repo.Events(env.Ctx, issue.ID)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.EventIssueCreated, evs[0].Type)
}

func TestCreateIssueReportsViolations(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateIssue(env.Ctx, engine.CreateIssueOptions{TemplateID: env.template, Subject: " ", ActorID: env.alice})
	var violations validate.Violations
	require.ErrorAs(t, err, &violations)
	assert.Equal(t, validate.Violations{
		{Field: "subject", Message: "This value should not be blank."},
		{Field: "Severity", Message: "This value should not be blank."},
	}, violations)
}

func TestCreateIssueRequiresPermission(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateIssue(env.Ctx, engine.CreateIssueOptions{TemplateID: env.template, Subject: "Spam", ActorID: env.dave})
	var forbidden auth.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, string(domain.PermissionCreateIssues), forbidden.Permission)
}

func TestWorkflow(t *testing.T) {
	env := newTestEnv(t)
	issue := env.report(t, "Crash")

	states, err := env.Engine.Transitions(env.Ctx, issue.ID, env.alice)
	require.NoError(t, err)
	assert.Equal(t, []int64{env.assigned.ID}, stateIDs(states))
	states, err = env.Engine.Transitions(env.Ctx, issue.ID, env.bob)
	require.NoError(t, err)
	assert.Empty(t, states)

	var invariant domain.InvariantError
	_, err = env.Engine.ChangeState(env.Ctx, engine.ChangeStateOptions{IssueID: issue.ID, StateID: env.assigned.ID, ActorID: env.alice})
	assert.ErrorAs(t, err, &invariant)
	_, err = env.Engine.ChangeState(env.Ctx, engine.ChangeStateOptions{IssueID: issue.ID, StateID: env.assigned.ID, ResponsibleID: &env.dave, ActorID: env.alice})
	assert.ErrorAs(t, err, &invariant)
	var forbidden auth.ForbiddenError
	_, err = env.Engine.ChangeState(env.Ctx, engine.ChangeStateOptions{IssueID: issue.ID, StateID: env.done.ID, ActorID: env.alice})
	assert.ErrorAs(t, err, &forbidden)

	issue = env.assign(t, issue, env.bob)
	require.NotNil(t, issue.ResponsibleID)
	assert.Equal(t, env.bob, *issue.ResponsibleID)

	states, err = env.Engine.Transitions(env.Ctx, issue.ID, env.bob)
	require.NoError(t, err)
	assert.Equal(t, []int64{env.done.ID}, stateIDs(states))

	_, err = env.Engine.UpdateIssue(env.Ctx, engine.UpdateIssueOptions{IssueID: issue.ID, Values: map[int64]any{env.effort.ID: int64(5)}, ActorID: env.bob})
	require.NoError(t, err)

	issue, err = env.Engine.ChangeState(env.Ctx, engine.ChangeStateOptions{IssueID: issue.ID, StateID: env.done.ID, ActorID: env.bob})
	require.NoError(t, err)
	assert.Equal(t, env.done.ID, issue.StateID)
	assert.Nil(t, issue.ResponsibleID)
	require.NotNil(t, issue.ClosedAt)

	states, err = env.Engine.Transitions(env.Ctx, issue.ID, env.alice)
	require.NoError(t, err)
	assert.Empty(t, states)

	evs, err := env.Engine.Repo.Events(env.Ctx, issue.ID)
	require.NoError(t, err)
	var types []domain.EventType
	for _, ev := range evs {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []domain.EventType{
		domain.EventIssueCreated,
		domain.EventStateChanged,
		domain.EventIssueAssigned,
		domain.EventIssueEdited,
		domain.EventIssueClosed,
	}, types)
}

func TestChangesHideUnreadableFields(t *testing.T) {
	env := newTestEnv(t)
	issue := env.report(t, "Crash")
	subject := "Crash on save"
	_, err := env.Engine.UpdateIssue(env.Ctx, engine.UpdateIssueOptions{
		IssueID: issue.ID,
		Subject: &subject,
		Values:  map[int64]any{env.severity.ID: int64(1), env.description.ID: "Steps to reproduce"},
		ActorID: env.alice,
	})
	require.NoError(t, err)

	changes, err := env.Engine.Changes(env.Ctx, issue.ID, env.alice)
	require.NoError(t, err)
	require.Len(t, changes, 3)
	assert.Nil(t, changes[0].Field)
	assert.Equal(t, "Crash", changes[0].OldValue)
	assert.Equal(t, "Crash on save", changes[0].NewValue)
	assert.Equal(t, "Severity", changes[1].Field.Name)
	assert.Equal(t, env.high, changes[1].OldValue)
	assert.Equal(t, env.low, changes[1].NewValue)
	assert.Equal(t, "Description", changes[2].Field.Name)
	assert.Nil(t, changes[2].OldValue)
	assert.Equal(t, "Steps to reproduce", changes[2].NewValue)

	changes, err = env.Engine.Changes(env.Ctx, issue.ID, env.bob)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Nil(t, changes[0].Field)
	assert.Equal(t, "Severity", changes[1].Field.Name)

	views, err := env.Engine.FieldValues(env.Ctx, issue.ID, env.bob)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, env.low, views[0].Value)
	assert.True(t, views[0].ReadOnly)
}

func TestUpdateIgnoresReadOnlyFields(t *testing.T) {
	env := newTestEnv(t)
	issue := env.assign(t, env.report(t, "Crash"), env.bob)
	_, err := env.Engine.UpdateIssue(env.Ctx, engine.UpdateIssueOptions{
		IssueID: issue.ID,
		Values:  map[int64]any{env.effort.ID: int64(3), env.severity.ID: int64(1)},
		ActorID: env.bob,
	})
	require.NoError(t, err)

	views, err := env.Engine.FieldValues(env.Ctx, issue.ID, env.alice)
	require.NoError(t, err)
	got := map[string]any{}
	for _, v := range views {
		got[v.Field.Name] = v.Value
	}
	assert.Equal(t, env.high, got["Severity"])
	assert.Equal(t, int64(3), got["Effort"])

	_, err = env.Engine.UpdateIssue(env.Ctx, engine.UpdateIssueOptions{
		IssueID: issue.ID, Values: map[int64]any{env.effort.ID: int64(0)}, ActorID: env.bob,
	})
	var violations validate.Violations
	require.ErrorAs(t, err, &violations)
	assert.Equal(t, "Effort", violations[0].Field)
}

func TestReassign(t *testing.T) {
	env := newTestEnv(t)
	issue := env.assign(t, env.report(t, "Crash"), env.bob)

	users, err := env.Engine.Responsibles(env.Ctx, issue.ID, env.assigned.ID, env.bob, true)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, env.carol, users[0].ID)

	var invariant domain.InvariantError
	_, err = env.Engine.Reassign(env.Ctx, issue.ID, env.dave, env.bob)
	assert.ErrorAs(t, err, &invariant)

	issue, err = env.Engine.Reassign(env.Ctx, issue.ID, env.carol, env.bob)
	require.NoError(t, err)
	assert.Equal(t, env.carol, *issue.ResponsibleID)

	var forbidden auth.ForbiddenError
	_, err = env.Engine.Reassign(env.Ctx, issue.ID, env.bob, env.alice)
	assert.ErrorAs(t, err, &forbidden)
}

func TestSuspendAndResume(t *testing.T) {
	env := newTestEnv(t)
	issue := env.report(t, "Crash")

	issue, err := env.Engine.Suspend(env.Ctx, issue.ID, fixedNow.Add(24*time.Hour), env.alice)
	require.NoError(t, err)
	assert.True(t, issue.IsSuspended(fixedNow.Unix()))

	states, err := env.Engine.Transitions(env.Ctx, issue.ID, env.alice)
	require.NoError(t, err)
	assert.Empty(t, states)

	var invariant domain.InvariantError
	_, err = env.Engine.UpdateIssue(env.Ctx, engine.UpdateIssueOptions{IssueID: issue.ID, Values: map[int64]any{env.severity.ID: int64(1)}, ActorID: env.alice})
	assert.ErrorAs(t, err, &invariant)
	_, err = env.Engine.Suspend(env.Ctx, issue.ID, fixedNow.Add(-time.Hour), env.alice)
	assert.ErrorAs(t, err, &invariant)

	issue, err = env.Engine.Resume(env.Ctx, issue.ID, env.alice)
	require.NoError(t, err)
	assert.Nil(t, issue.ResumesAt)
	_, err = env.Engine.Resume(env.Ctx, issue.ID, env.alice)
	assert.ErrorAs(t, err, &invariant)
}

func TestOpenDependencyBlocksFinalState(t *testing.T) {
	env := newTestEnv(t)
	issue := env.assign(t, env.report(t, "Crash"), env.bob)
	blocker := env.report(t, "Root cause")

	require.NoError(t, env.Engine.AddDependency(env.Ctx, issue.ID, blocker.ID, env.alice))
	states, err := env.Engine.Transitions(env.Ctx, issue.ID, env.bob)
	require.NoError(t, err)
	assert.Empty(t, states)

	require.NoError(t, env.Engine.RemoveDependency(env.Ctx, issue.ID, blocker.ID, env.alice))
	states, err = env.Engine.Transitions(env.Ctx, issue.ID, env.bob)
	require.NoError(t, err)
	assert.Equal(t, []int64{env.done.ID}, stateIDs(states))

	var invariant domain.InvariantError
	assert.ErrorAs(t, env.Engine.AddDependency(env.Ctx, issue.ID, issue.ID, env.alice), &invariant)
	assert.ErrorIs(t, env.Engine.AddDependency(env.Ctx, issue.ID, 9999, env.alice), repo.ErrNotFound)
	assert.ErrorIs(t, env.Engine.RemoveDependency(env.Ctx, issue.ID, blocker.ID, env.alice), repo.ErrNotFound)
}

func TestDisabledUser(t *testing.T) {
	env := newTestEnv(t)
	issue := env.report(t, "Crash")
	require.NoError(t, env.Engine.SetUserDisabled(env.Ctx, env.bob, true))

	users, err := env.Engine.Responsibles(env.Ctx, issue.ID, env.assigned.ID, env.alice, false)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, env.carol, users[0].ID)

	var forbidden auth.ForbiddenError
	_, err = env.Engine.Transitions(env.Ctx, issue.ID, env.bob)
	assert.ErrorAs(t, err, &forbidden)
}

func TestIssueNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Issue(env.Ctx, 9999, env.alice)
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}

func TestUnresolvedReferencesAreRejected(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateIssue(env.Ctx, engine.CreateIssueOptions{
		TemplateID: env.template,
		Subject:    "Crash",
		Values:     map[int64]any{env.severity.ID: int64(99)},
		ActorID:    env.alice,
	})
	assert.ErrorIs(t, err, fieldtype.ErrNotFound)
	_, err = env.Engine.Repo.Issue(env.Ctx, 1)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	duplicate, err := env.Engine.CreateField(env.Ctx, domain.Field{StateID: env.open.ID, Name: "Duplicate of", Type: domain.FieldTypeIssue})
	require.NoError(t, err)
	require.NoError(t, env.Engine.SetFieldRolesPermission(env.Ctx, duplicate.ID, domain.FieldPermissionReadWrite, []domain.SystemRole{domain.RoleAuthor}))

	issue := env.report(t, "Crash")
	_, err = env.Engine.UpdateIssue(env.Ctx, engine.UpdateIssueOptions{
		IssueID: issue.ID,
		Values:  map[int64]any{duplicate.ID: int64(9999), env.severity.ID: int64(1)},
		ActorID: env.alice,
	})
	assert.ErrorIs(t, err, fieldtype.ErrNotFound)

	views, err := env.Engine.FieldValues(env.Ctx, issue.ID, env.alice)
	require.NoError(t, err)
	got := map[string]any{}
	for _, v := range views {
		got[v.Field.Name] = v.Value
	}
	assert.Equal(t, env.high, got["Severity"])
	assert.Nil(t, got["Duplicate of"])

	evs, err := env.Engine.Repo.Events(env.Ctx, issue.ID)
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}

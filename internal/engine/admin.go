package engine

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"etraxis/internal/domain"
	"etraxis/internal/engine/workflow"
	"etraxis/internal/fieldtype"
	"etraxis/internal/repo"
)

// CreateState adds a state to a template. A new initial state demotes the
// previous one.
func (e Engine) CreateState(ctx context.Context, s domain.State) (state domain.State, err error) {
	ctx, done := e.span(ctx, "state.create", "template", s.TemplateID)
	defer func() { done(err) }()

	err = e.inTx(ctx, func(_ *sql.Tx, r repo.Repo) error {
		if _, err := r.Template(ctx, s.TemplateID); err != nil {
			return err
		}
		initial := s.Type == domain.StateTypeInitial
		if initial {
			s.Type = domain.StateTypeIntermediate
		}
		id, err := r.InsertState(ctx, s)
		if err != nil {
			return fmt.Errorf("insert state: %w", err)
		}
		if initial {
			if err := setInitial(ctx, r, s.TemplateID, id); err != nil {
				return err
			}
		}
		state, err = r.State(ctx, id)
		return err
	})
	return state, err
}

// SetInitialState makes the state the only initial state of its template.
func (e Engine) SetInitialState(ctx context.Context, stateID int64) (err error) {
	ctx, done := e.span(ctx, "state.set_initial", "state", stateID)
	defer func() { done(err) }()

	return e.inTx(ctx, func(_ *sql.Tx, r repo.Repo) error {
		st, err := r.State(ctx, stateID)
		if err != nil {
			return err
		}
		return setInitial(ctx, r, st.TemplateID, st.ID)
	})
}

func setInitial(ctx context.Context, r repo.Repo, templateID, stateID int64) error {
	states, err := r.States(ctx, templateID)
	if err != nil {
		return err
	}
	changed, err := workflow.SetInitial(states, stateID)
	if err != nil {
		return err
	}
	for _, s := range changed {
		if err := r.UpdateStateType(ctx, s.ID, s.Type); err != nil {
			return err
		}
	}
	return nil
}

// SetFieldRolesPermission replaces which system roles hold perm on the field.
func (e Engine) SetFieldRolesPermission(ctx context.Context, fieldID int64, perm domain.FieldPermission, roles []domain.SystemRole) (err error) {
	ctx, done := e.span(ctx, "field.set_roles_permission", "field", fieldID)
	defer func() { done(err) }()

	return e.inTx(ctx, func(_ *sql.Tx, r repo.Repo) error {
		if _, err := r.Field(ctx, fieldID); err != nil {
			return err
		}
		return r.SetFieldRolesPermission(ctx, fieldID, perm, roles)
	})
}

// SetFieldGroupsPermission replaces which groups hold perm on the field.
func (e Engine) SetFieldGroupsPermission(ctx context.Context, fieldID int64, perm domain.FieldPermission, groups []int64) (err error) {
	ctx, done := e.span(ctx, "field.set_groups_permission", "field", fieldID)
	defer func() { done(err) }()

	return e.inTx(ctx, func(_ *sql.Tx, r repo.Repo) error {
		f, err := r.Field(ctx, fieldID)
		if err != nil {
			return err
		}
		st, err := r.State(ctx, f.StateID)
		if err != nil {
			return err
		}
		if err := checkGroups(ctx, r, "field.set_groups_permission", st.TemplateID, groups); err != nil {
			return err
		}
		return r.SetFieldGroupsPermission(ctx, fieldID, perm, groups)
	})
}

func (e Engine) SetTemplateRolesPermission(ctx context.Context, templateID int64, perm domain.TemplatePermission, roles []domain.SystemRole) (err error) {
	ctx, done := e.span(ctx, "template.set_roles_permission", "template", templateID)
	defer func() { done(err) }()

	return e.inTx(ctx, func(_ *sql.Tx, r repo.Repo) error {
		if _, err := r.Template(ctx, templateID); err != nil {
			return err
		}
		return r.SetTemplateRolesPermission(ctx, templateID, perm, roles)
	})
}

func (e Engine) SetTemplateGroupsPermission(ctx context.Context, templateID int64, perm domain.TemplatePermission, groups []int64) (err error) {
	ctx, done := e.span(ctx, "template.set_groups_permission", "template", templateID)
	defer func() { done(err) }()

	return e.inTx(ctx, func(_ *sql.Tx, r repo.Repo) error {
		if _, err := r.Template(ctx, templateID); err != nil {
			return err
		}
		if err := checkGroups(ctx, r, "template.set_groups_permission", templateID, groups); err != nil {
			return err
		}
		return r.SetTemplateGroupsPermission(ctx, templateID, perm, groups)
	})
}

// SetRolesTransition replaces which system roles may move issues from one
// state to another.
func (e Engine) SetRolesTransition(ctx context.Context, fromID, toID int64, roles []domain.SystemRole) (err error) {
	ctx, done := e.span(ctx, "state.set_roles_transition", "from", fromID, "to", toID)
	defer func() { done(err) }()

	return e.inTx(ctx, func(_ *sql.Tx, r repo.Repo) error {
		if _, err := transition(ctx, r, fromID, toID); err != nil {
			return err
		}
		return r.SetRolesTransition(ctx, fromID, toID, roles)
	})
}

func (e Engine) SetGroupsTransition(ctx context.Context, fromID, toID int64, groups []int64) (err error) {
	ctx, done := e.span(ctx, "state.set_groups_transition", "from", fromID, "to", toID)
	defer func() { done(err) }()

	return e.inTx(ctx, func(_ *sql.Tx, r repo.Repo) error {
		from, err := transition(ctx, r, fromID, toID)
		if err != nil {
			return err
		}
		if err := checkGroups(ctx, r, "state.set_groups_transition", from.TemplateID, groups); err != nil {
			return err
		}
		return r.SetGroupsTransition(ctx, fromID, toID, groups)
	})
}

func transition(ctx context.Context, r repo.Repo, fromID, toID int64) (domain.State, error) {
	from, err := r.State(ctx, fromID)
	if err != nil {
		return from, err
	}
	to, err := r.State(ctx, toID)
	if err != nil {
		return from, err
	}
	return from, workflow.CheckTransition(from, to)
}

// SetResponsibleGroups replaces the groups whose members may become
// responsible in the state.
func (e Engine) SetResponsibleGroups(ctx context.Context, stateID int64, groups []int64) (err error) {
	ctx, done := e.span(ctx, "state.set_responsible_groups", "state", stateID)
	defer func() { done(err) }()

	return e.inTx(ctx, func(_ *sql.Tx, r repo.Repo) error {
		st, err := r.State(ctx, stateID)
		if err != nil {
			return err
		}
		if st.Responsible != domain.ResponsibleAssign && len(groups) > 0 {
			return domain.InvariantError{Op: "state.set_responsible_groups", Reason: fmt.Sprintf("state %q does not assign a responsible", st.Name)}
		}
		if err := checkGroups(ctx, r, "state.set_responsible_groups", st.TemplateID, groups); err != nil {
			return err
		}
		return r.SetResponsibleGroups(ctx, stateID, groups)
	})
}

// checkGroups requires every group to be global or local to the template's project.
func checkGroups(ctx context.Context, r repo.Repo, op string, templateID int64, groups []int64) error {
	if len(groups) == 0 {
		return nil
	}
	tpl, err := r.Template(ctx, templateID)
	if err != nil {
		return err
	}
	for _, id := range groups {
		g, err := r.Group(ctx, id)
		if err != nil {
			return fmt.Errorf("group %d: %w", id, err)
		}
		if g.ProjectID != nil && *g.ProjectID != tpl.ProjectID {
			return domain.InvariantError{Op: op, Reason: fmt.Sprintf("group %d belongs to another project", id)}
		}
	}
	return nil
}

// CreateField appends a field to the state's field list.
func (e Engine) CreateField(ctx context.Context, f domain.Field) (field domain.Field, err error) {
	ctx, done := e.span(ctx, "field.create", "state", f.StateID)
	defer func() { done(err) }()

	err = e.inTx(ctx, func(_ *sql.Tx, r repo.Repo) error {
		if _, err := r.State(ctx, f.StateID); err != nil {
			return err
		}
		if _, err := fieldtype.New(&f, fieldtype.Deps{}); err != nil {
			return domain.InvariantError{Op: "field.create", Reason: err.Error()}
		}
		existing, err := r.Fields(ctx, f.StateID)
		if err != nil {
			return err
		}
		f.Position = len(existing) + 1
		if f.ID, err = r.InsertField(ctx, f); err != nil {
			return fmt.Errorf("insert field: %w", err)
		}
		field = f
		return nil
	})
	return field, err
}

// DeleteField removes the field from its state; its values and history stay.
func (e Engine) DeleteField(ctx context.Context, fieldID int64) (err error) {
	ctx, done := e.span(ctx, "field.delete", "field", fieldID)
	defer func() { done(err) }()

	return e.inTx(ctx, func(_ *sql.Tx, r repo.Repo) error {
		f, err := r.Field(ctx, fieldID)
		if err != nil {
			return err
		}
		if err := r.RemoveField(ctx, f.ID, e.now().Unix()); err != nil {
			return err
		}
		rest, err := r.Fields(ctx, f.StateID)
		if err != nil {
			return err
		}
		return renumber(ctx, r, rest)
	})
}

// SetFieldPosition moves the field within its state. Positions out of range
// are clamped; the state's positions stay 1..N.
func (e Engine) SetFieldPosition(ctx context.Context, fieldID int64, position int) (err error) {
	ctx, done := e.span(ctx, "field.set_position", "field", fieldID)
	defer func() { done(err) }()

	return e.inTx(ctx, func(_ *sql.Tx, r repo.Repo) error {
		f, err := r.Field(ctx, fieldID)
		if err != nil {
			return err
		}
		if f.RemovedAt != nil {
			return fmt.Errorf("field %d: %w", fieldID, repo.ErrNotFound)
		}
		fields, err := r.Fields(ctx, f.StateID)
		if err != nil {
			return err
		}
		i := slices.IndexFunc(fields, func(x domain.Field) bool { return x.ID == f.ID })
		fields = slices.Delete(fields, i, i+1)
		position = min(max(position, 1), len(fields)+1)
		fields = slices.Insert(fields, position-1, f)
		return renumber(ctx, r, fields)
	})
}

func renumber(ctx context.Context, r repo.Repo, fields []domain.Field) error {
	for i, f := range fields {
		if f.Position == i+1 {
			continue
		}
		if err := r.UpdateFieldPosition(ctx, f.ID, i+1); err != nil {
			return err
		}
	}
	return nil
}

// UpdateField changes a field's parameters through its codec, e.g.
//
//	e.UpdateField(ctx, id, func(c fieldtype.Codec) error {
//		c.(fieldtype.NumberField).SetMaximum(100)
//		return nil
//	})
//
// Setters clamp out-of-range values.
func (e Engine) UpdateField(ctx context.Context, fieldID int64, update func(c fieldtype.Codec) error) (field domain.Field, err error) {
	ctx, done := e.span(ctx, "field.update", "field", fieldID)
	defer func() { done(err) }()

	err = e.inTx(ctx, func(_ *sql.Tx, r repo.Repo) error {
		f, err := r.Field(ctx, fieldID)
		if err != nil {
			return err
		}
		c, err := fieldtype.New(&f, fieldtype.Deps{Values: r, Lists: r, Issues: r, Location: e.config().Location(), Now: e.Now})
		if err != nil {
			return err
		}
		if err := update(c); err != nil {
			return err
		}
		if err := r.UpdateField(ctx, f); err != nil {
			return err
		}
		field = f
		return nil
	})
	return field, err
}

// AddListItem adds a choice to a list field.
func (e Engine) AddListItem(ctx context.Context, fieldID, value int64, text string) (item domain.ListItem, err error) {
	ctx, done := e.span(ctx, "field.add_list_item", "field", fieldID)
	defer func() { done(err) }()

	err = e.inTx(ctx, func(_ *sql.Tx, r repo.Repo) error {
		f, err := r.Field(ctx, fieldID)
		if err != nil {
			return err
		}
		if f.Type != domain.FieldTypeList {
			return domain.InvariantError{Op: "field.add_list_item", Reason: fmt.Sprintf("field %q is not a list", f.Name)}
		}
		if value <= 0 {
			return domain.InvariantError{Op: "field.add_list_item", Reason: "list item values must be positive"}
		}
		item = domain.ListItem{FieldID: f.ID, Value: value, Text: text}
		item.ID, err = r.InsertListItem(ctx, item)
		return err
	})
	return item, err
}

// SetUserDisabled enables or disables an account. Disabled users can neither
// act nor become responsible.
func (e Engine) SetUserDisabled(ctx context.Context, userID int64, disabled bool) (err error) {
	ctx, done := e.span(ctx, "user.set_disabled", "user", userID)
	defer func() { done(err) }()

	if err = e.Repo.SetUserDisabled(ctx, userID, disabled); err != nil {
		return err
	}
	if e.users != nil {
		e.users.Invalidate(userID)
	}
	return nil
}

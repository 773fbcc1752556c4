package repo

import (
	"context"

	"etraxis/internal/domain"
	"etraxis/internal/engine/auth"
	"etraxis/internal/engine/workflow"
)

// SetFieldRolesPermission makes perm the permission of exactly the listed
// roles among those currently holding perm. A listed role that holds another
// permission is switched over; no role ever has two grants on one field.
// FieldPermissionNone revokes whatever the listed roles hold.
func (r Repo) SetFieldRolesPermission(ctx context.Context, fieldID int64, perm domain.FieldPermission, roles []domain.SystemRole) error {
	if perm == domain.FieldPermissionNone {
		if len(roles) == 0 {
			return nil
		}
		args := []any{fieldID}
		for _, role := range roles {
			args = append(args, role)
		}
		_, err := r.q().ExecContext(ctx, `DELETE FROM field_role_permissions WHERE field_id=? AND role IN (`+placeholders(len(roles))+`)`, args...)
		return err
	}
	args := []any{fieldID, perm.String()}
	query := `DELETE FROM field_role_permissions WHERE field_id=? AND permission=?`
	if len(roles) > 0 {
		query += ` AND role NOT IN (` + placeholders(len(roles)) + `)`
		for _, role := range roles {
			args = append(args, role)
		}
	}
	if _, err := r.q().ExecContext(ctx, query, args...); err != nil {
		return err
	}
	for _, role := range roles {
		if _, err := r.q().ExecContext(ctx, `INSERT INTO field_role_permissions(field_id,role,permission) VALUES (?,?,?)
ON CONFLICT(field_id,role) DO UPDATE SET permission=excluded.permission`, fieldID, role, perm.String()); err != nil {
			return err
		}
	}
	return nil
}

// SetFieldGroupsPermission is SetFieldRolesPermission for groups.
func (r Repo) SetFieldGroupsPermission(ctx context.Context, fieldID int64, perm domain.FieldPermission, groups []int64) error {
	if perm == domain.FieldPermissionNone {
		if len(groups) == 0 {
			return nil
		}
		args := []any{fieldID}
		for _, g := range groups {
			args = append(args, g)
		}
		_, err := r.q().ExecContext(ctx, `DELETE FROM field_group_permissions WHERE field_id=? AND group_id IN (`+placeholders(len(groups))+`)`, args...)
		return err
	}
	args := []any{fieldID, perm.String()}
	query := `DELETE FROM field_group_permissions WHERE field_id=? AND permission=?`
	if len(groups) > 0 {
		query += ` AND group_id NOT IN (` + placeholders(len(groups)) + `)`
		for _, g := range groups {
			args = append(args, g)
		}
	}
	if _, err := r.q().ExecContext(ctx, query, args...); err != nil {
		return err
	}
	for _, g := range groups {
		if _, err := r.q().ExecContext(ctx, `INSERT INTO field_group_permissions(field_id,group_id,permission) VALUES (?,?,?)
ON CONFLICT(field_id,group_id) DO UPDATE SET permission=excluded.permission`, fieldID, g, perm.String()); err != nil {
			return err
		}
	}
	return nil
}

// FieldGrants implements auth.GrantSource.
func (r Repo) FieldGrants(ctx context.Context, fieldID int64) (auth.FieldGrants, error) {
	var g auth.FieldGrants
	rows, err := r.q().QueryContext(ctx, `SELECT role,permission FROM field_role_permissions WHERE field_id=? ORDER BY role`, fieldID)
	if err != nil {
		return g, err
	}
	defer rows.Close()
	for rows.Next() {
		grant := domain.FieldRolePermission{FieldID: fieldID}
		var perm string
		if err := rows.Scan(&grant.Role, &perm); err != nil {
			return g, err
		}
		if grant.Permission, err = domain.ParseFieldPermission(perm); err != nil {
			return g, err
		}
		g.Roles = append(g.Roles, grant)
	}
	if err := rows.Err(); err != nil {
		return g, err
	}

	groupRows, err := r.q().QueryContext(ctx, `SELECT group_id,permission FROM field_group_permissions WHERE field_id=? ORDER BY group_id`, fieldID)
	if err != nil {
		return g, err
	}
	defer groupRows.Close()
	for groupRows.Next() {
		grant := domain.FieldGroupPermission{FieldID: fieldID}
		var perm string
		if err := groupRows.Scan(&grant.GroupID, &perm); err != nil {
			return g, err
		}
		if grant.Permission, err = domain.ParseFieldPermission(perm); err != nil {
			return g, err
		}
		g.Groups = append(g.Groups, grant)
	}
	return g, groupRows.Err()
}

// SetTemplateRolesPermission grants perm to exactly the listed roles.
func (r Repo) SetTemplateRolesPermission(ctx context.Context, templateID int64, perm domain.TemplatePermission, roles []domain.SystemRole) error {
	if _, err := r.q().ExecContext(ctx, `DELETE FROM template_role_permissions WHERE template_id=? AND permission=?`, templateID, perm); err != nil {
		return err
	}
	for _, role := range roles {
		if _, err := r.q().ExecContext(ctx, `INSERT OR IGNORE INTO template_role_permissions(template_id,role,permission) VALUES (?,?,?)`,
			templateID, role, perm); err != nil {
			return err
		}
	}
	return nil
}

// SetTemplateGroupsPermission grants perm to exactly the listed groups.
func (r Repo) SetTemplateGroupsPermission(ctx context.Context, templateID int64, perm domain.TemplatePermission, groups []int64) error {
	if _, err := r.q().ExecContext(ctx, `DELETE FROM template_group_permissions WHERE template_id=? AND permission=?`, templateID, perm); err != nil {
		return err
	}
	for _, g := range groups {
		if _, err := r.q().ExecContext(ctx, `INSERT OR IGNORE INTO template_group_permissions(template_id,group_id,permission) VALUES (?,?,?)`,
			templateID, g, perm); err != nil {
			return err
		}
	}
	return nil
}

// TemplateGrants implements auth.GrantSource.
func (r Repo) TemplateGrants(ctx context.Context, templateID int64) (auth.TemplateGrants, error) {
	var g auth.TemplateGrants
	rows, err := r.q().QueryContext(ctx, `SELECT role,permission FROM template_role_permissions WHERE template_id=? ORDER BY role,permission`, templateID)
	if err != nil {
		return g, err
	}
	defer rows.Close()
	for rows.Next() {
		grant := domain.TemplateRolePermission{TemplateID: templateID}
		if err := rows.Scan(&grant.Role, &grant.Permission); err != nil {
			return g, err
		}
		g.Roles = append(g.Roles, grant)
	}
	if err := rows.Err(); err != nil {
		return g, err
	}

	groupRows, err := r.q().QueryContext(ctx, `SELECT group_id,permission FROM template_group_permissions WHERE template_id=? ORDER BY group_id,permission`, templateID)
	if err != nil {
		return g, err
	}
	defer groupRows.Close()
	for groupRows.Next() {
		grant := domain.TemplateGroupPermission{TemplateID: templateID}
		if err := groupRows.Scan(&grant.GroupID, &grant.Permission); err != nil {
			return g, err
		}
		g.Groups = append(g.Groups, grant)
	}
	return g, groupRows.Err()
}

// SetRolesTransition allows exactly the listed roles to move issues from one
// state to the other.
func (r Repo) SetRolesTransition(ctx context.Context, fromID, toID int64, roles []domain.SystemRole) error {
	if _, err := r.q().ExecContext(ctx, `DELETE FROM state_role_transitions WHERE from_state_id=? AND to_state_id=?`, fromID, toID); err != nil {
		return err
	}
	for _, role := range roles {
		if _, err := r.q().ExecContext(ctx, `INSERT OR IGNORE INTO state_role_transitions(from_state_id,to_state_id,role) VALUES (?,?,?)`,
			fromID, toID, role); err != nil {
			return err
		}
	}
	return nil
}

// SetGroupsTransition allows exactly the listed groups to move issues from
// one state to the other.
func (r Repo) SetGroupsTransition(ctx context.Context, fromID, toID int64, groups []int64) error {
	if _, err := r.q().ExecContext(ctx, `DELETE FROM state_group_transitions WHERE from_state_id=? AND to_state_id=?`, fromID, toID); err != nil {
		return err
	}
	for _, g := range groups {
		if _, err := r.q().ExecContext(ctx, `INSERT OR IGNORE INTO state_group_transitions(from_state_id,to_state_id,group_id) VALUES (?,?,?)`,
			fromID, toID, g); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) SetResponsibleGroups(ctx context.Context, stateID int64, groups []int64) error {
	if _, err := r.q().ExecContext(ctx, `DELETE FROM state_responsible_groups WHERE state_id=?`, stateID); err != nil {
		return err
	}
	for _, g := range groups {
		if _, err := r.q().ExecContext(ctx, `INSERT OR IGNORE INTO state_responsible_groups(state_id,group_id) VALUES (?,?)`, stateID, g); err != nil {
			return err
		}
	}
	return nil
}

// TransitionSnapshot implements workflow.Source.
func (r Repo) TransitionSnapshot(ctx context.Context, issue domain.Issue) (workflow.TransitionSnapshot, error) {
	s := workflow.TransitionSnapshot{Issue: issue}
	var err error
	if s.Template, err = r.Template(ctx, issue.TemplateID); err != nil {
		return s, err
	}
	if s.States, err = r.States(ctx, issue.TemplateID); err != nil {
		return s, err
	}

	rows, err := r.q().QueryContext(ctx, `SELECT to_state_id,role FROM state_role_transitions WHERE from_state_id=?`, issue.StateID)
	if err != nil {
		return s, err
	}
	defer rows.Close()
	for rows.Next() {
		t := domain.StateRoleTransition{FromStateID: issue.StateID}
		if err := rows.Scan(&t.ToStateID, &t.Role); err != nil {
			return s, err
		}
		s.Roles = append(s.Roles, t)
	}
	if err := rows.Err(); err != nil {
		return s, err
	}

	groupRows, err := r.q().QueryContext(ctx, `SELECT to_state_id,group_id FROM state_group_transitions WHERE from_state_id=?`, issue.StateID)
	if err != nil {
		return s, err
	}
	defer groupRows.Close()
	for groupRows.Next() {
		t := domain.StateGroupTransition{FromStateID: issue.StateID}
		if err := groupRows.Scan(&t.ToStateID, &t.GroupID); err != nil {
			return s, err
		}
		s.Groups = append(s.Groups, t)
	}
	if err := groupRows.Err(); err != nil {
		return s, err
	}

	s.OpenDependencies, err = r.HasOpenDependencies(ctx, issue.ID)
	return s, err
}

// ResponsibleSnapshot implements workflow.Source.
func (r Repo) ResponsibleSnapshot(ctx context.Context, stateID int64) (workflow.ResponsibleSnapshot, error) {
	s := workflow.ResponsibleSnapshot{Members: map[int64][]domain.User{}}
	groups, err := collectInt64(r.q().QueryContext(ctx, `SELECT group_id FROM state_responsible_groups WHERE state_id=? ORDER BY group_id`, stateID))
	if err != nil {
		return s, err
	}
	for _, g := range groups {
		s.Groups = append(s.Groups, domain.StateResponsibleGroup{StateID: stateID, GroupID: g})
	}

	rows, err := r.q().QueryContext(ctx, `SELECT m.group_id,u.id,u.email,u.fullname,u.locale,u.timezone,u.disabled
FROM memberships m JOIN users u ON u.id=m.user_id
WHERE m.group_id IN (SELECT group_id FROM state_responsible_groups WHERE state_id=?)`, stateID)
	if err != nil {
		return s, err
	}
	defer rows.Close()
	for rows.Next() {
		var groupID int64
		var u domain.User
		if err := rows.Scan(&groupID, &u.ID, &u.Email, &u.Fullname, &u.Locale, &u.Timezone, &u.Disabled); err != nil {
			return s, err
		}
		s.Members[groupID] = append(s.Members[groupID], u)
	}
	return s, rows.Err()
}

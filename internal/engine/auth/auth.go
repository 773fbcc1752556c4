// Package auth resolves field and template permissions of a principal from
// role and group grants. The most permissive matching grant wins.
package auth

import (
	"context"
	"fmt"
	"slices"

	"etraxis/internal/domain"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// FieldGrants is a point-in-time snapshot of the grants of one field.
type FieldGrants struct {
	Roles  []domain.FieldRolePermission
	Groups []domain.FieldGroupPermission
}

// TemplateGrants is a point-in-time snapshot of the grants of one template.
type TemplateGrants struct {
	Roles  []domain.TemplateRolePermission
	Groups []domain.TemplateGroupPermission
}

// ResolveField returns the strongest permission any of the principal's roles
// or groups is granted. No matching grant means FieldPermissionNone.
func ResolveField(p domain.Principal, g FieldGrants) domain.FieldPermission {
	res := domain.FieldPermissionNone
	for _, grant := range g.Roles {
		if p.HasRole(grant.Role) {
			res = max(res, grant.Permission)
		}
	}
	for _, grant := range g.Groups {
		if p.InGroup(grant.GroupID) {
			res = max(res, grant.Permission)
		}
	}
	return res
}

// TemplatePermissionSet is the set of template permissions a principal holds.
type TemplatePermissionSet map[domain.TemplatePermission]struct{}

func (s TemplatePermissionSet) Can(perm domain.TemplatePermission) bool {
	_, ok := s[perm]
	return ok
}

// Sorted returns the permissions in their canonical order.
func (s TemplatePermissionSet) Sorted() []domain.TemplatePermission {
	res := make([]domain.TemplatePermission, 0, len(s))
	for _, perm := range domain.TemplatePermissions {
		if s.Can(perm) {
			res = append(res, perm)
		}
	}
	return res
}

func ResolveTemplate(p domain.Principal, g TemplateGrants) TemplatePermissionSet {
	res := TemplatePermissionSet{}
	for _, grant := range g.Roles {
		if p.HasRole(grant.Role) {
			res[grant.Permission] = struct{}{}
		}
	}
	for _, grant := range g.Groups {
		if p.InGroup(grant.GroupID) {
			res[grant.Permission] = struct{}{}
		}
	}
	return res
}

// GrantSource loads grant snapshots.
type GrantSource interface {
	FieldGrants(ctx context.Context, fieldID int64) (FieldGrants, error)
	TemplateGrants(ctx context.Context, templateID int64) (TemplateGrants, error)
}

// Service resolves permissions against grants loaded from a GrantSource.
// Each call loads a fresh snapshot.
type Service struct {
	Grants GrantSource
}

func (s Service) FieldPermission(ctx context.Context, p domain.Principal, fieldID int64) (domain.FieldPermission, error) {
	g, err := s.Grants.FieldGrants(ctx, fieldID)
	if err != nil {
		return domain.FieldPermissionNone, err
	}
	return ResolveField(p, g), nil
}

// FieldPermissions resolves several fields at once, keyed by field id.
func (s Service) FieldPermissions(ctx context.Context, p domain.Principal, fields []domain.Field) (map[int64]domain.FieldPermission, error) {
	res := make(map[int64]domain.FieldPermission, len(fields))
	for _, f := range fields {
		perm, err := s.FieldPermission(ctx, p, f.ID)
		if err != nil {
			return nil, err
		}
		res[f.ID] = perm
	}
	return res, nil
}

func (s Service) TemplatePermissions(ctx context.Context, p domain.Principal, templateID int64) (TemplatePermissionSet, error) {
	g, err := s.Grants.TemplateGrants(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return ResolveTemplate(p, g), nil
}

// Require returns ForbiddenError unless the principal holds every listed
// permission on the template.
func (s Service) Require(ctx context.Context, p domain.Principal, templateID int64, perms ...domain.TemplatePermission) error {
	set, err := s.TemplatePermissions(ctx, p, templateID)
	if err != nil {
		return err
	}
	if i := slices.IndexFunc(perms, func(perm domain.TemplatePermission) bool { return !set.Can(perm) }); i >= 0 {
		return ForbiddenError{Permission: string(perms[i])}
	}
	return nil
}

package domain

import "slices"

// Principal is a user together with the group memberships and system roles
// relevant to one authorization decision. Roles are derived per issue and
// never stored.
type Principal struct {
	User   User
	Groups []int64
	Roles  []SystemRole
}

// NewPrincipal derives the principal's system roles relative to the issue.
// A nil issue yields only RoleAnyone.
func NewPrincipal(user User, groups []int64, issue *Issue) Principal {
	roles := []SystemRole{RoleAnyone}
	if issue != nil {
		if issue.AuthorID == user.ID {
			roles = append(roles, RoleAuthor)
		}
		if issue.ResponsibleID != nil && *issue.ResponsibleID == user.ID {
			roles = append(roles, RoleResponsible)
		}
	}
	return Principal{User: user, Groups: slices.Clone(groups), Roles: roles}
}

// NewAuthorPrincipal is used while an issue is being created: the creator
// becomes its author before the issue exists.
func NewAuthorPrincipal(user User, groups []int64) Principal {
	return Principal{User: user, Groups: slices.Clone(groups), Roles: []SystemRole{RoleAnyone, RoleAuthor}}
}

func (p Principal) HasRole(r SystemRole) bool {
	return slices.Contains(p.Roles, r)
}

func (p Principal) InGroup(groupID int64) bool {
	return slices.Contains(p.Groups, groupID)
}

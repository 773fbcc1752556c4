// Package workflow computes the states an issue may move to and the users who
// may become responsible for it. Resolution works on explicit snapshots of
// the grant tables so that the functions here stay pure.
package workflow

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"etraxis/internal/domain"
)

// TransitionSnapshot holds everything Transitions needs about one issue.
type TransitionSnapshot struct {
	Issue    domain.Issue
	Template domain.Template
	// States are the states of the issue's template.
	States []domain.State
	// Roles and Groups are the transition grants leaving the issue's current state.
	Roles  []domain.StateRoleTransition
	Groups []domain.StateGroupTransition
	// OpenDependencies is set when at least one dependency is not closed.
	OpenDependencies bool
}

// Transitions returns the states the principal may move the issue to, in
// template order. Suspended and frozen issues cannot move.
func Transitions(p domain.Principal, s TransitionSnapshot, now int64) []domain.State {
	if s.Issue.IsSuspended(now) || s.Issue.IsFrozen(s.Template, now) {
		return nil
	}
	targets := map[int64]bool{}
	for _, t := range s.Roles {
		if t.FromStateID == s.Issue.StateID && p.HasRole(t.Role) {
			targets[t.ToStateID] = true
		}
	}
	for _, t := range s.Groups {
		if t.FromStateID == s.Issue.StateID && p.InGroup(t.GroupID) {
			targets[t.ToStateID] = true
		}
	}
	var res []domain.State
	for _, st := range s.States {
		if !targets[st.ID] {
			continue
		}
		if st.IsFinal() && s.OpenDependencies {
			continue
		}
		res = append(res, st)
	}
	return res
}

// CheckTransition validates a transition grant before it is stored.
func CheckTransition(from, to domain.State) error {
	if from.TemplateID != to.TemplateID {
		return domain.InvariantError{
			Op:     "transition",
			Reason: fmt.Sprintf("states %d and %d belong to different templates", from.ID, to.ID),
		}
	}
	if from.IsFinal() {
		return domain.InvariantError{
			Op:     "transition",
			Reason: fmt.Sprintf("final state %d cannot have outgoing transitions", from.ID),
		}
	}
	return nil
}

// SetInitial marks the state as the template's initial one and returns the
// states whose type changed: the target and, if any, the demoted previous
// initial state.
func SetInitial(states []domain.State, stateID int64) ([]domain.State, error) {
	i := slices.IndexFunc(states, func(s domain.State) bool { return s.ID == stateID })
	if i < 0 {
		return nil, fmt.Errorf("state %d is not part of the template", stateID)
	}
	if states[i].Type == domain.StateTypeInitial {
		return nil, nil
	}
	var changed []domain.State
	for _, s := range states {
		if s.ID != stateID && s.Type == domain.StateTypeInitial {
			s.Type = domain.StateTypeIntermediate
			changed = append(changed, s)
		}
	}
	target := states[i]
	target.Type = domain.StateTypeInitial
	return append(changed, target), nil
}

// ResponsibleSnapshot holds the responsible groups of one state and their members.
type ResponsibleSnapshot struct {
	Groups  []domain.StateResponsibleGroup
	Members map[int64][]domain.User
}

// Responsibles returns the users eligible to become responsible, ordered by
// full name. With exclude set, that user is left out.
func Responsibles(s ResponsibleSnapshot, exclude *int64) []domain.User {
	seen := map[int64]bool{}
	var res []domain.User
	for _, g := range s.Groups {
		for _, u := range s.Members[g.GroupID] {
			if seen[u.ID] || u.Disabled || (exclude != nil && *exclude == u.ID) {
				continue
			}
			seen[u.ID] = true
			res = append(res, u)
		}
	}
	slices.SortFunc(res, func(a, b domain.User) int {
		return cmp.Or(cmp.Compare(a.Fullname, b.Fullname), cmp.Compare(a.ID, b.ID))
	})
	return res
}

// Source loads resolver snapshots.
type Source interface {
	TransitionSnapshot(ctx context.Context, issue domain.Issue) (TransitionSnapshot, error)
	ResponsibleSnapshot(ctx context.Context, stateID int64) (ResponsibleSnapshot, error)
}

// Resolver runs Transitions and Responsibles against freshly loaded snapshots.
type Resolver struct {
	Source Source
	Now    func() time.Time
}

func (r Resolver) now() int64 {
	if r.Now != nil {
		return r.Now().Unix()
	}
	return time.Now().Unix()
}

func (r Resolver) Transitions(ctx context.Context, issue domain.Issue, p domain.Principal) ([]domain.State, error) {
	s, err := r.Source.TransitionSnapshot(ctx, issue)
	if err != nil {
		return nil, err
	}
	return Transitions(p, s, r.now()), nil
}

// CanTransition reports whether the issue may move to the state.
func (r Resolver) CanTransition(ctx context.Context, issue domain.Issue, p domain.Principal, stateID int64) (bool, error) {
	states, err := r.Transitions(ctx, issue, p)
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(states, func(s domain.State) bool { return s.ID == stateID }), nil
}

// Responsibles lists candidates for the state. When excludeCurrent is set and
// the issue has a responsible, that user is omitted.
func (r Resolver) Responsibles(ctx context.Context, stateID int64, issue *domain.Issue, excludeCurrent bool) ([]domain.User, error) {
	s, err := r.Source.ResponsibleSnapshot(ctx, stateID)
	if err != nil {
		return nil, err
	}
	var exclude *int64
	if excludeCurrent && issue != nil {
		exclude = issue.ResponsibleID
	}
	return Responsibles(s, exclude), nil
}

// IsCandidate reports whether the user may become responsible in the state.
func (r Resolver) IsCandidate(ctx context.Context, stateID, userID int64) (bool, error) {
	users, err := r.Responsibles(ctx, stateID, nil, false)
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(users, func(u domain.User) bool { return u.ID == userID }), nil
}

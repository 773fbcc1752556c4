package server

import (
	"time"

	"etraxis/internal/domain"
	"etraxis/internal/engine"
)

type CreateIssueRequest struct {
	TemplateID    int64          `json:"template_id" minimum:"1"`
	Subject       string         `json:"subject"`
	ResponsibleID *int64         `json:"responsible_id,omitempty"`
	Values        map[string]any `json:"values,omitempty" doc:"Field values keyed by field id"`
}

type UpdateIssueRequest struct {
	Subject *string        `json:"subject,omitempty"`
	Values  map[string]any `json:"values,omitempty" doc:"Field values keyed by field id"`
}

type ChangeStateRequest struct {
	StateID       int64          `json:"state_id" minimum:"1"`
	ResponsibleID *int64         `json:"responsible_id,omitempty"`
	Values        map[string]any `json:"values,omitempty" doc:"Field values keyed by field id"`
}

type ReassignRequest struct {
	ResponsibleID int64 `json:"responsible_id" minimum:"1"`
}

type SuspendRequest struct {
	Until time.Time `json:"until" doc:"Moment the issue resumes automatically"`
}

type DependencyRequest struct {
	DependencyID int64 `json:"dependency_id" minimum:"1"`
}

type IssueResponse struct {
	domain.Issue
	Closed    bool `json:"closed"`
	Suspended bool `json:"suspended"`
}

func issueResponse(issue domain.Issue) IssueResponse {
	return IssueResponse{
		Issue:     issue,
		Closed:    issue.IsClosed(),
		Suspended: issue.IsSuspended(time.Now().Unix()),
	}
}

type StateResponse struct {
	ID          int64                   `json:"id"`
	Name        string                  `json:"name"`
	Type        domain.StateType        `json:"type"`
	Responsible domain.StateResponsible `json:"responsible"`
}

func stateResponses(states []domain.State) []StateResponse {
	res := make([]StateResponse, 0, len(states))
	for _, s := range states {
		res = append(res, StateResponse{ID: s.ID, Name: s.Name, Type: s.Type, Responsible: s.Responsible})
	}
	return res
}

type UserResponse struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Fullname string `json:"fullname"`
}

func userResponses(users []domain.User) []UserResponse {
	res := make([]UserResponse, 0, len(users))
	for _, u := range users {
		res = append(res, UserResponse{ID: u.ID, Email: u.Email, Fullname: u.Fullname})
	}
	return res
}

type FieldValueResponse struct {
	FieldID  int64            `json:"field_id"`
	StateID  int64            `json:"state_id"`
	Name     string           `json:"name"`
	Type     domain.FieldType `json:"type"`
	Required bool             `json:"required"`
	Value    any              `json:"value"`
	ReadOnly bool             `json:"read_only"`
}

func fieldValueResponses(views []engine.FieldValueView) []FieldValueResponse {
	res := make([]FieldValueResponse, 0, len(views))
	for _, v := range views {
		res = append(res, FieldValueResponse{
			FieldID:  v.Field.ID,
			StateID:  v.Field.StateID,
			Name:     v.Field.Name,
			Type:     v.Field.Type,
			Required: v.Field.Required,
			Value:    v.Value,
			ReadOnly: v.ReadOnly,
		})
	}
	return res
}

type ChangeResponse struct {
	EventID   int64            `json:"event_id"`
	Type      domain.EventType `json:"type"`
	UserID    int64            `json:"user_id"`
	CreatedAt int64            `json:"created_at"`
	FieldID   *int64           `json:"field_id,omitempty" doc:"Absent for subject changes"`
	FieldName string           `json:"field_name,omitempty"`
	OldValue  any              `json:"old_value"`
	NewValue  any              `json:"new_value"`
}

func changeResponses(views []engine.ChangeView) []ChangeResponse {
	res := make([]ChangeResponse, 0, len(views))
	for _, v := range views {
		c := ChangeResponse{
			EventID:   v.Event.ID,
			Type:      v.Event.Type,
			UserID:    v.Event.UserID,
			CreatedAt: v.Event.CreatedAt,
			OldValue:  v.OldValue,
			NewValue:  v.NewValue,
		}
		if v.Field != nil {
			id := v.Field.ID
			c.FieldID = &id
			c.FieldName = v.Field.Name
		}
		res = append(res, c)
	}
	return res
}

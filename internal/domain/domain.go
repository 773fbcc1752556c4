package domain

import "fmt"

type FieldType string

const (
	FieldTypeCheckbox FieldType = "checkbox"
	FieldTypeDate     FieldType = "date"
	FieldTypeDecimal  FieldType = "decimal"
	FieldTypeDuration FieldType = "duration"
	FieldTypeIssue    FieldType = "issue"
	FieldTypeList     FieldType = "list"
	FieldTypeNumber   FieldType = "number"
	FieldTypeString   FieldType = "string"
	FieldTypeText     FieldType = "text"
)

// FieldTypes lists every supported field type in display order.
var FieldTypes = []FieldType{
	FieldTypeCheckbox,
	FieldTypeDate,
	FieldTypeDecimal,
	FieldTypeDuration,
	FieldTypeIssue,
	FieldTypeList,
	FieldTypeNumber,
	FieldTypeString,
	FieldTypeText,
}

type StateType string

const (
	StateTypeInitial      StateType = "initial"
	StateTypeIntermediate StateType = "intermediate"
	StateTypeFinal        StateType = "final"
)

// StateResponsible tells what happens to the issue's responsible when the issue enters a state.
type StateResponsible string

const (
	ResponsibleAssign StateResponsible = "assign"
	ResponsibleKeep   StateResponsible = "keep"
	ResponsibleRemove StateResponsible = "remove"
)

type SystemRole string

const (
	RoleAnyone      SystemRole = "anyone"
	RoleAuthor      SystemRole = "author"
	RoleResponsible SystemRole = "responsible"
)

func ParseSystemRole(s string) (SystemRole, error) {
	switch r := SystemRole(s); r {
	case RoleAnyone, RoleAuthor, RoleResponsible:
		return r, nil
	}
	return "", fmt.Errorf("unknown system role %q", s)
}

type User struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Fullname string `json:"fullname"`
	Locale   string `json:"locale"`
	Timezone string `json:"timezone"`
	Disabled bool   `json:"disabled"`
}

type Group struct {
	ID          int64  `json:"id"`
	ProjectID   *int64 `json:"project_id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type Project struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Suspended   bool   `json:"suspended"`
	CreatedAt   int64  `json:"created_at"`
}

type Template struct {
	ID          int64  `json:"id"`
	ProjectID   int64  `json:"project_id"`
	Name        string `json:"name"`
	Prefix      string `json:"prefix"`
	Description string `json:"description,omitempty"`
	Locked      bool   `json:"locked"`

	// FrozenTime is the number of days after closing when an issue can no longer change.
	FrozenTime *int `json:"frozen_time,omitempty"`
}

type State struct {
	ID          int64            `json:"id"`
	TemplateID  int64            `json:"template_id"`
	Name        string           `json:"name"`
	Type        StateType        `json:"type"`
	Responsible StateResponsible `json:"responsible"`
}

func (s State) IsFinal() bool { return s.Type == StateTypeFinal }

// PCRE is the check/search/replace triplet of a string field.
type PCRE struct {
	Check   string `json:"check,omitempty"`
	Search  string `json:"search,omitempty"`
	Replace string `json:"replace,omitempty"`
}

// FieldParameters is the type-erased parameter bag of a field; its meaning
// depends on the field type and is interpreted by package fieldtype only.
type FieldParameters struct {
	Parameter1   *int64 `json:"parameter1,omitempty"`
	Parameter2   *int64 `json:"parameter2,omitempty"`
	DefaultValue *int64 `json:"default_value,omitempty"`
	PCRE         PCRE   `json:"pcre"`
}

type Field struct {
	ID          int64           `json:"id"`
	StateID     int64           `json:"state_id"`
	Name        string          `json:"name"`
	Type        FieldType       `json:"type"`
	Description string          `json:"description,omitempty"`
	Position    int             `json:"position"`
	Required    bool            `json:"required"`
	Parameters  FieldParameters `json:"parameters"`
	RemovedAt   *int64          `json:"removed_at,omitempty"`
}

type ListItem struct {
	ID      int64  `json:"id"`
	FieldID int64  `json:"field_id"`
	Value   int64  `json:"value"`
	Text    string `json:"text"`
}

type Issue struct {
	ID            int64  `json:"id"`
	TemplateID    int64  `json:"template_id"`
	StateID       int64  `json:"state_id"`
	Subject       string `json:"subject"`
	AuthorID      int64  `json:"author_id"`
	ResponsibleID *int64 `json:"responsible_id,omitempty"`
	OriginID      *int64 `json:"origin_id,omitempty"`
	CreatedAt     int64  `json:"created_at"`
	ChangedAt     int64  `json:"changed_at"`
	ClosedAt      *int64 `json:"closed_at,omitempty"`
	ResumesAt     *int64 `json:"resumes_at,omitempty"`
}

func (i Issue) IsClosed() bool { return i.ClosedAt != nil }

// IsSuspended reports whether the issue is suspended at the given unix time.
func (i Issue) IsSuspended(now int64) bool {
	return i.ResumesAt != nil && *i.ResumesAt > now
}

// IsFrozen reports whether the issue was closed longer ago than the template's frozen time.
func (i Issue) IsFrozen(t Template, now int64) bool {
	if i.ClosedAt == nil || t.FrozenTime == nil {
		return false
	}
	return now-*i.ClosedAt > int64(*t.FrozenTime)*86400
}

// Touch marks the issue as changed.
func (i *Issue) Touch(now int64) { i.ChangedAt = now }

type EventType string

const (
	EventIssueCreated      EventType = "issue.created"
	EventIssueEdited       EventType = "issue.edited"
	EventStateChanged      EventType = "state.changed"
	EventIssueClosed       EventType = "issue.closed"
	EventIssueAssigned     EventType = "issue.assigned"
	EventIssueSuspended    EventType = "issue.suspended"
	EventIssueResumed      EventType = "issue.resumed"
	EventDependencyAdded   EventType = "dependency.added"
	EventDependencyRemoved EventType = "dependency.removed"
)

type Event struct {
	ID        int64     `json:"id"`
	IssueID   int64     `json:"issue_id"`
	UserID    int64     `json:"user_id"`
	Type      EventType `json:"type"`
	CreatedAt int64     `json:"created_at"`
	Parameter string    `json:"parameter,omitempty"`
}

// Change is an immutable audit record of one field value transition.
// A nil FieldID records a change of the issue subject.
type Change struct {
	ID       int64  `json:"id"`
	EventID  int64  `json:"event_id"`
	FieldID  *int64 `json:"field_id,omitempty"`
	OldValue *int64 `json:"old_value,omitempty"`
	NewValue *int64 `json:"new_value,omitempty"`
}

type FieldValue struct {
	IssueID int64  `json:"issue_id"`
	FieldID int64  `json:"field_id"`
	Value   *int64 `json:"value,omitempty"`
}

type Dependency struct {
	IssueID      int64 `json:"issue_id"`
	DependencyID int64 `json:"dependency_id"`
}

type FieldRolePermission struct {
	FieldID    int64           `json:"field_id"`
	Role       SystemRole      `json:"role"`
	Permission FieldPermission `json:"permission"`
}

type FieldGroupPermission struct {
	FieldID    int64           `json:"field_id"`
	GroupID    int64           `json:"group_id"`
	Permission FieldPermission `json:"permission"`
}

type TemplateRolePermission struct {
	TemplateID int64              `json:"template_id"`
	Role       SystemRole         `json:"role"`
	Permission TemplatePermission `json:"permission"`
}

type TemplateGroupPermission struct {
	TemplateID int64              `json:"template_id"`
	GroupID    int64              `json:"group_id"`
	Permission TemplatePermission `json:"permission"`
}

type StateRoleTransition struct {
	FromStateID int64      `json:"from_state_id"`
	ToStateID   int64      `json:"to_state_id"`
	Role        SystemRole `json:"role"`
}

type StateGroupTransition struct {
	FromStateID int64 `json:"from_state_id"`
	ToStateID   int64 `json:"to_state_id"`
	GroupID     int64 `json:"group_id"`
}

type StateResponsibleGroup struct {
	StateID int64 `json:"state_id"`
	GroupID int64 `json:"group_id"`
}

package domain

import (
	"encoding/json"
	"fmt"
)

// FieldPermission is ordered: a larger value grants more.
type FieldPermission int

const (
	FieldPermissionNone FieldPermission = iota
	FieldPermissionRead
	FieldPermissionReadWrite
)

func (p FieldPermission) String() string {
	switch p {
	case FieldPermissionRead:
		return "R"
	case FieldPermissionReadWrite:
		return "RW"
	default:
		return "none"
	}
}

func (p FieldPermission) CanRead() bool  { return p >= FieldPermissionRead }
func (p FieldPermission) CanWrite() bool { return p >= FieldPermissionReadWrite }

func ParseFieldPermission(s string) (FieldPermission, error) {
	switch s {
	case "R", "read":
		return FieldPermissionRead, nil
	case "RW", "write", "read_write":
		return FieldPermissionReadWrite, nil
	case "", "none":
		return FieldPermissionNone, nil
	}
	return FieldPermissionNone, fmt.Errorf("unknown field permission %q", s)
}

func (p FieldPermission) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *FieldPermission) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseFieldPermission(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

type TemplatePermission string

const (
	PermissionViewIssues         TemplatePermission = "issue.view"
	PermissionCreateIssues       TemplatePermission = "issue.create"
	PermissionEditIssues         TemplatePermission = "issue.update"
	PermissionDeleteIssues       TemplatePermission = "issue.delete"
	PermissionReassignIssues     TemplatePermission = "issue.reassign"
	PermissionSuspendIssues      TemplatePermission = "issue.suspend"
	PermissionResumeIssues       TemplatePermission = "issue.resume"
	PermissionAddComments        TemplatePermission = "comment.add"
	PermissionPrivateComments    TemplatePermission = "comment.private"
	PermissionAttachFiles        TemplatePermission = "file.attach"
	PermissionDeleteFiles        TemplatePermission = "file.delete"
	PermissionAddDependencies    TemplatePermission = "dependency.add"
	PermissionRemoveDependencies TemplatePermission = "dependency.remove"
	PermissionSendReminders      TemplatePermission = "reminder.send"
)

var TemplatePermissions = []TemplatePermission{
	PermissionViewIssues,
	PermissionCreateIssues,
	PermissionEditIssues,
	PermissionDeleteIssues,
	PermissionReassignIssues,
	PermissionSuspendIssues,
	PermissionResumeIssues,
	PermissionAddComments,
	PermissionPrivateComments,
	PermissionAttachFiles,
	PermissionDeleteFiles,
	PermissionAddDependencies,
	PermissionRemoveDependencies,
	PermissionSendReminders,
}

func ParseTemplatePermission(s string) (TemplatePermission, error) {
	for _, p := range TemplatePermissions {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown template permission %q", s)
}

// InvariantError reports corrupted or contradictory reference data, e.g. a
// transition between states of different templates.
type InvariantError struct {
	Op     string
	Reason string
}

func (e InvariantError) Error() string {
	return fmt.Sprintf("%s: invariant violated: %s", e.Op, e.Reason)
}

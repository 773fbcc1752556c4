package repo

import (
	"context"
	"database/sql"

	"etraxis/internal/domain"
)

const issueColumns = `id,template_id,state_id,subject,author_id,responsible_id,origin_id,created_at,changed_at,closed_at,resumes_at`

func scanIssue(s interface{ Scan(...any) error }) (domain.Issue, error) {
	var i domain.Issue
	var responsible, origin, closed, resumes sql.NullInt64
	err := s.Scan(&i.ID, &i.TemplateID, &i.StateID, &i.Subject, &i.AuthorID, &responsible, &origin,
		&i.CreatedAt, &i.ChangedAt, &closed, &resumes)
	if err != nil {
		return i, err
	}
	i.ResponsibleID = intPtr(responsible)
	i.OriginID = intPtr(origin)
	i.ClosedAt = intPtr(closed)
	i.ResumesAt = intPtr(resumes)
	return i, nil
}

func (r Repo) InsertIssue(ctx context.Context, i domain.Issue) (int64, error) {
	return r.insert(ctx, `INSERT INTO issues(template_id,state_id,subject,author_id,responsible_id,origin_id,created_at,changed_at,closed_at,resumes_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		i.TemplateID, i.StateID, i.Subject, i.AuthorID, nullableInt(i.ResponsibleID), nullableInt(i.OriginID),
		i.CreatedAt, i.ChangedAt, nullableInt(i.ClosedAt), nullableInt(i.ResumesAt))
}

func (r Repo) UpdateIssue(ctx context.Context, i domain.Issue) error {
	return mustAffect(r.q().ExecContext(ctx, `UPDATE issues SET state_id=?, subject=?, responsible_id=?, changed_at=?, closed_at=?, resumes_at=? WHERE id=?`,
		i.StateID, i.Subject, nullableInt(i.ResponsibleID), i.ChangedAt, nullableInt(i.ClosedAt), nullableInt(i.ResumesAt), i.ID))
}

func (r Repo) Issue(ctx context.Context, id int64) (domain.Issue, error) {
	i, err := scanIssue(r.q().QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id=?`, id))
	return i, notFound(err)
}

// IssueExists implements fieldtype.Issues.
func (r Repo) IssueExists(ctx context.Context, id int64) (bool, error) {
	var ok bool
	err := r.q().QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM issues WHERE id=?)`, id).Scan(&ok)
	return ok, err
}

func (r Repo) TouchIssue(ctx context.Context, issueID, changedAt int64) error {
	return mustAffect(r.q().ExecContext(ctx, `UPDATE issues SET changed_at=? WHERE id=?`, changedAt, issueID))
}

// FieldValue implements values.Repository.
func (r Repo) FieldValue(ctx context.Context, issueID, fieldID int64) (domain.FieldValue, bool, error) {
	v := domain.FieldValue{IssueID: issueID, FieldID: fieldID}
	var token sql.NullInt64
	err := r.q().QueryRowContext(ctx, `SELECT value FROM field_values WHERE issue_id=? AND field_id=?`, issueID, fieldID).Scan(&token)
	if err == sql.ErrNoRows {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	v.Value = intPtr(token)
	return v, true, nil
}

// FieldValues returns every stored value of the issue keyed by field id.
func (r Repo) FieldValues(ctx context.Context, issueID int64) (map[int64]domain.FieldValue, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT field_id,value FROM field_values WHERE issue_id=?`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[int64]domain.FieldValue{}
	for rows.Next() {
		v := domain.FieldValue{IssueID: issueID}
		var token sql.NullInt64
		if err := rows.Scan(&v.FieldID, &token); err != nil {
			return nil, err
		}
		v.Value = intPtr(token)
		res[v.FieldID] = v
	}
	return res, rows.Err()
}

func (r Repo) InsertFieldValue(ctx context.Context, v domain.FieldValue) error {
	_, err := r.q().ExecContext(ctx, `INSERT INTO field_values(issue_id,field_id,value) VALUES (?,?,?)`,
		v.IssueID, v.FieldID, nullableInt(v.Value))
	return err
}

func (r Repo) UpdateFieldValue(ctx context.Context, v domain.FieldValue) error {
	return mustAffect(r.q().ExecContext(ctx, `UPDATE field_values SET value=? WHERE issue_id=? AND field_id=?`,
		nullableInt(v.Value), v.IssueID, v.FieldID))
}

func (r Repo) InsertChange(ctx context.Context, c domain.Change) (int64, error) {
	return r.insert(ctx, `INSERT INTO changes(event_id,field_id,old_value,new_value) VALUES (?,?,?,?)`,
		c.EventID, nullableInt(c.FieldID), nullableInt(c.OldValue), nullableInt(c.NewValue))
}

// HistoryEntry is a Change together with its triggering event.
type HistoryEntry struct {
	Change domain.Change
	Event  domain.Event
}

// Changes returns the change history of an issue, oldest first.
func (r Repo) Changes(ctx context.Context, issueID int64) ([]HistoryEntry, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT c.id,c.event_id,c.field_id,c.old_value,c.new_value,
e.issue_id,e.user_id,e.type,e.created_at,COALESCE(e.parameter,'')
FROM changes c JOIN events e ON e.id=c.event_id
WHERE e.issue_id=? ORDER BY e.created_at, c.id`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var field, oldValue, newValue sql.NullInt64
		if err := rows.Scan(&h.Change.ID, &h.Change.EventID, &field, &oldValue, &newValue,
			&h.Event.IssueID, &h.Event.UserID, &h.Event.Type, &h.Event.CreatedAt, &h.Event.Parameter); err != nil {
			return nil, err
		}
		h.Event.ID = h.Change.EventID
		h.Change.FieldID = intPtr(field)
		h.Change.OldValue = intPtr(oldValue)
		h.Change.NewValue = intPtr(newValue)
		res = append(res, h)
	}
	return res, rows.Err()
}

// Events returns the events of an issue, oldest first.
func (r Repo) Events(ctx context.Context, issueID int64) ([]domain.Event, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT id,issue_id,user_id,type,created_at,COALESCE(parameter,'') FROM events WHERE issue_id=? ORDER BY created_at, id`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.IssueID, &e.UserID, &e.Type, &e.CreatedAt, &e.Parameter); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) AddDependency(ctx context.Context, d domain.Dependency) error {
	_, err := r.q().ExecContext(ctx, `INSERT OR IGNORE INTO dependencies(issue_id,dependency_id) VALUES (?,?)`, d.IssueID, d.DependencyID)
	return err
}

func (r Repo) RemoveDependency(ctx context.Context, d domain.Dependency) error {
	return mustAffect(r.q().ExecContext(ctx, `DELETE FROM dependencies WHERE issue_id=? AND dependency_id=?`, d.IssueID, d.DependencyID))
}

func (r Repo) Dependencies(ctx context.Context, issueID int64) ([]int64, error) {
	return collectInt64(r.q().QueryContext(ctx, `SELECT dependency_id FROM dependencies WHERE issue_id=? ORDER BY dependency_id`, issueID))
}

// HasOpenDependencies reports whether any dependency of the issue is not closed.
func (r Repo) HasOpenDependencies(ctx context.Context, issueID int64) (bool, error) {
	var open bool
	err := r.q().QueryRowContext(ctx, `SELECT EXISTS(
SELECT 1 FROM dependencies d JOIN issues i ON i.id=d.dependency_id
WHERE d.issue_id=? AND i.closed_at IS NULL)`, issueID).Scan(&open)
	return open, err
}

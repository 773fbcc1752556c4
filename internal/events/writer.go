// Package events appends the issue events that changes and history hang off.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"etraxis/internal/domain"
)

type Writer struct {
	Now func() time.Time
}

// Payload is the optional structured parameter of an event.
type Payload map[string]any

// Append writes an event inside tx and returns it with its id set.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, issueID, userID int64, typ domain.EventType, payload Payload) (domain.Event, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	e := domain.Event{IssueID: issueID, UserID: userID, Type: typ, CreatedAt: now().Unix()}
	if len(payload) > 0 {
		data, err := json.Marshal(payload)
		if err != nil {
			return e, fmt.Errorf("marshal event payload: %w", err)
		}
		e.Parameter = string(data)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(issue_id,user_id,type,created_at,parameter) VALUES (?,?,?,?,?)`,
		e.IssueID, e.UserID, e.Type, e.CreatedAt, nullable(e.Parameter))
	if err != nil {
		return e, err
	}
	e.ID, err = res.LastInsertId()
	return e, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

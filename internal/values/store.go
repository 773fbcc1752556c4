// Package values reads and writes the current field values of issues and
// records a Change for every value that actually changes.
package values

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"etraxis/internal/domain"
	"etraxis/internal/fieldtype"
	"etraxis/internal/i18n"
	"etraxis/internal/validate"
)

// Repository is the persistence the store needs. It is expected to be bound
// to the caller's transaction.
type Repository interface {
	FieldValue(ctx context.Context, issueID, fieldID int64) (domain.FieldValue, bool, error)
	InsertFieldValue(ctx context.Context, v domain.FieldValue) error
	UpdateFieldValue(ctx context.Context, v domain.FieldValue) error
	InsertChange(ctx context.Context, c domain.Change) (int64, error)
	TouchIssue(ctx context.Context, issueID, changedAt int64) error
}

// Store is the FieldValueStore. It does no locking of its own: two
// overlapping transactions writing the same value may lose one update.
type Store struct {
	Repo       Repository
	Deps       fieldtype.Deps
	Validator  validate.Validator
	Translator i18n.Translator
	Now        func() time.Time
	Logger     *slog.Logger
}

func (s Store) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s Store) now() int64 {
	if s.Now != nil {
		return s.Now().Unix()
	}
	return time.Now().Unix()
}

func (s Store) codec(field *domain.Field) (fieldtype.Codec, error) {
	return fieldtype.New(field, s.Deps)
}

// SetValue encodes raw and stores it as the field's value for the issue.
// It returns nil without writing anything when a LIST or ISSUE value refers
// to nothing. Writing the stored token again is a no-op.
func (s Store) SetValue(ctx context.Context, issue *domain.Issue, event domain.Event, field *domain.Field, raw any) (*domain.FieldValue, error) {
	c, err := s.codec(field)
	if err != nil {
		return nil, err
	}
	token, err := c.Encode(ctx, raw)
	if errors.Is(err, fieldtype.ErrNotFound) {
		s.logger().Debug("field value reference not found", "issue", issue.ID, "field", field.ID, "err", err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	current, ok, err := s.Repo.FieldValue(ctx, issue.ID, field.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		v := domain.FieldValue{IssueID: issue.ID, FieldID: field.ID, Value: token}
		if err := s.Repo.InsertFieldValue(ctx, v); err != nil {
			return nil, err
		}
		return &v, s.touch(ctx, issue)
	}
	if sameToken(current.Value, token) {
		return &current, nil
	}

	change := domain.Change{EventID: event.ID, FieldID: &field.ID, OldValue: current.Value, NewValue: token}
	if _, err := s.Repo.InsertChange(ctx, change); err != nil {
		return nil, err
	}
	current.Value = token
	if err := s.Repo.UpdateFieldValue(ctx, current); err != nil {
		return nil, err
	}
	s.logger().Debug("field value changed", "issue", issue.ID, "field", field.ID, "event", event.ID)
	return &current, s.touch(ctx, issue)
}

func (s Store) touch(ctx context.Context, issue *domain.Issue) error {
	issue.Touch(s.now())
	return s.Repo.TouchIssue(ctx, issue.ID, issue.ChangedAt)
}

func sameToken(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Value returns the decoded current value, or nil when the issue has none.
func (s Store) Value(ctx context.Context, issue domain.Issue, field *domain.Field) (any, error) {
	v, ok, err := s.Repo.FieldValue(ctx, issue.ID, field.ID)
	if err != nil || !ok {
		return nil, err
	}
	c, err := s.codec(field)
	if err != nil {
		return nil, err
	}
	return c.Decode(ctx, v.Value)
}

// Validate checks raw against the field's constraints in the given locale.
func (s Store) Validate(ctx context.Context, field *domain.Field, raw any, locale string) (validate.Violations, error) {
	c, err := s.codec(field)
	if err != nil {
		return nil, err
	}
	constraints, err := c.Constraints(ctx, s.Translator, locale)
	if err != nil {
		return nil, err
	}
	v := s.Validator
	if v == nil {
		v = validate.Default{}
	}
	return v.Validate(raw, constraints), nil
}

// Default returns the field's default in submitted form.
func (s Store) Default(ctx context.Context, field *domain.Field) (any, error) {
	c, err := s.codec(field)
	if err != nil {
		return nil, err
	}
	return c.DefaultValue(ctx)
}

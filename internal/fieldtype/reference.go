package fieldtype

import (
	"context"
	"fmt"
	"strconv"

	"etraxis/internal/domain"
	"etraxis/internal/i18n"
	"etraxis/internal/validate"
)

func positive(tr i18n.Translator, locale string) validate.Constraint {
	return validate.Func{
		Fn: func(s string) bool {
			n, err := strconv.ParseInt(s, 10, 64)
			return err != nil || n > 0
		},
		Message: tr.Translate(locale, i18n.MsgPositive),
	}
}

// IssueField references another issue by id.
type IssueField struct{ base }

func (f IssueField) Encode(ctx context.Context, raw any) (*int64, error) {
	id, blank, err := parseInt(raw)
	if err != nil || blank {
		return nil, err
	}
	ok, err := f.deps.Issues.IssueExists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("issue %d: %w", id, ErrNotFound)
	}
	return &id, nil
}

func (f IssueField) Decode(_ context.Context, token *int64) (any, error) {
	if token == nil {
		return nil, nil
	}
	return *token, nil
}

func (f IssueField) Constraints(_ context.Context, tr i18n.Translator, locale string) ([]validate.Constraint, error) {
	re, err := f.pattern(tr, locale, `\d+`)
	if err != nil {
		return nil, err
	}
	return append(f.required(tr, locale), re, positive(tr, locale)), nil
}

func (f IssueField) DefaultValue(context.Context) (any, error) { return nil, nil }

// ListField stores the id of the chosen item; submitted values are the item's
// value, which is unique within the field.
type ListField struct{ base }

func (f ListField) Encode(ctx context.Context, raw any) (*int64, error) {
	v, blank, err := parseInt(raw)
	if err != nil || blank {
		return nil, err
	}
	item, ok, err := f.deps.Lists.ListItemByValue(ctx, f.field.ID, v)
	if err != nil {
		return nil, err
	}
	if !ok || item.FieldID != f.field.ID {
		return nil, fmt.Errorf("list item %d of field %d: %w", v, f.field.ID, ErrNotFound)
	}
	return &item.ID, nil
}

// Decode returns a domain.ListItem, or nil when the item no longer exists.
func (f ListField) Decode(ctx context.Context, token *int64) (any, error) {
	if token == nil {
		return nil, nil
	}
	item, ok, err := f.deps.Lists.ListItem(ctx, *token)
	if err != nil || !ok {
		return nil, err
	}
	return item, nil
}

func (f ListField) Constraints(_ context.Context, tr i18n.Translator, locale string) ([]validate.Constraint, error) {
	re, err := f.pattern(tr, locale, `\d+`)
	if err != nil {
		return nil, err
	}
	return append(f.required(tr, locale), re, positive(tr, locale)), nil
}

func (f ListField) Default(ctx context.Context) (*domain.ListItem, error) {
	id := f.params().DefaultValue
	if id == nil {
		return nil, nil
	}
	item, ok, err := f.deps.Lists.ListItem(ctx, *id)
	if err != nil || !ok {
		return nil, err
	}
	return &item, nil
}

// SetDefault rejects items of other fields.
func (f ListField) SetDefault(item *domain.ListItem) error {
	if item == nil {
		f.params().DefaultValue = nil
		return nil
	}
	if item.FieldID != f.field.ID {
		return domain.InvariantError{Op: "list default", Reason: fmt.Sprintf("item %d belongs to field %d", item.ID, item.FieldID)}
	}
	f.params().DefaultValue = ptr(item.ID)
	return nil
}

func (f ListField) DefaultValue(ctx context.Context) (any, error) {
	item, err := f.Default(ctx)
	if err != nil || item == nil {
		return nil, err
	}
	return item.Value, nil
}

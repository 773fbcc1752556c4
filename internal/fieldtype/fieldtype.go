// Package fieldtype converts field values between their stored token (a
// nullable integer) and their typed representation, and supplies per-type
// validation constraints and parameter handling.
//
// Every field type is a variant of the sealed Codec interface:
//
//	checkbox  token 1/0
//	date      unix timestamp of midnight in the acting user's location
//	decimal   id of an interned decimal value
//	duration  total minutes
//	issue     referenced issue id
//	list      id of the chosen list item
//	number    the number itself
//	string    id of an interned string value
//	text      id of an interned text value
package fieldtype

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"etraxis/internal/domain"
	"etraxis/internal/i18n"
	"etraxis/internal/validate"
)

// ErrNotFound is returned by Encode when a LIST or ISSUE reference does not resolve.
var ErrNotFound = errors.New("referenced value not found")

// ValueKind names a table of interned values.
type ValueKind string

const (
	KindDecimal ValueKind = "decimal"
	KindString  ValueKind = "string"
	KindText    ValueKind = "text"
)

// Values stores content-addressed values: identical content shares one id.
type Values interface {
	Intern(ctx context.Context, kind ValueKind, value string) (int64, error)
	Lookup(ctx context.Context, kind ValueKind, id int64) (string, bool, error)
}

type ListItems interface {
	ListItem(ctx context.Context, id int64) (domain.ListItem, bool, error)
	ListItemByValue(ctx context.Context, fieldID, value int64) (domain.ListItem, bool, error)
}

type Issues interface {
	IssueExists(ctx context.Context, id int64) (bool, error)
}

// Deps are the collaborators a codec needs. Location is the acting user's
// time zone; it defaults to UTC.
type Deps struct {
	Values   Values
	Lists    ListItems
	Issues   Issues
	Location *time.Location
	Now      func() time.Time
}

func (d Deps) location() *time.Location {
	if d.Location != nil {
		return d.Location
	}
	return time.UTC
}

func (d Deps) today() time.Time {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	t := now().In(d.location())
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, d.location())
}

// Codec is implemented by exactly one variant per field type.
type Codec interface {
	Field() *domain.Field
	// Encode converts a submitted value into its stored token. A blank value
	// encodes to nil (checkbox: to 0).
	Encode(ctx context.Context, raw any) (*int64, error)
	// Decode converts a stored token into its typed value, or nil.
	Decode(ctx context.Context, token *int64) (any, error)
	// Constraints returns the validation rules for submitted values.
	Constraints(ctx context.Context, tr i18n.Translator, locale string) ([]validate.Constraint, error)
	// DefaultValue returns the field's default in submitted (wire) form, or nil.
	DefaultValue(ctx context.Context) (any, error)

	sealed()
}

// New returns the codec variant for the field's type.
func New(f *domain.Field, deps Deps) (Codec, error) {
	b := base{field: f, deps: deps}
	switch f.Type {
	case domain.FieldTypeCheckbox:
		return CheckboxField{b}, nil
	case domain.FieldTypeDate:
		return DateField{b}, nil
	case domain.FieldTypeDecimal:
		return DecimalField{b}, nil
	case domain.FieldTypeDuration:
		return DurationField{b}, nil
	case domain.FieldTypeIssue:
		return IssueField{b}, nil
	case domain.FieldTypeList:
		return ListField{b}, nil
	case domain.FieldTypeNumber:
		return NumberField{b}, nil
	case domain.FieldTypeString:
		return StringField{textual{base: b, kind: KindString, limit: StringMaxLength}}, nil
	case domain.FieldTypeText:
		return TextField{textual{base: b, kind: KindText, limit: TextMaxLength}}, nil
	}
	return nil, fmt.Errorf("unsupported field type %q", f.Type)
}

type base struct {
	field *domain.Field
	deps  Deps
}

func (b base) Field() *domain.Field { return b.field }

func (base) sealed() {}

func (b base) params() *domain.FieldParameters { return &b.field.Parameters }

// required returns NotBlank when the field is mandatory.
func (b base) required(tr i18n.Translator, locale string) []validate.Constraint {
	if !b.field.Required {
		return nil
	}
	return []validate.Constraint{validate.NotBlank{Message: tr.Translate(locale, i18n.MsgNotBlank)}}
}

func (b base) rangeMessage(tr i18n.Translator, locale, lo, hi string) string {
	return tr.Translate(locale, i18n.MsgValueRange, b.field.Name, lo, hi)
}

func (b base) pattern(tr i18n.Translator, locale, pattern string) (validate.Constraint, error) {
	return validate.NewRegex(pattern, tr.Translate(locale, i18n.MsgInvalid), 0)
}

func clamp[T cmp.Ordered](v, lo, hi T) T {
	return min(max(v, lo), hi)
}

func ptr[T any](v T) *T { return &v }

// wireString returns the trimmed wire form of a submitted scalar and whether
// it is blank.
func wireString(raw any) (string, bool) {
	s, ok := validate.Stringify(raw)
	if !ok {
		return "", true
	}
	s = strings.TrimSpace(s)
	return s, s == ""
}

func parseInt(raw any) (int64, bool, error) {
	s, blank := wireString(raw)
	if blank {
		return 0, true, nil
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(s, "+"), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid integer %q: %w", s, err)
	}
	return n, false, nil
}

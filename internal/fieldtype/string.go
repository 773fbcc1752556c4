package fieldtype

import (
	"context"
	"regexp"
	"strconv"
	"unicode/utf8"

	"github.com/dlclark/regexp2"

	"etraxis/internal/domain"
	"etraxis/internal/i18n"
	"etraxis/internal/validate"
)

const (
	StringMaxLength = 250
	TextMaxLength   = 10000
)

const pcreOptions = regexp2.IgnoreCase | regexp2.Singleline

// Backreferences are written "\1" in stored PCRE replacements.
var backref = regexp.MustCompile(`\\(\d+)`)

// textual holds what STRING and TEXT fields share; they differ only in the
// value table and the length limit.
type textual struct {
	base
	kind  ValueKind
	limit int
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

func (f textual) MaxLength() int {
	if p := f.params().Parameter1; p != nil {
		return int(*p)
	}
	return f.limit
}

func (f textual) SetMaxLength(n int) {
	f.params().Parameter1 = ptr(int64(clamp(n, 1, f.limit)))
}

func (f textual) Default(ctx context.Context) (*string, error) {
	id := f.params().DefaultValue
	if id == nil {
		return nil, nil
	}
	s, ok, err := f.deps.Values.Lookup(ctx, f.kind, *id)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

// SetDefault interns the default, cut to the current maximum length.
func (f textual) SetDefault(ctx context.Context, s *string) error {
	if s == nil {
		f.params().DefaultValue = nil
		return nil
	}
	id, err := f.deps.Values.Intern(ctx, f.kind, truncate(*s, f.MaxLength()))
	if err != nil {
		return err
	}
	f.params().DefaultValue = &id
	return nil
}

func (f textual) PCRE() domain.PCRE { return f.params().PCRE }

func (f textual) SetPCRE(p domain.PCRE) error {
	for _, expr := range []string{p.Check, p.Search} {
		if expr == "" {
			continue
		}
		if _, err := regexp2.Compile(expr, pcreOptions); err != nil {
			return domain.InvariantError{Op: "set pcre", Reason: err.Error()}
		}
	}
	f.params().PCRE = p
	return nil
}

// Transform applies the search/replace pair to a submitted value. Without a
// search expression the value is returned unchanged.
func (f textual) Transform(s string) (string, error) {
	p := f.params().PCRE
	if p.Search == "" {
		return s, nil
	}
	re, err := regexp2.Compile(p.Search, pcreOptions)
	if err != nil {
		return "", err
	}
	return re.Replace(s, backref.ReplaceAllString(p.Replace, "$${$1}"), -1, -1)
}

func (f textual) Encode(ctx context.Context, raw any) (*int64, error) {
	s, ok := validate.Stringify(raw)
	if !ok || s == "" {
		return nil, nil
	}
	s, err := f.Transform(s)
	if err != nil {
		return nil, err
	}
	// A replacement may lengthen the value past the checked limit.
	id, err := f.deps.Values.Intern(ctx, f.kind, truncate(s, f.MaxLength()))
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (f textual) Decode(ctx context.Context, token *int64) (any, error) {
	if token == nil {
		return nil, nil
	}
	s, ok, err := f.deps.Values.Lookup(ctx, f.kind, *token)
	if err != nil || !ok {
		return nil, err
	}
	return s, nil
}

func (f textual) Constraints(_ context.Context, tr i18n.Translator, locale string) ([]validate.Constraint, error) {
	n := f.MaxLength()
	res := append(f.required(tr, locale), validate.Length{
		Max:     n,
		Message: tr.Translate(locale, i18n.MsgTooLong, strconv.Itoa(n)),
	})
	if check := f.params().PCRE.Check; check != "" {
		re, err := validate.NewRegex(check, tr.Translate(locale, i18n.MsgInvalid), pcreOptions)
		if err != nil {
			return nil, err
		}
		res = append(res, re)
	}
	return res, nil
}

func (f textual) DefaultValue(ctx context.Context) (any, error) {
	s, err := f.Default(ctx)
	if err != nil || s == nil {
		return nil, err
	}
	return *s, nil
}

type StringField struct{ textual }

type TextField struct{ textual }

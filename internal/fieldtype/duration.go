package fieldtype

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"

	"etraxis/internal/i18n"
	"etraxis/internal/validate"
)

// Durations are stored as total minutes; 59999999 is "999999:59".
const (
	DurationMinValue int64 = 0
	DurationMaxValue int64 = 59999999
)

var durationPattern = regexp.MustCompile(`^(\d+):([0-5]\d)$`)

// DurationToNumber converts "H:MM" into minutes. Hours are not limited here so
// that out-of-range parameters can be clamped; overflowing inputs saturate.
func DurationToNumber(s string) (int64, bool) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	hours, err := strconv.ParseInt(m[1], 10, 64)
	if errors.Is(err, strconv.ErrRange) {
		return math.MaxInt64, true
	} else if err != nil {
		return 0, false
	}
	minutes, _ := strconv.ParseInt(m[2], 10, 64)
	if hours > (math.MaxInt64-59)/60 {
		return math.MaxInt64, true
	}
	return hours*60 + minutes, true
}

// DurationToString converts minutes into "H:MM".
func DurationToString(n int64) string {
	return fmt.Sprintf("%d:%02d", n/60, n%60)
}

type DurationField struct{ base }

func (f DurationField) setParam(dst **int64, s string) error {
	n, ok := DurationToNumber(s)
	if !ok {
		return fmt.Errorf("invalid duration %q", s)
	}
	*dst = ptr(clamp(n, DurationMinValue, DurationMaxValue))
	return nil
}

func (f DurationField) Minimum() string {
	if p := f.params().Parameter1; p != nil {
		return DurationToString(*p)
	}
	return DurationToString(DurationMinValue)
}

func (f DurationField) SetMinimum(s string) error {
	return f.setParam(&f.params().Parameter1, s)
}

func (f DurationField) Maximum() string {
	if p := f.params().Parameter2; p != nil {
		return DurationToString(*p)
	}
	return DurationToString(DurationMaxValue)
}

func (f DurationField) SetMaximum(s string) error {
	return f.setParam(&f.params().Parameter2, s)
}

func (f DurationField) Default() *string {
	if p := f.params().DefaultValue; p != nil {
		return ptr(DurationToString(*p))
	}
	return nil
}

func (f DurationField) SetDefault(s *string) error {
	if s == nil {
		f.params().DefaultValue = nil
		return nil
	}
	return f.setParam(&f.params().DefaultValue, *s)
}

func (f DurationField) Encode(_ context.Context, raw any) (*int64, error) {
	s, blank := wireString(raw)
	if blank {
		return nil, nil
	}
	n, ok := DurationToNumber(s)
	if !ok {
		return nil, fmt.Errorf("invalid duration %q", s)
	}
	return &n, nil
}

func (f DurationField) Decode(_ context.Context, token *int64) (any, error) {
	if token == nil {
		return nil, nil
	}
	return DurationToString(*token), nil
}

func (f DurationField) Constraints(_ context.Context, tr i18n.Translator, locale string) ([]validate.Constraint, error) {
	re, err := f.pattern(tr, locale, `\d{1,6}:[0-5]\d`)
	if err != nil {
		return nil, err
	}
	lo, _ := DurationToNumber(f.Minimum())
	hi, _ := DurationToNumber(f.Maximum())
	return append(f.required(tr, locale),
		re,
		validate.Func{
			Fn: func(s string) bool {
				n, ok := DurationToNumber(s)
				return !ok || (n >= lo && n <= hi)
			},
			Message: f.rangeMessage(tr, locale, f.Minimum(), f.Maximum()),
		},
	), nil
}

func (f DurationField) DefaultValue(context.Context) (any, error) {
	if d := f.Default(); d != nil {
		return *d, nil
	}
	return nil, nil
}

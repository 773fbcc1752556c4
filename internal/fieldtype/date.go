package fieldtype

import (
	"context"
	"fmt"
	"time"

	"etraxis/internal/i18n"
	"etraxis/internal/validate"
)

// Date bounds and defaults are day offsets relative to "today" in the acting
// user's location.
const (
	DateMinValue int64 = -0x80000000
	DateMaxValue int64 = 0x7FFFFFFF
)

const dateLayout = "2006-01-02"

var (
	earliestDate = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	latestDate   = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)
)

type DateField struct{ base }

func (f DateField) Minimum() int64 {
	if p := f.params().Parameter1; p != nil {
		return *p
	}
	return DateMinValue
}

func (f DateField) SetMinimum(days int64) {
	f.params().Parameter1 = ptr(clamp(days, DateMinValue, DateMaxValue))
}

func (f DateField) Maximum() int64 {
	if p := f.params().Parameter2; p != nil {
		return *p
	}
	return DateMaxValue
}

func (f DateField) SetMaximum(days int64) {
	f.params().Parameter2 = ptr(clamp(days, DateMinValue, DateMaxValue))
}

// Default returns the default day offset, or nil when there is none.
func (f DateField) Default() *int64 {
	return f.params().DefaultValue
}

func (f DateField) SetDefault(days *int64) {
	if days == nil {
		f.params().DefaultValue = nil
		return
	}
	f.params().DefaultValue = ptr(clamp(*days, DateMinValue, DateMaxValue))
}

// offset returns today shifted by days, kept within four-digit years.
func (f DateField) offset(days int64) time.Time {
	loc := f.deps.location()
	today := f.deps.today()
	lo := time.Date(earliestDate.Year(), earliestDate.Month(), earliestDate.Day(), 0, 0, 0, 0, loc)
	hi := time.Date(latestDate.Year(), latestDate.Month(), latestDate.Day(), 0, 0, 0, 0, loc)
	// 3652059 days separate 0001-01-01 and 9999-12-31.
	if days < -3652059 {
		return lo
	}
	if days > 3652059 {
		return hi
	}
	t := today.AddDate(0, 0, int(days))
	if t.Before(lo) {
		return lo
	}
	if t.After(hi) {
		return hi
	}
	return t
}

func (f DateField) parse(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, f.deps.location())
}

func (f DateField) Encode(_ context.Context, raw any) (*int64, error) {
	s, blank := wireString(raw)
	if blank {
		return nil, nil
	}
	t, err := f.parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return ptr(t.Unix()), nil
}

func (f DateField) Decode(_ context.Context, token *int64) (any, error) {
	if token == nil {
		return nil, nil
	}
	return time.Unix(*token, 0).In(f.deps.location()).Format(dateLayout), nil
}

func (f DateField) Constraints(_ context.Context, tr i18n.Translator, locale string) ([]validate.Constraint, error) {
	res := f.required(tr, locale)
	re, err := f.pattern(tr, locale, `\d{4}-[0-1]\d-[0-3]\d`)
	if err != nil {
		return nil, err
	}
	minDate := f.offset(f.Minimum())
	maxDate := f.offset(f.Maximum())
	res = append(res,
		re,
		validate.Func{
			Fn: func(s string) bool {
				_, err := f.parse(s)
				return err == nil
			},
			Message: tr.Translate(locale, i18n.MsgInvalid),
		},
		validate.Func{
			Fn: func(s string) bool {
				t, err := f.parse(s)
				if err != nil {
					return true
				}
				return !t.Before(minDate) && !t.After(maxDate)
			},
			Message: f.rangeMessage(tr, locale, minDate.Format(dateLayout), maxDate.Format(dateLayout)),
		},
	)
	return res, nil
}

func (f DateField) DefaultValue(context.Context) (any, error) {
	d := f.Default()
	if d == nil {
		return nil, nil
	}
	return f.offset(*d).Format(dateLayout), nil
}

package fieldtype

import (
	"context"
	"strconv"

	"etraxis/internal/i18n"
	"etraxis/internal/validate"
)

const (
	NumberMinValue int64 = -1000000000
	NumberMaxValue int64 = 1000000000
)

type NumberField struct{ base }

func (f NumberField) Minimum() int64 {
	if p := f.params().Parameter1; p != nil {
		return *p
	}
	return NumberMinValue
}

func (f NumberField) SetMinimum(v int64) {
	f.params().Parameter1 = ptr(clamp(v, NumberMinValue, NumberMaxValue))
}

func (f NumberField) Maximum() int64 {
	if p := f.params().Parameter2; p != nil {
		return *p
	}
	return NumberMaxValue
}

func (f NumberField) SetMaximum(v int64) {
	f.params().Parameter2 = ptr(clamp(v, NumberMinValue, NumberMaxValue))
}

func (f NumberField) Default() *int64 {
	return f.params().DefaultValue
}

func (f NumberField) SetDefault(v *int64) {
	if v == nil {
		f.params().DefaultValue = nil
		return
	}
	f.params().DefaultValue = ptr(clamp(*v, NumberMinValue, NumberMaxValue))
}

func (f NumberField) Encode(_ context.Context, raw any) (*int64, error) {
	n, blank, err := parseInt(raw)
	if err != nil || blank {
		return nil, err
	}
	return &n, nil
}

func (f NumberField) Decode(_ context.Context, token *int64) (any, error) {
	if token == nil {
		return nil, nil
	}
	return *token, nil
}

func (f NumberField) Constraints(_ context.Context, tr i18n.Translator, locale string) ([]validate.Constraint, error) {
	re, err := f.pattern(tr, locale, `[-+]?\d+`)
	if err != nil {
		return nil, err
	}
	lo, hi := f.Minimum(), f.Maximum()
	return append(f.required(tr, locale),
		re,
		validate.IntRange{
			Min:     lo,
			Max:     hi,
			Message: f.rangeMessage(tr, locale, strconv.FormatInt(lo, 10), strconv.FormatInt(hi, 10)),
		},
	), nil
}

func (f NumberField) DefaultValue(context.Context) (any, error) {
	if d := f.Default(); d != nil {
		return *d, nil
	}
	return nil, nil
}

package fieldtype

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"etraxis/internal/i18n"
	"etraxis/internal/validate"
)

const DecimalPrecision = 10

var (
	DecimalMinValue = decimal.RequireFromString("-9999999999.9999999999")
	DecimalMaxValue = decimal.RequireFromString("9999999999.9999999999")
)

// DecimalField keeps its bounds and default as interned decimal values, so
// every accessor needs the Values repository.
type DecimalField struct{ base }

func (f DecimalField) load(ctx context.Context, token *int64, fallback *decimal.Decimal) (*decimal.Decimal, error) {
	if token == nil {
		return fallback, nil
	}
	s, ok, err := f.deps.Values.Lookup(ctx, KindDecimal, *token)
	if err != nil {
		return nil, err
	}
	if !ok {
		return fallback, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("stored decimal %d: %w", *token, err)
	}
	return &d, nil
}

func (f DecimalField) store(ctx context.Context, d decimal.Decimal) (*int64, error) {
	d = clampDecimal(d).Round(DecimalPrecision)
	id, err := f.deps.Values.Intern(ctx, KindDecimal, d.String())
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func clampDecimal(d decimal.Decimal) decimal.Decimal {
	if d.LessThan(DecimalMinValue) {
		return DecimalMinValue
	}
	if d.GreaterThan(DecimalMaxValue) {
		return DecimalMaxValue
	}
	return d
}

func (f DecimalField) Minimum(ctx context.Context) (decimal.Decimal, error) {
	d, err := f.load(ctx, f.params().Parameter1, &DecimalMinValue)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return *d, nil
}

func (f DecimalField) SetMinimum(ctx context.Context, v decimal.Decimal) error {
	id, err := f.store(ctx, v)
	if err != nil {
		return err
	}
	f.params().Parameter1 = id
	return nil
}

func (f DecimalField) Maximum(ctx context.Context) (decimal.Decimal, error) {
	d, err := f.load(ctx, f.params().Parameter2, &DecimalMaxValue)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return *d, nil
}

func (f DecimalField) SetMaximum(ctx context.Context, v decimal.Decimal) error {
	id, err := f.store(ctx, v)
	if err != nil {
		return err
	}
	f.params().Parameter2 = id
	return nil
}

func (f DecimalField) Default(ctx context.Context) (*decimal.Decimal, error) {
	return f.load(ctx, f.params().DefaultValue, nil)
}

func (f DecimalField) SetDefault(ctx context.Context, v *decimal.Decimal) error {
	if v == nil {
		f.params().DefaultValue = nil
		return nil
	}
	id, err := f.store(ctx, *v)
	if err != nil {
		return err
	}
	f.params().DefaultValue = id
	return nil
}

func (f DecimalField) Encode(ctx context.Context, raw any) (*int64, error) {
	s, blank := wireString(raw)
	if blank {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	id, err := f.deps.Values.Intern(ctx, KindDecimal, d.String())
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (f DecimalField) Decode(ctx context.Context, token *int64) (any, error) {
	if token == nil {
		return nil, nil
	}
	s, ok, err := f.deps.Values.Lookup(ctx, KindDecimal, *token)
	if err != nil || !ok {
		return nil, err
	}
	return s, nil
}

func (f DecimalField) Constraints(ctx context.Context, tr i18n.Translator, locale string) ([]validate.Constraint, error) {
	lo, err := f.Minimum(ctx)
	if err != nil {
		return nil, err
	}
	hi, err := f.Maximum(ctx)
	if err != nil {
		return nil, err
	}
	re, err := f.pattern(tr, locale, `[-+]?\d{1,10}(\.\d{1,10})?`)
	if err != nil {
		return nil, err
	}
	return append(f.required(tr, locale),
		re,
		validate.DecimalRange{Min: lo, Max: hi, Message: f.rangeMessage(tr, locale, lo.String(), hi.String())},
	), nil
}

func (f DecimalField) DefaultValue(ctx context.Context) (any, error) {
	d, err := f.Default(ctx)
	if err != nil || d == nil {
		return nil, err
	}
	return d.String(), nil
}

package fieldtype

import (
	"context"
	"fmt"

	"etraxis/internal/i18n"
	"etraxis/internal/validate"
)

type CheckboxField struct{ base }

var checkboxChoices = []string{"1", "0", "true", "false"}

func parseBool(raw any) (bool, error) {
	s, blank := wireString(raw)
	if blank {
		return false, nil
	}
	switch s {
	case "1", "true":
		return true, nil
	case "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid checkbox value %q", s)
}

func (f CheckboxField) Encode(_ context.Context, raw any) (*int64, error) {
	v, err := parseBool(raw)
	if err != nil {
		return nil, err
	}
	if v {
		return ptr[int64](1), nil
	}
	return ptr[int64](0), nil
}

func (f CheckboxField) Decode(_ context.Context, token *int64) (any, error) {
	return token != nil && *token != 0, nil
}

// Checkboxes always carry a value, so required-ness adds nothing.
func (f CheckboxField) Constraints(_ context.Context, tr i18n.Translator, locale string) ([]validate.Constraint, error) {
	return []validate.Constraint{
		validate.Choice{
			Choices: checkboxChoices,
			Message: tr.Translate(locale, i18n.MsgNotChoice),
		},
	}, nil
}

func (f CheckboxField) Default() bool {
	d := f.params().DefaultValue
	return d != nil && *d != 0
}

func (f CheckboxField) SetDefault(v bool) {
	if v {
		f.params().DefaultValue = ptr[int64](1)
	} else {
		f.params().DefaultValue = ptr[int64](0)
	}
}

func (f CheckboxField) DefaultValue(context.Context) (any, error) {
	return f.Default(), nil
}

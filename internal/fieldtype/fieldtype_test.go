package fieldtype_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etraxis/internal/domain"
	"etraxis/internal/fieldtype"
	"etraxis/internal/i18n"
	"etraxis/internal/validate"
)

type memValues struct {
	next int64
	byID map[int64]string
	ids  map[string]int64
}

func newMemValues() *memValues {
	return &memValues{byID: map[int64]string{}, ids: map[string]int64{}}
}

func (m *memValues) Intern(_ context.Context, kind fieldtype.ValueKind, value string) (int64, error) {
	key := string(kind) + "\x00" + value
	if id, ok := m.ids[key]; ok {
		return id, nil
	}
	m.next++
	m.ids[key] = m.next
	m.byID[m.next] = value
	return m.next, nil
}

func (m *memValues) Lookup(_ context.Context, _ fieldtype.ValueKind, id int64) (string, bool, error) {
	v, ok := m.byID[id]
	return v, ok, nil
}

type memLists []domain.ListItem

func (m memLists) ListItem(_ context.Context, id int64) (domain.ListItem, bool, error) {
	for _, it := range m {
		if it.ID == id {
			return it, true, nil
		}
	}
	return domain.ListItem{}, false, nil
}

func (m memLists) ListItemByValue(_ context.Context, fieldID, value int64) (domain.ListItem, bool, error) {
	for _, it := range m {
		if it.FieldID == fieldID && it.Value == value {
			return it, true, nil
		}
	}
	return domain.ListItem{}, false, nil
}

type memIssues map[int64]bool

func (m memIssues) IssueExists(_ context.Context, id int64) (bool, error) { return m[id], nil }

var fixedNow = func() time.Time { return time.Date(2024, time.March, 15, 10, 30, 0, 0, time.UTC) }

func newDeps() fieldtype.Deps {
	return fieldtype.Deps{
		Values: newMemValues(),
		Lists: memLists{
			{ID: 11, FieldID: 7, Value: 1, Text: "low"},
			{ID: 12, FieldID: 7, Value: 2, Text: "high"},
			{ID: 21, FieldID: 8, Value: 1, Text: "other"},
		},
		Issues: memIssues{42: true},
		Now:    fixedNow,
	}
}

func codec(t *testing.T, typ domain.FieldType, deps fieldtype.Deps) fieldtype.Codec {
	t.Helper()
	c, err := fieldtype.New(&domain.Field{ID: 7, Name: "Effort", Type: typ}, deps)
	require.NoError(t, err)
	return c
}

func violations(t *testing.T, c fieldtype.Codec, value any) validate.Violations {
	t.Helper()
	cs, err := c.Constraints(context.Background(), i18n.MustNew(), "en")
	require.NoError(t, err)
	return validate.Default{}.Validate(value, cs)
}

func TestNewRejectsUnknownType(t *testing.T) {
	_, err := fieldtype.New(&domain.Field{Type: "color"}, fieldtype.Deps{})
	assert.Error(t, err)
}

func TestNewCoversEveryType(t *testing.T) {
	for _, typ := range domain.FieldTypes {
		c, err := fieldtype.New(&domain.Field{Type: typ}, newDeps())
		require.NoError(t, err, typ)
		assert.Equal(t, typ, c.Field().Type)
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		typ  domain.FieldType
		in   any
		want any
	}{
		{domain.FieldTypeCheckbox, true, true},
		{domain.FieldTypeCheckbox, "0", false},
		{domain.FieldTypeDate, "2024-02-29", "2024-02-29"},
		{domain.FieldTypeDecimal, "3.1400", "3.14"},
		{domain.FieldTypeDuration, "12:05", "12:05"},
		{domain.FieldTypeIssue, 42, int64(42)},
		{domain.FieldTypeNumber, "-17", int64(-17)},
		{domain.FieldTypeString, "hello", "hello"},
		{domain.FieldTypeText, "multi\nline", "multi\nline"},
	}
	for _, tc := range cases {
		t.Run(string(tc.typ), func(t *testing.T) {
			c := codec(t, tc.typ, newDeps())
			token, err := c.Encode(ctx, tc.in)
			require.NoError(t, err)
			got, err := c.Decode(ctx, token)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBlankEncodesToNil(t *testing.T) {
	ctx := context.Background()
	for _, typ := range domain.FieldTypes {
		if typ == domain.FieldTypeCheckbox {
			continue
		}
		token, err := codec(t, typ, newDeps()).Encode(ctx, "")
		require.NoError(t, err, typ)
		assert.Nil(t, token, typ)
	}
	token, err := codec(t, domain.FieldTypeCheckbox, newDeps()).Encode(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, int64(0), *token)
}

func TestListEncodesItemID(t *testing.T) {
	ctx := context.Background()
	c := codec(t, domain.FieldTypeList, newDeps())

	token, err := c.Encode(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, int64(12), *token)

	got, err := c.Decode(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, domain.ListItem{ID: 12, FieldID: 7, Value: 2, Text: "high"}, got)

	_, err = c.Encode(ctx, 3)
	assert.ErrorIs(t, err, fieldtype.ErrNotFound)
}

func TestListDefaultMustBelongToField(t *testing.T) {
	ctx := context.Background()
	c := codec(t, domain.FieldTypeList, newDeps()).(fieldtype.ListField)

	err := c.SetDefault(&domain.ListItem{ID: 21, FieldID: 8, Value: 1})
	var inv domain.InvariantError
	assert.ErrorAs(t, err, &inv)
	assert.Nil(t, c.Field().Parameters.DefaultValue)

	require.NoError(t, c.SetDefault(&domain.ListItem{ID: 11, FieldID: 7, Value: 1}))
	def, err := c.DefaultValue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), def)
}

func TestIssueMustExist(t *testing.T) {
	_, err := codec(t, domain.FieldTypeIssue, newDeps()).Encode(context.Background(), "43")
	assert.ErrorIs(t, err, fieldtype.ErrNotFound)
}

func TestNumberParametersAreClamped(t *testing.T) {
	c := codec(t, domain.FieldTypeNumber, newDeps()).(fieldtype.NumberField)
	c.SetMinimum(-5000000000)
	c.SetMaximum(5000000000)
	c.SetDefault(func() *int64 { v := int64(2000000000); return &v }())

	assert.Equal(t, fieldtype.NumberMinValue, c.Minimum())
	assert.Equal(t, fieldtype.NumberMaxValue, c.Maximum())
	assert.Equal(t, fieldtype.NumberMaxValue, *c.Default())
}

func TestNumberRangeViolation(t *testing.T) {
	c := codec(t, domain.FieldTypeNumber, newDeps()).(fieldtype.NumberField)
	c.SetMinimum(1)
	c.SetMaximum(100)

	assert.Empty(t, violations(t, c, "50"))
	v := violations(t, c, "101")
	require.Len(t, v, 1)
	assert.Equal(t, "'Effort' should be in range from 1 to 100.", v[0].Message)
	assert.NotEmpty(t, violations(t, c, "abc"))
}

func TestRequiredAddsNotBlank(t *testing.T) {
	c := codec(t, domain.FieldTypeNumber, newDeps())
	assert.Empty(t, violations(t, c, ""))
	c.Field().Required = true
	assert.Len(t, violations(t, c, ""), 1)
}

func TestDecimalParametersAreInterned(t *testing.T) {
	ctx := context.Background()
	c := codec(t, domain.FieldTypeDecimal, newDeps()).(fieldtype.DecimalField)

	require.NoError(t, c.SetMinimum(ctx, decimal.RequireFromString("-99999999999")))
	require.NoError(t, c.SetMaximum(ctx, decimal.RequireFromString("10.5")))

	lo, err := c.Minimum(ctx)
	require.NoError(t, err)
	assert.True(t, lo.Equal(fieldtype.DecimalMinValue))

	hi, err := c.Maximum(ctx)
	require.NoError(t, err)
	assert.Equal(t, "10.5", hi.String())

	assert.Empty(t, violations(t, c, "10.5"))
	assert.NotEmpty(t, violations(t, c, "10.51"))
}

func TestDurationClampsAndFormats(t *testing.T) {
	c := codec(t, domain.FieldTypeDuration, newDeps()).(fieldtype.DurationField)
	require.NoError(t, c.SetMaximum("1000000:00"))
	assert.Equal(t, "999999:59", c.Maximum())
	require.NoError(t, c.SetMaximum("10:00"))
	require.NoError(t, c.SetMaximum("200000000000000000:00"))
	assert.Equal(t, "999999:59", c.Maximum())
	require.NoError(t, c.SetMaximum("10:00"))
	require.NoError(t, c.SetMaximum("99999999999999999999:00"))
	assert.Equal(t, "999999:59", c.Maximum())
	assert.Error(t, c.SetMinimum("1:75"))

	n, ok := fieldtype.DurationToNumber("2:30")
	assert.True(t, ok)
	assert.Equal(t, int64(150), n)
	assert.Equal(t, "0:07", fieldtype.DurationToString(7))
}

func TestDateDefaultIsRelativeToToday(t *testing.T) {
	ctx := context.Background()
	c := codec(t, domain.FieldTypeDate, newDeps()).(fieldtype.DateField)
	days := int64(3)
	c.SetDefault(&days)
	def, err := c.DefaultValue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-18", def)

	c.SetMinimum(0)
	c.SetMaximum(7)
	assert.Empty(t, violations(t, c, "2024-03-20"))
	assert.NotEmpty(t, violations(t, c, "2024-03-14"))
	assert.NotEmpty(t, violations(t, c, "2024-02-30"))
}

func TestDateUsesLocation(t *testing.T) {
	deps := newDeps()
	loc := time.FixedZone("NZDT", 13*3600)
	deps.Location = loc
	c := codec(t, domain.FieldTypeDate, deps)

	token, err := c.Encode(context.Background(), "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, loc).Unix(), *token)
}

func TestStringTransformAndIntern(t *testing.T) {
	ctx := context.Background()
	values := newMemValues()
	deps := newDeps()
	deps.Values = values
	c := codec(t, domain.FieldTypeString, deps).(fieldtype.StringField)
	require.NoError(t, c.SetPCRE(domain.PCRE{
		Check:   `\d{3}-\d{4}`,
		Search:  `(\d{3})-(\d{4})`,
		Replace: `(\1) \2`,
	}))

	a, err := c.Encode(ctx, "555-1234")
	require.NoError(t, err)
	b, err := c.Encode(ctx, "555-1234")
	require.NoError(t, err)
	assert.Equal(t, *a, *b)

	got, err := c.Decode(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "(555) 1234", got)

	assert.Empty(t, violations(t, c, "555-1234"))
	assert.NotEmpty(t, violations(t, c, "5551234"))
}

func TestStringTransformKeepsMaxLength(t *testing.T) {
	ctx := context.Background()
	deps := newDeps()
	deps.Values = newMemValues()
	c := codec(t, domain.FieldTypeString, deps).(fieldtype.StringField)
	c.SetMaxLength(6)
	require.NoError(t, c.SetPCRE(domain.PCRE{Search: `(\d{3})(\d{3})`, Replace: `(\1) \2`}))

	assert.Empty(t, violations(t, c, "555123"))
	token, err := c.Encode(ctx, "555123")
	require.NoError(t, err)
	got, err := c.Decode(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "(555) ", got)
}

func TestCheckboxAcceptsOnlyChoices(t *testing.T) {
	ctx := context.Background()
	c := codec(t, domain.FieldTypeCheckbox, newDeps())
	for _, in := range []any{"1", "true", true} {
		token, err := c.Encode(ctx, in)
		require.NoError(t, err, in)
		assert.Equal(t, int64(1), *token, in)
		assert.Empty(t, violations(t, c, in), in)
	}
	for _, in := range []string{"yes", "on", "no", "off", "TRUE"} {
		_, err := c.Encode(ctx, in)
		assert.Error(t, err, in)
		assert.NotEmpty(t, violations(t, c, in), in)
	}
}

func TestStringInvalidPCRE(t *testing.T) {
	c := codec(t, domain.FieldTypeString, newDeps()).(fieldtype.StringField)
	var inv domain.InvariantError
	assert.ErrorAs(t, c.SetPCRE(domain.PCRE{Check: "(unclosed"}), &inv)
}

func TestStringLengthAndDefault(t *testing.T) {
	ctx := context.Background()
	c := codec(t, domain.FieldTypeString, newDeps()).(fieldtype.StringField)

	c.SetMaxLength(1000)
	assert.Equal(t, fieldtype.StringMaxLength, c.MaxLength())
	c.SetMaxLength(5)
	assert.Equal(t, 5, c.MaxLength())

	def := "абвгдеж"
	require.NoError(t, c.SetDefault(ctx, &def))
	got, err := c.DefaultValue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "абвгд", got)

	v := violations(t, c, "abcdef")
	require.Len(t, v, 1)
	assert.Equal(t, "This value is too long. It should have 5 characters or less.", v[0].Message)
}

func TestTextLimit(t *testing.T) {
	c := codec(t, domain.FieldTypeText, newDeps()).(fieldtype.TextField)
	c.SetMaxLength(20000)
	assert.Equal(t, fieldtype.TextMaxLength, c.MaxLength())
}

func TestCheckboxDefault(t *testing.T) {
	c := codec(t, domain.FieldTypeCheckbox, newDeps()).(fieldtype.CheckboxField)
	assert.False(t, c.Default())
	c.SetDefault(true)
	def, err := c.DefaultValue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, true, def)
	assert.Empty(t, violations(t, c, true))
	assert.NotEmpty(t, violations(t, c, "maybe"))
}

func TestTranslatedMessages(t *testing.T) {
	c := codec(t, domain.FieldTypeNumber, newDeps()).(fieldtype.NumberField)
	c.SetMinimum(1)
	c.SetMaximum(2)
	cs, err := c.Constraints(context.Background(), i18n.MustNew(), "fr")
	require.NoError(t, err)
	v := validate.Default{}.Validate("3", cs)
	require.Len(t, v, 1)
	assert.Equal(t, "'Effort' doit être compris entre 1 et 2.", v[0].Message)
}

// Package validate checks submitted field values against constraint sets and
// reports violations as data rather than failures.
package validate

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
	"github.com/shopspring/decimal"
)

// Violation is one failed constraint with its already localized message.
type Violation struct {
	// Field names the offending input when the violation is reported for a
	// whole form rather than a single value.
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Violations implements error so callers may return it directly.
type Violations []Violation

func (v Violations) Error() string {
	if len(v) == 0 {
		return "no violations"
	}
	return v[0].Message
}

// Constraint checks one value. Constraints other than NotBlank accept nil and
// empty values; required-ness is expressed by adding NotBlank.
type Constraint interface {
	Check(value any) (Violation, bool)
}

// Validator runs constraint sets.
type Validator interface {
	Validate(value any, constraints []Constraint) Violations
}

// Default is the Validator used by the engine.
type Default struct {
	// StopOnFirst stops after the first failing constraint.
	StopOnFirst bool
}

func (d Default) Validate(value any, constraints []Constraint) Violations {
	var res Violations
	for _, c := range constraints {
		if v, ok := c.Check(value); !ok {
			res = append(res, v)
			if d.StopOnFirst {
				break
			}
		}
	}
	return res
}

// Stringify converts a submitted scalar into its wire string. Booleans become
// "1"/"0"; integral floats lose their fractional part.
func Stringify(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case bool:
		if v {
			return "1", true
		}
		return "0", true
	case int:
		return strconv.Itoa(v), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10), true
		}
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case decimal.Decimal:
		return v.String(), true
	case interface{ String() string }:
		return v.String(), true
	}
	return "", false
}

func isBlank(value any) bool {
	if value == nil {
		return true
	}
	s, ok := Stringify(value)
	return ok && strings.TrimSpace(s) == ""
}

type NotBlank struct {
	Message string
}

func (c NotBlank) Check(value any) (Violation, bool) {
	if isBlank(value) {
		return Violation{Message: c.Message}, false
	}
	return Violation{}, true
}

// Regex requires the whole value to match Pattern (PCRE syntax).
type Regex struct {
	Pattern *regexp2.Regexp
	Message string
}

// NewRegex anchors pattern to the whole value.
func NewRegex(pattern, message string, opts regexp2.RegexOptions) (Regex, error) {
	re, err := regexp2.Compile(`^(?:`+pattern+`)$`, opts)
	if err != nil {
		return Regex{}, err
	}
	return Regex{Pattern: re, Message: message}, nil
}

func (c Regex) Check(value any) (Violation, bool) {
	if isBlank(value) {
		return Violation{}, true
	}
	s, ok := Stringify(value)
	if !ok {
		return Violation{Message: c.Message}, false
	}
	matched, err := c.Pattern.MatchString(s)
	if err != nil || !matched {
		return Violation{Message: c.Message}, false
	}
	return Violation{}, true
}

// Length limits the number of characters (not bytes).
type Length struct {
	Max     int
	Message string
}

func (c Length) Check(value any) (Violation, bool) {
	s, ok := Stringify(value)
	if !ok || utf8.RuneCountInString(s) <= c.Max {
		return Violation{}, true
	}
	return Violation{Message: c.Message}, false
}

// IntRange is an inclusive integer range. Values that do not parse are left
// to the Regex constraint of the same set.
type IntRange struct {
	Min, Max int64
	Message  string
}

func (c IntRange) Check(value any) (Violation, bool) {
	if isBlank(value) {
		return Violation{}, true
	}
	s, _ := Stringify(value)
	n, err := strconv.ParseInt(strings.TrimPrefix(s, "+"), 10, 64)
	if err != nil {
		return Violation{}, true
	}
	if n < c.Min || n > c.Max {
		return Violation{Message: c.Message}, false
	}
	return Violation{}, true
}

// DecimalRange is an inclusive range compared with exact decimal arithmetic.
type DecimalRange struct {
	Min, Max decimal.Decimal
	Message  string
}

func (c DecimalRange) Check(value any) (Violation, bool) {
	if isBlank(value) {
		return Violation{}, true
	}
	s, _ := Stringify(value)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Violation{}, true
	}
	if d.LessThan(c.Min) || d.GreaterThan(c.Max) {
		return Violation{Message: c.Message}, false
	}
	return Violation{}, true
}

// Func adapts a predicate; Fn is only called for non-blank values.
type Func struct {
	Fn      func(value string) bool
	Message string
}

func (c Func) Check(value any) (Violation, bool) {
	if isBlank(value) {
		return Violation{}, true
	}
	s, ok := Stringify(value)
	if !ok || !c.Fn(s) {
		return Violation{Message: c.Message}, false
	}
	return Violation{}, true
}

// Choice restricts the value to a fixed set of wire strings.
type Choice struct {
	Choices []string
	Message string
}

func (c Choice) Check(value any) (Violation, bool) {
	if value == nil {
		return Violation{}, true
	}
	s, ok := Stringify(value)
	if ok {
		for _, choice := range c.Choices {
			if s == choice {
				return Violation{}, true
			}
		}
	}
	return Violation{Message: c.Message}, false
}

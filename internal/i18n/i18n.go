// Package i18n localizes the human-readable messages produced by the core,
// mainly validation violations.
package i18n

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys.
const (
	MsgNotBlank   = "field.error.not_blank"
	MsgValueRange = "field.error.value_range"
	MsgTooLong    = "field.error.too_long"
	MsgInvalid    = "field.error.invalid"
	MsgPositive   = "field.error.positive"
	MsgNotChoice  = "field.error.choice"
)

const DefaultLocale = "en"

// Translator localizes a message key with positional arguments.
type Translator interface {
	Translate(locale, key string, args ...any) string
}

var messages = map[language.Tag]map[string]string{
	language.English: {
		MsgNotBlank:   "This value should not be blank.",
		MsgValueRange: "'%s' should be in range from %s to %s.",
		MsgTooLong:    "This value is too long. It should have %s characters or less.",
		MsgInvalid:    "This value is not valid.",
		MsgPositive:   "This value should be greater than 0.",
		MsgNotChoice:  "The value you selected is not a valid choice.",
	},
	language.French: {
		MsgNotBlank:   "Cette valeur ne doit pas être vide.",
		MsgValueRange: "'%s' doit être compris entre %s et %s.",
		MsgTooLong:    "Cette chaîne est trop longue. Elle doit avoir au maximum %s caractères.",
		MsgInvalid:    "Cette valeur n'est pas valide.",
		MsgPositive:   "Cette valeur doit être supérieure à 0.",
		MsgNotChoice:  "Cette valeur doit être l'un des choix proposés.",
	},
	language.Russian: {
		MsgNotBlank:   "Значение не должно быть пустым.",
		MsgValueRange: "Значение '%s' должно быть в диапазоне от %s до %s.",
		MsgTooLong:    "Значение слишком длинное. Должно быть равно %s символам или меньше.",
		MsgInvalid:    "Значение недопустимо.",
		MsgPositive:   "Значение должно быть больше 0.",
		MsgNotChoice:  "Выбранное Вами значение недопустимо.",
	},
}

// Catalog is a Translator backed by golang.org/x/text message catalogs.
type Catalog struct {
	builder   *catalog.Builder
	supported []language.Tag
	matcher   language.Matcher
}

// New builds the catalog of all bundled translations.
func New() (*Catalog, error) {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	supported := []language.Tag{language.English, language.French, language.Russian}
	for _, tag := range supported {
		for key, msg := range messages[tag] {
			if err := b.SetString(tag, key, msg); err != nil {
				return nil, fmt.Errorf("catalog %s/%s: %w", tag, key, err)
			}
		}
	}
	return &Catalog{
		builder:   b,
		supported: supported,
		matcher:   language.NewMatcher(supported),
	}, nil
}

// MustNew is New for package-level initialisation and tests.
func MustNew() *Catalog {
	c, err := New()
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) Translate(locale, key string, args ...any) string {
	p := message.NewPrinter(c.tag(locale), message.Catalog(c.builder))
	return p.Sprintf(key, args...)
}

func (c *Catalog) tag(locale string) language.Tag {
	if locale == "" {
		locale = DefaultLocale
	}
	requested, err := language.Parse(locale)
	if err != nil {
		return language.English
	}
	_, idx, _ := c.matcher.Match(requested)
	return c.supported[idx]
}

// Supported reports whether a catalog exists for the locale's base language.
func Supported(locale string) bool {
	tag, err := language.Parse(locale)
	if err != nil {
		return false
	}
	base, _ := tag.Base()
	for t := range messages {
		if b, _ := t.Base(); b == base {
			return true
		}
	}
	return false
}

package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var LocalesFS embed.FS

type Translator struct {
	lang         language.Tag
	translations map[string]string
}

// NewTranslator loads locales/<langCode>.yaml from fsys.
func NewTranslator(fsys fs.FS, langCode string) (*Translator, error) {
	tag, err := language.Parse(langCode)
	if err != nil {
		return nil, fmt.Errorf("invalid language %q: %w", langCode, err)
	}
	data, err := fs.ReadFile(fsys, path.Join("locales", langCode+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to read translation file for %s: %w", langCode, err)
	}
	t, err := newTranslatorFromBytes(data)
	if err != nil {
		return nil, err
	}
	t.lang = tag
	return t, nil
}

func newTranslatorFromBytes(data []byte) (*Translator, error) {
	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("failed to parse translation file: %w", err)
	}
	return &Translator{lang: language.Und, translations: translations}, nil
}

// T returns the translation for key, or key itself when missing.
func (t *Translator) T(key string, args ...interface{}) string {
	format, ok := t.translations[key]
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}

func (t *Translator) Lang() string { return t.lang.String() }

// Catalog picks a translator from an Accept-Language header. The first
// language is the fallback.
type Catalog struct {
	matcher     language.Matcher
	translators []*Translator
}

func NewCatalog(fsys fs.FS, langs ...string) (*Catalog, error) {
	if len(langs) == 0 {
		return nil, fmt.Errorf("at least one language is required")
	}
	c := &Catalog{}
	tags := make([]language.Tag, 0, len(langs))
	for _, l := range langs {
		t, err := NewTranslator(fsys, l)
		if err != nil {
			return nil, err
		}
		c.translators = append(c.translators, t)
		tags = append(tags, t.lang)
	}
	c.matcher = language.NewMatcher(tags)
	return c, nil
}

// Default loads the embedded locales.
func Default() (*Catalog, error) {
	return NewCatalog(LocalesFS, "en", "es")
}

func (c *Catalog) For(acceptLanguage string) *Translator {
	prefs, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(prefs) == 0 {
		return c.translators[0]
	}
	_, idx, conf := c.matcher.Match(prefs...)
	if conf == language.No {
		return c.translators[0]
	}
	return c.translators[idx]
}

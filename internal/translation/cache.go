// Package translation memoises short UI-text translations on disk and
// fronts the translation backend with that cache.
package translation

import (
	"context"
	"strings"

	"golang.org/x/text/language"

	"github.com/MimeLyc/fetchbot/internal/docstore"
)

// Translations maps original text to language tag to translated text.
// Entries are never evicted; the set of texts is small and fixed.
type Translations map[string]map[string]string

var translationsSchema = docstore.MustCompileSchema("saved-translations.schema.json", `{
	"type": "object",
	"additionalProperties": {
		"type": "object",
		"additionalProperties": {"type": "string"}
	}
}`)

type Cache struct {
	doc *docstore.Document[Translations]
}

func NewCache(path string, opts ...docstore.Option) *Cache {
	opts = append([]docstore.Option{
		docstore.WithLabel("saved translations"),
		docstore.WithSchema(translationsSchema),
	}, opts...)
	doc := docstore.NewDocument(path, func() Translations { return Translations{} }, opts...).
		WithNormalize(func(t *Translations) {
			if *t == nil {
				*t = Translations{}
			}
			canonicalizeKeys(*t)
		})
	return &Cache{doc: doc}
}

func (c *Cache) Get(ctx context.Context, text, lang string) (string, bool, error) {
	key := NormalizeTag(lang)
	var (
		value string
		ok    bool
	)
	err := c.doc.View(ctx, func(t Translations) {
		value, ok = t[text][key]
	})
	return value, ok, err
}

// Put stores the translation in memory and then persists the whole cache.
// A failed save is returned but the in-memory entry is kept.
func (c *Cache) Put(ctx context.Context, text, lang, translated string) error {
	key := NormalizeTag(lang)
	err := c.doc.Update(ctx, func(t *Translations) {
		byLang, ok := (*t)[text]
		if !ok {
			byLang = make(map[string]string)
			(*t)[text] = byLang
		}
		byLang[key] = translated
	})
	if err != nil {
		return err
	}
	return c.doc.Flush()
}

// Len reports the number of cached (text, language) pairs.
func (c *Cache) Len(ctx context.Context) (int, error) {
	n := 0
	err := c.doc.View(ctx, func(t Translations) {
		for _, byLang := range t {
			n += len(byLang)
		}
	})
	return n, err
}

// canonicalizeKeys re-keys entries saved under non-canonical tags
// ("pt-br"). An entry already under the canonical tag wins.
func canonicalizeKeys(t Translations) {
	for _, byLang := range t {
		for lang, translated := range byLang {
			key := NormalizeTag(lang)
			if key == lang {
				continue
			}
			if _, ok := byLang[key]; !ok {
				byLang[key] = translated
			}
			delete(byLang, lang)
		}
	}
}

// NormalizeTag canonicalises a language tag ("pt-br" -> "pt-BR"). Tags that
// do not parse are kept trimmed as given.
func NormalizeTag(lang string) string {
	lang = strings.TrimSpace(lang)
	tag, err := language.Parse(lang)
	if err != nil {
		return lang
	}
	return tag.String()
}

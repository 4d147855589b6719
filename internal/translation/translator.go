package translation

import (
	"context"
	"fmt"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"

	"github.com/MimeLyc/fetchbot/internal/llm"
	"github.com/MimeLyc/fetchbot/pkg/log"
)

// Backend produces a translation of text into lang.
type Backend interface {
	Translate(ctx context.Context, text string, lang language.Tag) (string, error)
}

// Translator answers from the cache, falls back to the backend and always
// returns something displayable: on any failure the original text.
type Translator struct {
	cache   *Cache
	backend Backend
	source  language.Tag
	group   singleflight.Group
	observe func(hit bool)
}

type Option func(*Translator)

// WithSourceLanguage sets the language the texts are written in.
func WithSourceLanguage(tag language.Tag) Option {
	return func(t *Translator) { t.source = tag }
}

// WithLookupObserver is called on every cache lookup with its outcome.
func WithLookupObserver(fn func(hit bool)) Option {
	return func(t *Translator) { t.observe = fn }
}

// NewTranslator builds a translator. A nil backend disables translation.
func NewTranslator(cache *Cache, backend Backend, opts ...Option) *Translator {
	t := &Translator{
		cache:   cache,
		backend: backend,
		source:  language.English,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Translator) Translate(ctx context.Context, text, lang string) string {
	if t.backend == nil || text == "" {
		return text
	}
	tag, err := language.Parse(lang)
	if err != nil {
		log.Debug("Skip translation to unknown language %q: %v", lang, err)
		return text
	}
	if sameBase(tag, t.source) || alreadyIn(text, tag) {
		return text
	}

	cached, ok, err := t.cache.Get(ctx, text, lang)
	if err != nil {
		return text
	}
	t.observeLookup(ok)
	if ok {
		return cached
	}

	key := NormalizeTag(lang) + "\x00" + text
	v, err, _ := t.group.Do(key, func() (any, error) {
		translated, err := t.backend.Translate(ctx, text, tag)
		if err != nil {
			return nil, err
		}
		if translated == "" {
			return nil, fmt.Errorf("empty translation")
		}
		if err := t.cache.Put(ctx, text, lang, translated); err != nil {
			log.Error("Failed to save translations: %v", err)
		}
		return translated, nil
	})
	if err != nil {
		log.Error("Translation request failed: %v", err)
		return text
	}
	return v.(string)
}

func (t *Translator) observeLookup(hit bool) {
	if t.observe != nil {
		t.observe(hit)
	}
}

func sameBase(a, b language.Tag) bool {
	ba, _ := a.Base()
	bb, _ := b.Base()
	return ba == bb
}

// alreadyIn reports whether text is confidently detected as lang.
func alreadyIn(text string, lang language.Tag) bool {
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return false
	}
	base, _ := lang.Base()
	return info.Lang.Iso6391() == base.String()
}

// LLMBackend translates through a chat completion model.
type LLMBackend struct {
	client *llm.Client
}

func NewLLMBackend(client *llm.Client) *LLMBackend {
	return &LLMBackend{client: client}
}

func (b *LLMBackend) Translate(ctx context.Context, text string, lang language.Tag) (string, error) {
	opts := llm.NewChatCompletionOptions().
		WithSystemPrompt(fmt.Sprintf(
			"Translate text to the following IETF language tag: %s. "+
				"Keep the HTML formatting. Do not add any other text or explanations", lang))
	return b.client.SimpleChat(ctx, text, opts)
}

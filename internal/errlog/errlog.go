// Package errlog keeps a bounded, newest-first history of job failures and
// persists it as {"errors": [...]} through docstore.
package errlog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MimeLyc/fetchbot/internal/docstore"
	"github.com/MimeLyc/fetchbot/pkg/log"
)

const (
	DefaultLimit         = 300
	DefaultFlushDelay    = 2 * time.Second
	DefaultMaxTextLength = 4000

	TruncationNotice = "\n\n… (truncated)"
)

type Entry struct {
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
	UserID  int64     `json:"userId,omitempty"`
	URL     string    `json:"url,omitempty"`
	Context string    `json:"context,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Record is an entry before it is assigned an id and a timestamp.
type Record struct {
	UserID  int64
	URL     string
	Context string
	Error   string
}

// fileSchema accepts documents written by any earlier version; a missing
// "errors" array is filled in on load.
var fileSchema = docstore.MustCompileSchema("errors.schema.json", `{
	"type": "object",
	"properties": {
		"errors": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"id": {"type": "string"},
					"at": {"type": "string"},
					"userId": {"type": "integer"},
					"url": {"type": "string"},
					"context": {"type": "string"},
					"error": {"type": "string"}
				}
			}
		}
	}
}`)

type file struct {
	Errors []Entry `json:"errors"`
}

type Log struct {
	doc *docstore.Document[file]

	limit      int
	maxText    int
	flushDelay time.Duration
	now        func() time.Time
	newID      func() string
	observe    func(Entry)
	storeOpts  []docstore.Option

	timerMu sync.Mutex
	timer   *time.Timer
	closed  bool
}

type Option func(*Log)

func WithLimit(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.limit = n
		}
	}
}

// WithFlushDelay selects the flush policy: a positive delay debounces writes,
// zero or less flushes synchronously inside Record.
func WithFlushDelay(d time.Duration) Option {
	return func(l *Log) { l.flushDelay = d }
}

func WithMaxTextLength(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.maxText = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(l *Log) { l.newID = fn }
}

// WithObserver is called for every recorded entry.
func WithObserver(fn func(Entry)) Option {
	return func(l *Log) { l.observe = fn }
}

// WithStoreOptions forwards options to the underlying document.
func WithStoreOptions(opts ...docstore.Option) Option {
	return func(l *Log) { l.storeOpts = append(l.storeOpts, opts...) }
}

func New(path string, opts ...Option) *Log {
	l := &Log{
		limit:      DefaultLimit,
		maxText:    DefaultMaxTextLength,
		flushDelay: DefaultFlushDelay,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}

	storeOpts := append([]docstore.Option{
		docstore.WithLabel("error log"),
		docstore.WithSchema(fileSchema),
	}, l.storeOpts...)
	l.doc = docstore.NewDocument(path, func() file { return file{} }, storeOpts...).
		WithNormalize(func(f *file) {
			if f.Errors == nil {
				f.Errors = []Entry{}
			}
			if len(f.Errors) > l.limit {
				f.Errors = f.Errors[:l.limit]
			}
		})
	return l
}

// Record stores r as the newest entry. With the immediate policy the save
// error is returned; the entry stays in memory either way.
func (l *Log) Record(ctx context.Context, r Record) (Entry, error) {
	entry := Entry{
		ID:      l.newID(),
		At:      l.now().UTC(),
		UserID:  r.UserID,
		URL:     r.URL,
		Context: Truncate(r.Context, l.maxText),
		Error:   Truncate(r.Error, l.maxText),
	}

	err := l.doc.Update(ctx, func(f *file) {
		f.Errors = append([]Entry{entry}, f.Errors...)
		if len(f.Errors) > l.limit {
			f.Errors = f.Errors[:l.limit]
		}
	})
	if err != nil {
		return Entry{}, err
	}
	if l.observe != nil {
		l.observe(entry)
	}

	if l.flushDelay <= 0 || !l.scheduleFlush() {
		return entry, l.doc.Flush()
	}
	return entry, nil
}

// List returns a newest-first copy of the stored entries.
func (l *Log) List(ctx context.Context) ([]Entry, error) {
	var ret []Entry
	err := l.doc.View(ctx, func(f file) {
		ret = make([]Entry, len(f.Errors))
		copy(ret, f.Errors)
	})
	return ret, err
}

func (l *Log) Flush() error {
	return l.doc.Flush()
}

// Close cancels a pending debounced write and flushes synchronously.
func (l *Log) Close() error {
	l.timerMu.Lock()
	l.closed = true
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.timerMu.Unlock()
	return l.doc.Flush()
}

// scheduleFlush arms a single timer; calls within the window do not extend it.
// It reports false once the log is closed and the caller must save itself.
func (l *Log) scheduleFlush() bool {
	l.timerMu.Lock()
	defer l.timerMu.Unlock()
	if l.closed {
		return false
	}
	if l.timer != nil {
		return true
	}
	l.timer = time.AfterFunc(l.flushDelay, func() {
		l.timerMu.Lock()
		l.timer = nil
		l.timerMu.Unlock()
		if err := l.doc.Flush(); err != nil {
			log.Error("Failed to save error log: %v", err)
		}
	})
	return true
}

// Truncate cuts s to at most limit runes, notice included.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	notice := []rune(TruncationNotice)
	keep := limit - len(notice)
	if keep < 0 {
		return string(runes[:limit])
	}
	return string(runes[:keep]) + TruncationNotice
}

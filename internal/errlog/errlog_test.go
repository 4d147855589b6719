package errlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("e-%d", n.Add(1)) }
}

func readFile(t *testing.T, path string) file {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var f file
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestLog_KeepsNewest300(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.json")
	l := New(path, WithFlushDelay(0), WithIDGenerator(sequentialIDs()))
	ctx := context.Background()

	for i := 1; i <= 301; i++ {
		_, err := l.Record(ctx, Record{Context: fmt.Sprintf("job %d", i)})
		require.NoError(t, err)
	}

	entries, err := l.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 300)
	assert.Equal(t, "job 301", entries[0].Context)
	assert.Equal(t, "job 2", entries[299].Context)
	for _, e := range entries {
		assert.NotEqual(t, "job 1", e.Context)
	}

	onDisk := readFile(t, path)
	assert.Len(t, onDisk.Errors, 300)
	assert.Equal(t, "e-301", onDisk.Errors[0].ID)
}

func TestLog_RecordAssignsIDAndTimestamp(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l := New(filepath.Join(t.TempDir(), "errors.json"),
		WithFlushDelay(0),
		WithClock(func() time.Time { return at }),
	)

	entry, err := l.Record(context.Background(), Record{
		UserID: 42,
		URL:    "https://example.com/v",
		Error:  "boom",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, at, entry.At)
	assert.Equal(t, int64(42), entry.UserID)
	assert.Equal(t, "boom", entry.Error)
}

func TestLog_TruncatesLongText(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "errors.json"), WithFlushDelay(0), WithMaxTextLength(50))

	entry, err := l.Record(context.Background(), Record{
		Error:   strings.Repeat("x", 200),
		Context: "short",
	})
	require.NoError(t, err)

	assert.Len(t, []rune(entry.Error), 50)
	assert.True(t, strings.HasSuffix(entry.Error, TruncationNotice))
	assert.Equal(t, "short", entry.Context)
}

func TestLog_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.json")
	ctx := context.Background()

	first := New(path, WithFlushDelay(0))
	_, err := first.Record(ctx, Record{Context: "before restart"})
	require.NoError(t, err)

	second := New(path)
	entries, err := second.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "before restart", entries[0].Context)
}

func TestLog_DebouncedFlushCoalesces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.json")
	l := New(path, WithFlushDelay(50*time.Millisecond))
	ctx := context.Background()

	for i := range 5 {
		_, err := l.Record(ctx, Record{Context: fmt.Sprintf("c%d", i)})
		require.NoError(t, err)
	}

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "debounced policy must not write synchronously")

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		var f file
		return json.Unmarshal(data, &f) == nil && len(f.Errors) == 5
	}, time.Second, 10*time.Millisecond)
}

func TestLog_CloseFlushesPendingEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.json")
	l := New(path, WithFlushDelay(time.Hour))

	_, err := l.Record(context.Background(), Record{Context: "pending"})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	onDisk := readFile(t, path)
	require.Len(t, onDisk.Errors, 1)
	assert.Equal(t, "pending", onDisk.Errors[0].Context)
}

func TestLog_RecordAfterCloseIsSavedImmediately(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.json")
	ctx := context.Background()
	l := New(path, WithFlushDelay(time.Hour))

	_, err := l.Record(ctx, Record{Context: "before close"})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	_, err = l.Record(ctx, Record{Context: "after close"})
	require.NoError(t, err)

	entries, err := New(path).List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "after close", entries[0].Context)
	assert.Equal(t, "before close", entries[1].Context)
}

func TestLog_ImmediatePolicySurfacesSaveError(t *testing.T) {
	dir := t.TempDir()
	// a directory at the target path makes every rename fail
	path := filepath.Join(dir, "errors.json")
	require.NoError(t, os.MkdirAll(filepath.Join(path, "blocker"), 0o755))

	l := New(path, WithFlushDelay(0))
	_, err := l.Record(context.Background(), Record{Context: "kept"})
	require.Error(t, err)

	entries, err := l.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1, "memory is not rolled back on save failure")
}

func TestLog_ObserverSeesEntries(t *testing.T) {
	var seen []string
	l := New(filepath.Join(t.TempDir(), "errors.json"),
		WithFlushDelay(0),
		WithObserver(func(e Entry) { seen = append(seen, e.Context) }),
	)

	_, err := l.Record(context.Background(), Record{Context: "one"})
	require.NoError(t, err)

	assert.Equal(t, []string{"one"}, seen)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		limit int
		want  string
	}{
		{name: "short kept", input: "abc", limit: 10, want: "abc"},
		{name: "exact kept", input: "abcde", limit: 5, want: "abcde"},
		{name: "no limit", input: "abcdef", limit: 0, want: "abcdef"},
		{name: "limit below notice", input: strings.Repeat("y", 20), limit: 3, want: "yyy"},
		{name: "multibyte", input: strings.Repeat("ж", 40), limit: 20, want: strings.Repeat("ж", 20-len([]rune(TruncationNotice))) + TruncationNotice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.input, tt.limit))
		})
	}
}

func TestLog_LoadValidatesShape(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	missingField := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(missingField, []byte(`{}`), 0o644))
	entries, err := New(missingField).List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	wrongShape := filepath.Join(dir, "wrong.json")
	require.NoError(t, os.WriteFile(wrongShape, []byte(`{"errors": [null]}`), 0o644))
	entries, err = New(wrongShape).List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	matches, err := filepath.Glob(wrongShape + ".corrupt.*")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
	matches, err = filepath.Glob(missingField + ".corrupt.*")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

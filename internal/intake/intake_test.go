package intake

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/fetchbot/internal/service"
)

type recordingHandler struct {
	mu        sync.Mutex
	requests  []service.Request
	reminded  []string
	cancelled []int64
	// slowURL is held up so later requests could overtake it.
	slowURL string
}

func (h *recordingHandler) Handle(_ context.Context, req service.Request) (string, error) {
	if h.slowURL != "" && req.URL == h.slowURL {
		time.Sleep(50 * time.Millisecond)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests = append(h.requests, req)
	return "job", nil
}

func (h *recordingHandler) Cancel(_ context.Context, chatID int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelled = append(h.cancelled, chatID)
	return 0, nil
}

func (h *recordingHandler) Remind(_ context.Context, chatID int64, lang string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reminded = append(h.reminded, lang)
	return nil
}

func TestParseLine(t *testing.T) {
	msg, err := ParseLine("42 7 de  look at https://example.com/v?id=1 please")
	require.NoError(t, err)
	assert.Equal(t, Message{ChatID: 42, UserID: 7, Lang: "de", Text: "look at https://example.com/v?id=1 please"}, msg)

	url, ok := msg.URL()
	assert.True(t, ok)
	assert.Equal(t, "https://example.com/v?id=1", url)

	for _, bad := range []string{"42 7 de", "x 7 de hi", "42 y de hi"} {
		_, err := ParseLine(bad)
		assert.Error(t, err, bad)
	}
}

func TestSource_Dispatches(t *testing.T) {
	input := strings.Join([]string{
		"42 7 en https://www.youtube.com/watch?v=1",
		"",
		"garbage",
		"-100 8 ru hello there",
		"-100 9 en http://example.com/a",
	}, "\n")
	h := &recordingHandler{}

	require.NoError(t, NewSource(strings.NewReader(input), h).Run(context.Background()))

	sort.Slice(h.requests, func(i, j int) bool { return h.requests[i].MessageID < h.requests[j].MessageID })
	require.Len(t, h.requests, 2)
	assert.Equal(t, service.Request{
		ChatID: 42, Private: true, UserID: 7, MessageID: 1, Lang: "en", URL: "https://www.youtube.com/watch?v=1",
	}, h.requests[0])
	assert.False(t, h.requests[1].Private)
	assert.Equal(t, "http://example.com/a", h.requests[1].URL)
	assert.Equal(t, []string{"ru"}, h.reminded)
}

func TestMessage_IsCancel(t *testing.T) {
	for text, want := range map[string]bool{
		"/cancel":                      true,
		"/cancel@fetchbot":             true,
		"  /cancel now":                true,
		"/cancellation":                false,
		"please /cancel":               false,
		"https://example.com/v/cancel": false,
	} {
		assert.Equal(t, want, Message{Text: text}.IsCancel(), text)
	}
}

func TestSource_RoutesCancelCommand(t *testing.T) {
	input := strings.Join([]string{
		"42 7 en /cancel",
		"-100 8 en /cancel@fetchbot",
	}, "\n")
	h := &recordingHandler{}

	require.NoError(t, NewSource(strings.NewReader(input), h).Run(context.Background()))

	assert.ElementsMatch(t, []int64{42, -100}, h.cancelled)
	assert.Empty(t, h.requests)
	assert.Empty(t, h.reminded)
}

func TestSource_KeepsOrderWithinChat(t *testing.T) {
	input := strings.Join([]string{
		"42 7 en https://example.com/first",
		"42 7 en https://example.com/second",
		"43 8 en https://example.com/other",
		"42 7 en https://example.com/third",
	}, "\n")
	h := &recordingHandler{slowURL: "https://example.com/first"}

	require.NoError(t, NewSource(strings.NewReader(input), h).Run(context.Background()))

	var chat42 []string
	for _, r := range h.requests {
		if r.ChatID == 42 {
			chat42 = append(chat42, r.URL)
		}
	}
	assert.Equal(t, []string{
		"https://example.com/first",
		"https://example.com/second",
		"https://example.com/third",
	}, chat42)
	require.Len(t, h.requests, 4)
	assert.Equal(t, int64(43), h.requests[0].ChatID, "other chats are not held up")
}

func TestSource_RateLimitsPerChat(t *testing.T) {
	var lines []string
	for range 5 {
		lines = append(lines, "42 7 en https://example.com/v")
	}
	lines = append(lines, "43 7 en https://example.com/v")
	h := &recordingHandler{}

	src := NewSource(strings.NewReader(strings.Join(lines, "\n")), h, WithRateLimit(0.001, 2))
	require.NoError(t, src.Run(context.Background()))

	perChat := map[int64]int{}
	for _, r := range h.requests {
		perChat[r.ChatID]++
	}
	assert.Equal(t, map[int64]int{42: 2, 43: 1}, perChat)
}

func TestSource_StopsOnContext(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewSource(r, &recordingHandler{}).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConsoleNotifier(t *testing.T) {
	var buf bytes.Buffer
	outDir := filepath.Join(t.TempDir(), "out")
	n := NewConsoleNotifier(&buf, outDir)
	ctx := context.Background()

	ref, err := n.Reply(ctx, 42, "Processing...")
	require.NoError(t, err)
	assert.Equal(t, service.MessageRef{ChatID: 42, ID: 1}, ref)
	require.NoError(t, n.Delete(ctx, ref))
	require.NoError(t, n.NotifyError(ctx, 42, "An error occurred."))

	src := filepath.Join(t.TempDir(), "abc.mp3")
	require.NoError(t, os.WriteFile(src, []byte("audio"), 0o644))
	require.NoError(t, n.Deliver(ctx, 42, service.Delivery{Kind: service.DeliveryAudio, Title: "Song", Path: src, Duration: 61}))
	require.NoError(t, n.Deliver(ctx, 42, service.Delivery{Kind: service.DeliveryVideo, Title: "Clip", URL: "https://cdn/v.mp4"}))

	saved, err := os.ReadFile(filepath.Join(outDir, "abc.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "audio", string(saved))

	out := buf.String()
	assert.Contains(t, out, "[chat 42] #1 Processing...")
	assert.Contains(t, out, "[chat 42] ERROR An error occurred.")
	assert.Contains(t, out, `audio "Song" (61s) `+filepath.Join(outDir, "abc.mp3"))
	assert.Contains(t, out, `video "Clip" (0s) https://cdn/v.mp4`)
}

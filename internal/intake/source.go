// Package intake is a line-based stand-in for the chat transport. Each
// input line is one message: "<chatID> <userID> <lang> <text...>".
// Positive chat ids are private chats, negative ones are groups.
package intake

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/MimeLyc/fetchbot/internal/service"
	"github.com/MimeLyc/fetchbot/pkg/log"
)

// Handler is implemented by service.Service.
type Handler interface {
	Handle(ctx context.Context, req service.Request) (string, error)
	Remind(ctx context.Context, chatID int64, lang string) error
	Cancel(ctx context.Context, chatID int64) (int, error)
}

// CancelCommand drops all queued and running jobs.
const CancelCommand = "/cancel"

var urlPattern = regexp.MustCompile(`https?://\S+`)

type Message struct {
	ChatID int64
	UserID int64
	Lang   string
	Text   string
}

// ParseLine splits a raw input line into a Message.
func ParseLine(line string) (Message, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return Message{}, fmt.Errorf("expected \"<chatID> <userID> <lang> <text>\", got %q", line)
	}
	chatID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Message{}, fmt.Errorf("invalid chat id %q: %w", fields[0], err)
	}
	userID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Message{}, fmt.Errorf("invalid user id %q: %w", fields[1], err)
	}
	return Message{
		ChatID: chatID,
		UserID: userID,
		Lang:   fields[2],
		Text:   strings.Join(fields[3:], " "),
	}, nil
}

// IsCancel reports whether the message is the cancel command, with or
// without a bot mention ("/cancel@fetchbot").
func (m Message) IsCancel() bool {
	cmd, _, _ := strings.Cut(strings.TrimSpace(m.Text), " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd == CancelCommand
}

// URL returns the first http(s) link in the message text.
func (m Message) URL() (string, bool) {
	u := urlPattern.FindString(m.Text)
	return u, u != ""
}

type Source struct {
	reader  io.Reader
	handler Handler
	limit   rate.Limit
	burst   int

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	lanes    map[int64][]queued
}

type queued struct {
	msg Message
	id  int64
}

type Option func(*Source)

// WithRateLimit allows each chat rps messages per second with the given
// burst. Messages over the limit are dropped.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Source) {
		s.limit = rate.Limit(rps)
		s.burst = burst
	}
}

func NewSource(r io.Reader, h Handler, opts ...Option) *Source {
	s := &Source{
		reader:   r,
		handler:  h,
		limit:    rate.Inf,
		limiters: make(map[int64]*rate.Limiter),
		lanes:    make(map[int64][]queued),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.burst <= 0 {
		s.burst = 1
	}
	return s
}

// Run dispatches every line until the reader is exhausted or ctx is done,
// then waits for in-flight dispatches. Messages of one chat are handled in
// arrival order; chats are handled concurrently so a chat waiting on an
// update does not hold up the others.
func (s *Source) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.reader)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				scanErr <- nil
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	seq := int64(0)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			seq++
			msg, err := ParseLine(line)
			if err != nil {
				log.Warn("Skip input line %d: %v", seq, err)
				continue
			}
			if !s.allow(msg.ChatID) {
				log.Warn("Rate limit exceeded for chat %d, message dropped", msg.ChatID)
				continue
			}

			s.enqueue(ctx, &wg, queued{msg: msg, id: seq})
		}
	}
}

// enqueue appends q to its chat's lane and starts a drainer for the lane
// when none is running.
func (s *Source) enqueue(ctx context.Context, wg *sync.WaitGroup, q queued) {
	chatID := q.msg.ChatID
	s.mu.Lock()
	lane, active := s.lanes[chatID]
	s.lanes[chatID] = append(lane, q)
	s.mu.Unlock()
	if active {
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			s.mu.Lock()
			lane := s.lanes[chatID]
			if len(lane) == 0 || ctx.Err() != nil {
				delete(s.lanes, chatID)
				s.mu.Unlock()
				return
			}
			next := lane[0]
			s.lanes[chatID] = lane[1:]
			s.mu.Unlock()

			s.dispatch(ctx, next.msg, next.id)
		}
	}()
}

func (s *Source) dispatch(ctx context.Context, msg Message, messageID int64) {
	if msg.IsCancel() {
		if _, err := s.handler.Cancel(ctx, msg.ChatID); err != nil {
			log.Error("Failed to cancel jobs for chat %d: %v", msg.ChatID, err)
		}
		return
	}

	url, ok := msg.URL()
	if !ok {
		if err := s.handler.Remind(ctx, msg.ChatID, msg.Lang); err != nil {
			log.Error("Failed to remind chat %d: %v", msg.ChatID, err)
		}
		return
	}

	_, err := s.handler.Handle(ctx, service.Request{
		ChatID:    msg.ChatID,
		Private:   msg.ChatID > 0,
		UserID:    msg.UserID,
		MessageID: messageID,
		Lang:      msg.Lang,
		URL:       url,
	})
	if err != nil {
		log.Error("Failed to handle %s from chat %d: %v", url, msg.ChatID, err)
	}
}

func (s *Source) allow(chatID int64) bool {
	s.mu.Lock()
	lim, ok := s.limiters[chatID]
	if !ok {
		lim = rate.NewLimiter(s.limit, s.burst)
		s.limiters[chatID] = lim
	}
	s.mu.Unlock()
	return lim.Allow()
}

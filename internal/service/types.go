package service

import (
	"context"

	"github.com/MimeLyc/fetchbot/internal/media"
)

// Request is an inbound link or text that already passed transport checks.
type Request struct {
	ChatID    int64
	Private   bool
	UserID    int64
	MessageID int64
	Lang      string
	URL       string
}

// MessageRef identifies a message sent through the Notifier.
type MessageRef struct {
	ChatID int64
	ID     int64
}

func (r MessageRef) Valid() bool { return r.ID != 0 }

type DeliveryKind string

const (
	DeliveryVideo DeliveryKind = "video"
	DeliveryAudio DeliveryKind = "audio"
	DeliveryLink  DeliveryKind = "link"
)

// Delivery is a finished result. Exactly one of URL and Path is set: URL
// for media the chat platform fetches itself, Path for a local file.
type Delivery struct {
	Kind      DeliveryKind
	Title     string
	URL       string
	Path      string
	Thumbnail string
	Duration  int
	Width     int
	Height    int
	Performer string
	ReplyTo   int64
}

// Notifier is the messaging transport. It owns the wire format and
// markup of everything it sends.
type Notifier interface {
	Reply(ctx context.Context, chatID int64, text string) (MessageRef, error)
	Delete(ctx context.Context, ref MessageRef) error
	Deliver(ctx context.Context, chatID int64, d Delivery) error
	NotifyError(ctx context.Context, chatID int64, text string) error
}

// Extractor resolves and downloads links; media.YTDLP implements it.
type Extractor interface {
	Info(ctx context.Context, url string, extra ...string) (*media.Info, error)
	Download(ctx context.Context, url, dir string, extra ...string) (string, error)
}

// Prober inspects local video files; media.FFmpeg implements it.
type Prober interface {
	Probe(ctx context.Context, path string) (media.VideoMeta, error)
	Thumbnail(ctx context.Context, video string) (string, error)
}

// Translator localises user-facing texts.
type Translator interface {
	Translate(ctx context.Context, text, lang string) string
}

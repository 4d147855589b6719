// Package service turns inbound links into download jobs and delivers
// their results.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/MimeLyc/fetchbot/internal/errlog"
	"github.com/MimeLyc/fetchbot/internal/jobs"
	"github.com/MimeLyc/fetchbot/internal/media"
	"github.com/MimeLyc/fetchbot/internal/updater"
	"github.com/MimeLyc/fetchbot/pkg/log"
)

// Deps are the collaborators of a Service. Prober and Translator are
// optional.
type Deps struct {
	Queue      *jobs.Queue
	Gate       *updater.Gate
	Errors     *errlog.Log
	Extractor  Extractor
	Notifier   Notifier
	Prober     Prober
	Translator Translator

	AdminChatID int64
	TempDir     string
}

type Service struct {
	Deps
}

func New(deps Deps) (*Service, error) {
	switch {
	case deps.Queue == nil:
		return nil, errors.New("service: queue is required")
	case deps.Gate == nil:
		return nil, errors.New("service: update gate is required")
	case deps.Errors == nil:
		return nil, errors.New("service: error log is required")
	case deps.Extractor == nil:
		return nil, errors.New("service: extractor is required")
	case deps.Notifier == nil:
		return nil, errors.New("service: notifier is required")
	}
	return &Service{Deps: deps}, nil
}

// Handle admits a download request and returns the id of its task. While
// an update is running the caller is held back and told so; the request
// is deferred, not dropped.
func (s *Service) Handle(ctx context.Context, req Request) (string, error) {
	if s.Gate.IsUpdating() {
		notice, err := s.Notifier.Reply(ctx, req.ChatID, MaintenanceNotice)
		if err != nil {
			log.Warn("Failed to send maintenance notice to chat %d: %v", req.ChatID, err)
		}
		if err := s.Gate.AwaitIdle(ctx); err != nil {
			return "", fmt.Errorf("wait for update to finish: %w", err)
		}
		s.deleteNotice(ctx, notice)
	}

	processing, err := s.Notifier.Reply(ctx, req.ChatID, ProcessingNotice)
	if err != nil {
		log.Warn("Failed to send processing notice to chat %d: %v", req.ChatID, err)
	}

	id := s.Queue.Submit(req.URL, func(ctx context.Context) error {
		return s.runJob(ctx, req, processing)
	})
	log.Info("Queued %s for chat %d: %s", id, req.ChatID, req.URL)
	return id, nil
}

// Remind answers a message without a link, in the user's language when a
// translation is available.
func (s *Service) Remind(ctx context.Context, chatID int64, lang string) error {
	text := URLReminder
	if s.Translator != nil && lang != "" {
		text = s.Translator.Translate(ctx, URLReminder, lang)
	}
	_, err := s.Notifier.Reply(ctx, chatID, text)
	return err
}

// Cancel drops every queued request and tells running jobs to discard
// their results, then reports the number of dropped requests to chatID.
func (s *Service) Cancel(ctx context.Context, chatID int64) (int, error) {
	discarded := s.Queue.CancelAll()
	log.Info("Chat %d cancelled all jobs, %d queued request(s) discarded", chatID, discarded)
	_, err := s.Notifier.Reply(ctx, chatID, fmt.Sprintf(CancelledNotice, discarded))
	return discarded, err
}

// Shutdown discards queued work, waits for running jobs and flushes the
// error log.
func (s *Service) Shutdown(ctx context.Context) error {
	discarded := s.Queue.CancelAll()
	log.Info("Shutting down, %d queued request(s) discarded", discarded)

	waitErr := s.Queue.WaitIdle(ctx)
	if waitErr != nil {
		waitErr = fmt.Errorf("wait for running jobs: %w", waitErr)
	}
	return errors.Join(waitErr, s.Errors.Close())
}

// runJob is the body of one download task.
func (s *Service) runJob(ctx context.Context, req Request, processing MessageRef) error {
	taskID, _ := jobs.TaskIDFromContext(ctx)
	// Cleanup and error reporting must still happen after CancelAll.
	detached := context.WithoutCancel(ctx)
	defer s.deleteNotice(detached, processing)

	workDir, err := os.MkdirTemp(s.TempDir, "fetchbot-*")
	if err != nil {
		return s.fail(detached, req, taskID, NewErrorWithCause(ErrUnknown, "failed to create work directory", err))
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn("Failed to remove %s: %v", workDir, err)
		}
	}()

	delivery, err := s.fetch(ctx, req, workDir)
	if ctx.Err() != nil {
		log.Info("Discarding result of cancelled %s (%s)", taskID, req.URL)
		return nil
	}
	if err != nil {
		return s.fail(detached, req, taskID, err)
	}

	if err := s.Notifier.Deliver(ctx, req.ChatID, delivery); err != nil {
		return s.fail(detached, req, taskID, NewErrorWithCause(ErrDeliver, "failed to send result", err))
	}
	return nil
}

func (s *Service) fetch(ctx context.Context, req Request, workDir string) (Delivery, error) {
	isTikTok := media.HostMatches(req.URL, "tiktok.com")
	isMusic := media.HostMatches(req.URL, "music.youtube.com")

	var extra []string
	if isTikTok {
		extra = media.TikTokArgs
	}

	info, err := s.Extractor.Info(ctx, req.URL, extra...)
	if err != nil {
		return Delivery{}, NewErrorWithCause(ErrResolve, "failed to resolve link", err)
	}
	if len(info.RequestedDownloads) == 0 || info.RequestedDownloads[0].URL == "" {
		return Delivery{}, NewErrorWithCause(ErrNothingToDownload, "nothing to download", ErrNoDownload)
	}

	format := info.RequestedDownloads[0]
	d := Delivery{
		Title:    media.CleanTitle(info.Title),
		Duration: int(info.Duration),
		ReplyTo:  req.MessageID,
	}

	switch {
	case format.HasVideo() && !isMusic:
		d.Kind = DeliveryVideo
		if !isTikTok {
			d.URL = format.URL
			d.Width, d.Height = format.Width, format.Height
			return d, nil
		}
		// TikTok links expire quickly, so the file is fetched here.
		path, err := s.Extractor.Download(ctx, req.URL, workDir, extra...)
		if err != nil {
			return Delivery{}, NewErrorWithCause(ErrDownload, "failed to download video", err)
		}
		d.Path = path
		s.describeVideo(ctx, &d)
		return d, nil

	case format.HasAudio():
		path, err := s.Extractor.Download(ctx, req.URL, workDir, media.AudioArgs...)
		if err != nil {
			return Delivery{}, NewErrorWithCause(ErrDownload, "failed to extract audio", err)
		}
		d.Kind = DeliveryAudio
		d.Path = path
		d.Title = info.Title
		d.Performer = info.Uploader
		if thumb, ok := media.PickThumbnail(info.Thumbnails, media.MaxThumbnailSize); ok {
			d.Thumbnail = thumb.URL
		}
		return d, nil

	default:
		return Delivery{}, NewErrorWithCause(ErrNothingToDownload, "no video or audio stream", ErrNoDownload)
	}
}

// describeVideo fills size, duration and thumbnail of a local video. It is
// best effort: a failed probe still delivers the file.
func (s *Service) describeVideo(ctx context.Context, d *Delivery) {
	if s.Prober == nil {
		return
	}
	meta, err := s.Prober.Probe(ctx, d.Path)
	if err != nil {
		log.Warn("Failed to probe %s: %v", d.Path, err)
	} else {
		d.Width, d.Height = meta.Width, meta.Height
		if meta.Duration > 0 {
			d.Duration = meta.Duration
		}
	}

	thumb, err := s.Prober.Thumbnail(ctx, d.Path)
	if err != nil {
		log.Warn("Failed to create thumbnail for %s: %v", d.Path, err)
		return
	}
	d.Thumbnail = thumb
}

// fail records err and tells the user and the admin. The returned error is
// what the queue reports for the task.
func (s *Service) fail(ctx context.Context, req Request, taskID string, err error) error {
	kind := TypeOf(err)
	if _, recErr := s.Errors.Record(ctx, errlog.Record{
		UserID:  req.UserID,
		URL:     req.URL,
		Context: fmt.Sprintf("%s %s", kind, taskID),
		Error:   err.Error(),
	}); recErr != nil {
		log.Error("Failed to record error for %s: %v", taskID, recErr)
	}

	if req.Private {
		if nErr := s.Notifier.NotifyError(ctx, req.ChatID, userErrorText(err)); nErr != nil {
			log.Warn("Failed to notify chat %d: %v", req.ChatID, nErr)
		}
	}
	if s.AdminChatID != 0 && s.AdminChatID != req.ChatID {
		if nErr := s.Notifier.NotifyError(ctx, s.AdminChatID, adminErrorText(req, taskID, err)); nErr != nil {
			log.Warn("Failed to notify admin: %v", nErr)
		}
	}
	return err
}

func (s *Service) deleteNotice(ctx context.Context, ref MessageRef) {
	if !ref.Valid() {
		return
	}
	if err := s.Notifier.Delete(ctx, ref); err != nil {
		log.Warn("Failed to delete message %d in chat %d: %v", ref.ID, ref.ChatID, err)
	}
}

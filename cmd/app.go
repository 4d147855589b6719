package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MimeLyc/fetchbot/internal/config"
	"github.com/MimeLyc/fetchbot/internal/errlog"
	"github.com/MimeLyc/fetchbot/internal/httpapi"
	"github.com/MimeLyc/fetchbot/internal/intake"
	"github.com/MimeLyc/fetchbot/internal/jobs"
	"github.com/MimeLyc/fetchbot/internal/llm"
	"github.com/MimeLyc/fetchbot/internal/media"
	"github.com/MimeLyc/fetchbot/internal/metrics"
	"github.com/MimeLyc/fetchbot/internal/persistence"
	"github.com/MimeLyc/fetchbot/internal/service"
	"github.com/MimeLyc/fetchbot/internal/translation"
	"github.com/MimeLyc/fetchbot/internal/updater"
	"github.com/MimeLyc/fetchbot/pkg/log"
)

const queueStatsInterval = 5 * time.Second

type scheduler interface {
	Schedule(ctx context.Context, expr string) error
	Start()
	Stop(ctx context.Context) error
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

type runner interface {
	Run(ctx context.Context) error
}

type drainer interface {
	WaitIdle(ctx context.Context) error
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// components are the long-running parts started by run. http may be nil.
type components struct {
	scheduler scheduler
	http      httpServer
	intake    runner
	queue     drainer
	service   shutdowner
}

type app struct {
	cfg       *config.Config
	collector *metrics.Collector
	queue     *jobs.Queue
	service   *service.Service
	updater   *updater.Updater
	server    *httpapi.Server
	source    *intake.Source
	history   *persistence.SQLiteStore
}

func newApp(cfg *config.Config, in io.Reader, out io.Writer) (*app, error) {
	collector := metrics.NewCollector()

	translator, err := newTranslator(cfg, collector)
	if err != nil {
		return nil, err
	}

	errorLog := errlog.New(cfg.Storage.ErrorsPath(),
		errlog.WithLimit(cfg.ErrorLog.Limit),
		errlog.WithFlushDelay(cfg.ErrorLog.FlushDelay),
		errlog.WithMaxTextLength(cfg.ErrorLog.TextLimit),
		errlog.WithObserver(collector.ErrorRecorded),
	)

	observer := jobs.Observer(collector)
	history, err := openHistory(cfg)
	if err != nil {
		return nil, err
	}
	if history != nil {
		observer = jobs.Observers(collector, persistence.NewRecorder(history))
	}

	queue := jobs.NewQueue(
		jobs.WithConcurrency(cfg.Queue.Concurrency),
		jobs.WithObserver(observer),
	)
	gate := updater.NewGate(updater.WithGateHook(collector.GateChanged))

	ytdlp := media.NewYTDLP(cfg.Media.YTDLPPath, media.WithCookieFile(cfg.Storage.CookiesPath()))
	ffmpeg := media.NewFFmpeg(cfg.Media.FFmpegPath, cfg.Media.FFprobePath)

	svc, err := service.New(service.Deps{
		Queue:       queue,
		Gate:        gate,
		Errors:      errorLog,
		Extractor:   ytdlp,
		Notifier:    intake.NewConsoleNotifier(out, cfg.Media.OutputDir),
		Prober:      ffmpeg,
		Translator:  translator,
		AdminChatID: cfg.Bot.AdminChatID,
		TempDir:     cfg.Media.TempDir,
	})
	if err != nil {
		_ = history.Close()
		return nil, err
	}

	upd := updater.New(gate, queue, ytdlp,
		updater.WithDrainTimeout(cfg.Update.DrainTimeout),
		updater.WithResultHandler(collector.UpdateFinished),
	)

	return &app{
		cfg:       cfg,
		collector: collector,
		queue:     queue,
		service:   svc,
		updater:   upd,
		server:    httpapi.NewServer(queue, gate, httpapi.WithMetrics(collector.Handler())),
		source:    intake.NewSource(in, svc, intake.WithRateLimit(cfg.Bot.IntakeRPS, cfg.Bot.IntakeBurst)),
		history:   history,
	}, nil
}

// openHistory opens the task archive and trims it. A nil store means the
// archive is disabled.
func openHistory(cfg *config.Config) (*persistence.SQLiteStore, error) {
	dbPath := cfg.Storage.HistoryPath()
	if dbPath == "" {
		return nil, nil
	}
	store, err := persistence.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open task history: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if removed, err := store.Prune(ctx, cfg.Storage.HistoryKeep); err != nil {
		log.Warn("Failed to prune task history: %v", err)
	} else if removed > 0 {
		log.Info("Pruned %d archived task(s)", removed)
	}
	return store, nil
}

func (a *app) close() error {
	return a.history.Close()
}

// newTranslator builds the cached translator. Without an API key texts are
// passed through untranslated. collector may be nil.
func newTranslator(cfg *config.Config, collector *metrics.Collector) (*translation.Translator, error) {
	var backend translation.Backend
	if cfg.LLM.Enabled() {
		client, err := llm.NewClient(cfg.LLM.Client())
		if err != nil {
			return nil, err
		}
		backend = translation.NewLLMBackend(client)
	} else {
		log.Info("LLM_API_KEY is not set, translation disabled")
	}

	opts := []translation.Option{translation.WithSourceLanguage(cfg.Translate.SourceTag())}
	if collector != nil {
		opts = append(opts, translation.WithLookupObserver(collector.TranslationLookup))
	}
	return translation.NewTranslator(translation.NewCache(cfg.Storage.TranslationsPath()), backend, opts...), nil
}

func (a *app) run(ctx context.Context) error {
	go a.reportQueueStats(ctx)

	c := components{
		scheduler: a.updater,
		intake:    a.source,
		queue:     a.queue,
		service:   a.service,
	}
	if a.cfg.HTTP.Addr != "" {
		c.http = a.server
	}
	return errors.Join(runWithComponents(ctx, a.cfg, c), a.close())
}

func (a *app) reportQueueStats(ctx context.Context) {
	ticker := time.NewTicker(queueStatsInterval)
	defer ticker.Stop()
	for {
		a.collector.UpdateQueueStats(a.queue.Stats())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runWithComponents runs until ctx is cancelled, the HTTP server fails or
// the input is exhausted. Input running dry lets queued work finish; any
// other exit discards it.
func runWithComponents(ctx context.Context, cfg *config.Config, c components) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Update.CronExpr != "" {
		if err := c.scheduler.Schedule(runCtx, cfg.Update.CronExpr); err != nil {
			return err
		}
	}
	c.scheduler.Start()

	httpErr := make(chan error, 1)
	if c.http != nil {
		go func() {
			log.Info("HTTP server listening on %s", cfg.HTTP.Addr)
			if err := c.http.ListenAndServe(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				httpErr <- err
			}
		}()
	}

	intakeDone := make(chan error, 1)
	go func() { intakeDone <- c.intake.Run(runCtx) }()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	case err := <-httpErr:
		runErr = fmt.Errorf("http server: %w", err)
	case err := <-intakeDone:
		intakeDone <- err
		switch {
		case ctx.Err() != nil:
			log.Info("Received shutdown signal")
		case err != nil:
			runErr = fmt.Errorf("read input: %w", err)
		default:
			log.Info("Input closed, waiting for queued downloads")
			if err := c.queue.WaitIdle(ctx); err != nil {
				log.Warn("Stopped waiting for downloads: %v", err)
			}
		}
	}

	cancel()
	if err := <-intakeDone; err != nil && !errors.Is(err, context.Canceled) && runErr == nil {
		runErr = fmt.Errorf("read input: %w", err)
	}

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), cfg.Queue.ShutdownTimeout)
	defer stop()

	errs := []error{runErr}
	if err := c.scheduler.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}
	if err := c.service.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if c.http != nil {
		if err := c.http.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
		}
	}
	return errors.Join(errs...)
}

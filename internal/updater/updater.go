package updater

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/fetchbot/pkg/icron"
	"github.com/MimeLyc/fetchbot/pkg/log"
)

// ErrAlreadyUpdating is returned by RunOnce when another update holds the gate.
var ErrAlreadyUpdating = errors.New("update already in progress")

// Drainer is waited on before maintenance starts.
type Drainer interface {
	WaitIdle(ctx context.Context) error
}

// Maintainer performs the maintenance action itself, e.g. upgrading yt-dlp.
type Maintainer interface {
	Update(ctx context.Context) error
}

type Updater struct {
	gate         *Gate
	drainer      Drainer
	maintainer   Maintainer
	drainTimeout time.Duration
	onResult     func(err error, elapsed time.Duration)

	mu   sync.Mutex
	cron *cron.Cron
	expr string
}

type Option func(*Updater)

// WithDrainTimeout bounds how long RunOnce waits for running jobs. Zero
// waits indefinitely.
func WithDrainTimeout(d time.Duration) Option {
	return func(u *Updater) { u.drainTimeout = d }
}

// WithResultHandler is called after every completed maintenance run.
func WithResultHandler(fn func(err error, elapsed time.Duration)) Option {
	return func(u *Updater) { u.onResult = fn }
}

func New(gate *Gate, drainer Drainer, maintainer Maintainer, opts ...Option) *Updater {
	u := &Updater{
		gate:       gate,
		drainer:    drainer,
		maintainer: maintainer,
		cron:       cron.New(cron.WithParser(icron.Parser)),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// RunOnce closes the gate, waits for the queue to drain, runs the
// maintenance action and always reopens the gate.
func (u *Updater) RunOnce(ctx context.Context) error {
	if _, began := u.gate.BeginUpdate(); !began {
		return ErrAlreadyUpdating
	}
	defer u.gate.EndUpdate()

	start := time.Now()
	log.Info("Maintenance started, waiting for running jobs")

	if u.drainer != nil {
		drainCtx := ctx
		if u.drainTimeout > 0 {
			var cancel context.CancelFunc
			drainCtx, cancel = context.WithTimeout(ctx, u.drainTimeout)
			defer cancel()
		}
		if err := u.drainer.WaitIdle(drainCtx); err != nil {
			err = fmt.Errorf("wait for queue to drain: %w", err)
			u.report(err, time.Since(start))
			return err
		}
	}

	err := u.maintainer.Update(ctx)
	if err != nil {
		err = fmt.Errorf("maintenance failed: %w", err)
	}
	u.report(err, time.Since(start))
	return err
}

func (u *Updater) report(err error, elapsed time.Duration) {
	if err != nil {
		log.Error("%v", err)
	} else {
		log.Info("Maintenance finished in %s", elapsed.Round(time.Millisecond))
	}
	if u.onResult != nil {
		u.onResult(err, elapsed)
	}
}

// Schedule registers RunOnce on the cron expression (seconds field first).
func (u *Updater) Schedule(ctx context.Context, expr string) error {
	_, err := u.cron.AddFunc(expr, func() {
		if err := u.RunOnce(ctx); errors.Is(err, ErrAlreadyUpdating) {
			log.Warn("Skip scheduled maintenance: %v", err)
		}
		u.logNext()
	})
	if err != nil {
		return fmt.Errorf("invalid update schedule %q: %w", expr, err)
	}

	u.mu.Lock()
	u.expr = expr
	u.mu.Unlock()
	return nil
}

func (u *Updater) Start() {
	u.cron.Start()
	u.logNext()
}

// Stop halts the scheduler and waits for a run in progress.
func (u *Updater) Stop(ctx context.Context) error {
	stopped := u.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (u *Updater) logNext() {
	u.mu.Lock()
	expr := u.expr
	u.mu.Unlock()
	if expr == "" {
		return
	}

	info, err := icron.GetTriggerInfo(expr, time.Now())
	if err != nil {
		log.Warn("Failed to compute next maintenance time: %v", err)
		return
	}
	log.Info("Next maintenance at %s (in %s)", info.Next.Format(time.RFC3339), info.TimeUntilNext.Round(time.Second))
}

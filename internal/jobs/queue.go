// Package jobs runs fire-and-forget jobs with a bounded number of them in
// flight at once. Jobs start in submission order, failures are contained at
// the job boundary and CancelAll drops everything not yet started.
package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/MimeLyc/fetchbot/pkg/log"
)

const defaultHistory = 1000

type entry struct {
	seq  uint64
	task Task
	job  Job
}

type Queue struct {
	limit     int
	history   int
	onFailure func(Task, error)
	observer  Observer

	mu         sync.Mutex
	tasks      map[string]*entry
	pending    []*entry
	running    int
	idCounter  uint64
	generation uint64
	genCtx     context.Context
	genCancel  context.CancelFunc
	idle       chan struct{}
}

type Option func(*Queue)

// WithConcurrency sets how many jobs may run at once. Values below one
// are treated as one.
func WithConcurrency(n int) Option {
	return func(q *Queue) { q.limit = n }
}

// WithFailureHandler is called after a job returns an error or panics.
func WithFailureHandler(fn func(Task, error)) Option {
	return func(q *Queue) { q.onFailure = fn }
}

func WithObserver(o Observer) Option {
	return func(q *Queue) { q.observer = o }
}

// WithHistory bounds how many terminal tasks are kept for Get and List.
func WithHistory(n int) Option {
	return func(q *Queue) { q.history = n }
}

func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		limit:   1,
		history: defaultHistory,
		tasks:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.limit <= 0 {
		q.limit = 1
	}
	q.genCtx, q.genCancel = context.WithCancel(context.Background())
	return q
}

// Submit appends job to the pending list and returns its task id. It never
// blocks; the job runs once a concurrency slot is free.
func (q *Queue) Submit(label string, job Job) string {
	now := time.Now()

	q.mu.Lock()
	q.idCounter++
	e := &entry{
		seq: q.idCounter,
		job: job,
		task: Task{
			ID:          fmt.Sprintf("job-%d", q.idCounter),
			Label:       label,
			Status:      StatusPending,
			Generation:  q.generation,
			SubmittedAt: now,
		},
	}
	q.tasks[e.task.ID] = e
	q.pending = append(q.pending, e)
	snapshot := e.task
	starting, ctx := q.admitLocked()
	q.mu.Unlock()

	if q.observer != nil {
		q.observer.TaskSubmitted(snapshot)
	}
	q.launch(ctx, starting)
	return snapshot.ID
}

// CancelAll discards every pending job, bumps the generation and cancels the
// context handed to running jobs. Running jobs are not interrupted; they
// are expected to notice ctx.Done() and drop their results. It returns the
// number of discarded jobs.
func (q *Queue) CancelAll() int {
	now := time.Now()

	q.mu.Lock()
	discarded := len(q.pending)
	for _, e := range q.pending {
		e.task.Status = StatusDiscarded
		e.task.FinishedAt = now
	}
	q.pending = nil
	q.generation++
	q.genCancel()
	q.genCtx, q.genCancel = context.WithCancel(context.Background())
	generation := q.generation
	q.pruneTerminalLocked()
	q.signalIdleLocked()
	q.mu.Unlock()

	log.Info("Cancelled queue: %d pending job(s) discarded, generation %d", discarded, generation)
	if q.observer != nil {
		q.observer.TasksDiscarded(discarded)
	}
	return discarded
}

func (q *Queue) Generation() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.generation
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:    len(q.pending),
		Running:    q.running,
		Limit:      q.limit,
		Generation: q.generation,
	}
}

func (q *Queue) Get(id string) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.tasks[id]
	if !ok {
		return Task{}, false
	}
	return e.task, true
}

// List returns the known tasks in submission order.
func (q *Queue) List() []Task {
	q.mu.Lock()
	entries := make([]*entry, 0, len(q.tasks))
	for _, e := range q.tasks {
		entries = append(entries, e)
	}
	ret := make([]Task, 0, len(entries))
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	for _, e := range entries {
		ret = append(ret, e.task)
	}
	q.mu.Unlock()
	return ret
}

// WaitIdle blocks until nothing is pending or running, or ctx is done.
func (q *Queue) WaitIdle(ctx context.Context) error {
	q.mu.Lock()
	if len(q.pending) == 0 && q.running == 0 {
		q.mu.Unlock()
		return nil
	}
	if q.idle == nil {
		q.idle = make(chan struct{})
	}
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// admitLocked moves pending entries to running while slots are free.
func (q *Queue) admitLocked() ([]*entry, context.Context) {
	var starting []*entry
	now := time.Now()
	for q.running < q.limit && len(q.pending) > 0 {
		e := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]

		e.task.Status = StatusRunning
		e.task.StartedAt = now
		q.running++
		starting = append(starting, e)
	}
	return starting, q.genCtx
}

func (q *Queue) launch(ctx context.Context, starting []*entry) {
	for _, e := range starting {
		go q.run(ctx, e)
	}
}

func (q *Queue) run(ctx context.Context, e *entry) {
	q.mu.Lock()
	started := e.task
	q.mu.Unlock()
	if q.observer != nil {
		q.observer.TaskStarted(started)
	}

	err := execute(context.WithValue(ctx, taskIDKey{}, started.ID), e.job)
	now := time.Now()

	q.mu.Lock()
	e.task.Status = StatusFinished
	e.task.FinishedAt = now
	if err != nil {
		e.task.Error = err.Error()
	}
	e.job = nil
	snapshot := e.task
	q.mu.Unlock()

	if err != nil {
		log.Error("Job %s (%s) failed: %v", snapshot.ID, snapshot.Label, err)
		if q.onFailure != nil {
			q.onFailure(snapshot, err)
		}
	}
	if q.observer != nil {
		q.observer.TaskFinished(snapshot, err, snapshot.FinishedAt.Sub(snapshot.StartedAt))
	}

	// The slot is held until the callbacks above return so that WaitIdle
	// also covers failure reporting.
	q.mu.Lock()
	q.running--
	q.pruneTerminalLocked()
	next, nextCtx := q.admitLocked()
	q.signalIdleLocked()
	q.mu.Unlock()

	q.launch(nextCtx, next)
}

type taskIDKey struct{}

// TaskIDFromContext returns the id of the task whose job received ctx.
func TaskIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(taskIDKey{}).(string)
	return id, ok
}

// execute runs job and turns a panic into an error.
func execute(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Debug("Recovered job panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job(ctx)
}

func (q *Queue) signalIdleLocked() {
	if q.idle == nil || len(q.pending) > 0 || q.running > 0 {
		return
	}
	close(q.idle)
	q.idle = nil
}

func (q *Queue) pruneTerminalLocked() {
	if q.history <= 0 {
		return
	}
	terminal := make([]*entry, 0, len(q.tasks))
	for _, e := range q.tasks {
		if e.task.Status.Terminal() {
			terminal = append(terminal, e)
		}
	}
	toRemove := len(terminal) - q.history
	if toRemove <= 0 {
		return
	}

	sort.Slice(terminal, func(i, j int) bool {
		a, b := terminal[i], terminal[j]
		if a.task.FinishedAt.Equal(b.task.FinishedAt) {
			return a.seq < b.seq
		}
		return a.task.FinishedAt.Before(b.task.FinishedAt)
	})
	for _, e := range terminal[:toRemove] {
		delete(q.tasks, e.task.ID)
	}
}

package persistence

import (
	"context"
	"time"

	"github.com/MimeLyc/fetchbot/internal/jobs"
	"github.com/MimeLyc/fetchbot/pkg/log"
)

const archiveTimeout = 5 * time.Second

// Recorder is a jobs.Observer that archives every finished task.
type Recorder struct {
	store *SQLiteStore
}

var _ jobs.Observer = (*Recorder)(nil)

func NewRecorder(store *SQLiteStore) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) TaskSubmitted(jobs.Task) {}

func (r *Recorder) TaskStarted(jobs.Task) {}

func (r *Recorder) TasksDiscarded(int) {}

func (r *Recorder) TaskFinished(task jobs.Task, _ error, _ time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := r.store.SaveTask(ctx, task); err != nil {
		log.Error("Failed to archive task: %v", err)
	}
}

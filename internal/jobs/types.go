package jobs

import (
	"context"
	"time"
)

// Job is the body of a submitted task. The context is cancelled when the
// queue generation the task was admitted under is cancelled.
type Job func(ctx context.Context) error

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusFinished  Status = "finished"
	StatusDiscarded Status = "discarded"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusDiscarded
}

// Task is a point-in-time snapshot of a submitted job.
type Task struct {
	ID          string    `json:"id"`
	Label       string    `json:"label"`
	Status      Status    `json:"status"`
	Generation  uint64    `json:"generation"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
}

type Stats struct {
	Pending    int    `json:"pending"`
	Running    int    `json:"running"`
	Limit      int    `json:"limit"`
	Generation uint64 `json:"generation"`
}

// Observer receives task transitions. Calls are made outside the queue lock
// and may arrive concurrently from different jobs.
type Observer interface {
	TaskSubmitted(task Task)
	TaskStarted(task Task)
	TaskFinished(task Task, err error, elapsed time.Duration)
	TasksDiscarded(n int)
}

type observers []Observer

// Observers fans every transition out to all of obs in order.
func Observers(obs ...Observer) Observer {
	return observers(obs)
}

func (o observers) TaskSubmitted(task Task) {
	for _, ob := range o {
		ob.TaskSubmitted(task)
	}
}

func (o observers) TaskStarted(task Task) {
	for _, ob := range o {
		ob.TaskStarted(task)
	}
}

func (o observers) TaskFinished(task Task, err error, elapsed time.Duration) {
	for _, ob := range o {
		ob.TaskFinished(task, err, elapsed)
	}
}

func (o observers) TasksDiscarded(n int) {
	for _, ob := range o {
		ob.TasksDiscarded(n)
	}
}

package docstore

import (
	"context"
	"sync"
)

type loadState int

const (
	stateNotLoaded loadState = iota
	stateLoading
	stateLoaded
)

// Document is a typed JSON document bound to one file. It is loaded lazily on
// first access; concurrent first callers share a single read.
type Document[T any] struct {
	path     string
	fallback func() T
	opts     []Option

	normalize func(*T)

	mu    sync.Mutex
	state loadState
	done  chan struct{}
	value T

	// serialises flushes so an older snapshot never lands after a newer one
	writeMu sync.Mutex
}

// NewDocument binds a document to path. fallback builds the value used when
// the file is missing or unreadable; it is called once per failed load.
func NewDocument[T any](path string, fallback func() T, opts ...Option) *Document[T] {
	return &Document[T]{
		path:     path,
		fallback: fallback,
		opts:     opts,
	}
}

// WithNormalize registers a hook that fills missing fields after every load.
func (d *Document[T]) WithNormalize(fn func(*T)) *Document[T] {
	d.normalize = fn
	return d
}

func (d *Document[T]) Path() string {
	return d.path
}

// Load reads the document once. Callers arriving while another load is in
// flight wait for it, or for ctx. If that load panics the document stays
// unloaded and the next caller retries.
func (d *Document[T]) Load(ctx context.Context) error {
	for {
		d.mu.Lock()
		switch d.state {
		case stateLoaded:
			d.mu.Unlock()
			return nil
		case stateLoading:
			done := d.done
			d.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		d.state = stateLoading
		done := make(chan struct{})
		d.done = done
		d.mu.Unlock()

		d.load(done)
		return nil
	}
}

func (d *Document[T]) load(done chan struct{}) {
	loaded := false
	defer func() {
		if loaded {
			return
		}
		d.mu.Lock()
		d.state = stateNotLoaded
		close(done)
		d.mu.Unlock()
	}()

	value := ReadJSON(d.path, d.fallback(), d.opts...)
	if d.normalize != nil {
		d.normalize(&value)
	}

	d.mu.Lock()
	d.value = value
	d.state = stateLoaded
	close(done)
	d.mu.Unlock()
	loaded = true
}

func (d *Document[T]) Loaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == stateLoaded
}

// View runs fn with the loaded value under the document lock. fn must not
// retain references into the value.
func (d *Document[T]) View(ctx context.Context, fn func(T)) error {
	if err := d.Load(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.value)
	return nil
}

// Update mutates the in-memory value. It does not write to disk.
func (d *Document[T]) Update(ctx context.Context, fn func(*T)) error {
	if err := d.Load(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(&d.value)
	return nil
}

// Flush writes the current value atomically. A document that was never
// loaded is left untouched on disk.
func (d *Document[T]) Flush() error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	d.mu.Lock()
	if d.state != stateLoaded {
		d.mu.Unlock()
		return nil
	}
	data, err := marshal(d.value)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	return WriteFileAtomic(d.path, data)
}

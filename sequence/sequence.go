// Package sequence runs posted tasks one at a time, in posting order, on a
// single goroutine. State owned by a Runner may be touched without locks
// from its tasks.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// ErrClosed is returned when work is posted to a closed Runner.
var ErrClosed = errors.New("sequence runner closed")

// Task is a unit of work. ctx is owned by the Runner that runs it.
type Task func(ctx context.Context)

type ownerKey struct{}

// Runner is a sequenced task runner.
type Runner struct {
	logger *slog.Logger
	ctx    context.Context

	mu      sync.Mutex
	queue   []Task
	closed  bool
	started bool

	wake chan struct{}
	done chan struct{}
}

// New returns a Runner. Tasks may be posted before Start and run once it is called.
func New(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	r.ctx = context.WithValue(context.Background(), ownerKey{}, r)

	return r
}

// Start launches the runner goroutine. Calling it more than once is a no-op.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started || r.closed {
		return
	}
	r.started = true

	go r.loop()
}

// Post appends t to the queue. It reports false if the Runner is closed.
func (r *Runner) Post(t Task) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.queue = append(r.queue, t)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}

	return true
}

// PostDelayed posts t after d. The returned func stops the timer and
// reports whether it did so before t was posted.
func (r *Runner) PostDelayed(t Task, d time.Duration) func() bool {
	timer := time.AfterFunc(d, func() {
		r.Post(t)
	})

	return timer.Stop
}

// Run posts t and waits for it to finish. When ctx already belongs to the
// Runner, t runs inline to avoid deadlocking on itself.
func (r *Runner) Run(ctx context.Context, t Task) error {
	if r.Owns(ctx) {
		t(ctx)
		return nil
	}

	finished := make(chan struct{})
	ok := r.Post(func(ctx context.Context) {
		defer close(finished)
		t(ctx)
	})
	if !ok {
		return ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for task: %w", ctx.Err())
	}
}

// Owns reports whether ctx was handed out by this Runner.
func (r *Runner) Owns(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	owner, _ := ctx.Value(ownerKey{}).(*Runner)
	return owner == r
}

// Close stops accepting tasks, waits for queued ones to finish and
// stops the goroutine. A Runner that was never started drops its queue.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	started := r.started
	if !started {
		r.queue = nil
	}
	r.mu.Unlock()

	if !started {
		close(r.done)
		return nil
	}

	select {
	case r.wake <- struct{}{}:
	default:
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("closing sequence runner: %w", ctx.Err())
	}
}

func (r *Runner) loop() {
	defer close(r.done)

	for {
		r.mu.Lock()
		batch := r.queue
		r.queue = nil
		closed := r.closed
		r.mu.Unlock()

		for _, t := range batch {
			r.exec(t)
		}

		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}

		<-r.wake
	}
}

func (r *Runner) exec(t Task) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("sequenced task panicked", "panic", rec, "trace", string(debug.Stack()))
		}
	}()

	t(r.ctx)
}

package scheduler

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/adamwoolhether/fetchq/request"
	"github.com/adamwoolhether/fetchq/runner"
)

// State is the lifecycle position of a submitted descriptor.
type State int32

const (
	Queued State = iota
	Running
	Finished
	Cancelled
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// task is the scheduler's record of one submission. The descriptor itself
// stays immutable; all runtime state lives here.
type task struct {
	desc     *request.Descriptor
	seq      uint64
	listener Listener
	index    int

	state atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc

	handle *Handle
}

func (t *task) State() State {
	return State(t.state.Load())
}

// transition moves the task from one state to another, reporting success.
func (t *task) transition(from, to State) bool {
	return t.state.CompareAndSwap(int32(from), int32(to))
}

// markCancelled moves a queued or running task to Cancelled and returns
// the state it left. Terminal tasks are left alone.
func (t *task) markCancelled() (State, bool) {
	for {
		s := t.State()
		if s == Finished || s == Cancelled {
			return s, false
		}
		if t.transition(s, Cancelled) {
			return s, true
		}
	}
}

// Handle tracks one asynchronous submission.
type Handle struct {
	t    *task
	q    *Queue
	once sync.Once
	done chan struct{}
	res  runner.Result
}

func newHandle(t *task, q *Queue) *Handle {
	return &Handle{t: t, q: q, done: make(chan struct{})}
}

// Done is closed once the submission has been delivered or cancelled.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result blocks until Done and returns the outcome.
func (h *Handle) Result() runner.Result {
	<-h.done
	return h.res
}

// Err blocks until Done and returns the outcome's error.
func (h *Handle) Err() error {
	return h.Result().Err
}

// Cancel cancels this submission. Cancelling a finished or already
// cancelled submission is a no-op.
func (h *Handle) Cancel(force bool) {
	h.q.cancel(h.t, force)
}

// State returns the submission's current lifecycle state.
func (h *Handle) State() State { return h.t.State() }

// Sequence returns the submission order number.
func (h *Handle) Sequence() uint64 { return h.t.seq }

// Descriptor returns the submitted descriptor.
func (h *Handle) Descriptor() *request.Descriptor { return h.t.desc }

func (h *Handle) resolve(res runner.Result) {
	h.once.Do(func() {
		h.res = res
		close(h.done)
	})
}

// Package scheduler orders request descriptors by priority, runs them on a
// fixed worker pool and hands results to a single delivery context.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/adamwoolhether/fetchq/request"
	"github.com/adamwoolhether/fetchq/runner"
	"github.com/adamwoolhether/fetchq/sequence"
)

// ErrClosed is returned for submissions after Shutdown.
var ErrClosed = errors.New("scheduler closed")

// Executor runs one descriptor. [runner.Runner] implements it.
type Executor interface {
	Run(ctx context.Context, d *request.Descriptor) runner.Result
}

// Delivery is the single ordered context that receives every result.
// [sequence.Runner] implements it.
type Delivery interface {
	Post(t sequence.Task) bool
}

// Queue is a priority ready-queue drained by a fixed pool of workers.
type Queue struct {
	exec     Executor
	delivery Delivery
	logger   *slog.Logger
	observer Observer
	workers  int

	seq atomic.Uint64

	mu      sync.Mutex
	cond    *sync.Cond
	ready   taskHeap
	live    map[*task]struct{}
	started bool
	closed  bool

	g          *errgroup.Group
	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// New returns a Queue executing through exec and delivering on delivery.
func New(exec Executor, delivery Delivery, optFns ...Option) (*Queue, error) {
	if exec == nil || delivery == nil {
		return nil, errors.New("executor and delivery must not be nil")
	}

	opts := options{workers: DefaultWorkers}
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying scheduler option: %w", err)
		}
	}

	q := Queue{
		exec:     exec,
		delivery: delivery,
		logger:   opts.logger,
		observer: opts.observer,
		workers:  opts.workers,
		live:     make(map[*task]struct{}),
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	q.cond = sync.NewCond(&q.mu)
	q.baseCtx, q.baseCancel = context.WithCancel(context.Background())

	return &q, nil
}

// Start launches the worker pool. Calling it more than once is a no-op.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started || q.closed {
		return
	}
	q.started = true

	q.g = new(errgroup.Group)
	for i := range q.workers {
		q.g.Go(func() error {
			q.work(i)
			return nil
		})
	}

	q.logger.Debug("scheduler started", "workers", q.workers)
}

// Submit enqueues d for asynchronous execution. l may be nil when the
// caller only waits on the returned Handle.
func (q *Queue) Submit(d *request.Descriptor, l Listener) (*Handle, error) {
	if d == nil {
		return nil, errors.New("descriptor must not be nil")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}

	t := q.newTask(q.baseCtx, d, l)
	t.handle = newHandle(t, q)

	heap.Push(&q.ready, t)
	q.live[t] = struct{}{}
	q.cond.Signal()

	return t.handle, nil
}

// Execute runs d on the calling goroutine, bypassing the worker pool. It is
// still tracked for tag cancellation; a cancelled call returns a
// request.ErrCancelled error.
func (q *Queue) Execute(ctx context.Context, d *request.Descriptor) runner.Result {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return runner.Result{Err: ErrClosed}
	}
	t := q.newTask(ctx, d, nil)
	t.state.Store(int32(Running))
	q.live[t] = struct{}{}
	q.mu.Unlock()

	defer t.cancel()

	res := q.exec.Run(t.ctx, d)
	q.untrack(t)

	q.delivery.Post(func(context.Context) { q.observe(d, res) })

	if !t.transition(Running, Finished) {
		discard(res)
		return runner.Result{Err: request.CancelledError(context.Canceled)}
	}

	return res
}

// Cancel cancels every queued or running submission whose tag equals tag.
// A nil tag matches nothing.
func (q *Queue) Cancel(tag any, force bool) {
	for _, t := range q.matching(func(t *task) bool { return t.desc.Matches(tag) }) {
		q.cancel(t, force)
	}
}

// CancelAll cancels every queued or running submission.
func (q *Queue) CancelAll(force bool) {
	for _, t := range q.matching(func(*task) bool { return true }) {
		q.cancel(t, force)
	}
}

// IsRunning reports whether a submission carrying tag is executing on a
// worker or through Execute. Queued submissions do not count.
func (q *Queue) IsRunning(tag any) bool {
	running := q.matching(func(t *task) bool {
		return t.State() == Running && t.desc.Matches(tag)
	})
	return len(running) > 0
}

// Len returns the number of submissions waiting for a worker.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	var n int
	for t := range q.live {
		if t.State() == Queued {
			n++
		}
	}
	return n
}

// Shutdown stops accepting submissions, cancels queued ones without
// delivery and waits for running ones. If ctx ends first, running
// transport calls are aborted.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true

	var queued []*task
	for q.ready.Len() > 0 {
		queued = append(queued, heap.Pop(&q.ready).(*task))
	}
	g := q.g
	q.cond.Broadcast()
	q.mu.Unlock()

	for _, t := range queued {
		q.cancel(t, false)
	}

	if g == nil {
		q.baseCancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.baseCancel()
		q.logger.Debug("scheduler stopped")
		return nil
	case <-ctx.Done():
		q.baseCancel()
		<-done
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

func (q *Queue) newTask(parent context.Context, d *request.Descriptor, l Listener) *task {
	ctx, cancel := context.WithCancel(parent)
	return &task{
		desc:     d,
		seq:      q.seq.Add(1),
		listener: l,
		index:    -1,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (q *Queue) work(id int) {
	for {
		q.mu.Lock()
		for q.ready.Len() == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.ready.Len() == 0 {
			q.mu.Unlock()
			return
		}
		t := heap.Pop(&q.ready).(*task)
		q.mu.Unlock()

		// Cancelled while queued.
		if !t.transition(Queued, Running) {
			continue
		}

		q.logger.Debug("worker picked request", "worker", id, "id", t.desc.ID, "seq", t.seq, "priority", t.desc.Priority)

		res := q.exec.Run(t.ctx, t.desc)
		q.untrack(t)
		q.deliver(t, res)
	}
}

// deliver posts the result to the delivery context. The task finishes
// there, so a non-forced cancel issued before the post runs still wins.
// Call metrics are observed either way; only the listener is skipped.
func (q *Queue) deliver(t *task, res runner.Result) {
	ok := q.delivery.Post(func(context.Context) {
		defer t.cancel()

		q.observe(t.desc, res)

		if !t.transition(Running, Finished) {
			discard(res)
			return
		}

		q.notify(t, res)
	})
	if ok {
		return
	}

	defer t.cancel()
	if t.transition(Running, Finished) {
		q.logger.Warn("delivery closed, dropping callback", "id", t.desc.ID)
		t.handle.resolve(res)
		return
	}
	discard(res)
}

// cancel marks t cancelled. Forced cancellation aborts the transport call
// and delivers one cancelled error; otherwise nothing is delivered.
func (q *Queue) cancel(t *task, force bool) {
	prev, ok := t.markCancelled()
	if !ok {
		return
	}
	q.untrack(t)

	cancelled := runner.Result{Err: request.CancelledError(context.Canceled)}

	if prev == Queued || force {
		t.cancel()
	}

	if t.handle == nil {
		return
	}

	if !force {
		t.handle.resolve(cancelled)
		return
	}

	if !q.delivery.Post(func(context.Context) { q.notify(t, cancelled) }) {
		t.handle.resolve(cancelled)
	}
}

func (q *Queue) notify(t *task, res runner.Result) {
	defer t.handle.resolve(res)

	if t.listener == nil {
		return
	}
	if res.Err != nil {
		t.listener.OnError(res.Err)
		return
	}
	t.listener.OnSuccess(res)
}

func (q *Queue) observe(d *request.Descriptor, res runner.Result) {
	if d.OnMetrics != nil {
		d.OnMetrics(res.Metrics)
	}
	if q.observer != nil {
		q.observer(d, res.Metrics)
	}
}

func (q *Queue) untrack(t *task) {
	q.mu.Lock()
	delete(q.live, t)
	q.mu.Unlock()
}

func (q *Queue) matching(match func(*task) bool) []*task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*task
	for t := range q.live {
		if s := t.State(); (s == Queued || s == Running) && match(t) {
			out = append(out, t)
		}
	}
	return out
}

// discard releases a result nobody will receive.
func discard(res runner.Result) {
	if res.Response != nil && res.Response.Body != nil {
		res.Response.Body.Close()
	}
}

package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/adamwoolhether/fetchq/request"
	"github.com/adamwoolhether/fetchq/runner"
	"github.com/adamwoolhether/fetchq/scheduler"
	"github.com/adamwoolhether/fetchq/sequence"
)

type execFunc func(ctx context.Context, d *request.Descriptor) runner.Result

func (f execFunc) Run(ctx context.Context, d *request.Descriptor) runner.Result { return f(ctx, d) }

func okExec(_ context.Context, d *request.Descriptor) runner.Result {
	return runner.Result{Value: d.URL.Path, Metrics: request.CallMetrics{RequestID: d.ID}}
}

type recorder struct {
	mu        sync.Mutex
	successes []any
	errs      []error
}

func (r *recorder) OnSuccess(res runner.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = append(r.successes, res.Value)
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.successes), len(r.errs)
}

type fixture struct {
	q        *scheduler.Queue
	delivery *sequence.Runner
}

func newFixture(t *testing.T, exec scheduler.Executor, opts ...scheduler.Option) fixture {
	t.Helper()

	delivery := sequence.New(nil)
	delivery.Start()

	q, err := scheduler.New(exec, delivery, opts...)
	if err != nil {
		t.Fatalf("creating queue: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := q.Shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
		if err := delivery.Close(ctx); err != nil {
			t.Errorf("closing delivery: %v", err)
		}
	})

	return fixture{q: q, delivery: delivery}
}

// flush waits for everything already posted to the delivery context.
func (f fixture) flush(t *testing.T) {
	t.Helper()
	if err := f.delivery.Run(t.Context(), func(context.Context) {}); err != nil {
		t.Fatal(err)
	}
}

func descriptor(t *testing.T, path string, opts ...request.Option) *request.Descriptor {
	t.Helper()

	d, err := request.Get("https://example.com"+path, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func waitDone(t *testing.T, h *scheduler.Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("handle never resolved")
	}
}

func TestQueue_PriorityOrdering(t *testing.T) {
	var mu sync.Mutex
	var order []string

	exec := execFunc(func(ctx context.Context, d *request.Descriptor) runner.Result {
		mu.Lock()
		order = append(order, d.URL.Path)
		mu.Unlock()
		return okExec(ctx, d)
	})

	f := newFixture(t, exec, scheduler.WithWorkers(1))

	submissions := []struct {
		path string
		p    request.Priority
	}{
		{"/low-1", request.Low},
		{"/medium-1", request.Medium},
		{"/immediate-1", request.Immediate},
		{"/low-2", request.Low},
		{"/high-1", request.High},
		{"/medium-2", request.Medium},
		{"/immediate-2", request.Immediate},
		{"/high-2", request.High},
	}

	var handles []*scheduler.Handle
	for _, s := range submissions {
		h, err := f.q.Submit(descriptor(t, s.path, request.WithPriority(s.p)), nil)
		if err != nil {
			t.Fatal(err)
		}
		handles = append(handles, h)
	}

	if f.q.Len() != len(submissions) {
		t.Errorf("exp %d queued, got %d", len(submissions), f.q.Len())
	}

	f.q.Start()
	for _, h := range handles {
		waitDone(t, h)
	}

	exp := []string{"/immediate-1", "/immediate-2", "/high-1", "/high-2", "/medium-1", "/medium-2", "/low-1", "/low-2"}
	if diff := cmp.Diff(exp, order); diff != "" {
		t.Errorf("dequeue order mismatch (-want +got):\n%s", diff)
	}

	for i := 1; i < len(handles); i++ {
		if handles[i].Sequence() <= handles[i-1].Sequence() {
			t.Errorf("exp increasing sequence numbers, got %d after %d", handles[i].Sequence(), handles[i-1].Sequence())
		}
	}
}

func TestQueue_Delivery(t *testing.T) {
	var observed atomic.Int32
	var perRequest atomic.Int32
	f := newFixture(t, execFunc(okExec), scheduler.WithObserver(func(*request.Descriptor, request.CallMetrics) {
		observed.Add(1)
	}))
	f.q.Start()

	rec := &recorder{}
	d := descriptor(t, "/ok", request.WithMetrics(func(request.CallMetrics) { perRequest.Add(1) }))
	h, err := f.q.Submit(d, rec)
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, h)

	if h.State() != scheduler.Finished || h.Err() != nil {
		t.Errorf("exp finished without error, got %v %v", h.State(), h.Err())
	}
	if got := h.Result().Value; got != "/ok" {
		t.Errorf("exp value /ok, got %v", got)
	}
	if s, e := rec.counts(); s != 1 || e != 0 {
		t.Errorf("exp one success callback, got %d successes %d errors", s, e)
	}
	if observed.Load() != 1 || perRequest.Load() != 1 {
		t.Errorf("exp metrics observed once, got global=%d request=%d", observed.Load(), perRequest.Load())
	}

	// Failures arrive through OnError.
	boom := errors.New("boom")
	failing := newFixture(t, execFunc(func(context.Context, *request.Descriptor) runner.Result {
		return runner.Result{Err: request.ConnectionError(boom)}
	}))
	failing.q.Start()

	rec = &recorder{}
	h, err = failing.q.Submit(descriptor(t, "/fail"), rec)
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, h)

	if !errors.Is(h.Err(), request.ErrConnection) || !errors.Is(h.Err(), boom) {
		t.Errorf("exp connection error wrapping cause, got %v", h.Err())
	}
	if s, e := rec.counts(); s != 0 || e != 1 {
		t.Errorf("exp one error callback, got %d successes %d errors", s, e)
	}
}

// blockingExec blocks each run until release is closed or, when
// honorCtx is set, until its context ends.
func blockingExec(started chan<- struct{}, release <-chan struct{}, honorCtx bool) execFunc {
	return func(ctx context.Context, d *request.Descriptor) runner.Result {
		started <- struct{}{}
		if honorCtx {
			select {
			case <-release:
			case <-ctx.Done():
				return runner.Result{Err: request.CancelledError(ctx.Err())}
			}
		} else {
			<-release
		}
		return okExec(ctx, d)
	}
}

func TestQueue_NonForcedCancelDropsResult(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var observed atomic.Int32
	f := newFixture(t, blockingExec(started, release, false),
		scheduler.WithWorkers(1),
		scheduler.WithObserver(func(*request.Descriptor, request.CallMetrics) { observed.Add(1) }),
	)
	f.q.Start()

	rec := &recorder{}
	h, err := f.q.Submit(descriptor(t, "/slow", request.WithTag("screen")), rec)
	if err != nil {
		t.Fatal(err)
	}
	<-started

	if !f.q.IsRunning("screen") {
		t.Error("exp tag to be running")
	}

	f.q.Cancel("screen", false)
	waitDone(t, h)

	if !errors.Is(h.Err(), request.ErrCancelled) {
		t.Errorf("exp cancelled handle, got %v", h.Err())
	}
	if f.q.IsRunning("screen") {
		t.Error("exp tag to stop running after cancel")
	}

	close(release)

	// Let the late result reach the delivery context.
	time.Sleep(50 * time.Millisecond)
	f.flush(t)

	if s, e := rec.counts(); s != 0 || e != 0 {
		t.Errorf("exp no callbacks, got %d successes %d errors", s, e)
	}
	if observed.Load() != 1 {
		t.Errorf("exp the completed call to be observed once, got %d", observed.Load())
	}
}

func TestQueue_IsRunningIgnoresQueued(t *testing.T) {
	f := newFixture(t, execFunc(okExec))

	h, err := f.q.Submit(descriptor(t, "/idle", request.WithTag("t")), nil)
	if err != nil {
		t.Fatal(err)
	}

	if h.State() != scheduler.Queued {
		t.Fatalf("exp queued, got %v", h.State())
	}
	if f.q.IsRunning("t") {
		t.Error("exp a queued submission not to count as running")
	}
}

func TestQueue_ForcedCancelDeliversOnce(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	defer close(release)

	f := newFixture(t, blockingExec(started, release, true), scheduler.WithWorkers(1))
	f.q.Start()

	rec := &recorder{}
	h, err := f.q.Submit(descriptor(t, "/slow", request.WithTag(42)), rec)
	if err != nil {
		t.Fatal(err)
	}
	<-started

	f.q.Cancel(42, true)
	waitDone(t, h)

	time.Sleep(50 * time.Millisecond)
	f.flush(t)

	if s, e := rec.counts(); s != 0 || e != 1 {
		t.Fatalf("exp exactly one error callback, got %d successes %d errors", s, e)
	}
	if !errors.Is(rec.errs[0], request.ErrCancelled) {
		t.Errorf("exp cancelled error, got %v", rec.errs[0])
	}
}

func TestQueue_CancelQueued(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})

	var ran sync.Map
	inner := blockingExec(started, release, false)
	exec := execFunc(func(ctx context.Context, d *request.Descriptor) runner.Result {
		ran.Store(d.URL.Path, true)
		return inner(ctx, d)
	})

	f := newFixture(t, exec, scheduler.WithWorkers(1))
	f.q.Start()

	blocker, err := f.q.Submit(descriptor(t, "/blocker"), nil)
	if err != nil {
		t.Fatal(err)
	}
	<-started

	rec := &recorder{}
	var handles []*scheduler.Handle
	for _, path := range []string{"/a", "/b", "/c"} {
		h, err := f.q.Submit(descriptor(t, path, request.WithTag("batch")), rec)
		if err != nil {
			t.Fatal(err)
		}
		handles = append(handles, h)
	}
	other, err := f.q.Submit(descriptor(t, "/other", request.WithTag("keep")), rec)
	if err != nil {
		t.Fatal(err)
	}

	f.q.Cancel("batch", false)
	for _, h := range handles {
		if h.State() != scheduler.Cancelled {
			t.Errorf("exp cancelled state, got %v", h.State())
		}
	}

	close(release)
	waitDone(t, blocker)
	waitDone(t, other)
	f.flush(t)

	for _, path := range []string{"/a", "/b", "/c"} {
		if _, ok := ran.Load(path); ok {
			t.Errorf("cancelled %s must not run", path)
		}
	}
	if s, e := rec.counts(); s != 1 || e != 0 {
		t.Errorf("exp only the untagged-for-cancel request delivered, got %d successes %d errors", s, e)
	}
}

func TestQueue_CancelIdempotent(t *testing.T) {
	f := newFixture(t, execFunc(okExec))
	f.q.Start()

	rec := &recorder{}
	h, err := f.q.Submit(descriptor(t, "/done"), rec)
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, h)

	h.Cancel(false)
	h.Cancel(true)
	f.q.CancelAll(true)
	f.q.Cancel(nil, true)
	f.flush(t)

	if h.State() != scheduler.Finished || h.Err() != nil {
		t.Errorf("exp finished handle untouched, got %v %v", h.State(), h.Err())
	}
	if s, e := rec.counts(); s != 1 || e != 0 {
		t.Errorf("exp a single success, got %d successes %d errors", s, e)
	}

	// Cancelling twice before start.
	idle := newFixture(t, execFunc(okExec))
	h2, err := idle.q.Submit(descriptor(t, "/idle"), rec)
	if err != nil {
		t.Fatal(err)
	}
	h2.Cancel(false)
	h2.Cancel(false)
	h2.Cancel(true)
	if !errors.Is(h2.Err(), request.ErrCancelled) {
		t.Errorf("exp cancelled, got %v", h2.Err())
	}
}

func TestQueue_Execute(t *testing.T) {
	var observed atomic.Int32
	f := newFixture(t, execFunc(okExec), scheduler.WithObserver(func(*request.Descriptor, request.CallMetrics) {
		observed.Add(1)
	}))

	// The pool is not started: Execute runs inline regardless.
	res := f.q.Execute(t.Context(), descriptor(t, "/sync"))
	if res.Err != nil || res.Value != "/sync" {
		t.Fatalf("exp inline result, got %v %v", res.Value, res.Err)
	}

	f.flush(t)
	if observed.Load() != 1 {
		t.Errorf("exp observer once, got %d", observed.Load())
	}
}

func TestQueue_ExecuteCancelled(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	defer close(release)

	f := newFixture(t, blockingExec(started, release, true))

	done := make(chan runner.Result, 1)
	go func() {
		done <- f.q.Execute(t.Context(), descriptor(t, "/sync", request.WithTag("sync")))
	}()
	<-started

	f.q.Cancel("sync", true)

	select {
	case res := <-done:
		if !errors.Is(res.Err, request.ErrCancelled) {
			t.Errorf("exp cancelled result, got %v", res.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("execute did not return after forced cancel")
	}
}

func TestQueue_Shutdown(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})

	f := newFixture(t, blockingExec(started, release, false), scheduler.WithWorkers(1))
	f.q.Start()

	running, err := f.q.Submit(descriptor(t, "/running"), nil)
	if err != nil {
		t.Fatal(err)
	}
	<-started

	queued, err := f.q.Submit(descriptor(t, "/queued"), nil)
	if err != nil {
		t.Fatal(err)
	}

	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- f.q.Shutdown(t.Context()) }()

	waitDone(t, queued)
	if !errors.Is(queued.Err(), request.ErrCancelled) {
		t.Errorf("exp queued task cancelled on shutdown, got %v", queued.Err())
	}

	close(release)
	if err := <-shutdownErr; err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	waitDone(t, running)
	if running.Err() != nil {
		t.Errorf("exp running task to finish, got %v", running.Err())
	}

	if _, err := f.q.Submit(descriptor(t, "/late"), nil); !errors.Is(err, scheduler.ErrClosed) {
		t.Errorf("exp ErrClosed, got %v", err)
	}
	if res := f.q.Execute(t.Context(), descriptor(t, "/late")); !errors.Is(res.Err, scheduler.ErrClosed) {
		t.Errorf("exp ErrClosed, got %v", res.Err)
	}
}

func TestNew_Validation(t *testing.T) {
	delivery := sequence.New(nil)

	if _, err := scheduler.New(nil, delivery); err == nil {
		t.Error("expected error for nil executor")
	}
	if _, err := scheduler.New(execFunc(okExec), delivery, scheduler.WithWorkers(0)); err == nil {
		t.Error("expected error for zero workers")
	}
}

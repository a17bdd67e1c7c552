// Package fetchq is a client-side request engine. An Engine schedules
// descriptors by priority over a fixed worker pool, executes them through
// a net/http transport and delivers typed results on a single delivery
// goroutine. It also tracks connection quality and loads images through a
// deduplicating, memory-cached asset loader.
package fetchq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adamwoolhether/fetchq/asset"
	"github.com/adamwoolhether/fetchq/classifier"
	"github.com/adamwoolhether/fetchq/client"
	"github.com/adamwoolhether/fetchq/metrics"
	"github.com/adamwoolhether/fetchq/request"
	"github.com/adamwoolhether/fetchq/runner"
	"github.com/adamwoolhether/fetchq/scheduler"
	"github.com/adamwoolhether/fetchq/sequence"
)

// Engine owns every collaborator of the request pipeline. Construct one per
// process with New, call Start, and Shutdown when done.
type Engine struct {
	logger     *slog.Logger
	delivery   *sequence.Runner
	client     *client.Client
	classifier *classifier.Classifier
	runner     *runner.Runner
	queue      *scheduler.Queue
	assets     *asset.Loader
	metrics    *metrics.Metrics

	mu       sync.Mutex
	listener classifier.Listener
}

// New wires an Engine from the given options. The engine does not process
// work until Start is called.
func New(optFns ...Option) (*Engine, error) {
	opts := options{workers: scheduler.DefaultWorkers}
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying engine option: %w", err)
		}
	}
	if opts.logger == nil {
		opts.logger = slog.Default()
	}

	e := &Engine{
		logger:   opts.logger,
		delivery: sequence.New(opts.logger),
	}

	if opts.registerer != nil {
		e.metrics = metrics.New(opts.registerer)
	}

	var err error
	e.client, err = client.Build(append(opts.clientOpts, client.WithLogger(opts.logger))...)
	if err != nil {
		return nil, fmt.Errorf("building client: %w", err)
	}

	classifierOpts := append(opts.classifierOpts, classifier.WithDispatcher(e.dispatch))
	e.classifier, err = classifier.New(classifierOpts...)
	if err != nil {
		return nil, fmt.Errorf("building classifier: %w", err)
	}
	e.classifier.SetListener(e.qualityChanged)

	runnerOpts := []runner.Option{runner.WithSampler(e.classifier), runner.WithLogger(opts.logger)}
	if opts.decoder != nil {
		runnerOpts = append(runnerOpts, runner.WithDecoder(opts.decoder))
	}
	if opts.tracer != nil {
		runnerOpts = append(runnerOpts, runner.WithTracer(opts.tracer))
	}
	e.runner, err = runner.New(e.client, runnerOpts...)
	if err != nil {
		return nil, fmt.Errorf("building runner: %w", err)
	}

	e.queue, err = scheduler.New(e.runner, e.delivery,
		scheduler.WithWorkers(opts.workers),
		scheduler.WithLogger(opts.logger),
		scheduler.WithObserver(e.observe(opts.observer)),
	)
	if err != nil {
		return nil, fmt.Errorf("building scheduler: %w", err)
	}

	assetOpts := append([]asset.Option{asset.WithLogger(opts.logger)}, opts.assetOpts...)
	if e.metrics != nil {
		assetOpts = append(assetOpts, asset.WithStats(e.metrics))
	}
	e.assets, err = asset.New(e.queue, e.delivery, assetOpts...)
	if err != nil {
		return nil, fmt.Errorf("building asset loader: %w", err)
	}

	return e, nil
}

// Start launches the delivery goroutine and the worker pool.
func (e *Engine) Start() {
	e.delivery.Start()
	e.queue.Start()
	e.logger.Info("fetchq engine started")
}

// Shutdown stops accepting work, cancels queued descriptors, waits for
// running ones, empties the image cache and detaches the quality listener.
func (e *Engine) Shutdown(ctx context.Context) error {
	var errs []error

	if err := e.queue.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down scheduler: %w", err))
	}

	if err := e.delivery.Run(ctx, e.assets.EvictAll); err != nil && !errors.Is(err, sequence.ErrClosed) {
		errs = append(errs, fmt.Errorf("evicting assets: %w", err))
	}
	e.RemoveQualityListener()

	if err := e.delivery.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("closing delivery: %w", err))
	}

	e.logger.Info("fetchq engine stopped")

	return errors.Join(errs...)
}

// /////////////////////////////////////////////////////////////////
// Requests

// Submit enqueues d. The listener, which may be nil, is invoked on the
// delivery goroutine.
func (e *Engine) Submit(d *request.Descriptor, l scheduler.Listener) (*scheduler.Handle, error) {
	return e.queue.Submit(d, l)
}

// Execute runs d on the calling goroutine and returns its result.
func (e *Engine) Execute(ctx context.Context, d *request.Descriptor) runner.Result {
	return e.queue.Execute(ctx, d)
}

// Cancel cancels every descriptor tagged tag without notifying listeners.
func (e *Engine) Cancel(tag any) { e.queue.Cancel(tag, false) }

// ForceCancel cancels every descriptor tagged tag, aborting in-flight calls
// and delivering a cancelled error to each listener.
func (e *Engine) ForceCancel(tag any) { e.queue.Cancel(tag, true) }

// CancelAll cancels every descriptor without notifying listeners.
func (e *Engine) CancelAll() { e.queue.CancelAll(false) }

// ForceCancelAll cancels every descriptor and notifies listeners.
func (e *Engine) ForceCancelAll() { e.queue.CancelAll(true) }

// IsRunning reports whether a descriptor carrying tag is executing.
func (e *Engine) IsRunning(tag any) bool { return e.queue.IsRunning(tag) }

// Pending returns the number of queued descriptors.
func (e *Engine) Pending() int { return e.queue.Len() }

// /////////////////////////////////////////////////////////////////
// Assets
//
// Asset methods must be called with a context from the delivery goroutine,
// see Run and Post.

// FetchAsset loads an image bounded by maxWidth x maxHeight.
func (e *Engine) FetchAsset(ctx context.Context, url string, maxWidth, maxHeight int, scale request.ScalePolicy, l asset.Listener) *asset.Container {
	return e.assets.Fetch(ctx, url, maxWidth, maxHeight, scale, l)
}

// IsAssetCached reports whether the image for these parameters is cached.
func (e *Engine) IsAssetCached(ctx context.Context, url string, maxWidth, maxHeight int, scale request.ScalePolicy) bool {
	return e.assets.IsCached(ctx, asset.Key(url, maxWidth, maxHeight, scale))
}

// EvictAsset drops one cached image.
func (e *Engine) EvictAsset(ctx context.Context, url string, maxWidth, maxHeight int, scale request.ScalePolicy) {
	e.assets.Evict(ctx, asset.Key(url, maxWidth, maxHeight, scale))
}

// EvictAllAssets empties the image cache.
func (e *Engine) EvictAllAssets(ctx context.Context) { e.assets.EvictAll(ctx) }

// SetAssetBatchDelay changes how long resolved image fetches are batched.
func (e *Engine) SetAssetBatchDelay(ctx context.Context, d time.Duration) {
	e.assets.SetBatchDelay(ctx, d)
}

// /////////////////////////////////////////////////////////////////
// Connection quality

// Bandwidth returns the smoothed bandwidth estimate in bits per second.
func (e *Engine) Bandwidth() float64 { return e.classifier.Bandwidth() }

// Quality returns the current connection quality.
func (e *Engine) Quality() classifier.Quality { return e.classifier.Quality() }

// SetQualityListener registers l to be called on the delivery goroutine
// whenever the quality bucket changes.
func (e *Engine) SetQualityListener(l classifier.Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = l
}

// RemoveQualityListener drops the quality listener.
func (e *Engine) RemoveQualityListener() { e.SetQualityListener(nil) }

// ResetClassifier forgets every bandwidth sample.
func (e *Engine) ResetClassifier() { e.classifier.Reset() }

// /////////////////////////////////////////////////////////////////
// Delivery goroutine

// Post queues t on the delivery goroutine. It reports false after Shutdown.
func (e *Engine) Post(t sequence.Task) bool { return e.delivery.Post(t) }

// Run executes t on the delivery goroutine and waits for it. Called from the
// delivery goroutine itself, t runs inline.
func (e *Engine) Run(ctx context.Context, t sequence.Task) error { return e.delivery.Run(ctx, t) }

// /////////////////////////////////////////////////////////////////

func (e *Engine) dispatch(fn func()) {
	if !e.delivery.Post(func(context.Context) { fn() }) {
		e.logger.Debug("quality change dropped after shutdown")
	}
}

func (e *Engine) qualityChanged(q classifier.Quality, bps float64) {
	e.logger.Info("connection quality changed", "quality", q, "bps", bps)

	if e.metrics != nil {
		e.metrics.ObserveQuality(q, bps)
	}

	e.mu.Lock()
	l := e.listener
	e.mu.Unlock()

	if l != nil {
		l(q, bps)
	}
}

func (e *Engine) observe(user scheduler.Observer) scheduler.Observer {
	return func(d *request.Descriptor, m request.CallMetrics) {
		if e.metrics != nil {
			e.metrics.Observe(d, m)
		}
		if user != nil {
			user(d, m)
		}
	}
}

// Package asset loads images through the scheduler, coalescing identical
// in-flight fetches, caching decoded images in memory and delivering
// completed fetches in batches.
//
// A Loader is owned by the delivery context: every method must be called
// with a context handed out by that context, e.g. from inside a
// sequence.Runner task.
package asset

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/adamwoolhether/fetchq/request"
	"github.com/adamwoolhether/fetchq/runner"
	"github.com/adamwoolhether/fetchq/scheduler"
	"github.com/adamwoolhether/fetchq/sequence"
)

// Tag is attached to every descriptor the loader submits.
const Tag = "fetchq.asset"

// DefaultBatchDelay is how long completed fetches wait to be delivered
// together.
const DefaultBatchDelay = 100 * time.Millisecond

// ErrWrongContext is the panic value for calls made outside the delivery
// context.
var ErrWrongContext = errors.New("asset loader must be used from the delivery context")

// Submitter enqueues descriptors. [scheduler.Queue] implements it.
type Submitter interface {
	Submit(d *request.Descriptor, l scheduler.Listener) (*scheduler.Handle, error)
}

// Context is the delivery context owning the loader. [sequence.Runner]
// implements it.
type Context interface {
	Owns(ctx context.Context) bool
	PostDelayed(t sequence.Task, d time.Duration) func() bool
}

// Stats receives cache activity.
type Stats interface {
	CacheHit()
	CacheMiss()
	Coalesced()
	CacheSize(entries int, bytes int64)
}

// Listener receives fetch outcomes on the delivery context. OnResponse is
// called once with immediate set as soon as Fetch is called, carrying the
// image when it was cached and nil otherwise, then once more without
// immediate when a pending fetch resolves.
type Listener interface {
	OnResponse(c *Container, immediate bool)
	OnError(c *Container, err error)
}

// ListenerFuncs adapts a pair of funcs to [Listener]. Nil funcs are skipped.
type ListenerFuncs struct {
	Response func(c *Container, immediate bool)
	Error    func(c *Container, err error)
}

func (l ListenerFuncs) OnResponse(c *Container, immediate bool) {
	if l.Response != nil {
		l.Response(c, immediate)
	}
}

func (l ListenerFuncs) OnError(c *Container, err error) {
	if l.Error != nil {
		l.Error(c, err)
	}
}

// Container is one caller's interest in one image.
type Container struct {
	URL   string
	Key   string
	Image image.Image

	listener Listener
	loader   *Loader
	fetch    *fetch
}

// Cancel detaches the container. When it was the last one waiting on its
// fetch, the fetch is cancelled. Cancelling twice is a no-op.
func (c *Container) Cancel(ctx context.Context) {
	c.loader.mustOwn(ctx)
	c.loader.detach(c)
}

// fetch is one in-flight or pending image request shared by every
// container with the same key.
type fetch struct {
	key        string
	handle     *scheduler.Handle
	containers []*Container
	img        image.Image
	err        error
}

// Loader deduplicates and caches image fetches.
type Loader struct {
	submit   Submitter
	owner    Context
	logger   *slog.Logger
	stats    Stats
	priority request.Priority
	reqOpts  []request.Option

	cache      *memoryCache
	batchDelay time.Duration

	inFlight map[string]*fetch
	pending  []*fetch
	flushing bool
}

// New returns a Loader submitting through submit and owned by owner.
func New(submit Submitter, owner Context, optFns ...Option) (*Loader, error) {
	if submit == nil || owner == nil {
		return nil, errors.New("submitter and owner must not be nil")
	}

	opts := options{
		budget:     DefaultCacheBudget(),
		batchDelay: DefaultBatchDelay,
		priority:   request.Low,
	}
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying asset option: %w", err)
		}
	}
	if opts.logger == nil {
		opts.logger = slog.Default()
	}

	l := Loader{
		submit:     submit,
		owner:      owner,
		logger:     opts.logger,
		stats:      opts.stats,
		priority:   opts.priority,
		reqOpts:    opts.reqOpts,
		cache:      newMemoryCache(opts.budget),
		batchDelay: opts.batchDelay,
		inFlight:   make(map[string]*fetch),
	}

	return &l, nil
}

// Key derives the cache key for a fetch. Equal inputs always give equal keys.
func Key(url string, maxWidth, maxHeight int, scale request.ScalePolicy) string {
	return "#W" + strconv.Itoa(maxWidth) + "#H" + strconv.Itoa(maxHeight) + "#S" + strconv.Itoa(int(scale)) + url
}

// IsCached reports whether key is in the memory cache.
func (l *Loader) IsCached(ctx context.Context, key string) bool {
	l.mustOwn(ctx)
	_, ok := l.cache.get(key)
	return ok
}

// Fetch loads url bounded by maxWidth x maxHeight. The listener is invoked
// before Fetch returns.
func (l *Loader) Fetch(ctx context.Context, url string, maxWidth, maxHeight int, scale request.ScalePolicy, listener Listener) *Container {
	l.mustOwn(ctx)

	key := Key(url, maxWidth, maxHeight, scale)
	c := &Container{URL: url, Key: key, listener: listener, loader: l}

	if img, ok := l.cache.get(key); ok {
		l.hit()
		c.Image = img
		listener.OnResponse(c, true)
		return c
	}
	l.miss()

	listener.OnResponse(c, true)

	if f, ok := l.inFlight[key]; ok {
		if l.stats != nil {
			l.stats.Coalesced()
		}
		f.containers = append(f.containers, c)
		c.fetch = f
		return c
	}

	opts := append([]request.Option{
		request.WithImage(maxWidth, maxHeight, scale),
		request.WithTag(Tag),
		request.WithPriority(l.priority),
	}, l.reqOpts...)

	d, err := request.Get(url, opts...)
	if err != nil {
		listener.OnError(c, err)
		return c
	}

	f := &fetch{key: key, containers: []*Container{c}}
	c.fetch = f

	h, err := l.submit.Submit(d, scheduler.ListenerFuncs{
		Success: func(res runner.Result) { l.resolved(f, res.Value, nil) },
		Error:   func(err error) { l.resolved(f, nil, err) },
	})
	if err != nil {
		c.fetch = nil
		listener.OnError(c, err)
		return c
	}

	f.handle = h
	l.inFlight[key] = f

	return c
}

// Evict removes key from the memory cache.
func (l *Loader) Evict(ctx context.Context, key string) {
	l.mustOwn(ctx)
	l.cache.remove(key)
	l.reportSize()
}

// EvictAll empties the memory cache.
func (l *Loader) EvictAll(ctx context.Context) {
	l.mustOwn(ctx)
	l.cache.clear()
	l.reportSize()
}

// SetBatchDelay changes the flush delay for batches started afterwards.
func (l *Loader) SetBatchDelay(ctx context.Context, d time.Duration) {
	l.mustOwn(ctx)
	l.batchDelay = max(d, 0)
}

// resolved runs on the delivery context when the scheduler delivers f's
// outcome.
func (l *Loader) resolved(f *fetch, value any, err error) {
	if l.inFlight[f.key] != f {
		return
	}
	delete(l.inFlight, f.key)

	if err == nil {
		img, ok := value.(image.Image)
		if !ok {
			err = request.ParseError(fmt.Errorf("unexpected image value %T", value))
		} else {
			f.img = img
			l.cache.add(f.key, img)
			l.reportSize()
		}
	}
	f.err = err

	l.pending = append(l.pending, f)
	if !l.flushing {
		l.flushing = true
		l.owner.PostDelayed(l.flush, l.batchDelay)
	}
}

// flush delivers every pending fetch in one pass.
func (l *Loader) flush(context.Context) {
	pending := l.pending
	l.pending = nil
	l.flushing = false

	for _, f := range pending {
		containers := f.containers
		f.containers = nil

		for _, c := range containers {
			c.fetch = nil
			if f.err != nil {
				c.listener.OnError(c, f.err)
				continue
			}
			c.Image = f.img
			c.listener.OnResponse(c, false)
		}
	}
}

func (l *Loader) detach(c *Container) {
	f := c.fetch
	if f == nil {
		return
	}
	c.fetch = nil

	f.containers = slices.DeleteFunc(f.containers, func(other *Container) bool { return other == c })
	if len(f.containers) > 0 {
		return
	}

	if l.inFlight[f.key] == f {
		delete(l.inFlight, f.key)
		f.handle.Cancel(false)
		l.logger.Debug("asset fetch cancelled", "key", f.key)
		return
	}

	l.pending = slices.DeleteFunc(l.pending, func(other *fetch) bool { return other == f })
}

func (l *Loader) mustOwn(ctx context.Context) {
	if !l.owner.Owns(ctx) {
		panic(ErrWrongContext)
	}
}

func (l *Loader) hit() {
	if l.stats != nil {
		l.stats.CacheHit()
	}
}

func (l *Loader) miss() {
	if l.stats != nil {
		l.stats.CacheMiss()
	}
}

func (l *Loader) reportSize() {
	if l.stats != nil {
		l.stats.CacheSize(l.cache.len(), l.cache.size)
	}
}

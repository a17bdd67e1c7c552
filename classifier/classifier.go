// Package classifier estimates connection bandwidth from completed transfers
// and maps it onto a small set of quality buckets.
package classifier

import (
	"sync"
	"time"
)

// Quality is a discrete connection-quality bucket.
type Quality int

const (
	Unknown Quality = iota
	Poor
	Moderate
	Good
	Excellent
)

func (q Quality) String() string {
	switch q {
	case Poor:
		return "poor"
	case Moderate:
		return "moderate"
	case Good:
		return "good"
	case Excellent:
		return "excellent"
	default:
		return "unknown"
	}
}

// Listener is invoked when the quality bucket changes.
type Listener func(q Quality, bitsPerSecond float64)

// Classifier keeps an exponentially weighted bandwidth estimate.
// AddSample is safe for concurrent use.
type Classifier struct {
	mu       sync.Mutex
	cfg      Config
	bps      float64
	samples  int
	quality  Quality
	listener Listener
	dispatch func(func())
}

// New returns a Classifier with the given options applied over DefaultConfig.
func New(optFns ...Option) (*Classifier, error) {
	cfg := DefaultConfig()
	for _, opt := range optFns {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	return &Classifier{
		cfg:      cfg,
		dispatch: cfg.dispatch,
	}, nil
}

// AddSample records a transfer of bytes that took elapsed. Samples that are
// too short, too small, or implausibly slow are ignored.
func (c *Classifier) AddSample(bytes int64, elapsed time.Duration) {
	if elapsed < c.cfg.MinElapsed || bytes < c.cfg.MinBytes || elapsed <= 0 {
		return
	}

	inst := float64(bytes) * 8 / elapsed.Seconds()
	if inst < c.cfg.FloorBitsPerSecond {
		return
	}

	c.mu.Lock()
	if c.samples == 0 {
		c.bps = inst
	} else {
		c.bps = c.cfg.Alpha*inst + (1-c.cfg.Alpha)*c.bps
	}
	c.samples++

	next := c.cfg.bucket(c.bps)
	changed := next != c.quality
	c.quality = next
	listener := c.listener
	bps := c.bps

	if !changed || listener == nil {
		c.mu.Unlock()
		return
	}

	notify := func() { listener(next, bps) }

	// Dispatch under the lock so notifications are posted in the order the
	// buckets changed. The dispatcher must not block.
	if c.dispatch != nil {
		c.dispatch(notify)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	notify()
}

// Bandwidth returns the smoothed estimate in bits per second.
func (c *Classifier) Bandwidth() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bps
}

// Quality returns the current bucket.
func (c *Classifier) Quality() Quality {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quality
}

// Samples returns how many samples have contributed to the estimate.
func (c *Classifier) Samples() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.samples
}

// SetListener replaces the change listener.
func (c *Classifier) SetListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

// RemoveListener drops the change listener.
func (c *Classifier) RemoveListener() {
	c.SetListener(nil)
}

// SetDispatcher routes listener notifications through fn, e.g. a delivery
// goroutine. fn is called with the classifier locked and must only queue
// the notification. A nil fn notifies on the sampling goroutine.
func (c *Classifier) SetDispatcher(fn func(func())) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatch = fn
}

// Reset clears the estimate and returns the bucket to Unknown. The listener
// is kept and not notified.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bps = 0
	c.samples = 0
	c.quality = Unknown
}

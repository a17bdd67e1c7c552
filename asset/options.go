package asset

import (
	"errors"
	"log/slog"
	"time"

	"github.com/adamwoolhether/fetchq/request"
)

// Option is a functional option for [New].
type Option func(*options) error

type options struct {
	budget     int64
	batchDelay time.Duration
	priority   request.Priority
	logger     *slog.Logger
	stats      Stats
	reqOpts    []request.Option
}

// WithCacheBudget bounds the memory cache to bytes of decoded pixels.
// Defaults to [DefaultCacheBudget].
func WithCacheBudget(bytes int64) Option {
	return func(o *options) error {
		if bytes <= 0 {
			return errors.New("cache budget must be greater than zero")
		}
		o.budget = bytes
		return nil
	}
}

// WithBatchDelay sets how long resolved fetches are held before delivery.
func WithBatchDelay(d time.Duration) Option {
	return func(o *options) error {
		if d < 0 {
			return errors.New("batch delay must not be negative")
		}
		o.batchDelay = d
		return nil
	}
}

// WithPriority sets the priority of image requests. Defaults to request.Low.
func WithPriority(p request.Priority) Option {
	return func(o *options) error {
		o.priority = p
		return nil
	}
}

// WithRequestOptions adds options to every image descriptor, e.g. headers.
func WithRequestOptions(opts ...request.Option) Option {
	return func(o *options) error {
		o.reqOpts = append(o.reqOpts, opts...)
		return nil
	}
}

// WithLogger injects a custom [slog.Logger].
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithStats reports cache activity to s.
func WithStats(s Stats) Option {
	return func(o *options) error {
		o.stats = s
		return nil
	}
}

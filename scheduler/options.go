package scheduler

import (
	"errors"
	"log/slog"
)

// DefaultWorkers is the worker pool size used when none is configured.
const DefaultWorkers = 4

// Option is a functional option for [New].
type Option func(*options) error

type options struct {
	workers  int
	logger   *slog.Logger
	observer Observer
}

// WithWorkers sets the worker pool size. Defaults to 4.
func WithWorkers(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return errors.New("workers must be greater than zero")
		}
		o.workers = n
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

// WithObserver registers a process-wide call-metrics observer.
func WithObserver(fn Observer) Option {
	return func(o *options) error {
		o.observer = fn
		return nil
	}
}

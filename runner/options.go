package runner

import (
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/fetchq/decode"
)

// Option is a functional option for [New].
type Option func(*Runner) error

// WithDecoder replaces the default decode.Standard decoder.
func WithDecoder(d decode.Decoder) Option {
	return func(r *Runner) error {
		if d == nil {
			return errors.New("decoder must not be nil")
		}
		r.decoder = d
		return nil
	}
}

// WithSampler feeds completed round trips to s.
func WithSampler(s Sampler) Option {
	return func(r *Runner) error {
		r.sampler = s
		return nil
	}
}

// WithLogger injects a custom [slog.Logger].
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		r.logger = logger
		return nil
	}
}

// WithTracer sets the tracer used for run spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) error {
		if tracer == nil {
			return errors.New("tracer must not be nil")
		}
		r.tracer = tracer
		return nil
	}
}

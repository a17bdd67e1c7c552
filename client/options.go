package client

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/propagation"

	"github.com/adamwoolhether/fetchq/client/throttle"
)

// Option is a functional option for configuring a [Client] via [Build].
type Option func(*options) error

type options struct {
	client     *http.Client
	base       http.RoundTripper
	timeout    *time.Duration
	headers    http.Header
	limit      *throttle.Config
	noRedirect bool
	logger     *slog.Logger
	propagator propagation.TextMapPropagator
}

// WithClient replaces the default [http.Client]. Its Transport, when set,
// becomes the base transport.
func WithClient(hc *http.Client) Option {
	return func(o *options) error {
		if hc == nil {
			return errors.New("client must not be nil")
		}
		o.client = hc
		return nil
	}
}

// WithTransport sets the base [http.RoundTripper], taking precedence over
// the transport of a client given to WithClient.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) error {
		if rt == nil {
			return errors.New("transport must not be nil")
		}
		o.base = rt
		return nil
	}
}

// WithTimeout bounds each whole round trip, body read included.
func WithTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d < 0 {
			return errors.New("timeout must not be negative")
		}
		o.timeout = &d
		return nil
	}
}

// WithUserAgent sets the User-Agent header of every outgoing request.
func WithUserAgent(ua string) Option {
	return WithDefaultHeader("User-Agent", ua)
}

// WithDefaultHeader sets a header on every outgoing request, replacing any
// value the request carries.
func WithDefaultHeader(name, value string) Option {
	return func(o *options) error {
		if name == "" {
			return errors.New("header name must not be empty")
		}
		if o.headers == nil {
			o.headers = make(http.Header)
		}
		o.headers.Set(name, value)
		return nil
	}
}

// WithThrottle limits outgoing requests to rps with the given burst.
// Immediate priority requests are not limited.
func WithThrottle(rps, burst int) Option {
	return func(o *options) error {
		if rps <= 0 || burst <= 0 {
			return fmt.Errorf("rps[%d] and burst[%d] %w", rps, burst, throttle.ErrMustNotBeZero)
		}
		o.limit = &throttle.Config{RPS: rps, Burst: burst}
		return nil
	}
}

// WithNoFollowRedirects returns redirect responses to the caller instead of
// following them.
func WithNoFollowRedirects() Option {
	return func(o *options) error {
		o.noRedirect = true
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithPropagator sets the propagator used to inject trace headers.
// Defaults to the global otel propagator.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(o *options) error {
		if p == nil {
			return errors.New("propagator must not be nil")
		}
		o.propagator = p
		return nil
	}
}

// transport stacks the configured round trippers, outermost first:
// throttle, default headers, base.
func (o *options) transport(logger func() *slog.Logger) (http.RoundTripper, error) {
	var rt http.RoundTripper
	switch {
	case o.base != nil:
		rt = o.base
	case o.client != nil && o.client.Transport != nil:
		rt = o.client.Transport
	default:
		rt = http.DefaultTransport
	}

	if len(o.headers) > 0 {
		rt = headerTransport{headers: o.headers, next: rt}
	}

	if o.limit != nil {
		limited, err := throttle.NewRoundTripper(o.limit.RPS, o.limit.Burst, logger, rt)
		if err != nil {
			return nil, fmt.Errorf("configuring throttle: %w", err)
		}
		rt = limited
	}

	return rt, nil
}

// headerTransport sets fixed headers on a clone of every request.
type headerTransport struct {
	headers http.Header
	next    http.RoundTripper
}

func (h headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	cpy := r.Clone(r.Context())
	for name, values := range h.headers {
		cpy.Header[name] = values
	}
	return h.next.RoundTrip(cpy)
}

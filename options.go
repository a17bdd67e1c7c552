package fetchq

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/fetchq/asset"
	"github.com/adamwoolhether/fetchq/classifier"
	"github.com/adamwoolhether/fetchq/client"
	"github.com/adamwoolhether/fetchq/decode"
	"github.com/adamwoolhether/fetchq/request"
	"github.com/adamwoolhether/fetchq/scheduler"
)

// Option defines optional settings for the Engine.
//
// Transport options such as WithTimeout or WithThrottle are forwarded to the
// underlying client.Client and validated when New builds it.
type Option func(*options) error

type options struct {
	workers        int
	logger         *slog.Logger
	tracer         trace.Tracer
	decoder        decode.Decoder
	observer       scheduler.Observer
	registerer     prometheus.Registerer
	clientOpts     []client.Option
	classifierOpts []classifier.Option
	assetOpts      []asset.Option
}

// WithWorkers sets how many descriptors execute concurrently.
func WithWorkers(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return errors.New("workers must be greater than zero")
		}
		o.workers = n
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		o.logger = logger
		return nil
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) error {
		if tracer == nil {
			return errors.New("tracer must not be nil")
		}
		o.tracer = tracer
		return nil
	}
}

// WithDecoder replaces the body decoder.
func WithDecoder(d decode.Decoder) Option {
	return func(o *options) error {
		if d == nil {
			return errors.New("decoder must not be nil")
		}
		o.decoder = d
		return nil
	}
}

// WithObserver registers fn to receive call metrics for every completed
// request on the delivery goroutine.
func WithObserver(fn scheduler.Observer) Option {
	return func(o *options) error {
		o.observer = fn
		return nil
	}
}

// WithRegisterer exports request, cache and quality metrics to reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) error {
		if reg == nil {
			return errors.New("registerer must not be nil")
		}
		o.registerer = reg
		return nil
	}
}

// /////////////////////////////////////////////////////////////////

func WithHTTPClient(hc *http.Client) Option {
	return clientOption(client.WithClient(hc))
}

func WithTransport(rt http.RoundTripper) Option {
	return clientOption(client.WithTransport(rt))
}

func WithTimeout(d time.Duration) Option {
	return clientOption(client.WithTimeout(d))
}

// WithUserAgent sets the User-Agent header on every outgoing request.
func WithUserAgent(ua string) Option {
	return clientOption(client.WithUserAgent(ua))
}

// WithDefaultHeader sets a header on every outgoing request.
func WithDefaultHeader(name, value string) Option {
	return clientOption(client.WithDefaultHeader(name, value))
}

// WithThrottle limits outgoing requests to rps with the given burst.
// Immediate priority requests bypass the limit.
func WithThrottle(rps, burst int) Option {
	return clientOption(client.WithThrottle(rps, burst))
}

func WithNoFollowRedirects() Option {
	return clientOption(client.WithNoFollowRedirects())
}

func WithPropagator(p propagation.TextMapPropagator) Option {
	return clientOption(client.WithPropagator(p))
}

// clientOption defers validation to client.Build.
func clientOption(opt client.Option) Option {
	return func(o *options) error {
		o.clientOpts = append(o.clientOpts, opt)
		return nil
	}
}

// /////////////////////////////////////////////////////////////////

// WithClassifier tunes the connection classifier.
func WithClassifier(opts ...classifier.Option) Option {
	return func(o *options) error {
		o.classifierOpts = append(o.classifierOpts, opts...)
		return nil
	}
}

// WithBatchDelay sets how long resolved image fetches wait to be delivered
// together. Defaults to asset.DefaultBatchDelay.
func WithBatchDelay(d time.Duration) Option {
	return assetOption(asset.WithBatchDelay(d))
}

// WithCacheBudget bounds the image memory cache in bytes of decoded pixels.
func WithCacheBudget(bytes int64) Option {
	return assetOption(asset.WithCacheBudget(bytes))
}

// WithAssetPriority sets the priority of image fetches. Defaults to
// request.Low.
func WithAssetPriority(p request.Priority) Option {
	return assetOption(asset.WithPriority(p))
}

func assetOption(opt asset.Option) Option {
	return func(o *options) error {
		o.assetOpts = append(o.assetOpts, opt)
		return nil
	}
}

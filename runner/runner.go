// Package runner executes a single request descriptor against a transport
// and classifies the outcome.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/adamwoolhether/fetchq/client"
	"github.com/adamwoolhether/fetchq/client/download"
	"github.com/adamwoolhether/fetchq/decode"
	"github.com/adamwoolhether/fetchq/request"
)

const (
	// maxErrBodySize caps the body kept on a ServerError.
	maxErrBodySize = 4 << 10 // 4KB

	// maxDrainSize caps how much of an unused body is read before closing,
	// so the connection can be reused.
	maxDrainSize = 256 << 10 // 256KB
)

// Transport performs the literal network I/O for one descriptor.
// [client.Client] implements it.
type Transport interface {
	PerformSimple(ctx context.Context, d *request.Descriptor) (*http.Response, error)
	PerformDownload(ctx context.Context, d *request.Descriptor) (*http.Response, error)
	PerformUpload(ctx context.Context, d *request.Descriptor) (*http.Response, error)
}

// Sampler receives one bandwidth sample per completed round trip.
type Sampler interface {
	AddSample(bytes int64, elapsed time.Duration)
}

// Result is the outcome of one run. Exactly one of Value/Response or Err
// is meaningful.
type Result struct {
	Value any
	// Response is set only for request.ShapeResponse; the caller owns its body.
	Response   *http.Response
	StatusCode int
	Header     http.Header
	Metrics    request.CallMetrics
	Err        error
}

// Runner executes descriptors. It is safe for concurrent use.
type Runner struct {
	transport Transport
	decoder   decode.Decoder
	sampler   Sampler
	logger    *slog.Logger
	tracer    trace.Tracer
}

// New returns a Runner over transport.
func New(transport Transport, optFns ...Option) (*Runner, error) {
	if transport == nil {
		return nil, errors.New("transport must not be nil")
	}

	r := Runner{
		transport: transport,
		decoder:   decode.Standard{},
		logger:    slog.Default(),
		tracer:    noop.NewTracerProvider().Tracer(""),
	}

	for _, opt := range optFns {
		if err := opt(&r); err != nil {
			return nil, fmt.Errorf("applying runner option: %w", err)
		}
	}

	return &r, nil
}

// Run performs exactly one transport call for d and never panics for
// expected failures: every failure is returned as a typed request.Error.
func (r *Runner) Run(ctx context.Context, d *request.Descriptor) Result {
	ctx, span := r.tracer.Start(ctx, "fetchq.run", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("http.request.method", d.Method),
		attribute.String("server.address", d.URL.Host),
		attribute.String("fetchq.kind", request.KindName(d.Kind)),
		attribute.String("fetchq.priority", d.Priority.String()),
		attribute.String("fetchq.request_id", d.ID.String()),
	)

	start := time.Now()
	res := r.run(ctx, d, start)

	res.Metrics.RequestID = d.ID
	res.Metrics.Kind = request.KindName(d.Kind)
	res.Metrics.StatusCode = res.StatusCode
	res.Metrics.Elapsed = time.Since(start)
	res.Metrics.Err = res.Err

	if res.StatusCode != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", res.StatusCode))
	}

	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		r.logger.Warn("request failed", "id", d.ID, "method", d.Method, "url", d.URL.Redacted(), "status", res.StatusCode, "elapsed", res.Metrics.Elapsed, "error", res.Err)
		return res
	}

	r.logger.Debug("request complete", "id", d.ID, "method", d.Method, "url", d.URL.Redacted(), "status", res.StatusCode, "elapsed", res.Metrics.Elapsed, "bytes", res.Metrics.BytesReceived)

	return res
}

func (r *Runner) run(ctx context.Context, d *request.Descriptor, start time.Time) (res Result) {
	r.logger.Debug("request start", "id", d.ID, "method", d.Method, "url", d.URL.Redacted(), "kind", request.KindName(d.Kind))

	resp, err := r.perform(ctx, d)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Err: request.CancelledError(err)}
		}
		return Result{Err: request.ConnectionError(err)}
	}

	res = Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
	}
	res.Metrics.CacheHit = client.FromCache(resp)
	if resp.Request != nil && resp.Request.ContentLength > 0 {
		res.Metrics.BytesSent = resp.Request.ContentLength
	}

	if d.Shape == request.ShapeResponse {
		res.Value = resp
		res.Response = resp
		if resp.ContentLength > 0 {
			res.Metrics.BytesReceived = resp.ContentLength
			r.sample(resp, resp.ContentLength, time.Since(start))
		}
		return res
	}

	body := &countingReader{r: resp.Body, start: start}
	defer func() {
		if _, err := io.CopyN(io.Discard, body, maxDrainSize); err != nil && !errors.Is(err, io.EOF) && ctx.Err() == nil {
			r.logger.Error("failed to discard unused body", "error", err)
		}
		if err := resp.Body.Close(); err != nil {
			r.logger.Error("failed to close response body", "error", err)
		}

		res.Metrics.BytesReceived = body.n
		r.sample(resp, body.n, body.elapsed())
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		b, err := io.ReadAll(io.LimitReader(body, maxErrBodySize))
		if err != nil {
			b = []byte("unable to read body")
		}

		res.Err = request.ServerError(resp.StatusCode, resp.Header, b)
		return res
	}

	value, err := r.decode(ctx, d, resp, body)
	switch {
	case err != nil && ctx.Err() != nil:
		res.Err = request.CancelledError(err)
	case err != nil:
		res.Err = request.ParseError(err)
	default:
		res.Value = value
	}

	return res
}

// perform dispatches on the request kind.
func (r *Runner) perform(ctx context.Context, d *request.Descriptor) (*http.Response, error) {
	switch d.Kind.(type) {
	case request.Simple:
		return r.transport.PerformSimple(ctx, d)
	case request.Download:
		return r.transport.PerformDownload(ctx, d)
	case request.Multipart:
		return r.transport.PerformUpload(ctx, d)
	default:
		panic(fmt.Sprintf("runner: unsupported request kind %T", d.Kind))
	}
}

func (r *Runner) decode(ctx context.Context, d *request.Descriptor, resp *http.Response, body io.Reader) (any, error) {
	k, ok := d.Kind.(request.Download)
	if !ok {
		return r.decoder.Decode(body, d)
	}

	dest := filepath.Join(k.Dir, k.FileName)

	opts := []download.Option{download.WithProgressLog()}
	if k.Checksum != nil {
		opts = append(opts, download.WithChecksum(k.Checksum, k.ChecksumHex))
	}
	if k.Progress != nil {
		opts = append(opts, download.WithProgress(k.Progress))
	}
	if k.SkipExisting {
		opts = append(opts, download.WithSkipExisting())
	}

	if _, err := download.Handle(ctx, body, resp.ContentLength, dest, r.logger, opts...); err != nil {
		return nil, err
	}

	return dest, nil
}

func (r *Runner) sample(resp *http.Response, n int64, elapsed time.Duration) {
	if r.sampler == nil || client.FromCache(resp) {
		return
	}
	r.sampler.AddSample(n, elapsed)
}

// countingReader counts body bytes and remembers when the last one
// arrived, so decode work after the transfer is not sampled.
type countingReader struct {
	r     io.Reader
	n     int64
	start time.Time
	last  time.Time
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n += int64(n)
		c.last = time.Now()
	}
	return n, err
}

// elapsed is the transfer time from the start of the call to the last
// byte received.
func (c *countingReader) elapsed() time.Duration {
	if c.last.IsZero() {
		return time.Since(c.start)
	}
	return c.last.Sub(c.start)
}

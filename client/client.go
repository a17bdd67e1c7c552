package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/adamwoolhether/fetchq/request"
)

// Client performs descriptors over an [http.Client]. The default
// client and transport can be customized through options.
type Client struct {
	c          *http.Client
	logger     *slog.Logger
	propagator propagation.TextMapPropagator
}

// Build returns a Client configured by optFns.
func Build(optFns ...Option) (*Client, error) {
	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying client option: %w", err)
		}
	}

	c := Client{
		c:          opts.client,
		logger:     opts.logger,
		propagator: opts.propagator,
	}
	if c.c == nil {
		c.c = &http.Client{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.propagator == nil {
		c.propagator = otel.GetTextMapPropagator()
	}

	if opts.timeout != nil {
		c.c.Timeout = *opts.timeout
	}
	if opts.noRedirect {
		c.c.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	rt, err := opts.transport(func() *slog.Logger { return c.logger })
	if err != nil {
		return nil, err
	}
	c.c.Transport = rt

	return &c, nil
}

// PerformSimple sends a SIMPLE descriptor. The caller owns the response body.
func (c *Client) PerformSimple(ctx context.Context, d *request.Descriptor) (*http.Response, error) {
	k, ok := d.Kind.(request.Simple)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKindMismatch, request.KindName(d.Kind))
	}

	var body io.Reader
	if len(k.Body) > 0 {
		body = bytes.NewReader(k.Body)
	}

	req, err := c.Request(ctx, d, body)
	if err != nil {
		return nil, err
	}
	if len(k.Body) > 0 && k.ContentType != "" {
		req.Header.Set("Content-Type", k.ContentType)
	}

	return c.do(req)
}

// PerformDownload sends a DOWNLOAD descriptor. The body is left unread so
// it can be streamed to disk.
func (c *Client) PerformDownload(ctx context.Context, d *request.Descriptor) (*http.Response, error) {
	if _, ok := d.Kind.(request.Download); !ok {
		return nil, fmt.Errorf("%w: %s", ErrKindMismatch, request.KindName(d.Kind))
	}

	req, err := c.Request(ctx, d, nil)
	if err != nil {
		return nil, err
	}

	return c.do(req)
}

// PerformUpload streams a MULTIPART descriptor's fields and files.
func (c *Client) PerformUpload(ctx context.Context, d *request.Descriptor) (*http.Response, error) {
	k, ok := d.Kind.(request.Multipart)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKindMismatch, request.KindName(d.Kind))
	}

	mp, err := newMultipartBody(k, c.logger)
	if err != nil {
		return nil, fmt.Errorf("preparing multipart body: %w", err)
	}

	req, err := c.Request(ctx, d, mp)
	if err != nil {
		mp.Close()
		return nil, err
	}
	req.ContentLength = mp.size
	req.Header.Set("Content-Type", mp.contentType)

	return c.do(req)
}

// Request builds the *http.Request for d: headers, cache directives,
// request ID, priority and trace propagation.
func (c *Client) Request(ctx context.Context, d *request.Descriptor, body io.Reader) (*http.Request, error) {
	ctx = request.ContextWithPriority(ctx, d.Priority)

	req, err := http.NewRequestWithContext(ctx, d.Method, d.URL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("instantiating request: %w", err)
	}

	for k, v := range d.Header {
		for _, element := range v {
			req.Header.Add(k, element)
		}
	}

	req.Header.Set(request.HeaderRequestID, d.ID.String())

	switch {
	case !d.Cacheable:
		req.Header.Set("Cache-Control", "no-cache")
	case d.MaxAge > 0:
		req.Header.Set("Cache-Control", "max-age="+strconv.Itoa(int(d.MaxAge.Seconds())))
	}

	c.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exec http do: %w", err)
	}

	return resp, nil
}

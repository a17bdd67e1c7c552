package request

import (
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// HeaderRequestID carries the descriptor ID on the wire.
const HeaderRequestID = "X-Request-ID"

// Descriptor describes one schedulable unit of work.
//
// A Descriptor must not be modified once it has been submitted; the
// scheduler keeps its own per-submission state (sequence number,
// running and cancelled flags).
type Descriptor struct {
	ID       uuid.UUID
	Method   string   `validate:"required,oneof=GET HEAD POST PUT PATCH DELETE OPTIONS"`
	URL      *url.URL `validate:"required"`
	Header   http.Header
	Priority Priority `validate:"gte=0,lte=3"`

	// Tag groups descriptors for cancellation and IsRunning queries.
	// It must be comparable. A nil Tag is only matched by cancel-all.
	Tag any `validate:"-"`

	Kind  Kind  `validate:"-"`
	Shape Shape `validate:"gte=0,lte=5"`

	// Dest is the decode target for ShapeObject. It must be a pointer.
	Dest          any `validate:"-"`
	UseJSONNumber bool
	Image         ImageBounds

	// Cacheable false asks the transport not to serve a cached copy.
	Cacheable bool
	MaxAge    time.Duration `validate:"gte=0"`

	// OnMetrics, if set, receives one CallMetrics per completed call.
	OnMetrics func(CallMetrics) `validate:"-"`
}

// CallMetrics summarises one completed transport call.
type CallMetrics struct {
	RequestID     uuid.UUID
	Kind          string
	StatusCode    int
	Elapsed       time.Duration
	BytesSent     int64
	BytesReceived int64
	CacheHit      bool
	Err           error
}

// New builds and validates a Descriptor.
func New(method, rawURL string, kind Kind, opts ...Option) (*Descriptor, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}

	d := &Descriptor{
		ID:        uuid.New(),
		Method:    method,
		URL:       u,
		Header:    make(http.Header),
		Priority:  Medium,
		Kind:      kind,
		Cacheable: true,
	}

	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, fmt.Errorf("applying request option: %w", err)
		}
	}

	if err := Validate(d); err != nil {
		return nil, err
	}

	return d, nil
}

// Get builds a GET descriptor.
func Get(rawURL string, opts ...Option) (*Descriptor, error) {
	return New(http.MethodGet, rawURL, Simple{}, opts...)
}

// Head builds a HEAD descriptor.
func Head(rawURL string, opts ...Option) (*Descriptor, error) {
	return New(http.MethodHead, rawURL, Simple{}, opts...)
}

// Options builds an OPTIONS descriptor.
func Options(rawURL string, opts ...Option) (*Descriptor, error) {
	return New(http.MethodOptions, rawURL, Simple{}, opts...)
}

// Delete builds a DELETE descriptor.
func Delete(rawURL string, opts ...Option) (*Descriptor, error) {
	return New(http.MethodDelete, rawURL, Simple{}, opts...)
}

// Post builds a POST descriptor. Use WithPayload or WithBody to set the body.
func Post(rawURL string, opts ...Option) (*Descriptor, error) {
	return New(http.MethodPost, rawURL, Simple{}, opts...)
}

// Put builds a PUT descriptor.
func Put(rawURL string, opts ...Option) (*Descriptor, error) {
	return New(http.MethodPut, rawURL, Simple{}, opts...)
}

// Patch builds a PATCH descriptor.
func Patch(rawURL string, opts ...Option) (*Descriptor, error) {
	return New(http.MethodPatch, rawURL, Simple{}, opts...)
}

// NewDownload builds a GET descriptor whose body is streamed to dir/fileName.
func NewDownload(rawURL, dir, fileName string, opts ...Option) (*Descriptor, error) {
	return New(http.MethodGet, rawURL, Download{Dir: dir, FileName: fileName}, opts...)
}

// NewUpload builds a multipart POST descriptor. Use WithField and WithFile
// to add parts.
func NewUpload(rawURL string, opts ...Option) (*Descriptor, error) {
	return New(http.MethodPost, rawURL, Multipart{}, opts...)
}

// Matches reports whether d belongs to tag. Tags are compared with ==.
func (d *Descriptor) Matches(tag any) bool {
	if d.Tag == nil || tag == nil {
		return false
	}
	return d.Tag == tag
}

func isPointer(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && !rv.IsNil()
}

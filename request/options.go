package request

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"net/http"
	"reflect"
	"time"
)

// Option is a functional option for [New].
type Option func(*Descriptor) error

// WithPriority sets the scheduling priority. Defaults to Medium.
func WithPriority(p Priority) Option {
	return func(d *Descriptor) error {
		d.Priority = p
		return nil
	}
}

// WithTag sets the cancellation tag. tag must be comparable.
func WithTag(tag any) Option {
	return func(d *Descriptor) error {
		if tag != nil && !reflect.TypeOf(tag).Comparable() {
			return fmt.Errorf("tag of type %T is not comparable", tag)
		}
		d.Tag = tag
		return nil
	}
}

// WithHeaders adds custom headers to the outgoing request.
func WithHeaders(headers map[string][]string) Option {
	return func(d *Descriptor) error {
		for k, v := range headers {
			for _, element := range v {
				d.Header.Add(k, element)
			}
		}
		return nil
	}
}

// WithCookies attaches the given cookies to the outgoing request.
func WithCookies(cookies ...*http.Cookie) Option {
	return func(d *Descriptor) error {
		r := &http.Request{Header: d.Header}
		for _, c := range cookies {
			r.AddCookie(c)
		}
		return nil
	}
}

// WithQueryStrings appends query parameters to the URL.
func WithQueryStrings(queryKV map[string]string) Option {
	return func(d *Descriptor) error {
		q := d.URL.Query()
		for k, v := range queryKV {
			q.Add(k, v)
		}
		d.URL.RawQuery = q.Encode()
		return nil
	}
}

// WithBody sets a raw body on a Simple request.
func WithBody(body []byte, contentType string) Option {
	return func(d *Descriptor) error {
		s, ok := d.Kind.(Simple)
		if !ok {
			return wrongKind("WithBody", d.Kind)
		}
		if contentType == "" {
			return errors.New("cannot use empty content type")
		}
		s.Body = body
		s.ContentType = contentType
		d.Kind = s
		return nil
	}
}

// WithPayload JSON-encodes body as the request payload of a Simple request.
func WithPayload(body any) Option {
	return func(d *Descriptor) error {
		var payload bytes.Buffer
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return fmt.Errorf("encoding request payload: %w", err)
		}
		return WithBody(payload.Bytes(), "application/json")(d)
	}
}

// WithDestination decodes the response body as JSON into bodyTemplate.
// bodyTemplate must be a pointer.
func WithDestination[T any](bodyTemplate *T) Option {
	return func(d *Descriptor) error {
		if bodyTemplate == nil {
			return errors.New("destination must not be nil")
		}
		d.Shape = ShapeObject
		d.Dest = bodyTemplate
		return nil
	}
}

// WithJSONNumber tells the JSON decoder to use json.Decoder.UseNumber.
func WithJSONNumber() Option {
	return func(d *Descriptor) error {
		d.UseJSONNumber = true
		return nil
	}
}

// WithShape selects how the response body is returned.
func WithShape(s Shape) Option {
	return func(d *Descriptor) error {
		d.Shape = s
		return nil
	}
}

// WithImage decodes the body as an image no larger than maxWidth x maxHeight.
func WithImage(maxWidth, maxHeight int, scale ScalePolicy) Option {
	return func(d *Descriptor) error {
		d.Shape = ShapeImage
		d.Image = ImageBounds{MaxWidth: maxWidth, MaxHeight: maxHeight, Scale: scale}
		return nil
	}
}

// WithNoCache asks the transport to revalidate rather than serve a cached copy.
func WithNoCache() Option {
	return func(d *Descriptor) error {
		d.Cacheable = false
		return nil
	}
}

// WithMaxAge accepts a cached response no older than age.
func WithMaxAge(age time.Duration) Option {
	return func(d *Descriptor) error {
		d.MaxAge = age
		return nil
	}
}

// WithMetrics registers a per-request call metrics callback.
func WithMetrics(fn func(CallMetrics)) Option {
	return func(d *Descriptor) error {
		d.OnMetrics = fn
		return nil
	}
}

// WithChecksum validates a Download against the hex-encoded expected sum.
func WithChecksum(h hash.Hash, expected string) Option {
	return func(d *Descriptor) error {
		dl, ok := d.Kind.(Download)
		if !ok {
			return wrongKind("WithChecksum", d.Kind)
		}
		if h == nil {
			return errors.New("hash must not be nil")
		}
		if expected == "" {
			return errors.New("expected checksum must not be empty")
		}
		dl.Checksum = h
		dl.ChecksumHex = expected
		d.Kind = dl
		return nil
	}
}

// WithSkipExisting completes a Download immediately when the destination exists.
func WithSkipExisting() Option {
	return func(d *Descriptor) error {
		dl, ok := d.Kind.(Download)
		if !ok {
			return wrongKind("WithSkipExisting", d.Kind)
		}
		dl.SkipExisting = true
		d.Kind = dl
		return nil
	}
}

// WithDownloadProgress reports bytes written for a Download.
func WithDownloadProgress(fn func(done, total int64)) Option {
	return func(d *Descriptor) error {
		dl, ok := d.Kind.(Download)
		if !ok {
			return wrongKind("WithDownloadProgress", d.Kind)
		}
		dl.Progress = fn
		d.Kind = dl
		return nil
	}
}

// WithField adds a form field to a Multipart request.
func WithField(name, value string) Option {
	return func(d *Descriptor) error {
		mp, ok := d.Kind.(Multipart)
		if !ok {
			return wrongKind("WithField", d.Kind)
		}
		if mp.Fields == nil {
			mp.Fields = make(map[string]string)
		}
		mp.Fields[name] = value
		d.Kind = mp
		return nil
	}
}

// WithFile adds the file at path to a Multipart request.
func WithFile(field, path string) Option {
	return withPart(Part{Field: field, Path: path})
}

// WithFileData adds an in-memory file to a Multipart request.
func WithFileData(field, fileName, contentType string, data []byte) Option {
	return withPart(Part{Field: field, FileName: fileName, ContentType: contentType, Data: data})
}

// WithUploadProgress reports bytes sent for a Multipart request.
func WithUploadProgress(fn func(sent, total int64)) Option {
	return func(d *Descriptor) error {
		mp, ok := d.Kind.(Multipart)
		if !ok {
			return wrongKind("WithUploadProgress", d.Kind)
		}
		mp.Progress = fn
		d.Kind = mp
		return nil
	}
}

func withPart(p Part) Option {
	return func(d *Descriptor) error {
		mp, ok := d.Kind.(Multipart)
		if !ok {
			return wrongKind("WithFile", d.Kind)
		}
		if (p.Path == "") == (p.Data == nil) {
			return errors.New("exactly one of path or data must be set")
		}
		mp.Files = append(mp.Files, p)
		d.Kind = mp
		return nil
	}
}

func wrongKind(opt string, k Kind) error {
	return fmt.Errorf("%s cannot be used with a %s request", opt, KindName(k))
}

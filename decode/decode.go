// Package decode turns response bodies into the values requested by a
// descriptor's shape.
package decode

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/adamwoolhether/fetchq/request"
)

// ErrShape is returned for shapes a Decoder does not handle.
var ErrShape = errors.New("unsupported response shape")

// Decoder decodes body according to d.Shape.
type Decoder interface {
	Decode(body io.Reader, d *request.Descriptor) (any, error)
}

// Func adapts a plain function to a [Decoder].
type Func func(body io.Reader, d *request.Descriptor) (any, error)

func (f Func) Decode(body io.Reader, d *request.Descriptor) (any, error) {
	return f(body, d)
}

// Standard decodes bytes, strings, JSON objects and images, and drains
// bodies for discard requests.
type Standard struct {
	// MaxBodySize caps bytes and string reads. Zero means no limit.
	MaxBodySize int64
}

func (s Standard) Decode(body io.Reader, d *request.Descriptor) (any, error) {
	if s.MaxBodySize > 0 {
		body = io.LimitReader(body, s.MaxBodySize)
	}

	switch d.Shape {
	case request.ShapeBytes:
		b, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("reading body: %w", err)
		}
		return b, nil

	case request.ShapeString:
		b, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("reading body: %w", err)
		}
		return string(b), nil

	case request.ShapeObject:
		dec := json.NewDecoder(body)
		if d.UseJSONNumber {
			dec.UseNumber()
		}
		if err := dec.Decode(d.Dest); err != nil {
			return nil, fmt.Errorf("decoding body: %w", err)
		}
		return d.Dest, nil

	case request.ShapeImage:
		return Image(body, d.Image)

	case request.ShapeDiscard:
		if _, err := io.Copy(io.Discard, body); err != nil {
			return nil, fmt.Errorf("discarding body: %w", err)
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: %v", ErrShape, d.Shape)
	}
}

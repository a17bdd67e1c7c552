package request

// Shape selects how a successful response is handed back.
type Shape int

const (
	// ShapeBytes returns the body as []byte.
	ShapeBytes Shape = iota
	// ShapeString returns the body as a string.
	ShapeString
	// ShapeObject decodes the body into the descriptor's Dest.
	ShapeObject
	// ShapeImage decodes the body into an image.Image bounded by Image.
	ShapeImage
	// ShapeResponse returns the *http.Response untouched. The caller owns
	// the body and must close it.
	ShapeResponse
	// ShapeDiscard reads and drops the body. Useful to warm a transport cache.
	ShapeDiscard
)

func (s Shape) String() string {
	switch s {
	case ShapeBytes:
		return "bytes"
	case ShapeString:
		return "string"
	case ShapeObject:
		return "object"
	case ShapeImage:
		return "image"
	case ShapeResponse:
		return "response"
	case ShapeDiscard:
		return "discard"
	default:
		return "unknown"
	}
}

// ScalePolicy controls how a decoded image is fitted into its bounds.
type ScalePolicy int

const (
	// ScaleFit shrinks the image until it fits inside the bounds.
	ScaleFit ScalePolicy = iota
	// ScaleFill shrinks the image until it covers the bounds.
	ScaleFill
	// ScaleNone keeps the decoded size.
	ScaleNone
)

// ImageBounds limits the size of a decoded image. Zero means unbounded.
type ImageBounds struct {
	MaxWidth  int `validate:"gte=0"`
	MaxHeight int `validate:"gte=0"`
	Scale     ScalePolicy
}

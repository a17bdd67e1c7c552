package decode

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/adamwoolhether/fetchq/request"
)

// Image decodes an image and scales it down to fit within bounds.
// A zero MaxWidth or MaxHeight leaves that dimension unbounded.
func Image(r io.Reader, bounds request.ImageBounds) (image.Image, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	w, h := Scaled(src.Bounds().Dx(), src.Bounds().Dy(), bounds)
	if w == src.Bounds().Dx() && h == src.Bounds().Dy() {
		return src, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	return dst, nil
}

// Scaled returns the output size for a w x h image under bounds. Images are
// never scaled up.
func Scaled(w, h int, bounds request.ImageBounds) (int, int) {
	if w <= 0 || h <= 0 || bounds.Scale == request.ScaleNone {
		return w, h
	}

	maxW, maxH := bounds.MaxWidth, bounds.MaxHeight
	if maxW == 0 && maxH == 0 {
		return w, h
	}
	if maxW == 0 {
		maxW = w
	}
	if maxH == 0 {
		maxH = h
	}

	if w <= maxW && h <= maxH {
		return w, h
	}

	rw := float64(maxW) / float64(w)
	rh := float64(maxH) / float64(h)

	ratio := min(rw, rh)
	if bounds.Scale == request.ScaleFill && bounds.MaxWidth > 0 && bounds.MaxHeight > 0 {
		ratio = max(rw, rh)
	}
	ratio = min(ratio, 1)

	return max(1, int(float64(w)*ratio+0.5)), max(1, int(float64(h)*ratio+0.5))
}

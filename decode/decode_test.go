package decode_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/adamwoolhether/fetchq/decode"
	"github.com/adamwoolhether/fetchq/request"
	"github.com/google/go-cmp/cmp"
)

type payload struct {
	Body  string      `json:"body"`
	Count json.Number `json:"count"`
}

func TestStandard_Decode(t *testing.T) {
	var dest payload

	testCases := map[string]struct {
		desc   request.Descriptor
		body   string
		exp    any
		expErr bool
	}{
		"bytes": {
			desc: request.Descriptor{Shape: request.ShapeBytes},
			body: "raw",
			exp:  []byte("raw"),
		},
		"string": {
			desc: request.Descriptor{Shape: request.ShapeString},
			body: "text",
			exp:  "text",
		},
		"object": {
			desc: request.Descriptor{Shape: request.ShapeObject, Dest: &dest, UseJSONNumber: true},
			body: `{"body":"hi","count":12345678901234567890}`,
			exp:  &payload{Body: "hi", Count: "12345678901234567890"},
		},
		"objectMalformed": {
			desc:   request.Descriptor{Shape: request.ShapeObject, Dest: &dest},
			body:   `{"body":`,
			expErr: true,
		},
		"discard": {
			desc: request.Descriptor{Shape: request.ShapeDiscard},
			body: "ignored",
			exp:  nil,
		},
		"passThrough": {
			desc:   request.Descriptor{Shape: request.ShapeResponse},
			expErr: true,
		},
		"imageGarbage": {
			desc:   request.Descriptor{Shape: request.ShapeImage},
			body:   "not an image",
			expErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			got, err := decode.Standard{}.Decode(strings.NewReader(tc.body), &tc.desc)
			if tc.expErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if diff := cmp.Diff(tc.exp, got); diff != "" {
				t.Errorf("decoded value mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStandard_UnsupportedShape(t *testing.T) {
	_, err := decode.Standard{}.Decode(strings.NewReader(""), &request.Descriptor{Shape: request.ShapeResponse})
	if !errors.Is(err, decode.ErrShape) {
		t.Errorf("exp ErrShape, got %v", err)
	}
}

func TestStandard_MaxBodySize(t *testing.T) {
	got, err := decode.Standard{MaxBodySize: 4}.Decode(strings.NewReader("abcdefgh"), &request.Descriptor{Shape: request.ShapeString})
	if err != nil {
		t.Fatal(err)
	}
	if got != "abcd" {
		t.Errorf("exp truncated body, got %q", got)
	}
}

func TestScaled(t *testing.T) {
	testCases := map[string]struct {
		w, h   int
		bounds request.ImageBounds
		exp    [2]int
	}{
		"unbounded":     {w: 400, h: 200, bounds: request.ImageBounds{}, exp: [2]int{400, 200}},
		"fitWidth":      {w: 400, h: 200, bounds: request.ImageBounds{MaxWidth: 100, MaxHeight: 100}, exp: [2]int{100, 50}},
		"fillCover":     {w: 400, h: 200, bounds: request.ImageBounds{MaxWidth: 100, MaxHeight: 100, Scale: request.ScaleFill}, exp: [2]int{200, 100}},
		"none":          {w: 400, h: 200, bounds: request.ImageBounds{MaxWidth: 100, MaxHeight: 100, Scale: request.ScaleNone}, exp: [2]int{400, 200}},
		"heightOnly":    {w: 400, h: 200, bounds: request.ImageBounds{MaxHeight: 50}, exp: [2]int{100, 50}},
		"neverUpscale":  {w: 40, h: 20, bounds: request.ImageBounds{MaxWidth: 100, MaxHeight: 100}, exp: [2]int{40, 20}},
		"tinyRoundsUp1": {w: 1000, h: 1, bounds: request.ImageBounds{MaxWidth: 10}, exp: [2]int{10, 1}},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			w, h := decode.Scaled(tc.w, tc.h, tc.bounds)
			if diff := cmp.Diff(tc.exp, [2]int{w, h}); diff != "" {
				t.Errorf("size mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 64, 32))
	for x := range 64 {
		for y := range 32 {
			src.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatal(err)
	}

	img, err := decode.Image(bytes.NewReader(buf.Bytes()), request.ImageBounds{MaxWidth: 16, MaxHeight: 16})
	if err != nil {
		t.Fatalf("decoding image: %v", err)
	}

	if got := img.Bounds().Size(); got != image.Pt(16, 8) {
		t.Errorf("exp 16x8, got %v", got)
	}
}

package encode

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// Encoder resizes and compresses a raw image.
type Encoder interface {
	Encode(img image.Image, targetWidth, quality int) ([]byte, error)
}

// JPEG scales frames with x/image/draw and compresses them with image/jpeg.
type JPEG struct {
	scaler draw.Scaler
}

// NewJPEG creates a JPEG encoder using bilinear scaling.
func NewJPEG() *JPEG {
	return &JPEG{scaler: draw.ApproxBiLinear}
}

// Encode resizes img to targetWidth, keeping the aspect ratio, and encodes it.
// A targetWidth <= 0 or >= the source width keeps the original size.
func (e *JPEG) Encode(img image.Image, targetWidth, quality int) ([]byte, error) {
	if img == nil {
		return nil, errors.New("encode: nil image")
	}
	src := img.Bounds()
	if src.Empty() {
		return nil, errors.New("encode: empty image")
	}

	out := img
	if w, h := ScaledSize(src.Dx(), src.Dy(), targetWidth); w != src.Dx() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		e.scaler.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
		out = dst
	}

	var buf bytes.Buffer
	buf.Grow(256 * 1024)
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: ClampQuality(quality)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ScaledSize returns the output dimensions for a source of w×h resized to
// targetWidth. Images are never upscaled.
func ScaledSize(w, h, targetWidth int) (int, int) {
	if targetWidth <= 0 || targetWidth >= w {
		return w, h
	}
	nh := (h*targetWidth + w/2) / w
	if nh < 1 {
		nh = 1
	}
	return targetWidth, nh
}

// ClampQuality keeps quality in the 1..100 range image/jpeg accepts.
func ClampQuality(q int) int {
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}

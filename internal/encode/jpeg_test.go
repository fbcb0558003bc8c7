package encode

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 90, A: 255})
		}
	}
	return img
}

func TestEncodeResizesPreservingAspect(t *testing.T) {
	data, err := NewJPEG().Encode(solid(400, 200), 100, 70)
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
}

func TestEncodeNeverUpscales(t *testing.T) {
	data, err := NewJPEG().Encode(solid(64, 48), 2560, 70)
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 48, cfg.Height)
}

func TestEncodeRejectsEmpty(t *testing.T) {
	_, err := NewJPEG().Encode(nil, 10, 70)
	assert.Error(t, err)

	_, err = NewJPEG().Encode(image.NewRGBA(image.Rect(0, 0, 0, 0)), 10, 70)
	assert.Error(t, err)
}

func TestScaledSize(t *testing.T) {
	cases := []struct {
		w, h, target int
		ww, wh       int
	}{
		{2560, 1440, 1280, 1280, 720},
		{1920, 1080, 0, 1920, 1080},
		{1920, 1080, 1920, 1920, 1080},
		{1000, 3, 10, 10, 1},
		{3, 1000, 1, 1, 333},
	}
	for _, c := range cases {
		w, h := ScaledSize(c.w, c.h, c.target)
		assert.Equal(t, c.ww, w, "%dx%d -> %d", c.w, c.h, c.target)
		assert.Equal(t, c.wh, h, "%dx%d -> %d", c.w, c.h, c.target)
	}
}

func TestClampQuality(t *testing.T) {
	assert.Equal(t, 1, ClampQuality(-5))
	assert.Equal(t, 70, ClampQuality(70))
	assert.Equal(t, 100, ClampQuality(250))
}

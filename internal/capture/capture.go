package capture

import (
	"context"
	"errors"
	"fmt"
	"image"

	"agentviewport/internal/types"

	"github.com/kbinani/screenshot"
)

// ErrNoDisplay is returned when the OS reports no active display.
var ErrNoDisplay = errors.New("no active display")

// Capturer produces a raw image of the display on demand.
type Capturer interface {
	Capture(ctx context.Context) (image.Image, error)
}

// DisplayLister is implemented by capturers that can enumerate monitors.
type DisplayLister interface {
	Displays() ([]types.Display, error)
}

// Screen captures one display through kbinani/screenshot.
type Screen struct {
	display int
}

// NewScreen returns a capturer for the given display index. Out of range
// indices fall back to the primary display at capture time.
func NewScreen(display int) *Screen {
	return &Screen{display: display}
}

// Capture grabs the configured display.
func (s *Screen) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	num := screenshot.NumActiveDisplays()
	if num <= 0 {
		return nil, ErrNoDisplay
	}
	d := s.display
	if d < 0 || d >= num {
		d = 0
	}
	img, err := screenshot.CaptureRect(screenshot.GetDisplayBounds(d))
	if err != nil {
		// On some platforms capture can intermittently fail
		return nil, fmt.Errorf("capture display %d: %w", d, err)
	}
	return img, nil
}

// Displays lists every active display. Index 0 is the primary.
func (s *Screen) Displays() ([]types.Display, error) {
	num := screenshot.NumActiveDisplays()
	if num <= 0 {
		return nil, ErrNoDisplay
	}
	out := make([]types.Display, 0, num)
	for i := 0; i < num; i++ {
		b := screenshot.GetDisplayBounds(i)
		out = append(out, types.Display{
			Index:   i,
			X:       b.Min.X,
			Y:       b.Min.Y,
			Width:   b.Dx(),
			Height:  b.Dy(),
			Primary: i == 0,
		})
	}
	return out, nil
}

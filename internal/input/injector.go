package input

import (
	"errors"
	"fmt"
	"strings"

	"agentviewport/internal/types"
)

// Button is a mouse button name.
type Button string

const (
	ButtonLeft   Button = "left"
	ButtonRight  Button = "right"
	ButtonMiddle Button = "middle"
)

var (
	// ErrInvalidCommand marks commands rejected before any injection happened.
	ErrInvalidCommand = errors.New("invalid input command")

	ErrInvalidButton     = fmt.Errorf("%w: invalid button", ErrInvalidCommand)
	ErrInvalidCoordinate = fmt.Errorf("%w: invalid coordinate", ErrInvalidCommand)
	ErrInvalidModifier   = fmt.Errorf("%w: invalid modifier", ErrInvalidCommand)
	ErrMissingField      = fmt.Errorf("%w: missing field", ErrInvalidCommand)
)

// ParseButton maps a wire button name to a Button. Empty means left.
func ParseButton(b string) (Button, error) {
	switch strings.ToLower(b) {
	case "", "left", "l":
		return ButtonLeft, nil
	case "right", "r":
		return ButtonRight, nil
	case "center", "middle", "m":
		return ButtonMiddle, nil
	default:
		return "", fmt.Errorf("%w %q", ErrInvalidButton, b)
	}
}

// Injector drives the OS pointer and keyboard.
type Injector interface {
	ScreenSize() (types.ScreenMetrics, error)
	PointerPosition() (x, y int, err error)
	MoveTo(x, y int) error
	SetButton(b Button, pressed bool) error
	Click(b Button) error
	// TapKey presses and releases key while holding modifiers. Names use
	// the vocabulary of NormalizeKey and NormalizeModifier.
	TapKey(key string, modifiers ...string) error
	TypeText(text string) error
}

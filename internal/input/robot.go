package input

import (
	"fmt"

	"agentviewport/internal/types"

	"github.com/go-vgo/robotgo"
)

// robotNames translates vocabulary names robotgo spells differently.
var robotNames = map[string]string{
	"control":     "ctrl",
	"command":     "cmd",
	"escape":      "esc",
	"right_shift": "rshift",
}

func robotKey(k string) string {
	if n, ok := robotNames[k]; ok {
		return n
	}
	return k
}

// robotButton spells b the way robotgo's mouse functions expect; unknown
// names fall back to left there.
func robotButton(b Button) string {
	if b == ButtonMiddle {
		return "center"
	}
	return string(b)
}

// Robot injects input through robotgo.
type Robot struct{}

// NewRobot returns the robotgo-backed injector.
func NewRobot() *Robot { return &Robot{} }

func (Robot) ScreenSize() (types.ScreenMetrics, error) {
	w, h := robotgo.GetScreenSize()
	m := types.ScreenMetrics{Width: w, Height: h}
	if !m.Valid() {
		return m, fmt.Errorf("robotgo reported screen size %dx%d", w, h)
	}
	return m, nil
}

func (Robot) PointerPosition() (int, int, error) {
	x, y := robotgo.GetMousePos()
	return x, y, nil
}

func (Robot) MoveTo(x, y int) error {
	robotgo.Move(x, y)
	return nil
}

func (Robot) SetButton(b Button, pressed bool) error {
	dir := "up"
	if pressed {
		dir = "down"
	}
	if err := robotgo.Toggle(robotButton(b), dir); err != nil {
		return fmt.Errorf("robotgo: %w", err)
	}
	return nil
}

func (Robot) Click(b Button) error {
	robotgo.Click(robotButton(b), false)
	return nil
}

func (Robot) TapKey(key string, modifiers ...string) error {
	var err error
	if len(modifiers) == 0 {
		err = robotgo.KeyTap(robotKey(key))
	} else {
		mods := make([]string, len(modifiers))
		for i, m := range modifiers {
			mods[i] = robotKey(m)
		}
		err = robotgo.KeyTap(robotKey(key), mods)
	}
	if err != nil {
		return fmt.Errorf("robotgo: %w", err)
	}
	return nil
}

func (Robot) TypeText(text string) error {
	robotgo.TypeStr(text)
	return nil
}


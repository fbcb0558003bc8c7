package safety

import (
	"errors"
	"fmt"
	"strings"

	"agentviewport/internal/input"
)

// ErrInvalidHotkey is returned for hotkey strings that cannot be listened for.
var ErrInvalidHotkey = errors.New("invalid hotkey")

// Hotkey is one key plus the modifiers that must be held with it, in the
// naming used by the hook library.
type Hotkey struct {
	Key       string
	Modifiers []string
}

func (h Hotkey) String() string {
	return strings.Join(append(append([]string(nil), h.Modifiers...), h.Key), "+")
}

// hookNames maps router key names onto the hook library's names.
var hookNames = map[string]string{
	"control":     "ctrl",
	"command":     "cmd",
	"escape":      "esc",
	"right_shift": "rshift",
}

func hookName(k string) string {
	if n, ok := hookNames[k]; ok {
		return n
	}
	return k
}

// ParseHotkey parses strings such as "Ctrl+Alt+S". Exactly one part must be
// a non-modifier key.
func ParseHotkey(s string) (Hotkey, error) {
	var h Hotkey
	if strings.TrimSpace(s) == "" {
		return h, fmt.Errorf("%w: empty", ErrInvalidHotkey)
	}
	seen := map[string]bool{}
	for _, part := range strings.Split(s, "+") {
		part = strings.TrimSpace(part)
		if mod, ok := input.NormalizeModifier(part); ok {
			name := hookName(mod)
			if seen[name] {
				return Hotkey{}, fmt.Errorf("%w %q: repeated %s", ErrInvalidHotkey, s, part)
			}
			seen[name] = true
			h.Modifiers = append(h.Modifiers, name)
			continue
		}
		key, ok := input.NormalizeKey(part)
		if !ok {
			return Hotkey{}, fmt.Errorf("%w %q: unknown key %q", ErrInvalidHotkey, s, part)
		}
		if h.Key != "" {
			return Hotkey{}, fmt.Errorf("%w %q: more than one key", ErrInvalidHotkey, s)
		}
		h.Key = hookName(key)
	}
	if h.Key == "" {
		return Hotkey{}, fmt.Errorf("%w %q: no key", ErrInvalidHotkey, s)
	}
	return h, nil
}

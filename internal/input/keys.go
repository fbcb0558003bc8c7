package input

import (
	"strings"
	"unicode/utf8"
)

// recognizedKeys is the named-key vocabulary accepted for KeyTap.
var recognizedKeys = map[string]struct{}{}

func init() {
	for _, k := range []string{
		"backspace", "delete", "enter", "tab", "escape", "up", "down", "right", "left",
		"home", "end", "pageup", "pagedown",
		"f1", "f2", "f3", "f4", "f5", "f6", "f7", "f8", "f9", "f10", "f11", "f12",
		"command", "alt", "control", "shift", "right_shift", "space", "printscreen", "insert",
		"audio_mute", "audio_vol_down", "audio_vol_up", "audio_play", "audio_stop",
		"audio_pause", "audio_prev", "audio_next", "audio_rewind", "audio_forward",
		"numpad_0", "numpad_1", "numpad_2", "numpad_3", "numpad_4",
		"numpad_5", "numpad_6", "numpad_7", "numpad_8", "numpad_9",
		"lights_mon_up", "lights_mon_down", "lights_kbd_toggle", "lights_kbd_up", "lights_kbd_down",
	} {
		recognizedKeys[k] = struct{}{}
	}
}

// keyAliases maps browser and shorthand names onto the vocabulary.
var keyAliases = map[string]string{
	" ":          "space",
	"esc":        "escape",
	"return":     "enter",
	"ctrl":       "control",
	"meta":       "command",
	"cmd":        "command",
	"win":        "command",
	"super":      "command",
	"option":     "alt",
	"arrowup":    "up",
	"arrowdown":  "down",
	"arrowleft":  "left",
	"arrowright": "right",
	"del":        "delete",
	"pgup":       "pageup",
	"pgdn":       "pagedown",
	"print":      "printscreen",
}

// modifierKeys are the names allowed in a KeyTap modifier list.
var modifierKeys = map[string]struct{}{
	"control":     {},
	"alt":         {},
	"shift":       {},
	"command":     {},
	"right_shift": {},
}

// NormalizeKey lowercases k, resolves aliases and reports whether the result
// is injectable: either a recognized name or a single literal character.
func NormalizeKey(k string) (string, bool) {
	if k == " " {
		return "space", true
	}
	k = strings.ToLower(strings.TrimSpace(k))
	if k == "" {
		return "", false
	}
	if alias, ok := keyAliases[k]; ok {
		k = alias
	}
	if _, ok := recognizedKeys[k]; ok {
		return k, true
	}
	if utf8.RuneCountInString(k) == 1 {
		return k, true
	}
	return "", false
}

// NormalizeModifier resolves a modifier name, e.g. "Ctrl" -> "control".
func NormalizeModifier(m string) (string, bool) {
	k, ok := NormalizeKey(m)
	if !ok {
		return "", false
	}
	if _, ok := modifierKeys[k]; !ok {
		return "", false
	}
	return k, true
}

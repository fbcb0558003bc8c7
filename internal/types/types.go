package types

import (
	"encoding/base64"
	"sync"
	"time"
)

// Command discriminants accepted from either control plane.
const (
	CmdMove          = "move"
	CmdMoveRelative  = "mousemove_relative"
	CmdClickTeleport = "click_teleport"
	CmdButtonDown    = "mousedown"
	CmdButtonUp      = "mouseup"
	CmdKeyTap        = "keytap"
	CmdTypeText      = "type"
)

// aliases maps legacy or shorthand discriminants onto the canonical ones.
var aliases = map[string]string{
	"click":         CmdClickTeleport,
	"move_relative": CmdMoveRelative,
	"keydown":       CmdKeyTap,
	"text":          CmdTypeText,
}

// Command is one input instruction. Which fields matter depends on Type.
// Positions and deltas are pointers so an absent field is distinguishable
// from zero.
type Command struct {
	Type       string   `json:"type"`
	X          *float64 `json:"x,omitempty"`
	Y          *float64 `json:"y,omitempty"`
	DX         *float64 `json:"dx,omitempty"`
	DY         *float64 `json:"dy,omitempty"`
	Button     string   `json:"button,omitempty"`
	Key        string   `json:"key,omitempty"`
	Modifiers  []string `json:"modifiers,omitempty"`
	Text       string   `json:"text,omitempty"`
	Normalized *bool    `json:"normalized,omitempty"`
}

// Kind returns the canonical discriminant for c.Type.
func (c Command) Kind() string {
	if k, ok := aliases[c.Type]; ok {
		return k
	}
	return c.Type
}

// Bool returns a pointer to v, for Command.Normalized.
func Bool(v bool) *bool { return &v }

// Float returns a pointer to v, for Command positions and deltas.
func Float(v float64) *float64 { return &v }

// ScreenMetrics is the size of the primary display in pixels.
type ScreenMetrics struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether both dimensions are positive.
func (m ScreenMetrics) Valid() bool { return m.Width > 0 && m.Height > 0 }

// Display describes one attached monitor.
type Display struct {
	Index   int  `json:"index"`
	X       int  `json:"x"`
	Y       int  `json:"y"`
	Width   int  `json:"width"`
	Height  int  `json:"height"`
	Primary bool `json:"primary"`
}

// Frame is one encoded JPEG produced by the stream pipeline. It is shared
// read-only between all subscribers.
type Frame struct {
	Seq        uint64
	Data       []byte
	Width      int
	Height     int
	CapturedAt time.Time

	b64Once sync.Once
	b64     string
}

// NewFrame wraps encoded bytes.
func NewFrame(seq uint64, data []byte, width, height int, at time.Time) *Frame {
	return &Frame{Seq: seq, Data: data, Width: width, Height: height, CapturedAt: at}
}

// Base64 returns the standard base64 form of the frame, computed once.
func (f *Frame) Base64() string {
	f.b64Once.Do(func() {
		f.b64 = base64.StdEncoding.EncodeToString(f.Data)
	})
	return f.b64
}

// StreamStatus reports the health of the stream loop.
type StreamStatus struct {
	Degraded            bool   `json:"degraded"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	LastError           string `json:"lastError,omitempty"`
}

// Outbound event names on the realtime channel.
const (
	EventFrame  = "frame"
	EventStatus = "status"
	EventError  = "error"
)

// Envelope is the JSON shape of every text message sent to realtime clients.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// CommandError is the payload of an error event.
type CommandError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

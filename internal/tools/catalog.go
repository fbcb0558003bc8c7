package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"agentviewport/internal/input"
	"agentviewport/internal/types"
)

// handler executes one tool call with its raw arguments.
type handler func(ctx context.Context, args json.RawMessage) ([]contentBlock, error)

type tool struct {
	name        string
	description string
	schema      map[string]any
	annotations *toolAnnotations
	run         handler
}

func boolPtr(v bool) *bool { return &v }

var (
	readOnly = &toolAnnotations{
		ReadOnlyHint:    boolPtr(true),
		DestructiveHint: boolPtr(false),
		IdempotentHint:  boolPtr(true),
		OpenWorldHint:   boolPtr(false),
	}
	drivesInput = &toolAnnotations{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(true),
		IdempotentHint:  boolPtr(false),
		OpenWorldHint:   boolPtr(false),
	}
)

func objectSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func pointSchema(verb string) map[string]any {
	return objectSchema(map[string]any{
		"x": map[string]any{"type": "number", "description": "Horizontal coordinate (0 to 1, or absolute pixels)"},
		"y": map[string]any{"type": "number", "description": "Vertical coordinate (0 to 1, or absolute pixels)"},
		"button": map[string]any{
			"type":        "string",
			"enum":        []string{"left", "right", "middle"},
			"default":     "left",
			"description": "Mouse button to " + verb,
		},
		"normalized": map[string]any{
			"type":        "boolean",
			"description": "Force fractional (true) or pixel (false) coordinates. When omitted, a point with both axes in [0,1] is fractional.",
		},
	}, "x", "y")
}

func (s *Server) catalog() []tool {
	return []tool{
		{
			name:        "get_screenshot",
			description: "Capture a screenshot of the main monitor",
			schema:      objectSchema(map[string]any{}),
			annotations: readOnly,
			run:         s.getScreenshot,
		},
		{
			name:        "list_monitors",
			description: "List available monitors and their dimensions",
			schema:      objectSchema(map[string]any{}),
			annotations: readOnly,
			run:         s.listMonitors,
		},
		{
			name:        "mouse_click",
			description: "Click the mouse at specific coordinates",
			schema:      pointSchema("click"),
			annotations: drivesInput,
			run:         s.mouseClick,
		},
		{
			name: "mouse_drag",
			description: "Drag the mouse to specific coordinates: press the button at the current position, " +
				"move, then release. The three steps are separate actions and other input may interleave.",
			schema:      pointSchema("hold while dragging"),
			annotations: drivesInput,
			run:         s.mouseDrag,
		},
		{
			name:        "key_type",
			description: "Type text or press a specific key. When both are given the text is typed first.",
			schema: objectSchema(map[string]any{
				"text": map[string]any{"type": "string", "description": "Text to type"},
				"key":  map[string]any{"type": "string", "description": "Special key to press (e.g., 'enter', 'escape')"},
				"modifiers": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string", "enum": []string{"control", "alt", "shift", "command"}},
					"description": "Modifiers held while the key is pressed",
				},
			}),
			annotations: drivesInput,
			run:         s.keyType,
		},
	}
}

// decodeArgs strictly decodes tool arguments; unknown fields are rejected.
func decodeArgs(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return validation("invalid arguments: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return validation("invalid arguments: trailing data")
	}
	return nil
}

type pointArgs struct {
	X          *float64 `json:"x"`
	Y          *float64 `json:"y"`
	Button     string   `json:"button"`
	Normalized *bool    `json:"normalized"`
}

func (a *pointArgs) decode(raw json.RawMessage) error {
	if err := decodeArgs(raw, a); err != nil {
		return err
	}
	if a.X == nil || a.Y == nil {
		return validation("x and y are required")
	}
	if _, err := input.ParseButton(a.Button); err != nil {
		return validation("%w", err)
	}
	return nil
}

func (s *Server) getScreenshot(ctx context.Context, args json.RawMessage) ([]contentBlock, error) {
	if err := decodeArgs(args, &struct{}{}); err != nil {
		return nil, err
	}
	f, err := s.snapshots.Snapshot(ctx)
	if err != nil {
		return nil, &ToolError{Category: CategoryTransient, Err: err}
	}
	return []contentBlock{
		textBlock(fmt.Sprintf("Screenshot captured (%dx%d).", f.Width, f.Height)),
		jpegBlock(f.Base64()),
	}, nil
}

type monitorsResult struct {
	Width    int             `json:"width"`
	Height   int             `json:"height"`
	Displays []types.Display `json:"displays"`
}

func (s *Server) listMonitors(ctx context.Context, args json.RawMessage) ([]contentBlock, error) {
	if err := decodeArgs(args, &struct{}{}); err != nil {
		return nil, err
	}
	m, err := s.router.Metrics()
	if err != nil {
		return nil, &ToolError{Category: CategoryTransient, Err: err}
	}
	res := monitorsResult{Width: m.Width, Height: m.Height}
	if s.displays != nil {
		ds, err := s.displays.Displays()
		if err != nil {
			return nil, &ToolError{Category: CategoryTransient, Err: err}
		}
		res.Displays = ds
	}
	if len(res.Displays) == 0 {
		res.Displays = []types.Display{{Width: m.Width, Height: m.Height, Primary: true}}
	}
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return nil, err
	}
	return []contentBlock{textBlock(string(b))}, nil
}

func (s *Server) mouseClick(ctx context.Context, args json.RawMessage) ([]contentBlock, error) {
	var a pointArgs
	if err := a.decode(args); err != nil {
		return nil, err
	}
	err := s.router.Route(ctx, types.Command{
		Type:       types.CmdClickTeleport,
		X:          a.X,
		Y:          a.Y,
		Button:     a.Button,
		Normalized: a.Normalized,
	})
	if err != nil {
		return nil, err
	}
	return []contentBlock{textBlock(fmt.Sprintf("Clicked at %v, %v", *a.X, *a.Y))}, nil
}

func (s *Server) mouseDrag(ctx context.Context, args json.RawMessage) ([]contentBlock, error) {
	var a pointArgs
	if err := a.decode(args); err != nil {
		return nil, err
	}
	steps := []types.Command{
		{Type: types.CmdButtonDown, Button: a.Button},
		{Type: types.CmdMove, X: a.X, Y: a.Y, Normalized: a.Normalized},
		{Type: types.CmdButtonUp, Button: a.Button},
	}
	for i, cmd := range steps {
		if err := s.router.Route(ctx, cmd); err != nil {
			if i == 1 {
				// release the button pressed in step 0
				_ = s.router.Route(context.WithoutCancel(ctx), steps[2])
			}
			return nil, err
		}
	}
	return []contentBlock{textBlock(fmt.Sprintf("Dragged to %v, %v", *a.X, *a.Y))}, nil
}

type keyArgs struct {
	Text      string   `json:"text"`
	Key       string   `json:"key"`
	Modifiers []string `json:"modifiers"`
}

func (s *Server) keyType(ctx context.Context, args json.RawMessage) ([]contentBlock, error) {
	var a keyArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Text == "" && a.Key == "" {
		return nil, validation("one of text or key is required")
	}
	if a.Key != "" {
		if _, ok := input.NormalizeKey(a.Key); !ok {
			return nil, notFound("unrecognized key %q", a.Key)
		}
	} else if len(a.Modifiers) > 0 {
		return nil, validation("modifiers require a key")
	}
	for _, m := range a.Modifiers {
		if _, ok := input.NormalizeModifier(m); !ok {
			return nil, validation("unknown modifier %q", m)
		}
	}

	var done []string
	if a.Text != "" {
		if err := s.router.Route(ctx, types.Command{Type: types.CmdTypeText, Text: a.Text}); err != nil {
			return nil, err
		}
		done = append(done, a.Text)
	}
	if a.Key != "" {
		if err := s.router.Route(ctx, types.Command{Type: types.CmdKeyTap, Key: a.Key, Modifiers: a.Modifiers}); err != nil {
			return nil, err
		}
		done = append(done, strings.Join(append(append([]string(nil), a.Modifiers...), a.Key), "+"))
	}
	return []contentBlock{textBlock("Input processed: " + strings.Join(done, ", "))}, nil
}

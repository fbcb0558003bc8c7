package input

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"agentviewport/internal/types"
)

// DefaultSettleDelay is the pause between the move and the click of a
// teleport-and-click.
const DefaultSettleDelay = 50 * time.Millisecond

// Router turns Commands into Injector calls. It is shared by every control
// plane and safe for concurrent use.
type Router struct {
	injector Injector
	logger   *slog.Logger
	settle   time.Duration

	// pointerMu serializes read-modify-write pointer updates.
	pointerMu sync.Mutex

	metricsMu sync.RWMutex
	metrics   types.ScreenMetrics
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithSettleDelay overrides DefaultSettleDelay.
func WithSettleDelay(d time.Duration) RouterOption {
	return func(r *Router) { r.settle = d }
}

// WithLogger sets the router's logger.
func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// NewRouter creates a Router over inj.
func NewRouter(inj Injector, opts ...RouterOption) *Router {
	r := &Router{
		injector: inj,
		settle:   DefaultSettleDelay,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Metrics returns the cached screen size, querying the injector the first
// time.
func (r *Router) Metrics() (types.ScreenMetrics, error) {
	r.metricsMu.RLock()
	m := r.metrics
	r.metricsMu.RUnlock()
	if m.Valid() {
		return m, nil
	}
	return r.RefreshMetrics()
}

// RefreshMetrics re-queries the screen size and replaces the cache.
func (r *Router) RefreshMetrics() (types.ScreenMetrics, error) {
	m, err := r.injector.ScreenSize()
	if err != nil {
		return types.ScreenMetrics{}, fmt.Errorf("query screen size: %w", err)
	}
	if !m.Valid() {
		return types.ScreenMetrics{}, fmt.Errorf("query screen size: invalid %dx%d", m.Width, m.Height)
	}
	r.metricsMu.Lock()
	r.metrics = m
	r.metricsMu.Unlock()
	return m, nil
}

// Resolve converts a command position into screen pixels. An explicit
// normalized flag wins; otherwise a point with both axes in [0,1] is
// fractional.
func (r *Router) Resolve(x, y float64, normalized *bool) (int, int, error) {
	if !finite(x) || !finite(y) {
		return 0, 0, fmt.Errorf("%w (%v, %v)", ErrInvalidCoordinate, x, y)
	}
	fractional := x >= 0 && x <= 1 && y >= 0 && y <= 1
	if normalized != nil {
		fractional = *normalized
	}
	if !fractional {
		return int(math.Round(x)), int(math.Round(y)), nil
	}
	if x < 0 || x > 1 || y < 0 || y > 1 {
		return 0, 0, fmt.Errorf("%w: fractional (%v, %v) outside [0,1]", ErrInvalidCoordinate, x, y)
	}
	m, err := r.Metrics()
	if err != nil {
		return 0, 0, err
	}
	px, py := Scale(x, y, m)
	return px, py, nil
}

// Scale maps a fractional point onto m, rounding to the nearest pixel.
func Scale(x, y float64, m types.ScreenMetrics) (int, int) {
	return int(math.Round(x * float64(m.Width))), int(math.Round(y * float64(m.Height)))
}

// Route performs exactly one injection action for cmd. Unknown command
// types are dropped without error.
func (r *Router) Route(ctx context.Context, cmd types.Command) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s: injector panic: %v", cmd.Kind(), p)
		}
	}()

	switch cmd.Kind() {
	case types.CmdMove:
		return r.moveAbsolute(cmd)
	case types.CmdMoveRelative:
		return r.moveRelative(cmd)
	case types.CmdClickTeleport:
		return r.clickTeleport(cmd)
	case types.CmdButtonDown:
		return r.button(cmd, true)
	case types.CmdButtonUp:
		return r.button(cmd, false)
	case types.CmdKeyTap:
		return r.keyTap(cmd)
	case types.CmdTypeText:
		return r.typeText(cmd)
	default:
		r.logger.Debug("dropping unknown input command", "type", cmd.Type)
		return nil
	}
}

// position resolves the x/y of cmd, which must both be present.
func (r *Router) position(cmd types.Command) (int, int, error) {
	if cmd.X == nil || cmd.Y == nil {
		return 0, 0, fmt.Errorf("%w: x and y", ErrMissingField)
	}
	return r.Resolve(*cmd.X, *cmd.Y, cmd.Normalized)
}

func (r *Router) moveAbsolute(cmd types.Command) error {
	x, y, err := r.position(cmd)
	if err != nil {
		return err
	}
	if err := r.injector.MoveTo(x, y); err != nil {
		return fmt.Errorf("move to (%d, %d): %w", x, y, err)
	}
	return nil
}

func (r *Router) moveRelative(cmd types.Command) error {
	if cmd.DX == nil || cmd.DY == nil {
		return fmt.Errorf("%w: dx and dy", ErrMissingField)
	}
	if !finite(*cmd.DX) || !finite(*cmd.DY) {
		return fmt.Errorf("%w: delta (%v, %v)", ErrInvalidCoordinate, *cmd.DX, *cmd.DY)
	}
	dx, dy := int(math.Round(*cmd.DX)), int(math.Round(*cmd.DY))

	r.pointerMu.Lock()
	defer r.pointerMu.Unlock()

	x, y, err := r.injector.PointerPosition()
	if err != nil {
		return fmt.Errorf("read pointer position: %w", err)
	}
	if err := r.injector.MoveTo(x+dx, y+dy); err != nil {
		return fmt.Errorf("move to (%d, %d): %w", x+dx, y+dy, err)
	}
	return nil
}

func (r *Router) clickTeleport(cmd types.Command) error {
	b, err := ParseButton(cmd.Button)
	if err != nil {
		return err
	}
	x, y, err := r.position(cmd)
	if err != nil {
		return err
	}
	if err := r.injector.MoveTo(x, y); err != nil {
		return fmt.Errorf("move to (%d, %d): %w", x, y, err)
	}
	if r.settle > 0 {
		time.Sleep(r.settle)
	}
	if err := r.injector.Click(b); err != nil {
		return fmt.Errorf("pointer moved to (%d, %d) but %s click failed: %w", x, y, b, err)
	}
	return nil
}

func (r *Router) button(cmd types.Command, pressed bool) error {
	b, err := ParseButton(cmd.Button)
	if err != nil {
		return err
	}
	if err := r.injector.SetButton(b, pressed); err != nil {
		return fmt.Errorf("%s %s: %w", cmd.Kind(), b, err)
	}
	return nil
}

func (r *Router) keyTap(cmd types.Command) error {
	if cmd.Key == "" {
		return fmt.Errorf("%w: key", ErrMissingField)
	}
	mods := make([]string, 0, len(cmd.Modifiers))
	for _, m := range cmd.Modifiers {
		n, ok := NormalizeModifier(m)
		if !ok {
			return fmt.Errorf("%w %q", ErrInvalidModifier, m)
		}
		mods = append(mods, n)
	}
	key, ok := NormalizeKey(cmd.Key)
	if !ok {
		r.logger.Debug("dropping unrecognized key", "key", cmd.Key)
		return nil
	}
	if err := r.injector.TapKey(key, mods...); err != nil {
		return fmt.Errorf("tap %q: %w", key, err)
	}
	return nil
}

func (r *Router) typeText(cmd types.Command) error {
	if cmd.Text == "" {
		return fmt.Errorf("%w: text", ErrMissingField)
	}
	if err := r.injector.TypeText(cmd.Text); err != nil {
		return fmt.Errorf("type text: %w", err)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Package safety implements the operator kill switch: a global hotkey that
// halts streaming and shuts the process down.
package safety

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	hook "github.com/robotn/gohook"
)

// Listener delivers global key presses. Stop must be safe to call more than
// once.
type Listener interface {
	Listen(h Hotkey, fn func()) error
	Stop()
}

// Stopper halts the stream loop.
type Stopper interface {
	Stop()
}

// Monitor watches for the safety hotkey. On a match it stops the stream,
// stops listening and fires the kill switch, at most once.
type Monitor struct {
	listener Listener
	hotkey   Hotkey
	stream   Stopper
	ks       *Killswitch
	logger   *slog.Logger
	once     sync.Once
}

// NewMonitor parses hotkey and prepares a monitor. It does not listen until
// Start is called.
func NewMonitor(l Listener, hotkey string, stream Stopper, ks *Killswitch, logger *slog.Logger) (*Monitor, error) {
	h, err := ParseHotkey(hotkey)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Monitor{listener: l, hotkey: h, stream: stream, ks: ks, logger: logger}, nil
}

// Hotkey returns the parsed hotkey.
func (m *Monitor) Hotkey() Hotkey { return m.hotkey }

// Start begins listening. A listener that cannot start is returned as an
// error.
func (m *Monitor) Start() error {
	if err := m.listener.Listen(m.hotkey, m.trigger); err != nil {
		return fmt.Errorf("listen for %s: %w", m.hotkey, err)
	}
	m.logger.Info("safety hotkey armed", "hotkey", m.hotkey.String())
	return nil
}

// Stop stops listening without firing the kill switch.
func (m *Monitor) Stop() {
	m.listener.Stop()
}

func (m *Monitor) trigger() {
	m.once.Do(func() {
		m.logger.Warn("safety hotkey pressed, shutting down", "hotkey", m.hotkey.String())
		if m.stream != nil {
			m.stream.Stop()
		}
		m.listener.Stop()
		m.ks.Trigger("safety hotkey " + m.hotkey.String())
	})
}

// errHookRunning is returned when a second Listen is attempted; the hook
// library keeps process-global state.
var errHookRunning = errors.New("global key hook already running")

// GoHook listens through robotn/gohook.
type GoHook struct {
	mu      sync.Mutex
	running bool
}

func NewGoHook() *GoHook {
	return &GoHook{}
}

func (g *GoHook) Listen(h Hotkey, fn func()) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return errHookRunning
	}

	keys := append([]string{h.Key}, h.Modifiers...)
	hook.Register(hook.KeyDown, keys, func(hook.Event) {
		// the callback runs on the hook's event loop, which Stop tears down
		go fn()
	})
	events := hook.Start()
	if events == nil {
		return errors.New("global key hook did not start")
	}
	go func() { <-hook.Process(events) }()
	g.running = true
	return nil
}

func (g *GoHook) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.running {
		return
	}
	g.running = false
	hook.End()
}

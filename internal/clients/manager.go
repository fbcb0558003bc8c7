package clients

import (
	"sync"

	"agentviewport/internal/types"
)

// Subscriber is one connected realtime session. Send methods must not block;
// a subscriber that cannot keep up drops the message.
type Subscriber interface {
	ID() string
	SendFrame(f *types.Frame)
	SendStatus(s types.StreamStatus)
}

// Manager tracks the realtime subscribers and fans frames out to them.
// onActive runs when the set goes from empty to non-empty and onIdle when it
// becomes empty again; both are called with the manager lock held so
// connect/disconnect transitions are applied in order.
type Manager struct {
	mu       sync.RWMutex
	subs     map[string]Subscriber
	onActive func()
	onIdle   func()
}

func NewManager(onActive, onIdle func()) *Manager {
	return &Manager{
		subs:     make(map[string]Subscriber),
		onActive: onActive,
		onIdle:   onIdle,
	}
}

// Add registers s and returns the new subscriber count.
func (m *Manager) Add(s Subscriber) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[s.ID()]; ok {
		return len(m.subs)
	}
	m.subs[s.ID()] = s
	if len(m.subs) == 1 && m.onActive != nil {
		m.onActive()
	}
	return len(m.subs)
}

// Remove unregisters the subscriber with id and returns the remaining count.
func (m *Manager) Remove(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return len(m.subs)
	}
	delete(m.subs, id)
	if len(m.subs) == 0 && m.onIdle != nil {
		m.onIdle()
	}
	return len(m.subs)
}

// Len returns the number of subscribers.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// Broadcast sends f to every subscriber.
func (m *Manager) Broadcast(f *types.Frame) {
	for _, s := range m.snapshot() {
		s.SendFrame(f)
	}
}

// BroadcastStatus sends a stream status change to every subscriber.
func (m *Manager) BroadcastStatus(st types.StreamStatus) {
	for _, s := range m.snapshot() {
		s.SendStatus(st)
	}
}

func (m *Manager) snapshot() []Subscriber {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Subscriber, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s)
	}
	return out
}

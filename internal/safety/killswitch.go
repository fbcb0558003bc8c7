package safety

import "sync"

// Killswitch is the process-wide shutdown signal. The first Trigger wins.
type Killswitch struct {
	once   sync.Once
	done   chan struct{}
	mu     sync.Mutex
	reason string
}

func NewKillswitch() *Killswitch {
	return &Killswitch{done: make(chan struct{})}
}

// Trigger fires the switch and reports whether this call fired it.
func (k *Killswitch) Trigger(reason string) bool {
	fired := false
	k.once.Do(func() {
		k.mu.Lock()
		k.reason = reason
		k.mu.Unlock()
		close(k.done)
		fired = true
	})
	return fired
}

// Done is closed once the switch has fired.
func (k *Killswitch) Done() <-chan struct{} { return k.done }

// Reason returns what fired the switch, or "" if it has not fired.
func (k *Killswitch) Reason() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.reason
}

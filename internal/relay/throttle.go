package relay

import (
	"sync"
	"time"
)

// Throttle bounds how often enrichment may run per client. A permit stamps
// the entry immediately, before the enrichment call completes, so rapid
// attempts inside the window are rejected regardless of call latency. A call
// still in flight when the next window opens is deliberately not deduplicated.
type Throttle struct {
	window time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// NewThrottle creates a throttle with the given per-client window
func NewThrottle(window time.Duration) *Throttle {
	return &Throttle{
		window: window,
		last:   make(map[string]time.Time),
	}
}

// TryAcquire reports whether an enrichment call is permitted for the client
// right now, stamping the entry when it is.
func (t *Throttle) TryAcquire(clientID string) bool {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if now.Sub(t.last[clientID]) > t.window {
		t.last[clientID] = now
		return true
	}

	return false
}

// Release removes the client's entry. Invoked at session teardown.
func (t *Throttle) Release(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, clientID)
}

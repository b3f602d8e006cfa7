package telemetry

import (
	"sync"
	"sync/atomic"
)

// Counter tracks gate outcomes for the current summary window.
type Counter struct {
	accepted atomic.Int64

	mu       sync.Mutex
	rejected map[string]int64
}

// NewCounter allocates a fresh telemetry counter.
func NewCounter() *Counter {
	return &Counter{rejected: make(map[string]int64)}
}

// IncAccepted counts one admitted increment.
func (c *Counter) IncAccepted() {
	c.accepted.Add(1)
}

// IncRejected counts one rejection by the named check.
func (c *Counter) IncRejected(check string) {
	c.mu.Lock()
	c.rejected[check]++
	c.mu.Unlock()
}

// Window is a snapshot of one summary window.
type Window struct {
	Accepted int64
	Rejected map[string]int64
}

// Empty reports whether nothing happened in the window.
func (w Window) Empty() bool {
	if w.Accepted > 0 {
		return false
	}
	for _, n := range w.Rejected {
		if n > 0 {
			return false
		}
	}
	return true
}

// SnapshotAndReset atomically returns the current window and starts a new one.
func (c *Counter) SnapshotAndReset() Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := Window{Accepted: c.accepted.Swap(0), Rejected: c.rejected}
	c.rejected = make(map[string]int64)
	return w
}

// Restore adds a window back, used when a push fails.
func (c *Counter) Restore(w Window) {
	if w.Accepted > 0 {
		c.accepted.Add(w.Accepted)
	}
	c.mu.Lock()
	for check, n := range w.Rejected {
		if n > 0 {
			c.rejected[check] += n
		}
	}
	c.mu.Unlock()
}

// Accepted returns the current accepted count without mutating it.
func (c *Counter) Accepted() int64 {
	return c.accepted.Load()
}

// Rejected returns the current count for check without mutating it.
func (c *Counter) Rejected(check string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rejected[check]
}

package gate

import (
	"fmt"
	"sync"
	"time"
)

const msgBurst = "Slow down! Too many clicks per second."

type burstWindow struct {
	count       int
	windowStart time.Time
}

// BurstLimiter caps requests per address inside a short fixed window that
// restarts on the first request after it elapses. A burst rejection never
// blocks the address.
type BurstLimiter struct {
	mu      sync.Mutex
	windows map[string]*burstWindow
	limit   int
	window  time.Duration
}

// NewBurstLimiter allows limit requests per window per address.
func NewBurstLimiter(limit int, window time.Duration) *BurstLimiter {
	if window <= 0 {
		window = time.Second
	}
	return &BurstLimiter{
		windows: make(map[string]*burstWindow),
		limit:   limit,
		window:  window,
	}
}

// Admit counts a request from addr at now against its current window.
func (b *BurstLimiter) Admit(addr string, now time.Time) *Rejection {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.windows[addr]
	if !ok || now.Sub(w.windowStart) > b.window {
		b.windows[addr] = &burstWindow{count: 1, windowStart: now}
		return nil
	}

	w.count++
	if w.count > b.limit {
		return &Rejection{
			Check:      "burst",
			Class:      ClassRate,
			Message:    msgBurst,
			Detail:     fmt.Sprintf("%d requests within %s (limit %d)", w.count, b.window, b.limit),
			RetryAfter: w.windowStart.Add(b.window).Sub(now),
		}
	}
	return nil
}

// Sweep drops windows that have elapsed.
func (b *BurstLimiter) Sweep(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for addr, w := range b.windows {
		if now.Sub(w.windowStart) > b.window {
			delete(b.windows, addr)
			removed++
		}
	}
	return removed
}

// Len returns the number of live windows.
func (b *BurstLimiter) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.windows)
}

// Check adapts the limiter to the gate pipeline.
func (b *BurstLimiter) Check() Check {
	return func(r *Request) *Rejection { return b.Admit(r.Addr, r.Now) }
}

package gate

import (
	"fmt"
	"sync"
	"time"
)

// addressRecord is the per-source bookkeeping shared by ActivityTracker and
// AnomalyDetector. Zero blockedUntil means not blocked.
type addressRecord struct {
	requestCount    int
	lastRequestTime time.Time
	blockedUntil    time.Time
	blockedFor      time.Duration // length of the block that set blockedUntil

	recentClickTimes []time.Time
	sameIntervalRun  int
	lastInterval     time.Duration
	hasInterval      bool
}

// block starts a timeout of d from now.
func (rec *addressRecord) block(now time.Time, d time.Duration) {
	rec.blockedUntil = now.Add(d)
	rec.blockedFor = d
}

// restart begins a fresh window at now with this request as its first.
func (rec *addressRecord) restart(now time.Time) {
	rec.requestCount = 1
	rec.lastRequestTime = now
	rec.blockedUntil = time.Time{}
	rec.blockedFor = 0
	rec.clearIntervals()
}

func (rec *addressRecord) clearIntervals() {
	rec.recentClickTimes = rec.recentClickTimes[:0]
	rec.sameIntervalRun = 0
	rec.lastInterval = 0
	rec.hasInterval = false
}

// AddressBook holds one record per source address. Only the rate and anomaly
// heuristics of this package read or write it.
type AddressBook struct {
	mu         sync.Mutex
	records    map[string]*addressRecord
	historyCap int
}

// NewAddressBook creates an empty book retaining up to historyCap click
// timestamps per address.
func NewAddressBook(historyCap int) *AddressBook {
	if historyCap < 3 {
		historyCap = 50
	}
	return &AddressBook{
		records:    make(map[string]*addressRecord),
		historyCap: historyCap,
	}
}

// Len returns the number of tracked addresses.
func (b *AddressBook) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Sweep drops records idle for longer than ttl. Records still blocked at now
// are kept so eviction can never lift a block early.
func (b *AddressBook) Sweep(now time.Time, ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for addr, rec := range b.records {
		if now.Before(rec.blockedUntil) {
			continue
		}
		if now.Sub(rec.lastRequestTime) > ttl {
			delete(b.records, addr)
			removed++
		}
	}
	return removed
}

// ActivityTracker enforces the sustained per-minute cap with a timed block.
type ActivityTracker struct {
	book   *AddressBook
	limit  int
	window time.Duration
	block  time.Duration
}

// NewActivityTracker builds a tracker over book. limit is the number of
// requests allowed per rolling window; exceeding it blocks for block.
func NewActivityTracker(book *AddressBook, limit int, window, block time.Duration) *ActivityTracker {
	if window <= 0 {
		window = time.Minute
	}
	if block <= 0 {
		block = 10 * time.Minute
	}
	return &ActivityTracker{book: book, limit: limit, window: window, block: block}
}

// Admit records a request from addr at now.
func (a *ActivityTracker) Admit(addr string, now time.Time) *Rejection {
	a.book.mu.Lock()
	defer a.book.mu.Unlock()

	rec, ok := a.book.records[addr]
	if !ok {
		a.book.records[addr] = &addressRecord{
			requestCount:     1,
			lastRequestTime:  now,
			recentClickTimes: make([]time.Time, 0, a.book.historyCap),
		}
		return nil
	}

	if now.Before(rec.blockedUntil) {
		return &Rejection{
			Check:      "blocked",
			Class:      ClassRate,
			Message:    fmt.Sprintf("You have been put in a %s timeout.", timeoutPhrase(rec.blockedFor)),
			Detail:     "address blocked until " + rec.blockedUntil.UTC().Format(time.RFC3339),
			RetryAfter: rec.blockedUntil.Sub(now),
		}
	}

	// An expired block always starts a clean window, even when the block
	// was shorter than the window it punished.
	if !rec.blockedUntil.IsZero() || now.Sub(rec.lastRequestTime) > a.window {
		rec.restart(now)
		return nil
	}

	rec.requestCount++
	rec.lastRequestTime = now
	if rec.requestCount > a.limit {
		rec.block(now, a.block)
		return &Rejection{
			Check:      "rate-limit",
			Class:      ClassRate,
			Message:    fmt.Sprintf("Too much ham. You are in a %s timeout.", timeoutPhrase(a.block)),
			Detail:     fmt.Sprintf("%d requests within %s (limit %d)", rec.requestCount, a.window, a.limit),
			RetryAfter: a.block,
		}
	}
	return nil
}

// Check adapts the tracker to the gate pipeline.
func (a *ActivityTracker) Check() Check {
	return func(r *Request) *Rejection { return a.Admit(r.Addr, r.Now) }
}

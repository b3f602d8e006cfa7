package gate

import (
	"fmt"
	"time"
)

const msgAnomaly = "Automated clicking detected."

// AnomalyDetector rejects addresses whose recent clicks are spaced too
// evenly to come from a person. It keeps no verdict between calls: one
// irregular interval in the retained window clears the signal.
type AnomalyDetector struct {
	book      *AddressBook
	tolerance time.Duration
	block     time.Duration
}

// NewAnomalyDetector builds a detector over book. When block is positive a
// detection also blocks the address for that long, which ActivityTracker
// then enforces.
func NewAnomalyDetector(book *AddressBook, tolerance, block time.Duration) *AnomalyDetector {
	if tolerance <= 0 {
		tolerance = 20 * time.Millisecond
	}
	return &AnomalyDetector{book: book, tolerance: tolerance, block: block}
}

// Admit appends now to addr's click history and judges the full window.
func (d *AnomalyDetector) Admit(addr string, now time.Time) *Rejection {
	d.book.mu.Lock()
	defer d.book.mu.Unlock()

	rec, ok := d.book.records[addr]
	if !ok {
		rec = &addressRecord{lastRequestTime: now}
		d.book.records[addr] = rec
	}

	rec.recentClickTimes = insertTime(rec.recentClickTimes, now)
	if over := len(rec.recentClickTimes) - d.book.historyCap; over > 0 {
		rec.recentClickTimes = append(rec.recentClickTimes[:0], rec.recentClickTimes[over:]...)
	}

	clicks := rec.recentClickTimes
	if len(clicks) < 2 {
		return nil
	}

	first := clicks[1].Sub(clicks[0])
	run := 1
	for i := 2; i < len(clicks); i++ {
		if absDuration(clicks[i].Sub(clicks[i-1])-first) > d.tolerance {
			break
		}
		run++
	}
	rec.sameIntervalRun = run
	rec.lastInterval = clicks[len(clicks)-1].Sub(clicks[len(clicks)-2])
	rec.hasInterval = true

	if len(clicks) < d.book.historyCap || run < len(clicks)-1 {
		return nil
	}

	if d.block > 0 {
		rec.block(now, d.block)
	}
	return &Rejection{
		Check:      "anomaly",
		Class:      ClassRate,
		Message:    msgAnomaly,
		Detail:     fmt.Sprintf("%d clicks spaced %s apart (tolerance %s)", len(clicks), first, d.tolerance),
		RetryAfter: d.block,
	}
}

// Check adapts the detector to the gate pipeline.
func (d *AnomalyDetector) Check() Check {
	return func(r *Request) *Rejection { return d.Admit(r.Addr, r.Now) }
}

// insertTime appends t keeping ts sorted. Requests stamped before they were
// serialised can arrive slightly out of order.
func insertTime(ts []time.Time, t time.Time) []time.Time {
	i := len(ts)
	for i > 0 && t.Before(ts[i-1]) {
		i--
	}
	ts = append(ts, time.Time{})
	copy(ts[i+1:], ts[i:])
	ts[i] = t
	return ts
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

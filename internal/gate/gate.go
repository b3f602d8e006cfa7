// Package gate implements the admission pipeline in front of the counter.
//
// An increment request runs through an ordered list of checks; the first one
// that rejects wins and later checks never see the request. The order is
// origin, token, sustained rate, burst, interval anomaly: cheap and decisive
// checks first so forged traffic never touches per-address state.
package gate

import (
	"fmt"
	"time"

	"github.com/developingchet/click-counter/internal/metrics"
)

// Class groups rejections by how the transport should report them.
type Class int

const (
	// ClassAuth is a bad or missing token or origin.
	ClassAuth Class = iota + 1
	// ClassRate is a tripped sustained, burst or anomaly limiter.
	ClassRate
)

func (c Class) String() string {
	switch c {
	case ClassAuth:
		return "auth"
	case ClassRate:
		return "rate"
	default:
		return "unknown"
	}
}

// Request is the view of an increment request the checks operate on.
type Request struct {
	Addr    string
	Origin  string
	Referer string
	Token   string
	Now     time.Time
}

// Rejection is returned by a check when the request must not be counted.
type Rejection struct {
	Check   string
	Class   Class
	Message string // human readable, safe to send to the client
	Detail  string // operator detail, logged only

	// RetryAfter is how long the address should wait; zero when unknown.
	RetryAfter time.Duration
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Check, r.Detail)
}

// Check evaluates a request and returns nil to pass or a Rejection.
type Check func(r *Request) *Rejection

// Pipeline runs checks in order. Returns the first Rejection encountered, or
// nil if all pass.
func Pipeline(checks []Check, r *Request) *Rejection {
	for _, c := range checks {
		if rej := c(r); rej != nil {
			return rej
		}
	}
	return nil
}

// Config holds every tunable of the standard gate.
type Config struct {
	AllowedOrigins []string
	TokenTTL       time.Duration

	PerMinuteLimit int
	ActivityWindow time.Duration
	BlockDuration  time.Duration

	BurstLimit  int
	BurstWindow time.Duration

	AnomalyHistory   int
	AnomalyTolerance time.Duration
	AnomalyBlock     time.Duration

	// AddressTTL is how long an idle, unblocked address record survives Sweep.
	AddressTTL time.Duration
}

// Gate owns all admission state and runs the standard check order.
type Gate struct {
	Origins  *OriginValidator
	Tokens   *TokenRotator
	Activity *ActivityTracker
	Burst    *BurstLimiter
	Anomaly  *AnomalyDetector

	book       *AddressBook
	addressTTL time.Duration
	checks     []Check
	addrLock   *keyLock
}

// New builds the standard gate. now seeds the first token.
func New(cfg Config, now time.Time) *Gate {
	book := NewAddressBook(cfg.AnomalyHistory)
	g := &Gate{
		Origins:    NewOriginValidator(cfg.AllowedOrigins...),
		Tokens:     NewTokenRotator(cfg.TokenTTL, now),
		Activity:   NewActivityTracker(book, cfg.PerMinuteLimit, cfg.ActivityWindow, cfg.BlockDuration),
		Burst:      NewBurstLimiter(cfg.BurstLimit, cfg.BurstWindow),
		Anomaly:    NewAnomalyDetector(book, cfg.AnomalyTolerance, cfg.AnomalyBlock),
		book:       book,
		addressTTL: cfg.AddressTTL,
		addrLock:   newKeyLock(),
	}
	g.checks = []Check{
		OriginCheck(g.Origins),
		TokenCheck(g.Tokens),
		g.Activity.Check(),
		g.Burst.Check(),
		g.Anomaly.Check(),
	}
	return g
}

// Admit normalises the request address and runs the pipeline. Requests from
// one address pass through the pipeline one at a time. Rejections are
// counted per check.
func (g *Gate) Admit(r *Request) *Rejection {
	r.Addr = NormalizeAddr(r.Addr)
	unlock := g.addrLock.Lock(r.Addr)
	rej := Pipeline(g.checks, r)
	unlock()
	if rej != nil {
		metrics.Rejections.WithLabelValues(rej.Check).Inc()
	}
	return rej
}

// Sweep evicts idle address records and elapsed burst windows. It returns
// the number of address records still tracked.
func (g *Gate) Sweep(now time.Time) int {
	g.book.Sweep(now, g.addressTTL)
	g.Burst.Sweep(now)
	n := g.book.Len()
	metrics.TrackedAddresses.Set(float64(n))
	return n
}

// timeoutPhrase renders a block duration the way rejection messages read,
// e.g. 10m -> "10-minute".
func timeoutPhrase(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%d-hour", d/time.Hour)
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%d-minute", d/time.Minute)
	case d >= time.Second && d%time.Second == 0:
		return fmt.Sprintf("%d-second", d/time.Second)
	default:
		return d.String()
	}
}

package gate

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/developingchet/click-counter/internal/metrics"
)

const msgInvalidToken = "Invalid or missing token"

// Token is the shared secret clients present in X-Access-Token.
type Token struct {
	Value     string    `json:"token"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenRotator owns the single live token. A token is valid from IssuedAt
// until ExpiresAt; rotation happens exactly at ExpiresAt, so the rotation
// period and the validity window are the same.
type TokenRotator struct {
	mu  sync.RWMutex
	cur Token
	ttl time.Duration
}

// NewTokenRotator issues the first token at now.
func NewTokenRotator(ttl time.Duration, now time.Time) *TokenRotator {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	t := &TokenRotator{ttl: ttl}
	t.cur = t.issue(now)
	return t
}

func (t *TokenRotator) issue(now time.Time) Token {
	var b [16]byte
	// crypto/rand.Read never returns an error since Go 1.24.
	_, _ = rand.Read(b[:])
	return Token{
		Value:     hex.EncodeToString(b[:]),
		IssuedAt:  now,
		ExpiresAt: now.Add(t.ttl),
	}
}

// Current returns the live token, rotating first when it has expired. The
// lazy rotation keeps validity exact even if the background timer fires late.
func (t *TokenRotator) Current(now time.Time) Token {
	t.mu.RLock()
	cur := t.cur
	t.mu.RUnlock()
	if now.Before(cur.ExpiresAt) {
		return cur
	}
	return t.rotateIfDue(now)
}

// Rotate unconditionally replaces the token. The previous value is invalid
// as soon as Rotate returns.
func (t *TokenRotator) Rotate(now time.Time) Token {
	t.mu.Lock()
	t.cur = t.issue(now)
	cur := t.cur
	t.mu.Unlock()
	metrics.TokenRotations.Inc()
	log.Debug().Time("expires_at", cur.ExpiresAt).Msg("access token rotated")
	return cur
}

func (t *TokenRotator) rotateIfDue(now time.Time) Token {
	t.mu.Lock()
	if now.Before(t.cur.ExpiresAt) {
		cur := t.cur
		t.mu.Unlock()
		return cur
	}
	// Anchor the new token on the old expiry so periods do not drift when
	// rotation runs late; skip whole periods that were missed entirely.
	issued := t.cur.ExpiresAt
	for !now.Before(issued.Add(t.ttl)) {
		issued = issued.Add(t.ttl)
	}
	t.cur = t.issue(issued)
	cur := t.cur
	t.mu.Unlock()
	metrics.TokenRotations.Inc()
	log.Debug().Time("expires_at", cur.ExpiresAt).Msg("access token rotated")
	return cur
}

// Valid reports whether value is the live token at now.
func (t *TokenRotator) Valid(value string, now time.Time) bool {
	if value == "" {
		return false
	}
	cur := t.Current(now)
	return subtle.ConstantTimeCompare([]byte(value), []byte(cur.Value)) == 1
}

// Run rotates the token at every expiry until ctx is cancelled. clock
// supplies the current time; pass time.Now outside tests.
func (t *TokenRotator) Run(ctx context.Context, clock func() time.Time) {
	timer := time.NewTimer(t.untilExpiry(clock()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			cur := t.rotateIfDue(clock())
			timer.Reset(cur.ExpiresAt.Sub(clock()))
		}
	}
}

func (t *TokenRotator) untilExpiry(now time.Time) time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cur.ExpiresAt.Sub(now)
}

// TokenCheck rejects requests that do not carry the live token.
func TokenCheck(t *TokenRotator) Check {
	return func(r *Request) *Rejection {
		if t.Valid(r.Token, r.Now) {
			return nil
		}
		detail := "token mismatch"
		if r.Token == "" {
			detail = "token missing"
		}
		return &Rejection{
			Check:   "token",
			Class:   ClassAuth,
			Message: msgInvalidToken,
			Detail:  detail,
		}
	}
}

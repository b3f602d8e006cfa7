package httpmw

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ConnectLimiter is a per-address token bucket for observer connection
// attempts. Idle entries are evicted by a background goroutine.
type ConnectLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	perSecond rate.Limit
	burst     int
	ttl       time.Duration

	// OnDenied is called for every refused attempt with the client address.
	OnDenied func(ip string)
}

// NewConnectLimiter allows burst attempts at once per address, refilled at
// perSecond. The cleanup goroutine stops when ctx is done.
func NewConnectLimiter(ctx context.Context, perSecond float64, burst int, ttl time.Duration) *ConnectLimiter {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	l := &ConnectLimiter{
		visitors:  make(map[string]*visitor),
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		ttl:       ttl,
	}
	go l.cleanup(ctx)
	return l
}

func (l *ConnectLimiter) allow(ip string) bool {
	l.mu.Lock()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	allowed := v.limiter.Allow()
	l.mu.Unlock()

	if !allowed && l.OnDenied != nil {
		l.OnDenied(ip)
	}
	return allowed
}

// Len reports the number of tracked addresses.
func (l *ConnectLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

func (l *ConnectLimiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.ttl {
			delete(l.visitors, ip)
		}
	}
}

func (l *ConnectLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.evict(now)
		}
	}
}

// Middleware rejects attempts over the limit with 429. It relies on
// ClientIPWithOptions having run first.
func (l *ConnectLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(ClientIPFromContext(r.Context())) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many connection attempts"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

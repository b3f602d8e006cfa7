package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestConnectLimiter(t *testing.T, perSecond float64, burst int) *ConnectLimiter {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewConnectLimiter(ctx, perSecond, burst, time.Minute)
}

func TestConnectLimiter_BurstThenReject(t *testing.T) {
	l := newTestConnectLimiter(t, 0.001, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, l.allow("10.0.0.1"), "attempt %d within burst", i+1)
	}
	assert.False(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"), "separate bucket per address")
}

func TestConnectLimiter_OnDenied(t *testing.T) {
	l := newTestConnectLimiter(t, 0.001, 1)
	var denied atomic.Int32
	l.OnDenied = func(string) { denied.Add(1) }

	l.allow("a")
	l.allow("a")
	l.allow("a")

	assert.Equal(t, int32(2), denied.Load())
}

func TestConnectLimiter_Evict(t *testing.T) {
	l := newTestConnectLimiter(t, 1, 1)
	l.allow("a")
	l.allow("b")
	assert.Equal(t, 2, l.Len())

	l.evict(time.Now().Add(30 * time.Second))
	assert.Equal(t, 2, l.Len(), "within ttl")

	l.evict(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, l.Len())
}

func TestConnectLimiter_Middleware(t *testing.T) {
	l := newTestConnectLimiter(t, 0.001, 1)
	h := ClientIPWithOptions(ClientIPOptions{})(l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
		req.RemoteAddr = "198.51.100.4:999"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, do().Code)

	rec := do()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"too many connection attempts"}`, rec.Body.String())
}

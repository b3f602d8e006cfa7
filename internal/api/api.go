// Package api is the public HTTP surface: count and token reads, the gated
// increment, and the observer websocket.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/developingchet/click-counter/internal/broadcast"
	"github.com/developingchet/click-counter/internal/counter"
	"github.com/developingchet/click-counter/internal/gate"
	"github.com/developingchet/click-counter/internal/httpmw"
)

// TokenHeader carries the rotating access token on increment requests.
const TokenHeader = "X-Access-Token"

const msgPersistFailed = "Failed to update counter in database"

const (
	defaultPongWait     = 60 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// Recorder receives per-request outcomes for activity summaries.
type Recorder interface {
	IncAccepted()
	IncRejected(check string)
}

// Options wires the API to its collaborators. Counter, Hub and Gate are
// required.
type Options struct {
	Counter *counter.Counter
	Hub     *broadcast.Hub
	Gate    *gate.Gate

	Recorder       Recorder               // optional
	ConnectLimiter *httpmw.ConnectLimiter // optional, guards /ws

	TrustedHops  int
	PongWait     time.Duration
	WriteTimeout time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// API serves the public endpoints.
type API struct {
	counter  *counter.Counter
	hub      *broadcast.Hub
	gate     *gate.Gate
	recorder Recorder
	limiter  *httpmw.ConnectLimiter

	trustedHops  int
	pongWait     time.Duration
	writeTimeout time.Duration
	now          func() time.Time

	upgrader websocket.Upgrader
}

// New builds an API from opts.
func New(opts Options) *API {
	a := &API{
		counter:      opts.Counter,
		hub:          opts.Hub,
		gate:         opts.Gate,
		recorder:     opts.Recorder,
		limiter:      opts.ConnectLimiter,
		trustedHops:  opts.TrustedHops,
		pongWait:     opts.PongWait,
		writeTimeout: opts.WriteTimeout,
		now:          opts.Now,
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.pongWait <= 0 {
		a.pongWait = defaultPongWait
	}
	if a.writeTimeout <= 0 {
		a.writeTimeout = defaultWriteTimeout
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  512,
		WriteBufferSize: 1024,
		CheckOrigin:     a.checkWSOrigin,
	}
	return a
}

// Router returns the chi router with the standard middleware stack.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(httpmw.RequestID(""))
	r.Use(httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{TrustedHops: a.trustedHops}))
	r.Use(httpmw.AccessLog())
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/api/count", a.handleCount)
	r.Get("/api/token", a.handleToken)
	r.Post("/api/increment", a.handleIncrement)

	ws := r.With()
	if a.limiter != nil {
		ws = r.With(a.limiter.Middleware)
	}
	ws.Get("/ws", a.handleObserve)

	return r
}

type countResponse struct {
	Count int64 `json:"count"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) handleCount(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, countResponse{Count: a.counter.Current()})
}

func (a *API) handleToken(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, tokenResponse{Token: a.gate.Tokens.Current(a.now()).Value})
}

func (a *API) handleIncrement(w http.ResponseWriter, r *http.Request) {
	req := &gate.Request{
		Addr:    httpmw.ClientIPFromContext(r.Context()),
		Origin:  r.Header.Get("Origin"),
		Referer: r.Header.Get("Referer"),
		Token:   r.Header.Get(TokenHeader),
		Now:     a.now(),
	}

	if rej := a.gate.Admit(req); rej != nil {
		if a.recorder != nil {
			a.recorder.IncRejected(rej.Check)
		}
		log.Debug().
			Str("addr", req.Addr).
			Str("check", rej.Check).
			Str("detail", rej.Detail).
			Msg("increment rejected")
		writeRejection(w, rej)
		return
	}

	// The client going away must not abort the durable write.
	v, err := a.counter.Increment(context.WithoutCancel(r.Context()))
	if a.recorder != nil {
		a.recorder.IncAccepted()
	}
	a.hub.Publish(v)

	if err != nil {
		log.Error().Err(err).Int64("count", v).Msg("failed to persist counter")
		writeError(w, http.StatusInternalServerError, msgPersistFailed)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: v})
}

func (a *API) handleObserve(w http.ResponseWriter, r *http.Request) {
	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	broadcast.Serve(r.Context(), a.hub, ws, a.pongWait, a.writeTimeout)
}

// checkWSOrigin admits browsers on an allowed origin and non-browser
// clients that send no Origin at all.
func (a *API) checkWSOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || a.gate.Origins.Allow(origin, "")
}

func writeRejection(w http.ResponseWriter, rej *gate.Rejection) {
	status := http.StatusForbidden
	if rej.Class == gate.ClassRate {
		status = http.StatusTooManyRequests
		if rej.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSeconds(rej.RetryAfter), 10))
		}
	}
	writeError(w, status, rej.Message)
}

// retryAfterSeconds rounds up so clients never retry early.
func retryAfterSeconds(d time.Duration) int64 {
	return int64((d + time.Second - 1) / time.Second)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// Package server assembles the click counter process: durable store,
// counter, admission gate, broadcast hub, the public API listener and the
// ops listener for metrics and health.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/developingchet/click-counter/internal/api"
	"github.com/developingchet/click-counter/internal/broadcast"
	"github.com/developingchet/click-counter/internal/config"
	"github.com/developingchet/click-counter/internal/counter"
	"github.com/developingchet/click-counter/internal/gate"
	"github.com/developingchet/click-counter/internal/httpmw"
	"github.com/developingchet/click-counter/internal/metrics"
	"github.com/developingchet/click-counter/internal/storage"
	"github.com/developingchet/click-counter/internal/telemetry"
)

// DBFile is the bbolt file name inside DATA_DIR.
const DBFile = "clickcounter.db"

// ErrUnknownBackend is returned by OpenStore for an unsupported
// STORAGE_BACKEND.
var ErrUnknownBackend = errors.New("server: unknown storage backend")

const (
	pongWait     = 60 * time.Second
	pingPeriod   = 50 * time.Second
	writeTimeout = 10 * time.Second
	shutdownWait = 5 * time.Second
)

// Server owns every long-lived component.
type Server struct {
	cfg     *config.Config
	store   storage.Store
	counter *counter.Counter
	gate    *gate.Gate
	hub     *broadcast.Hub
	stats   *telemetry.Counter
	sender  *telemetry.Sender

	apiSrv *http.Server
	opsSrv *http.Server // nil when MetricsAddr == ""

	// bgCancel stops goroutines started by New (the connect limiter sweep).
	bgCancel context.CancelFunc
	now      func() time.Time
}

// OpenStore opens the backend selected by cfg.StorageBackend. The redis
// client connects lazily, so an unreachable server is reported by the first
// operation rather than here.
func OpenStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case "redis":
		return storage.NewRedis(storage.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	case "bolt", "":
		return storage.Open(filepath.Join(cfg.DataDir, DBFile))
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownBackend, cfg.StorageBackend)
	}
}

// GateConfig maps runtime configuration onto the admission gate.
func GateConfig(cfg *config.Config) gate.Config {
	return gate.Config{
		AllowedOrigins:   cfg.AllowedOrigins,
		TokenTTL:         cfg.TokenRotation,
		PerMinuteLimit:   cfg.RateLimitPerMin,
		ActivityWindow:   cfg.ActivityWindow,
		BlockDuration:    cfg.BlockDuration,
		BurstLimit:       cfg.BurstLimit,
		BurstWindow:      cfg.BurstWindow,
		AnomalyHistory:   cfg.AnomalyHistory,
		AnomalyTolerance: cfg.AnomalyTolerance,
		AnomalyBlock:     cfg.AnomalyBlock,
		AddressTTL:       cfg.AddressTTL,
	}
}

// New creates a Server and initialises all dependencies. Nothing listens
// until Run. A backend that cannot be opened yet (bbolt file locked, data
// directory not mounted) does not stop startup: the server runs degraded and
// the reconnect loop keeps trying to open it.
func New(cfg *config.Config) (*Server, error) {
	store, err := OpenStore(cfg)
	if errors.Is(err, ErrUnknownBackend) {
		return nil, err
	}
	if err != nil {
		log.Warn().Err(err).Str("storage", cfg.StorageBackend).Msg("durable store could not be opened; will retry")
		store = storage.NewReopener(func() (storage.Store, error) { return OpenStore(cfg) })
	}
	return newWithStore(cfg, store), nil
}

func newWithStore(cfg *config.Config, store storage.Store) *Server {
	now := time.Now
	started := now()

	c := counter.New(store, cfg.PersistTimeout)
	stats := telemetry.NewCounter()
	sender := telemetry.NewSender(cfg.BuildVersion, started, cfg.StatsInterval, stats, telemetry.LogPusher)
	sender.Current = c.Current

	s := &Server{
		cfg:     cfg,
		store:   store,
		counter: c,
		gate:    gate.New(GateConfig(cfg), started),
		hub:     broadcast.NewHub(c.Current, pingPeriod),
		stats:   stats,
		sender:  sender,
		now:     now,
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel
	limiter := httpmw.NewConnectLimiter(bgCtx, cfg.WSConnectRate, cfg.WSConnectBurst, cfg.AddressTTL)
	limiter.OnDenied = func(string) { metrics.Rejections.WithLabelValues("ws-connect").Inc() }

	a := api.New(api.Options{
		Counter:        c,
		Hub:            s.hub,
		Gate:           s.gate,
		Recorder:       stats,
		ConnectLimiter: limiter,
		TrustedHops:    cfg.TrustedHops,
		PongWait:       pongWait,
		WriteTimeout:   writeTimeout,
		Now:            now,
	})
	s.apiSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
			if err := s.Healthy(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		s.opsSrv = &http.Server{
			Addr:         cfg.MetricsAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  30 * time.Second,
		}
	}

	return s
}

// Run loads the counter, starts the listeners and background loops, and
// blocks until ctx is cancelled or the public listener fails.
func (s *Server) Run(ctx context.Context) error {
	if err := s.counter.Load(ctx); err != nil {
		log.Warn().Err(err).Msg("durable store unreachable; serving an in-memory counter until it returns")
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.ListenAddr, err)
	}

	if s.opsSrv != nil {
		go func() {
			log.Info().Str("addr", s.cfg.MetricsAddr).Msg("metrics server listening")
			if err := s.opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := s.apiSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	go s.gate.Tokens.Run(ctx, s.now)
	go runJanitor(ctx, s.gate, s.store, s.cfg.JanitorInterval, s.now)
	go s.sender.Run(ctx)
	if s.counter.Degraded() {
		go runReconnect(ctx, s.counter, s.hub, s.cfg.ReconnectInterval)
	}

	log.Info().
		Str("addr", ln.Addr().String()).
		Str("storage", s.cfg.StorageBackend).
		Int64("count", s.counter.Current()).
		Bool("degraded", s.counter.Degraded()).
		Int("per_minute_limit", s.cfg.RateLimitPerMin).
		Int("burst_limit", s.cfg.BurstLimit).
		Str("token_rotation", s.cfg.TokenRotation.String()).
		Str("log_level", s.cfg.LogLevel).
		Msg("click counter started")

	select {
	case <-ctx.Done():
		log.Info().Msg("click counter stopping")
		s.shutdownAPI()
		return nil
	case err, ok := <-serveErr:
		if ok && err != nil {
			return fmt.Errorf("server: serve: %w", err)
		}
		return nil
	}
}

func (s *Server) shutdownAPI() {
	// Observer connections are hijacked and not tracked by Shutdown; closing
	// the hub ends them.
	s.hub.Close()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	if err := s.apiSrv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("api server shutdown error")
	}
}

// Healthy pings the durable store.
func (s *Server) Healthy(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Close performs graceful shutdown. Safe to call after Run returned.
func (s *Server) Close() {
	s.shutdownAPI()
	if s.opsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		defer cancel()
		if err := s.opsSrv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("metrics server shutdown error")
		}
	}
	s.bgCancel()
	if err := s.sender.Flush(context.Background()); err != nil {
		log.Warn().Err(err).Msg("final activity summary failed")
	}
	if err := s.store.Close(); err != nil {
		log.Warn().Err(err).Msg("store close failed")
	}
}

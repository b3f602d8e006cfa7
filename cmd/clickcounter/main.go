package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/developingchet/click-counter/internal/config"
	"github.com/developingchet/click-counter/internal/counter"
	"github.com/developingchet/click-counter/internal/logger"
	"github.com/developingchet/click-counter/internal/metrics"
	"github.com/developingchet/click-counter/internal/server"
	"github.com/developingchet/click-counter/internal/storage"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// runtimeServer is the part of *server.Server main depends on.
type runtimeServer interface {
	Run(ctx context.Context) error
	Healthy(ctx context.Context) error
	Close()
}

// Test seams.
var (
	loadConfig       = config.Load
	registerMetrics  = metrics.Register
	newSignalContext = func(parent context.Context) (context.Context, context.CancelFunc) {
		return signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	}
	newRuntime = func(cfg *config.Config) (runtimeServer, error) {
		s, err := server.New(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	openStore  = server.OpenStore
	probeReady = httpProbe
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("fatal")
		os.Exit(1)
	}
}

// newRootCmd builds and returns the root cobra command. Extracted from main so
// that tests can invoke it directly without spawning a subprocess.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "clickcounter",
		Short: "Serve the shared click counter",
		Long: `A shared click counter. Increments pass an admission gate (origin,
rotating token, per-address rate, burst and cadence checks), are persisted to
bbolt or Redis, and are pushed to every connected observer over a websocket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServer,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start the server (same as running without a subcommand)",
		RunE:  runServer,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "healthcheck",
		Short: "Check durable store connectivity (for Docker HEALTHCHECK)",
		RunE:  runHealthcheck,
	})

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Overwrite the stored counter value (run while the server is stopped)",
		RunE:  runReset,
	}
	resetCmd.Flags().Int64("value", 0, "value to store")
	rootCmd.AddCommand(resetCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "clickcounter %s (commit: %s, built: %s)\n", version, commit, date)
		},
	})

	return rootCmd
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	cfg.BuildVersion = version

	initLogging(cfg.LogLevel, cfg.LogFormat)

	registerMetrics()

	ctx, cancel := newSignalContext(context.Background())
	defer cancel()

	s, err := newRuntime(cfg)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}
	defer s.Close()

	return s.Run(ctx)
}

func runHealthcheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	initLogging("error", cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// A running server holds the bbolt file lock, so ask it over the ops
	// listener when there is one.
	if cfg.MetricsAddr != "" {
		return probeReady(ctx, cfg.MetricsAddr)
	}

	s, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.Healthy(ctx)
}

func runReset(cmd *cobra.Command, args []string) error {
	value, err := cmd.Flags().GetInt64("value")
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	initLogging(cfg.LogLevel, cfg.LogFormat)

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func(s storage.Store) {
		if err := s.Close(); err != nil {
			log.Warn().Err(err).Msg("store close failed")
		}
	}(store)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := counter.New(store, cfg.PersistTimeout).Reset(ctx, value); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "counter set to %d\n", value)
	return nil
}

// httpProbe GETs /readyz on the ops listener at addr.
func httpProbe(ctx context.Context, addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("healthcheck: metrics address %q: %w", addr, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	url := "http://" + net.JoinHostPort(host, port) + "/readyz"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("healthcheck: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

func initLogging(level string, format string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	redacted := logger.NewRedactWriter(os.Stderr)
	if format == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: redacted})
	} else {
		log.Logger = zerolog.New(redacted).With().Timestamp().Logger()
	}

	switch level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

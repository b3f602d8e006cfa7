package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all runtime configuration.
type Config struct {
	// HTTP
	ListenAddr  string `koanf:"listen_addr"`
	MetricsAddr string `koanf:"metrics_addr"` // "" = disabled
	TrustedHops int    `koanf:"trusted_hops"`

	// Storage
	StorageBackend    string        `koanf:"storage_backend"` // bolt | redis
	DataDir           string        `koanf:"data_dir"`
	RedisAddr         string        `koanf:"redis_addr"`
	RedisPassword     string        `koanf:"redis_password"`
	RedisDB           int           `koanf:"redis_db"`
	PersistTimeout    time.Duration `koanf:"persist_timeout"`
	ReconnectInterval time.Duration `koanf:"reconnect_interval"`

	// Admission gate
	AllowedOriginsRaw string        `koanf:"allowed_origins"`
	AllowedOrigins    []string      `koanf:"-"`
	TokenRotation     time.Duration `koanf:"token_rotation"`
	RateLimitPerMin   int           `koanf:"rate_limit_per_minute"`
	ActivityWindow    time.Duration `koanf:"activity_window"`
	BlockDuration     time.Duration `koanf:"block_duration"`
	BurstLimit        int           `koanf:"burst_limit"`
	BurstWindow       time.Duration `koanf:"burst_window"`
	AnomalyHistory    int           `koanf:"anomaly_history"`
	AnomalyTolerance  time.Duration `koanf:"anomaly_tolerance"`
	AnomalyBlock      time.Duration `koanf:"anomaly_block"`
	AddressTTL        time.Duration `koanf:"address_ttl"`
	JanitorInterval   time.Duration `koanf:"janitor_interval"`

	// Observers
	WSConnectRate  float64 `koanf:"ws_connect_rate"`
	WSConnectBurst int     `koanf:"ws_connect_burst"`

	// Operational
	LogLevel      string        `koanf:"log_level"`
	LogFormat     string        `koanf:"log_format"`
	StatsInterval time.Duration `koanf:"stats_interval"`

	// BuildVersion is set by main from linker flags, never from config.
	BuildVersion string `koanf:"-"`
}

// defaults is the lowest-priority layer.
var defaults = map[string]any{
	"listen_addr":           ":3000",
	"metrics_addr":          ":9090",
	"trusted_hops":          0,
	"storage_backend":       "bolt",
	"data_dir":              "/data",
	"redis_addr":            "",
	"redis_password":        "",
	"redis_db":              0,
	"persist_timeout":       3 * time.Second,
	"reconnect_interval":    30 * time.Second,
	"allowed_origins":       "https://www.theclickcounter.com,https://www.theclickcounter.com/,http://localhost:3000",
	"token_rotation":        5 * time.Minute,
	"rate_limit_per_minute": 600,
	"activity_window":       time.Minute,
	"block_duration":        10 * time.Minute,
	"burst_limit":           20,
	"burst_window":          time.Second,
	"anomaly_history":       50,
	"anomaly_tolerance":     20 * time.Millisecond,
	"anomaly_block":         time.Duration(0),
	"address_ttl":           15 * time.Minute,
	"janitor_interval":      time.Minute,
	"ws_connect_rate":       2.0,
	"ws_connect_burst":      10,
	"log_level":             "info",
	"log_format":            "json",
	"stats_interval":        5 * time.Minute,
}

// Load reads configuration from (lowest → highest priority):
//  1. Built-in defaults
//  2. YAML file at CONFIG_FILE env var path (if set)
//  3. Environment variables (always highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults.
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	// Layer 2: optional YAML file.
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", cfgFile, err)
		}
	}

	// Layer 3: environment variables.
	// Transform: "RATE_LIMIT_PER_MINUTE" → "rate_limit_per_minute".
	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	// Normalise string fields.
	cfg.LogLevel = strings.TrimSpace(strings.ToLower(cfg.LogLevel))
	cfg.LogFormat = strings.TrimSpace(strings.ToLower(cfg.LogFormat))
	cfg.StorageBackend = strings.TrimSpace(strings.ToLower(cfg.StorageBackend))

	// METRICS_ENABLED=false wins over any METRICS_ADDR.
	if !envBool("METRICS_ENABLED", true) {
		cfg.MetricsAddr = ""
	}

	// REDIS_PASSWORD_FILE (Docker secrets) is used only when the direct
	// variable is unset.
	if cfg.RedisPassword == "" {
		if path := strings.TrimSpace(os.Getenv("REDIS_PASSWORD_FILE")); path != "" {
			if data, err := os.ReadFile(path); err == nil {
				cfg.RedisPassword = strings.TrimSpace(string(data))
			}
		}
	}

	var errs []string
	origins, err := parseOrigins(cfg.AllowedOriginsRaw)
	if err != nil {
		errs = append(errs, err.Error())
	}
	cfg.AllowedOrigins = origins

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("%d configuration error(s):\n  - %s", len(errs), strings.Join(errs, "\n  - "))
	}

	return cfg, nil
}

func (c *Config) validate() []string {
	var errs []string

	if c.ListenAddr == "" {
		errs = append(errs, "LISTEN_ADDR is required (e.g., :3000)")
	}
	switch c.StorageBackend {
	case "bolt":
		// DataDir path sanitisation: reject traversal sequences and null bytes.
		if strings.Contains(c.DataDir, "..") {
			errs = append(errs, `DATA_DIR must not contain ".." (directory traversal)`)
		}
		if strings.ContainsRune(c.DataDir, 0) {
			errs = append(errs, "DATA_DIR must not contain null bytes")
		}
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, "REDIS_ADDR is required when STORAGE_BACKEND=redis (e.g., redis:6379)")
		}
		if c.RedisDB < 0 {
			errs = append(errs, "REDIS_DB must not be negative")
		}
	default:
		errs = append(errs, "STORAGE_BACKEND must be one of: bolt, redis")
	}
	if len(c.AllowedOrigins) == 0 {
		errs = append(errs, "ALLOWED_ORIGINS must list at least one origin")
	}
	if c.TokenRotation < 10*time.Second {
		errs = append(errs, "TOKEN_ROTATION must be at least 10s")
	}
	if c.RateLimitPerMin < 1 {
		errs = append(errs, "RATE_LIMIT_PER_MINUTE must be at least 1")
	}
	if c.ActivityWindow <= 0 {
		errs = append(errs, "ACTIVITY_WINDOW must be positive")
	}
	if c.BlockDuration <= 0 {
		errs = append(errs, "BLOCK_DURATION must be positive")
	}
	if c.BurstLimit < 1 {
		errs = append(errs, "BURST_LIMIT must be at least 1")
	}
	if c.BurstWindow <= 0 {
		errs = append(errs, "BURST_WINDOW must be positive")
	}
	if c.AnomalyHistory < 3 {
		errs = append(errs, "ANOMALY_HISTORY must be at least 3")
	}
	if c.AnomalyTolerance <= 0 {
		errs = append(errs, "ANOMALY_TOLERANCE must be positive")
	}
	if c.AnomalyBlock < 0 {
		errs = append(errs, "ANOMALY_BLOCK must not be negative")
	}
	if c.AddressTTL < c.ActivityWindow {
		errs = append(errs, "ADDRESS_TTL must be at least ACTIVITY_WINDOW")
	}
	if c.JanitorInterval < time.Second {
		errs = append(errs, "JANITOR_INTERVAL must be at least 1s")
	}
	if c.TrustedHops < 0 {
		errs = append(errs, "TRUSTED_HOPS must not be negative")
	}
	if c.PersistTimeout <= 0 {
		errs = append(errs, "PERSIST_TIMEOUT must be positive")
	}
	if c.ReconnectInterval < time.Second {
		errs = append(errs, "RECONNECT_INTERVAL must be at least 1s")
	}
	if c.WSConnectRate <= 0 || c.WSConnectBurst < 1 {
		errs = append(errs, "WS_CONNECT_RATE must be positive and WS_CONNECT_BURST at least 1")
	}
	return errs
}

// parseOrigins splits a comma-separated allow-list. Every entry must be an
// absolute http(s) URL; all bad entries are reported together.
func parseOrigins(raw string) ([]string, error) {
	var (
		out []string
		bad []string
	)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		u, err := url.Parse(part)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			bad = append(bad, part)
			continue
		}
		out = append(out, part)
	}
	if len(bad) > 0 {
		return nil, fmt.Errorf("ALLOWED_ORIGINS contains invalid origins: %s", strings.Join(bad, ", "))
	}
	return out, nil
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch v {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}

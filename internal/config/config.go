// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes engine tuning
// (worker pool, queue depth, retry policy, dedup TTL), database settings,
// logging, the admin HTTP surface, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// EngineConfig tunes the event pipeline and scheduled-action engine.
type EngineConfig struct {
	MaxWorkers    int           // WARDEN_MAX_WORKERS: concurrently draining chat queues
	MaxQueueDepth int           // WARDEN_MAX_QUEUE_DEPTH: per-chat backlog before saturation
	RetryCeiling  int           // WARDEN_RETRY_CEILING: max execution attempts per action
	BackoffBase   time.Duration // WARDEN_BACKOFF_BASE: first retry delay, doubled per attempt
	BackoffMax    time.Duration // WARDEN_BACKOFF_MAX: cap on a single retry delay
	DedupTTL      time.Duration // WARDEN_DEDUP_TTL: reservation lifetime in the dedup cache
	CallTimeout   time.Duration // WARDEN_CALL_TIMEOUT: deadline per external transport call
	SendRPS       float64       // WARDEN_SEND_RPS: global transport send throttle
	SendBurst     int           // WARDEN_SEND_BURST: throttle burst size
}

// DBConfig selects and configures the durable action store.
type DBConfig struct {
	Driver string // DB_DRIVER: "sqlite" or "postgres"
	Path   string // DB_PATH: sqlite file path
	DSN    string // DB_DSN: postgres connection string
}

// SecurityConfig defines security-related settings for the admin server.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "warden")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// Admin server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Admin rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Store health probe
	StoreProbeInterval time.Duration // how often to ping the durable store

	Engine   EngineConfig
	DB       DBConfig
	CORS     CORSConfig
	Security SecurityConfig
	OTEL     OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Admin server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// Admin rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		StoreProbeInterval: getdur("STORE_PROBE_INTERVAL", 5*time.Second),

		Engine: EngineConfig{
			MaxWorkers:    getint("WARDEN_MAX_WORKERS", 16),
			MaxQueueDepth: getint("WARDEN_MAX_QUEUE_DEPTH", 256),
			RetryCeiling:  getint("WARDEN_RETRY_CEILING", 5),
			BackoffBase:   getdur("WARDEN_BACKOFF_BASE", 500*time.Millisecond),
			BackoffMax:    getdur("WARDEN_BACKOFF_MAX", 30*time.Second),
			DedupTTL:      getdur("WARDEN_DEDUP_TTL", 5*time.Minute),
			CallTimeout:   getdur("WARDEN_CALL_TIMEOUT", 10*time.Second),
			SendRPS:       getfloat("WARDEN_SEND_RPS", 25.0),
			SendBurst:     getint("WARDEN_SEND_BURST", 5),
		},

		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "warden.db"),
			DSN:    getenv("DB_DSN", ""),
		},

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "warden"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.StoreProbeInterval <= 0 {
		return cfg, errors.New("STORE_PROBE_INTERVAL must be > 0")
	}

	if cfg.Engine.MaxWorkers < 1 {
		return cfg, errors.New("WARDEN_MAX_WORKERS must be >= 1")
	}
	if cfg.Engine.MaxQueueDepth < 1 {
		return cfg, errors.New("WARDEN_MAX_QUEUE_DEPTH must be >= 1")
	}
	if cfg.Engine.RetryCeiling < 1 {
		return cfg, errors.New("WARDEN_RETRY_CEILING must be >= 1")
	}
	if cfg.Engine.BackoffBase <= 0 || cfg.Engine.BackoffMax <= 0 {
		return cfg, errors.New("backoff durations must be > 0")
	}
	if cfg.Engine.BackoffMax < cfg.Engine.BackoffBase {
		return cfg, errors.New("WARDEN_BACKOFF_MAX must be >= WARDEN_BACKOFF_BASE")
	}
	if cfg.Engine.DedupTTL <= 0 {
		return cfg, errors.New("WARDEN_DEDUP_TTL must be > 0")
	}
	if cfg.Engine.CallTimeout <= 0 {
		return cfg, errors.New("WARDEN_CALL_TIMEOUT must be > 0")
	}
	if cfg.Engine.SendRPS <= 0 {
		return cfg, errors.New("WARDEN_SEND_RPS must be > 0")
	}
	if cfg.Engine.SendBurst < 1 {
		return cfg, errors.New("WARDEN_SEND_BURST must be >= 1")
	}

	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.DSN) == "" {
			return cfg, errors.New("DB_DSN is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be sqlite or postgres")
	}

	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

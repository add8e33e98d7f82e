// Package config provides the runtime defaults, environment parsing and
// validation for the gateway.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RateLimitConfig defines the per-identity sliding window applied to inbound
// chat messages.
type RateLimitConfig struct {
	Enabled bool
	Max     int
	Window  time.Duration
	// WarnAll broadcasts the rate-limit warning to every client instead of
	// the offending sender only.
	WarnAll bool
}

// Config holds the gateway configuration settings.
type Config struct {
	Port            string
	APIURL          string
	Env             string
	LogLevel        string
	AllowedOrigins  []string
	MaxMessageSize  int64
	HistorySize     int
	RateLimit       RateLimitConfig
	Moderation      bool
	PolicyFile      string
	EmitSecret      string
	UpstreamTimeout time.Duration
	ShutdownTimeout time.Duration
}

func defaultConfig() Config {
	return Config{
		Port:     "3001",
		APIURL:   "http://localhost:8000",
		Env:      "development",
		LogLevel: "info",
		AllowedOrigins: []string{
			"http://localhost:5173",
		},
		MaxMessageSize: 4096,
		HistorySize:    50,
		RateLimit: RateLimitConfig{
			Enabled: true,
			Max:     5,
			Window:  30 * time.Second,
			WarnAll: true,
		},
		Moderation:      true,
		UpstreamTimeout: 5 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Sanitize replaces missing or invalid values with their defaults and returns
// the cleaned configuration.
func Sanitize(cfg Config) Config {
	def := defaultConfig()

	cfg.Port = strings.TrimPrefix(strings.TrimSpace(cfg.Port), ":")
	if cfg.Port == "" {
		cfg.Port = def.Port
	}

	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if cfg.APIURL == "" {
		cfg.APIURL = def.APIURL
	}

	if cfg.Env == "" {
		cfg.Env = def.Env
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}

	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}

	if cfg.RateLimit.Max <= 0 {
		cfg.RateLimit.Max = def.RateLimit.Max
	}

	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = def.RateLimit.Window
	}

	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = def.UpstreamTimeout
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// FromEnv creates a Config from environment variables, falling back to the
// defaults for anything unset or unparsable.
func FromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	if apiURL := os.Getenv("API_URL"); apiURL != "" {
		cfg.APIURL = apiURL
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseList(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseInt64Value(maxSize, cfg.MaxMessageSize)
	}

	if size := os.Getenv("HISTORY_SIZE"); size != "" {
		cfg.HistorySize = parseIntValue(size, cfg.HistorySize)
	}

	if enabled := os.Getenv("RATE_LIMIT_ENABLED"); enabled != "" {
		cfg.RateLimit.Enabled = parseBool(enabled, cfg.RateLimit.Enabled)
	}

	if limit := os.Getenv("RATE_LIMIT_MAX"); limit != "" {
		cfg.RateLimit.Max = parseIntValue(limit, cfg.RateLimit.Max)
	}

	if window := os.Getenv("RATE_LIMIT_WINDOW"); window != "" {
		cfg.RateLimit.Window = parseDuration(window, cfg.RateLimit.Window)
	}

	if warnAll := os.Getenv("RATE_LIMIT_WARN_ALL"); warnAll != "" {
		cfg.RateLimit.WarnAll = parseBool(warnAll, cfg.RateLimit.WarnAll)
	}

	if enabled := os.Getenv("MODERATION_ENABLED"); enabled != "" {
		cfg.Moderation = parseBool(enabled, cfg.Moderation)
	}

	cfg.PolicyFile = os.Getenv("POLICY_FILE")
	cfg.EmitSecret = os.Getenv("EMIT_SECRET")

	if timeout := os.Getenv("UPSTREAM_TIMEOUT"); timeout != "" {
		cfg.UpstreamTimeout = parseDuration(timeout, cfg.UpstreamTimeout)
	}

	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseDuration(timeout, cfg.ShutdownTimeout)
	}

	sanitized := Sanitize(cfg)
	return &sanitized
}

// Addr returns the listen address for the configured port.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// IsDevelopment reports whether the gateway runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseInt64Value(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseBool(value string, defaultValue bool) bool {
	if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go durations ("30s") and bare seconds ("30").
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

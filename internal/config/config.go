package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the widget session service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	IdleBudget      time.Duration
	WarningLead     time.Duration
	Extension       time.Duration
	MutedIdleCounts bool

	DisplayBound int
	FrameRate    int
	VisualMode   string

	TransportMode string
	UpstreamURL   string
	AuthToken     string

	DatabaseURL string
	RedactPII   bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "aria"),
		AllowAnyOrigin:   false,
		ShutdownTimeout:  15 * time.Second,
		IdleBudget:       5 * time.Minute,
		WarningLead:      30 * time.Second,
		Extension:        5 * time.Minute,
		MutedIdleCounts:  true,
		DisplayBound:     100,
		FrameRate:        60,
		VisualMode:       envOrDefault("WIDGET_VISUAL_MODE", "bars"),
		TransportMode:    envOrDefault("TRANSPORT_MODE", "auto"),
		UpstreamURL:      envTrimmed("TRANSPORT_UPSTREAM_URL"),
		AuthToken:        envTrimmed("TRANSPORT_AUTH_TOKEN"),
		DatabaseURL:      envTrimmed("DATABASE_URL"),
		RedactPII:        false,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.IdleBudget, err = durationFromEnv("WIDGET_IDLE_BUDGET", cfg.IdleBudget)
	if err != nil {
		return Config{}, err
	}
	cfg.WarningLead, err = durationFromEnv("WIDGET_WARNING_LEAD", cfg.WarningLead)
	if err != nil {
		return Config{}, err
	}
	cfg.Extension, err = durationFromEnv("WIDGET_EXTENSION", cfg.Extension)
	if err != nil {
		return Config{}, err
	}
	cfg.MutedIdleCounts, err = boolFromEnv("WIDGET_MUTED_IDLE_COUNTS", cfg.MutedIdleCounts)
	if err != nil {
		return Config{}, err
	}
	cfg.DisplayBound, err = intFromEnv("WIDGET_DISPLAY_BOUND", cfg.DisplayBound)
	if err != nil {
		return Config{}, err
	}
	cfg.FrameRate, err = intFromEnv("WIDGET_FRAME_RATE", cfg.FrameRate)
	if err != nil {
		return Config{}, err
	}
	cfg.RedactPII, err = boolFromEnv("TRANSCRIPT_REDACT_PII", cfg.RedactPII)
	if err != nil {
		return Config{}, err
	}

	if cfg.IdleBudget < 5*time.Second {
		return Config{}, fmt.Errorf("WIDGET_IDLE_BUDGET must be at least 5s")
	}
	if cfg.WarningLead <= 0 || cfg.WarningLead >= cfg.IdleBudget {
		return Config{}, fmt.Errorf("WIDGET_WARNING_LEAD must be positive and below WIDGET_IDLE_BUDGET")
	}
	if cfg.Extension <= 0 {
		return Config{}, fmt.Errorf("WIDGET_EXTENSION must be positive")
	}
	if cfg.DisplayBound <= 0 {
		return Config{}, fmt.Errorf("WIDGET_DISPLAY_BOUND must be positive")
	}
	if cfg.FrameRate < 1 || cfg.FrameRate > 120 {
		return Config{}, fmt.Errorf("WIDGET_FRAME_RATE must be in [1,120]")
	}
	switch cfg.VisualMode {
	case "bars", "wave", "circular", "particles":
	default:
		return Config{}, fmt.Errorf("WIDGET_VISUAL_MODE must be one of bars, wave, circular, particles")
	}
	switch cfg.TransportMode {
	case "ws", "mock", "auto":
	default:
		return Config{}, fmt.Errorf("TRANSPORT_MODE must be one of ws, mock, auto")
	}
	if cfg.TransportMode == "ws" && cfg.UpstreamURL == "" {
		return Config{}, fmt.Errorf("TRANSPORT_UPSTREAM_URL is required when TRANSPORT_MODE=ws")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

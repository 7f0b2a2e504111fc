package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.IdleBudget != 5*time.Minute {
		t.Fatalf("IdleBudget = %v, want 5m", cfg.IdleBudget)
	}
	if cfg.WarningLead != 30*time.Second {
		t.Fatalf("WarningLead = %v, want 30s", cfg.WarningLead)
	}
	if !cfg.MutedIdleCounts {
		t.Fatalf("MutedIdleCounts = false, want true by default")
	}
	if cfg.DisplayBound != 100 {
		t.Fatalf("DisplayBound = %d, want 100", cfg.DisplayBound)
	}
	if cfg.FrameRate != 60 {
		t.Fatalf("FrameRate = %d, want 60", cfg.FrameRate)
	}
	if cfg.VisualMode != "bars" {
		t.Fatalf("VisualMode = %q, want %q", cfg.VisualMode, "bars")
	}
	if cfg.TransportMode != "auto" {
		t.Fatalf("TransportMode = %q, want %q", cfg.TransportMode, "auto")
	}
	if cfg.RedactPII {
		t.Fatalf("RedactPII = true, want false by default")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("WIDGET_IDLE_BUDGET", "2m")
	t.Setenv("WIDGET_WARNING_LEAD", "15s")
	t.Setenv("WIDGET_MUTED_IDLE_COUNTS", "no")
	t.Setenv("TRANSPORT_MODE", "ws")
	t.Setenv("TRANSPORT_UPSTREAM_URL", "ws://localhost:7000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.IdleBudget != 2*time.Minute {
		t.Fatalf("IdleBudget = %v, want 2m", cfg.IdleBudget)
	}
	if cfg.WarningLead != 15*time.Second {
		t.Fatalf("WarningLead = %v, want 15s", cfg.WarningLead)
	}
	if cfg.MutedIdleCounts {
		t.Fatalf("MutedIdleCounts = true, want false")
	}
	if cfg.UpstreamURL != "ws://localhost:7000" {
		t.Fatalf("UpstreamURL = %q, want explicit value", cfg.UpstreamURL)
	}
}

func TestLoadRejectsWarningLeadAboveBudget(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("WIDGET_IDLE_BUDGET", "30s")
	t.Setenv("WIDGET_WARNING_LEAD", "45s")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when warning lead exceeds idle budget")
	}
}

func TestLoadRejectsWSModeWithoutUpstream(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("TRANSPORT_MODE", "ws")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for ws mode without upstream URL")
	}
}

func TestLoadRejectsUnknownVisualMode(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("WIDGET_VISUAL_MODE", "lasers")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown visual mode")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"WIDGET_IDLE_BUDGET",
		"WIDGET_WARNING_LEAD",
		"WIDGET_EXTENSION",
		"WIDGET_MUTED_IDLE_COUNTS",
		"WIDGET_DISPLAY_BOUND",
		"WIDGET_FRAME_RATE",
		"WIDGET_VISUAL_MODE",
		"TRANSPORT_MODE",
		"TRANSPORT_UPSTREAM_URL",
		"TRANSPORT_AUTH_TOKEN",
		"DATABASE_URL",
		"TRANSCRIPT_REDACT_PII",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

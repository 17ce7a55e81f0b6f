package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.AlertDedupHours != 24 {
		t.Fatalf("expected default dedup window 24h, got %d", cfg.AlertDedupHours)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ALERT_DEDUP_HOURS", "12")
	t.Setenv("CACHE_TTL_SECONDS", "bogus")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected port 9090, got %s", cfg.Port)
	}
	if cfg.AlertDedupHours != 12 {
		t.Fatalf("expected dedup window 12h, got %d", cfg.AlertDedupHours)
	}
	if cfg.CacheTTLSeconds != 60 {
		t.Fatalf("expected fallback cache TTL 60, got %d", cfg.CacheTTLSeconds)
	}
}

package config

import (
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("ADMIN_PASSWORD", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.AdminPassword != "" {
		t.Fatalf("expected empty ADMIN_PASSWORD when unset, got %q", cfg.AdminPassword)
	}
	if cfg.AdminUsername != "admin" {
		t.Fatalf("expected default admin username, got %q", cfg.AdminUsername)
	}
}

func TestLoadFallsBackOnInvalidNumbers(t *testing.T) {
	t.Setenv("SNAPSHOT_CACHE_TTL_SECONDS", "-5")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "abc")

	cfg := Load()
	if cfg.SnapshotCacheTTLSeconds != 30 {
		t.Fatalf("expected ttl fallback 30, got %d", cfg.SnapshotCacheTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected token ttl fallback 480, got %d", cfg.AccessTokenTTLMinutes)
	}
}

func TestLoadClientDefaultsAndOverrides(t *testing.T) {
	t.Setenv("TOKOKU_SERVER_URL", "http://pos.local:9000/")
	t.Setenv("TOKOKU_PUSH_MODE", "ALL")
	t.Setenv("TOKOKU_PUSH_DEBOUNCE_MS", "0")
	t.Setenv("TOKOKU_MAX_ATTEMPTS", "-1")
	t.Setenv("TOKOKU_POLL_SECONDS", "")

	cfg := LoadClient()
	if cfg.ServerURL != "http://pos.local:9000" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.ServerURL)
	}
	if cfg.PushMode != "all" {
		t.Fatalf("expected push mode all, got %q", cfg.PushMode)
	}
	if cfg.PushDebounce() != 0 {
		t.Fatalf("expected zero debounce, got %s", cfg.PushDebounce())
	}
	if cfg.MaxAttempts != 10 {
		t.Fatalf("expected max attempts fallback 10, got %d", cfg.MaxAttempts)
	}
	if cfg.SyncTimeout() != 30*time.Second || cfg.PollInterval() != 0 {
		t.Fatalf("unexpected durations %s %s", cfg.SyncTimeout(), cfg.PollInterval())
	}
}

func TestLoadClientRejectsUnknownPushMode(t *testing.T) {
	t.Setenv("TOKOKU_PUSH_MODE", "batch")
	if got := LoadClient().PushMode; got != "partial" {
		t.Fatalf("expected partial fallback, got %q", got)
	}
}

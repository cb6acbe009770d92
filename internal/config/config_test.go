package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("GOOGLE_CLIENT_ID", "client-id")
	t.Setenv("GOOGLE_CLIENT_SECRET", "client-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.GeminiModel != "gemini-2.5-flash" {
		t.Errorf("model = %q", cfg.GeminiModel)
	}
	if cfg.SyncInterval != 15*time.Minute {
		t.Errorf("interval = %v", cfg.SyncInterval)
	}
	if cfg.MaxMessages != 25 {
		t.Errorf("max messages = %d", cfg.MaxMessages)
	}
	if cfg.FetchConcurrency != 4 {
		t.Errorf("fetch concurrency = %d", cfg.FetchConcurrency)
	}
	if cfg.RunTimeout != 10*time.Minute {
		t.Errorf("run timeout = %v", cfg.RunTimeout)
	}
	if cfg.Port != "8080" {
		t.Errorf("port = %q", cfg.Port)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("GEMINI_MODEL", "gemini-2.5-pro")
	t.Setenv("SYNC_INTERVAL", "5m")
	t.Setenv("SYNC_MAX_MESSAGES", "50")
	t.Setenv("SYNC_FETCH_CONCURRENCY", "8")
	t.Setenv("PORT", "9000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GeminiModel != "gemini-2.5-pro" {
		t.Errorf("model = %q", cfg.GeminiModel)
	}
	if cfg.SyncInterval != 5*time.Minute {
		t.Errorf("interval = %v", cfg.SyncInterval)
	}
	if cfg.MaxMessages != 50 {
		t.Errorf("max messages = %d", cfg.MaxMessages)
	}
	if cfg.FetchConcurrency != 8 {
		t.Errorf("fetch concurrency = %d", cfg.FetchConcurrency)
	}
	if cfg.Port != "9000" {
		t.Errorf("port = %q", cfg.Port)
	}
}

func TestLoadRequiresOAuthClient(t *testing.T) {
	t.Setenv("GOOGLE_CLIENT_ID", "")
	t.Setenv("GOOGLE_CLIENT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load succeeded without OAuth client credentials")
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	setRequired(t)
	t.Setenv("SYNC_INTERVAL", "often")
	t.Setenv("SYNC_MAX_MESSAGES", "many")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SyncInterval != 15*time.Minute {
		t.Errorf("interval = %v, want default on parse failure", cfg.SyncInterval)
	}
	if cfg.MaxMessages != 25 {
		t.Errorf("max messages = %d, want default on parse failure", cfg.MaxMessages)
	}
}

func TestLoadClampsFetchConcurrency(t *testing.T) {
	setRequired(t)
	t.Setenv("SYNC_FETCH_CONCURRENCY", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FetchConcurrency != 1 {
		t.Errorf("fetch concurrency = %d, want clamped to 1", cfg.FetchConcurrency)
	}
}

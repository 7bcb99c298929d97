package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.MaxAge() != 30*time.Minute {
		t.Fatalf("max age %v", cfg.MaxAge())
	}
	if cfg.Debounce() != 300*time.Millisecond {
		t.Fatalf("debounce %v", cfg.Debounce())
	}
	if cfg.Streams.MaxStreams != 500 {
		t.Fatalf("max streams %d", cfg.Streams.MaxStreams)
	}
	if cfg.Fetch.MinIntervalSeconds != 5 || cfg.Fetch.FallbackIntervalSeconds != 10 {
		t.Fatalf("fetch intervals %+v", cfg.Fetch)
	}
	if cfg.Backfill.MaxWindowHours != 12 {
		t.Fatalf("backfill clamp %+v", cfg.Backfill)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"serverUrl":"http://srv:8082","token":"tok","cache":{"maxAgeMinutes":10},"debounceMs":100}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerURL != "http://srv:8082" || cfg.Token != "tok" {
		t.Fatalf("loaded %+v", cfg)
	}
	if cfg.MaxAge() != 10*time.Minute {
		t.Fatalf("max age %v", cfg.MaxAge())
	}
	if cfg.Debounce() != 100*time.Millisecond {
		t.Fatalf("debounce %v", cfg.Debounce())
	}
	// unset sections keep defaults
	if cfg.Streams.MaxStreams != 500 {
		t.Fatalf("max streams %d", cfg.Streams.MaxStreams)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatalf("missing file accepted")
	}
}

func TestEnvOverlay(t *testing.T) {
	t.Setenv("TRACKER_SERVER_URL", "http://env:8082")
	t.Setenv("TRACKER_CACHE_MAX_AGE_MINUTES", "45")
	t.Setenv("TRACKER_STREAM_QUALITY", "high")
	cfg := Default()
	FromEnv(&cfg)
	if cfg.ServerURL != "http://env:8082" {
		t.Fatalf("env url %q", cfg.ServerURL)
	}
	if cfg.MaxAge() != 45*time.Minute {
		t.Fatalf("env max age %v", cfg.MaxAge())
	}
	if cfg.Streams.Quality != "high" {
		t.Fatalf("env quality %q", cfg.Streams.Quality)
	}
}

func TestEnvIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("TRACKER_CACHE_MAX_AGE_MINUTES", "not-a-number")
	cfg := Default()
	FromEnv(&cfg)
	if cfg.MaxAge() != 30*time.Minute {
		t.Fatalf("invalid env leaked into config: %v", cfg.MaxAge())
	}
}

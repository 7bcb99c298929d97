package config

import (
	"encoding/json"
	"os"
	"time"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// ServerURL is the base URL of the telemetry server, e.g. http://host:8082.
	ServerURL string `json:"serverUrl"`
	// Token authenticates REST and websocket sessions.
	Token string `json:"token"`
	// CachePrefix namespaces cold-tier keys so several deployments can share
	// one store directory.
	CachePrefix string `json:"cachePrefix"`

	Cache      CacheConfig    `json:"cache"`
	Streams    StreamsConfig  `json:"streams"`
	Fetch      FetchConfig    `json:"fetch"`
	Backfill   BackfillConfig `json:"backfill"`
	History    HistoryConfig  `json:"history"`
	DebounceMs int            `json:"debounceMs"`
}

// CacheConfig bounds the two-tier snapshot cache.
type CacheConfig struct {
	// MaxAgeMinutes evicts hot-tier entries older than this (default 30).
	MaxAgeMinutes int `json:"maxAgeMinutes"`
}

// StreamsConfig bounds the per-device broadcast registry.
type StreamsConfig struct {
	// MaxStreams caps concurrently materialized per-device channels.
	MaxStreams int `json:"maxStreams"`
	// IdleTimeoutSeconds evicts listener-less channels idle this long.
	IdleTimeoutSeconds int `json:"idleTimeoutSeconds"`
	// SweepIntervalSeconds is the period of the idle/cap sweep.
	SweepIntervalSeconds int `json:"sweepIntervalSeconds"`
	// Quality selects the emit gap: high|medium|low.
	Quality string `json:"quality"`
}

// FetchConfig tunes the REST fetch coordinator.
type FetchConfig struct {
	// MinIntervalSeconds memoizes per-device fetches (default 5).
	MinIntervalSeconds int `json:"minIntervalSeconds"`
	// FallbackIntervalSeconds is the REST fallback polling period (default 10).
	FallbackIntervalSeconds int `json:"fallbackIntervalSeconds"`
}

// BackfillConfig bounds the reconnect replay window.
type BackfillConfig struct {
	// DefaultWindowMinutes seeds the window when nothing is cached (default 30).
	DefaultWindowMinutes int `json:"defaultWindowMinutes"`
	// SkewWindowMinutes replaces an inverted window under clock skew (default 15).
	SkewWindowMinutes int `json:"skewWindowMinutes"`
	// MaxWindowHours caps the window width (default 12).
	MaxWindowHours int `json:"maxWindowHours"`
	// MarginMinutes widens the window backwards to tolerate boundary gaps (default 5).
	MarginMinutes int `json:"marginMinutes"`
	// ThrottleSeconds limits repeated reconnect backfills (default 5).
	ThrottleSeconds int `json:"throttleSeconds"`
}

// HistoryConfig bounds the best-effort position history log.
type HistoryConfig struct {
	// RetentionHours trims history entries older than this (0 disables).
	RetentionHours int `json:"retentionHours"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		ServerURL:   "http://127.0.0.1:8082",
		CachePrefix: "tracker",
		Cache:       CacheConfig{MaxAgeMinutes: 30},
		Streams: StreamsConfig{
			MaxStreams:           500,
			IdleTimeoutSeconds:   60,
			SweepIntervalSeconds: 30,
			Quality:              "medium",
		},
		Fetch: FetchConfig{
			MinIntervalSeconds:      5,
			FallbackIntervalSeconds: 10,
		},
		Backfill: BackfillConfig{
			DefaultWindowMinutes: 30,
			SkewWindowMinutes:    15,
			MaxWindowHours:       12,
			MarginMinutes:        5,
			ThrottleSeconds:      5,
		},
		History:    HistoryConfig{RetentionHours: 72},
		DebounceMs: 300,
	}
}

// Load reads configuration from a JSON file. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MaxAge returns the hot-tier entry TTL.
func (c Config) MaxAge() time.Duration {
	return time.Duration(c.Cache.MaxAgeMinutes) * time.Minute
}

// Debounce returns the coalesce quiet period.
func (c Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

package config

import (
	"os"
	"strconv"
)

// FromEnv overlays TRACKER_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("TRACKER_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("TRACKER_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("TRACKER_CACHE_PREFIX"); v != "" {
		cfg.CachePrefix = v
	}
	if v := os.Getenv("TRACKER_CACHE_MAX_AGE_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Cache.MaxAgeMinutes = n
		}
	}
	if v := os.Getenv("TRACKER_MAX_STREAMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Streams.MaxStreams = n
		}
	}
	if v := os.Getenv("TRACKER_STREAM_IDLE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Streams.IdleTimeoutSeconds = n
		}
	}
	if v := os.Getenv("TRACKER_STREAM_QUALITY"); v != "" {
		cfg.Streams.Quality = v
	}
	if v := os.Getenv("TRACKER_FETCH_MIN_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Fetch.MinIntervalSeconds = n
		}
	}
	if v := os.Getenv("TRACKER_FALLBACK_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Fetch.FallbackIntervalSeconds = n
		}
	}
	if v := os.Getenv("TRACKER_DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.DebounceMs = n
		}
	}
	if v := os.Getenv("TRACKER_HISTORY_RETENTION_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.History.RetentionHours = n
		}
	}
}

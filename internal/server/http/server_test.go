package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/cache"
	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/config"
	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/history"
	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/model"
	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/repo"
	pebblestore "github.com/zouhayral/gps-tracker-app-version1-sub012/internal/storage/pebble"
	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/traccar"
)

func newTestServer(t *testing.T) (*Server, *repo.Repository, *history.Log) {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	c, err := cache.New(cache.Options{DB: db, Prefix: "test", MaxAge: time.Hour})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(c.Close)

	cfg := config.Default()
	cfg.ServerURL = "http://127.0.0.1:0"
	hist := history.Open(db)
	r := repo.New(repo.Options{
		Config:  cfg,
		Client:  traccar.NewClient(traccar.ClientOptions{BaseURL: cfg.ServerURL}),
		Socket:  traccar.NewSocket(traccar.SocketOptions{BaseURL: cfg.ServerURL}),
		Cache:   c,
		History: hist,
	})
	t.Cleanup(r.Dispose)
	return New(r, hist), r, hist
}

func TestHealthHandler(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestAllLatestHandler(t *testing.T) {
	s, r, _ := newTestServer(t)
	now := time.Now().UTC().Truncate(time.Millisecond)
	req := httptest.NewRequest(http.MethodGet, "/v1/devices/latest", nil)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("status: %d", w.Code)
	}

	// seed one snapshot through the cache and read it back
	seedPosition(t, r, 1, now)
	w = httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/devices/latest", nil))
	var out map[string]*model.VehicleSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("want 1 snapshot, got %d", len(out))
	}
}

func seedPosition(t *testing.T, r *repo.Repository, deviceID int64, at time.Time) {
	t.Helper()
	r.Apply(context.Background(), traccar.Message{Positions: []traccar.Position{{
		ID: at.UnixMilli(), DeviceID: deviceID,
		Latitude: 48.85, Longitude: 2.35, FixTime: at,
	}}})
}

func TestLatestHandlerBadID(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/devices/abc/latest", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestEventsStreamRejectsBadFilter(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/events/stream?filter=eventType+%3D%3D%3D", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestCacheStatsHandler(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/cache/stats", nil))
	if w.Code != 200 {
		t.Fatalf("status: %d", w.Code)
	}
	var st cache.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestHistoryHandler(t *testing.T) {
	s, _, hist := newTestServer(t)
	now := time.Now().UTC().Truncate(time.Millisecond)
	if _, err := hist.Append(context.Background(), 1, &model.Position{ID: 1, DeviceID: 1, FixTime: now}); err != nil {
		t.Fatalf("append: %v", err)
	}
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/devices/1/history", nil))
	if w.Code != 200 {
		t.Fatalf("status: %d", w.Code)
	}
	var entries []history.Entry
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("want 1 history entry, got %d", len(entries))
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/v1/healthz", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("status: %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}
}

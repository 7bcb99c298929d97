package httpserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/history"
	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/repo"
)

// Server is the observer-facing read API: latest snapshots, live position
// and event streams over SSE, and cache statistics.
type Server struct {
	repo *repo.Repository
	hist *history.Log // nil disables the history endpoint
	srv  *http.Server
	lis  net.Listener
}

func New(r *repo.Repository, hist *history.Log) *Server {
	mux := http.NewServeMux()
	s := &Server{repo: r, hist: hist, srv: &http.Server{Handler: cors(mux)}}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/devices/latest", s.handleAllLatest)
	mux.HandleFunc("/v1/devices/{id}/latest", s.handleLatest)
	mux.HandleFunc("/v1/devices/{id}/stream", s.handleStreamSSE)
	mux.HandleFunc("/v1/devices/{id}/history", s.handleHistory)
	mux.HandleFunc("/v1/events/stream", s.handleEventsSSE)
	mux.HandleFunc("/v1/cache/stats", s.handleCacheStats)
	return s
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func deviceID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleAllLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.repo.GetAllLatest())
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, ok := deviceID(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	snap, err := s.repo.GetLatest(r.Context(), id)
	if err != nil {
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if snap == nil {
		// unknown device is an explicit empty value, not an error
		_, _ = w.Write([]byte("null\n"))
		return
	}
	_ = json.NewEncoder(w).Encode(snap)
}

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func sseSend(w http.ResponseWriter, v any) {
	_, _ = w.Write([]byte("data: "))
	_ = json.NewEncoder(w).Encode(v)
	_, _ = w.Write([]byte("\n"))
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) handleStreamSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, ok := deviceID(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	sub := s.repo.Subscribe(id)
	defer sub.Cancel()
	sseHeaders(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case pos, open := <-sub.C():
			if !open {
				return
			}
			sseSend(w, pos)
		}
	}
}

func (s *Server) handleEventsSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sub, err := s.repo.SubscribeEvents(r.URL.Query().Get("filter"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	defer sub.Cancel()
	sseHeaders(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.C():
			if !open {
				return
			}
			sseSend(w, ev)
		}
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.hist == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id, ok := deviceID(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	q := r.URL.Query()
	to := time.Now()
	from := to.Add(-24 * time.Hour)
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		to = t
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := s.hist.Range(id, from, to, limit)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.repo.CacheStats())
}

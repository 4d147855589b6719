// Package httpapi serves read-only operational endpoints: health, queue
// state and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/MimeLyc/fetchbot/internal/jobs"
)

// Gate reports whether maintenance is in progress.
type Gate interface {
	IsUpdating() bool
}

type Server struct {
	queue   *jobs.Queue
	gate    Gate
	metrics http.Handler

	streamInterval time.Duration

	mux *http.ServeMux

	mu     sync.Mutex
	server *http.Server
	closed bool
}

type Option func(*Server)

// WithMetrics mounts h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithStreamInterval sets how often /api/jobs/stream pushes a snapshot.
func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) { s.streamInterval = d }
}

func NewServer(queue *jobs.Queue, gate Gate, opts ...Option) *Server {
	s := &Server{
		queue:          queue,
		gate:           gate,
		streamInterval: time.Second,
		mux:            http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.server = srv
	s.mu.Unlock()
	return srv.ListenAndServe()
}

// Shutdown stops a running server. A later ListenAndServe returns
// http.ErrServerClosed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/jobs", s.handleJobs)
	s.mux.HandleFunc("/api/jobs/stream", s.handleJobStream)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics)
	}
}

type healthResponse struct {
	Status   string     `json:"status"`
	Updating bool       `json:"updating"`
	Queue    jobs.Stats `json:"queue"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := healthResponse{Status: "ok", Queue: s.queue.Stats()}
	if s.gate != nil && s.gate.IsUpdating() {
		resp.Status = "updating"
		resp.Updating = true
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.queue.List())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

// Package control exposes the listening switch over HTTP.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"net/http"
	"time"

	"voxloop/internal/audio"
)

const (
	StatusStarted = "started"
	StatusStopped = "stopped"
)

// Reply is the body of every control response.
type Reply struct {
	Status string `json:"status"`
}

// Server answers /start, /stop, /status and /healthz. /start and /stop are
// idempotent and always acknowledge with the resulting state. There is no
// authentication; bind it to localhost.
type Server struct {
	sw      *audio.Switch
	mux     *http.ServeMux
	server  *http.Server
	started time.Time
}

type Option func(*Server)

// WithMetrics mounts a metrics handler at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		if h != nil {
			s.mux.Handle("/metrics", h)
		}
	}
}

func New(addr string, sw *audio.Switch, opts ...Option) *Server {
	s := &Server{
		sw:      sw,
		mux:     http.NewServeMux(),
		started: time.Now(),
	}
	s.mux.HandleFunc("/start", s.handleStart)
	s.mux.HandleFunc("/stop", s.handleStop)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	for _, o := range opts {
		o(s)
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("control listen %s: %w", s.server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	log.Info("Control server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("control shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !allowed(w, r) {
		return
	}
	if s.sw.Enable() {
		log.Info("Listening enabled", "via", "http")
	}
	writeJSON(w, Reply{Status: StatusStarted})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !allowed(w, r) {
		return
	}
	if s.sw.Disable() {
		log.Info("Listening disabled", "via", "http")
	}
	writeJSON(w, Reply{Status: StatusStopped})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, struct {
		Reply
		Uptime string `json:"uptime"`
	}{
		Reply:  Reply{Status: StateOf(s.sw)},
		Uptime: time.Since(s.started).Truncate(time.Second).String(),
	})
}

// StateOf names the switch position the way control replies do.
func StateOf(sw *audio.Switch) string {
	if sw.Enabled() {
		return StatusStarted
	}
	return StatusStopped
}

func allowed(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodPost {
		return true
	}
	w.Header().Set("Allow", "GET, POST")
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("Failed to write control reply", "err", err)
	}
}

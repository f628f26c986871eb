// Package healthserver serves liveness, status, and metrics endpoints while
// the engine runs.
package healthserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nikitparakh/auto-claude-docker/pkg/logx"
)

// StatusProvider reports a snapshot of engine progress for /status.
type StatusProvider interface {
	StatusSnapshot() map[string]any
}

// Server is a small HTTP sidecar for operators and container healthchecks.
type Server struct {
	httpServer *http.Server
	logger     *logx.Logger
}

// New creates a server listening on addr.
func New(addr string, provider StatusProvider) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		var snapshot map[string]any
		if provider != nil {
			snapshot = provider.StatusSnapshot()
		}
		if err := json.NewEncoder(w).Encode(snapshot); err != nil {
			logx.Warnf("Failed to encode status response: %v", err)
		}
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logx.NewLogger("health"),
	}
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	s.logger.Info("Health server listening on %s", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Health server failed: %v", err)
		}
	}()
}

// Stop shuts the server down, waiting up to the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return logx.Wrap(err, "health server shutdown failed")
	}
	return nil
}

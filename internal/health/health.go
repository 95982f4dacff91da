// Package health exposes the poller's counters (§4.9a) over HTTP for
// liveness/readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/baseingest/ingester/internal/logging"
	"github.com/baseingest/ingester/internal/poller"
)

// StatusProvider is the narrow poller dependency: a read-only snapshot of
// its health counters.
type StatusProvider interface {
	Status() poller.Status
}

// Server is the minimal HTTP surface serving /healthz.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	poller     StatusProvider
	logger     *logging.Logger
}

// NewServer builds a health Server bound to addr (e.g. "0.0.0.0:8080"),
// reading counters from poller on every request.
func NewServer(addr string, poller StatusProvider) *Server {
	s := &Server{
		router: mux.NewRouter(),
		poller: poller,
		logger: logging.GetGlobalLogger().WithField("component", "health"),
	}

	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	status := s.poller.Status()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":                 "ok",
		"lastProcessedBlock":     status.LastProcessedBlock,
		"blocksProcessedSession": status.BlocksProcessedSession,
		"blocksBehind":           status.BlocksBehind,
		"catchingUp":             status.CatchingUp,
		"errorCount":             status.ErrorCount,
		"uptimeSeconds":          status.UptimeSeconds,
		"blocksPerSec":           status.BlocksPerSec,
	})
}

// Start runs the HTTP server; blocks until it exits (mirrors
// http.Server.ListenAndServe's contract).
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("starting health server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down health server")
	return s.httpServer.Shutdown(ctx)
}

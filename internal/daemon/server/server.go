// Package server provides the HTTP server for the tabsd daemon.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/grovetools/tabsd/config"
	"github.com/grovetools/tabsd/errors"
	"github.com/grovetools/tabsd/internal/connection"
	"github.com/grovetools/tabsd/internal/metrics"
	"github.com/grovetools/tabsd/pkg/process"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// RunningConfig holds the active configuration of the daemon.
// This is exposed via the /api/config endpoint so clients can verify what config is active.
type RunningConfig struct {
	ConfigPath string                `json:"config_path,omitempty"`
	Socket     string                `json:"socket"`
	Engine     string                `json:"engine"`
	Throttle   config.ThrottleConfig `json:"throttle"`
	Policy     config.PolicyConfig   `json:"policy"`
	StartedAt  time.Time             `json:"started_at"`
}

// Snapshotter exposes recorded metrics.
type Snapshotter interface {
	Snapshot() metrics.Snapshot
}

// Server manages the daemon's HTTP server over a Unix socket.
type Server struct {
	logger  *logrus.Entry
	server  *http.Server
	conn    *connection.Connection
	metrics Snapshotter

	runningConfig func() *RunningConfig
}

// New creates a new Server instance.
func New(conn *connection.Connection, logger *logrus.Entry) *Server {
	return &Server{
		logger: logger,
		conn:   conn,
	}
}

// SetMetrics sets the metrics source for /api/metrics.
func (s *Server) SetMetrics(m Snapshotter) {
	s.metrics = m
}

// SetRunningConfig sets the function reporting the running configuration.
// It is called per request so reloads show up.
func (s *Server) SetRunningConfig(fn func() *RunningConfig) {
	s.runningConfig = fn
}

// Handler returns the daemon API. Requests must carry a caller in their
// context, see WithCaller.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// State API endpoints
	mux.HandleFunc("GET /api/state", s.handleGetState)
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("GET /api/metrics", s.handleGetMetrics)
	mux.HandleFunc("GET /api/throttle", s.handleGetThrottle)
	mux.HandleFunc("GET /api/stream", s.handleStreamState)
	mux.HandleFunc("GET /api/ws", s.handleWebSocket)

	// Sessions
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.withCaller(s.handleNewSession))
	mux.HandleFunc("GET /api/sessions/{id}", s.withCaller(s.handleGetSession))
	mux.HandleFunc("DELETE /api/sessions/{id}", s.withCaller(s.handleCleanupSession))
	mux.HandleFunc("GET /api/sessions/{id}/flags", s.withCaller(s.handleGetFlags))
	mux.HandleFunc("PUT /api/sessions/{id}/flags", s.withCaller(s.handleSetFlag))
	mux.HandleFunc("GET /api/sessions/{id}/referrer", s.withCaller(s.handleGetReferrer))
	mux.HandleFunc("PUT /api/sessions/{id}/referrer", s.withCaller(s.handleSetReferrer))
	mux.HandleFunc("POST /api/sessions/{id}/keep-alive", s.withCaller(s.handleKeepAlive))
	mux.HandleFunc("DELETE /api/sessions/{id}/keep-alive", s.withCaller(s.handleDontKeepAlive))
	mux.HandleFunc("POST /api/sessions/{id}/relationship", s.withCaller(s.handleValidateRelationship))

	// Speculation
	mux.HandleFunc("POST /api/warmup", s.withCaller(s.handleWarmup))
	mux.HandleFunc("POST /api/sessions/{id}/may-launch", s.withCaller(s.handleMayLaunch))
	mux.HandleFunc("POST /api/sessions/{id}/take", s.withCaller(s.handleTake))
	mux.HandleFunc("POST /api/sessions/{id}/launch", s.withCaller(s.handleLaunch))
	mux.HandleFunc("POST /api/sessions/{id}/cancel", s.withCaller(s.handleCancel))

	// Admin
	mux.HandleFunc("POST /api/admin/cleanup", s.withCaller(s.handleCleanupAll))
	mux.HandleFunc("POST /api/admin/ban", s.withCaller(s.handleBan))
	mux.HandleFunc("POST /api/admin/reset", s.withCaller(s.handleReset))
	mux.HandleFunc("PUT /api/admin/policy", s.withCaller(s.handleUpdatePolicy))

	return mux
}

// ListenAndServe starts the daemon on the given unix socket path.
// It blocks until the server stops or fails.
func (s *Server) ListenAndServe(socketPath string) error {
	// Cleanup stale socket
	if _, err := os.Stat(socketPath); err == nil {
		if err := os.Remove(socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(socketPath), 0700); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	// Set restrictive permissions on socket
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.server = &http.Server{
		Handler:     h2c.NewHandler(s.Handler(), &http2.Server{}),
		ConnContext: s.connContext,
	}

	s.logger.WithField("socket", socketPath).Info("Daemon listening")
	if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// connContext attaches the peer identity of a unix connection to every
// request served on it.
func (s *Server) connContext(ctx context.Context, c net.Conn) context.Context {
	caller, err := process.PeerCredentials(c)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read peer credentials")
		return ctx
	}
	return WithCaller(ctx, caller)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleGetState returns the complete daemon state as JSON.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.conn.State())
}

// handleListSessions returns every registered session.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.conn.Store().GetSessions())
}

// handleGetConfig returns the running configuration as JSON.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.runningConfig == nil {
		http.Error(w, "config not initialized", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.runningConfig())
}

func (s *Server) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleGetThrottle(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.conn.ThrottleStatus())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError answers with the coded error body. Errors without a code are
// reported as internal errors.
func writeError(w http.ResponseWriter, err error) {
	tabsErr, ok := err.(*errors.TabsError)
	if !ok {
		tabsErr = errors.Wrap(err, errors.ErrCodeInternal, "request failed")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(tabsErr.HTTPStatus())
	w.Write([]byte(tabsErr.ToJSON()))
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request body")
	}
	return nil
}

// Package web exposes the bridge over HTTP and WebSocket: command
// dispatch and live result frames on /ws, REST snapshots of the session
// registry, and a health probe.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/llkhacquan/tmux-claude-bridge/internal/history"
	"github.com/llkhacquan/tmux-claude-bridge/internal/logging"
	"github.com/llkhacquan/tmux-claude-bridge/internal/orchestrator"
	"github.com/llkhacquan/tmux-claude-bridge/internal/tmux"
)

var webLog = logging.ForComponent(logging.CompWeb)

// HistorySource serves the audit-log read path. *history.Log satisfies
// it; a nil source disables /api/history.
type HistorySource interface {
	Recent(n int) ([]history.Entry, error)
}

// Config defines runtime options for the web server.
type Config struct {
	ListenAddr string

	// ExecRate caps execute frames per connection; ExecBurst is the
	// allowance for short bursts. Zero values fall back to 1/s, burst 5.
	ExecRate  rate.Limit
	ExecBurst int
}

// Server wraps an HTTP server around one orchestrator and its target.
type Server struct {
	cfg        Config
	orch       *orchestrator.Orchestrator
	target     orchestrator.Target
	hist       HistorySource
	httpServer *http.Server
	baseCtx    context.Context
	cancelBase context.CancelFunc

	clientsMu sync.Mutex
	clients   map[*wsConnWriter]struct{}
}

// NewServer creates the server with all routes and middleware wired.
func NewServer(cfg Config, orch *orchestrator.Orchestrator, target orchestrator.Target, hist HistorySource) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8080"
	}
	if cfg.ExecRate <= 0 {
		cfg.ExecRate = rate.Limit(1)
	}
	if cfg.ExecBurst <= 0 {
		cfg.ExecBurst = 5
	}

	s := &Server{
		cfg:     cfg,
		orch:    orch,
		target:  target,
		hist:    hist,
		clients: make(map[*wsConnWriter]struct{}),
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionByID)
	mux.HandleFunc("/api/focus", s.handleFocus)
	mux.HandleFunc("/api/history", s.handleHistory)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           withRecover(mux),
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server and blocks until shutdown or error.
// Returns nil on graceful shutdown.
func (s *Server) Start() error {
	webLog.Info("listening", slog.String("addr", s.cfg.ListenAddr))
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server. Long-lived websocket handlers
// are signalled first; a graceful timeout falls back to a force close.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelBase != nil {
		s.cancelBase()
	}
	s.closeClients()

	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr == nil {
			return nil
		} else {
			return fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
		}
	}
	return err
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resp := map[string]any{
		"ok":     true,
		"target": s.target.ID(),
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := tmux.IsTmuxAvailable(); err != nil {
		resp["ok"] = false
		resp["error"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				webLog.Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiErrorResponse{
		Error: apiError{
			Code:    code,
			Message: message,
		},
	})
}

package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/llkhacquan/tmux-claude-bridge/internal/orchestrator"
)

// wsMessage is the wire frame in both directions. Inbound types:
// execute, ping, status, list, focus. Outbound types: output, status,
// error, pong, sessions.
type wsMessage struct {
	Type      string                  `json:"type"`
	Command   string                  `json:"command,omitempty"`
	Output    string                  `json:"output,omitempty"`
	Error     string                  `json:"error,omitempty"`
	Status    string                  `json:"status,omitempty"`
	ID        string                  `json:"id,omitempty"`
	SessionID string                  `json:"session_id,omitempty"`
	Sessions  []orchestrator.Snapshot `json:"sessions,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowWSOrigin,
}

func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}

	return strings.EqualFold(originURL.Host, r.Host)
}

// wsConnWriter serializes writes to one websocket connection. gorilla
// connections allow only one concurrent writer; broadcast and the
// per-connection read loop both write here.
type wsConnWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSConnWriter(conn *websocket.Conn) *wsConnWriter {
	return &wsConnWriter{conn: conn}
}

func (w *wsConnWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(v)
}

func (w *wsConnWriter) Close() error {
	return w.conn.Close()
}

func (s *Server) addClient(c *wsConnWriter) {
	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()
}

func (s *Server) removeClient(c *wsConnWriter) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()
}

func (s *Server) closeClients() {
	s.clientsMu.Lock()
	for c := range s.clients {
		_ = c.Close()
		delete(s.clients, c)
	}
	s.clientsMu.Unlock()
}

// broadcast delivers a frame to every connected client, best effort. A
// client whose write fails is dropped; delivery to the others proceeds.
func (s *Server) broadcast(msg wsMessage) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	for c := range s.clients {
		if err := c.WriteJSON(msg); err != nil {
			webLog.Warn("broadcast_write_failed", slog.String("error", err.Error()))
			_ = c.Close()
			delete(s.clients, c)
		}
	}
}

// SessionStarted implements orchestrator.Notifier.
func (s *Server) SessionStarted(snap orchestrator.Snapshot) {
	s.broadcast(wsMessage{
		Type:      "status",
		Status:    string(snap.Status),
		Command:   snap.Command,
		SessionID: snap.ID,
	})
}

// SessionUpdated implements orchestrator.Notifier. Terminal transitions
// from the background monitor reach connected clients through here.
func (s *Server) SessionUpdated(snap orchestrator.Snapshot) {
	s.broadcast(wsMessage{
		Type:      "output",
		Status:    string(snap.Status),
		Command:   snap.Command,
		Output:    snap.Output,
		Error:     snap.Error,
		SessionID: snap.ID,
	})
}

var _ orchestrator.Notifier = (*Server)(nil)

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	writer := newWSConnWriter(conn)
	s.addClient(writer)
	defer s.removeClient(writer)

	webLog.Info("ws_connected", slog.String("remote", r.RemoteAddr))

	_ = writer.WriteJSON(wsMessage{
		Type:   "status",
		Status: "connected",
		Output: fmt.Sprintf("connected to target %s", s.target.ID()),
	})

	limiter := rate.NewLimiter(s.cfg.ExecRate, s.cfg.ExecBurst)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				webLog.Warn("ws_closed_unexpectedly", slog.String("error", err.Error()))
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			_ = writer.WriteJSON(wsMessage{
				Type:  "error",
				Error: "invalid json payload",
			})
			continue
		}

		switch msg.Type {
		case "execute":
			s.handleExecuteFrame(writer, limiter, msg)
		case "ping":
			_ = writer.WriteJSON(wsMessage{Type: "pong", ID: msg.ID})
		case "status":
			s.handleStatusFrame(writer, msg)
		case "list":
			_ = writer.WriteJSON(wsMessage{
				Type:     "sessions",
				ID:       msg.ID,
				Sessions: s.orch.Registry().List(),
			})
		case "focus":
			if err := s.orch.Focus(s.target); err != nil {
				_ = writer.WriteJSON(wsMessage{Type: "error", Error: err.Error(), ID: msg.ID})
				continue
			}
			_ = writer.WriteJSON(wsMessage{Type: "status", Status: "focused", ID: msg.ID})
		default:
			_ = writer.WriteJSON(wsMessage{
				Type:  "error",
				Error: fmt.Sprintf("unknown message type: %s", msg.Type),
				ID:    msg.ID,
			})
		}
	}
}

func (s *Server) handleExecuteFrame(writer *wsConnWriter, limiter *rate.Limiter, msg wsMessage) {
	if msg.Command == "" {
		_ = writer.WriteJSON(wsMessage{
			Type:  "error",
			Error: "command is required",
			ID:    msg.ID,
		})
		return
	}
	if !limiter.Allow() {
		_ = writer.WriteJSON(wsMessage{
			Type:  "error",
			Error: "rate limit exceeded, slow down",
			ID:    msg.ID,
		})
		return
	}

	// The execute call blocks up to its wait budget; run it off the read
	// loop so the client can keep pinging and query status meanwhile.
	go func() {
		snap, err := s.orch.Execute(s.baseCtx, msg.Command, s.target)
		if err != nil {
			_ = writer.WriteJSON(wsMessage{
				Type:  "error",
				Error: err.Error(),
				ID:    msg.ID,
			})
			return
		}

		// A timeout frame is a successful hand-off, not a failure: the
		// session id lets the client poll for the eventual result.
		_ = writer.WriteJSON(wsMessage{
			Type:      "output",
			Command:   snap.Command,
			Output:    snap.Output,
			Error:     snap.Error,
			Status:    string(snap.Status),
			ID:        msg.ID,
			SessionID: snap.ID,
		})
	}()
}

func (s *Server) handleStatusFrame(writer *wsConnWriter, msg wsMessage) {
	if msg.SessionID == "" {
		_ = writer.WriteJSON(wsMessage{
			Type:  "error",
			Error: "session_id is required",
			ID:    msg.ID,
		})
		return
	}

	snap, err := s.orch.Registry().Get(msg.SessionID)
	if err != nil {
		_ = writer.WriteJSON(wsMessage{
			Type:  "error",
			Error: err.Error(),
			ID:    msg.ID,
		})
		return
	}
	_ = writer.WriteJSON(wsMessage{
		Type:      "status",
		Command:   snap.Command,
		Output:    snap.Output,
		Error:     snap.Error,
		Status:    string(snap.Status),
		ID:        msg.ID,
		SessionID: snap.ID,
	})
}

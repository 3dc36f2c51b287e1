package web

import (
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/llkhacquan/tmux-claude-bridge/internal/orchestrator"
)

func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Welcome frame arrives first on every connection.
	welcome := readFrame(t, conn)
	require.Equal(t, "status", welcome.Type)
	require.Equal(t, "connected", welcome.Status)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readUntil drains frames until one matches, failing on deadline.
func readUntil(t *testing.T, conn *websocket.Conn, match func(wsMessage) bool) wsMessage {
	t.Helper()
	for {
		msg := readFrame(t, conn)
		if match(msg) {
			return msg
		}
	}
}

func TestWSPingPong(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn := dialWS(t, env)

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "ping", ID: "42"}))
	msg := readFrame(t, conn)
	assert.Equal(t, "pong", msg.Type)
	assert.Equal(t, "42", msg.ID)
}

func TestWSExecuteCompletes(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn := dialWS(t, env)

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "execute", Command: "ls -la", ID: "req-1"}))

	msg := readUntil(t, conn, func(m wsMessage) bool {
		return m.Type == "output" && m.ID == "req-1"
	})
	assert.Equal(t, "complete", msg.Status)
	assert.Equal(t, "ls -la", msg.Command)
	assert.NotEmpty(t, msg.SessionID, "output frame must carry the tracking id")
}

func TestWSExecuteEmptyCommand(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn := dialWS(t, env)

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "execute", ID: "req-1"}))
	msg := readFrame(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Error, "required")
}

func TestWSExecuteTimeoutFrameIsNotAnError(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.target.mu.Lock()
	env.target.busy = true
	env.target.content = "installing..."
	env.target.mu.Unlock()

	conn := dialWS(t, env)
	require.NoError(t, conn.WriteJSON(wsMessage{Type: "execute", Command: "npm install", ID: "req-1"}))

	msg := readUntil(t, conn, func(m wsMessage) bool {
		return m.Type == "output" && m.ID == "req-1"
	})
	assert.Equal(t, "timeout", msg.Status)
	assert.Empty(t, msg.Error)
	require.NotEmpty(t, msg.SessionID)

	// The tracking id stays queryable over the same connection.
	require.NoError(t, conn.WriteJSON(wsMessage{Type: "status", SessionID: msg.SessionID, ID: "req-2"}))
	statusMsg := readUntil(t, conn, func(m wsMessage) bool { return m.ID == "req-2" })
	assert.Equal(t, "status", statusMsg.Type)
	assert.Equal(t, "running", statusMsg.Status)

	// Completion reaches the client as a broadcast from the monitor.
	env.target.mu.Lock()
	env.target.busy = false
	env.target.content = "added 12 packages\nuser@host:~$ "
	env.target.mu.Unlock()

	final := readUntil(t, conn, func(m wsMessage) bool {
		return m.Type == "output" && m.SessionID == msg.SessionID && m.Status == "complete"
	})
	assert.Contains(t, final.Output, "added 12 packages")
}

func TestWSStatusUnknownSession(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn := dialWS(t, env)

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "status", SessionID: "nope", ID: "req-1"}))
	msg := readFrame(t, conn)
	assert.Equal(t, "error", msg.Type)

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "status", ID: "req-2"}))
	msg = readFrame(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Error, "session_id")
}

func TestWSListSessions(t *testing.T) {
	env := newTestEnv(t, Config{})

	snap, err := env.orch.Execute(t.Context(), "ls", env.target)
	require.NoError(t, err)

	conn := dialWS(t, env)
	require.NoError(t, conn.WriteJSON(wsMessage{Type: "list", ID: "req-1"}))
	msg := readUntil(t, conn, func(m wsMessage) bool { return m.Type == "sessions" })
	require.Len(t, msg.Sessions, 1)
	assert.Equal(t, snap.ID, msg.Sessions[0].ID)
}

func TestWSFocus(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn := dialWS(t, env)

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "focus", ID: "req-1"}))
	msg := readFrame(t, conn)
	assert.Equal(t, "status", msg.Type)
	assert.Equal(t, "focused", msg.Status)
}

func TestWSUnknownType(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn := dialWS(t, env)

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "teleport", ID: "req-1"}))
	msg := readFrame(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Error, "unknown message type")
}

func TestWSInvalidJSON(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn := dialWS(t, env)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := readFrame(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Error, "invalid json")
}

func TestWSExecuteRateLimited(t *testing.T) {
	env := newTestEnv(t, Config{ExecRate: rate.Limit(0.1), ExecBurst: 1})
	conn := dialWS(t, env)

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "execute", Command: "ls", ID: "req-1"}))
	require.NoError(t, conn.WriteJSON(wsMessage{Type: "execute", Command: "ls", ID: "req-2"}))

	msg := readUntil(t, conn, func(m wsMessage) bool {
		return m.Type == "error" && m.ID == "req-2"
	})
	assert.Contains(t, msg.Error, "rate limit")
}

func TestWSBroadcastReachesAllClients(t *testing.T) {
	env := newTestEnv(t, Config{})
	connA := dialWS(t, env)
	connB := dialWS(t, env)

	snap, err := env.orch.Execute(t.Context(), "ls", env.target)
	require.NoError(t, err)
	require.Equal(t, orchestrator.StatusComplete, snap.Status)

	for _, conn := range []*websocket.Conn{connA, connB} {
		msg := readUntil(t, conn, func(m wsMessage) bool {
			return m.Type == "output" && m.SessionID == snap.ID
		})
		assert.Equal(t, "complete", msg.Status)
	}
}

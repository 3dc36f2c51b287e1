package tmux

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetSpec(t *testing.T) {
	tests := []struct {
		name    string
		session string
		window  string
		pane    string
		want    string
	}{
		{"full address", "claude-bridge", "1", "0", "claude-bridge:1.0"},
		{"no pane", "claude-bridge", "1", "", "claude-bridge:1"},
		{"active window", "work", "", "", "work:"},
		{"pane on active window", "work", "", "2", "work:.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tgt := &Target{Session: tt.session, Window: tt.window, Pane: tt.pane}
			assert.Equal(t, tt.want, tgt.Spec())
			assert.Equal(t, tt.want, tgt.ID())
		})
	}
}

func TestResolveTargetEmptySession(t *testing.T) {
	_, err := ResolveTarget("", "1", "")
	assert.ErrorIs(t, err, ErrTargetNotFound)
}

func TestProcessAlive(t *testing.T) {
	// The test process itself is always alive.
	assert.True(t, processAlive(os.Getpid()))
	// PIDs are bounded well below this on Linux.
	assert.False(t, processAlive(1<<30))
}

// Integration tests below require a running tmux server. They create a
// throwaway session and clean it up.

func skipIfNoTmux(t *testing.T) {
	t.Helper()
	if err := IsTmuxAvailable(); err != nil {
		t.Skipf("tmux not available: %v", err)
	}
}

func newTestSession(t *testing.T) string {
	t.Helper()
	name := "bridge-test-" + uuid.NewString()[:8]
	require.NoError(t, exec.Command("tmux", "new-session", "-d", "-s", name).Run())
	t.Cleanup(func() {
		_ = exec.Command("tmux", "kill-session", "-t", name).Run()
	})
	return name
}

func TestResolveTargetIntegration(t *testing.T) {
	skipIfNoTmux(t)
	session := newTestSession(t)

	tgt, err := ResolveTarget(session, "", "")
	require.NoError(t, err)
	assert.Greater(t, tgt.panePID, 0)

	_, err = ResolveTarget("no-such-session-"+uuid.NewString()[:8], "", "")
	assert.ErrorIs(t, err, ErrTargetNotFound)
}

func TestDispatchAndCaptureIntegration(t *testing.T) {
	skipIfNoTmux(t)
	session := newTestSession(t)

	tgt, err := ResolveTarget(session, "", "")
	require.NoError(t, err)

	marker := fmt.Sprintf("bridge-%s", uuid.NewString()[:8])
	require.NoError(t, tgt.Dispatch("echo "+marker))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		tgt.invalidateCache()
		content, err := tgt.Capture()
		require.NoError(t, err)
		// The echoed line appears once as the typed command and once as
		// output; two occurrences mean the command actually ran.
		if strings.Count(Sanitize(content), marker) >= 2 {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatal("dispatched command output never appeared in capture")
}

func TestHasActiveChildWorkIntegration(t *testing.T) {
	skipIfNoTmux(t)
	session := newTestSession(t)

	tgt, err := ResolveTarget(session, "", "")
	require.NoError(t, err)

	// Idle shell first.
	waitForIdle(t, tgt)

	require.NoError(t, tgt.Dispatch("sleep 2"))
	time.Sleep(500 * time.Millisecond)
	busy, err := tgt.HasActiveChildWork()
	require.NoError(t, err)
	assert.True(t, busy, "sleep should register as child work")

	waitForIdle(t, tgt)
}

func waitForIdle(t *testing.T, tgt *Target) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		busy, err := tgt.HasActiveChildWork()
		if err == nil && !busy {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatal("pane never went idle")
}

func TestCaptureCacheIntegration(t *testing.T) {
	skipIfNoTmux(t)
	session := newTestSession(t)

	tgt, err := ResolveTarget(session, "", "")
	require.NoError(t, err)

	first, err := tgt.Capture()
	require.NoError(t, err)
	second, err := tgt.Capture()
	require.NoError(t, err)
	assert.Equal(t, first, second, "cached capture within TTL must be identical")
}

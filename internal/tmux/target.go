// Package tmux provides the execution-target handle over one addressable
// tmux pane (keystroke injection, content capture, process inspection,
// focus) plus completion and interaction detection on captured output.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/llkhacquan/tmux-claude-bridge/internal/logging"
)

var targetLog = logging.ForComponent(logging.CompTarget)

var (
	// ErrTargetNotFound means no addressable pane could be resolved, or
	// a previously resolved pane has disappeared.
	ErrTargetNotFound = errors.New("tmux target not found")

	// ErrDispatchFailed means keystroke injection into the pane failed.
	ErrDispatchFailed = errors.New("keystroke injection failed")

	// ErrCaptureTimeout is returned when capture-pane exceeds its timeout.
	ErrCaptureTimeout = errors.New("capture-pane timed out")
)

// captureTimeout bounds every capture-pane subprocess so a wedged tmux
// server can never hang a poll loop.
const captureTimeout = 3 * time.Second

// captureCacheTTL is how long a captured snapshot stays fresh. Foreground
// and background pollers share captures within one tick this way.
const captureCacheTTL = 400 * time.Millisecond

// Target identifies one addressable tmux pane and the shell process that
// owns it. All side effects are external tmux state; Target itself only
// maps logical operations onto tmux primitives.
type Target struct {
	Session string
	Window  string // empty means the session's active window
	Pane    string // pane index; empty means the active pane

	mu      sync.Mutex
	panePID int

	cacheMu      sync.RWMutex
	cacheContent string
	cacheTime    time.Time
	captureSf    singleflight.Group
}

// IsTmuxAvailable checks if tmux is installed and accessible.
func IsTmuxAvailable() error {
	out, err := exec.Command("tmux", "-V").CombinedOutput()
	if err != nil {
		return fmt.Errorf("tmux not found or not working: %w (output: %s)", err, string(out))
	}
	return nil
}

// ResolveTarget locates the pane addressed by session/window/pane and
// resolves its owning shell PID. Idempotent given unchanged tmux layout.
func ResolveTarget(session, window, pane string) (*Target, error) {
	if session == "" {
		return nil, fmt.Errorf("%w: session name is empty", ErrTargetNotFound)
	}

	if err := exec.Command("tmux", "has-session", "-t", session).Run(); err != nil {
		return nil, fmt.Errorf("%w: session %q", ErrTargetNotFound, session)
	}

	t := &Target{Session: session, Window: window, Pane: pane}
	pid, err := t.resolvePanePID()
	if err != nil {
		return nil, err
	}
	t.panePID = pid

	targetLog.Info("target_resolved",
		slog.String("target", t.Spec()),
		slog.Int("pane_pid", pid))
	return t, nil
}

// Spec returns the tmux target specifier ("session:window.pane").
func (t *Target) Spec() string {
	spec := t.Session + ":" + t.Window
	if t.Pane != "" {
		spec += "." + t.Pane
	}
	return spec
}

// ID returns a stable identifier for per-target serialization.
func (t *Target) ID() string {
	return t.Spec()
}

// resolvePanePID asks tmux for the pane's shell PID. The PID is re-read
// rather than trusted forever: a pane can be closed and recreated.
func (t *Target) resolvePanePID() (int, error) {
	out, err := exec.Command("tmux", "list-panes", "-t", t.Spec(), "-F", "#{pane_pid}").Output()
	if err != nil {
		return 0, fmt.Errorf("%w: pane %q", ErrTargetNotFound, t.Spec())
	}
	pidStr := strings.TrimSpace(string(out))
	// First line only, in case the spec matches several panes.
	if idx := strings.IndexByte(pidStr, '\n'); idx >= 0 {
		pidStr = pidStr[:idx]
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: pane %q has no pid", ErrTargetNotFound, t.Spec())
	}
	return pid, nil
}

// Dispatch clears interrupt state and injects the command followed by
// Enter. The interrupt+clear prefix guarantees stale prompts from a
// previous command cannot be misread as this command's output.
func (t *Target) Dispatch(command string) error {
	t.invalidateCache()

	// C-c aborts any half-typed input, C-l clears the visible screen.
	if err := exec.Command("tmux", "send-keys", "-t", t.Spec(), "C-c", "C-l").Run(); err != nil {
		return fmt.Errorf("%w: clear: %v", ErrDispatchFailed, err)
	}
	time.Sleep(100 * time.Millisecond)

	// -l sends the text literally so tmux never interprets key names,
	// -- stops flag parsing for commands starting with a dash.
	if err := exec.Command("tmux", "send-keys", "-l", "-t", t.Spec(), "--", command).Run(); err != nil {
		return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	// Enter goes as a separate call with a short delay: tmux 3.2+ wraps
	// literal sends in bracketed paste markers, and an Enter in the same
	// PTY buffer gets swallowed by paste handlers.
	time.Sleep(100 * time.Millisecond)
	if err := exec.Command("tmux", "send-keys", "-t", t.Spec(), "Enter").Run(); err != nil {
		return fmt.Errorf("%w: enter: %v", ErrDispatchFailed, err)
	}

	targetLog.Debug("dispatched",
		slog.String("target", t.Spec()),
		slog.Int("command_len", len(command)))
	return nil
}

// Capture snapshots the currently visible pane content. Concurrent calls
// are deduplicated via singleflight and snapshots are cached briefly.
func (t *Target) Capture() (string, error) {
	t.cacheMu.RLock()
	if t.cacheContent != "" && time.Since(t.cacheTime) < captureCacheTTL {
		content := t.cacheContent
		t.cacheMu.RUnlock()
		return content, nil
	}
	t.cacheMu.RUnlock()

	v, err, _ := t.captureSf.Do("capture", func() (interface{}, error) {
		t.cacheMu.RLock()
		if t.cacheContent != "" && time.Since(t.cacheTime) < captureCacheTTL {
			content := t.cacheContent
			t.cacheMu.RUnlock()
			return content, nil
		}
		t.cacheMu.RUnlock()

		ctx, cancel := context.WithTimeout(context.Background(), captureTimeout)
		defer cancel()

		// -J joins wrapped lines so long commands hash stably.
		cmd := exec.CommandContext(ctx, "tmux", "capture-pane", "-t", t.Spec(), "-p", "-J")
		out, err := cmd.Output()
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return "", ErrCaptureTimeout
			}
			return "", fmt.Errorf("%w: capture pane %q", ErrTargetNotFound, t.Spec())
		}

		content := string(out)
		t.cacheMu.Lock()
		t.cacheContent = content
		t.cacheTime = time.Now()
		t.cacheMu.Unlock()
		return content, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (t *Target) invalidateCache() {
	t.cacheMu.Lock()
	t.cacheContent = ""
	t.cacheTime = time.Time{}
	t.cacheMu.Unlock()
}

// HasActiveChildWork reports whether the pane's shell currently has child
// processes, i.e. something other than the idle shell is running. The
// error case (pane PID unresolvable, /proc inspection failing) signals
// that process-based detection is unavailable and callers should fall
// back to textual detection.
func (t *Target) HasActiveChildWork() (bool, error) {
	t.mu.Lock()
	pid := t.panePID
	t.mu.Unlock()

	// Re-resolve when unset or when the remembered process is gone
	// (pane recreated, shell restarted).
	if pid <= 0 || !processAlive(pid) {
		fresh, err := t.resolvePanePID()
		if err != nil {
			return false, err
		}
		t.mu.Lock()
		t.panePID = fresh
		t.mu.Unlock()
		pid = fresh
	}

	out, err := exec.Command("pgrep", "-P", strconv.Itoa(pid)).Output()
	if err != nil {
		// pgrep exits 1 when there are no children; that is a clean
		// "idle shell" answer, not a detection failure.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return false, nil
		}
		return false, fmt.Errorf("pgrep failed for pid %d: %w", pid, err)
	}
	return strings.TrimSpace(string(out)) != "", nil
}

// processAlive checks whether a PID still refers to a live process.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes existence without delivering anything.
	return proc.Signal(syscall.Signal(0)) == nil
}

// Focus brings the pane into the user's immediate view: select its
// window and pane, and if a client is attached, switch it over.
func (t *Target) Focus() error {
	if err := exec.Command("tmux", "select-window", "-t", t.Session+":"+t.Window).Run(); err != nil {
		return fmt.Errorf("%w: select window", ErrTargetNotFound)
	}
	if t.Pane != "" {
		if err := exec.Command("tmux", "select-pane", "-t", t.Spec()).Run(); err != nil {
			return fmt.Errorf("%w: select pane", ErrTargetNotFound)
		}
	}
	// Best effort: only works when a client is attached.
	_ = exec.Command("tmux", "switch-client", "-t", t.Session).Run()

	targetLog.Debug("focused", slog.String("target", t.Spec()))
	return nil
}

package orchestrator

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/llkhacquan/tmux-claude-bridge/internal/logging"
	"github.com/llkhacquan/tmux-claude-bridge/internal/tmux"
)

var monitorLog = logging.ForComponent(logging.CompMonitor)

// monitorSession rechecks one handed-off session until terminal state.
// Checks run strictly one at a time per session: a check, including its
// focus side effect, finishes before the next sleep starts. The loop
// keeps running even when the caller stops querying, since the human may
// still be watching the pane.
func (o *Orchestrator) monitorSession(id string, target Target) {
	for {
		time.Sleep(o.cfg.MonitorInterval)
		if o.checkOnce(id, target) {
			return
		}
	}
}

// checkOnce performs one background recheck. Returns true when the
// session reached terminal state and monitoring should stop. A failure
// here lands on this session only; siblings keep their own loops.
func (o *Orchestrator) checkOnce(id string, target Target) bool {
	content, err := target.Capture()
	if err != nil {
		monitorLog.Error("background_check_failed",
			slog.String("id", id),
			slog.String("error", err.Error()))
		o.finish(id, target, StatusError, "", fmt.Sprintf("background check: %v", err))
		return true
	}
	clean := tmux.Sanitize(content)

	if tmux.IsComplete(target) {
		o.finish(id, target, StatusComplete, clean, "")
		return true
	}

	if tmux.LooksInteractive(clean) {
		if err := target.Focus(); err != nil {
			monitorLog.Warn("focus_failed",
				slog.String("id", id),
				slog.String("error", err.Error()))
		}
		o.finish(id, target, StatusNeedsInteraction, clean, "")
		return true
	}

	monitorLog.Debug("still_running", slog.String("id", id))
	return false
}

// finish applies a terminal transition and releases the target. A
// transition onto a discarded session is dropped silently; the target is
// released either way.
func (o *Orchestrator) finish(id string, target Target, status Status, output, errMsg string) {
	snap, err := o.registry.transition(id, status, output, errMsg)
	o.release(target.ID())
	if err != nil {
		monitorLog.Debug("transition_dropped",
			slog.String("id", id),
			slog.String("error", err.Error()))
		return
	}
	o.notifyUpdated(snap)
}

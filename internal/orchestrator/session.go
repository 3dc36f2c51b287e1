package orchestrator

import (
	"time"

	"github.com/llkhacquan/tmux-claude-bridge/internal/classify"
)

// Status is the caller-visible execution state of a session.
type Status string

const (
	// StatusRunning means the command is still executing, foreground or
	// under background monitoring.
	StatusRunning Status = "running"
	// StatusComplete is terminal: the command finished and final output
	// was captured.
	StatusComplete Status = "complete"
	// StatusTimeout means the synchronous wait budget elapsed and the
	// session was handed to the background monitor. Only ever seen on
	// the snapshot returned to the dispatching caller; the registry
	// entry stays running until the monitor observes a terminal state.
	StatusTimeout Status = "timeout"
	// StatusNeedsInteraction is terminal for the orchestrator: the
	// command is waiting on a human, who now owns the pane.
	StatusNeedsInteraction Status = "needs_interaction"
	// StatusError is terminal: a background check itself failed.
	StatusError Status = "error"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusNeedsInteraction || s == StatusError
}

// Snapshot is the immutable caller-visible view of a session. Copies are
// handed out; the live session is only ever touched under the registry
// lock.
type Snapshot struct {
	ID           string            `json:"id"`
	Command      string            `json:"command"`
	Target       string            `json:"target"`
	Category     classify.Category `json:"category"`
	Status       Status            `json:"status"`
	Output       string            `json:"output,omitempty"`
	Error        string            `json:"error,omitempty"`
	Hint         string            `json:"hint,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	DurationSecs float64           `json:"duration_secs"`
}

// session is the registry-owned mutable state. All field access happens
// under the registry mutex.
type session struct {
	id        string
	command   string
	targetID  string
	category  classify.Category
	status    Status
	output    string
	errMsg    string
	hint      string
	startedAt time.Time
	updatedAt time.Time
}

func (s *session) snapshot() Snapshot {
	end := s.updatedAt
	if !s.status.Terminal() {
		end = time.Now()
	}
	return Snapshot{
		ID:           s.id,
		Command:      s.command,
		Target:       s.targetID,
		Category:     s.category,
		Status:       s.status,
		Output:       s.output,
		Error:        s.errMsg,
		Hint:         s.hint,
		StartedAt:    s.startedAt,
		DurationSecs: end.Sub(s.startedAt).Seconds(),
	}
}

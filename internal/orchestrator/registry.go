package orchestrator

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/llkhacquan/tmux-claude-bridge/internal/logging"
)

var registryLog = logging.ForComponent(logging.CompRegistry)

// ErrNotFound is returned when no session exists under the given id.
var ErrNotFound = errors.New("session not found")

// Registry tracks every dispatched session, keyed by id. One mutex gates
// the map and all session mutation so concurrent monitor completions
// cannot interleave into a corrupted entry.
//
// Entries are retained until Discard: the registry never expires them on
// its own. A long-lived process accumulates entries for as long as the
// caller leaves them unread, which is the documented trade against
// silently losing a result the caller still wants.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*session)}
}

func (r *Registry) insert(s *session) {
	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()

	registryLog.Debug("session_inserted",
		slog.String("id", s.id),
		slog.String("target", s.targetID),
		slog.String("status", string(s.status)))
}

// transition moves a session to a new status and returns the resulting
// snapshot. Transitions out of a terminal state are refused.
func (r *Registry) transition(id string, status Status, output, errMsg string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.status.Terminal() {
		return s.snapshot(), fmt.Errorf("registry: session %s already %s", id, s.status)
	}

	s.status = status
	if output != "" {
		s.output = output
	}
	s.errMsg = errMsg
	s.updatedAt = time.Now()

	registryLog.Info("session_transition",
		slog.String("id", id),
		slog.String("status", string(status)))
	return s.snapshot(), nil
}

// Get returns a snapshot of the session, or ErrNotFound.
func (r *Registry) Get(id string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.snapshot(), nil
}

// List returns snapshots of all tracked sessions, newest first.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Snapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Discard removes a session. It is the only removal path; background
// monitoring for the session, if any, keeps running until terminal state
// but its final transition will land on a missing entry and be dropped.
func (r *Registry) Discard(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.sessions, id)

	registryLog.Info("session_discarded", slog.String("id", id))
	return nil
}

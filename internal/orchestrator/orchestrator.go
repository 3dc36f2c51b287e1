// Package orchestrator implements the fire-and-wait-briefly execution
// protocol over a tmux pane: classify, dispatch, poll for completion
// within a per-strategy budget, and hand long runners to a background
// monitor tracked in the session registry.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/llkhacquan/tmux-claude-bridge/internal/classify"
	"github.com/llkhacquan/tmux-claude-bridge/internal/logging"
	"github.com/llkhacquan/tmux-claude-bridge/internal/tmux"
)

var orchLog = logging.ForComponent(logging.CompOrch)

// ErrTargetBusy is returned when a command is dispatched to a target
// that still has a session polling against it, foreground or background.
var ErrTargetBusy = errors.New("target busy with another command")

// Target is the execution surface the orchestrator drives. *tmux.Target
// satisfies it; tests substitute fakes.
type Target interface {
	ID() string
	Dispatch(command string) error
	Capture() (string, error)
	HasActiveChildWork() (bool, error)
	Focus() error
}

var _ Target = (*tmux.Target)(nil)

// Notifier observes session lifecycle events. Implementations must not
// block; they are called synchronously from the execution path.
type Notifier interface {
	SessionStarted(Snapshot)
	SessionUpdated(Snapshot)
}

// Config holds the timing knobs. All of them are explicit so tests can
// shrink the intervals and stay deterministic.
type Config struct {
	PollInterval    time.Duration // foreground poll tick
	MonitorInterval time.Duration // background recheck tick
	QuickBudget     time.Duration // short commands
	ExtendedBudget  time.Duration // commands estimated over 30s
	AsyncGrace      time.Duration // grace wait before background hand-off
}

// DefaultConfig returns production timings.
func DefaultConfig() Config {
	return Config{
		PollInterval:    500 * time.Millisecond,
		MonitorInterval: 10 * time.Second,
		QuickBudget:     5 * time.Second,
		ExtendedBudget:  30 * time.Second,
		AsyncGrace:      2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = d.MonitorInterval
	}
	if c.QuickBudget <= 0 {
		c.QuickBudget = d.QuickBudget
	}
	if c.ExtendedBudget <= 0 {
		c.ExtendedBudget = d.ExtendedBudget
	}
	if c.AsyncGrace <= 0 {
		c.AsyncGrace = d.AsyncGrace
	}
	return c
}

// Orchestrator serializes command execution per target and owns all
// session transitions.
type Orchestrator struct {
	cfg      Config
	registry *Registry

	notifyMu  sync.RWMutex
	notifiers []Notifier

	busyMu sync.Mutex
	busy   map[string]string // target id -> owning session id
}

func New(cfg Config, registry *Registry, notifiers ...Notifier) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		registry:  registry,
		notifiers: notifiers,
		busy:      make(map[string]string),
	}
}

// Registry exposes the session registry for query surfaces.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// AddNotifier registers an additional lifecycle observer. The transport
// layer attaches itself here after construction.
func (o *Orchestrator) AddNotifier(n Notifier) {
	o.notifyMu.Lock()
	o.notifiers = append(o.notifiers, n)
	o.notifyMu.Unlock()
}

func (o *Orchestrator) acquire(targetID, sessionID string) error {
	o.busyMu.Lock()
	defer o.busyMu.Unlock()

	if owner, ok := o.busy[targetID]; ok {
		return fmt.Errorf("%w: target %s owned by session %s", ErrTargetBusy, targetID, owner)
	}
	o.busy[targetID] = sessionID
	return nil
}

func (o *Orchestrator) release(targetID string) {
	o.busyMu.Lock()
	delete(o.busy, targetID)
	o.busyMu.Unlock()
}

func (o *Orchestrator) notifyStarted(snap Snapshot) {
	o.notifyMu.RLock()
	defer o.notifyMu.RUnlock()
	for _, n := range o.notifiers {
		n.SessionStarted(snap)
	}
}

func (o *Orchestrator) notifyUpdated(snap Snapshot) {
	o.notifyMu.RLock()
	defer o.notifyMu.RUnlock()
	for _, n := range o.notifiers {
		n.SessionUpdated(snap)
	}
}

func (o *Orchestrator) budgetFor(s classify.Strategy) time.Duration {
	switch s {
	case classify.StrategyAsync:
		return o.cfg.AsyncGrace
	case classify.StrategyExtended:
		return o.cfg.ExtendedBudget
	case classify.StrategyNoTimeout:
		return 0
	default:
		return o.cfg.QuickBudget
	}
}

// Execute runs one command on the target and returns its snapshot. The
// call returns within the strategy's wait budget plus one poll interval:
// either with a terminal snapshot, or with StatusTimeout once the
// session has been handed to the background monitor. Commands that need
// a human (editors, REPLs, monitors, anything prompting for input or a
// password) are dispatched, focused, and reported as NeedsInteraction
// without any polling.
func (o *Orchestrator) Execute(ctx context.Context, command string, target Target) (Snapshot, error) {
	cls := classify.Classify(command)

	s := &session{
		id:        uuid.NewString(),
		command:   command,
		targetID:  target.ID(),
		category:  cls.Category,
		status:    StatusRunning,
		hint:      cls.Hint,
		startedAt: time.Now(),
	}

	if err := o.acquire(target.ID(), s.id); err != nil {
		return Snapshot{}, err
	}

	orchLog.Info("execute",
		slog.String("id", s.id),
		slog.String("target", s.targetID),
		slog.String("category", string(cls.Category)),
		slog.String("strategy", string(cls.TimeoutStrategy())),
		slog.Bool("delegate", cls.NeedsDelegation()))

	if cls.NeedsDelegation() {
		return o.delegate(s, target)
	}

	if err := target.Dispatch(command); err != nil {
		o.release(target.ID())
		return Snapshot{}, err
	}
	o.registry.insert(s)
	o.notifyStarted(o.mustSnapshot(s.id))

	return o.pollForeground(ctx, s.id, target, cls)
}

// delegate dispatches without polling: these commands legitimately sit
// idle or block on input, so process-based completion would never fire.
func (o *Orchestrator) delegate(s *session, target Target) (Snapshot, error) {
	if err := target.Dispatch(s.command); err != nil {
		o.release(target.ID())
		return Snapshot{}, err
	}
	if err := target.Focus(); err != nil {
		orchLog.Warn("focus_failed",
			slog.String("id", s.id),
			slog.String("error", err.Error()))
	}

	s.status = StatusNeedsInteraction
	s.updatedAt = time.Now()
	o.registry.insert(s)
	o.release(target.ID())

	snap := o.mustSnapshot(s.id)
	o.notifyStarted(snap)
	o.notifyUpdated(snap)
	return snap, nil
}

func (o *Orchestrator) pollForeground(ctx context.Context, id string, target Target, cls classify.Classification) (Snapshot, error) {
	deadline := time.Now().Add(o.budgetFor(cls.TimeoutStrategy()))
	prev := ""

	for {
		select {
		case <-ctx.Done():
			// The caller went away; the command keeps running under
			// background monitoring like any other timeout.
			return o.handOff(id, target), nil
		case <-time.After(o.cfg.PollInterval):
		}

		content, captureErr := target.Capture()
		clean := ""
		if captureErr == nil {
			clean = tmux.Sanitize(content)
		}

		if tmux.IsComplete(target) {
			snap, err := o.registry.transition(id, StatusComplete, clean, "")
			o.release(target.ID())
			if err != nil {
				return snap, nil
			}
			o.notifyUpdated(snap)
			return snap, nil
		}

		// A new interactive-looking line means the command stopped to
		// ask something. The changed-since-last-tick requirement keeps
		// stale prompts in scrollback from firing every tick.
		if captureErr == nil && clean != prev && tmux.LooksInteractive(clean) {
			if err := target.Focus(); err != nil {
				orchLog.Warn("focus_failed",
					slog.String("id", id),
					slog.String("error", err.Error()))
			}
			snap, err := o.registry.transition(id, StatusNeedsInteraction, clean, "")
			o.release(target.ID())
			if err != nil {
				return snap, nil
			}
			o.notifyUpdated(snap)
			return snap, nil
		}
		prev = clean

		if time.Now().After(deadline) {
			return o.handOff(id, target), nil
		}
	}
}

// handOff spawns the background monitor and reports StatusTimeout to the
// dispatching caller. The registry entry stays running; the target stays
// held until the monitor observes a terminal state.
func (o *Orchestrator) handOff(id string, target Target) Snapshot {
	go o.monitorSession(id, target)

	orchLog.Info("background_handoff", slog.String("id", id))

	snap := o.mustSnapshot(id)
	snap.Status = StatusTimeout
	return snap
}

// Focus brings the target's pane into view without executing anything.
func (o *Orchestrator) Focus(target Target) error {
	return target.Focus()
}

func (o *Orchestrator) mustSnapshot(id string) Snapshot {
	snap, err := o.registry.Get(id)
	if err != nil {
		// Only reachable if the caller discarded the session while its
		// own Execute call was still in flight.
		return Snapshot{ID: id}
	}
	return snap
}

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Paintersrp/tether/internal/runtime"
)

// State is the lifecycle position of the supervised backend.
type State int

const (
	NotStarted State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state name for JSON and YAML encoders.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Logger defines the logging interface used by the supervisor. It is
// satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(logger Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver registers an observer for lifecycle events.
func WithObserver(obs Observer) Option {
	return func(s *Supervisor) {
		if obs != nil {
			s.observers = append(s.observers, obs)
		}
	}
}

// WithClock overrides the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) {
		if now != nil {
			s.now = now
		}
	}
}

// Supervisor owns at most one backend handle.
type Supervisor struct {
	spawner   runtime.Spawner
	logger    Logger
	observers []Observer
	now       func() time.Time

	mu        sync.Mutex
	handle    runtime.Handle
	state     State
	closed    bool
	backend   string
	since     time.Time
	lastError error
}

// New constructs a supervisor that launches backends with spawner.
func New(spawner runtime.Spawner, opts ...Option) *Supervisor {
	s := &Supervisor{
		spawner: spawner,
		logger:  noopLogger{},
		now:     time.Now,
		state:   NotStarted,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the backend described by spec. See StartFunc.
func (s *Supervisor) Start(ctx context.Context, spec runtime.Spec) error {
	return s.StartFunc(ctx, spec.Name, func() (runtime.Spec, error) {
		return spec, nil
	})
}

// StartFunc resolves the backend spec and launches it. Resolution only runs
// when the supervisor is NotStarted, so a resolver is never consulted for a
// backend that is already running or stopped.
//
// Calling StartFunc in any state other than NotStarted is a no-op that returns
// nil. A resolution or spawn failure returns an error wrapping ErrSpawnFailed
// and leaves the supervisor NotStarted.
func (s *Supervisor) StartFunc(ctx context.Context, name string, resolve func() (runtime.Spec, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.state != NotStarted {
		s.logger.Debug("backend start ignored", "backend", s.backend, "state", s.state.String())
		return nil
	}

	spec, err := resolve()
	if err != nil {
		return s.spawnFailedLocked(name, err)
	}
	if spec.Name == "" {
		spec.Name = name
	}

	if s.spawner == nil {
		return s.spawnFailedLocked(spec.Name, errors.New("no spawner configured"))
	}
	h, err := s.spawner.Spawn(ctx, spec)
	if err == nil && h == nil {
		err = errors.New("spawner returned no handle")
	}
	if err != nil {
		return s.spawnFailedLocked(spec.Name, err)
	}

	s.handle = h
	s.state = Running
	s.backend = spec.Name
	s.since = s.now()
	s.lastError = nil

	s.logger.Info("backend started", "backend", spec.Name, "id", h.ID(), "pid", h.PID())
	s.emitLocked(Event{Type: EventSpawned, Backend: spec.Name, ID: h.ID(), PID: h.PID()})
	if done := h.Done(); done != nil {
		go s.watch(h, done)
	}
	return nil
}

// watch reports a backend that exits before it is stopped. Once Stop has
// taken the handle the exit is expected and nothing is reported.
func (s *Supervisor) watch(h runtime.Handle, done <-chan struct{}) {
	<-done

	var cause error
	if reporter, ok := h.(runtime.ExitReporter); ok {
		cause = reporter.ExitErr()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != h {
		return
	}
	var err error
	if cause != nil {
		err = fmt.Errorf("backend exited: %w", cause)
		s.lastError = err
	}
	s.logger.Warn("backend exited unexpectedly", "backend", s.backend, "id", h.ID(), "error", cause)
	s.emitLocked(Event{Type: EventExited, Backend: s.backend, ID: h.ID(), PID: h.PID(), Err: err})
}

func (s *Supervisor) spawnFailedLocked(name string, cause error) error {
	err := fmt.Errorf("%w: %s: %w", ErrSpawnFailed, name, cause)
	s.backend = name
	s.lastError = err
	s.logger.Error("backend failed to start; continuing without it", "backend", name, "error", cause)
	s.emitLocked(Event{Type: EventSpawnFailed, Backend: name, Err: err})
	return err
}

// Stop requests termination of a running backend. It is a no-op unless the
// supervisor is Running. The handle is released before the termination
// request is sent, so the supervisor holds no handle once Stop returns even
// when the request fails. A returned error wraps ErrTerminationFailed and is
// informational only.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Supervisor) stopLocked() error {
	if s.state != Running {
		return nil
	}
	h := s.handle
	s.handle = nil
	s.state = Stopped
	s.since = s.now()

	id, pid := h.ID(), h.PID()
	if err := h.Kill(); err != nil {
		wrapped := fmt.Errorf("%w: %s: %w", ErrTerminationFailed, s.backend, err)
		s.lastError = wrapped
		s.logger.Warn("backend termination request failed", "backend", s.backend, "id", id, "error", err)
		s.emitLocked(Event{Type: EventTerminationFailed, Backend: s.backend, ID: id, PID: pid, Err: wrapped})
		return wrapped
	}

	s.logger.Info("backend stopped", "backend", s.backend, "id", id, "pid", pid)
	s.emitLocked(Event{Type: EventStopped, Backend: s.backend, ID: id, PID: pid})
	return nil
}

// Close stops a running backend and prevents any later Start. It is safe to
// call more than once.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.stopLocked()
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot is a point-in-time view of the supervisor.
type Snapshot struct {
	Backend   string    `json:"backend,omitempty"`
	State     State     `json:"state"`
	ID        string    `json:"id,omitempty"`
	PID       int       `json:"pid,omitempty"`
	Since     time.Time `json:"since"`
	LastError string    `json:"lastError,omitempty"`
}

// Snapshot returns the current supervisor view.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Backend: s.backend,
		State:   s.state,
		Since:   s.since,
	}
	if s.handle != nil {
		snap.ID = s.handle.ID()
		snap.PID = s.handle.PID()
	}
	if s.lastError != nil {
		snap.LastError = s.lastError.Error()
	}
	return snap
}

func (s *Supervisor) emitLocked(evt Event) {
	evt.State = s.state
	if evt.Timestamp.IsZero() {
		evt.Timestamp = s.now()
	}
	for _, obs := range s.observers {
		obs.Observe(evt)
	}
}

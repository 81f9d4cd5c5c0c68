package supervisor

import "time"

// EventType enumerates lifecycle transitions reported to observers.
type EventType string

const (
	EventSpawned           EventType = "spawned"
	EventSpawnFailed       EventType = "spawn_failed"
	EventStopped           EventType = "stopped"
	EventTerminationFailed EventType = "termination_failed"
	// EventExited reports a backend that exited on its own while Running.
	// The state does not change; there is no restart.
	EventExited EventType = "exited"
)

// Event describes a single lifecycle transition.
type Event struct {
	Type      EventType
	Backend   string
	State     State
	ID        string
	PID       int
	Err       error
	Timestamp time.Time
}

// Message returns the event error text, or an empty string.
func (e Event) Message() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// Observer receives lifecycle events. Observers run while the supervisor lock
// is held, so they must return quickly and must not call back into the
// supervisor.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// Observe calls f(evt).
func (f ObserverFunc) Observe(evt Event) {
	f(evt)
}

package runtime

import "context"

// Spec describes the backend a spawner should launch.
type Spec struct {
	// Name identifies the backend in logs, metrics and events.
	Name string
	// Path is the absolute path of the backend executable. It is resolved from
	// the host's installation directory, never from the working directory.
	Path    string
	Args    []string
	Env     map[string]string
	Workdir string
	// LogFile receives the backend's stdout and stderr when set. Otherwise the
	// output is discarded.
	LogFile string

	// Image, Ports, CPUs and Memory are only used by container spawners.
	// CPUs and Memory take quantities such as "0.5" and "512Mi".
	Image  string
	Ports  []string
	CPUs   string
	Memory string
}

// Clone returns a deep copy of the spec.
func (s Spec) Clone() Spec {
	dup := s
	if s.Args != nil {
		dup.Args = append([]string(nil), s.Args...)
	}
	if s.Ports != nil {
		dup.Ports = append([]string(nil), s.Ports...)
	}
	if s.Env != nil {
		dup.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			dup.Env[k] = v
		}
	}
	return dup
}

// Handle is ownership of a single spawned backend.
type Handle interface {
	// ID returns a stable identifier for the backend instance, such as the
	// process id or the container id.
	ID() string

	// PID returns the OS process id, or 0 when the backend is not a local
	// process.
	PID() int

	// Kill sends one forceful termination request and returns without waiting
	// for the backend to exit. A backend that has already exited is not an
	// error.
	Kill() error

	// Done is closed once the backend has exited and been reaped.
	Done() <-chan struct{}
}

// ExitReporter is implemented by handles that can explain why the backend
// exited.
type ExitReporter interface {
	// ExitErr returns the reason the backend exited, or nil for a clean exit.
	// It is only meaningful once Done is closed.
	ExitErr() error
}

// Spawner describes a backend capable of launching the supervised child.
type Spawner interface {
	// Spawn launches the backend described by spec. It returns as soon as the
	// OS (or container engine) confirms creation or rejects it.
	Spawn(ctx context.Context, spec Spec) (Handle, error)
}

// Registry maps runtime identifiers to their concrete implementations.
type Registry map[string]Spawner

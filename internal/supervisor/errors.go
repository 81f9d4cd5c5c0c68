package supervisor

import "errors"

var (
	// ErrSpawnFailed reports that the backend could not be launched: the
	// executable is missing or not executable, its path could not be
	// resolved, or the OS refused to create the process. It is never fatal
	// to the host.
	ErrSpawnFailed = errors.New("backend spawn failed")

	// ErrTerminationFailed reports that the termination request was rejected.
	// The supervisor still transitions to Stopped.
	ErrTerminationFailed = errors.New("backend termination failed")

	// ErrClosed is returned by Start once the supervisor has been closed.
	ErrClosed = errors.New("supervisor closed")
)

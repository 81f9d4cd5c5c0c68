// Package host provides the foreground shells that own the launcher's
// lifetime. A host calls Lifecycle.OnStart once when it comes up and
// Lifecycle.OnExit exactly once when it is shutting down.
package host

import "context"

// Lifecycle receives host start and exit notifications.
type Lifecycle interface {
	OnStart(ctx context.Context)
	OnExit()
}

// Host runs until the user quits or ctx is cancelled.
type Host interface {
	Run(ctx context.Context, lc Lifecycle) error
}

// LifecycleFuncs adapts plain functions to Lifecycle.
type LifecycleFuncs struct {
	Start func(ctx context.Context)
	Exit  func()
}

// OnStart calls f.Start when set.
func (f LifecycleFuncs) OnStart(ctx context.Context) {
	if f.Start != nil {
		f.Start(ctx)
	}
}

// OnExit calls f.Exit when set.
func (f LifecycleFuncs) OnExit() {
	if f.Exit != nil {
		f.Exit()
	}
}

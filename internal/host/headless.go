package host

import "context"

// Headless runs without a user interface. It starts the lifecycle, blocks
// until ctx is cancelled (typically by SIGINT or SIGTERM) and then exits it.
type Headless struct{}

// NewHeadless returns a headless host.
func NewHeadless() *Headless {
	return &Headless{}
}

// Run implements Host.
func (h *Headless) Run(ctx context.Context, lc Lifecycle) error {
	defer lc.OnExit()
	lc.OnStart(ctx)
	<-ctx.Done()
	return nil
}

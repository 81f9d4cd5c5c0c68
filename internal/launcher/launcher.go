// Package launcher binds a supervisor to the host lifecycle: the backend is
// started when the host comes up and killed when the host exits.
package launcher

import (
	"context"
	"errors"

	"github.com/Paintersrp/tether/internal/locator"
	"github.com/Paintersrp/tether/internal/runtime"
	"github.com/Paintersrp/tether/internal/supervisor"
)

// Logger receives lifecycle diagnostics.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Option configures a Launcher.
type Option func(*Launcher)

// WithLogger sets the launcher logger.
func WithLogger(logger Logger) Option {
	return func(l *Launcher) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithLocator overrides the locator used to resolve the backend path.
func WithLocator(loc *locator.Locator) Option {
	return func(l *Launcher) {
		if loc != nil {
			l.locator = loc
		}
	}
}

// Launcher implements host.Lifecycle for a single backend.
type Launcher struct {
	sup     *supervisor.Supervisor
	locator *locator.Locator
	spec    runtime.Spec
	logger  Logger
}

// New returns a launcher that starts spec through sup. A relative spec.Path
// is resolved against the install directory when the host starts.
func New(sup *supervisor.Supervisor, spec runtime.Spec, opts ...Option) *Launcher {
	l := &Launcher{
		sup:     sup,
		locator: locator.New(),
		spec:    spec.Clone(),
		logger:  noopLogger{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OnStart launches the backend. Failures are logged by the supervisor and
// never abort the host.
func (l *Launcher) OnStart(ctx context.Context) {
	err := l.sup.StartFunc(ctx, l.spec.Name, l.resolve)
	switch {
	case err == nil:
	case errors.Is(err, supervisor.ErrClosed):
		l.logger.Debug("start requested after exit; ignoring", "backend", l.spec.Name)
	default:
		l.logger.Debug("host continues without backend", "backend", l.spec.Name, "error", err)
	}
}

// OnExit kills the backend and prevents any later start.
func (l *Launcher) OnExit() {
	if err := l.sup.Close(); err != nil {
		l.logger.Warn("backend may still be running after exit", "backend", l.spec.Name, "error", err)
	}
}

func (l *Launcher) resolve() (runtime.Spec, error) {
	spec := l.spec.Clone()
	if spec.Path == "" || spec.Image != "" {
		return spec, nil
	}
	path, err := l.locator.ResolveExecutable(spec.Path)
	if err != nil {
		return runtime.Spec{}, err
	}
	spec.Path = path
	return spec, nil
}

package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Paintersrp/tether/internal/supervisor"
)

var (
	registry = prometheus.NewRegistry()

	backendState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tether",
		Name:      "backend_state",
		Help:      "Lifecycle state of the supervised backend (1 for the current state, 0 otherwise).",
	}, []string{"backend", "state"})

	backendSpawns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tether",
		Name:      "backend_spawns_total",
		Help:      "Total number of successful backend spawns.",
	}, []string{"backend"})

	spawnFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tether",
		Name:      "spawn_failures_total",
		Help:      "Total number of backend spawn attempts that failed.",
	}, []string{"backend"})

	terminations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tether",
		Name:      "terminations_total",
		Help:      "Total number of backend termination requests by result.",
	}, []string{"backend", "result"})

	backendExits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tether",
		Name:      "backend_exits_total",
		Help:      "Total number of backend exits that happened before a stop request.",
	}, []string{"backend"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tether",
		Name:      "build_info",
		Help:      "Build metadata for the running tether binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

var states = []supervisor.State{supervisor.NotStarted, supervisor.Running, supervisor.Stopped}

func init() {
	registry.MustRegister(backendState, backendSpawns, spawnFailures, terminations, backendExits, buildInfo)
}

// Registry returns the Prometheus registry containing all tether metrics.
func Registry() *prometheus.Registry {
	return registry
}

// SetBackendState marks state as the current state of backend.
func SetBackendState(backend string, state supervisor.State) {
	if backend == "" {
		return
	}
	for _, candidate := range states {
		value := 0.0
		if candidate == state {
			value = 1.0
		}
		backendState.WithLabelValues(backend, candidate.String()).Set(value)
	}
}

// Observe records a supervisor lifecycle event.
func Observe(evt supervisor.Event) {
	if evt.Backend == "" {
		return
	}
	switch evt.Type {
	case supervisor.EventSpawned:
		backendSpawns.WithLabelValues(evt.Backend).Inc()
	case supervisor.EventSpawnFailed:
		spawnFailures.WithLabelValues(evt.Backend).Inc()
	case supervisor.EventStopped:
		terminations.WithLabelValues(evt.Backend, "ok").Inc()
	case supervisor.EventTerminationFailed:
		terminations.WithLabelValues(evt.Backend, "error").Inc()
	case supervisor.EventExited:
		backendExits.WithLabelValues(evt.Backend).Inc()
	}
	SetBackendState(evt.Backend, evt.State)
}

// Observer returns a supervisor observer feeding the registry.
func Observer() supervisor.Observer {
	return supervisor.ObserverFunc(Observe)
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}

// ResetBackend clears every series recorded for backend.
func ResetBackend(backend string) {
	if backend == "" {
		return
	}
	for _, state := range states {
		backendState.DeleteLabelValues(backend, state.String())
	}
	backendSpawns.DeleteLabelValues(backend)
	spawnFailures.DeleteLabelValues(backend)
	terminations.DeleteLabelValues(backend, "ok")
	terminations.DeleteLabelValues(backend, "error")
	backendExits.DeleteLabelValues(backend)
}

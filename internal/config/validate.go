package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/docker/go-connections/nat"

	"github.com/Paintersrp/tether/internal/resources"
	"github.com/Paintersrp/tether/internal/runtime"
)

var validLevels = map[string]struct{}{
	"debug":   {},
	"info":    {},
	"warn":    {},
	"warning": {},
	"error":   {},
}

// Validate checks semantic constraints the schema cannot express.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: missing document")
	}
	if err := c.Backend.validate(); err != nil {
		return err
	}

	if _, ok := validLevels[strings.ToLower(c.Logging.Level)]; !ok {
		return fmt.Errorf("logging.level: unsupported level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format: unsupported format %q", c.Logging.Format)
	}
	switch c.Logging.Output {
	case "stdout", "stderr":
	case "file":
		if strings.TrimSpace(c.Logging.File) == "" {
			return fmt.Errorf("logging.file: required when output is file")
		}
	default:
		return fmt.Errorf("logging.output: unsupported output %q", c.Logging.Output)
	}

	if c.Journal.Enabled && strings.TrimSpace(c.Journal.Path) == "" {
		return fmt.Errorf("journal.path: required when the journal is enabled")
	}
	if c.Journal.Retention.Duration < 0 {
		return fmt.Errorf("journal.retention: must not be negative")
	}

	if m := c.Notify.MQTT; m != nil {
		if strings.TrimSpace(m.Broker) == "" {
			return fmt.Errorf("notify.mqtt.broker: must not be empty")
		}
		if m.QoS < 0 || m.QoS > 2 {
			return fmt.Errorf("notify.mqtt.qos: must be 0, 1 or 2")
		}
		if m.ConnectTimeout.Duration < 0 {
			return fmt.Errorf("notify.mqtt.connectTimeout: must be positive")
		}
	}

	if addr := strings.TrimSpace(c.API.Addr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("api.addr: invalid address %q: %w", addr, err)
		}
	}
	return nil
}

func (b BackendSpec) validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("backend.name: must not be empty")
	}
	switch b.Runtime {
	case RuntimeProcess:
		if strings.TrimSpace(b.Path) == "" {
			return fmt.Errorf("backend.path: required for the process runtime")
		}
		if len(b.Ports) > 0 {
			return fmt.Errorf("backend.ports: only supported by the docker runtime")
		}
		if b.CPUs != "" {
			return fmt.Errorf("backend.cpus: resource limits are only supported by the docker runtime")
		}
		if b.Memory != "" {
			return fmt.Errorf("backend.memory: resource limits are only supported by the docker runtime")
		}
	case RuntimeDocker:
		if strings.TrimSpace(b.Image) == "" {
			return fmt.Errorf("backend.image: required for the docker runtime")
		}
		if _, err := resources.ParseCPU(b.CPUs); err != nil {
			return fmt.Errorf("backend.cpus: %w", err)
		}
		if _, err := resources.ParseMemory(b.Memory); err != nil {
			return fmt.Errorf("backend.memory: %w", err)
		}
	default:
		return fmt.Errorf("backend.runtime: unsupported runtime %q", b.Runtime)
	}
	for key := range b.Env {
		if key == "" || strings.ContainsAny(key, "=\x00") {
			return fmt.Errorf("backend.env: invalid variable name %q", key)
		}
	}
	return validatePorts(b.Ports)
}

// validatePorts rejects malformed mappings and host ports claimed twice.
func validatePorts(specs []string) error {
	claimed := map[string]int{}
	for idx, spec := range specs {
		mappings, err := nat.ParsePortSpec(spec)
		if err != nil {
			return fmt.Errorf("backend.ports[%d]: invalid port mapping %q: %w", idx, spec, err)
		}
		for _, mapping := range mappings {
			hostPort := strings.TrimSpace(mapping.Binding.HostPort)
			if hostPort == "" {
				continue
			}
			hostIP := mapping.Binding.HostIP
			if hostIP == "" {
				hostIP = "0.0.0.0"
			}
			key := net.JoinHostPort(hostIP, hostPort) + "/" + mapping.Port.Proto()
			if prev, ok := claimed[key]; ok {
				return fmt.Errorf("backend.ports[%d]: host port %s already claimed by ports[%d]", idx, hostPort, prev)
			}
			claimed[key] = idx
		}
	}
	return nil
}

// Spec converts the backend section into a runtime specification. The path
// is left untouched so callers can resolve it against the install directory
// at start time.
func (b BackendSpec) Spec() runtime.Spec {
	spec := runtime.Spec{
		Name:    b.Name,
		Path:    b.Path,
		Workdir: b.Workdir,
		LogFile: b.LogFile,
		Image:   b.Image,
		CPUs:    b.CPUs,
		Memory:  b.Memory,
	}
	if len(b.Args) > 0 {
		spec.Args = append([]string(nil), b.Args...)
	}
	if len(b.Ports) > 0 {
		spec.Ports = append([]string(nil), b.Ports...)
	}
	if len(b.Env) > 0 {
		spec.Env = make(map[string]string, len(b.Env))
		for k, v := range b.Env {
			spec.Env[k] = v
		}
	}
	return spec
}

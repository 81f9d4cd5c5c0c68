package config

import (
	"fmt"
	"time"
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// Config mirrors the tether.yaml document structure.
type Config struct {
	Version string      `yaml:"version"`
	Backend BackendSpec `yaml:"backend"`
	Logging LoggingSpec `yaml:"logging"`
	Journal JournalSpec `yaml:"journal"`
	Notify  NotifySpec  `yaml:"notify"`
	API     APISpec     `yaml:"api"`

	// Source is the absolute path the configuration was loaded from. It is
	// empty when built-in defaults are in use.
	Source string `yaml:"-"`
	// Dir anchors relative file paths. It is the directory of Source, or the
	// install directory when defaults are in use.
	Dir string `yaml:"-"`
}

// BackendSpec describes the supervised backend.
type BackendSpec struct {
	Name    string `yaml:"name"`
	Runtime string `yaml:"runtime"`
	// Path is relative to the install directory unless absolute. It is
	// resolved when the backend is started rather than at load time.
	Path    string            `yaml:"path"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	EnvFile string            `yaml:"envFile"`
	Workdir string            `yaml:"workdir"`
	LogFile string            `yaml:"logFile"`
	Image   string            `yaml:"image"`
	Ports   []string          `yaml:"ports"`
	CPUs    string            `yaml:"cpus"`
	Memory  string            `yaml:"memory"`
}

// LoggingSpec configures the launcher's own structured logger.
type LoggingSpec struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// JournalSpec configures the lifecycle journal.
type JournalSpec struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	// Retention prunes events older than this when the journal is opened.
	// Zero keeps every event.
	Retention Duration `yaml:"retention"`
}

// NotifySpec configures lifecycle notifications.
type NotifySpec struct {
	MQTT *MQTTSpec `yaml:"mqtt"`
}

// MQTTSpec configures the MQTT lifecycle publisher.
type MQTTSpec struct {
	Broker         string   `yaml:"broker"`
	ClientID       string   `yaml:"clientID"`
	Topic          string   `yaml:"topic"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	QoS            int      `yaml:"qos"`
	ConnectTimeout Duration `yaml:"connectTimeout"`
}

// APISpec configures the local status API.
type APISpec struct {
	Addr string `yaml:"addr"`
}

const (
	RuntimeProcess = "process"
	RuntimeDocker  = "docker"

	DefaultBackendName    = "backend"
	DefaultBackendPath    = "bin/app"
	DefaultJournalPath    = "data/journal.db"
	DefaultMQTTTopic      = "tether/backend"
	DefaultConnectTimeout = 5 * time.Second
)

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{Version: "1"}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields with their default values.
func (c *Config) ApplyDefaults() {
	if c.Version == "" {
		c.Version = "1"
	}
	if c.Backend.Name == "" {
		c.Backend.Name = DefaultBackendName
	}
	if c.Backend.Runtime == "" {
		c.Backend.Runtime = RuntimeProcess
	}
	if c.Backend.Runtime == RuntimeProcess && c.Backend.Path == "" {
		c.Backend.Path = DefaultBackendPath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stderr"
	}
	if c.Journal.Path == "" {
		c.Journal.Path = DefaultJournalPath
	}
	if m := c.Notify.MQTT; m != nil {
		if m.Topic == "" {
			m.Topic = DefaultMQTTTopic
		}
		if m.ClientID == "" {
			m.ClientID = "tether-" + c.Backend.Name
		}
		if !m.ConnectTimeout.IsSet() {
			m.ConnectTimeout.Duration = DefaultConnectTimeout
		}
	}
}

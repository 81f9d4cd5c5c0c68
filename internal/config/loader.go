package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is the configuration file looked up in the install
// directory when no explicit path is given.
const DefaultFileName = "tether.yaml"

// Environment overrides applied after the file is decoded.
const (
	EnvConfigPath  = "TETHER_CONFIG"
	EnvLogLevel    = "TETHER_LOG_LEVEL"
	EnvBackendPath = "TETHER_BACKEND"
)

// Load reads a configuration file from the provided path.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", absPath, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := validateAgainstSchema(raw); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var doc Config
	if err := decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: decode: %w", absPath, err)
	}
	doc.Source = absPath
	doc.Dir = filepath.Dir(absPath)

	if err := doc.finalize(); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return &doc, nil
}

// LoadOrDefault loads path when it exists and falls back to Default
// anchored at fallbackDir otherwise. An explicitly requested file that does
// not exist is still an error.
func LoadOrDefault(path, fallbackDir string, explicit bool) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if explicit || !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	cfg = &Config{Dir: fallbackDir}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) finalize() error {
	if value := os.Getenv(EnvLogLevel); value != "" {
		c.Logging.Level = value
	}
	if value := os.Getenv(EnvBackendPath); value != "" {
		c.Backend.Path = value
	}

	c.ApplyDefaults()

	c.Backend.Workdir = c.resolve(os.ExpandEnv(c.Backend.Workdir))
	c.Backend.LogFile = c.resolve(os.ExpandEnv(c.Backend.LogFile))
	c.Logging.File = c.resolve(os.ExpandEnv(c.Logging.File))
	c.Journal.Path = c.resolve(os.ExpandEnv(c.Journal.Path))

	var fileEnv map[string]string
	if c.Backend.EnvFile != "" {
		c.Backend.EnvFile = c.resolve(os.ExpandEnv(c.Backend.EnvFile))
		values, err := godotenv.Read(c.Backend.EnvFile)
		if err != nil {
			return fmt.Errorf("backend.envFile: load env file %q: %w", c.Backend.EnvFile, err)
		}
		fileEnv = values
	}
	c.Backend.Env = mergeEnv(fileEnv, c.Backend.Env)

	return c.Validate()
}

// mergeEnv layers inline values over file values, expanding references to
// the launcher's own environment.
func mergeEnv(fileEnv, inline map[string]string) map[string]string {
	if len(fileEnv) == 0 && len(inline) == 0 {
		return nil
	}
	merged := make(map[string]string, len(fileEnv)+len(inline))
	for k, v := range fileEnv {
		merged[k] = v
	}
	for k, v := range inline {
		merged[k] = os.ExpandEnv(v)
	}
	return merged
}

func (c *Config) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.Dir == "" {
		return path
	}
	return filepath.Clean(filepath.Join(c.Dir, path))
}

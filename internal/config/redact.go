package config

import "regexp"

// RedactedValue replaces secret values in rendered configuration.
const RedactedValue = "[redacted]"

var secretKeyPattern = regexp.MustCompile(`(?i)(PASSWORD|PASSWD|SECRET|TOKEN|API_?KEY|ACCESS_KEY|PRIVATE_KEY|CREDENTIALS?)`)

// IsSecretKey reports whether an environment variable name looks like it
// carries a credential.
func IsSecretKey(key string) bool {
	return secretKeyPattern.MatchString(key)
}

// Redacted returns a copy of the configuration with credentials masked so it
// can be printed.
func (c *Config) Redacted() *Config {
	if c == nil {
		return nil
	}
	dup := *c
	if c.Backend.Args != nil {
		dup.Backend.Args = append([]string(nil), c.Backend.Args...)
	}
	if c.Backend.Ports != nil {
		dup.Backend.Ports = append([]string(nil), c.Backend.Ports...)
	}
	if c.Backend.Env != nil {
		dup.Backend.Env = make(map[string]string, len(c.Backend.Env))
		for k, v := range c.Backend.Env {
			if IsSecretKey(k) && v != "" {
				v = RedactedValue
			}
			dup.Backend.Env[k] = v
		}
	}
	if c.Notify.MQTT != nil {
		mqtt := *c.Notify.MQTT
		if mqtt.Password != "" {
			mqtt.Password = RedactedValue
		}
		dup.Notify.MQTT = &mqtt
	}
	return &dup
}

package config

import "testing"

func TestRedactedMasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.Backend.Env = map[string]string{
		"DB_PASSWORD": "hunter2",
		"api_key":     "abc",
		"MODE":        "prod",
		"EMPTY_TOKEN": "",
	}
	cfg.Notify.MQTT = &MQTTSpec{Broker: "tcp://localhost:1883", Password: "s3cr3t"}

	red := cfg.Redacted()
	if red.Backend.Env["DB_PASSWORD"] != RedactedValue || red.Backend.Env["api_key"] != RedactedValue {
		t.Fatalf("expected secrets to be masked, got %v", red.Backend.Env)
	}
	if red.Backend.Env["MODE"] != "prod" {
		t.Fatalf("non-secret value should be kept, got %q", red.Backend.Env["MODE"])
	}
	if red.Backend.Env["EMPTY_TOKEN"] != "" {
		t.Fatalf("empty secret should stay empty")
	}
	if red.Notify.MQTT.Password != RedactedValue {
		t.Fatalf("expected mqtt password to be masked")
	}

	if cfg.Backend.Env["DB_PASSWORD"] != "hunter2" || cfg.Notify.MQTT.Password != "s3cr3t" {
		t.Fatalf("redaction must not modify the original")
	}
}

func TestIsSecretKey(t *testing.T) {
	for _, key := range []string{"PASSWORD", "GITHUB_TOKEN", "client_secret", "AWS_ACCESS_KEY_ID"} {
		if !IsSecretKey(key) {
			t.Fatalf("expected %q to be secret", key)
		}
	}
	for _, key := range []string{"PORT", "MODE", "LOG_LEVEL"} {
		if IsSecretKey(key) {
			t.Fatalf("expected %q not to be secret", key)
		}
	}
}

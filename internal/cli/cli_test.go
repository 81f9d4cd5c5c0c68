package cli

import (
	"bytes"
	stdcontext "context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Paintersrp/tether/internal/config"
	"github.com/Paintersrp/tether/internal/journal"
	"github.com/Paintersrp/tether/internal/locator"
	"github.com/Paintersrp/tether/internal/logging"
	"github.com/Paintersrp/tether/internal/supervisor"
)

// newTestRoot returns a root command whose install directory is dir.
func newTestRoot(t *testing.T, dir string) (*bytes.Buffer, *bytes.Buffer, func(args ...string) error) {
	t.Helper()
	t.Setenv(config.EnvConfigPath, "")
	root, ctx := newRootCommand()
	ctx.locator = locator.New(locator.WithExecutable(func() (string, error) {
		return filepath.Join(dir, "tether"), nil
	}))
	outBuf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	root.SetOut(outBuf)
	root.SetErr(errBuf)
	return outBuf, errBuf, func(args ...string) error {
		root.SetArgs(args)
		return root.ExecuteContext(stdcontext.Background())
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestConfigLintSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.DefaultFileName)
	writeFile(t, path, "backend:\n  name: api\n  path: bin/app\n")

	stdout, stderr, run := newTestRoot(t, dir)
	if err := run("config", "lint"); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if want := path + ": OK\n"; stdout.String() != want {
		t.Fatalf("unexpected stdout: got %q want %q", stdout.String(), want)
	}
	if stderr.Len() != 0 {
		t.Fatalf("unexpected stderr output: %q", stderr.String())
	}
}

func TestConfigLintSchemaViolation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	writeFile(t, path, "backend:\n  runtime: podman\n")

	stdout, stderr, run := newTestRoot(t, dir)
	if err := run("config", "lint", "--config", path); err == nil {
		t.Fatalf("expected error, got nil")
	}
	if stdout.Len() != 0 {
		t.Fatalf("expected empty stdout, got %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "schema validation failed") {
		t.Fatalf("stderr does not mention schema failure: %q", stderr.String())
	}
	if !strings.Contains(stderr.String(), "backend.runtime") {
		t.Fatalf("stderr does not mention the field path: %q", stderr.String())
	}
}

func TestConfigLintMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, stderr, run := newTestRoot(t, dir)
	if err := run("config", "lint"); err == nil {
		t.Fatalf("expected error for missing config")
	}
	if !strings.Contains(stderr.String(), config.DefaultFileName) {
		t.Fatalf("stderr does not mention config path: %q", stderr.String())
	}
}

func TestConfigShowMasksSecrets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, config.DefaultFileName), "backend:\n  name: api\n  env:\n    DB_PASSWORD: hunter2\n    MODE: prod\n")

	stdout, _, run := newTestRoot(t, dir)
	if err := run("config", "show"); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	out := stdout.String()
	if strings.Contains(out, "hunter2") {
		t.Fatalf("password leaked in output: %s", out)
	}
	if !strings.Contains(out, config.RedactedValue) || !strings.Contains(out, "MODE: prod") {
		t.Fatalf("unexpected output: %s", out)
	}
	if !strings.Contains(out, "name: api") {
		t.Fatalf("expected backend name in output: %s", out)
	}
}

func TestConfigPathFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "elsewhere.yaml")
	writeFile(t, path, "backend:\n  path: bin/app\n")

	stdout, _, run := newTestRoot(t, t.TempDir())
	t.Setenv(config.EnvConfigPath, path)
	if err := run("config", "lint"); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !strings.HasPrefix(stdout.String(), path) {
		t.Fatalf("expected env config to be linted, got %q", stdout.String())
	}
}

func TestLocateWithDefaults(t *testing.T) {
	dir := t.TempDir()
	stdout, _, run := newTestRoot(t, dir)
	if err := run("locate"); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	out := stdout.String()
	if !strings.Contains(out, filepath.Join(dir, "bin", "app")) {
		t.Fatalf("expected resolved backend path, got %q", out)
	}
	if !strings.Contains(out, "using defaults") {
		t.Fatalf("expected default config note, got %q", out)
	}
}

func TestResolveHostMode(t *testing.T) {
	tests := []struct {
		mode        string
		interactive bool
		want        string
		wantErr     bool
	}{
		{mode: "auto", interactive: true, want: hostTUI},
		{mode: "auto", interactive: false, want: hostHeadless},
		{mode: "", interactive: false, want: hostHeadless},
		{mode: "headless", interactive: true, want: hostHeadless},
		{mode: "TUI", interactive: true, want: hostTUI},
		{mode: "tui", interactive: false, wantErr: true},
		{mode: "window", interactive: true, wantErr: true},
	}
	for _, tt := range tests {
		got, err := resolveHostMode(tt.mode, tt.interactive)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("resolveHostMode(%q, %v) expected error", tt.mode, tt.interactive)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("resolveHostMode(%q, %v) = %q, %v; want %q", tt.mode, tt.interactive, got, err, tt.want)
		}
	}
}

func TestHostLoggingRedirectsTUIOutput(t *testing.T) {
	cfg := config.Default()
	cfg.Dir = "/opt/app"

	if spec := hostLogging(cfg, hostHeadless); spec.Output != "stderr" {
		t.Fatalf("headless host should keep stderr, got %q", spec.Output)
	}
	spec := hostLogging(cfg, hostTUI)
	if spec.Output != "file" || spec.File != filepath.Join("/opt/app", "logs", "tether.log") {
		t.Fatalf("unexpected tui logging: %+v", spec)
	}
}

func TestHistoryJSON(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "data", "journal.db")
	j, err := journal.Open(stdcontext.Background(), dbPath)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	for _, evt := range []supervisor.Event{
		{Type: supervisor.EventSpawned, Backend: "backend", State: supervisor.Running, PID: 10, Timestamp: time.Now()},
		{Type: supervisor.EventStopped, Backend: "backend", State: supervisor.Stopped, PID: 10, Timestamp: time.Now()},
	} {
		if err := j.Record(stdcontext.Background(), evt); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	j.Close()

	stdout, _, run := newTestRoot(t, dir)
	if err := run("history", "--json", "--limit", "1"); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	var entries []journal.Entry
	if err := json.Unmarshal(stdout.Bytes(), &entries); err != nil {
		t.Fatalf("decode output: %v\n%s", err, stdout.String())
	}
	if len(entries) != 1 || entries[0].Type != string(supervisor.EventStopped) {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestHistoryWithoutJournal(t *testing.T) {
	_, _, run := newTestRoot(t, t.TempDir())
	err := run("history")
	if err == nil || !strings.Contains(err.Error(), "journal") {
		t.Fatalf("expected missing journal error, got %v", err)
	}
}

func TestOpenJournalAppliesRetention(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data", "journal.db")
	seed, err := journal.Open(stdcontext.Background(), dbPath)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	now := time.Now()
	for _, evt := range []supervisor.Event{
		{Type: supervisor.EventSpawned, Backend: "backend", State: supervisor.Running, Timestamp: now.Add(-48 * time.Hour)},
		{Type: supervisor.EventStopped, Backend: "backend", State: supervisor.Stopped, Timestamp: now},
	} {
		if err := seed.Record(stdcontext.Background(), evt); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	seed.Close()

	var logs bytes.Buffer
	logger := logging.NewWriter(&logs, config.LoggingSpec{Level: "debug", Format: "text"}, "test")
	spec := config.JournalSpec{Enabled: true, Path: dbPath}
	spec.Retention.Duration = 24 * time.Hour

	j := openJournal(stdcontext.Background(), spec, logger)
	if j == nil {
		t.Fatalf("expected journal to open, logs:\n%s", logs.String())
	}
	defer j.Close()

	entries, err := j.Recent(stdcontext.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != string(supervisor.EventStopped) {
		t.Fatalf("expected only the recent event to survive, got %+v", entries)
	}
	if !strings.Contains(logs.String(), "journal pruned") {
		t.Fatalf("expected prune to be logged, got:\n%s", logs.String())
	}
}

func TestOpenJournalFailureIsNotFatal(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	writeFile(t, blocker, "not a directory")

	var logs bytes.Buffer
	logger := logging.NewWriter(&logs, config.LoggingSpec{Level: "info", Format: "text"}, "test")
	if j := openJournal(stdcontext.Background(), config.JournalSpec{Enabled: true, Path: filepath.Join(blocker, "journal.db")}, logger); j != nil {
		j.Close()
		t.Fatalf("expected nil journal for an unusable path")
	}
	if !strings.Contains(logs.String(), "journal unavailable") {
		t.Fatalf("expected warning, got:\n%s", logs.String())
	}
}

package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/Paintersrp/tether/internal/runtime"
)

const logFilePerm = 0o644

type spawner struct{}

// New constructs a spawner that executes the backend as a local process.
func New() runtime.Spawner {
	return &spawner{}
}

func init() {
	runtime.Register("process", New)
}

func (s *spawner) Spawn(ctx context.Context, spec runtime.Spec) (runtime.Handle, error) {
	if spec.Path == "" {
		return nil, errors.New("process runtime requires a backend path")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The backend must outlive the call that created it, so the context only
	// gates the spawn and is not bound to the command.
	cmd := exec.Command(spec.Path, spec.Args...) //nolint:gosec // path comes from the install directory
	cmd.Dir = spec.Workdir
	if cmd.Dir == "" {
		cmd.Dir = filepath.Dir(spec.Path)
	}
	cmd.Env = mergeEnv(os.Environ(), spec.Env)

	var logFile *os.File
	if spec.LogFile != "" {
		f, err := openLogFile(spec.LogFile)
		if err != nil {
			return nil, fmt.Errorf("backend %s log file: %w", spec.Name, err)
		}
		logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	}

	configureCmdSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return nil, fmt.Errorf("start backend %s: %w", spec.Name, err)
	}

	inst := &processInstance{
		name:    spec.Name,
		cmd:     cmd,
		logFile: logFile,
		done:    make(chan struct{}),
	}
	go inst.reap()

	return inst, nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePerm)
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(base)+len(keys))
	env = append(env, base...)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, overrides[k]))
	}
	return env
}

type processInstance struct {
	name    string
	cmd     *exec.Cmd
	logFile *os.File

	done    chan struct{}
	mu      sync.Mutex
	waitErr error
}

func (p *processInstance) ID() string {
	return strconv.Itoa(p.PID())
}

func (p *processInstance) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *processInstance) Done() <-chan struct{} {
	return p.done
}

// ExitErr returns the result of waiting on the process. It is only meaningful
// once Done is closed.
func (p *processInstance) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// reap collects the exit status so a killed backend does not linger as a
// zombie for the lifetime of the host.
func (p *processInstance) reap() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.waitErr = err
	p.mu.Unlock()
	if p.logFile != nil {
		_ = p.logFile.Close()
	}
	close(p.done)
}

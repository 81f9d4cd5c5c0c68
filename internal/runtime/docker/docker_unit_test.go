package docker

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/Paintersrp/tether/internal/runtime"
)

type fakeClient struct {
	mu sync.Mutex

	imagePresent bool
	pulled       []string
	created      *container.Config
	hostCfg      *container.HostConfig
	startErr     error
	killErr      error
	kills        []string
	removed      []string

	statusCh chan container.WaitResponse
	errCh    chan error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		imagePresent: true,
		statusCh:     make(chan container.WaitResponse, 1),
		errCh:        make(chan error, 1),
	}
}

func (f *fakeClient) ImageInspectWithRaw(ctx context.Context, image string) (types.ImageInspect, []byte, error) {
	if f.imagePresent {
		return types.ImageInspect{ID: image}, nil, nil
	}
	return types.ImageInspect{}, nil, errdefs.NotFound(errors.New("no such image"))
}

func (f *fakeClient) ImagePull(ctx context.Context, ref string, options types.ImagePullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	f.pulled = append(f.pulled, ref)
	f.mu.Unlock()
	return io.NopCloser(strings.NewReader("{}")), nil
}

func (f *fakeClient) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = config
	f.hostCfg = hostConfig
	return container.CreateResponse{ID: "0123456789abcdef0123"}, nil
}

func (f *fakeClient) ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error {
	return f.startErr
}

func (f *fakeClient) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	return f.statusCh, f.errCh
}

func (f *fakeClient) ContainerKill(ctx context.Context, containerID, signal string) error {
	f.mu.Lock()
	f.kills = append(f.kills, signal)
	f.mu.Unlock()
	return f.killErr
}

func (f *fakeClient) ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error {
	f.mu.Lock()
	f.removed = append(f.removed, containerID)
	f.mu.Unlock()
	return nil
}

func newTestSpawner(cli *fakeClient) *spawner {
	sp := &spawner{client: cli}
	return sp
}

func TestSpawnStartsContainerAndKills(t *testing.T) {
	cli := newFakeClient()
	sp := newTestSpawner(cli)

	h, err := sp.Spawn(context.Background(), runtime.Spec{Name: "cube-api", Image: "example/cube-api:latest"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if h.ID() != "0123456789ab" {
		t.Fatalf("unexpected short id %q", h.ID())
	}
	if h.PID() != 0 {
		t.Fatalf("expected pid 0 for containers, got %d", h.PID())
	}
	if err := h.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if len(cli.kills) != 1 || cli.kills[0] != "SIGKILL" {
		t.Fatalf("expected one SIGKILL, got %v", cli.kills)
	}

	cli.statusCh <- container.WaitResponse{StatusCode: 137}
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatalf("done channel not closed after container exit")
	}
}

func TestSpawnPullsMissingImage(t *testing.T) {
	cli := newFakeClient()
	cli.imagePresent = false

	if _, err := newTestSpawner(cli).Spawn(context.Background(), runtime.Spec{Name: "api", Image: "example/api:1"}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if len(cli.pulled) != 1 || cli.pulled[0] != "example/api:1" {
		t.Fatalf("expected image pull, got %v", cli.pulled)
	}
}

func TestSpawnStartFailureRemovesContainer(t *testing.T) {
	cli := newFakeClient()
	cli.startErr = errors.New("port is already allocated")

	_, err := newTestSpawner(cli).Spawn(context.Background(), runtime.Spec{Name: "api", Image: "example/api:1"})
	if err == nil || !strings.Contains(err.Error(), "container start") {
		t.Fatalf("expected container start error, got %v", err)
	}
	if len(cli.removed) != 1 {
		t.Fatalf("expected created container to be removed, got %v", cli.removed)
	}
}

func TestSpawnRequiresImage(t *testing.T) {
	if _, err := newTestSpawner(newFakeClient()).Spawn(context.Background(), runtime.Spec{Name: "api"}); err == nil {
		t.Fatalf("expected error without image")
	}
}

func TestKillToleratesMissingContainer(t *testing.T) {
	cli := newFakeClient()
	cli.killErr = errdefs.NotFound(errors.New("no such container"))
	inst := &dockerInstance{cli: cli, name: "api", containerID: "abc", done: make(chan struct{})}

	if err := inst.Kill(); err != nil {
		t.Fatalf("expected not-found to be treated as success, got %v", err)
	}

	cli.killErr = errdefs.Conflict(errors.New("container is not running"))
	if err := inst.Kill(); err != nil {
		t.Fatalf("expected not-running to be treated as success, got %v", err)
	}

	cli.killErr = errors.New("daemon unavailable")
	if err := inst.Kill(); err == nil {
		t.Fatalf("expected error to surface")
	}
}

func TestBuildConfigsPortsAndLabels(t *testing.T) {
	spec := runtime.Spec{
		Name:  "cube-api",
		Image: "example/cube-api",
		Args:  []string{"--port", "8000"},
		Env:   map[string]string{"B": "2", "A": "1"},
		Ports: []string{"127.0.0.1:8000:8000"},
	}
	cfg, hostCfg, err := buildConfigs(spec)
	if err != nil {
		t.Fatalf("buildConfigs returned error: %v", err)
	}
	if strings.Join(cfg.Env, ",") != "A=1,B=2" {
		t.Fatalf("unexpected env: %v", cfg.Env)
	}
	if cfg.Labels[backendLabel] != "cube-api" {
		t.Fatalf("missing backend label: %v", cfg.Labels)
	}
	if !hostCfg.AutoRemove {
		t.Fatalf("expected AutoRemove to be set")
	}
	port := nat.Port("8000/tcp")
	if _, ok := cfg.ExposedPorts[port]; !ok {
		t.Fatalf("expected exposed port %s, got %v", port, cfg.ExposedPorts)
	}
	binding := hostCfg.PortBindings[port]
	if len(binding) != 1 || binding[0].HostIP != "127.0.0.1" || binding[0].HostPort != "8000" {
		t.Fatalf("unexpected port binding: %v", binding)
	}
	if len(cfg.Cmd) != 2 || cfg.Cmd[0] != "--port" {
		t.Fatalf("unexpected cmd: %v", cfg.Cmd)
	}
}

func TestBuildConfigsPortParseError(t *testing.T) {
	_, _, err := buildConfigs(runtime.Spec{Image: "example", Ports: []string{"not-a-port"}})
	if err == nil || !strings.Contains(err.Error(), "parse port") {
		t.Fatalf("expected parse port error, got %v", err)
	}
}

func TestBuildConfigsResourceLimits(t *testing.T) {
	_, hostCfg, err := buildConfigs(runtime.Spec{Image: "example", CPUs: "500m", Memory: "256Mi"})
	if err != nil {
		t.Fatalf("buildConfigs returned error: %v", err)
	}
	if hostCfg.NanoCPUs != 500_000_000 {
		t.Fatalf("unexpected nano cpus: %d", hostCfg.NanoCPUs)
	}
	if hostCfg.Memory != 256<<20 {
		t.Fatalf("unexpected memory limit: %d", hostCfg.Memory)
	}

	if _, _, err := buildConfigs(runtime.Spec{Image: "example", CPUs: "-2"}); err == nil {
		t.Fatalf("expected cpu parse error")
	}
}

func TestExitErrReportsStatus(t *testing.T) {
	cli := newFakeClient()
	h, err := newTestSpawner(cli).Spawn(context.Background(), runtime.Spec{Name: "api", Image: "example/api:1"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	cli.statusCh <- container.WaitResponse{StatusCode: 3}
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatalf("done channel not closed after container exit")
	}

	reporter, ok := h.(runtime.ExitReporter)
	if !ok {
		t.Fatalf("docker handle should report exit status")
	}
	if err := reporter.ExitErr(); err == nil || !strings.Contains(err.Error(), "status 3") {
		t.Fatalf("expected exit status error, got %v", err)
	}

	clean := &dockerInstance{done: make(chan struct{})}
	if err := clean.ExitErr(); err != nil {
		t.Fatalf("expected nil for clean exit, got %v", err)
	}
}

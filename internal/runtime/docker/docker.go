package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/Paintersrp/tether/internal/resources"
	"github.com/Paintersrp/tether/internal/runtime"
)

const (
	backendLabel = "io.tether.backend"
	killTimeout  = 5 * time.Second
	shortIDLen   = 12
)

// apiClient is the subset of the Docker client used by the spawner.
type apiClient interface {
	ImageInspectWithRaw(ctx context.Context, image string) (types.ImageInspect, []byte, error)
	ImagePull(ctx context.Context, ref string, options types.ImagePullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
}

type spawner struct {
	client     apiClient
	clientOnce sync.Once
	clientErr  error
}

// New returns a spawner that runs the backend as a Docker container.
func New() runtime.Spawner {
	return &spawner{}
}

func init() {
	runtime.Register("docker", New)
}

func (s *spawner) getClient() (apiClient, error) {
	s.clientOnce.Do(func() {
		if s.client != nil {
			return
		}
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			s.clientErr = err
			return
		}
		s.client = cli
	})
	return s.client, s.clientErr
}

func (s *spawner) Spawn(ctx context.Context, spec runtime.Spec) (runtime.Handle, error) {
	if spec.Image == "" {
		return nil, errors.New("docker runtime requires a backend image")
	}

	cli, err := s.getClient()
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	if err := ensureImage(ctx, cli, spec.Image); err != nil {
		return nil, err
	}

	containerCfg, hostCfg, err := buildConfigs(spec)
	if err != nil {
		return nil, err
	}

	createResp, err := cli.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return nil, fmt.Errorf("container create: %w", err)
	}
	containerID := createResp.ID

	inst := &dockerInstance{
		cli:         cli,
		name:        spec.Name,
		containerID: containerID,
		done:        make(chan struct{}),
	}

	// Register the waiter before starting so a backend that exits immediately
	// is still observed.
	waitCtx, waitCancel := context.WithCancel(context.Background())
	statusCh, errCh := cli.ContainerWait(waitCtx, containerID, container.WaitConditionNextExit)

	if err := cli.ContainerStart(ctx, containerID, types.ContainerStartOptions{}); err != nil {
		waitCancel()
		rmCtx, cancel := context.WithTimeout(context.Background(), killTimeout)
		defer cancel()
		_ = cli.ContainerRemove(rmCtx, containerID, types.ContainerRemoveOptions{Force: true})
		return nil, fmt.Errorf("container start: %w", err)
	}

	go inst.wait(statusCh, errCh, waitCancel)

	return inst, nil
}

type dockerInstance struct {
	cli         apiClient
	name        string
	containerID string

	done     chan struct{}
	mu       sync.Mutex
	exitCode int64
	waitErr  error
}

func (i *dockerInstance) ID() string {
	if len(i.containerID) > shortIDLen {
		return i.containerID[:shortIDLen]
	}
	return i.containerID
}

func (i *dockerInstance) PID() int {
	return 0
}

func (i *dockerInstance) Done() <-chan struct{} {
	return i.done
}

func (i *dockerInstance) Kill() error {
	ctx, cancel := context.WithTimeout(context.Background(), killTimeout)
	defer cancel()
	if err := i.cli.ContainerKill(ctx, i.containerID, "SIGKILL"); err != nil {
		if client.IsErrNotFound(err) || isNotRunning(err) {
			return nil
		}
		return fmt.Errorf("kill container %s: %w", i.name, err)
	}
	return nil
}

// ExitErr reports a non-zero exit status or a failed wait. It is only
// meaningful once Done is closed.
func (i *dockerInstance) ExitErr() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	switch {
	case i.waitErr != nil && i.exitCode != 0:
		return fmt.Errorf("container exited with status %d: %w", i.exitCode, i.waitErr)
	case i.waitErr != nil:
		return i.waitErr
	case i.exitCode != 0:
		return fmt.Errorf("container exited with status %d", i.exitCode)
	}
	return nil
}

func (i *dockerInstance) wait(statusCh <-chan container.WaitResponse, errCh <-chan error, cancel context.CancelFunc) {
	defer cancel()
	defer close(i.done)
	select {
	case resp := <-statusCh:
		i.mu.Lock()
		i.exitCode = resp.StatusCode
		if resp.Error != nil && resp.Error.Message != "" {
			i.waitErr = errors.New(resp.Error.Message)
		}
		i.mu.Unlock()
	case err := <-errCh:
		// AutoRemove deletes the container on exit, which the daemon may
		// report as not found rather than as an exit status.
		if err != nil && !client.IsErrNotFound(err) {
			i.mu.Lock()
			i.waitErr = err
			i.mu.Unlock()
		}
	}
}

func isNotRunning(err error) bool {
	if err == nil {
		return false
	}
	var conflict interface{ Conflict() }
	return errors.As(err, &conflict)
}

func ensureImage(ctx context.Context, cli apiClient, imageName string) error {
	_, _, err := cli.ImageInspectWithRaw(ctx, imageName)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("inspect image: %w", err)
	}
	reader, err := cli.ImagePull(ctx, imageName, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("pull image: %w", err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

func buildConfigs(spec runtime.Spec) (*container.Config, *container.HostConfig, error) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(env)

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, portSpec := range spec.Ports {
		mappings, err := nat.ParsePortSpec(portSpec)
		if err != nil {
			return nil, nil, fmt.Errorf("parse port %q: %w", portSpec, err)
		}
		for _, mapping := range mappings {
			exposed[mapping.Port] = struct{}{}
			bindings[mapping.Port] = append(bindings[mapping.Port], mapping.Binding)
		}
	}

	var cmd strslice.StrSlice
	if len(spec.Args) > 0 {
		cmd = strslice.StrSlice(append([]string(nil), spec.Args...))
	}

	config := &container.Config{
		Image:        spec.Image,
		Env:          env,
		Cmd:          cmd,
		ExposedPorts: exposed,
		Labels:       map[string]string{backendLabel: spec.Name},
	}
	if spec.Workdir != "" {
		config.WorkingDir = spec.Workdir
	}
	limits, err := resources.Parse(spec.CPUs, spec.Memory)
	if err != nil {
		return nil, nil, err
	}
	host := &container.HostConfig{
		AutoRemove:   true,
		PortBindings: bindings,
		Resources: container.Resources{
			NanoCPUs: limits.NanoCPUs,
			Memory:   limits.Memory,
		},
	}
	return config, host, nil
}

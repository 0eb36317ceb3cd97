package runtime

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/matgreaves/run/onexit"
)

// dockerStopTimeout is the grace period (seconds) before the daemon kills a
// stopping container.
const dockerStopTimeout = 10

// Docker runs services as containers with fixed host-port bindings. Ports
// are published 1:1; the descriptor's declared port on the host maps to the
// same port inside the container.
type Docker struct{}

// ContainerName returns the container name for a managed service.
func ContainerName(serviceName string) string {
	return "warden-" + serviceName
}

func (Docker) Start(ctx context.Context, spec StartSpec) (Handle, error) {
	if spec.Image == "" {
		return nil, errors.New("docker runtime: empty image")
	}

	cli, err := dockerClient()
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("cannot connect to Docker daemon (is Docker running?): %w", err)
	}

	name := ContainerName(spec.Name)

	// A previous supervisor run may have left a container with this name
	// behind. Remove it so create cannot collide.
	_ = cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})

	exposed := make(nat.PortSet, len(spec.Ports))
	bindings := make(nat.PortMap, len(spec.Ports))
	for _, p := range spec.Ports {
		port := nat.Port(fmt.Sprintf("%d/tcp", p))
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{
			HostIP:   "127.0.0.1",
			HostPort: strconv.Itoa(p),
		}}
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	config := &container.Config{
		Image:        spec.Image,
		Env:          env,
		ExposedPorts: exposed,
	}
	if len(spec.Command) > 0 {
		config.Cmd = spec.Command
	}
	hostConfig := &container.HostConfig{
		PortBindings: bindings,
	}

	resp, err := cli.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	containerID := resp.ID

	// Backup cleanup in case the supervisor dies without a graceful stop
	// (SIGKILL, OOM). Cancelled when Stop removes the container itself.
	cancelOnexit, _ := onexit.OnExitF("docker rm -f %s", containerID)

	if err := cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
		if cancelOnexit != nil {
			cancelOnexit()
		}
		return nil, fmt.Errorf("start container: %w", err)
	}

	h := &dockerHandle{
		cli:          cli,
		containerID:  containerID,
		done:         make(chan struct{}),
		cancelOnexit: cancelOnexit,
	}

	// The handle outlives the start context.
	waitCtx, cancelWait := context.WithCancel(context.WithoutCancel(ctx))
	h.cancelWait = cancelWait

	// Stream container logs to the service writers.
	if spec.Stdout != nil || spec.Stderr != nil {
		if logReader, err := cli.ContainerLogs(waitCtx, containerID, container.LogsOptions{
			ShowStdout: true,
			ShowStderr: true,
			Follow:     true,
		}); err == nil {
			go func() {
				stdcopy.StdCopy(spec.Stdout, spec.Stderr, logReader)
				logReader.Close()
			}()
		}
	}

	waitCh, errCh := cli.ContainerWait(waitCtx, containerID, container.WaitConditionNotRunning)
	go func() {
		var exitErr error
		select {
		case result := <-waitCh:
			if result.StatusCode != 0 {
				exitErr = fmt.Errorf("container exited with code %d", result.StatusCode)
			}
		case err := <-errCh:
			if waitCtx.Err() == nil {
				exitErr = fmt.Errorf("container wait: %w", err)
			}
		}

		h.mu.Lock()
		if h.stopped {
			exitErr = nil
		}
		h.err = exitErr
		h.mu.Unlock()
		close(h.done)
	}()

	return h, nil
}

type dockerHandle struct {
	cli          *client.Client
	containerID  string
	done         chan struct{}
	cancelWait   context.CancelFunc
	cancelOnexit func() error

	mu      sync.Mutex
	err     error
	stopped bool
}

func (h *dockerHandle) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()

	timeout := dockerStopTimeout
	stopErr := h.cli.ContainerStop(ctx, h.containerID, container.StopOptions{Timeout: &timeout})

	select {
	case <-h.done:
		h.cancelWait()
	case <-ctx.Done():
		h.cancelWait()
		return ctx.Err()
	}

	if err := h.cli.ContainerRemove(ctx, h.containerID, container.RemoveOptions{Force: true}); err != nil {
		return err
	}
	if h.cancelOnexit != nil {
		h.cancelOnexit()
	}
	return stopErr
}

func (h *dockerHandle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *dockerHandle) Done() <-chan struct{} { return h.done }

func (h *dockerHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

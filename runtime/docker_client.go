package runtime

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/docker/docker/client"
)

var (
	sharedClient *client.Client
	clientOnce   sync.Once
	clientErr    error
)

// dockerClient returns a process-wide shared Docker client. The client is
// thread-safe and reuses connections to the daemon; callers must not Close it.
func dockerClient() (*client.Client, error) {
	clientOnce.Do(func() {
		sharedClient, clientErr = newDockerClient()
	})
	return sharedClient, clientErr
}

// newDockerClient creates a Docker client. If DOCKER_HOST is not set, common
// socket paths are probed so Docker Desktop installs work without extra
// configuration.
func newDockerClient() (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}

	if os.Getenv("DOCKER_HOST") == "" {
		if sock := findDockerSocket(); sock != "" {
			opts = append(opts, client.WithHost("unix://"+sock))
		}
	}

	return client.NewClientWithOpts(opts...)
}

// findDockerSocket returns the first existing Docker socket path, or "".
func findDockerSocket() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}

	candidates := []string{
		"/var/run/docker.sock",
	}
	if home != "" {
		candidates = append(candidates,
			filepath.Join(home, ".docker", "run", "docker.sock"),
			filepath.Join(home, ".colima", "default", "docker.sock"),
		)
	}

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

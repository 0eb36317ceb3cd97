// Package runtime starts and stops the actual service processes. The
// supervisor is agnostic about what backs a service: native OS processes and
// Docker containers implement the same Runtime interface, and the watchdog
// only ever talks to the returned Handle.
package runtime

import (
	"context"
	"io"
)

// StartSpec carries everything a runtime needs to launch one service.
type StartSpec struct {
	// Name is the service name, used for labelling and container naming.
	Name string

	// Command is the executable and arguments (process runtime).
	Command []string

	// Dir is the working directory (process runtime). Optional.
	Dir string

	// Env sets additional environment variables.
	Env map[string]string

	// Image is the container image (docker runtime).
	Image string

	// Ports are published host:port → container:port (docker runtime).
	Ports []int

	// Stdout and Stderr receive the service's output. May be nil.
	Stdout, Stderr io.Writer
}

// Handle is an exclusively owned reference to one running service. The
// handle outlives the context passed to Start: only Stop terminates the
// underlying process or container.
type Handle interface {
	// Stop terminates the service, gracefully first, escalating when the
	// grace period elapses. Safe to call more than once.
	Stop(ctx context.Context) error

	// Running reports whether the service is still up.
	Running() bool

	// Done is closed when the service exits for any reason.
	Done() <-chan struct{}

	// Err returns the exit error, valid once Done is closed. A nil Err
	// means a clean exit.
	Err() error
}

// Runtime launches services.
type Runtime interface {
	Start(ctx context.Context, spec StartSpec) (Handle, error)
}

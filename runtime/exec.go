package runtime

import (
	"context"
	"errors"
	"sync"

	"github.com/matgreaves/run"
)

// Exec runs services as native OS processes.
type Exec struct{}

// Start launches the process. The process runs under its own cancel scope,
// detached from ctx: it keeps running after Start returns and only
// Handle.Stop terminates it.
func (Exec) Start(ctx context.Context, spec StartSpec) (Handle, error) {
	if len(spec.Command) == 0 {
		return nil, errors.New("exec runtime: empty command")
	}

	proc := run.Process{
		Name:   spec.Name,
		Path:   spec.Command[0],
		Args:   spec.Command[1:],
		Dir:    spec.Dir,
		Env:    spec.Env,
		Stdout: spec.Stdout,
		Stderr: spec.Stderr,
	}

	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &execHandle{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		err := proc.Run(procCtx)
		h.mu.Lock()
		// Teardown kills the process through ctx cancellation; that is a
		// requested stop, not a service failure.
		if h.stopped && procCtx.Err() != nil {
			err = nil
		}
		h.err = err
		h.mu.Unlock()
		close(h.done)
	}()

	return h, nil
}

type execHandle struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	err     error
	stopped bool
}

func (h *execHandle) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()

	h.cancel()
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *execHandle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *execHandle) Done() <-chan struct{} { return h.done }

func (h *execHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

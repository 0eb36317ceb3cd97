// Package ports frees TCP ports held by stale processes before a service
// launch. Any listener on a declared port is terminated, whether or not this
// supervisor started it. Reclaiming is strictly best-effort: a stuck process
// is logged and skipped, never fatal.
//
// Reclaim must only run in the launch path. During steady-state monitoring
// the watchdog restarts services through their own handles.
package ports

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"syscall"
	"time"
)

// Claim records a discovered listener: which process holds which port.
// Transient: discovered at reclaim time, never persisted.
type Claim struct {
	Port int
	PID  int
	Comm string
}

func (c Claim) String() string {
	return fmt.Sprintf("port %d held by pid %d (%s)", c.Port, c.PID, c.Comm)
}

// Reclaimer finds and terminates processes listening on a set of ports.
type Reclaimer struct {
	// ProcRoot is the procfs mount point. Defaults to /proc.
	ProcRoot string

	// Grace is how long to wait after SIGTERM before SIGKILL. Default 3s.
	Grace time.Duration

	// kill overrides signal delivery in tests.
	kill func(pid int, sig syscall.Signal) error
}

func (r *Reclaimer) procRoot() string {
	if r.ProcRoot != "" {
		return r.ProcRoot
	}
	return "/proc"
}

func (r *Reclaimer) grace() time.Duration {
	if r.Grace > 0 {
		return r.Grace
	}
	return 3 * time.Second
}

func (r *Reclaimer) signal(pid int, sig syscall.Signal) error {
	if r.kill != nil {
		return r.kill(pid, sig)
	}
	return syscall.Kill(pid, sig)
}

// Lookup discovers current listeners on the given ports.
func (r *Reclaimer) Lookup(ports []int) ([]Claim, error) {
	if len(ports) == 0 {
		return nil, nil
	}
	want := make(map[int]bool, len(ports))
	for _, p := range ports {
		want[p] = true
	}

	inodeToPort, err := listeningInodes(r.procRoot(), want)
	if err != nil {
		return nil, err
	}
	if len(inodeToPort) == 0 {
		return nil, nil
	}

	claims := resolveOwners(r.procRoot(), inodeToPort)
	sort.Slice(claims, func(i, j int) bool { return claims[i].Port < claims[j].Port })
	return claims, nil
}

// Reclaim terminates every process listening on the given ports and returns
// the claims it freed. Failures are logged per port and skipped so one stuck
// process cannot block the rest of the launch sequence.
func (r *Reclaimer) Reclaim(ctx context.Context, ports []int) []Claim {
	claims, err := r.Lookup(ports)
	if err != nil {
		slog.Warn("port reclaim: listener scan failed", "err", err)
		return nil
	}

	self := os.Getpid()
	var freed []Claim
	killed := make(map[int]bool) // one process may hold several ports

	for _, claim := range claims {
		if claim.PID == self {
			slog.Warn("port reclaim: refusing to kill own process", "port", claim.Port)
			continue
		}
		if killed[claim.PID] {
			freed = append(freed, claim)
			continue
		}
		slog.Info("port reclaim: terminating stale listener",
			"port", claim.Port, "pid", claim.PID, "comm", claim.Comm)
		if err := r.terminate(ctx, claim.PID); err != nil {
			slog.Warn("port reclaim: failed to terminate",
				"port", claim.Port, "pid", claim.PID, "err", err)
			continue
		}
		killed[claim.PID] = true
		freed = append(freed, claim)
	}
	return freed
}

// terminate sends SIGTERM, waits up to the grace period for the process to
// exit, then escalates to SIGKILL.
func (r *Reclaimer) terminate(ctx context.Context, pid int) error {
	if err := r.signal(pid, syscall.SIGTERM); err != nil {
		if err == syscall.ESRCH {
			return nil // already gone
		}
		return err
	}

	deadline := time.Now().Add(r.grace())
	for time.Now().Before(deadline) {
		if err := r.signal(pid, 0); err == syscall.ESRCH {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}

	if err := r.signal(pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return err
	}
	return nil
}

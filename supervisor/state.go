package supervisor

import (
	"time"

	"warden/probe"
)

// Phase is a service's position in its lifecycle state machine.
type Phase string

const (
	// PhasePending means launch has not begun (waiting on dependencies).
	PhasePending Phase = "pending"
	// PhaseStarting means the process has been spawned and the supervisor
	// is waiting for the first successful health probe.
	PhaseStarting Phase = "starting"
	// PhaseHealthy means the most recent probe succeeded.
	PhaseHealthy Phase = "healthy"
	// PhaseUnhealthy means a probe failed and a restart is pending.
	PhaseUnhealthy Phase = "unhealthy"
	// PhaseRestarting means the watchdog is cycling the process.
	PhaseRestarting Phase = "restarting"
	// PhaseFailed means a restart cycle did not restore health. Once the
	// consecutive-failure budget is exhausted the phase is terminal: probes
	// continue so status stays truthful, but no further restarts happen.
	PhaseFailed Phase = "failed"
	// PhaseSkipped means a dependency never became healthy, so this service
	// was never started.
	PhaseSkipped Phase = "skipped"
	// PhaseStopping and PhaseStopped cover orderly shutdown.
	PhaseStopping Phase = "stopping"
	PhaseStopped  Phase = "stopped"
)

// StateSnapshot is a point-in-time copy of one service's watchdog state.
type StateSnapshot struct {
	Name        string        `json:"name"`
	Phase       Phase         `json:"phase"`
	Since       time.Time     `json:"since"`
	LastProbe   *probe.Result `json:"last_probe,omitempty"`
	Restarts    int           `json:"restarts"`
	Failures    int           `json:"failures"`
	NextRestart time.Time     `json:"next_restart,omitzero"`
	Exhausted   bool          `json:"exhausted,omitempty"`
}

// LaunchOutcome summarises how a single service fared during startup.
type LaunchOutcome string

const (
	// OutcomeStarted means the service reached Healthy within its start
	// timeout.
	OutcomeStarted LaunchOutcome = "started"
	// OutcomeStartFailed means the process could not be spawned or never
	// passed a probe before the start timeout.
	OutcomeStartFailed LaunchOutcome = "start_failed"
	// OutcomeSkipped means a dependency failed, so the service was never
	// attempted.
	OutcomeSkipped LaunchOutcome = "skipped_dependency_failed"
)

// LaunchResult pairs a service with its startup outcome.
type LaunchResult struct {
	Name    string        `json:"name"`
	Outcome LaunchOutcome `json:"outcome"`
	Err     string        `json:"error,omitempty"`
}

// AllStarted reports whether every launch result is OutcomeStarted.
func AllStarted(results []LaunchResult) bool {
	for _, r := range results {
		if r.Outcome != OutcomeStarted {
			return false
		}
	}
	return true
}

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/matgreaves/run"

	"warden/probe"
	"warden/runtime"
	"warden/spec"
)

// stopTimeout bounds how long a restart cycle waits for the old process to
// die before spawning the replacement.
const stopTimeout = 15 * time.Second

var errDependencyFailed = errors.New("dependency failed")

// monitor owns the full lifecycle of one service: waiting for dependencies,
// reclaiming ports, starting the process, and running the watchdog loop.
// All mutable state lives behind m.mu and is only written by the monitor's
// own goroutine (plus terminate, which runs strictly after the loop exits).
type monitor struct {
	desc spec.Descriptor
	sup  *Supervisor
	log  *slog.Logger

	launched   chan LaunchResult
	launchOnce sync.Once
	loopDone   chan struct{}

	mu           sync.Mutex
	phase        Phase
	since        time.Time
	lastProbe    *probe.Result
	restarts     int
	failures     int
	nextRestart  time.Time
	healthySince time.Time
	exhausted    bool
	manual       bool
	handle       runtime.Handle
}

func newMonitor(sup *Supervisor, desc spec.Descriptor) *monitor {
	m := &monitor{
		desc:     desc,
		sup:      sup,
		log:      slog.With("service", desc.Name),
		launched: make(chan LaunchResult, 1),
		loopDone: make(chan struct{}),
		phase:    PhasePending,
		since:    time.Now(),
	}
	recordPhase(desc.Name, PhasePending)
	return m
}

// runLoop is the monitor goroutine's entry point. The three stages mirror
// the launch sequence: block on dependencies, reclaim ports, then start and
// watch the process until the context is cancelled.
func (m *monitor) runLoop(ctx context.Context) {
	defer close(m.loopDone)
	// If the loop is cancelled before the launch resolves, Start must not
	// stay parked waiting for a result that will never come.
	defer m.deliverLaunch(OutcomeStartFailed, "supervisor stopped before startup completed")

	seq := run.Sequence{
		run.Func(m.awaitDependencies),
		run.Func(m.reclaimPorts),
		run.Func(m.launchAndWatch),
	}
	err := seq.Run(ctx)
	if err != nil && !errors.Is(err, errDependencyFailed) && ctx.Err() == nil {
		m.log.Error("service loop exited", "error", err)
	}
}

// awaitDependencies blocks until every dependency has published a healthy
// event. If a dependency fails first, the service is marked skipped and the
// launch sequence aborts.
func (m *monitor) awaitDependencies(ctx context.Context) error {
	for _, dep := range m.desc.DependsOn {
		ev, err := m.sup.Log.WaitFor(ctx, func(e Event) bool {
			if e.Service != dep {
				return false
			}
			switch e.Type {
			case EventServiceHealthy, EventServiceStartFailed, EventServiceFailed, EventServiceSkipped:
				return true
			}
			return false
		})
		if err != nil {
			return err
		}
		if ev.Type != EventServiceHealthy {
			m.log.Warn("skipping service, dependency failed", "dependency", dep, "event", string(ev.Type))
			m.transition(PhaseSkipped)
			m.publish(EventServiceSkipped, fmt.Sprintf("dependency %s failed", dep), "")
			m.deliverLaunch(OutcomeSkipped, fmt.Sprintf("dependency %s failed", dep))
			return errDependencyFailed
		}
		m.log.Debug("dependency healthy", "dependency", dep)
	}
	return nil
}

// reclaimPorts frees any of the service's declared ports held by stray
// listeners. Best effort: a startup failure surfaces through the normal
// launch path if a port is still taken.
func (m *monitor) reclaimPorts(ctx context.Context) error {
	if len(m.desc.Ports) == 0 || m.desc.SharedPorts || m.sup.Reclaimer == nil {
		return nil
	}
	if freed := m.sup.Reclaimer.Reclaim(ctx, m.desc.Ports); len(freed) > 0 {
		who := make([]string, len(freed))
		for i, c := range freed {
			who[i] = c.String()
		}
		m.publish(EventPortsReclaimed, fmt.Sprintf("terminated %d stray listener(s): %s",
			len(freed), strings.Join(who, "; ")), "")
	}
	return nil
}

func (m *monitor) launchAndWatch(ctx context.Context) error {
	m.launch(ctx)
	if ctx.Err() != nil {
		return nil
	}
	m.watch(ctx)
	return nil
}

// launch starts the process and waits for the first successful probe, then
// reports the outcome to Start's aggregator.
func (m *monitor) launch(ctx context.Context) {
	m.transition(PhaseStarting)
	m.publish(EventServiceStarting, "", "")

	handle, err := m.sup.startRuntime(ctx, m.desc)
	if err != nil {
		m.log.Error("start failed", "error", err)
		m.publish(EventServiceStartFailed, "", err.Error())
		m.noteCycleFailure(err.Error())
		m.deliverLaunch(OutcomeStartFailed, err.Error())
		return
	}
	m.setHandle(handle)

	if m.awaitHealthy(ctx) {
		m.becomeHealthy()
		m.deliverLaunch(OutcomeStarted, "")
		return
	}
	if ctx.Err() != nil {
		return
	}
	msg := fmt.Sprintf("no successful probe within %s", m.desc.EffectiveStartTimeout())
	m.publish(EventServiceStartFailed, "", msg)
	m.noteCycleFailure(msg)
	m.deliverLaunch(OutcomeStartFailed, msg)
}

// awaitHealthy probes at the supervisor's poll interval until a probe
// succeeds or the service's start timeout elapses.
func (m *monitor) awaitHealthy(ctx context.Context) bool {
	deadline := time.Now().Add(m.desc.EffectiveStartTimeout())
	for {
		res, _ := m.probeOnce(ctx)
		if res.Healthy {
			return true
		}
		// A dead process will not come up no matter how long we wait.
		if h := m.currentHandle(); h != nil && !h.Running() {
			return false
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(m.sup.pollInterval()):
		}
	}
}

// watch runs the watchdog loop until the context is cancelled.
func (m *monitor) watch(ctx context.Context) {
	ticker := time.NewTicker(m.sup.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m.tick(ctx)
	}
}

func (m *monitor) tick(ctx context.Context) {
	m.mu.Lock()
	phase := m.phase
	manual := m.manual
	m.manual = false
	exhausted := m.exhausted
	next := m.nextRestart
	m.mu.Unlock()

	if manual {
		m.mu.Lock()
		m.failures = 0
		m.exhausted = false
		m.nextRestart = time.Time{}
		m.mu.Unlock()
		m.restart(ctx, restartReasonManual)
		return
	}

	switch phase {
	case PhaseHealthy:
		res, exitedClean := m.probeOnce(ctx)
		if res.Healthy {
			m.maybeResetFailures()
			return
		}
		if exitedClean && m.desc.Restart.Kind() == spec.RestartOnFailure {
			m.log.Info("process exited cleanly, not restarting")
			m.clearHandle()
			m.transition(PhaseStopped)
			m.publish(EventServiceStopped, "process exited cleanly", "")
			return
		}
		m.log.Warn("probe failed", "error", res.Err)
		m.transition(PhaseUnhealthy)
		m.publish(EventServiceUnhealthy, "", res.Err)
		if m.desc.Restart.Kind() == spec.RestartNever {
			m.mu.Lock()
			m.exhausted = true
			m.mu.Unlock()
			m.transition(PhaseFailed)
			m.publish(EventServiceFailed, "restart policy is never", res.Err)
			return
		}
		m.mu.Lock()
		m.nextRestart = time.Time{} // first restart of a new trip is immediate
		m.mu.Unlock()

	case PhaseUnhealthy:
		if time.Now().Before(next) {
			return
		}
		m.restart(ctx, restartReasonProbe)

	case PhaseFailed:
		if exhausted {
			// Terminal, but keep probing so status stays truthful.
			m.probeOnce(ctx)
			return
		}
		if time.Now().Before(next) {
			return
		}
		m.restart(ctx, restartReasonProbe)
	}
}

// restart cycles the process: stop the old handle, start a replacement, and
// wait for it to pass a probe. A cycle that does not end in Healthy counts
// against the consecutive-failure budget.
func (m *monitor) restart(ctx context.Context, reason string) {
	m.transition(PhaseRestarting)
	m.publish(EventServiceRestarting, reason, "")
	metricRestarts.WithLabelValues(m.desc.Name, reason).Inc()

	m.mu.Lock()
	m.restarts++
	h := m.handle
	m.handle = nil
	m.mu.Unlock()

	if h != nil {
		stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
		if err := h.Stop(stopCtx); err != nil {
			m.log.Warn("stopping old process", "error", err)
		}
		cancel()
	}
	if ctx.Err() != nil {
		return
	}

	handle, err := m.sup.startRuntime(ctx, m.desc)
	if err != nil {
		m.log.Error("restart failed", "error", err)
		m.noteCycleFailure(err.Error())
		return
	}
	m.setHandle(handle)

	if m.awaitHealthy(ctx) {
		m.becomeHealthy()
		return
	}
	if ctx.Err() != nil {
		return
	}
	m.noteCycleFailure(fmt.Sprintf("no successful probe within %s of restart", m.desc.EffectiveStartTimeout()))
}

// noteCycleFailure records a start or restart cycle that did not end in
// Healthy. The next restart is scheduled with exponential backoff; once the
// consecutive-failure budget is spent the service is failed for good.
func (m *monitor) noteCycleFailure(errmsg string) {
	pol := m.desc.Restart

	m.mu.Lock()
	delay := pol.BackoffFor(m.failures)
	m.failures++
	exhausted := pol.Kind() == spec.RestartNever || m.failures >= pol.EffectiveMaxAttempts()
	m.exhausted = exhausted
	if !exhausted {
		m.nextRestart = time.Now().Add(delay)
	}
	failures := m.failures
	m.mu.Unlock()

	m.transition(PhaseFailed)
	if exhausted {
		m.log.Error("giving up", "failures", failures, "error", errmsg)
		m.publish(EventServiceFailed, fmt.Sprintf("giving up after %d failed attempt(s)", failures), errmsg)
	} else {
		m.log.Warn("cycle failed, will retry", "failures", failures, "retry_in", delay, "error", errmsg)
		m.publish(EventServiceUnhealthy, fmt.Sprintf("retrying in %s", delay), errmsg)
	}
}

func (m *monitor) becomeHealthy() {
	m.mu.Lock()
	m.healthySince = time.Now()
	restarts := m.restarts
	m.mu.Unlock()

	m.transition(PhaseHealthy)
	msg := ""
	if restarts > 0 {
		msg = fmt.Sprintf("after %d restart(s)", restarts)
	}
	m.publish(EventServiceHealthy, msg, "")
	m.log.Info("healthy")
}

// maybeResetFailures clears the consecutive-failure counter once the service
// has stayed healthy long enough, so old instability stops inflating backoff.
func (m *monitor) maybeResetFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures == 0 || m.healthySince.IsZero() {
		return
	}
	if time.Since(m.healthySince) >= m.desc.Restart.EffectiveResetAfter() {
		m.log.Debug("sustained healthy, resetting failure counter", "failures", m.failures)
		m.failures = 0
		m.nextRestart = time.Time{}
	}
}

// probeOnce runs one health probe and records the result. A dead process
// handle short-circuits the probe; exitedClean reports whether it exited
// with a nil error.
func (m *monitor) probeOnce(ctx context.Context) (res probe.Result, exitedClean bool) {
	if h := m.currentHandle(); h != nil && !h.Running() {
		res = probe.Result{Time: time.Now(), Err: "process exited"}
		if err := h.Err(); err != nil {
			res.Err = fmt.Sprintf("process exited: %v", err)
		} else {
			exitedClean = true
		}
	} else {
		res = m.sup.Prober.Probe(ctx, m.desc)
	}

	up := 0.0
	if res.Healthy {
		up = 1.0
	} else {
		metricProbeFailures.WithLabelValues(m.desc.Name).Inc()
	}
	metricServiceUp.WithLabelValues(m.desc.Name).Set(up)
	metricProbeLatency.WithLabelValues(m.desc.Name).Observe(res.Latency.Seconds())

	m.mu.Lock()
	m.lastProbe = &res
	m.mu.Unlock()
	return res, exitedClean
}

// terminate stops the service's process. Called during shutdown, strictly
// after the watchdog loop has exited.
func (m *monitor) terminate(ctx context.Context) error {
	m.mu.Lock()
	h := m.handle
	m.handle = nil
	m.mu.Unlock()

	if h == nil {
		m.transition(PhaseStopped)
		return nil
	}

	m.transition(PhaseStopping)
	m.publish(EventServiceStopping, "", "")
	err := h.Stop(ctx)

	m.transition(PhaseStopped)
	if err != nil {
		m.publish(EventServiceStopped, "", err.Error())
		return fmt.Errorf("stopping %s: %w", m.desc.Name, err)
	}
	m.publish(EventServiceStopped, "", "")
	return nil
}

// requestRestart asks the watchdog to cycle the process on its next tick,
// clearing any accumulated failure budget.
func (m *monitor) requestRestart() {
	m.mu.Lock()
	m.manual = true
	m.mu.Unlock()
}

func (m *monitor) snapshot() StateSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return StateSnapshot{
		Name:        m.desc.Name,
		Phase:       m.phase,
		Since:       m.since,
		LastProbe:   m.lastProbe,
		Restarts:    m.restarts,
		Failures:    m.failures,
		NextRestart: m.nextRestart,
		Exhausted:   m.exhausted,
	}
}

func (m *monitor) transition(p Phase) {
	m.mu.Lock()
	m.phase = p
	m.since = time.Now()
	m.mu.Unlock()
	recordPhase(m.desc.Name, p)
}

func (m *monitor) publish(t EventType, msg, errmsg string) {
	m.sup.Log.Publish(Event{Type: t, Service: m.desc.Name, Message: msg, Error: errmsg})
}

func (m *monitor) deliverLaunch(outcome LaunchOutcome, errmsg string) {
	m.launchOnce.Do(func() {
		m.launched <- LaunchResult{Name: m.desc.Name, Outcome: outcome, Err: errmsg}
	})
}

func (m *monitor) setHandle(h runtime.Handle) {
	m.mu.Lock()
	m.handle = h
	m.mu.Unlock()
}

func (m *monitor) clearHandle() {
	m.mu.Lock()
	m.handle = nil
	m.mu.Unlock()
}

func (m *monitor) currentHandle() runtime.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle
}

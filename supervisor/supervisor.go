// Package supervisor keeps a fixed set of named local services alive.
// Services start in dependency order, are health-probed on a fixed
// interval, and are restarted with capped exponential backoff when probes
// fail. Every lifecycle transition is recorded in an ordered event log.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"warden/ports"
	"warden/probe"
	"warden/runtime"
	"warden/spec"
)

const defaultPollInterval = 5 * time.Second

// Prober runs a single health probe against a service.
type Prober interface {
	Probe(ctx context.Context, d spec.Descriptor) probe.Result
}

// PortReclaimer frees stray listeners from a set of ports before a service
// starts. It reports the listeners it terminated.
type PortReclaimer interface {
	Reclaim(ctx context.Context, ports []int) []ports.Claim
}

// Supervisor drives the lifecycle of every service in a config. Zero or
// more of the collaborator fields may be replaced before Start; New fills
// in production defaults.
type Supervisor struct {
	Config    *spec.Config
	Log       *EventLog
	Prober    Prober
	Runtimes  map[string]runtime.Runtime
	Reclaimer PortReclaimer

	outOnce sync.Once
	outputs *outputSet

	mu          sync.Mutex
	monitors    map[string]*monitor
	cancelLoops context.CancelFunc
	started     bool
	stopped     bool
}

// New creates a supervisor with production collaborators: the real process
// and container runtimes, network probes, and the /proc-based port
// reclaimer.
func New(cfg *spec.Config) *Supervisor {
	return &Supervisor{
		Config: cfg,
		Log:    NewEventLog(),
		Prober: &probe.Prober{},
		Runtimes: map[string]runtime.Runtime{
			spec.RuntimeProcess: &runtime.Exec{},
			spec.RuntimeDocker:  &runtime.Docker{},
		},
		Reclaimer: &ports.Reclaimer{},
	}
}

// Start launches every service. Dependency ordering emerges from the event
// log: each monitor blocks until its dependencies publish healthy events.
// Start returns once every service has resolved to started, start_failed,
// or skipped. The watchdog loops keep running after Start returns, until
// Stop is called.
func (s *Supervisor) Start(ctx context.Context) ([]LaunchResult, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil, errors.New("supervisor already started")
	}
	s.started = true

	// Monitor loops outlive Start's context: they stop on Stop.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancelLoops = cancel

	s.monitors = make(map[string]*monitor, len(s.Config.Services))
	for name, desc := range s.Config.Services {
		s.monitors[name] = newMonitor(s, desc)
	}
	monitors := s.monitors
	s.mu.Unlock()

	slog.Info("starting services", "count", len(monitors))
	for _, m := range monitors {
		go m.runLoop(loopCtx)
	}

	results := make([]LaunchResult, 0, len(monitors))
	for _, name := range spec.SortedNames(s.Config.Services) {
		m := monitors[name]
		select {
		case r := <-m.launched:
			results = append(results, r)
		case <-ctx.Done():
			return results, fmt.Errorf("waiting for %s: %w", name, ctx.Err())
		}
	}

	if AllStarted(results) {
		s.Log.Publish(Event{Type: EventSupervisorUp, Message: fmt.Sprintf("%d service(s) healthy", len(results))})
		slog.Info("all services healthy", "count", len(results))
	} else {
		slog.Warn("startup incomplete", "results", summarize(results))
	}
	return results, nil
}

// Stop halts the watchdog loops, then terminates every running process in
// reverse dependency order so dependents die before the things they depend
// on. Safe to call after a partial start, and idempotent.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.cancelLoops
	monitors := s.monitors
	s.mu.Unlock()

	cancel()
	for _, m := range monitors {
		<-m.loopDone
	}

	order, err := spec.ReverseTopoSort(s.Config.Services)
	if err != nil {
		// Config was validated at load time; fall back to any order.
		order = spec.SortedNames(s.Config.Services)
	}

	var errs []error
	for _, name := range order {
		if err := monitors[name].terminate(ctx); err != nil {
			slog.Error("stopping service", "service", name, "error", err)
			errs = append(errs, err)
		}
	}
	if s.outputs != nil {
		s.outputs.Close()
	}

	s.Log.Publish(Event{Type: EventSupervisorDown})
	slog.Info("supervisor stopped")
	return errors.Join(errs...)
}

// Status reports a snapshot of every service's watchdog state, sorted by
// name. Services whose monitors have not been created yet report pending.
func (s *Supervisor) Status() []StateSnapshot {
	s.mu.Lock()
	monitors := s.monitors
	s.mu.Unlock()

	out := make([]StateSnapshot, 0, len(s.Config.Services))
	for name := range s.Config.Services {
		if m, ok := monitors[name]; ok {
			out = append(out, m.snapshot())
		} else {
			out = append(out, StateSnapshot{Name: name, Phase: PhasePending})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Restart asks the named service's watchdog to cycle its process on the
// next tick, resetting the failure budget. This is how an operator revives
// a service that has exhausted its restarts.
func (s *Supervisor) Restart(name string) error {
	s.mu.Lock()
	m, ok := s.monitors[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown service %q", name)
	}
	m.requestRestart()
	return nil
}

// Verify probes every service once, concurrently, without touching any
// process. It works against a running supervisor or none at all.
func (s *Supervisor) Verify(ctx context.Context) map[string]probe.Result {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[string]probe.Result, len(s.Config.Services))
	)
	for name, desc := range s.Config.Services {
		wg.Add(1)
		go func(name string, desc spec.Descriptor) {
			defer wg.Done()
			res := s.Prober.Probe(ctx, desc)
			mu.Lock()
			out[name] = res
			mu.Unlock()
		}(name, desc)
	}
	wg.Wait()
	return out
}

func (s *Supervisor) startRuntime(ctx context.Context, d spec.Descriptor) (runtime.Handle, error) {
	rt, ok := s.Runtimes[d.RuntimeKind()]
	if !ok {
		return nil, fmt.Errorf("no runtime registered for %q", d.RuntimeKind())
	}
	out := s.output(d.Name)
	return rt.Start(ctx, runtime.StartSpec{
		Name:    d.Name,
		Command: d.Command,
		Dir:     d.Dir,
		Env:     d.Env,
		Image:   d.Image,
		Ports:   d.Ports,
		Stdout:  out,
		Stderr:  out,
	})
}

func (s *Supervisor) output(name string) io.Writer {
	s.outOnce.Do(func() {
		s.outputs = newOutputSet(s.Config.LogDir)
	})
	return s.outputs.writer(name)
}

func (s *Supervisor) pollInterval() time.Duration {
	if d := s.Config.PollInterval.Duration; d > 0 {
		return d
	}
	return defaultPollInterval
}

func summarize(results []LaunchResult) string {
	counts := map[LaunchOutcome]int{}
	for _, r := range results {
		counts[r.Outcome]++
	}
	return fmt.Sprintf("started=%d start_failed=%d skipped=%d",
		counts[OutcomeStarted], counts[OutcomeStartFailed], counts[OutcomeSkipped])
}

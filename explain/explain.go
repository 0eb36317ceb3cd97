// Package explain analyzes warden event logs and produces concise
// diagnoses: which services failed, why, what was skipped because of them,
// and which services are flapping. It is used by the CLI explain command
// and can be pointed at any slice of events.
package explain

import (
	"fmt"
	"sort"
	"strings"

	"warden/supervisor"
)

// Outcomes, ordered from worst to best for report sorting.
const (
	OutcomeFailed   = "failed"
	OutcomeSkipped  = "skipped"
	OutcomeFlapping = "flapping"
	OutcomeStopped  = "stopped"
	OutcomeHealthy  = "healthy"
	OutcomePending  = "pending"
)

// flapThreshold is the restart count above which a currently-healthy
// service is reported as flapping.
const flapThreshold = 3

// Report is the structured analysis of an event log.
type Report struct {
	Services []ServiceReport `json:"services"`
	Failed   int             `json:"failed"`
	Skipped  int             `json:"skipped"`
	Flapping int             `json:"flapping"`
}

// Clean reports whether nothing in the log needs attention.
func (r *Report) Clean() bool {
	return r.Failed == 0 && r.Skipped == 0 && r.Flapping == 0
}

// ServiceReport is the per-service diagnosis.
type ServiceReport struct {
	Name      string `json:"name"`
	Outcome   string `json:"outcome"`
	Restarts  int    `json:"restarts,omitempty"`
	LastError string `json:"last_error,omitempty"`
	// Cause explains a skip or failure in one line, e.g. the dependency
	// that dragged this service down.
	Cause string `json:"cause,omitempty"`
}

type serviceTrace struct {
	name      string
	outcome   string
	restarts  int
	lastError string
	cause     string
}

// Analyze walks an event log and produces a report. Events must be in
// publication order, which is how the supervisor and the control API hand
// them out.
func Analyze(events []supervisor.Event) *Report {
	traces := make(map[string]*serviceTrace)
	trace := func(name string) *serviceTrace {
		t, ok := traces[name]
		if !ok {
			t = &serviceTrace{name: name, outcome: OutcomePending}
			traces[name] = t
		}
		return t
	}

	for _, e := range events {
		if e.Service == "" {
			continue
		}
		t := trace(e.Service)
		if e.Error != "" {
			t.lastError = e.Error
		}
		switch e.Type {
		case supervisor.EventServiceHealthy:
			t.outcome = OutcomeHealthy
		case supervisor.EventServiceRestarting:
			t.restarts++
		case supervisor.EventServiceFailed, supervisor.EventServiceStartFailed:
			t.outcome = OutcomeFailed
			if e.Message != "" {
				t.cause = e.Message
			}
		case supervisor.EventServiceSkipped:
			t.outcome = OutcomeSkipped
			t.cause = e.Message
		case supervisor.EventServiceStopped:
			t.outcome = OutcomeStopped
		}
	}

	report := &Report{}
	for _, t := range traces {
		if t.outcome == OutcomeHealthy && t.restarts >= flapThreshold {
			t.outcome = OutcomeFlapping
		}
		switch t.outcome {
		case OutcomeFailed:
			report.Failed++
		case OutcomeSkipped:
			report.Skipped++
		case OutcomeFlapping:
			report.Flapping++
		}
		report.Services = append(report.Services, ServiceReport{
			Name:      t.name,
			Outcome:   t.outcome,
			Restarts:  t.restarts,
			LastError: t.lastError,
			Cause:     t.cause,
		})
	}

	sort.Slice(report.Services, func(i, j int) bool {
		a, b := report.Services[i], report.Services[j]
		if ra, rb := outcomeRank(a.Outcome), outcomeRank(b.Outcome); ra != rb {
			return ra < rb
		}
		return a.Name < b.Name
	})
	return report
}

func outcomeRank(outcome string) int {
	switch outcome {
	case OutcomeFailed:
		return 0
	case OutcomeSkipped:
		return 1
	case OutcomeFlapping:
		return 2
	case OutcomeStopped:
		return 3
	case OutcomeHealthy:
		return 4
	default:
		return 5
	}
}

// Summary returns a one-line digest, e.g. "2 failed, 1 skipped, 3 healthy".
func (r *Report) Summary() string {
	counts := map[string]int{}
	for _, s := range r.Services {
		counts[s.Outcome]++
	}
	var parts []string
	for _, outcome := range []string{OutcomeFailed, OutcomeSkipped, OutcomeFlapping, OutcomeStopped, OutcomeHealthy, OutcomePending} {
		if n := counts[outcome]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, outcome))
		}
	}
	if len(parts) == 0 {
		return "no services seen"
	}
	return strings.Join(parts, ", ")
}

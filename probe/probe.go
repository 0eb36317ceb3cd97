// Package probe executes health checks against managed services. A probe is
// one-shot, bounded by the descriptor's timeout, and has no side effects on
// the target; failures are captured in the Result, never returned as errors.
package probe

import (
	"context"
	"fmt"
	"time"

	"warden/spec"
)

// Result is the immutable outcome of a single probe.
type Result struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Err     string        `json:"error,omitempty"`
	Time    time.Time     `json:"time"`
}

// Checker performs a single readiness probe.
type Checker interface {
	Check(ctx context.Context) error
}

// ForDescriptor returns a Checker for the descriptor's health spec, or nil
// when the descriptor declares no health check.
func ForDescriptor(d spec.Descriptor) Checker {
	h := d.Health
	if h == nil {
		return nil
	}

	port := h.Port
	if port == 0 && len(d.Ports) > 0 {
		port = d.Ports[0]
	}
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	switch h.EffectiveType() {
	case spec.HealthHTTP:
		return &HTTP{URL: h.URL, Expect: *h}
	case spec.HealthGRPC:
		return &GRPC{Addr: addr}
	default:
		return &TCP{Addr: addr}
	}
}

// Prober runs descriptors' health checks.
type Prober struct{}

// Probe runs the descriptor's health check once, bounded by the health
// spec's timeout. A descriptor without a health spec yields a healthy
// result immediately; liveness is then the runtime handle's concern.
func (Prober) Probe(ctx context.Context, d spec.Descriptor) Result {
	start := time.Now()
	checker := ForDescriptor(d)
	if checker == nil {
		return Result{Healthy: true, Time: start}
	}

	ctx, cancel := context.WithTimeout(ctx, d.Health.EffectiveTimeout())
	defer cancel()

	err := checker.Check(ctx)
	res := Result{
		Healthy: err == nil,
		Latency: time.Since(start),
		Time:    start,
	}
	if err != nil {
		res.Err = err.Error()
	}
	return res
}

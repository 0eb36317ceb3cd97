package supervisor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var processStart = time.Now()

var (
	_ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "warden_uptime_seconds",
		Help: "Seconds since the supervisor process started.",
	}, func() float64 { return time.Since(processStart).Seconds() })

	metricServiceUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "warden_service_up",
		Help: "1 if the service's most recent health probe succeeded, else 0.",
	}, []string{"service"})

	metricRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_restart_total",
		Help: "Number of restart cycles the watchdog has initiated.",
	}, []string{"service", "reason"})

	metricProbeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_probe_failure_total",
		Help: "Number of failed health probes.",
	}, []string{"service"})

	metricProbeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "warden_probe_duration_seconds",
		Help:    "Health probe latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"service"})

	metricPhase = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "warden_service_phase",
		Help: "Current lifecycle phase, one series per phase with value 1 for the active phase.",
	}, []string{"service", "phase"})
)

const (
	restartReasonProbe  = "probe_failure"
	restartReasonManual = "manual"
)

var allPhases = []Phase{
	PhasePending, PhaseStarting, PhaseHealthy, PhaseUnhealthy,
	PhaseRestarting, PhaseFailed, PhaseSkipped, PhaseStopping, PhaseStopped,
}

func recordPhase(service string, phase Phase) {
	for _, p := range allPhases {
		v := 0.0
		if p == phase {
			v = 1.0
		}
		metricPhase.WithLabelValues(service, string(p)).Set(v)
	}
}

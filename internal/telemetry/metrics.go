package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration records inbound request latency by route, method, and status.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "diogenes",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
	[]string{"method", "path", "status"},
)

// ScaleUpTotal counts scale-up attempts by outcome: claimed, ready, health_failed, launch_failed, lost_race.
var ScaleUpTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "diogenes",
		Subsystem: "orchestrator",
		Name:      "scale_up_total",
		Help:      "Total number of scaleUp outcomes by model and result.",
	},
	[]string{"model", "outcome"},
)

// ScaleDownTotal counts instances reaped by idle timeout.
var ScaleDownTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "diogenes",
		Subsystem: "orchestrator",
		Name:      "scale_down_total",
		Help:      "Total number of instances reaped by scaleDown.",
	},
	[]string{"model"},
)

// HealthCheckTotal counts health-gate outcomes (ready or failed), one per
// scale-up that reaches the gate, not one per individual probe.
var HealthCheckTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "diogenes",
		Subsystem: "orchestrator",
		Name:      "health_check_total",
		Help:      "Total number of health poll outcomes by result.",
	},
	[]string{"model", "result"},
)

// ProxyRequestsTotal counts router proxy attempts by model and outcome.
var ProxyRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "diogenes",
		Subsystem: "router",
		Name:      "proxy_requests_total",
		Help:      "Total number of proxied inference requests by model and outcome.",
	},
	[]string{"model", "outcome"},
)

// ColdStartsTriggeredTotal counts fire-and-forget scale-up triggers fired by the router.
var ColdStartsTriggeredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "diogenes",
		Subsystem: "router",
		Name:      "cold_starts_triggered_total",
		Help:      "Total number of scale-up triggers fired on a cold-start miss.",
	},
	[]string{"model"},
)

// All returns all diogenes-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestDuration,
		ScaleUpTotal,
		ScaleDownTotal,
		HealthCheckTotal,
		ProxyRequestsTotal,
		ColdStartsTriggeredTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process
// collectors plus every diogenes-specific collector.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	for _, c := range All() {
		reg.MustRegister(c)
	}
	return reg
}

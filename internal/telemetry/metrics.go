// Package telemetry registers the mediator's Prometheus collectors,
// following the teacher's var-per-metric-plus-All() pattern.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

var RequestsIssuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tsamediator",
		Subsystem: "requests",
		Name:      "issued_total",
		Help:      "Total number of timestamp issuance requests, by tenant and outcome.",
	},
	[]string{"tenant_id", "outcome"},
)

var HedgesFiredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tsamediator",
		Subsystem: "failover",
		Name:      "hedges_fired_total",
		Help:      "Total number of hedged requests fired after the primary's hedge delay elapsed.",
	},
	[]string{"tenant_id"},
)

var ValidationOutcomesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tsamediator",
		Subsystem: "validator",
		Name:      "outcomes_total",
		Help:      "Total number of C5 token validation outcomes, by reason (\"\" for success).",
	},
	[]string{"reason"},
)

var PolicySavesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tsamediator",
		Subsystem: "policy",
		Name:      "saves_total",
		Help:      "Total number of policy manager save attempts, by action.",
	},
	[]string{"action"},
)

var PolicyValidationFailuresTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tsamediator",
		Subsystem: "policy",
		Name:      "validation_failures_total",
		Help:      "Total number of rejected policy save attempts.",
	},
)

var HealthTransitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tsamediator",
		Subsystem: "health",
		Name:      "transitions_total",
		Help:      "Total number of provider health status transitions, by provider and resulting status.",
	},
	[]string{"provider_id", "status"},
)

var ProviderLatencySeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "tsamediator",
		Subsystem: "provider",
		Name:      "latency_seconds",
		Help:      "Observed per-attempt provider latency in seconds, by provider and success.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	},
	[]string{"provider_id", "success"},
)

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "tsamediator",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Ambient HTTP surface request duration in seconds, by method, route, and status.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)

// All returns every mediator-specific collector for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		RequestsIssuedTotal,
		HedgesFiredTotal,
		ValidationOutcomesTotal,
		PolicySavesTotal,
		PolicyValidationFailuresTotal,
		HealthTransitionsTotal,
		ProviderLatencySeconds,
		HTTPRequestDuration,
	}
}

// Package metrics defines the Prometheus series this hub exposes,
// grounded in ws/metrics.go's style: package-level collector vars,
// registered once in init, scraped over their own HTTP listener.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signalhub_connections_total",
		Help: "Total number of WebSocket connections established",
	})

	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signalhub_connections_active",
		Help: "Current number of registered WebSocket connections",
	})

	ConnectionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signalhub_connections_rejected_total",
		Help: "Connections rejected by the resource admission guard, by reason",
	}, []string{"reason"})

	MessagesRouted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signalhub_messages_routed_total",
		Help: "Envelopes routed from one identity to another, by type",
	}, []string{"type"})

	MessagesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signalhub_messages_dropped_total",
		Help: "Envelopes dropped before delivery, by reason",
	}, []string{"reason"})

	EnvelopeVerifyFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signalhub_envelope_verify_failures_total",
		Help: "Envelope signature or nonce verification failures, by reason",
	}, []string{"reason"})

	CallsInitiated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signalhub_calls_initiated_total",
		Help: "Total call:init messages accepted",
	})

	CallsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signalhub_calls_accepted_total",
		Help: "Total calls that reached the connected state",
	})

	CallsEnded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signalhub_calls_ended_total",
		Help: "Total calls ended, by terminal reason",
	}, []string{"reason"})

	CallDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "signalhub_call_duration_seconds",
		Help:    "Call duration from accept to end",
		Buckets: []float64{5, 15, 30, 60, 180, 300, 600, 1800, 3600},
	})

	TokensIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signalhub_call_tokens_issued_total",
		Help: "Total call session tokens issued",
	})

	TokensConsumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signalhub_call_tokens_consumed_total",
		Help: "Call session token consumption attempts, by outcome",
	}, []string{"outcome"})

	PolicyRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signalhub_policy_rejections_total",
		Help: "Call attempts rejected by the policy engine, by step",
	}, []string{"step"})

	RelayCallsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signalhub_relay_calls_total",
		Help: "Total calls that fell back to TURN relay",
	})

	CPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signalhub_cpu_percent",
		Help: "Current process CPU usage percent, as sampled by the resource guard",
	})

	MemoryBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signalhub_memory_bytes",
		Help: "Current resident memory usage in bytes, as sampled by the resource guard",
	})

	GoroutinesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signalhub_goroutines_active",
		Help: "Current goroutine count",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ConnectionsActive,
		ConnectionsRejected,
		MessagesRouted,
		MessagesDropped,
		EnvelopeVerifyFailures,
		CallsInitiated,
		CallsAccepted,
		CallsEnded,
		CallDuration,
		TokensIssued,
		TokensConsumed,
		PolicyRejections,
		RelayCallsTotal,
		CPUPercent,
		MemoryBytes,
		GoroutinesActive,
	)
}

// Handler returns the promhttp handler for mounting on the metrics
// listener (spec.md's METRICS_ADDR, separate from the main API port).
func Handler() http.Handler {
	return promhttp.Handler()
}

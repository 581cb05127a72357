package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the Prometheus instrumentation for the queue and its surfaces.
//
// Tracked:
//   - invocations enqueued, claimed, and sealed, by tool and verdict
//   - handler execution latency
//   - idempotency short-circuits
//   - stale claims reclaimed by the sweeper
//   - brain runs by mode and status
//   - webhook deliveries by source and outcome
//   - HTTP request latency
type Metrics struct {
	// InvocationsEnqueued counts queue inserts.
	// Labels: tool
	InvocationsEnqueued *prometheus.CounterVec

	// InvocationsClaimed counts successful worker claims.
	// Labels: tool
	InvocationsClaimed *prometheus.CounterVec

	// ReceiptsSealed counts receipts written, by tool and verdict.
	// Labels: tool, status (succeeded|failed|not_configured)
	ReceiptsSealed *prometheus.CounterVec

	// ExecutionDuration measures handler execution time in seconds.
	// Labels: tool
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ExecutionDuration *prometheus.HistogramVec

	// IdempotencyHits counts invocations answered from a prior receipt.
	// Labels: tool, mode (safe-retry|keyed)
	IdempotencyHits *prometheus.CounterVec

	// SweeperReclaimed counts stale running invocations sealed as lost.
	// Labels: tool
	SweeperReclaimed *prometheus.CounterVec

	// BrainRuns counts brain runs by mode and final status.
	// Labels: mode, status (ok|error)
	BrainRuns *prometheus.CounterVec

	// WebhookDeliveries counts inbound webhook posts.
	// Labels: source, outcome (enqueued|duplicate|ignored|rejected)
	WebhookDeliveries *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP request latency in seconds. The path
	// label carries the matched route pattern, keeping cardinality fixed.
	// Labels: method, path, status_code
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration; pass nil
// to use the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		InvocationsEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gem_invocations_enqueued_total",
				Help: "Total invocations inserted into the queue by tool",
			},
			[]string{"tool"},
		),

		InvocationsClaimed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gem_invocations_claimed_total",
				Help: "Total invocations claimed by workers by tool",
			},
			[]string{"tool"},
		),

		ReceiptsSealed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gem_receipts_sealed_total",
				Help: "Total receipts written by tool and verdict",
			},
			[]string{"tool", "status"},
		),

		ExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gem_execution_duration_seconds",
				Help:    "Handler execution time in seconds by tool",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		IdempotencyHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gem_idempotency_hits_total",
				Help: "Invocations resolved from a prior receipt by tool and mode",
			},
			[]string{"tool", "mode"},
		),

		SweeperReclaimed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gem_sweeper_reclaimed_total",
				Help: "Stale running invocations sealed as worker_lost by tool",
			},
			[]string{"tool"},
		),

		BrainRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gem_brain_runs_total",
				Help: "Brain runs by mode and final status",
			},
			[]string{"mode", "status"},
		),

		WebhookDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gem_webhook_deliveries_total",
				Help: "Inbound webhook posts by source and outcome",
			},
			[]string{"source", "outcome"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gem_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

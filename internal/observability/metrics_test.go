package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.InvocationsEnqueued.WithLabelValues("leads.create").Inc()
	m.InvocationsEnqueued.WithLabelValues("leads.create").Inc()
	m.ReceiptsSealed.WithLabelValues("leads.create", "succeeded").Inc()
	m.WebhookDeliveries.WithLabelValues("ghl", "duplicate").Inc()

	if got := testutil.ToFloat64(m.InvocationsEnqueued.WithLabelValues("leads.create")); got != 2 {
		t.Errorf("enqueued counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ReceiptsSealed.WithLabelValues("leads.create", "succeeded")); got != 1 {
		t.Errorf("sealed counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.WebhookDeliveries.WithLabelValues("ghl", "duplicate")); got != 1 {
		t.Errorf("webhook counter = %v, want 1", got)
	}
}

func TestMetricsSeparateRegistries(t *testing.T) {
	// Two instances must not collide when given their own registries.
	a := NewMetrics(prometheus.NewRegistry())
	b := NewMetrics(prometheus.NewRegistry())

	a.SweeperReclaimed.WithLabelValues("os.health_check").Inc()
	if got := testutil.ToFloat64(b.SweeperReclaimed.WithLabelValues("os.health_check")); got != 0 {
		t.Errorf("registries shared state: %v", got)
	}
}

func TestExecutionDurationObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ExecutionDuration.WithLabelValues("quotes.create").Observe(0.25)

	count := testutil.CollectAndCount(m.ExecutionDuration)
	if count != 1 {
		t.Errorf("histogram series count = %d, want 1", count)
	}
}

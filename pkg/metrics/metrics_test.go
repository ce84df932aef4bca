package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTransitionLabels(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())
	m.Transition("form", "completed", true)
	m.Transition("form", "completed", false)
	m.Transition("form", "completed", false)

	if got := testutil.ToFloat64(m.StatusTransitionsTotal.WithLabelValues("form", "completed", "true")); got != 1 {
		t.Errorf("applied transitions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StatusTransitionsTotal.WithLabelValues("form", "completed", "false")); got != 2 {
		t.Errorf("skipped transitions = %v, want 2", got)
	}
}

func TestNilMetricsTransitionIsSafe(t *testing.T) {
	var m *Metrics
	m.Transition("document", "failed", true)
}

package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/secmon-lab/badgewise/pkg/utils/metrics"
)

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	gt.NoError(t, err).Required()

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestIndexOperation(t *testing.T) {
	labels := map[string]string{"backend": "test", "op": "query", "result": "error"}
	before := counterValue(t, "badgewise_index_operations_total", labels)

	metrics.IndexOperation("test", "query", errors.New("boom"))
	metrics.IndexOperation("test", "query", nil)

	after := counterValue(t, "badgewise_index_operations_total", labels)
	gt.Value(t, after-before).Equal(1.0)
}

func TestObserveStage(t *testing.T) {
	metrics.ObserveStage("test", time.Now())

	families, err := prometheus.DefaultGatherer.Gather()
	gt.NoError(t, err).Required()

	found := false
	for _, mf := range families {
		if mf.GetName() == "badgewise_stage_duration_seconds" {
			found = true
		}
	}
	gt.Bool(t, found).True()
}

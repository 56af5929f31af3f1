package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestObserveOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOrderMetricsWithRegisterer(reg)

	m.ObserveOperation("add_item", ResultOK, 10*time.Millisecond)
	m.ObserveOperation("add_item", ResultOK, 20*time.Millisecond)
	m.ObserveOperation("add_item", ResultInvalidState, time.Millisecond)

	if got := counterValue(t, m.operations.WithLabelValues("add_item", ResultOK)); got != 2 {
		t.Fatalf("expected 2 ok operations, got %v", got)
	}
	if got := counterValue(t, m.operations.WithLabelValues("add_item", ResultInvalidState)); got != 1 {
		t.Fatalf("expected 1 invalid_state operation, got %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var histogramCount uint64
	for _, family := range families {
		if family.GetName() != "oms_order_operation_duration_seconds" {
			continue
		}
		for _, metric := range family.GetMetric() {
			histogramCount += metric.GetHistogram().GetSampleCount()
		}
	}
	if histogramCount != 3 {
		t.Fatalf("expected 3 duration samples, got %d", histogramCount)
	}
}

func TestRecordConflictRetryAndTimeline(t *testing.T) {
	m := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordConflictRetry("discount")
	m.RecordTimelineEvent()
	m.RecordTimelineEvent()
	m.RecordCompleted(2500)

	if got := counterValue(t, m.conflictRetry.WithLabelValues("discount")); got != 1 {
		t.Fatalf("expected 1 conflict retry, got %v", got)
	}
	if got := counterValue(t, m.timelineEvents); got != 2 {
		t.Fatalf("expected 2 timeline events, got %v", got)
	}
}

func TestRegisterTwiceReturnsExisting(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewOrderMetricsWithRegisterer(reg)
	second := NewOrderMetricsWithRegisterer(reg)

	first.RecordTimelineEvent()
	if got := counterValue(t, second.timelineEvents); got != 1 {
		t.Fatalf("expected shared collector, got %v", got)
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *OrderMetrics
	m.ObserveOperation("x", ResultOK, time.Second)
	m.RecordConflictRetry("x")
	m.RecordCompleted(1)
	m.RecordTimelineEvent()
}

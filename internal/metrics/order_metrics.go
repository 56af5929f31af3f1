package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты операций для метки result.
const (
	ResultOK           = "ok"
	ResultNotFound     = "not_found"
	ResultInvalidState = "invalid_state"
	ResultValidation   = "validation"
	ResultConflict     = "conflict"
	ResultUnauthorized = "unauthorized"
	ResultError        = "error"
)

// OrderMetrics содержит метрики операций над заказами.
type OrderMetrics struct {
	operations     *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	conflictRetry  *prometheus.CounterVec
	completedTotal prometheus.Histogram
	timelineEvents prometheus.Counter
}

// NewOrderMetrics регистрирует метрики в глобальном реестре.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в переданном реестре.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		operations: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oms_order_operations_total",
			Help: "Total number of order operations grouped by operation and result.",
		}, []string{"operation", "result"})),
		duration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oms_order_operation_duration_seconds",
			Help:    "Duration of order operations in seconds, retries included.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"})),
		conflictRetry: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oms_order_conflict_retries_total",
			Help: "Total number of retries caused by transactional conflicts.",
		}, []string{"operation"})),
		completedTotal: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "oms_order_completed_total_minor",
			Help:    "Distribution of completed order totals in minor currency units.",
			Buckets: prometheus.ExponentialBuckets(100, 4, 8),
		})),
		timelineEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oms_timeline_events_total",
			Help: "Total number of timeline events recorded.",
		})),
	}
}

func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		var alreadyRegistered prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyRegistered) {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector %T already registered with unexpected type", collector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector %T: %v", collector, err))
	}
	return collector
}

// ObserveOperation фиксирует результат и длительность операции.
// Безопасен для nil-получателя.
func (m *OrderMetrics) ObserveOperation(operation, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, result).Inc()
	m.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordConflictRetry увеличивает счётчик повторов после конфликта.
func (m *OrderMetrics) RecordConflictRetry(operation string) {
	if m == nil {
		return
	}
	m.conflictRetry.WithLabelValues(operation).Inc()
}

// RecordCompleted фиксирует итог завершённого заказа.
func (m *OrderMetrics) RecordCompleted(priceTotalMinor int64) {
	if m == nil {
		return
	}
	m.completedTotal.Observe(float64(priceTotalMinor))
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *OrderMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

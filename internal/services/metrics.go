package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// Entities reported in metrics and logs.
const (
	EntityTransactions = "transactions"
	EntityCategories   = "categories"
	EntityBudget       = "budget"
)

// MetricsRecorder receives sync and rollover events.
type MetricsRecorder interface {
	ReconcilePass(entity string, writes, deletes, skipped int)
	PushResult(entity, op string, err error)
	RolloverAdjustment(created bool)
	SavingsRecorded(amount decimal.Decimal)
}

type NoopMetrics struct{}

func (NoopMetrics) ReconcilePass(string, int, int, int) {}
func (NoopMetrics) PushResult(string, string, error) {}
func (NoopMetrics) RolloverAdjustment(bool) {}
func (NoopMetrics) SavingsRecorded(decimal.Decimal) {}

type PrometheusMetrics struct {
	reconcilePasses *prometheus.CounterVec
	reconcileWrites *prometheus.CounterVec
	skippedEntries  *prometheus.CounterVec
	pushes          *prometheus.CounterVec
	adjustments     *prometheus.CounterVec
	savings         prometheus.Counter
}

// NewPrometheusMetrics registers the collectors with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		reconcilePasses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weeklytotals_reconcile_passes_total",
				Help: "Total number of reconciliation passes",
			},
			[]string{"entity"},
		),
		reconcileWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weeklytotals_reconcile_writes_total",
				Help: "Local writes planned by reconciliation passes",
			},
			[]string{"entity", "kind"},
		),
		skippedEntries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weeklytotals_reconcile_skipped_entries_total",
				Help: "Malformed remote entries skipped during reconciliation",
			},
			[]string{"entity"},
		),
		pushes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weeklytotals_push_total",
				Help: "Writes sent to the replica",
			},
			[]string{"entity", "operation", "status"},
		),
		adjustments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weeklytotals_rollover_adjustments_total",
				Help: "Adjustments considered by the rollover",
			},
			[]string{"result"},
		),
		savings: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "weeklytotals_savings_recorded_total",
				Help: "Total amount added to savings by rollovers",
			},
		),
	}
}

func (m *PrometheusMetrics) ReconcilePass(entity string, writes, deletes, skipped int) {
	m.reconcilePasses.WithLabelValues(entity).Inc()
	m.reconcileWrites.WithLabelValues(entity, "upsert").Add(float64(writes))
	m.reconcileWrites.WithLabelValues(entity, "delete").Add(float64(deletes))
	m.skippedEntries.WithLabelValues(entity).Add(float64(skipped))
}

func (m *PrometheusMetrics) PushResult(entity, op string, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	m.pushes.WithLabelValues(entity, op, status).Inc()
}

func (m *PrometheusMetrics) RolloverAdjustment(created bool) {
	if created {
		m.adjustments.WithLabelValues("created").Inc()
		return
	}
	m.adjustments.WithLabelValues("skipped").Inc()
}

func (m *PrometheusMetrics) SavingsRecorded(amount decimal.Decimal) {
	if amount.IsPositive() {
		m.savings.Add(amount.InexactFloat64())
	}
}

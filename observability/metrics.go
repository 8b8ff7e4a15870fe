package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the ledger's collectors. A nil *Metrics is valid and
// records nothing, so tests can omit it.
type Metrics struct {
	reconciliations *prometheus.CounterVec
	reconcileTime   prometheus.Histogram
	anomalies       *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	reports         *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdm_reconciliations_total",
			Help: "Month reconciliations by result.",
		}, []string{"result"}),
		reconcileTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mdm_reconcile_duration_seconds",
			Help:    "Time spent replaying a month.",
			Buckets: prometheus.DefBuckets,
		}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdm_negative_stock_anomalies_total",
			Help: "Days where consumption exceeded available rice stock.",
		}, []string{"segment"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdm_month_transitions_total",
			Help: "Month lifecycle transitions.",
		}, []string{"transition"}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdm_reports_generated_total",
			Help: "Report snapshots generated by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.reconciliations, m.reconcileTime, m.anomalies, m.transitions, m.reports)
	return m
}

func (m *Metrics) ObserveReconcile(err error, took time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.reconciliations.WithLabelValues(result).Inc()
	m.reconcileTime.Observe(took.Seconds())
}

func (m *Metrics) NegativeStock(segment string) {
	if m == nil {
		return
	}
	m.anomalies.WithLabelValues(segment).Inc()
}

func (m *Metrics) Transition(name string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(name).Inc()
}

func (m *Metrics) ReportGenerated(kind string) {
	if m == nil {
		return
	}
	m.reports.WithLabelValues(kind).Inc()
}

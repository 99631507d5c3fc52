package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsObserver exports invocation counters to prometheus
type MetricsObserver struct {
	invocations     *prometheus.CounterVec
	attemptFailures *prometheus.CounterVec
	records         *prometheus.CounterVec
	cost            *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	executions      *prometheus.CounterVec
}

func NewMetricsObserver(registerer prometheus.Registerer) *MetricsObserver {
	return &MetricsObserver{
		invocations: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Namespace: "semopt",
			Name:      "operator_invocations_total",
			Help:      "Total number of successful operator invocations.",
		}, []string{"kind", "impl"}),
		attemptFailures: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Namespace: "semopt",
			Name:      "operator_attempt_failures_total",
			Help:      "Total number of failed operator invocation attempts.",
		}, []string{"kind", "impl"}),
		records: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Namespace: "semopt",
			Name:      "operator_output_records_total",
			Help:      "Total number of records emitted by operators.",
		}, []string{"kind", "impl"}),
		cost: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Namespace: "semopt",
			Name:      "operator_cost_usd_total",
			Help:      "Total inference cost charged by operators in USD.",
		}, []string{"kind", "impl"}),
		duration: promauto.With(registerer).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "semopt",
			Name:      "operator_invocation_duration_seconds",
			Help:      "Latency of successful operator invocations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "impl"}),
		executions: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Namespace: "semopt",
			Name:      "executions_total",
			Help:      "Total number of plan executions by status.",
		}, []string{"status"}),
	}
}

func (mo *MetricsObserver) OnEvent(ev Event) {
	switch ev.Type {
	case RecordCompleted:
		labels := prometheus.Labels{"kind": ev.Kind, "impl": ev.ImplTag}
		mo.invocations.With(labels).Inc()
		mo.records.With(labels).Add(float64(ev.Outputs))
		mo.cost.With(labels).Add(ev.Cost)
		mo.duration.With(labels).Observe(ev.Elapsed.Seconds())
	case RecordFailed:
		mo.attemptFailures.With(prometheus.Labels{"kind": ev.Kind, "impl": ev.ImplTag}).Inc()
	case ExecutionFinished:
		status := "ok"
		if ev.Err != nil {
			status = "error"
		}
		mo.executions.WithLabelValues(status).Inc()
	}
}

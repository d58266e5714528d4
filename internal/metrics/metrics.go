package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/liamcoop/screener/screener"
)

// Metrics provides observability for screener evaluation.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	Evaluations        *prometheus.CounterVec
	RuleErrors         *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	RejectedVersions   prometheus.Gauge
}

// New creates a Metrics instance registered with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_evaluations_total",
			Help: "Total number of screener evaluations by outcome",
		}, []string{"outcome", "undetermined"}),
		RuleErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_rule_errors_total",
			Help: "Rules skipped because their condition could not be evaluated",
		}, []string{"kind"}),
		EvaluationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "screener_evaluation_duration_seconds",
			Help:    "Duration of a single screener evaluation",
			Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05},
		}),
		RejectedVersions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "screener_rejected_versions",
			Help: "Published screener versions refused by the definition check at last load",
		}),
	}
}

// ObserveEvaluation records the outcome and duration of an evaluation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveEvaluation(result screener.EvaluationResult, start time.Time) {
	if m == nil {
		return
	}
	undetermined := "false"
	if result.Undetermined() {
		undetermined = "true"
	}
	m.Evaluations.WithLabelValues(string(result.Outcome), undetermined).Inc()
	m.EvaluationDuration.Observe(time.Since(start).Seconds())
}

// RuleError counts a skipped rule. It matches the engine's rule error hook.
func (m *Metrics) RuleError(e screener.RuleError) {
	if m == nil {
		return
	}
	m.RuleErrors.WithLabelValues(string(e.Kind)).Inc()
}

// SetRejectedVersions records how many versions failed the definition check
func (m *Metrics) SetRejectedVersions(n int) {
	if m == nil {
		return
	}
	m.RejectedVersions.Set(float64(n))
}

// File: internal/observability/metrics.go
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "arbiter"

// Metrics holds the control plane's prometheus collectors. A nil *Metrics is
// valid and records nothing, so components can take it unconditionally.
type Metrics struct {
	readinessScore   prometheus.Gauge
	probeResults     *prometheus.CounterVec
	battles          *prometheus.CounterVec
	battleDuration   prometheus.Histogram
	activeBattles    prometheus.Gauge
	recommendedLimit prometheus.Gauge
}

// NewMetrics registers every collector on reg. Passing a fresh registry per
// test keeps tests independent of the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		readinessScore: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "readiness_score",
			Help:      "Weighted readiness score of the latest evaluation (0-100).",
		}),
		probeResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "probe_results_total",
			Help:      "Probe results by status.",
		}, []string{"status"}),
		battles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "battles_total",
			Help:      "Battles reaching a terminal status.",
		}, []string{"status"}),
		battleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "battle_duration_seconds",
			Help:      "Wall time of terminal battles.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 30, 60, 300},
		}),
		activeBattles: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_battles",
			Help:      "Battles currently in flight.",
		}),
		recommendedLimit: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "tuning_recommended_limit",
			Help:      "Concurrency limit recommended by the latest auto-tune.",
		}),
	}
}

// ObserveEvaluation records the score and the per-status probe counts of one sweep.
func (m *Metrics) ObserveEvaluation(score int, statuses []string) {
	if m == nil {
		return
	}
	m.readinessScore.Set(float64(score))
	for _, s := range statuses {
		m.probeResults.WithLabelValues(s).Inc()
	}
}

// BattleFinished counts a terminal battle.
func (m *Metrics) BattleFinished(status string, seconds float64) {
	if m == nil {
		return
	}
	m.battles.WithLabelValues(status).Inc()
	m.battleDuration.Observe(seconds)
}

// SetActiveBattles records the number of battles in flight.
func (m *Metrics) SetActiveBattles(n int) {
	if m == nil {
		return
	}
	m.activeBattles.Set(float64(n))
}

// SetRecommendedLimit records the latest tuned concurrency limit.
func (m *Metrics) SetRecommendedLimit(n int) {
	if m == nil {
		return
	}
	m.recommendedLimit.Set(float64(n))
}

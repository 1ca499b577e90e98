package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveEvaluation(77, []string{"ok", "degraded", "ok", "down"})
	assert.Equal(t, 77.0, testutil.ToFloat64(m.readinessScore))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.probeResults.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.probeResults.WithLabelValues("down")))

	m.BattleFinished("completed", 0.2)
	m.BattleFinished("completed", 0.3)
	m.BattleFinished("failed", 0.1)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.battles.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.battles.WithLabelValues("failed")))

	m.SetActiveBattles(3)
	m.SetRecommendedLimit(4)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeBattles))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.recommendedLimit))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "arbiter_readiness_score")
	assert.Contains(t, names, "arbiter_battles_total")
	assert.Contains(t, names, "arbiter_tuning_recommended_limit")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveEvaluation(50, []string{"ok"})
		m.BattleFinished("completed", 1)
		m.SetActiveBattles(1)
		m.SetRecommendedLimit(1)
	})
}

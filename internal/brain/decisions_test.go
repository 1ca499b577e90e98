package brain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/arbiter/internal/config"
	"github.com/xkilldash9x/arbiter/internal/governance"
	"github.com/xkilldash9x/arbiter/internal/opmode"
	"github.com/xkilldash9x/arbiter/internal/readiness"
	"go.uber.org/zap/zaptest"
)

func TestAutoTune_Rules(t *testing.T) {
	cases := []struct {
		name      string
		metrics   ObservedMetrics
		want      int
		reasonHas string
	}{
		{"error rate wins over utilization", ObservedMetrics{ErrorRate: 0.2, QueueUtilization: 0.9}, 4, "error rate"},
		{"high latency", ObservedMetrics{AvgLatencyMs: 12000, QueueUtilization: 0.5}, 6, "high latency 12000ms"},
		{"busy and healthy holds at ceiling", ObservedMetrics{ErrorRate: 0.01, QueueUtilization: 0.95}, 8, "high utilization, low errors"},
		{"busy with moderate errors falls through", ObservedMetrics{ErrorRate: 0.1, QueueUtilization: 0.95}, 8, "nominal"},
		{"idle", ObservedMetrics{QueueUtilization: 0.1}, 7, "low utilization 10%"},
		{"nominal", ObservedMetrics{ErrorRate: 0.01, AvgLatencyMs: 200, QueueUtilization: 0.5}, 8, "nominal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newTestBrain(t)
			rec := b.AutoTune(tc.metrics)
			assert.Equal(t, 8, rec.PreviousLimit)
			assert.Equal(t, tc.want, rec.RecommendedLimit)
			assert.Contains(t, rec.Reason, tc.reasonHas)
			assert.Equal(t, tc.metrics, rec.Observed)
		})
	}
}

func TestAutoTune_FloorsAtOne(t *testing.T) {
	cfg := config.NewDefaultConfig().Brain()
	cfg.MaxConcurrentTasks = 1
	b := New(zaptest.NewLogger(t), cfg, nil)

	assert.Equal(t, 1, b.AutoTune(ObservedMetrics{ErrorRate: 0.5}).RecommendedLimit)
	assert.Equal(t, 1, b.AutoTune(ObservedMetrics{AvgLatencyMs: 20000, QueueUtilization: 0.5}).RecommendedLimit)
	assert.Equal(t, 1, b.AutoTune(ObservedMetrics{QueueUtilization: 0}).RecommendedLimit)
}

func TestAutoTune_AppendsOneRecordPerCall(t *testing.T) {
	b := newTestBrain(t)
	for i := 1; i <= 3; i++ {
		b.AutoTune(ObservedMetrics{QueueUtilization: 0.5})
		assert.Len(t, b.TuningHistory(), i)
	}
}

func TestOnCheckpoint(t *testing.T) {
	b := newTestBrain(t)

	absent := b.OnCheckpoint(CheckpointRecord{ID: "cp-1", Decision: "proceed"})
	assert.Equal(t, 100, absent.ReadinessScore)
	assert.Equal(t, opmode.ModeAggressive, absent.Mode)
	assert.Equal(t, "proceed", absent.CheckpointDecision)
	assert.NotNil(t, absent.Recommendations)

	score := 55
	recs := []string{"scale workers"}
	entry := b.OnCheckpoint(CheckpointRecord{ID: "cp-2", ReadinessScore: &score, Recommendations: recs})
	assert.Equal(t, opmode.ModeMaintenance, entry.Mode)
	recs[0] = "mutated"
	assert.Equal(t, "scale workers", b.Decisions()[1].Recommendations[0], "entries are immutable")
}

func TestEvaluatePatternAdoption_RecordsActivations(t *testing.T) {
	policy, err := governance.ParsePolicy([]byte(governanceDoc))
	require.NoError(t, err)
	b := New(zaptest.NewLogger(t), config.NewDefaultConfig().Brain(), governance.NewGate(policy))

	assert.Equal(t, governance.DecisionAutoEnable, b.EvaluatePatternAdoption("performance_optimization").Decision)
	assert.Equal(t, governance.DecisionPendingApproval, b.EvaluatePatternAdoption("pattern_evolution").Decision)
	assert.Equal(t, governance.DecisionUnknown, b.EvaluatePatternAdoption("other").Decision)

	acts := b.Status().PatternActivations
	require.Len(t, acts, 1)
	assert.Equal(t, "performance_optimization", acts[0].PatternID)
}

func evaluation(score int, probes ...readiness.ProbeResult) readiness.Evaluation {
	return readiness.Evaluation{
		Timestamp: time.Now().UTC(),
		Score:     score,
		Mode:      readiness.ClassifyScore(score),
		Probes:    probes,
	}
}

func TestIngestEvaluation(t *testing.T) {
	b := newTestBrain(t)
	b.IngestEvaluation(evaluation(60,
		readiness.ProbeResult{Name: "api", Status: opmode.StatusOK, Latency: 12 * time.Millisecond, StatusCode: 200},
		readiness.ProbeResult{Name: "db", Status: opmode.StatusDown},
		readiness.ProbeResult{Name: "search", Status: opmode.StatusDegraded},
	))

	assert.Equal(t, opmode.ModeMaintenance, b.CurrentMode())
	snap := b.Status()
	require.NotNil(t, snap.LastEvaluation)
	assert.Equal(t, 60, snap.LastEvaluation.Score)
	require.Len(t, snap.HealthViews, 3)
	assert.Equal(t, HealthHealthy, snap.HealthViews[0].Status)
	assert.Equal(t, 200.0, snap.HealthViews[0].Metrics["status_code"])
	assert.Equal(t, HealthDown, snap.HealthViews[1].Status)
	assert.Equal(t, HealthDegraded, snap.HealthViews[2].Status)
}

func TestAdmitBattle(t *testing.T) {
	t.Run("recovery defers", func(t *testing.T) {
		b := newTestBrain(t)
		b.IngestEvaluation(evaluation(20))
		ok, reason := b.AdmitBattle("checkout")
		assert.False(t, ok)
		assert.Contains(t, reason, "recovery")
	})

	t.Run("maintenance is throttled", func(t *testing.T) {
		cfg := config.NewDefaultConfig().Brain()
		cfg.MaintenanceBattleRate = 0
		cfg.MaintenanceBattleBurst = 2
		b := New(zaptest.NewLogger(t), cfg, nil)
		b.IngestEvaluation(evaluation(60))

		ok1, _ := b.AdmitBattle("a")
		ok2, _ := b.AdmitBattle("b")
		ok3, reason := b.AdmitBattle("c")
		assert.True(t, ok1)
		assert.True(t, ok2)
		assert.False(t, ok3)
		assert.Contains(t, reason, "budget exhausted")
	})

	t.Run("healthy admits", func(t *testing.T) {
		b := newTestBrain(t)
		for i := 0; i < 5; i++ {
			ok, _ := b.AdmitBattle("x")
			assert.True(t, ok)
		}
	})
}

func TestRecordBattleOutcome(t *testing.T) {
	b := newTestBrain(t)
	b.IngestEvaluation(evaluation(90))

	entry := b.RecordBattleOutcome(BattleOutcome{
		BattleID:    "arena-1",
		Target:      "checkout",
		Status:      "completed",
		Winner:      "solution-b",
		Improvement: 25,
	})
	assert.Equal(t, ActionBattle, entry.Action)
	assert.Equal(t, "arena-1", entry.CheckpointID)
	assert.Equal(t, 90, entry.ReadinessScore)
	assert.Equal(t, opmode.ModeAggressive, entry.Mode)
	require.Len(t, entry.Recommendations, 1)
	assert.Contains(t, entry.Recommendations[0], "solution-b won checkout")

	failed := b.RecordBattleOutcome(BattleOutcome{BattleID: "arena-2", Status: "failed", Error: "generator crashed"})
	assert.Equal(t, "generator crashed", failed.Error)
	assert.Len(t, b.Decisions(), 2)

	noWinner := b.RecordBattleOutcome(BattleOutcome{
		BattleID: "arena-3",
		Target:   "api",
		Status:   "no_winner",
		Reason:   "best candidate solution-a improved 5.0%, below threshold 10.0%",
	})
	assert.Equal(t, []string{"best candidate solution-a improved 5.0%, below threshold 10.0%"}, noWinner.Recommendations)
}

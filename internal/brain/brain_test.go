package brain

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/arbiter/internal/config"
	"github.com/xkilldash9x/arbiter/internal/governance"
	"github.com/xkilldash9x/arbiter/internal/opmode"
	"github.com/xkilldash9x/arbiter/internal/readiness"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newTestBrain(t *testing.T) *Brain {
	t.Helper()
	return New(zaptest.NewLogger(t), config.NewDefaultConfig().Brain(), nil)
}

// mapLoader serves documents from memory; unknown names are missing.
func mapLoader(docs map[string]string) Loader {
	return func(name string) ([]byte, error) {
		doc, ok := docs[name]
		if !ok {
			return nil, fmt.Errorf("open %s: %w", name, fs.ErrNotExist)
		}
		return []byte(doc), nil
	}
}

const governanceDoc = `
accessControl:
  rules:
    - role: operator
      allowedDomains: [arena]
      allowedActions: [merge]
changePolicy:
  autoEnablePatterns:
    allowed: [performance_optimization]
    requireApproval: [pattern_evolution]
`

func TestLoadConfigs(t *testing.T) {
	t.Run("documents populate state", func(t *testing.T) {
		b := newTestBrain(t)
		err := b.LoadConfigs(mapLoader(map[string]string{
			ServiceCatalogFile:   "roles: []\ntools: []\n",
			ResourcePoliciesFile: "concurrency:\n  maxConcurrentTasks: 12\n",
			ConceptsIndexFile: `
implementedConcepts: [a, b, c]
plannedConcepts: [{id: d}]
publicDomainPatterns: []
`,
			GovernancePoliciesFile: governanceDoc,
		}))
		require.NoError(t, err)

		assert.Equal(t, 12, b.ConcurrencyLimit())
		snap := b.Status()
		assert.Equal(t, []string{"roles", "tools"}, snap.CatalogSections)
		assert.Equal(t, ConceptStats{Implemented: 3, Planned: 1, PublicDomain: 0}, snap.ConceptStats)
		assert.True(t, b.CheckGovernance("merge", "operator", "arena").Allowed)
	})

	t.Run("missing documents load as empty", func(t *testing.T) {
		b := newTestBrain(t)
		require.NoError(t, b.LoadConfigs(mapLoader(nil)))
		assert.Equal(t, DefaultMaxConcurrentTasks, b.ConcurrencyLimit())
		assert.Empty(t, b.Decisions())
	})

	t.Run("parse error keeps previous documents", func(t *testing.T) {
		core, logs := observer.New(zap.ErrorLevel)
		b := New(zap.New(core), config.NewDefaultConfig().Brain(), nil)
		require.NoError(t, b.LoadConfigs(mapLoader(map[string]string{
			ResourcePoliciesFile: "concurrency:\n  maxConcurrentTasks: 6\n",
		})))

		err := b.LoadConfigs(mapLoader(map[string]string{
			ResourcePoliciesFile: "concurrency:\n  maxConcurrentTasks: 20\n",
			ConceptsIndexFile:    "implementedConcepts: [unterminated",
		}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), ConceptsIndexFile)

		assert.Equal(t, 6, b.ConcurrencyLimit(), "previous policy stays in effect")
		assert.Equal(t, 1, logs.Len(), "failure is logged once")

		decisions := b.Decisions()
		require.Len(t, decisions, 1)
		assert.Equal(t, ActionLoadConfigs, decisions[0].Action)
		assert.NotEmpty(t, decisions[0].Error)
	})

	t.Run("directory loader", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, ResourcePoliciesFile),
			[]byte("concurrency:\n  maxConcurrentTasks: 3\n"), 0o600))

		b := newTestBrain(t)
		require.NoError(t, b.LoadConfigs(DirLoader(dir)))
		assert.Equal(t, 3, b.ConcurrencyLimit())
	})
}

func TestComputeReadinessScore(t *testing.T) {
	t.Run("explicit results use the weighted formula", func(t *testing.T) {
		b := newTestBrain(t)
		score := b.ComputeReadinessScore([]readiness.ProbeResult{
			{Criticality: opmode.CriticalityCritical, Status: opmode.StatusOK},
			{Criticality: opmode.CriticalityHigh, Status: opmode.StatusDegraded},
			{Criticality: opmode.CriticalityLow, Status: opmode.StatusDown},
		})
		assert.Equal(t, 77, score)
	})

	t.Run("no views estimates 100", func(t *testing.T) {
		assert.Equal(t, 100, newTestBrain(t).ComputeReadinessScore(nil))
	})

	t.Run("health view estimate", func(t *testing.T) {
		b := newTestBrain(t)
		b.UpdateHealth("api", HealthHealthy, nil)
		b.UpdateHealth("worker", HealthDegraded, nil)
		b.UpdateHealth("cache", HealthDown, nil)
		// (1 + 0.5) / 3
		assert.Equal(t, 50, b.ComputeReadinessScore(nil))

		b.UpdateHealth("cache", HealthHealthy, map[string]float64{"latency_ms": 3})
		// (2 + 0.5) / 3, last write wins.
		assert.Equal(t, 83, b.ComputeReadinessScore(nil))
	})
}

func TestDetermineMode_MatchesEvaluator(t *testing.T) {
	b := newTestBrain(t)
	for score := 0; score <= 100; score++ {
		assert.Equal(t, readiness.ClassifyScore(score), b.DetermineMode(score), "score %d", score)
	}
}

func TestStatus(t *testing.T) {
	b := newTestBrain(t)
	b.UpdateHealth("zeta", HealthHealthy, nil)
	b.UpdateHealth("alpha", HealthDown, nil)
	for i := 0; i < 12; i++ {
		b.OnCheckpoint(CheckpointRecord{ID: fmt.Sprintf("cp-%d", i)})
	}
	for i := 0; i < 7; i++ {
		b.AutoTune(ObservedMetrics{QueueUtilization: 0.5})
	}

	before := b.Decisions()
	snap := b.Status()

	assert.Equal(t, 50, snap.ReadinessScore)
	assert.Equal(t, opmode.ModeMaintenance, snap.Mode)
	require.Len(t, snap.HealthViews, 2)
	assert.Equal(t, "alpha", snap.HealthViews[0].Role)
	require.Len(t, snap.RecentDecisions, 10)
	assert.Equal(t, "cp-2", snap.RecentDecisions[0].CheckpointID)
	assert.Len(t, snap.RecentTuning, 5)
	assert.Nil(t, snap.LastEvaluation)

	assert.Equal(t, before, b.Decisions(), "status must not mutate state")
	assert.Len(t, b.TuningHistory(), 7)
}

func TestSetGate(t *testing.T) {
	b := newTestBrain(t)
	assert.False(t, b.CheckGovernance("merge", "operator", "arena").Allowed)

	policy, err := governance.ParsePolicy([]byte(governanceDoc))
	require.NoError(t, err)
	b.SetGate(governance.NewGate(policy))
	assert.True(t, b.CheckGovernance("merge", "operator", "arena").Allowed)

	b.SetGate(nil)
	assert.True(t, b.CheckGovernance("merge", "operator", "arena").Allowed, "nil gate is ignored")
}

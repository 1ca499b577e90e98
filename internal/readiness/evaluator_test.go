package readiness

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/arbiter/internal/observability"
	"github.com/xkilldash9x/arbiter/internal/opmode"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// httptest keeps idle keep-alive connections around until the server closes.
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
	)
}

func TestEvaluate_EmptyProbeSetIsHealthy(t *testing.T) {
	e := NewEvaluator(zaptest.NewLogger(t), nil)
	assert.Nil(t, e.LastEvaluation())

	ev := e.Evaluate(context.Background())
	assert.Equal(t, 100, ev.Score)
	assert.Equal(t, opmode.ModeAggressive, ev.Mode)
	assert.Zero(t, ev.ProbeCount)
	require.NotNil(t, e.LastEvaluation())
}

func TestEvaluate_MixedProbes(t *testing.T) {
	okSrv := newProbeServer(t, http.StatusOK, "ok", 0)
	degradedSrv := newProbeServer(t, http.StatusInternalServerError, "", 0)

	probes := []ProbeDefinition{
		{Name: "manager", Kind: KindHTTP, Criticality: opmode.CriticalityCritical, URL: okSrv.URL},
		{Name: "search", Kind: KindHTTP, Criticality: opmode.CriticalityHigh, URL: degradedSrv.URL},
		{Name: "cache", Kind: KindEnv, Criticality: opmode.CriticalityLow, EnvVar: "ARBITER_TEST_UNSET_VAR"},
	}
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	e := NewEvaluator(zaptest.NewLogger(t), probes, WithMetrics(metrics))

	ev := e.Evaluate(context.Background())

	// 40 + 10 + 0 out of 65.
	assert.Equal(t, 77, ev.Score)
	assert.Equal(t, opmode.ModeNormal, ev.Mode)
	assert.Equal(t, 3, ev.ProbeCount)
	assert.Equal(t, 1, ev.Healthy)
	assert.Equal(t, 1, ev.Degraded)
	assert.Equal(t, 1, ev.Down)

	// Results keep probe order regardless of completion order.
	require.Len(t, ev.Probes, 3)
	assert.Equal(t, "manager", ev.Probes[0].Name)
	assert.Equal(t, "search", ev.Probes[1].Name)
	assert.Equal(t, "cache", ev.Probes[2].Name)

	n, err := testutil.GatherAndCount(reg, "arbiter_probe_results_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestEvaluate_SlowProbeDoesNotBlockOthers(t *testing.T) {
	slow := newProbeServer(t, http.StatusOK, "", 2*time.Second)
	fast := newProbeServer(t, http.StatusOK, "", 0)

	e := NewEvaluator(zaptest.NewLogger(t), []ProbeDefinition{
		{Name: "slow", Kind: KindHTTP, Criticality: opmode.CriticalityMedium, URL: slow.URL, MaxLatency: 50 * time.Millisecond},
		{Name: "fast", Kind: KindHTTP, Criticality: opmode.CriticalityMedium, URL: fast.URL},
	})

	start := time.Now()
	ev := e.Evaluate(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, opmode.StatusDown, ev.Probes[0].Status)
	assert.Equal(t, opmode.StatusOK, ev.Probes[1].Status)
	assert.Equal(t, 50, ev.Score)
}

func TestEvaluate_HistoryIsBounded(t *testing.T) {
	e := NewEvaluator(zaptest.NewLogger(t), nil, WithHistoryLimit(3))
	var stamps []time.Time
	for i := 0; i < 5; i++ {
		stamps = append(stamps, e.Evaluate(context.Background()).Timestamp)
	}

	history := e.History()
	require.Len(t, history, 3)
	assert.Equal(t, stamps[2], history[0].Timestamp, "oldest entries are evicted first")
	assert.Equal(t, stamps[4], e.LastEvaluation().Timestamp)

	// The returned slice is a copy.
	history[0].Score = -1
	assert.NotEqual(t, -1, e.History()[0].Score)
}

func TestComputeScore_Deterministic(t *testing.T) {
	results := []ProbeResult{
		{Criticality: opmode.CriticalityCritical, Status: opmode.StatusOK, Latency: 5 * time.Millisecond},
		{Criticality: opmode.CriticalityHigh, Status: opmode.StatusDegraded, Latency: 1200 * time.Millisecond},
		{Criticality: opmode.CriticalityLow, Status: opmode.StatusDown},
	}
	first := ComputeScore(results)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ComputeScore(results))
	}
	assert.Equal(t, 77, first)
	assert.Equal(t, opmode.ModeNormal, ClassifyScore(first))
}

func TestComputeScore_Bounds(t *testing.T) {
	statuses := []opmode.Status{opmode.StatusOK, opmode.StatusDegraded, opmode.StatusDown}
	crits := []opmode.Criticality{opmode.CriticalityCritical, opmode.CriticalityHigh, opmode.CriticalityMedium, opmode.CriticalityLow, "other"}
	for _, s1 := range statuses {
		for _, s2 := range statuses {
			for _, c := range crits {
				score := ComputeScore([]ProbeResult{{Criticality: c, Status: s1}, {Criticality: opmode.CriticalityHigh, Status: s2}})
				assert.GreaterOrEqual(t, score, 0)
				assert.LessOrEqual(t, score, 100)
			}
		}
	}
}

package opmode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_Boundaries(t *testing.T) {
	cases := []struct {
		score int
		want  Mode
	}{
		{100, ModeAggressive},
		{85, ModeAggressive},
		{84, ModeNormal},
		{70, ModeNormal},
		{69, ModeMaintenance},
		{50, ModeMaintenance},
		{49, ModeRecovery},
		{0, ModeRecovery},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.score), "score %d", tc.score)
	}
}

func TestClassify_Monotonic(t *testing.T) {
	rank := map[Mode]int{ModeRecovery: 0, ModeMaintenance: 1, ModeNormal: 2, ModeAggressive: 3}
	prev := rank[Classify(0)]
	for s := 1; s <= 100; s++ {
		cur := rank[Classify(s)]
		assert.GreaterOrEqual(t, cur, prev, "mode regressed at score %d", s)
		prev = cur
	}
}

func TestWeight(t *testing.T) {
	assert.Equal(t, 40, Weight(CriticalityCritical))
	assert.Equal(t, 20, Weight(CriticalityHigh))
	assert.Equal(t, 10, Weight(CriticalityMedium))
	assert.Equal(t, 5, Weight(CriticalityLow))
	assert.Equal(t, DefaultWeight, Weight("bogus"))
}

func TestScore(t *testing.T) {
	t.Run("empty set is vacuously healthy", func(t *testing.T) {
		assert.Equal(t, 100, Score(nil))
	})

	t.Run("all ok and all down", func(t *testing.T) {
		ok := []Sample{{CriticalityCritical, StatusOK}, {CriticalityLow, StatusOK}}
		down := []Sample{{CriticalityCritical, StatusDown}, {CriticalityLow, StatusDown}}
		assert.Equal(t, 100, Score(ok))
		assert.Equal(t, 0, Score(down))
	})

	t.Run("mixed weighting", func(t *testing.T) {
		// 40 + 10 + 0 earned out of 65.
		samples := []Sample{
			{CriticalityCritical, StatusOK},
			{CriticalityHigh, StatusDegraded},
			{CriticalityLow, StatusDown},
		}
		assert.Equal(t, 77, Score(samples))
		assert.Equal(t, ModeNormal, Classify(Score(samples)))
	})

	t.Run("unknown criticality counts as medium", func(t *testing.T) {
		samples := []Sample{{"mystery", StatusOK}, {CriticalityMedium, StatusDown}}
		assert.Equal(t, 50, Score(samples))
	})
}

// File: internal/arena/battle.go
package arena

import (
	"errors"
	"strings"
	"time"

	"github.com/xkilldash9x/arbiter/internal/bus"
)

// Status is the lifecycle state of a battle.
type Status string

const (
	StatusInitializing    Status = "initializing"
	StatusGenerating      Status = "generating"
	StatusEvaluating      Status = "evaluating"
	StatusDeciding        Status = "deciding"
	StatusMerging         Status = "merging"
	StatusPendingApproval Status = "pending_approval"
	StatusCompleted       Status = "completed"
	StatusNoWinner        Status = "no_winner"
	StatusFailed          Status = "failed"
)

// Terminal reports whether a battle in this status has finished.
func (s Status) Terminal() bool {
	switch s {
	case StatusPendingApproval, StatusCompleted, StatusNoWinner, StatusFailed:
		return true
	}
	return false
}

// Metric names scored by default, and the "improvement" pseudo-metric every
// scorer reports alongside them.
const (
	MetricPerformance = "performance"
	MetricQuality     = "quality"
	MetricPatterns    = "patterns"
	MetricImprovement = "improvement"
)

// DefaultMetrics are scored when a trigger does not name any.
var DefaultMetrics = []string{MetricPerformance, MetricQuality, MetricPatterns}

// DefaultWeights combine DefaultMetrics into the composite score.
var DefaultWeights = map[string]float64{
	MetricPerformance: 0.4,
	MetricQuality:     0.3,
	MetricPatterns:    0.3,
}

// DefaultRounds is the number of scoring rounds averaged per competitor.
const DefaultRounds = 3

var (
	// ErrBattleDeferred is returned when admission control declines a new battle.
	ErrBattleDeferred = errors.New("battle deferred by admission control")
	// ErrTooManyBattles is returned when the active-battle cap is reached.
	ErrTooManyBattles = errors.New("too many active battles")
)

// Competitor is one candidate solution within a battle.
type Competitor struct {
	ID        string             `json:"id"`
	Strategy  string             `json:"strategy"`
	Path      string             `json:"path"`
	Metrics   map[string]float64 `json:"metrics"`
	Composite float64            `json:"composite"`
	Error     string             `json:"error,omitempty"`
}

// Battle is one bounded competition for a target.
type Battle struct {
	ID          string       `json:"id"`
	Target      string       `json:"target"`
	Status      Status       `json:"status"`
	Actor       string       `json:"actor,omitempty"`
	Competitors []Competitor `json:"competitors"`
	Rounds      int          `json:"rounds"`
	Metrics     []string     `json:"metrics"`
	Winner      string       `json:"winner,omitempty"`
	Improvement float64      `json:"improvement"`
	StartTime   time.Time    `json:"start_time"`
	EndTime     time.Time    `json:"end_time,omitempty"`
	Error       string       `json:"error,omitempty"`
	Reason      string       `json:"reason,omitempty"`
}

// Duration is the wall time of a finished battle, or zero while running.
func (b Battle) Duration() time.Duration {
	if b.EndTime.IsZero() {
		return 0
	}
	return b.EndTime.Sub(b.StartTime)
}

func (b *Battle) clone() Battle {
	out := *b
	out.Metrics = append([]string(nil), b.Metrics...)
	out.Competitors = make([]Competitor, len(b.Competitors))
	for i, c := range b.Competitors {
		c.Metrics = cloneMetrics(c.Metrics)
		out.Competitors[i] = c
	}
	return out
}

func cloneMetrics(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// competitorID returns solution-a .. solution-z, solution-aa, solution-ab, ...
func competitorID(i int) string {
	var sb strings.Builder
	for n := i + 1; n > 0; n = (n - 1) / 26 {
		sb.WriteByte(byte('a' + (n-1)%26))
	}
	letters := []byte(sb.String())
	for l, r := 0, len(letters)-1; l < r; l, r = l+1, r-1 {
		letters[l], letters[r] = letters[r], letters[l]
	}
	return "solution-" + string(letters)
}

// Bus topics published by the orchestrator.
const (
	TopicStarted             bus.Topic = "arena.started"
	TopicStopped             bus.Topic = "arena.stopped"
	TopicBattleStarted       bus.Topic = "arena.battle_started"
	TopicCompetitorEvaluated bus.Topic = "arena.competitor_evaluated"
	TopicBattleCompleted     bus.Topic = "arena.battle_completed"
	TopicBattleFailed        bus.Topic = "arena.battle_failed"
	TopicWinnerMerged        bus.Topic = "arena.winner_merged"
)

// AllTopics lists every topic the orchestrator publishes.
var AllTopics = []bus.Topic{
	TopicStarted,
	TopicStopped,
	TopicBattleStarted,
	TopicCompetitorEvaluated,
	TopicBattleCompleted,
	TopicBattleFailed,
	TopicWinnerMerged,
}

// LifecycleEvent is the payload of TopicStarted and TopicStopped.
type LifecycleEvent struct {
	Mode string `json:"mode"`
}

// CompetitorEvaluated is the payload of TopicCompetitorEvaluated.
type CompetitorEvaluated struct {
	BattleID   string     `json:"battle_id"`
	Competitor Competitor `json:"competitor"`
}

// WinnerMerged is the payload of TopicWinnerMerged.
type WinnerMerged struct {
	BattleID    string  `json:"battle_id"`
	Winner      string  `json:"winner"`
	Strategy    string  `json:"strategy"`
	Improvement float64 `json:"improvement"`
}

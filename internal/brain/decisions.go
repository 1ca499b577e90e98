// File: internal/brain/decisions.go
package brain

import (
	"fmt"
	"time"

	"github.com/xkilldash9x/arbiter/internal/governance"
	"github.com/xkilldash9x/arbiter/internal/opmode"
	"github.com/xkilldash9x/arbiter/internal/readiness"
	"go.uber.org/zap"
)

// Decision log actions. Checkpoint entries leave Action empty.
const (
	ActionLoadConfigs = "loadConfigs"
	ActionBattle      = "battle"
)

// DefaultCheckpointReadiness is assumed when a checkpoint carries no score.
const DefaultCheckpointReadiness = 100

// DecisionLogEntry is one immutable audit record.
type DecisionLogEntry struct {
	Timestamp          time.Time   `json:"timestamp"`
	CheckpointID       string      `json:"checkpoint_id,omitempty"`
	ReadinessScore     int         `json:"readiness_score"`
	Mode               opmode.Mode `json:"mode,omitempty"`
	CheckpointDecision string      `json:"checkpoint_decision,omitempty"`
	Recommendations    []string    `json:"recommendations"`
	Action             string      `json:"action,omitempty"`
	Error              string      `json:"error,omitempty"`
}

// CheckpointRecord is the input from an upstream checkpoint. A nil
// ReadinessScore means the checkpoint carried none.
type CheckpointRecord struct {
	ID              string
	ReadinessScore  *int
	Decision        string
	Recommendations []string
}

// PatternActivation records an auto-enabled pattern.
type PatternActivation struct {
	Timestamp time.Time `json:"timestamp"`
	PatternID string    `json:"pattern_id"`
	Reason    string    `json:"reason"`
}

// OnCheckpoint classifies the checkpoint's readiness, appends one decision
// entry and returns it.
func (b *Brain) OnCheckpoint(rec CheckpointRecord) DecisionLogEntry {
	score := DefaultCheckpointReadiness
	if rec.ReadinessScore != nil {
		score = *rec.ReadinessScore
	}
	recs := make([]string, len(rec.Recommendations))
	copy(recs, rec.Recommendations)

	entry := DecisionLogEntry{
		Timestamp:          time.Now().UTC(),
		CheckpointID:       rec.ID,
		ReadinessScore:     score,
		Mode:               opmode.Classify(score),
		CheckpointDecision: rec.Decision,
		Recommendations:    recs,
	}

	b.mu.Lock()
	b.decisions = append(b.decisions, entry)
	b.mu.Unlock()

	b.logger.Info("Checkpoint recorded.",
		zap.String("checkpoint_id", rec.ID),
		zap.Int("readiness_score", score),
		zap.String("mode", string(entry.Mode)))
	return entry
}

// Decisions returns a copy of the full decision log.
func (b *Brain) Decisions() []DecisionLogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]DecisionLogEntry, len(b.decisions))
	copy(out, b.decisions)
	return out
}

// CheckGovernance asks the governance gate whether actor may perform action
// in domain. No I/O.
func (b *Brain) CheckGovernance(action, actor, domain string) governance.Authorization {
	b.mu.RLock()
	gate := b.gate
	b.mu.RUnlock()
	return gate.Authorize(action, actor, domain)
}

// EvaluatePatternAdoption classifies a pattern and records auto-enabled ones
// as activations.
func (b *Brain) EvaluatePatternAdoption(patternID string) governance.Adoption {
	b.mu.Lock()
	defer b.mu.Unlock()

	adoption := b.gate.ClassifyPattern(patternID)
	if adoption.Decision == governance.DecisionAutoEnable {
		b.activations = append(b.activations, PatternActivation{
			Timestamp: time.Now().UTC(),
			PatternID: patternID,
			Reason:    adoption.Reason,
		})
	}
	return adoption
}

// IngestEvaluation records a readiness evaluation and mirrors each probe
// result into the health view of the probe's name.
func (b *Brain) IngestEvaluation(ev readiness.Evaluation) {
	now := time.Now().UTC()

	b.mu.Lock()
	defer b.mu.Unlock()

	latest := ev
	b.latest = &latest
	for _, p := range ev.Probes {
		metrics := map[string]float64{"latency_ms": float64(p.Latency.Milliseconds())}
		if p.StatusCode != 0 {
			metrics["status_code"] = float64(p.StatusCode)
		}
		b.health[p.Name] = HealthView{
			Role:      p.Name,
			Status:    healthFromProbe(p.Status),
			LastCheck: now,
			Metrics:   metrics,
		}
	}
}

func healthFromProbe(s opmode.Status) HealthStatus {
	switch s {
	case opmode.StatusOK:
		return HealthHealthy
	case opmode.StatusDegraded:
		return HealthDegraded
	default:
		return HealthDown
	}
}

// CurrentMode is the mode of the latest ingested evaluation, or the
// health-view estimate when nothing was ingested yet.
func (b *Brain) CurrentMode() opmode.Mode {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.currentModeLocked()
}

func (b *Brain) currentModeLocked() opmode.Mode {
	if b.latest != nil {
		return b.latest.Mode
	}
	return opmode.Classify(b.estimateLocked())
}

// AdmitBattle decides whether a new battle may start now. Recovery defers
// every battle, maintenance admits battles at a throttled rate.
func (b *Brain) AdmitBattle(target string) (bool, string) {
	b.mu.RLock()
	mode := b.currentModeLocked()
	b.mu.RUnlock()

	switch mode {
	case opmode.ModeRecovery:
		return false, "system is in recovery mode"
	case opmode.ModeMaintenance:
		if !b.maintenanceLimiter.Allow() {
			return false, fmt.Sprintf("maintenance mode battle budget exhausted for target %s", target)
		}
		return true, "admitted under maintenance throttle"
	default:
		return true, fmt.Sprintf("admitted in %s mode", mode)
	}
}

// BattleOutcome summarizes a terminal battle for the decision log.
type BattleOutcome struct {
	BattleID    string
	Target      string
	Status      string
	Winner      string
	Improvement float64
	Reason      string
	Error       string
}

// RecordBattleOutcome appends a battle entry to the decision log.
func (b *Brain) RecordBattleOutcome(o BattleOutcome) DecisionLogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	score := b.estimateLocked()
	if b.latest != nil {
		score = b.latest.Score
	}
	entry := DecisionLogEntry{
		Timestamp:          time.Now().UTC(),
		CheckpointID:       o.BattleID,
		ReadinessScore:     score,
		Mode:               opmode.Classify(score),
		CheckpointDecision: o.Status,
		Recommendations:    []string{},
		Action:             ActionBattle,
		Error:              o.Error,
	}
	if o.Winner != "" {
		entry.Recommendations = append(entry.Recommendations,
			fmt.Sprintf("%s won %s with %.1f%% improvement", o.Winner, o.Target, o.Improvement))
	}
	if o.Reason != "" {
		entry.Recommendations = append(entry.Recommendations, o.Reason)
	}
	b.decisions = append(b.decisions, entry)
	return entry
}

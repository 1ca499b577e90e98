// File: internal/service/cycle.go
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/arbiter/internal/arena"
	"github.com/xkilldash9x/arbiter/internal/brain"
	"github.com/xkilldash9x/arbiter/internal/bus"
	"github.com/xkilldash9x/arbiter/internal/opmode"
	"github.com/xkilldash9x/arbiter/internal/readiness"
)

// Checkpoint decisions taken for each operating mode.
const (
	DecisionExpand   = "expand"
	DecisionContinue = "continue"
	DecisionThrottle = "throttle"
	DecisionEscalate = "escalate"
)

// observationWindow is how many recent battles feed the tuning observation.
const observationWindow = 20

// journalTimeout bounds a single journal write.
const journalTimeout = 5 * time.Second

// CycleReport is the outcome of one control iteration.
type CycleReport struct {
	Evaluation readiness.Evaluation   `json:"evaluation"`
	Decision   brain.DecisionLogEntry `json:"decision"`
	Tuning     brain.TuningRecord     `json:"tuning"`
}

// DecisionFor maps an operating mode to its checkpoint decision.
func DecisionFor(mode opmode.Mode) string {
	switch mode {
	case opmode.ModeAggressive:
		return DecisionExpand
	case opmode.ModeNormal:
		return DecisionContinue
	case opmode.ModeMaintenance:
		return DecisionThrottle
	default:
		return DecisionEscalate
	}
}

// Cycle performs one control iteration: a readiness sweep feeds the brain,
// the brain records a checkpoint, the arena's recent battles are turned into
// observed metrics for auto-tuning, and the recommended limit becomes the
// arena's active-battle cap.
func (c *Components) Cycle(ctx context.Context) (CycleReport, error) {
	if err := ctx.Err(); err != nil {
		return CycleReport{}, err
	}

	ev := c.Evaluator.Evaluate(ctx)
	c.Brain.IngestEvaluation(ev)

	c.mu.Lock()
	c.cycles++
	id := fmt.Sprintf("cycle-%d", c.cycles)
	c.mu.Unlock()

	score := ev.Score
	entry := c.Brain.OnCheckpoint(brain.CheckpointRecord{
		ID:              id,
		ReadinessScore:  &score,
		Decision:        DecisionFor(ev.Mode),
		Recommendations: recommendationsFor(ev),
	})

	rec := c.Brain.AutoTune(c.observe())
	c.Arena.SetMaxActiveBattles(battleCap(c.Config.Arena().MaxActiveBattles, rec.RecommendedLimit))
	c.Metrics.SetRecommendedLimit(rec.RecommendedLimit)

	c.journalDecision(ctx, entry)
	c.journalTuning(ctx, rec)

	c.logger.Info("Control cycle complete.",
		zap.String("checkpoint_id", id),
		zap.Int("readiness_score", ev.Score),
		zap.String("mode", string(ev.Mode)),
		zap.String("decision", entry.CheckpointDecision),
		zap.Int("recommended_limit", rec.RecommendedLimit),
		zap.String("tuning_reason", rec.Reason))

	return CycleReport{Evaluation: ev, Decision: entry, Tuning: rec}, nil
}

// battleCap bounds a configured active-battle cap by the tuner's
// recommendation. An unconfigured cap (zero) stays unbounded.
func battleCap(configured, recommended int) int {
	if configured <= 0 {
		return 0
	}
	return max(1, min(configured, recommended))
}

// recommendationsFor lists one follow-up per probe that is not ok.
func recommendationsFor(ev readiness.Evaluation) []string {
	var out []string
	for _, p := range ev.Probes {
		if p.Status == opmode.StatusOK {
			continue
		}
		out = append(out, fmt.Sprintf("investigate %s probe %q (%s)", p.Criticality, p.Name, p.Status))
	}
	return out
}

// observe derives tuning inputs from the arena: the failed share of recent
// battles, their mean duration, and active battles over the current limit.
func (c *Components) observe() brain.ObservedMetrics {
	var m brain.ObservedMetrics

	recent := c.Arena.History(observationWindow)
	if len(recent) > 0 {
		var failed int
		var total time.Duration
		for _, b := range recent {
			if b.Status == arena.StatusFailed {
				failed++
			}
			total += b.Duration()
		}
		m.ErrorRate = float64(failed) / float64(len(recent))
		m.AvgLatencyMs = float64(total.Milliseconds()) / float64(len(recent))
	}

	if limit := c.Brain.ConcurrencyLimit(); limit > 0 {
		m.QueueUtilization = float64(len(c.Arena.Status().ActiveBattles)) / float64(limit)
	}
	return m
}

// Run starts the arena and repeats Cycle every readiness interval until ctx
// is cancelled. The first cycle runs immediately.
func (c *Components) Run(ctx context.Context) error {
	interval := c.Config.Readiness().Interval
	if interval <= 0 {
		return fmt.Errorf("readiness interval must be positive, got %s", interval)
	}

	c.Arena.Start(ctx)
	defer c.Arena.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := c.Cycle(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("Control cycle failed.", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			c.logger.Info("Control loop stopping.")
			return nil
		case <-ticker.C:
		}
	}
}

// startOutcomeConsumer forwards terminal battles from the bus into the
// brain's decision log and the journal.
func (c *Components) startOutcomeConsumer() {
	// The bus closes ch on Shutdown, which ends the loop.
	ch, _ := c.Bus.Subscribe(arena.TopicBattleCompleted, arena.TopicBattleFailed)

	c.consumerWG.Add(1)
	go func() {
		defer c.consumerWG.Done()
		for msg := range ch {
			c.processOutcome(msg)
		}
	}()
}

func (c *Components) processOutcome(msg bus.Message) {
	defer c.Bus.Acknowledge(msg)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic while processing battle outcome.", zap.Any("panic", r), zap.String("message_id", msg.ID))
		}
	}()

	b, ok := msg.Payload.(arena.Battle)
	if !ok {
		c.logger.Warn("Unexpected battle outcome payload.", zap.String("topic", string(msg.Topic)))
		return
	}
	entry := c.Brain.RecordBattleOutcome(brain.BattleOutcome{
		BattleID:    b.ID,
		Target:      b.Target,
		Status:      string(b.Status),
		Winner:      b.Winner,
		Improvement: b.Improvement,
		Reason:      b.Reason,
		Error:       b.Error,
	})
	c.journalDecision(context.Background(), entry)
}

func (c *Components) journalDecision(ctx context.Context, e brain.DecisionLogEntry) {
	if c.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()
	if err := c.journal.RecordDecision(ctx, e); err != nil {
		c.logger.Warn("Failed to journal decision.", zap.String("checkpoint_id", e.CheckpointID), zap.Error(err))
	}
}

func (c *Components) journalTuning(ctx context.Context, r brain.TuningRecord) {
	if c.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()
	if err := c.journal.RecordTuning(ctx, r); err != nil {
		c.logger.Warn("Failed to journal tuning record.", zap.Error(err))
	}
}

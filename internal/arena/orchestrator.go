// File: internal/arena/orchestrator.go
// Description: The arena orchestrator runs bounded battles between competing
// solutions for a target and merges the winner when it clears the configured
// improvement threshold. Battles can be triggered directly or by the
// monitoring/scheduled ticker started with Start.

package arena

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xkilldash9x/arbiter/internal/bus"
	"github.com/xkilldash9x/arbiter/internal/config"
	"github.com/xkilldash9x/arbiter/internal/governance"
	"github.com/xkilldash9x/arbiter/internal/observability"
	"go.uber.org/zap"
)

// MergeAction is the governance action checked for an actor before a merge,
// and MergeDomain the domain it is checked in.
const (
	MergeAction = "merge"
	MergeDomain = "arena"
)

// DefaultHistoryLimit is used by History when the caller passes no limit.
const DefaultHistoryLimit = 10

// Options tune a single triggered battle. Zero values fall back to defaults.
type Options struct {
	Rounds     int
	Metrics    []string
	Strategies []string
	// Actor, when set, must be authorized for MergeAction in MergeDomain
	// before a winner is merged automatically.
	Actor string
}

// Deps are the orchestrator's injected collaborators. Every field is optional.
type Deps struct {
	Bus       *bus.Bus
	Generator Generator
	Scorer    Scorer
	Merger    Merger
	Scout     Scout
	Archive   Archive
	Admission Admission
	Governor  Governor
	Metrics   *observability.Metrics
}

// Orchestrator runs battles. It is safe for concurrent use.
type Orchestrator struct {
	logger *zap.Logger
	cfg    config.ArenaConfig
	deps   Deps

	// mu guards every battle reachable from active or history, plus the
	// fields below it.
	mu        sync.Mutex
	active    map[string]*Battle
	history   []*Battle
	maxActive int
	reserved  int // slots held by battles awaiting admission
	running   bool
	stopCh    chan struct{}
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
}

// New creates an orchestrator. Missing collaborators get defaults: a no-op
// generator, the hash scorer and a merger that only logs.
func New(logger *zap.Logger, cfg config.ArenaConfig, deps Deps) *Orchestrator {
	logger = logger.Named("arena")
	if deps.Generator == nil {
		deps.Generator = nopGenerator{}
	}
	if deps.Scorer == nil {
		deps.Scorer = HashScorer{}
	}
	if deps.Merger == nil {
		deps.Merger = logMerger{logger: logger}
	}
	if len(cfg.Weights) == 0 {
		cfg.Weights = DefaultWeights
	}
	if cfg.Mode == "" {
		cfg.Mode = config.ArenaModeTriggered
	}
	return &Orchestrator{
		logger:    logger,
		cfg:       cfg,
		deps:      deps,
		active:    make(map[string]*Battle),
		maxActive: cfg.MaxActiveBattles,
	}
}

// SetMaxActiveBattles caps concurrent battles. Zero removes the cap.
func (o *Orchestrator) SetMaxActiveBattles(n int) {
	if n < 0 {
		n = 0
	}
	o.mu.Lock()
	o.maxActive = n
	o.mu.Unlock()
}

// Start begins the mode-specific ticker. Calling Start on a running
// orchestrator is a no-op.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		o.logger.Info("Arena already running.")
		return
	}
	o.running = true
	o.stopCh = make(chan struct{})
	runCtx, cancel := context.WithCancel(ctx)
	o.cancelRun = cancel
	stopCh := o.stopCh
	o.mu.Unlock()

	o.logger.Info("Arena started.", zap.String("mode", o.cfg.Mode))
	o.publish(ctx, TopicStarted, LifecycleEvent{Mode: o.cfg.Mode})

	var interval time.Duration
	switch o.cfg.Mode {
	case config.ArenaModeContinuous:
		interval = o.cfg.MonitorInterval
	case config.ArenaModeScheduled:
		interval = o.cfg.BattleInterval
	default:
		o.logger.Info("Waiting for triggered battles.")
		return
	}
	if interval <= 0 {
		o.logger.Warn("Non-positive tick interval; ticker disabled.", zap.String("mode", o.cfg.Mode))
		return
	}

	o.wg.Add(1)
	go o.loop(runCtx, stopCh, interval)
}

func (o *Orchestrator) loop(ctx context.Context, stopCh <-chan struct{}, interval time.Duration) {
	defer o.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

func (o *Orchestrator) tick(ctx context.Context) {
	o.mu.Lock()
	running := o.running
	o.mu.Unlock()
	if !running {
		return
	}

	if o.deps.Scout == nil {
		if o.cfg.Mode == config.ArenaModeContinuous {
			o.logger.Debug("Checking for optimization opportunities; no scout configured.")
		} else {
			o.logger.Debug("Scheduled battle check; no scout configured.")
		}
		return
	}

	targets, err := o.deps.Scout.Targets(ctx)
	if err != nil {
		o.logger.Warn("Scout failed to propose targets.", zap.Error(err))
		return
	}
	for _, target := range targets {
		if ctx.Err() != nil {
			return
		}
		if _, err := o.TriggerBattle(ctx, target, Options{}); err != nil {
			if errors.Is(err, ErrBattleDeferred) || errors.Is(err, ErrTooManyBattles) {
				o.logger.Info("Battle not started.", zap.String("target", target), zap.Error(err))
				continue
			}
			o.logger.Warn("Ticked battle failed.", zap.String("target", target), zap.Error(err))
		}
	}
}

// Stop halts the ticker and waits for an in-flight tick to return. Battles
// started by a tick are cancelled; directly triggered battles are not.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	close(o.stopCh)
	cancel := o.cancelRun
	o.mu.Unlock()

	cancel()
	o.wg.Wait()
	o.logger.Info("Arena stopped.")
	o.publish(context.Background(), TopicStopped, LifecycleEvent{Mode: o.cfg.Mode})
}

// Running reports whether the ticker is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// TriggerBattle runs one battle to a terminal status and returns a snapshot
// of it. It works whether or not the orchestrator is running. Admission
// refusals return ErrBattleDeferred or ErrTooManyBattles without creating a
// battle. Any other error means the battle failed; the failed battle is
// returned alongside the error.
func (o *Orchestrator) TriggerBattle(ctx context.Context, target string, opts Options) (*Battle, error) {
	b := &Battle{
		ID:        "arena-" + uuid.New().String(),
		Target:    target,
		Status:    StatusInitializing,
		Actor:     opts.Actor,
		Rounds:    opts.Rounds,
		Metrics:   append([]string(nil), opts.Metrics...),
		StartTime: time.Now().UTC(),
	}
	if b.Rounds <= 0 {
		b.Rounds = DefaultRounds
	}
	if len(b.Metrics) == 0 {
		b.Metrics = append([]string(nil), DefaultMetrics...)
	}

	// The cap is checked before admission so a refused battle does not
	// spend an admission token. The slot stays reserved while admission runs
	// outside the lock.
	o.mu.Lock()
	if n := len(o.active) + o.reserved; o.maxActive > 0 && n >= o.maxActive {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %d of %d in flight", ErrTooManyBattles, n, o.maxActive)
	}
	o.reserved++
	o.mu.Unlock()

	if o.deps.Admission != nil {
		if ok, reason := o.deps.Admission.AdmitBattle(target); !ok {
			o.mu.Lock()
			o.reserved--
			o.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrBattleDeferred, reason)
		}
	}

	o.mu.Lock()
	o.reserved--
	o.active[b.ID] = b
	activeCount := len(o.active)
	started := b.clone()
	o.mu.Unlock()

	o.deps.Metrics.SetActiveBattles(activeCount)
	o.logger.Info("Battle started.", zap.String("battle_id", b.ID), zap.String("target", target))
	o.publish(ctx, TopicBattleStarted, started)

	battleCtx := ctx
	if o.cfg.BattleRules.TimeLimit > 0 {
		var cancel context.CancelFunc
		battleCtx, cancel = context.WithTimeout(ctx, o.cfg.BattleRules.TimeLimit)
		defer cancel()
	}

	runErr := o.run(battleCtx, b, opts)
	final := o.finish(ctx, b, runErr)
	return &final, runErr
}

// run drives a battle from generating to its decision.
func (o *Orchestrator) run(ctx context.Context, b *Battle, opts Options) error {
	strategies := opts.Strategies
	if len(strategies) == 0 {
		strategies = o.cfg.Strategies
	}
	if len(strategies) == 0 {
		return errors.New("no strategies configured")
	}

	// Generating.
	o.setStatus(b, StatusGenerating)
	n := min(len(strategies), o.cfg.BattleRules.MaxCompetitors)
	if n <= 0 {
		n = len(strategies)
	}
	competitors := make([]Competitor, n)
	for i := range competitors {
		strategy := strategies[i%len(strategies)]
		competitors[i] = Competitor{
			ID:       competitorID(i),
			Strategy: strategy,
			Path:     filepath.Join(o.cfg.Workspace, b.Target+"-"+strategy),
			Metrics:  map[string]float64{},
		}
	}
	for _, c := range competitors {
		if err := o.deps.Generator.Generate(ctx, b.Target, c); err != nil {
			return fmt.Errorf("failed to generate %s (%s): %w", c.ID, c.Strategy, err)
		}
	}
	o.mu.Lock()
	b.Competitors = competitors
	o.mu.Unlock()

	// Evaluating.
	o.setStatus(b, StatusEvaluating)
	for i := range competitors {
		scored := o.evaluate(ctx, b, competitors[i])
		o.mu.Lock()
		b.Competitors[i] = scored
		o.mu.Unlock()
		o.publish(ctx, TopicCompetitorEvaluated, CompetitorEvaluated{BattleID: b.ID, Competitor: scored})
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("battle interrupted during evaluation: %w", err)
	}

	// Deciding.
	o.setStatus(b, StatusDeciding)
	o.mu.Lock()
	winner, ok := pickWinner(b.Competitors)
	o.mu.Unlock()

	if !ok {
		o.conclude(b, StatusNoWinner, "no competitor scored above zero")
		return nil
	}
	// The winner is recorded only once it clears the threshold.
	rules := o.cfg.BattleRules
	improvement := winner.Metrics[MetricImprovement]
	if improvement < rules.MinImprovement {
		o.conclude(b, StatusNoWinner, fmt.Sprintf("best candidate %s improved %.1f%%, below threshold %.1f%%",
			winner.ID, improvement, rules.MinImprovement))
		return nil
	}
	o.mu.Lock()
	b.Winner = winner.ID
	b.Improvement = improvement
	o.mu.Unlock()

	// Merging.
	o.setStatus(b, StatusMerging)
	if reason, blocked := o.mergeBlocked(winner, b.Actor); blocked {
		o.conclude(b, StatusPendingApproval, reason)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("battle interrupted before merge: %w", err)
	}

	o.mu.Lock()
	snapshot := b.clone()
	o.mu.Unlock()
	if err := o.deps.Merger.Merge(ctx, snapshot, winner); err != nil {
		return fmt.Errorf("failed to merge %s: %w", winner.ID, err)
	}
	o.publish(ctx, TopicWinnerMerged, WinnerMerged{
		BattleID:    b.ID,
		Winner:      winner.ID,
		Strategy:    winner.Strategy,
		Improvement: improvement,
	})
	o.conclude(b, StatusCompleted, "")
	return nil
}

// evaluate averages the scorer's output over the battle's rounds. A failing
// competitor is kept with zero scores and its error recorded.
func (o *Orchestrator) evaluate(ctx context.Context, b *Battle, c Competitor) Competitor {
	sums := make(map[string]float64, len(b.Metrics)+1)
	for round := 0; round < b.Rounds; round++ {
		scores, err := o.deps.Scorer.Score(ctx, ScoreRequest{
			Target:     b.Target,
			Competitor: c,
			Metrics:    b.Metrics,
			Round:      round,
		})
		if err != nil {
			o.logger.Warn("Competitor evaluation failed.",
				zap.String("battle_id", b.ID),
				zap.String("competitor", c.ID),
				zap.Error(err))
			c.Metrics = map[string]float64{}
			for _, m := range b.Metrics {
				c.Metrics[m] = 0
			}
			c.Metrics[MetricImprovement] = 0
			c.Composite = 0
			c.Error = err.Error()
			return c
		}
		for k, v := range scores {
			sums[k] += v
		}
	}

	c.Metrics = make(map[string]float64, len(sums))
	for k, v := range sums {
		c.Metrics[k] = v / float64(b.Rounds)
	}
	c.Composite = o.composite(b.Metrics, c.Metrics)
	return c
}

// composite is the weighted sum of the battle's metrics. A metric without a
// configured weight gets an equal share of 1/len(metrics).
func (o *Orchestrator) composite(metrics []string, values map[string]float64) float64 {
	var total float64
	for _, m := range metrics {
		w, ok := o.cfg.Weights[m]
		if !ok {
			w = 1 / float64(len(metrics))
		}
		total += w * values[m]
	}
	return total
}

// pickWinner returns the competitor with the strictly highest positive
// composite; the first one seen wins ties.
func pickWinner(cs []Competitor) (Competitor, bool) {
	var (
		best  Competitor
		top   float64
		found bool
	)
	for _, c := range cs {
		if c.Composite > top {
			best, top, found = c, c.Composite, true
		}
	}
	return best, found
}

// mergeBlocked reports why a winner may not be merged automatically.
func (o *Orchestrator) mergeBlocked(winner Competitor, actor string) (string, bool) {
	rules := o.cfg.BattleRules
	if !rules.AutoMerge || rules.RequireApproval {
		return "battle rules require approval", true
	}
	if o.deps.Governor == nil {
		return "", false
	}
	adoption := o.deps.Governor.EvaluatePatternAdoption(winner.Strategy)
	if adoption.Decision != governance.DecisionAutoEnable {
		return fmt.Sprintf("pattern %s is %s: %s", winner.Strategy, adoption.Decision, adoption.Reason), true
	}
	if actor != "" {
		if authz := o.deps.Governor.CheckGovernance(MergeAction, actor, MergeDomain); !authz.Allowed {
			return authz.Reason, true
		}
	}
	return "", false
}

func (o *Orchestrator) setStatus(b *Battle, s Status) {
	o.mu.Lock()
	b.Status = s
	o.mu.Unlock()
	o.logger.Debug("Battle status changed.", zap.String("battle_id", b.ID), zap.String("status", string(s)))
}

func (o *Orchestrator) conclude(b *Battle, s Status, reason string) {
	o.mu.Lock()
	b.Status = s
	b.Reason = reason
	o.mu.Unlock()
}

// finish stamps the end time, marks failures, moves the battle from active
// to history in one critical section, then publishes and archives it.
func (o *Orchestrator) finish(ctx context.Context, b *Battle, runErr error) Battle {
	o.mu.Lock()
	if runErr != nil {
		b.Status = StatusFailed
		b.Error = runErr.Error()
	}
	b.EndTime = time.Now().UTC()
	delete(o.active, b.ID)
	o.history = append(o.history, b)
	activeCount := len(o.active)
	final := b.clone()
	o.mu.Unlock()

	o.deps.Metrics.SetActiveBattles(activeCount)
	o.deps.Metrics.BattleFinished(string(final.Status), final.Duration().Seconds())

	fields := []zap.Field{
		zap.String("battle_id", final.ID),
		zap.String("target", final.Target),
		zap.String("status", string(final.Status)),
		zap.String("winner", final.Winner),
		zap.Float64("improvement", final.Improvement),
	}
	if runErr != nil {
		o.logger.Error("Battle failed.", append(fields, zap.Error(runErr))...)
		o.publish(ctx, TopicBattleFailed, final)
	} else {
		o.logger.Info("Battle finished.", append(fields, zap.String("reason", final.Reason))...)
		o.publish(ctx, TopicBattleCompleted, final)
	}

	if o.deps.Archive != nil {
		if err := o.deps.Archive.ArchiveBattle(context.WithoutCancel(ctx), final); err != nil {
			o.logger.Warn("Failed to archive battle.", zap.String("battle_id", final.ID), zap.Error(err))
		}
	}
	return final
}

// publish posts an event. Delivery is not tied to the battle's deadline, so
// a timed-out battle still announces its outcome.
func (o *Orchestrator) publish(ctx context.Context, topic bus.Topic, payload interface{}) {
	if o.deps.Bus == nil {
		return
	}
	if err := o.deps.Bus.Post(context.WithoutCancel(ctx), topic, payload); err != nil {
		o.logger.Debug("Event not delivered.", zap.String("topic", string(topic)), zap.Error(err))
	}
}

// Snapshot is a read-only view of the orchestrator.
type Snapshot struct {
	Running          bool     `json:"running"`
	Mode             string   `json:"mode"`
	MaxActiveBattles int      `json:"max_active_battles"`
	ActiveBattles    []Battle `json:"active_battles"`
	HistoryCount     int      `json:"history_count"`
	LastBattle       *Battle  `json:"last_battle,omitempty"`
}

// Status returns a snapshot of running state, active battles and the most
// recent finished battle.
func (o *Orchestrator) Status() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := Snapshot{
		Running:          o.running,
		Mode:             o.cfg.Mode,
		MaxActiveBattles: o.maxActive,
		ActiveBattles:    make([]Battle, 0, len(o.active)),
		HistoryCount:     len(o.history),
	}
	for _, b := range o.active {
		snap.ActiveBattles = append(snap.ActiveBattles, b.clone())
	}
	if len(o.history) > 0 {
		last := o.history[len(o.history)-1].clone()
		snap.LastBattle = &last
	}
	return snap
}

// History returns up to limit of the most recent finished battles, oldest first.
func (o *Orchestrator) History(limit int) []Battle {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	start := max(0, len(o.history)-limit)
	out := make([]Battle, 0, len(o.history)-start)
	for _, b := range o.history[start:] {
		out = append(out, b.clone())
	}
	return out
}

// File: internal/arena/collaborators.go
package arena

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/xkilldash9x/arbiter/internal/governance"
	"go.uber.org/zap"
)

// Generator prepares a competitor's artifact at its working path.
type Generator interface {
	Generate(ctx context.Context, target string, c Competitor) error
}

// ScoreRequest identifies one scoring round of one competitor.
type ScoreRequest struct {
	Target     string
	Competitor Competitor
	Metrics    []string
	Round      int
}

// Scorer measures a competitor. It returns a value per requested metric plus
// MetricImprovement, the percentage improvement over the current solution.
type Scorer interface {
	Score(ctx context.Context, req ScoreRequest) (map[string]float64, error)
}

// Merger applies a winning competitor.
type Merger interface {
	Merge(ctx context.Context, b Battle, winner Competitor) error
}

// Scout proposes optimization targets on each monitoring or scheduled tick.
type Scout interface {
	Targets(ctx context.Context) ([]string, error)
}

// Archive persists terminal battles.
type Archive interface {
	ArchiveBattle(ctx context.Context, b Battle) error
}

// Admission decides whether a battle may start. It is called without the
// orchestrator lock held, so it may block or read the orchestrator's status.
type Admission interface {
	AdmitBattle(target string) (bool, string)
}

// Governor answers the governance questions asked before a merge.
type Governor interface {
	EvaluatePatternAdoption(patternID string) governance.Adoption
	CheckGovernance(action, actor, domain string) governance.Authorization
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, target string, c Competitor) error

// Generate calls f(ctx, target, c).
func (f GeneratorFunc) Generate(ctx context.Context, target string, c Competitor) error {
	return f(ctx, target, c)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, req ScoreRequest) (map[string]float64, error)

// Score calls f(ctx, req).
func (f ScorerFunc) Score(ctx context.Context, req ScoreRequest) (map[string]float64, error) {
	return f(ctx, req)
}

// MergerFunc adapts a function to Merger.
type MergerFunc func(ctx context.Context, b Battle, winner Competitor) error

// Merge calls f(ctx, b, winner).
func (f MergerFunc) Merge(ctx context.Context, b Battle, winner Competitor) error {
	return f(ctx, b, winner)
}

type nopGenerator struct{}

func (nopGenerator) Generate(context.Context, string, Competitor) error { return nil }

// logMerger only records the merge.
type logMerger struct {
	logger *zap.Logger
}

func (m logMerger) Merge(_ context.Context, b Battle, winner Competitor) error {
	m.logger.Info("Merging winner.",
		zap.String("battle_id", b.ID),
		zap.String("winner", winner.ID),
		zap.String("strategy", winner.Strategy),
		zap.String("path", winner.Path),
		zap.Float64("improvement", b.Improvement))
	return nil
}

// HashScorer derives stable pseudo-metrics from an FNV-1a hash of the target,
// competitor and round. Metrics fall in [0,100) and improvement in [0,30).
type HashScorer struct{}

func (HashScorer) Score(ctx context.Context, req ScoreRequest) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(req.Metrics)+1)
	for _, m := range req.Metrics {
		out[m] = float64(hashOf(req, m)%10000) / 100
	}
	out[MetricImprovement] = float64(hashOf(req, MetricImprovement)%3000) / 100
	return out, nil
}

func hashOf(req ScoreRequest, metric string) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%d|%s", req.Target, req.Competitor.ID, req.Competitor.Strategy, req.Round, metric)
	return h.Sum64()
}

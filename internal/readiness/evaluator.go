// File: internal/readiness/evaluator.go
package readiness

import (
	"context"
	"sync"
	"time"

	"github.com/xkilldash9x/arbiter/internal/observability"
	"github.com/xkilldash9x/arbiter/internal/opmode"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultHistoryLimit bounds the evaluation history when none is configured.
const DefaultHistoryLimit = 500

// Evaluation is the aggregate of one probe sweep.
type Evaluation struct {
	Timestamp  time.Time     `json:"timestamp"`
	Score      int           `json:"score"`
	Mode       opmode.Mode   `json:"mode"`
	ProbeCount int           `json:"probe_count"`
	Healthy    int           `json:"healthy"`
	Degraded   int           `json:"degraded"`
	Down       int           `json:"down"`
	Probes     []ProbeResult `json:"probes"`
}

// Evaluator runs the configured probe set and keeps a bounded history of
// evaluations. It is safe for concurrent use.
type Evaluator struct {
	logger       *zap.Logger
	probes       []ProbeDefinition
	runner       *Runner
	metrics      *observability.Metrics
	historyLimit int

	mu      sync.RWMutex
	history []Evaluation
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithRunner sets the probe runner. Without it the evaluator uses NewRunner().
func WithRunner(r *Runner) Option {
	return func(e *Evaluator) { e.runner = r }
}

// WithHistoryLimit sets how many evaluations are retained. Values <= 0 keep the default.
func WithHistoryLimit(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.historyLimit = n
		}
	}
}

// WithMetrics records every evaluation on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// NewEvaluator creates an evaluator over a fixed probe set.
func NewEvaluator(logger *zap.Logger, probes []ProbeDefinition, opts ...Option) *Evaluator {
	defs := make([]ProbeDefinition, len(probes))
	for i, p := range probes {
		defs[i] = p.withDefaults()
	}
	e := &Evaluator{
		logger:       logger.Named("readiness"),
		probes:       defs,
		historyLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.runner == nil {
		e.runner = NewRunner()
	}
	return e
}

// Evaluate runs every probe concurrently and waits for all of them. Probe
// failures are reported in the results; Evaluate itself does not fail.
func (e *Evaluator) Evaluate(ctx context.Context) Evaluation {
	results := make([]ProbeResult, len(e.probes))

	// Each goroutine owns exactly one slot, so no lock is needed on results.
	g, gCtx := errgroup.WithContext(ctx)
	for i, def := range e.probes {
		i, def := i, def
		g.Go(func() error {
			results[i] = e.runner.Run(gCtx, def)
			return nil
		})
	}
	_ = g.Wait()

	ev := Evaluation{
		Timestamp:  time.Now().UTC(),
		Score:      ComputeScore(results),
		ProbeCount: len(results),
		Probes:     results,
	}
	ev.Mode = ClassifyScore(ev.Score)

	statuses := make([]string, 0, len(results))
	for _, r := range results {
		switch r.Status {
		case opmode.StatusOK:
			ev.Healthy++
		case opmode.StatusDegraded:
			ev.Degraded++
		default:
			ev.Down++
		}
		statuses = append(statuses, string(r.Status))
		if r.Status != opmode.StatusOK {
			e.logger.Debug("Probe not healthy.",
				zap.String("probe", r.Name),
				zap.String("status", string(r.Status)),
				zap.String("error", r.Error),
				zap.String("detail", r.Detail))
		}
	}

	e.mu.Lock()
	e.history = append(e.history, ev)
	if over := len(e.history) - e.historyLimit; over > 0 {
		e.history = append(e.history[:0:0], e.history[over:]...)
	}
	e.mu.Unlock()

	e.metrics.ObserveEvaluation(ev.Score, statuses)
	e.logger.Info("Readiness evaluated.",
		zap.Int("score", ev.Score),
		zap.String("mode", string(ev.Mode)),
		zap.Int("healthy", ev.Healthy),
		zap.Int("degraded", ev.Degraded),
		zap.Int("down", ev.Down))
	return ev
}

// History returns a copy of the retained evaluations, oldest first.
func (e *Evaluator) History() []Evaluation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Evaluation, len(e.history))
	copy(out, e.history)
	return out
}

// LastEvaluation returns the most recent evaluation, or nil before the first sweep.
func (e *Evaluator) LastEvaluation() *Evaluation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.history) == 0 {
		return nil
	}
	last := e.history[len(e.history)-1]
	return &last
}

// ComputeScore applies the weighted readiness formula to a result set.
func ComputeScore(results []ProbeResult) int {
	samples := make([]opmode.Sample, len(results))
	for i, r := range results {
		samples[i] = opmode.Sample{Criticality: r.Criticality, Status: r.Status}
	}
	return opmode.Score(samples)
}

// ClassifyScore maps a readiness score onto an operating mode.
func ClassifyScore(score int) opmode.Mode {
	return opmode.Classify(score)
}

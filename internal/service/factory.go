// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/xkilldash9x/arbiter/internal/arena"
	"github.com/xkilldash9x/arbiter/internal/brain"
	"github.com/xkilldash9x/arbiter/internal/bus"
	"github.com/xkilldash9x/arbiter/internal/config"
	"github.com/xkilldash9x/arbiter/internal/governance"
	"github.com/xkilldash9x/arbiter/internal/observability"
	"github.com/xkilldash9x/arbiter/internal/readiness"
	"github.com/xkilldash9x/arbiter/internal/store"
)

// busBufferSize is the per-subscriber buffer of the event bus.
const busBufferSize = 64

type options struct {
	runner    *readiness.Runner
	journal   Journal
	registry  *prometheus.Registry
	generator arena.Generator
	scorer    arena.Scorer
	merger    arena.Merger
	scout     arena.Scout
}

// Option customizes NewComponents.
type Option func(*options)

// WithProbeRunner replaces the default probe runner.
func WithProbeRunner(r *readiness.Runner) Option {
	return func(o *options) { o.runner = r }
}

// WithJournal persists brain records somewhere other than the store.
func WithJournal(j Journal) Option {
	return func(o *options) { o.journal = j }
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithArenaCollaborators injects the battle collaborators. Nil values keep
// the orchestrator defaults.
func WithArenaCollaborators(g arena.Generator, s arena.Scorer, m arena.Merger, scout arena.Scout) Option {
	return func(o *options) {
		o.generator, o.scorer, o.merger, o.scout = g, s, m, scout
	}
}

// NewBrain builds the governance gate from the configured policy file and a
// brain over it, loading the brain's documents when a config directory is set.
// A governance document in that directory replaces the gate inside the brain.
func NewBrain(cfg config.Interface, logger *zap.Logger) (*governance.Gate, *brain.Brain, error) {
	policy := governance.Policy{}
	if path := cfg.Governance().PolicyFile; path != "" {
		p, err := governance.LoadPolicy(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load governance policy: %w", err)
		}
		policy = p
	}
	gate := governance.NewGate(policy)

	b := brain.New(logger, cfg.Brain(), gate)
	if dir := cfg.Brain().ConfigDir; dir != "" {
		if err := b.LoadConfigs(brain.DirLoader(dir)); err != nil {
			return nil, nil, fmt.Errorf("failed to load brain documents: %w", err)
		}
	}
	return gate, b, nil
}

// NewComponents handles the full dependency injection and initialization of
// the control plane. On failure every partially created component is shut down.
func NewComponents(ctx context.Context, cfg config.Interface, logger *zap.Logger, opts ...Option) (*Components, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Components{
		Config: cfg,
		logger: logger.Named("service"),
	}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			c.Shutdown()
		}
	}()

	// 1. Metrics
	c.Registry = o.registry
	if c.Registry == nil {
		c.Registry = prometheus.NewRegistry()
	}
	c.Metrics = observability.NewMetrics(c.Registry)

	// 2. Governance gate and brain
	gate, b, err := NewBrain(cfg, logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	c.Gate, c.Brain = gate, b
	logger.Debug("System brain initialized.")

	// 3. Readiness evaluator
	evalOpts := []readiness.Option{
		readiness.WithHistoryLimit(cfg.Readiness().HistoryLimit),
		readiness.WithMetrics(c.Metrics),
	}
	if o.runner != nil {
		evalOpts = append(evalOpts, readiness.WithRunner(o.runner))
	}
	c.Evaluator = readiness.NewEvaluator(logger, readiness.DefinitionsFromConfig(cfg.Readiness().Probes), evalOpts...)
	logger.Debug("Readiness evaluator initialized.", zap.Int("probes", len(cfg.Readiness().Probes)))

	// 4. Event bus
	c.Bus = bus.New(logger, busBufferSize)

	// 5. Store (optional)
	if url := cfg.Store().URL; url != "" {
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			initializationErr = fmt.Errorf("failed to create database connection pool: %w", err)
			return nil, initializationErr
		}
		// Add to components immediately so the deferred Shutdown can close it.
		c.DBPool = pool

		dbStore, err := store.New(ctx, pool, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize database store: %w", err)
			return nil, initializationErr
		}
		if err := dbStore.EnsureSchema(ctx); err != nil {
			initializationErr = err
			return nil, initializationErr
		}
		c.Store = dbStore
		logger.Debug("Store service initialized.")
	}
	c.journal = o.journal
	if c.journal == nil && c.Store != nil {
		c.journal = c.Store
	}

	// 6. Arena
	deps := arena.Deps{
		Bus:       c.Bus,
		Generator: o.generator,
		Scorer:    o.scorer,
		Merger:    o.merger,
		Scout:     o.scout,
		Admission: c.Brain,
		Governor:  c.Brain,
		Metrics:   c.Metrics,
	}
	if c.Store != nil {
		deps.Archive = c.Store
	}
	c.Arena = arena.New(logger, cfg.Arena(), deps)
	logger.Debug("Arena orchestrator initialized.", zap.String("mode", cfg.Arena().Mode))

	// 7. Battle outcome consumer
	c.startOutcomeConsumer()

	logger.Info("All components initialized successfully.")
	return c, nil
}

// File: internal/service/components.go
package service

import (
	"context"
	"sync"
	"time"

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

// consumerDrainTimeout bounds how long Shutdown waits for the outcome consumer.
const consumerDrainTimeout = 10 * time.Second

// Journal persists the brain's append-only records.
type Journal interface {
	RecordDecision(ctx context.Context, e brain.DecisionLogEntry) error
	RecordTuning(ctx context.Context, r brain.TuningRecord) error
}

// Components holds every initialized control-plane service and centralizes
// their lifecycle.
type Components struct {
	Config    config.Interface
	Gate      *governance.Gate
	Brain     *brain.Brain
	Evaluator *readiness.Evaluator
	Bus       *bus.Bus
	Arena     *arena.Orchestrator
	Store     *store.Store
	Registry  *prometheus.Registry
	Metrics   *observability.Metrics
	DBPool    *pgxpool.Pool

	logger  *zap.Logger
	journal Journal

	mu         sync.Mutex
	cycles     int
	consumerWG sync.WaitGroup
	shutdown   sync.Once
}

// Shutdown gracefully closes all components, ensuring resources are released
// in the correct order. Safe to call more than once.
func (c *Components) Shutdown() {
	c.shutdown.Do(func() {
		logger := c.logger
		if logger == nil {
			logger = observability.GetLogger()
		}
		logger.Debug("Beginning components shutdown sequence.")

		// 1. Stop the arena ticker first so no new battles start.
		if c.Arena != nil {
			c.Arena.Stop()
			logger.Debug("Arena stopped.")
		}

		// 2. Shutting down the bus closes the outcome subscription, which ends
		// the consumer after it has handled what it already received.
		if c.Bus != nil {
			c.Bus.Shutdown()
			logger.Debug("Event bus shut down.")
		}
		if !timedWait(&c.consumerWG, consumerDrainTimeout) {
			logger.Warn("Battle outcome consumer did not finish in time.")
		}

		// 3. Close the database connection pool.
		if c.DBPool != nil {
			c.DBPool.Close()
			logger.Debug("Database connection pool closed.")
		}

		logger.Info("All components shut down successfully.")
	})
}

// timedWait waits for wg, giving up after timeout. It reports whether the
// wait completed.
func timedWait(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

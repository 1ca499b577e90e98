package store

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xkilldash9x/arbiter/internal/arena"
	"github.com/xkilldash9x/arbiter/internal/brain"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store archives terminal battles and journals brain decisions and tuning
// records in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS arena_battles (
		id          TEXT PRIMARY KEY,
		target      TEXT NOT NULL,
		status      TEXT NOT NULL,
		actor       TEXT NOT NULL DEFAULT '',
		winner      TEXT NOT NULL DEFAULT '',
		improvement DOUBLE PRECISION NOT NULL DEFAULT 0,
		rounds      INTEGER NOT NULL,
		metrics     JSONB NOT NULL,
		competitors JSONB NOT NULL,
		reason      TEXT NOT NULL DEFAULT '',
		error       TEXT NOT NULL DEFAULT '',
		started_at  TIMESTAMPTZ NOT NULL,
		ended_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS brain_decisions (
		id                  BIGSERIAL PRIMARY KEY,
		recorded_at         TIMESTAMPTZ NOT NULL,
		checkpoint_id       TEXT NOT NULL DEFAULT '',
		readiness_score     INTEGER NOT NULL,
		mode                TEXT NOT NULL DEFAULT '',
		checkpoint_decision TEXT NOT NULL DEFAULT '',
		recommendations     JSONB NOT NULL,
		action              TEXT NOT NULL DEFAULT '',
		error               TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS brain_tuning (
		id                BIGSERIAL PRIMARY KEY,
		recorded_at       TIMESTAMPTZ NOT NULL,
		error_rate        DOUBLE PRECISION NOT NULL,
		avg_latency_ms    DOUBLE PRECISION NOT NULL,
		queue_utilization DOUBLE PRECISION NOT NULL,
		previous_limit    INTEGER NOT NULL,
		recommended_limit INTEGER NOT NULL,
		reason            TEXT NOT NULL
	)`,
}

// EnsureSchema creates the archive tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

const insertBattleSQL = `
	INSERT INTO arena_battles (id, target, status, actor, winner, improvement, rounds, metrics, competitors, reason, error, started_at, ended_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		winner = EXCLUDED.winner,
		improvement = EXCLUDED.improvement,
		competitors = EXCLUDED.competitors,
		reason = EXCLUDED.reason,
		error = EXCLUDED.error,
		ended_at = EXCLUDED.ended_at;
`

// ArchiveBattle stores a terminal battle. It satisfies arena.Archive.
func (s *Store) ArchiveBattle(ctx context.Context, b arena.Battle) error {
	metrics, err := json.Marshal(b.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics for battle %s: %w", b.ID, err)
	}
	competitors, err := json.Marshal(b.Competitors)
	if err != nil {
		return fmt.Errorf("failed to marshal competitors for battle %s: %w", b.ID, err)
	}

	_, err = s.pool.Exec(ctx, insertBattleSQL,
		b.ID, b.Target, string(b.Status), b.Actor, b.Winner, b.Improvement, b.Rounds,
		metrics, competitors, b.Reason, b.Error, b.StartTime, b.EndTime,
	)
	if err != nil {
		return fmt.Errorf("failed to archive battle %s: %w", b.ID, err)
	}
	s.log.Debug("Archived battle.", zap.String("battle_id", b.ID), zap.String("status", string(b.Status)))
	return nil
}

const insertDecisionSQL = `
	INSERT INTO brain_decisions (recorded_at, checkpoint_id, readiness_score, mode, checkpoint_decision, recommendations, action, error)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`

// RecordDecision journals one decision log entry.
func (s *Store) RecordDecision(ctx context.Context, e brain.DecisionLogEntry) error {
	recs := e.Recommendations
	if recs == nil {
		recs = []string{}
	}
	payload, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("failed to marshal recommendations: %w", err)
	}
	_, err = s.pool.Exec(ctx, insertDecisionSQL,
		e.Timestamp, e.CheckpointID, e.ReadinessScore, string(e.Mode),
		e.CheckpointDecision, payload, e.Action, e.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}
	return nil
}

const insertTuningSQL = `
	INSERT INTO brain_tuning (recorded_at, error_rate, avg_latency_ms, queue_utilization, previous_limit, recommended_limit, reason)
	VALUES ($1, $2, $3, $4, $5, $6, $7);
`

// RecordTuning journals one tuning record.
func (s *Store) RecordTuning(ctx context.Context, r brain.TuningRecord) error {
	_, err := s.pool.Exec(ctx, insertTuningSQL,
		r.Timestamp, r.Observed.ErrorRate, r.Observed.AvgLatencyMs, r.Observed.QueueUtilization,
		r.PreviousLimit, r.RecommendedLimit, r.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to record tuning: %w", err)
	}
	return nil
}

const recentBattlesSQL = `
	SELECT id, target, status, actor, winner, improvement, rounds, metrics, competitors, reason, error, started_at, ended_at
	FROM arena_battles
	ORDER BY ended_at DESC
	LIMIT $1;
`

// RecentBattles returns up to limit archived battles, newest first.
func (s *Store) RecentBattles(ctx context.Context, limit int) ([]arena.Battle, error) {
	rows, err := s.pool.Query(ctx, recentBattlesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query battles: %w", err)
	}
	defer rows.Close()

	var out []arena.Battle
	for rows.Next() {
		var (
			b                    arena.Battle
			status               string
			metrics, competitors []byte
			started, ended       time.Time
		)
		if err := rows.Scan(&b.ID, &b.Target, &status, &b.Actor, &b.Winner, &b.Improvement, &b.Rounds,
			&metrics, &competitors, &b.Reason, &b.Error, &started, &ended); err != nil {
			return nil, fmt.Errorf("failed to scan battle row: %w", err)
		}
		if err := json.Unmarshal(metrics, &b.Metrics); err != nil {
			return nil, fmt.Errorf("failed to decode metrics for battle %s: %w", b.ID, err)
		}
		if err := json.Unmarshal(competitors, &b.Competitors); err != nil {
			return nil, fmt.Errorf("failed to decode competitors for battle %s: %w", b.ID, err)
		}
		b.Status = arena.Status(status)
		b.StartTime, b.EndTime = started, ended
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate battle rows: %w", err)
	}
	return out, nil
}

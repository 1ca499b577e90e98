// File: internal/brain/brain.go
// Description: The system brain keeps per-role health views, the operational
// documents loaded from the config directory, and the append-only tuning and
// decision logs. Every externally visible decision passes through here.

package brain

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/xkilldash9x/arbiter/internal/config"
	"github.com/xkilldash9x/arbiter/internal/governance"
	"github.com/xkilldash9x/arbiter/internal/opmode"
	"github.com/xkilldash9x/arbiter/internal/readiness"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// Document names read by LoadConfigs.
const (
	ServiceCatalogFile     = "service-catalog.yaml"
	ResourcePoliciesFile   = "resource-policies.yaml"
	ConceptsIndexFile      = "concepts-index.yaml"
	GovernancePoliciesFile = "governance-policies.yaml"
)

// DefaultMaxConcurrentTasks is used when no resource policy sets a limit.
const DefaultMaxConcurrentTasks = 8

// Snapshot windows.
const (
	recentDecisions   = 10
	recentTuning      = 5
	recentActivations = 10
)

// HealthStatus is the coarse state of a role.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

// HealthView is the last known health of one role. Last write wins.
type HealthView struct {
	Role      string             `json:"role"`
	Status    HealthStatus       `json:"status"`
	LastCheck time.Time          `json:"last_check"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// Loader returns the raw bytes of a named document. A loader signals a
// missing document with an error wrapping fs.ErrNotExist.
type Loader func(name string) ([]byte, error)

// DirLoader reads documents from a directory.
func DirLoader(dir string) Loader {
	return func(name string) ([]byte, error) {
		return os.ReadFile(filepath.Join(dir, name))
	}
}

type resourcePolicies struct {
	Concurrency struct {
		MaxConcurrentTasks int `yaml:"maxConcurrentTasks"`
	} `yaml:"concurrency"`
}

type conceptsIndex struct {
	ImplementedConcepts  []any `yaml:"implementedConcepts"`
	PlannedConcepts      []any `yaml:"plannedConcepts"`
	PublicDomainPatterns []any `yaml:"publicDomainPatterns"`
}

// Brain is the meta-controller. It is safe for concurrent use.
type Brain struct {
	logger *zap.Logger

	mu                 sync.RWMutex
	catalog            map[string]any
	policies           resourcePolicies
	concepts           conceptsIndex
	gate               *governance.Gate
	defaultConcurrency int

	health      map[string]HealthView
	tuning      []TuningRecord
	decisions   []DecisionLogEntry
	activations []PatternActivation
	latest      *readiness.Evaluation

	// maintenanceLimiter throttles battle admission in maintenance mode.
	maintenanceLimiter *rate.Limiter
}

// New creates a brain. A nil gate denies every governed action until a
// governance document is loaded.
func New(logger *zap.Logger, cfg config.BrainConfig, gate *governance.Gate) *Brain {
	if gate == nil {
		gate = governance.NewGate(governance.Policy{})
	}
	limit := cfg.MaxConcurrentTasks
	if limit <= 0 {
		limit = DefaultMaxConcurrentTasks
	}
	burst := cfg.MaintenanceBattleBurst
	if burst <= 0 {
		burst = 1
	}
	return &Brain{
		logger:             logger.Named("brain"),
		catalog:            map[string]any{},
		gate:               gate,
		defaultConcurrency: limit,
		health:             make(map[string]HealthView),
		maintenanceLimiter: rate.NewLimiter(rate.Limit(cfg.MaintenanceBattleRate), burst),
	}
}

// LoadConfigs reads the four operational documents through loader. Missing
// documents load as empty. If any document fails to load or parse, the error
// is logged, recorded in the decision log and returned, and the previously
// loaded documents stay in effect.
func (b *Brain) LoadConfigs(loader Loader) error {
	var (
		catalog  map[string]any
		policies resourcePolicies
		concepts conceptsIndex
		policy   governance.Policy
		sawGov   bool
	)

	err := func() error {
		if err := decodeDocument(loader, ServiceCatalogFile, &catalog); err != nil {
			return err
		}
		if err := decodeDocument(loader, ResourcePoliciesFile, &policies); err != nil {
			return err
		}
		if err := decodeDocument(loader, ConceptsIndexFile, &concepts); err != nil {
			return err
		}
		raw, err := loadDocument(loader, GovernancePoliciesFile)
		if err != nil {
			return err
		}
		if len(raw) > 0 {
			sawGov = true
			if policy, err = governance.ParsePolicy(raw); err != nil {
				return fmt.Errorf("%s: %w", GovernancePoliciesFile, err)
			}
		}
		return nil
	}()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.logger.Error("Failed to load brain configuration; keeping previous documents.", zap.Error(err))
		b.decisions = append(b.decisions, DecisionLogEntry{
			Timestamp: time.Now().UTC(),
			Action:    ActionLoadConfigs,
			Error:     err.Error(),
		})
		return fmt.Errorf("failed to load brain configuration: %w", err)
	}

	if catalog == nil {
		catalog = map[string]any{}
	}
	b.catalog = catalog
	b.policies = policies
	b.concepts = concepts
	if sawGov {
		b.gate = governance.NewGate(policy)
	}
	b.logger.Info("Brain configuration loaded.",
		zap.Int("catalog_sections", len(catalog)),
		zap.Int("max_concurrent_tasks", b.concurrencyLimitLocked()),
		zap.Bool("governance_loaded", sawGov))
	return nil
}

func loadDocument(loader Loader, name string) ([]byte, error) {
	raw, err := loader(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return raw, nil
}

func decodeDocument(loader Loader, name string, out any) error {
	raw, err := loadDocument(loader, name)
	if err != nil || len(raw) == 0 {
		return err
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

// SetGate replaces the governance gate, e.g. with one built from an explicit policy file.
func (b *Brain) SetGate(g *governance.Gate) {
	if g == nil {
		return
	}
	b.mu.Lock()
	b.gate = g
	b.mu.Unlock()
}

// UpdateHealth upserts the health view of a role.
func (b *Brain) UpdateHealth(role string, status HealthStatus, metrics map[string]float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.health[role] = HealthView{
		Role:      role,
		Status:    status,
		LastCheck: time.Now().UTC(),
		Metrics:   metrics,
	}
}

// ComputeReadinessScore scores an explicit probe result list with the
// weighted formula. With no results it estimates from the health views
// instead: round(100 x (healthy + 0.5 x degraded) / views), or 100 with no views.
func (b *Brain) ComputeReadinessScore(results []readiness.ProbeResult) int {
	if len(results) > 0 {
		return readiness.ComputeScore(results)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.estimateLocked()
}

func (b *Brain) estimateLocked() int {
	if len(b.health) == 0 {
		return 100
	}
	var healthy, degraded float64
	for _, v := range b.health {
		switch v.Status {
		case HealthHealthy:
			healthy++
		case HealthDegraded:
			degraded++
		}
	}
	return int(math.Round((healthy + degraded*0.5) / float64(len(b.health)) * 100))
}

// DetermineMode classifies a score with the same thresholds as the readiness evaluator.
func (b *Brain) DetermineMode(score int) opmode.Mode {
	return opmode.Classify(score)
}

// ConcurrencyLimit is the configured max concurrent tasks.
func (b *Brain) ConcurrencyLimit() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.concurrencyLimitLocked()
}

func (b *Brain) concurrencyLimitLocked() int {
	if n := b.policies.Concurrency.MaxConcurrentTasks; n > 0 {
		return n
	}
	return b.defaultConcurrency
}

// ConceptStats counts entries of the concepts index.
type ConceptStats struct {
	Implemented  int `json:"implemented"`
	Planned      int `json:"planned"`
	PublicDomain int `json:"public_domain"`
}

// Snapshot is a read-only view of the brain.
type Snapshot struct {
	ReadinessScore     int                 `json:"readiness_score"`
	Mode               opmode.Mode         `json:"mode"`
	LastEvaluation     *EvaluationSummary  `json:"last_evaluation,omitempty"`
	ConcurrencyLimit   int                 `json:"concurrency_limit"`
	CatalogSections    []string            `json:"catalog_sections"`
	HealthViews        []HealthView        `json:"health_views"`
	RecentDecisions    []DecisionLogEntry  `json:"recent_decisions"`
	RecentTuning       []TuningRecord      `json:"recent_tuning"`
	ConceptStats       ConceptStats        `json:"concept_stats"`
	PatternActivations []PatternActivation `json:"pattern_activations"`
}

// EvaluationSummary is the part of the latest ingested evaluation kept in snapshots.
type EvaluationSummary struct {
	Timestamp time.Time   `json:"timestamp"`
	Score     int         `json:"score"`
	Mode      opmode.Mode `json:"mode"`
}

// Status returns a snapshot. It does not mutate state.
func (b *Brain) Status() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	score := b.estimateLocked()
	snap := Snapshot{
		ReadinessScore:   score,
		Mode:             opmode.Classify(score),
		ConcurrencyLimit: b.concurrencyLimitLocked(),
		CatalogSections:  make([]string, 0, len(b.catalog)),
		HealthViews:      make([]HealthView, 0, len(b.health)),
		RecentDecisions:  tail(b.decisions, recentDecisions),
		RecentTuning:     tail(b.tuning, recentTuning),
		ConceptStats: ConceptStats{
			Implemented:  len(b.concepts.ImplementedConcepts),
			Planned:      len(b.concepts.PlannedConcepts),
			PublicDomain: len(b.concepts.PublicDomainPatterns),
		},
		PatternActivations: tail(b.activations, recentActivations),
	}
	if b.latest != nil {
		snap.LastEvaluation = &EvaluationSummary{
			Timestamp: b.latest.Timestamp,
			Score:     b.latest.Score,
			Mode:      b.latest.Mode,
		}
	}
	for k := range b.catalog {
		snap.CatalogSections = append(snap.CatalogSections, k)
	}
	sort.Strings(snap.CatalogSections)
	for _, v := range b.health {
		snap.HealthViews = append(snap.HealthViews, v)
	}
	sort.Slice(snap.HealthViews, func(i, j int) bool { return snap.HealthViews[i].Role < snap.HealthViews[j].Role })
	return snap
}

// tail copies the last n elements of s.
func tail[T any](s []T, n int) []T {
	if len(s) > n {
		s = s[len(s)-n:]
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}

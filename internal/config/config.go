// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Readiness() ReadinessConfig
	Brain() BrainConfig
	Governance() GovernanceConfig
	Arena() ArenaConfig
	Store() StoreConfig
	Metrics() MetricsConfig

	// Arena Setters
	SetArenaMode(mode string)
	SetArenaMaxActiveBattles(n int)
}

// Config holds the entire application configuration.
// Sections are exported for viper's decoder and read through the Interface getters.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	ReadinessCfg  ReadinessConfig  `mapstructure:"readiness" yaml:"readiness"`
	BrainCfg      BrainConfig      `mapstructure:"brain" yaml:"brain"`
	GovernanceCfg GovernanceConfig `mapstructure:"governance" yaml:"governance"`
	ArenaCfg      ArenaConfig      `mapstructure:"arena" yaml:"arena"`
	StoreCfg      StoreConfig      `mapstructure:"store" yaml:"store"`
	MetricsCfg    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Readiness() ReadinessConfig   { return c.ReadinessCfg }
func (c *Config) Brain() BrainConfig           { return c.BrainCfg }
func (c *Config) Governance() GovernanceConfig { return c.GovernanceCfg }
func (c *Config) Arena() ArenaConfig           { return c.ArenaCfg }
func (c *Config) Store() StoreConfig           { return c.StoreCfg }
func (c *Config) Metrics() MetricsConfig       { return c.MetricsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetArenaMode(mode string)       { c.ArenaCfg.Mode = mode }
func (c *Config) SetArenaMaxActiveBattles(n int) { c.ArenaCfg.MaxActiveBattles = n }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ReadinessConfig configures the probe sweep.
type ReadinessConfig struct {
	Interval     time.Duration `mapstructure:"interval" yaml:"interval"`
	HistoryLimit int           `mapstructure:"history_limit" yaml:"history_limit"`
	Probes       []ProbeConfig `mapstructure:"probes" yaml:"probes"`
}

// ProbeConfig is a single probe as written in the config file.
type ProbeConfig struct {
	Name                 string        `mapstructure:"name" yaml:"name"`
	Kind                 string        `mapstructure:"kind" yaml:"kind"`
	Criticality          string        `mapstructure:"criticality" yaml:"criticality"`
	URL                  string        `mapstructure:"url" yaml:"url"`
	Method               string        `mapstructure:"method" yaml:"method"`
	EnvVar               string        `mapstructure:"env_var" yaml:"env_var"`
	MaxLatency           time.Duration `mapstructure:"max_latency" yaml:"max_latency"`
	ExpectedStatus       int           `mapstructure:"expected_status" yaml:"expected_status"`
	ExpectedBodyContains string        `mapstructure:"expected_body_contains" yaml:"expected_body_contains"`
}

// BrainConfig configures the system brain.
type BrainConfig struct {
	// ConfigDir holds service-catalog.yaml, resource-policies.yaml,
	// concepts-index.yaml and governance-policies.yaml.
	ConfigDir          string `mapstructure:"config_dir" yaml:"config_dir"`
	MaxConcurrentTasks int    `mapstructure:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`
	// Battles admitted per second while in maintenance mode.
	MaintenanceBattleRate  float64 `mapstructure:"maintenance_battle_rate" yaml:"maintenance_battle_rate"`
	MaintenanceBattleBurst int     `mapstructure:"maintenance_battle_burst" yaml:"maintenance_battle_burst"`
}

// GovernanceConfig points at an explicit governance policy document. When
// empty, the policy is read from the brain's config directory.
type GovernanceConfig struct {
	PolicyFile string `mapstructure:"policy_file" yaml:"policy_file"`
}

// ArenaConfig configures the arena orchestrator.
type ArenaConfig struct {
	Mode             string             `mapstructure:"mode" yaml:"mode"`
	Strategies       []string           `mapstructure:"strategies" yaml:"strategies"`
	MonitorInterval  time.Duration      `mapstructure:"monitor_interval" yaml:"monitor_interval"`
	BattleInterval   time.Duration      `mapstructure:"battle_interval" yaml:"battle_interval"`
	Workspace        string             `mapstructure:"workspace" yaml:"workspace"`
	MaxActiveBattles int                `mapstructure:"max_active_battles" yaml:"max_active_battles"`
	Weights          map[string]float64 `mapstructure:"weights" yaml:"weights"`
	BattleRules      BattleRules        `mapstructure:"battle_rules" yaml:"battle_rules"`
}

// BattleRules bounds a single battle.
type BattleRules struct {
	MaxCompetitors  int           `mapstructure:"max_competitors" yaml:"max_competitors"`
	MinImprovement  float64       `mapstructure:"min_improvement" yaml:"min_improvement"`
	TimeLimit       time.Duration `mapstructure:"time_limit" yaml:"time_limit"`
	AutoMerge       bool          `mapstructure:"auto_merge" yaml:"auto_merge"`
	RequireApproval bool          `mapstructure:"require_approval" yaml:"require_approval"`
}

// StoreConfig holds the archive database connection details.
type StoreConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// MetricsConfig toggles the prometheus collectors.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
}

// Arena modes.
const (
	ArenaModeContinuous = "continuous"
	ArenaModeScheduled  = "scheduled"
	ArenaModeTriggered  = "triggered"
)

// NewDefaultConfig creates a configuration populated purely from defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static; a failure here is a programming error.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults registers every default on the given viper instance.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "arbiter")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Readiness --
	v.SetDefault("readiness.interval", "30s")
	v.SetDefault("readiness.history_limit", 500)
	v.SetDefault("readiness.probes", []ProbeConfig{})

	// -- Brain --
	v.SetDefault("brain.config_dir", "configs")
	v.SetDefault("brain.max_concurrent_tasks", 8)
	v.SetDefault("brain.maintenance_battle_rate", 1.0/600)
	v.SetDefault("brain.maintenance_battle_burst", 1)

	// -- Governance --
	v.SetDefault("governance.policy_file", "")

	// -- Arena --
	v.SetDefault("arena.mode", ArenaModeTriggered)
	v.SetDefault("arena.strategies", []string{
		"performance_optimization",
		"readability_enhancement",
		"pattern_evolution",
		"sacred_geometry_alignment",
	})
	v.SetDefault("arena.monitor_interval", "1m")
	v.SetDefault("arena.battle_interval", "1h")
	v.SetDefault("arena.workspace", "arena-temp")
	v.SetDefault("arena.max_active_battles", 0)
	v.SetDefault("arena.weights", map[string]float64{
		"performance": 0.4,
		"quality":     0.3,
		"patterns":    0.3,
	})
	v.SetDefault("arena.battle_rules.max_competitors", 5)
	v.SetDefault("arena.battle_rules.min_improvement", 10.0)
	v.SetDefault("arena.battle_rules.time_limit", "5m")
	v.SetDefault("arena.battle_rules.auto_merge", true)
	v.SetDefault("arena.battle_rules.require_approval", false)

	// -- Store --
	v.SetDefault("store.url", "")

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", ":9464")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The archive URL usually carries credentials; allow it from the environment.
	_ = v.BindEnv("store.url", "ARBITER_STORE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in every file system path.
func (c *Config) expandPaths() error {
	paths := []*string{
		&c.LoggerCfg.LogFile,
		&c.BrainCfg.ConfigDir,
		&c.GovernanceCfg.PolicyFile,
		&c.ArenaCfg.Workspace,
	}
	for _, p := range paths {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for logical consistency.
func (c *Config) Validate() error {
	if err := c.ReadinessCfg.Validate(); err != nil {
		return fmt.Errorf("readiness configuration invalid: %w", err)
	}
	if c.BrainCfg.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("brain.max_concurrent_tasks must be a positive integer")
	}
	if c.BrainCfg.MaintenanceBattleRate < 0 {
		return fmt.Errorf("brain.maintenance_battle_rate cannot be negative")
	}
	if err := c.ArenaCfg.Validate(); err != nil {
		return fmt.Errorf("arena configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the probe list.
func (r *ReadinessConfig) Validate() error {
	if r.Interval <= 0 {
		return fmt.Errorf("readiness.interval must be a positive duration")
	}
	if r.HistoryLimit < 0 {
		return fmt.Errorf("readiness.history_limit cannot be negative")
	}
	seen := make(map[string]struct{}, len(r.Probes))
	for i, p := range r.Probes {
		if p.Name == "" {
			return fmt.Errorf("readiness.probes[%d].name is required", i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("readiness.probes[%d].name %q is duplicated", i, p.Name)
		}
		seen[p.Name] = struct{}{}

		switch strings.ToLower(p.Kind) {
		case "http":
			if p.URL == "" {
				return fmt.Errorf("readiness.probes[%d] (%s): url is required for http probes", i, p.Name)
			}
		case "env":
			if p.EnvVar == "" {
				return fmt.Errorf("readiness.probes[%d] (%s): env_var is required for env probes", i, p.Name)
			}
		}
		if p.MaxLatency < 0 {
			return fmt.Errorf("readiness.probes[%d] (%s): max_latency cannot be negative", i, p.Name)
		}
	}
	return nil
}

// Validate checks arena mode, intervals and battle rules.
func (a *ArenaConfig) Validate() error {
	switch a.Mode {
	case ArenaModeContinuous:
		if a.MonitorInterval <= 0 {
			return fmt.Errorf("arena.monitor_interval must be a positive duration in continuous mode")
		}
	case ArenaModeScheduled:
		if a.BattleInterval <= 0 {
			return fmt.Errorf("arena.battle_interval must be a positive duration in scheduled mode")
		}
	case ArenaModeTriggered:
	default:
		return fmt.Errorf("arena.mode must be one of continuous, scheduled, triggered (got %q)", a.Mode)
	}
	if len(a.Strategies) == 0 {
		return fmt.Errorf("arena.strategies must not be empty")
	}
	if a.MaxActiveBattles < 0 {
		return fmt.Errorf("arena.max_active_battles cannot be negative")
	}
	for dim, w := range a.Weights {
		if w < 0 {
			return fmt.Errorf("arena.weights.%s cannot be negative", dim)
		}
	}
	if a.BattleRules.MaxCompetitors <= 0 {
		return fmt.Errorf("arena.battle_rules.max_competitors must be a positive integer")
	}
	if a.BattleRules.MinImprovement < 0 {
		return fmt.Errorf("arena.battle_rules.min_improvement cannot be negative")
	}
	if a.BattleRules.TimeLimit < 0 {
		return fmt.Errorf("arena.battle_rules.time_limit cannot be negative")
	}
	return nil
}

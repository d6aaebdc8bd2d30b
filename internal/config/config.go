// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing engine configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Engine() EngineConfig
	Staffing() StaffingConfig
	Allocator() AllocatorConfig
	Compliance() ComplianceConfig
	Scoring() ScoringConfig
	Search() SearchConfig
	Recompute() RecomputeConfig

	SetEngineWorkerConcurrency(int)
	SetStaffingMaxAgents(int)
}

// Config holds the entire engine configuration. Fields are private to force
// access through the Interface getters; decoding goes through fileConfig
// because mapstructure cannot populate unexported fields.
type Config struct {
	logger     LoggerConfig
	database   DatabaseConfig
	engine     EngineConfig
	staffing   StaffingConfig
	allocator  AllocatorConfig
	compliance ComplianceConfig
	scoring    ScoringConfig
	search     SearchConfig
	recompute  RecomputeConfig
}

// fileConfig is the exported mirror of Config used for viper decoding.
type fileConfig struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Engine     EngineConfig     `mapstructure:"engine" yaml:"engine"`
	Staffing   StaffingConfig   `mapstructure:"staffing" yaml:"staffing"`
	Allocator  AllocatorConfig  `mapstructure:"allocator" yaml:"allocator"`
	Compliance ComplianceConfig `mapstructure:"compliance" yaml:"compliance"`
	Scoring    ScoringConfig    `mapstructure:"scoring" yaml:"scoring"`
	Search     SearchConfig     `mapstructure:"search" yaml:"search"`
	Recompute  RecomputeConfig  `mapstructure:"recompute" yaml:"recompute"`
}

func (f fileConfig) toConfig() *Config {
	return &Config{
		logger:     f.Logger,
		database:   f.Database,
		engine:     f.Engine,
		staffing:   f.Staffing,
		allocator:  f.Allocator,
		compliance: f.Compliance,
		scoring:    f.Scoring,
		search:     f.Search,
		recompute:  f.Recompute,
	}
}

// -- Interface Method Implementations (Getters) --

func (c *Config) Logger() LoggerConfig         { return c.logger }
func (c *Config) Database() DatabaseConfig     { return c.database }
func (c *Config) Engine() EngineConfig         { return c.engine }
func (c *Config) Staffing() StaffingConfig     { return c.staffing }
func (c *Config) Allocator() AllocatorConfig   { return c.allocator }
func (c *Config) Compliance() ComplianceConfig { return c.compliance }
func (c *Config) Scoring() ScoringConfig       { return c.scoring }
func (c *Config) Search() SearchConfig         { return c.search }
func (c *Config) Recompute() RecomputeConfig   { return c.recompute }

// -- Interface Method Implementations (Setters) --

func (c *Config) SetEngineWorkerConcurrency(w int) { c.engine.WorkerConcurrency = w }
func (c *Config) SetStaffingMaxAgents(n int)       { c.staffing.MaxAgents = n }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// DatabaseConfig holds the persistence collaborator connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// EngineConfig configures the bounded worker pool executing optimization
// requests.
type EngineConfig struct {
	QueueSize          int           `mapstructure:"queue_size" yaml:"queue_size"`
	WorkerConcurrency  int           `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	DefaultTaskTimeout time.Duration `mapstructure:"default_task_timeout" yaml:"default_task_timeout"`
}

// StaffingConfig configures the Erlang C calculator and its result cache.
type StaffingConfig struct {
	// MaxAgents caps the N-increment search so unreachable targets terminate
	// with a typed result instead of looping.
	MaxAgents int `mapstructure:"max_agents" yaml:"max_agents"`
	// VolumeRounding is the granularity volumes are rounded to for cache keys.
	VolumeRounding float64       `mapstructure:"volume_rounding" yaml:"volume_rounding"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// AllocatorConfig configures the multi-skill allocation optimizer.
type AllocatorConfig struct {
	// SolveBudget bounds the iterative solve before the greedy fallback kicks in.
	SolveBudget time.Duration `mapstructure:"solve_budget" yaml:"solve_budget"`
	// ShortagePenalty weights unmet requirement in the objective. It must
	// dominate any realistic per-share cost so the solver prefers coverage.
	ShortagePenalty float64 `mapstructure:"shortage_penalty" yaml:"shortage_penalty"`
	// StarvationWeight is the anti-starvation fairness term. Tuning is a
	// configuration decision, never a hidden constant.
	StarvationWeight float64 `mapstructure:"starvation_weight" yaml:"starvation_weight"`
	// MaxPasses bounds the improvement iterations of the primary solve.
	MaxPasses int `mapstructure:"max_passes" yaml:"max_passes"`
	// CertifiedOnly restricts assignment to certified skill ratings.
	CertifiedOnly bool `mapstructure:"certified_only" yaml:"certified_only"`
}

// ComplianceConfig holds the active labor-rule thresholds, supplied by the
// configuration collaborator. The engine never hardcodes these.
type ComplianceConfig struct {
	MinRestHours        float64 `mapstructure:"min_rest_hours" yaml:"min_rest_hours"`
	MaxConsecutiveHours float64 `mapstructure:"max_consecutive_hours" yaml:"max_consecutive_hours"`
	MaxConsecutiveDays  int     `mapstructure:"max_consecutive_days" yaml:"max_consecutive_days"`
	MaxWeeklyHours      float64 `mapstructure:"max_weekly_hours" yaml:"max_weekly_hours"`
	// RepairShiftStep is the granularity of shift-start moves attempted by
	// Repair; RepairMaxMoves bounds how many moves one repair pass may make.
	RepairShiftStep time.Duration `mapstructure:"repair_shift_step" yaml:"repair_shift_step"`
	RepairMaxMoves  int           `mapstructure:"repair_max_moves" yaml:"repair_max_moves"`
}

// ScoringConfig holds the composite-score weights and severity bands.
type ScoringConfig struct {
	CoverageWeight   float64 `mapstructure:"coverage_weight" yaml:"coverage_weight"`
	CostWeight       float64 `mapstructure:"cost_weight" yaml:"cost_weight"`
	FairnessWeight   float64 `mapstructure:"fairness_weight" yaml:"fairness_weight"`
	ComplianceWeight float64 `mapstructure:"compliance_weight" yaml:"compliance_weight"`
	// SoftViolationPenalty is the linear per-violation penalty.
	SoftViolationPenalty float64 `mapstructure:"soft_violation_penalty" yaml:"soft_violation_penalty"`
	// Severity bands for the gap analyzer, as fractions of the requirement.
	CriticalShortageRatio float64 `mapstructure:"critical_shortage_ratio" yaml:"critical_shortage_ratio"`
	MajorShortageRatio    float64 `mapstructure:"major_shortage_ratio" yaml:"major_shortage_ratio"`
	WorstN                int     `mapstructure:"worst_n" yaml:"worst_n"`
}

// SearchConfig configures the genetic schedule search.
type SearchConfig struct {
	PopulationSize int `mapstructure:"population_size" yaml:"population_size"`
	// EliteFraction of the population survives on score; DiversityFraction is
	// sampled randomly for diversity.
	EliteFraction     float64 `mapstructure:"elite_fraction" yaml:"elite_fraction"`
	DiversityFraction float64 `mapstructure:"diversity_fraction" yaml:"diversity_fraction"`
	// MutationRate is the per-shift perturbation probability; MaxMutations
	// bounds perturbations per candidate.
	MutationRate float64 `mapstructure:"mutation_rate" yaml:"mutation_rate"`
	MaxMutations int     `mapstructure:"max_mutations" yaml:"max_mutations"`
	// StallGenerations without improvement triggers convergence.
	StallGenerations int           `mapstructure:"stall_generations" yaml:"stall_generations"`
	MaxGenerations   int           `mapstructure:"max_generations" yaml:"max_generations"`
	Budget           time.Duration `mapstructure:"budget" yaml:"budget"`
	// Seed fixes the RNG for reproducible runs; 0 seeds from the clock.
	Seed int64 `mapstructure:"seed" yaml:"seed"`
	// EvalConcurrency bounds parallel candidate evaluation.
	EvalConcurrency int `mapstructure:"eval_concurrency" yaml:"eval_concurrency"`
}

// RecomputeConfig configures the periodic live-staffing recompute loop.
type RecomputeConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	// GapThreshold is the aggregate shortage above which the orchestrator
	// triggers a schedule search.
	GapThreshold float64 `mapstructure:"gap_threshold" yaml:"gap_threshold"`
	// Bounded retries with backoff for transient collaborator failures.
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	MetricsAddress string        `mapstructure:"metrics_address" yaml:"metrics_address"`
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var raw fileConfig
	if err := v.Unmarshal(&raw); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return raw.toConfig()
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "shiftarc")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Engine --
	v.SetDefault("engine.queue_size", 256)
	v.SetDefault("engine.worker_concurrency", 4)
	v.SetDefault("engine.default_task_timeout", "2m")

	// -- Staffing --
	v.SetDefault("staffing.max_agents", 2000)
	v.SetDefault("staffing.volume_rounding", 1.0)
	v.SetDefault("staffing.cache_ttl", "120s")

	// -- Allocator --
	v.SetDefault("allocator.solve_budget", "5s")
	v.SetDefault("allocator.shortage_penalty", 1000.0)
	v.SetDefault("allocator.starvation_weight", 0.15)
	v.SetDefault("allocator.max_passes", 50)
	v.SetDefault("allocator.certified_only", false)

	// -- Compliance --
	v.SetDefault("compliance.min_rest_hours", 11.0)
	v.SetDefault("compliance.max_consecutive_hours", 10.0)
	v.SetDefault("compliance.max_consecutive_days", 6)
	v.SetDefault("compliance.max_weekly_hours", 44.0)
	v.SetDefault("compliance.repair_shift_step", "30m")
	v.SetDefault("compliance.repair_max_moves", 8)

	// -- Scoring --
	v.SetDefault("scoring.coverage_weight", 1.0)
	v.SetDefault("scoring.cost_weight", 0.3)
	v.SetDefault("scoring.fairness_weight", 1.0)
	v.SetDefault("scoring.compliance_weight", 1.0)
	v.SetDefault("scoring.soft_violation_penalty", 5.0)
	v.SetDefault("scoring.critical_shortage_ratio", 0.25)
	v.SetDefault("scoring.major_shortage_ratio", 0.10)
	v.SetDefault("scoring.worst_n", 10)

	// -- Search --
	v.SetDefault("search.population_size", 40)
	v.SetDefault("search.elite_fraction", 0.25)
	v.SetDefault("search.diversity_fraction", 0.10)
	v.SetDefault("search.mutation_rate", 0.05)
	v.SetDefault("search.max_mutations", 6)
	v.SetDefault("search.stall_generations", 8)
	v.SetDefault("search.max_generations", 200)
	v.SetDefault("search.budget", "30s")
	v.SetDefault("search.seed", 0)
	v.SetDefault("search.eval_concurrency", 4)

	// -- Recompute --
	v.SetDefault("recompute.enabled", false)
	v.SetDefault("recompute.interval", "60s")
	v.SetDefault("recompute.gap_threshold", 2.0)
	v.SetDefault("recompute.max_retries", 3)
	v.SetDefault("recompute.retry_backoff", "2s")
	v.SetDefault("recompute.metrics_address", ":9107")
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("database.url", "SHIFTARC_DATABASE_URL")

	var raw fileConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg := raw.toConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfigDir returns the per-user configuration directory, falling back
// to the working directory when the home directory cannot be resolved.
func DefaultConfigDir() string {
	home, err := homedir.Dir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".shiftarc")
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.engine.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if c.staffing.MaxAgents <= 0 {
		return fmt.Errorf("staffing.max_agents must be a positive integer")
	}
	if c.allocator.ShortagePenalty <= 0 {
		return fmt.Errorf("allocator.shortage_penalty must be positive")
	}
	if c.compliance.MinRestHours < 0 {
		return fmt.Errorf("compliance.min_rest_hours must not be negative")
	}
	if c.search.PopulationSize < 2 {
		return fmt.Errorf("search.population_size must be at least 2")
	}
	if c.search.EliteFraction <= 0 || c.search.EliteFraction > 1 {
		return fmt.Errorf("search.elite_fraction must be in (0, 1]")
	}
	if c.scoring.CriticalShortageRatio < c.scoring.MajorShortageRatio {
		return fmt.Errorf("scoring.critical_shortage_ratio must not be below major_shortage_ratio")
	}
	if c.recompute.Enabled && c.recompute.Interval <= 0 {
		return fmt.Errorf("recompute.interval must be positive when the recompute loop is enabled")
	}
	return nil
}

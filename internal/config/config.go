package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete maestro configuration
type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Review    ReviewConfig    `mapstructure:"review"`
	FixLoop   FixLoopConfig   `mapstructure:"fix_loop"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Paths     PathsConfig     `mapstructure:"paths"`
}

// SchedulerConfig controls dispatch batching and the orchestration loop
type SchedulerConfig struct {
	// MaxParallel caps how many dispatch units run concurrently in one
	// batch; conflict-free units beyond the ceiling wait for the next
	// cycle (default: 4)
	MaxParallel int `mapstructure:"max_parallel"`
	// CycleBudget is the maximum number of orchestration cycles before
	// the run exits with code 1 (default: 50)
	CycleBudget int `mapstructure:"cycle_budget"`
	// StagnationLimit is the number of consecutive cycles without any
	// state progress before the run gives up (default: 5)
	StagnationLimit int `mapstructure:"stagnation_limit"`
}

// ExecutorConfig controls backend invocation
type ExecutorConfig struct {
	// TimeoutMinutes is the wall-clock budget per invocation. Backends
	// are long-running agents, so the default is hours-scale (default: 120)
	TimeoutMinutes int `mapstructure:"timeout_minutes"`
	// Workdir is the working directory handed to backends. Empty means
	// the current directory
	Workdir string `mapstructure:"workdir"`
	// Backends maps an owner kind to the command that executes it
	Backends map[string]BackendConfig `mapstructure:"backends"`
}

// BackendConfig describes one executor backend
type BackendConfig struct {
	// Command is the argv to run; the unit content is written to stdin
	Command []string `mapstructure:"command"`
	// UsePTY allocates a pseudo-terminal for backends that refuse to run
	// without one
	UsePTY bool `mapstructure:"use_pty"`
}

// ReviewConfig controls review fan-out
type ReviewConfig struct {
	// BackendKind is the owner kind used for reviewer invocations
	// (default: "reviewer")
	BackendKind string `mapstructure:"backend_kind"`
	// ComplexReviewers is the fan-out for complex and security-sensitive
	// tasks; values below 2 are rejected (default: 2)
	ComplexReviewers int `mapstructure:"complex_reviewers"`
}

// FixLoopConfig controls fix-cycle budgets
type FixLoopConfig struct {
	// MaxAttempts is the fix-cycle budget per task; at the budget the
	// task is parked blocked instead of re-dispatched (default: 3)
	MaxAttempts int `mapstructure:"max_attempts"`
	// EscalationThreshold is the attempt count at which a pending
	// decision is recorded for a human (default: 2)
	EscalationThreshold int `mapstructure:"escalation_threshold"`
}

// SyncConfig controls the status projection and aging thresholds
type SyncConfig struct {
	// DecisionEscalationHours ages a pending decision into escalated
	// (default: 24)
	DecisionEscalationHours int `mapstructure:"decision_escalation_hours"`
	// BlockedStaleHours sorts older blockers first in the projection
	// (default: 48)
	BlockedStaleHours int `mapstructure:"blocked_stale_hours"`
	// PulseFile is where the status projection is written (default:
	// "PROJECT_PULSE.md")
	PulseFile string `mapstructure:"pulse_file"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether debug logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
}

// PathsConfig controls where maestro reads and stores data
type PathsConfig struct {
	// StateFile is the persisted state document (default:
	// "ORCHESTRATION_STATE.json")
	StateFile string `mapstructure:"state_file"`
	// PlanFile is the checklist plan (default: "PLAN.md")
	PlanFile string `mapstructure:"plan_file"`
	// ClassificationFile is the optional backend classification map
	ClassificationFile string `mapstructure:"classification_file"`
	// SessionDir holds logs and generated artifacts (default: ".maestro")
	SessionDir string `mapstructure:"session_dir"`
}

// Timeout returns the executor timeout as a time.Duration
func (c *ExecutorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// DecisionEscalationAge returns the decision aging threshold as a duration
func (c *SyncConfig) DecisionEscalationAge() time.Duration {
	return time.Duration(c.DecisionEscalationHours) * time.Hour
}

// BlockedStaleAge returns the blocker aging threshold as a duration
func (c *SyncConfig) BlockedStaleAge() time.Duration {
	return time.Duration(c.BlockedStaleHours) * time.Hour
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			MaxParallel:     4,
			CycleBudget:     50,
			StagnationLimit: 5,
		},
		Executor: ExecutorConfig{
			TimeoutMinutes: 120,
			Workdir:        "",
			Backends:       map[string]BackendConfig{},
		},
		Review: ReviewConfig{
			BackendKind:      "reviewer",
			ComplexReviewers: 2,
		},
		FixLoop: FixLoopConfig{
			MaxAttempts:         3,
			EscalationThreshold: 2,
		},
		Sync: SyncConfig{
			DecisionEscalationHours: 24,
			BlockedStaleHours:       48,
			PulseFile:               "PROJECT_PULSE.md",
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
		Paths: PathsConfig{
			StateFile:          "ORCHESTRATION_STATE.json",
			PlanFile:           "PLAN.md",
			ClassificationFile: "",
			SessionDir:         ".maestro",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("scheduler.max_parallel", defaults.Scheduler.MaxParallel)
	viper.SetDefault("scheduler.cycle_budget", defaults.Scheduler.CycleBudget)
	viper.SetDefault("scheduler.stagnation_limit", defaults.Scheduler.StagnationLimit)

	viper.SetDefault("executor.timeout_minutes", defaults.Executor.TimeoutMinutes)
	viper.SetDefault("executor.workdir", defaults.Executor.Workdir)

	viper.SetDefault("review.backend_kind", defaults.Review.BackendKind)
	viper.SetDefault("review.complex_reviewers", defaults.Review.ComplexReviewers)

	viper.SetDefault("fix_loop.max_attempts", defaults.FixLoop.MaxAttempts)
	viper.SetDefault("fix_loop.escalation_threshold", defaults.FixLoop.EscalationThreshold)

	viper.SetDefault("sync.decision_escalation_hours", defaults.Sync.DecisionEscalationHours)
	viper.SetDefault("sync.blocked_stale_hours", defaults.Sync.BlockedStaleHours)
	viper.SetDefault("sync.pulse_file", defaults.Sync.PulseFile)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)

	viper.SetDefault("paths.state_file", defaults.Paths.StateFile)
	viper.SetDefault("paths.plan_file", defaults.Paths.PlanFile)
	viper.SetDefault("paths.classification_file", defaults.Paths.ClassificationFile)
	viper.SetDefault("paths.session_dir", defaults.Paths.SessionDir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "maestro")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".maestro"
	}
	return filepath.Join(home, ".config", "maestro")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

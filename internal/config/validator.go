package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "scheduler.max_parallel")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation
// errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateScheduler()...)
	errors = append(errors, c.validateExecutor()...)
	errors = append(errors, c.validateReview()...)
	errors = append(errors, c.validateFixLoop()...)
	errors = append(errors, c.validateSync()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateScheduler() []ValidationError {
	var errors []ValidationError

	if c.Scheduler.MaxParallel < 1 {
		errors = append(errors, ValidationError{
			Field:   "scheduler.max_parallel",
			Value:   c.Scheduler.MaxParallel,
			Message: "must be at least 1",
		})
	}
	if c.Scheduler.CycleBudget < 1 {
		errors = append(errors, ValidationError{
			Field:   "scheduler.cycle_budget",
			Value:   c.Scheduler.CycleBudget,
			Message: "must be at least 1",
		})
	}
	if c.Scheduler.StagnationLimit < 1 {
		errors = append(errors, ValidationError{
			Field:   "scheduler.stagnation_limit",
			Value:   c.Scheduler.StagnationLimit,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateExecutor() []ValidationError {
	var errors []ValidationError

	if c.Executor.TimeoutMinutes < 1 {
		errors = append(errors, ValidationError{
			Field:   "executor.timeout_minutes",
			Value:   c.Executor.TimeoutMinutes,
			Message: "must be at least 1",
		})
	}
	for kind, backend := range c.Executor.Backends {
		if len(backend.Command) == 0 {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("executor.backends.%s.command", kind),
				Value:   backend.Command,
				Message: "must not be empty",
			})
		}
	}

	return errors
}

func (c *Config) validateReview() []ValidationError {
	var errors []ValidationError

	if c.Review.BackendKind == "" {
		errors = append(errors, ValidationError{
			Field:   "review.backend_kind",
			Value:   c.Review.BackendKind,
			Message: "must not be empty",
		})
	}
	// Complex and security-sensitive tasks always get at least two
	// independent reviewers.
	if c.Review.ComplexReviewers < 2 {
		errors = append(errors, ValidationError{
			Field:   "review.complex_reviewers",
			Value:   c.Review.ComplexReviewers,
			Message: "must be at least 2",
		})
	}

	return errors
}

func (c *Config) validateFixLoop() []ValidationError {
	var errors []ValidationError

	if c.FixLoop.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "fix_loop.max_attempts",
			Value:   c.FixLoop.MaxAttempts,
			Message: "must be at least 1",
		})
	}
	if c.FixLoop.EscalationThreshold < 1 {
		errors = append(errors, ValidationError{
			Field:   "fix_loop.escalation_threshold",
			Value:   c.FixLoop.EscalationThreshold,
			Message: "must be at least 1",
		})
	}
	if c.FixLoop.EscalationThreshold > c.FixLoop.MaxAttempts {
		errors = append(errors, ValidationError{
			Field:   "fix_loop.escalation_threshold",
			Value:   c.FixLoop.EscalationThreshold,
			Message: fmt.Sprintf("must not exceed fix_loop.max_attempts (%d)", c.FixLoop.MaxAttempts),
		})
	}

	return errors
}

func (c *Config) validateSync() []ValidationError {
	var errors []ValidationError

	if c.Sync.DecisionEscalationHours < 1 {
		errors = append(errors, ValidationError{
			Field:   "sync.decision_escalation_hours",
			Value:   c.Sync.DecisionEscalationHours,
			Message: "must be at least 1",
		})
	}
	if c.Sync.BlockedStaleHours < 1 {
		errors = append(errors, ValidationError{
			Field:   "sync.blocked_stale_hours",
			Value:   c.Sync.BlockedStaleHours,
			Message: "must be at least 1",
		})
	}
	if c.Sync.PulseFile == "" {
		errors = append(errors, ValidationError{
			Field:   "sync.pulse_file",
			Value:   c.Sync.PulseFile,
			Message: "must not be empty",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}

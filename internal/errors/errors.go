// Package errors provides centralized error definitions and error handling
// utilities for the maestro codebase. It defines domain-specific errors,
// sentinel errors, error constructors with context wrapping, and
// classification helpers.
//
// The package provides two categories of errors:
//
// Plan-stage errors are fatal and abort before any dispatch:
//   - PlanError: unparseable plans, unknown references, dependency cycles
//
// Run-stage errors are contained to the unit that caused them and recorded
// as state rather than raised:
//   - TransitionError: an illegal lifecycle transition, rejected locally
//   - ExecutorError: a backend invocation failed or timed out
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrCycleDetected) { ... }
//
//	var tErr *errors.TransitionError
//	if errors.As(err, &tErr) { ... }
//
//	if errors.IsFatal(err) { ... }
package errors

import (
	"errors"
	"fmt"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Plan-stage sentinel errors
var (
	// ErrMalformedPlan indicates the plan document could not be parsed or
	// references an unknown task id.
	ErrMalformedPlan = New("malformed plan")
	// ErrCycleDetected indicates the dependency relation is not a DAG.
	ErrCycleDetected = New("dependency cycle detected")
	// ErrUnknownClassification indicates a classification entry names a
	// task id that does not exist in the plan.
	ErrUnknownClassification = New("classification references unknown task")
)

// Run-stage sentinel errors
var (
	// ErrInvalidTransition indicates a lifecycle transition not present in
	// the legal transition table.
	ErrInvalidTransition = New("invalid status transition")
	// ErrExecutorFailure indicates a backend invocation reported failure.
	ErrExecutorFailure = New("executor failure")
	// ErrExecutorTimeout indicates a backend invocation exceeded its
	// wall-clock budget.
	ErrExecutorTimeout = New("executor timeout")
	// ErrTaskNotFound indicates a task id is absent from the state document.
	ErrTaskNotFound = New("task not found")
	// ErrUnknownBackend indicates no command is configured for a backend kind.
	ErrUnknownBackend = New("unknown backend kind")
)

// Store sentinel errors
var (
	// ErrStaleDocument indicates the persisted document's version is older
	// than one already observed; usually another process rewrote the file
	// out from under this handle.
	ErrStaleDocument = New("stale state document")
	// ErrDocumentExists indicates an init would overwrite an existing
	// state document.
	ErrDocumentExists = New("state document already exists")
)

// -----------------------------------------------------------------------------
// PlanError
// -----------------------------------------------------------------------------

// PlanError represents a fatal error detected while parsing or validating
// the plan. It wraps one of the plan-stage sentinels.
type PlanError struct {
	// Msg describes what went wrong, including the offending id or cycle.
	Msg string
	// Err is the underlying sentinel (ErrMalformedPlan, ErrCycleDetected, ...).
	Err error
}

// NewPlanError creates a PlanError wrapping the given sentinel.
func NewPlanError(msg string, sentinel error) *PlanError {
	return &PlanError{Msg: msg, Err: sentinel}
}

func (e *PlanError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Msg)
	}
	return e.Msg
}

// Unwrap returns the underlying sentinel error.
func (e *PlanError) Unwrap() error { return e.Err }

// -----------------------------------------------------------------------------
// TransitionError
// -----------------------------------------------------------------------------

// TransitionError reports a rejected lifecycle transition. The caller's
// task record is unchanged when this is returned.
type TransitionError struct {
	TaskID string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("invalid status transition for %s: %s -> %s", e.TaskID, e.From, e.To)
	}
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

// Is reports whether target is ErrInvalidTransition, so callers can use
// errors.Is without knowing the concrete type.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// -----------------------------------------------------------------------------
// ExecutorError
// -----------------------------------------------------------------------------

// ExecutorError represents a failed backend invocation. It is unit-scoped:
// the scheduler converts it into a blocked status plus a BlockedItem and
// the orchestration run continues.
type ExecutorError struct {
	UnitID  string
	Backend string
	Timeout bool
	Err     error
}

// NewExecutorError creates an ExecutorError for a failed invocation.
func NewExecutorError(unitID, backend string, err error) *ExecutorError {
	return &ExecutorError{UnitID: unitID, Backend: backend, Err: err}
}

// NewExecutorTimeout creates an ExecutorError for a timed-out invocation.
func NewExecutorTimeout(unitID, backend string) *ExecutorError {
	return &ExecutorError{UnitID: unitID, Backend: backend, Timeout: true}
}

func (e *ExecutorError) Error() string {
	kind := "failure"
	if e.Timeout {
		kind = "timeout"
	}
	if e.Err != nil {
		return fmt.Sprintf("executor %s for unit %s (%s): %v", kind, e.UnitID, e.Backend, e.Err)
	}
	return fmt.Sprintf("executor %s for unit %s (%s)", kind, e.UnitID, e.Backend)
}

// Unwrap returns the underlying cause, if any.
func (e *ExecutorError) Unwrap() error { return e.Err }

// Is reports whether target matches this error's kind sentinel. A timeout
// also matches ErrExecutorFailure since it is handled the same way.
func (e *ExecutorError) Is(target error) bool {
	if e.Timeout {
		return target == ErrExecutorTimeout || target == ErrExecutorFailure
	}
	return target == ErrExecutorFailure
}

// Reason returns the blocked-item reason string for the failure.
func (e *ExecutorError) Reason() string {
	if e.Timeout {
		return "timeout"
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "executor failure"
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsFatal reports whether err should abort the run before any dispatch.
// Only plan-stage errors are fatal.
func IsFatal(err error) bool {
	return Is(err, ErrMalformedPlan) || Is(err, ErrCycleDetected) || Is(err, ErrUnknownClassification)
}

// IsUnitScoped reports whether err is contained to a single dispatch unit
// and should be recorded as state rather than propagated.
func IsUnitScoped(err error) bool {
	return Is(err, ErrExecutorFailure) || Is(err, ErrExecutorTimeout)
}

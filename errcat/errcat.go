// Package errcat defines the typed error kinds spec.md §7 enumerates, each
// satisfying errors.Is/errors.As the way the teacher's runtime/agent/toolerrors
// and runtime/agent/planner/tool_error.go preserve structured causes through
// wrapping instead of stringly-typed errors.
package errcat

import (
	"errors"
	"fmt"
)

// ConfigError wraps a fatal startup-time configuration failure: a bad plugin
// manifest, a missing required field, or a cyclic plugin dependency graph
// (spec §7, §4.10).
type ConfigError struct {
	Reason string
	Cause  error
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("config error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// NewConfigError constructs a ConfigError.
func NewConfigError(reason string, cause error) *ConfigError {
	return &ConfigError{Reason: reason, Cause: cause}
}

// ResolveError signals a service DI resolution failure (cycle or constructor
// error). Carries the FQID of the service that first failed so dependents can
// be marked failed with the same cause (spec §4.9, §7).
type ResolveError struct {
	ServiceFQID string
	Reason      string
	Cause       error
}

func (e *ResolveError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("resolve error for %s: %s: %v", e.ServiceFQID, e.Reason, e.Cause)
	}
	return fmt.Sprintf("resolve error for %s: %s", e.ServiceFQID, e.Reason)
}

func (e *ResolveError) Unwrap() error { return e.Cause }

// NewResolveError constructs a ResolveError.
func NewResolveError(fqid, reason string, cause error) *ResolveError {
	return &ResolveError{ServiceFQID: fqid, Reason: reason, Cause: cause}
}

// ActionNotFoundError is raised by the action injector when no ActionDefinition
// is registered under the (lower-cased) name (spec §4.2 step 1).
type ActionNotFoundError struct {
	Name string
}

func (e *ActionNotFoundError) Error() string {
	return fmt.Sprintf("action not found: %s", e.Name)
}

// MissingActionParameterError is raised when a formal parameter cannot be
// resolved through any of the injector's fallback sources (spec §4.2 step 3).
type MissingActionParameterError struct {
	Action    string
	Parameter string
}

func (e *MissingActionParameterError) Error() string {
	return fmt.Sprintf("missing parameter %q for action %q", e.Parameter, e.Action)
}

// ActionArgumentInvalidError is raised when a structured-record parameter
// fails validation; Field names the offending field (spec §4.2 step 3a).
type ActionArgumentInvalidError struct {
	Action string
	Field  string
	Cause  error
}

func (e *ActionArgumentInvalidError) Error() string {
	return fmt.Sprintf("invalid argument for action %q, field %q: %v", e.Action, e.Field, e.Cause)
}

func (e *ActionArgumentInvalidError) Unwrap() error { return e.Cause }

// JumpKind discriminates the two JumpSignal flavors (spec §4.3 step 3).
type JumpKind int

const (
	// JumpStep targets a step id within the same task via step_map.
	JumpStep JumpKind = iota
	// JumpTask targets another task FQID (go_task).
	JumpTask
)

// JumpSignal is control flow, never logged as an error (spec §7): it is
// consumed by the engine (JumpStep, resolved locally) or propagated to the
// orchestrator (JumpTask).
type JumpSignal struct {
	Kind   JumpKind
	Target string
}

func (e *JumpSignal) Error() string {
	if e.Kind == JumpStep {
		return fmt.Sprintf("jump to step %q", e.Target)
	}
	return fmt.Sprintf("jump to task %q", e.Target)
}

// StopTask is the normal task-run terminator. Success determines whether the
// run is classified success or failure (spec §4.3 step 5, §7).
type StopTask struct {
	Success bool
	Reason  string
}

func (e *StopTask) Error() string {
	return fmt.Sprintf("task stopped (success=%v): %s", e.Success, e.Reason)
}

// TimeoutError surfaces at the execution-manager boundary when a tasklet's
// timeout_sec elapses (spec §4.4 step 7, §7).
type TimeoutError struct {
	TaskFQID string
	Timeout  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s timed out after %s", e.TaskFQID, e.Timeout)
}

// CancelledError surfaces when a tasklet is explicitly cancelled (spec §4.4
// step 8, §5 "Cancellation").
type CancelledError struct {
	TaskFQID string
	Reason   string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("task %s cancelled: %s", e.TaskFQID, e.Reason)
}

// PlannerError surfaces to ensure_state callers as a boolean false with a
// PLANNER_FAILED event carrying Reason (spec §4.8, §7).
type PlannerError struct {
	Reason string
	Cause  error
}

func (e *PlannerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("planner error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("planner error: %s", e.Reason)
}

func (e *PlannerError) Unwrap() error { return e.Cause }

// EventDepthExceededError marks an event the bus dropped because its causation
// chain reached max_depth (spec §4.1, §7); logged at critical severity, never
// delivered.
type EventDepthExceededError struct {
	EventName string
	Depth     int
	MaxDepth  int
}

func (e *EventDepthExceededError) Error() string {
	return fmt.Sprintf("event %q dropped: depth %d >= max depth %d", e.EventName, e.Depth, e.MaxDepth)
}

// IsJumpSignal reports whether err is (or wraps) a *JumpSignal. The engine
// uses this to distinguish control flow from real failures (spec §4.3.1:
// "Any exception that is not a JumpSignal is a failure").
func IsJumpSignal(err error) bool {
	var js *JumpSignal
	return errors.As(err, &js)
}

// AsJumpSignal extracts a *JumpSignal from err, if present.
func AsJumpSignal(err error) (*JumpSignal, bool) {
	var js *JumpSignal
	if errors.As(err, &js) {
		return js, true
	}
	return nil, false
}

// AsStopTask extracts a *StopTask from err, if present.
func AsStopTask(err error) (*StopTask, bool) {
	var st *StopTask
	if errors.As(err, &st) {
		return st, true
	}
	return nil, false
}

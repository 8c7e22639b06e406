package types

import (
	"errors"
	"fmt"
)

// Error taxonomy for the execution core. Tool-level errors (validation,
// permission, execution, timeout) are recovered locally by the loop and turned
// into tool_result blocks; ErrResourceExhausted and ErrFatalLoop propagate to
// the caller.
var (
	// ErrValidation marks tool input that failed schema validation. The
	// tool body is never invoked.
	ErrValidation = errors.New("tool input validation failed")

	// ErrPermissionDenied marks a tool call rejected by the permission
	// gate.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrExecution marks a tool that ran and failed.
	ErrExecution = errors.New("tool execution failed")

	// ErrTimeout marks a tool or model call that exceeded its bound.
	ErrTimeout = errors.New("operation timed out")

	// ErrResourceExhausted marks a session that cannot be brought under
	// its context budget even after a full compaction pass.
	ErrResourceExhausted = errors.New("context window exhausted")

	// ErrFatalLoop marks an unrecoverable loop condition: turn cap
	// exceeded, protocol violation, or a persistence write failure.
	ErrFatalLoop = errors.New("fatal loop error")
)

// ValidationError reports a schema violation for one tool input field.
type ValidationError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tool %s: invalid input field %q: %s", e.Tool, e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// ToolFailure wraps a tool-level error with the tool and arguments that
// caused it, for user-visible reporting.
type ToolFailure struct {
	Tool string
	Err  error
}

func (e *ToolFailure) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolFailure) Unwrap() error { return e.Err }

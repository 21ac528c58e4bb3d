package tools

import (
	"errors"
	"fmt"
)

// ErrUnknownTool matches any [*UnknownToolError] via errors.Is.
var ErrUnknownTool = errors.New("unknown tool")

// UnknownToolError is returned when a requested tool is either absent
// from the registry or not in the enabled set. Both cases produce the
// same message so the model cannot tell a disabled tool from one that
// does not exist.
type UnknownToolError struct {
	Name string
}

// Error implements the error interface.
func (e *UnknownToolError) Error() string {
	return "Unknown tool: " + e.Name
}

// Is reports whether target is [ErrUnknownTool].
func (e *UnknownToolError) Is(target error) bool {
	return target == ErrUnknownTool
}

// ExecutionError wraps a failed call to the monitoring service.
type ExecutionError struct {
	Tool string
	Err  error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
}

// Unwrap returns the underlying transport or status error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

package tools

import (
	"fmt"
	"strings"
)

// DuplicateNameError means a tool name was registered twice.
type DuplicateNameError struct {
	Name string
}

func (e DuplicateNameError) Error() string {
	return fmt.Sprintf("tool %q already registered", e.Name)
}

// UnknownToolError means an invocation named a tool absent from the registry.
type UnknownToolError struct {
	Name string
}

func (e UnknownToolError) Error() string {
	return fmt.Sprintf("tool %q not registered", e.Name)
}

// ArgumentValidationError means the arguments did not satisfy the tool's
// declared parameter schema.
type ArgumentValidationError struct {
	Tool     string
	Problems []string
}

func (e ArgumentValidationError) Error() string {
	return fmt.Sprintf("tool %q arguments invalid: %s", e.Tool, strings.Join(e.Problems, "; "))
}

// ToolExecutionError means the tool's own logic failed or panicked.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q execution failed: %v", e.Tool, e.Err)
}

func (e ToolExecutionError) Unwrap() error { return e.Err }

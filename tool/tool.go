// Package tool implements the function calling subsystem that lets agents
// invoke structured capabilities with schema-validated arguments and
// consistent error handling. It also defines the delegation tool through
// which a supervisor hands work to a specialist, and the Sensitive marker
// that routes a call through human approval before it runs.
package tool

import (
	"fmt"
)

// Tool defines the interface for extending agent capabilities with external
// functions.
//
// Implementations should provide descriptive names (snake_case), a minimal
// JSON schema for parameters, and be safe for concurrent use.
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description provided to the model
	// so it understands when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with parsed, schema-validated arguments.
	Call(toolCtx *Context, args map[string]any) (any, error)
}

// Sensitive marks a tool whose invocation requires human approval before it
// may run. The execution graph suspends on such calls and registers a pending
// confirmation; see the confirm package.
type Sensitive interface {
	RequiresApproval() bool
}

// IsSensitive reports whether t requires approval, either by implementing
// Sensitive or by membership in the extra name set.
func IsSensitive(t Tool, extra map[string]bool) bool {
	if s, ok := t.(Sensitive); ok && s.RequiresApproval() {
		return true
	}
	return extra[t.Name()]
}

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}

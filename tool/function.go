package tool

import (
	"fmt"
	"time"

	"github.com/hupe1980/agentrelay/internal/util"
)

// FunctionTool is a generic adapter that exposes a plain Go function as a
// tool. Arguments are validated against the declared schema before the
// function runs; failures are wrapped as *ToolError with consistent codes
// (VALIDATION_ERROR for schema mismatches, EXECUTION_ERROR for everything
// else, custom codes preserved when the function returns *ToolError itself).
//
// A FunctionTool has no internal mutable state after construction and is safe
// for concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	sensitive   bool
	fn          func(toolCtx *Context, args map[string]any) (any, error)
}

// FunctionToolOptions configure optional FunctionTool behavior.
type FunctionToolOptions struct {
	// Sensitive routes every invocation through human approval.
	Sensitive bool
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
//
// Example:
//
//	sumTool := NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(tc *tool.Context, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(toolCtx *Context, args map[string]any) (any, error),
	optFns ...func(o *FunctionToolOptions),
) *FunctionTool {
	opts := FunctionToolOptions{}
	for _, f := range optFns {
		f(&opts)
	}
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		sensitive:   opts.Sensitive,
		fn:          fn,
	}
}

// Name returns the unique tool name used in function call declarations.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the short description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// RequiresApproval implements Sensitive.
func (t *FunctionTool) RequiresApproval() bool { return t.sensitive }

// Call validates args against the declared schema then invokes the wrapped
// function.
func (t *FunctionTool) Call(toolCtx *Context, args map[string]any) (any, error) {
	logger := toolCtx.Logger()
	start := time.Now()

	logger.Debug("tool.call.start", "tool", t.name, "call_id", toolCtx.CallID())

	if err := util.ValidateParameters(args, t.parameters); err != nil {
		logger.Warn("tool.call.validation_failed", "tool", t.name, "error", err.Error())

		return nil, &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    "VALIDATION_ERROR",
			Details: err,
		}
	}

	result, err := t.fn(toolCtx, args)
	if err != nil {
		if toolErr, ok := err.(*ToolError); ok {
			logger.Error("tool.call.error", "tool", t.name, "error", toolErr.Message)
			return nil, toolErr
		}

		logger.Error("tool.call.error", "tool", t.name, "error", err.Error())

		return nil, &ToolError{Tool: t.name, Message: err.Error(), Code: "EXECUTION_ERROR"}
	}

	logger.Info("tool.call.success", "tool", t.name, "duration_ms", time.Since(start).Milliseconds())

	return result, nil
}

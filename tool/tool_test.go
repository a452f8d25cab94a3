package tool

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

func newTestContext() *Context {
	return NewContext(
		context.Background(),
		core.RequestContext{UserID: "u1", ThreadID: "t1"},
		"exec-1", "root", "call-1",
		logging.NoOpLogger{},
	)
}

func sumTool() *FunctionTool {
	return NewFunctionTool(
		"calculate_sum",
		"Calculate the sum of two numbers",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []string{"a", "b"},
		},
		func(tc *Context, args map[string]any) (any, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		},
	)
}

func TestFunctionTool_Call(t *testing.T) {
	res, err := sumTool().Call(newTestContext(), map[string]any{"a": 1.0, "b": 2.0})
	require.NoError(t, err)
	assert.Equal(t, 3.0, res)
}

func TestFunctionTool_ValidationError(t *testing.T) {
	_, err := sumTool().Call(newTestContext(), map[string]any{"a": 1.0})
	require.Error(t, err)

	toolErr, ok := err.(*ToolError)
	require.True(t, ok)
	assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	failing := NewFunctionTool("boom", "always fails",
		map[string]any{"type": "object"},
		func(tc *Context, args map[string]any) (any, error) {
			return nil, fmt.Errorf("kaput")
		},
	)

	_, err := failing.Call(newTestContext(), map[string]any{})
	require.Error(t, err)

	toolErr, ok := err.(*ToolError)
	require.True(t, ok)
	assert.Equal(t, "EXECUTION_ERROR", toolErr.Code)
	assert.Contains(t, toolErr.Message, "kaput")
}

func TestIsSensitive(t *testing.T) {
	plain := NewFunctionTool("plain", "", map[string]any{"type": "object"},
		func(tc *Context, args map[string]any) (any, error) { return nil, nil })
	marked := NewFunctionTool("marked", "", map[string]any{"type": "object"},
		func(tc *Context, args map[string]any) (any, error) { return nil, nil },
		func(o *FunctionToolOptions) { o.Sensitive = true })

	assert.False(t, IsSensitive(plain, nil))
	assert.True(t, IsSensitive(marked, nil))
	assert.True(t, IsSensitive(plain, map[string]bool{"plain": true}))
}

func TestDelegateTool_SignalsTarget(t *testing.T) {
	tc := newTestContext()
	dt := NewDelegateToAgentTool()

	res, err := dt.Call(tc, map[string]any{"agent": "toby", "task": "check the weather"})
	require.NoError(t, err)
	assert.Equal(t, "toby", tc.DelegationTarget())
	assert.Equal(t, map[string]any{"delegated": true, "agent": "toby"}, res)
}

func TestDelegateTool_MissingAgent(t *testing.T) {
	tc := newTestContext()
	dt := NewDelegateToAgentTool()

	_, err := dt.Call(tc, map[string]any{})
	assert.Error(t, err)
	assert.Empty(t, tc.DelegationTarget())

	_, err = dt.Call(tc, map[string]any{"agent": 42})
	assert.Error(t, err)
}

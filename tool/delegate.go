package tool

import (
	"fmt"
)

// DelegateToolName is the well-known name of the delegation tool. The
// execution graph injects its definition for supervisor agents and treats a
// call as a hand-off rather than a regular tool execution.
const DelegateToolName = "delegate_to_agent"

// delegateToAgentTool requests a hand-off of the execution to a named
// specialist agent.
type delegateToAgentTool struct{}

// NewDelegateToAgentTool constructs the delegation tool instance.
func NewDelegateToAgentTool() Tool { return &delegateToAgentTool{} }

func (t *delegateToAgentTool) Name() string { return DelegateToolName }

func (t *delegateToAgentTool) Description() string {
	return "Hand the current task to another agent by name. Use when a specialist is better suited to answer."
}

func (t *delegateToAgentTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent": map[string]any{"type": "string", "description": "Target agent name"},
			"task":  map[string]any{"type": "string", "description": "What the target agent should do"},
		},
		"required": []string{"agent"},
	}
}

func (t *delegateToAgentTool) Call(tc *Context, args map[string]any) (any, error) {
	raw, ok := args["agent"]
	if !ok {
		return nil, fmt.Errorf("missing required field 'agent'")
	}
	agentID, ok := raw.(string)
	if !ok || agentID == "" {
		return nil, fmt.Errorf("field 'agent' must be non-empty string")
	}
	tc.DelegateToAgent(agentID)
	return map[string]any{"delegated": true, "agent": agentID}, nil
}

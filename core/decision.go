package core

// RoutingDecision is the immutable result of routing one TaskDescriptor. The
// execution layer retries against FallbackModel on primary failure without
// consulting the router again. Confidence is an observability-only heuristic
// score in [0,1]; control flow must never branch on it.
type RoutingDecision struct {
	SelectedModel string  `json:"selected_model"`
	FallbackModel string  `json:"fallback_model"`
	Reasoning     string  `json:"reasoning"`
	Confidence    float64 `json:"confidence"`
}

// DelegationIntent is a proposed hand-off target derived from free text. The
// analyzer only proposes; callers decide whether to act by applying their own
// confidence threshold. The value is not persisted beyond the decision that
// consumes it.
type DelegationIntent struct {
	TargetAgentID string  `json:"target_agent_id"`
	ToolName      string  `json:"tool_name"`
	Confidence    float64 `json:"confidence"`
}

// RequestContext carries the caller identity explicitly through every engine
// call instead of ambient request-scoped globals. ThreadID groups executions
// belonging to one conversation.
type RequestContext struct {
	UserID   string            `json:"user_id"`
	ThreadID string            `json:"thread_id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Package provider defines the model-invocation collaborator consumed by the
// execution graph: a streaming interface over chat-completion style APIs,
// normalized so downstream logic needs no per-vendor branching. Concrete
// adapters live in the openai and anthropic subpackages; MockModel serves
// tests and examples.
package provider

import (
	"context"

	"github.com/hupe1980/agentrelay/core"
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleSystem carries instructions for the model.
	RoleSystem Role = "system"
	// RoleUser carries end-user input.
	RoleUser Role = "user"
	// RoleAssistant carries model output, possibly including tool calls.
	RoleAssistant Role = "assistant"
	// RoleTool carries the result of a previously requested tool call.
	RoleTool Role = "tool"
)

// ToolCall is a function invocation request surfaced by a model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // serialized JSON argument payload
}

// ToolResponse carries the outcome of a tool call back to the model.
type ToolResponse struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// ToolDefinition declaratively exposes a callable function to the model.
// Parameters is a minimal JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Message is one entry of the normalized conversation transcript sent to a
// provider. Exactly one of Text/ToolCalls/ToolResponse is typically set,
// except assistant messages which may carry both text and tool calls.
type Message struct {
	Role         Role          `json:"role"`
	Text         string        `json:"text,omitempty"`
	ToolCalls    []ToolCall    `json:"tool_calls,omitempty"`
	ToolResponse *ToolResponse `json:"tool_response,omitempty"`
}

// Request captures the normalized model input produced by the execution graph.
// Model overrides the adapter's configured default when non-empty, which is
// how the router's decision reaches the provider.
type Request struct {
	Model        string           `json:"model,omitempty"`
	Instructions string           `json:"instructions,omitempty"`
	Messages     []Message        `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
}

// Chunk is one element of a model's streamed output. Deltas arrive
// incrementally; tool calls and usage arrive complete on the final chunk
// (Done=true). A stream always ends with exactly one Done chunk unless it
// errors.
type Chunk struct {
	Delta        string           `json:"delta,omitempty"`
	ToolCalls    []ToolCall       `json:"tool_calls,omitempty"`
	Done         bool             `json:"done"`
	FinishReason string           `json:"finish_reason,omitempty"`
	Usage        *core.TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", ...
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface the execution graph needs to drive
// generation. Stream returns a chunk channel and a terminal error channel
// (buffered size 1); both are closed when the call finishes. An error sent
// before any chunk means the call failed outright and may be retried against
// a fallback model.
type Model interface {
	Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// PromptChars sums the character length of a request's instructions and
// messages, used for estimated token accounting.
func PromptChars(req Request) int {
	n := len(req.Instructions)
	for _, m := range req.Messages {
		n += len(m.Text)
		for _, tc := range m.ToolCalls {
			n += len(tc.Name) + len(tc.Arguments)
		}
		if m.ToolResponse != nil {
			n += len(m.ToolResponse.Content)
		}
	}
	return n
}

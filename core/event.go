package core

// Event is one entry in the ordered output sequence of an execution. Concrete
// event types implement the unexported isEvent marker enabling a closed set,
// exhaustively matched at the stream encoder boundary.
//
// Ordering invariant: events for a given execution are strictly ordered as
// produced, and a ToolInvocationEvent with state "result" for a given
// ToolCallID follows exactly one prior "call" event for the same id.
type Event interface{ isEvent() }

// RouteEvent records the routing decision attached to an execution. Emitted
// at most once, before any model output.
type RouteEvent struct {
	SelectedModel string  `json:"selectedModel"`
	FallbackModel string  `json:"fallbackModel"`
	Reasoning     string  `json:"reasoning"`
	Confidence    float64 `json:"confidence"`
}

func (RouteEvent) isEvent() {}

// ModelSelectedEvent names the model actually serving the execution. Emitted
// exactly once per execution, after a provider stream has been established,
// so a fallback retry is reported truthfully.
type ModelSelectedEvent struct {
	ModelUsed  string `json:"modelUsed"`
	IsFallback bool   `json:"fallback"`
}

func (ModelSelectedEvent) isEvent() {}

// TextDeltaEvent carries one incremental chunk of assistant text.
type TextDeltaEvent struct {
	Delta string `json:"delta"`
}

func (TextDeltaEvent) isEvent() {}

// ToolState distinguishes the two phases of a tool invocation.
type ToolState string

const (
	// ToolStateCall announces a tool invocation before it runs.
	ToolStateCall ToolState = "call"
	// ToolStateResult carries the outcome of a previously announced call.
	ToolStateResult ToolState = "result"
)

// ToolInvocationEvent announces a tool call or delivers its result. Delegation
// hand-offs surface as a call/result pair naming the delegation tool, with the
// specialist's summarized output as the result payload.
type ToolInvocationEvent struct {
	ToolCallID string         `json:"toolCallId"`
	ToolName   string         `json:"toolName"`
	State      ToolState      `json:"state"`
	Args       map[string]any `json:"args,omitempty"`
	Result     any            `json:"result,omitempty"`
}

func (ToolInvocationEvent) isEvent() {}

// FinishEvent terminates the logical event sequence of an execution. It is
// emitted on every path, including failure and cancellation, so clients always
// observe a deterministic end-of-stream marker.
type FinishEvent struct {
	FullText string     `json:"text"`
	Usage    TokenUsage `json:"usage"`
}

func (FinishEvent) isEvent() {}

// ErrorEvent surfaces a terminal failure. A FinishEvent still follows it.
type ErrorEvent struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (ErrorEvent) isEvent() {}

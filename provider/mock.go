package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentrelay/core"
)

// MockTurn scripts one Stream call of a MockModel. When Err is set the stream
// fails before producing any output, which is how tests exercise the fallback
// retry path.
type MockTurn struct {
	Err       error
	Text      string
	ToolCalls []ToolCall
	Usage     *core.TokenUsage
}

// MockModel replays a scripted sequence of turns, one per Stream call. When
// the script is exhausted it echoes the last user message. Safe for
// concurrent use.
type MockModel struct {
	info   Info
	mu     sync.Mutex
	script []MockTurn
	calls  int
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(name string) *MockModel {
	return &MockModel{info: Info{Name: name, Provider: "mock", SupportsTools: true}}
}

// Enqueue appends turns to the script in replay order.
func (m *MockModel) Enqueue(turns ...MockTurn) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, turns...)
	return m
}

// Calls reports how many times Stream has been invoked.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }

// Stream implements Model; it emits the next scripted turn as word-sized text
// deltas followed by a final chunk carrying tool calls and usage.
func (m *MockModel) Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	out := make(chan Chunk, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	var turn MockTurn
	if m.calls < len(m.script) {
		turn = m.script[m.calls]
	} else {
		turn = MockTurn{Text: fmt.Sprintf("Mock response to: %s", lastUserText(req))}
	}
	m.calls++
	m.mu.Unlock()

	go func() {
		defer close(out)
		defer close(errCh)

		if turn.Err != nil {
			errCh <- turn.Err
			return
		}

		for _, delta := range splitDeltas(turn.Text) {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- Chunk{Delta: delta}:
			}
		}

		finish := "stop"
		if len(turn.ToolCalls) > 0 {
			finish = "tool_calls"
		}

		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case out <- Chunk{Done: true, ToolCalls: turn.ToolCalls, FinishReason: finish, Usage: turn.Usage}:
		}
	}()

	return out, errCh
}

func lastUserText(req Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			return req.Messages[i].Text
		}
	}
	return ""
}

// splitDeltas chunks text into small deltas so consumers see a realistic
// multi-chunk stream.
func splitDeltas(text string) []string {
	const size = 8
	var out []string
	runes := []rune(text)
	for len(runes) > 0 {
		n := size
		if n > len(runes) {
			n = len(runes)
		}
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}

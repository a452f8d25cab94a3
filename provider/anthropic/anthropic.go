// Package anthropic adapts the Anthropic Messages API to the generic
// provider.Model interface. The adapter drives a non-streaming completion and
// surfaces it as a short chunk sequence, which keeps the engine's consumption
// path identical across vendors.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/provider"
)

// Options configure the Anthropic adapter. DefaultModel applies when the
// request does not carry a routed model name.
type Options struct {
	DefaultModel anthropic.Model
	Temperature  float64
	MaxTokens    int64
	APIKey       string
}

// Model wraps the Anthropic Messages API behind provider.Model.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// New creates an adapter using the official client (API key from env unless
// overridden via Options.APIKey).
func New(optFns ...func(o *Options)) *Model {
	opts := Options{
		DefaultModel: anthropic.ModelClaude3_5Sonnet20241022,
		Temperature:  0.7,
		MaxTokens:    4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewFromClient creates an adapter from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		DefaultModel: anthropic.ModelClaude3_5Sonnet20241022,
		Temperature:  0.7,
		MaxTokens:    4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Info returns metadata describing this adapter.
func (m *Model) Info() provider.Info {
	return provider.Info{Name: string(m.opts.DefaultModel), Provider: "anthropic", SupportsTools: true}
}

// Stream implements provider.Model. The Messages API call is non-streaming;
// the response is emitted as one text chunk followed by the final chunk
// carrying tool calls and usage.
func (m *Model) Stream(ctx context.Context, req provider.Request) (<-chan provider.Chunk, <-chan error) {
	out := make(chan provider.Chunk, 4)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		model := m.opts.DefaultModel
		if req.Model != "" {
			model = anthropic.Model(req.Model)
		}

		params := anthropic.MessageNewParams{
			Model:       model,
			Messages:    buildMessages(req.Messages),
			MaxTokens:   m.opts.MaxTokens,
			Temperature: anthropic.Float(m.opts.Temperature),
		}

		if req.Instructions != "" {
			params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
		}

		if len(req.Tools) > 0 {
			params.Tools = buildTools(req.Tools)
		}

		resp, err := m.client.Messages.New(ctx, params)
		if err != nil {
			errCh <- fmt.Errorf("anthropic api error: %w", err)
			return
		}

		var text string
		var toolCalls []provider.ToolCall
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				text += block.AsText().Text
			case "tool_use":
				tu := block.AsToolUse()
				args := ""
				if tu.Input != nil {
					if b, err := json.Marshal(tu.Input); err == nil {
						args = string(b)
					}
				}
				toolCalls = append(toolCalls, provider.ToolCall{ID: tu.ID, Name: tu.Name, Arguments: args})
			}
		}

		if text != "" {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- provider.Chunk{Delta: text}:
			}
		}

		finish := "stop"
		if resp.StopReason != "" {
			finish = string(resp.StopReason)
		}

		usage := &core.TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		}

		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case out <- provider.Chunk{Done: true, ToolCalls: toolCalls, FinishReason: finish, Usage: usage}:
		}
	}()

	return out, errCh
}

// buildMessages converts the normalized transcript into Anthropic messages.
// Tool responses are indexed first so they can be embedded as tool_result
// blocks directly after the assistant turn that requested them.
func buildMessages(msgs []provider.Message) []anthropic.MessageParam {
	toolResponses := map[string]string{}
	for _, m := range msgs {
		if m.Role == provider.RoleTool && m.ToolResponse != nil {
			toolResponses[m.ToolResponse.CallID] = m.ToolResponse.Content
		}
	}

	var messages []anthropic.MessageParam
	for _, m := range msgs {
		switch m.Role {
		case provider.RoleSystem, provider.RoleTool:
			// System handled via params.System, tool responses embedded below.
			continue
		case provider.RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			if m.Text != "" {
				content = append(content, anthropic.NewTextBlock(m.Text))
			}
			var callIDs []string
			for _, tc := range m.ToolCalls {
				var input any
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
						input = tc.Arguments
					}
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
				callIDs = append(callIDs, tc.ID)
			}
			if len(content) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(content...))
			}
			var results []anthropic.ContentBlockParamUnion
			for _, id := range callIDs {
				if resp, ok := toolResponses[id]; ok {
					results = append(results, anthropic.NewToolResultBlock(id, resp, false))
					delete(toolResponses, id)
				}
			}
			if len(results) > 0 {
				messages = append(messages, anthropic.NewUserMessage(results...))
			}
		default:
			if m.Text != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
			}
		}
	}

	return messages
}

// buildTools converts normalized tool definitions to the Anthropic format.
func buildTools(tools []provider.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, td := range tools {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if td.Parameters != nil {
			if props, ok := td.Parameters["properties"]; ok {
				schema.Properties = props
			}
			switch req := td.Parameters["required"].(type) {
			case []string:
				schema.Required = req
			case []any:
				for _, r := range req {
					if s, ok := r.(string); ok {
						schema.Required = append(schema.Required, s)
					}
				}
			}
		}
		out[i] = anthropic.ToolUnionParamOfTool(schema, td.Name)
	}
	return out
}

var _ provider.Model = (*Model)(nil)

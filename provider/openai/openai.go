// Package openai adapts the OpenAI Chat Completions API (streaming plus
// function/tool calling) to the generic provider.Model interface. It converts
// the engine's normalized Request/Chunk structures into the SDK's message
// format and back.
package openai

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentrelay/provider"
	"github.com/openai/openai-go"
)

// aggCall aggregates partial tool call streaming deltas (id, name, arguments)
// so complete calls can be reconstructed when the finish reason arrives.
type aggCall struct{ id, name, args string }

// Options configure the OpenAI adapter. DefaultModel applies when the request
// does not carry a routed model name.
type Options struct {
	DefaultModel        string
	Temperature         float64
	MaxCompletionTokens int64
}

// Model wraps the OpenAI Chat Completions API behind provider.Model.
type Model struct {
	client *openai.Client
	opts   Options
}

// New creates an adapter using the default SDK client (API key from env).
func New(optFns ...func(o *Options)) *Model {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates an adapter from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		DefaultModel:        openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Info returns metadata describing this adapter.
func (m *Model) Info() provider.Info {
	return provider.Info{Name: m.opts.DefaultModel, Provider: "openai", SupportsTools: true}
}

// Stream implements provider.Model using the SDK's streaming API.
func (m *Model) Stream(ctx context.Context, req provider.Request) (<-chan provider.Chunk, <-chan error) {
	out := make(chan provider.Chunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := m.buildParams(req)
		stream := m.client.Chat.Completions.NewStreaming(ctx, params)

		toolAgg := map[int64]*aggCall{}
		var finish string
		for stream.Next() {
			ck := stream.Current()
			for _, ch := range ck.Choices {
				if ch.Delta.Content != "" {
					select {
					case <-ctx.Done():
						errCh <- ctx.Err()
						return
					case out <- provider.Chunk{Delta: ch.Delta.Content}:
					}
				}
				for _, tc := range ch.Delta.ToolCalls {
					ac, ok := toolAgg[tc.Index]
					if !ok {
						ac = &aggCall{}
						toolAgg[tc.Index] = ac
					}
					if tc.ID != "" {
						ac.id = tc.ID
					}
					if tc.Function.Name != "" {
						ac.name = tc.Function.Name
					}
					if tc.Function.Arguments != "" {
						ac.args += tc.Function.Arguments
					}
				}
				if ch.FinishReason != "" {
					finish = ch.FinishReason
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("openai streaming error: %w", err)
			return
		}

		final := provider.Chunk{Done: true, FinishReason: finish}
		for i := int64(0); i < int64(len(toolAgg)); i++ {
			if ac, ok := toolAgg[i]; ok {
				final.ToolCalls = append(final.ToolCalls, provider.ToolCall{ID: ac.id, Name: ac.name, Arguments: ac.args})
			}
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case out <- final:
		}
	}()

	return out, errCh
}

// buildParams assembles the SDK request including tool definitions.
func (m *Model) buildParams(req provider.Request) openai.ChatCompletionNewParams {
	model := m.opts.DefaultModel
	if req.Model != "" {
		model = req.Model
	}

	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req),
		Model:               model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}

	if len(req.Tools) == 0 {
		return params
	}

	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, td := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        td.Name,
				Description: openai.String(td.Description),
				Parameters:  td.Parameters,
			},
		}
	}
	params.Tools = tools

	return params
}

// buildMessages converts the normalized transcript into SDK chat messages.
func buildMessages(req provider.Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.Instructions != "" {
		messages = append(messages, openai.SystemMessage(req.Instructions))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case provider.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Text))
		case provider.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Text))
		case provider.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Text))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Role:      "assistant",
					ToolCalls: toolCalls,
				},
			})
		case provider.RoleTool:
			if msg.ToolResponse != nil {
				messages = append(messages, openai.ToolMessage(msg.ToolResponse.Content, msg.ToolResponse.CallID))
			}
		default:
			if msg.Text != "" {
				messages = append(messages, openai.UserMessage(msg.Text))
			}
		}
	}

	return messages
}

var _ provider.Model = (*Model)(nil)

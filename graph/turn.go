package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/confirm"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/provider"
	"github.com/hupe1980/agentrelay/tool"
)

// runState carries the mutable per-execution data shared by the supervisor
// run and any delegation sub-run. It lives on the run goroutine only.
type runState struct {
	rc       core.RequestContext
	exec     *core.Execution
	sink     *core.EventSink
	decision core.RoutingDecision
	limiter  *core.CallLimiter
	allowed  map[string]bool // nil means all tools allowed

	modelInUse    string
	modelEmitted  bool
	usingFallback bool
	retried       bool

	// pending holds events produced before any provider stream exists (the
	// implicit delegation call frame); they are flushed right after the model
	// frame so the wire keeps its route, model, then tool/text ordering.
	pending []core.Event

	usage core.TokenUsage
}

// turnResult is the assembled output of one model turn.
type turnResult struct {
	text      string
	toolCalls []provider.ToolCall
	finish    string
}

// runAgent drives one agent until it produces a text-only answer: model turn,
// tool execution, repeat. For a supervisor a delegation tool call ends the
// loop with the specialist's answer; specialists are terminal and never see
// the delegation tool.
func (g *Graph) runAgent(
	ctx context.Context,
	st *runState,
	a *agent.Agent,
	msgs []provider.Message,
	isSpecialist bool,
) (string, error) {
	var text strings.Builder

	for {
		req := provider.Request{
			Instructions: g.instructionsFor(a, isSpecialist),
			Messages:     msgs,
			Tools:        g.toolDefs(a, isSpecialist, st.allowed),
		}

		res, err := g.streamTurn(ctx, st, req)
		if err != nil {
			return text.String(), err
		}
		text.WriteString(res.text)

		msgs = append(msgs, provider.Message{
			Role:      provider.RoleAssistant,
			Text:      res.text,
			ToolCalls: res.toolCalls,
		})

		if len(res.toolCalls) == 0 {
			return text.String(), nil
		}

		responses, handedOff, spText, err := g.handleToolCalls(ctx, st, a, isSpecialist, res.toolCalls, msgs)
		if err != nil {
			return text.String(), err
		}
		if handedOff {
			if text.Len() > 0 {
				text.WriteString("\n\n")
			}
			text.WriteString(spText)
			return text.String(), nil
		}

		msgs = append(msgs, responses...)
	}
}

// streamTurn performs one provider call, emitting text deltas as they arrive.
// When the call fails before producing any output and the execution has not
// retried yet, it switches to the routing fallback model once and tries again;
// the switch is sticky for the rest of the execution. The model frame is
// emitted exactly once per execution, on the first chunk of the first
// established stream, so it always names the model actually serving output.
func (g *Graph) streamTurn(ctx context.Context, st *runState, req provider.Request) (turnResult, error) {
	for {
		if err := st.limiter.Acquire(ctx); err != nil {
			return turnResult{}, err
		}

		req.Model = st.modelInUse
		model := g.providerFor(st.modelInUse)
		promptChars := provider.PromptChars(req)

		g.logger.Debug("graph.turn",
			"execution_id", st.exec.ID(), "model", st.modelInUse,
			"call", st.limiter.Count(), "fallback", st.usingFallback)

		chunkCh, errCh := model.Stream(ctx, req)

		var res turnResult
		var turnUsage *core.TokenUsage
		gotOutput := false

		for chunk := range chunkCh {
			if !gotOutput {
				gotOutput = true
				if !st.modelEmitted {
					st.modelEmitted = true
					if err := st.sink.Emit(ctx, core.ModelSelectedEvent{
						ModelUsed:  st.modelInUse,
						IsFallback: st.usingFallback,
					}); err != nil {
						return res, err
					}
					for _, pev := range st.pending {
						if err := st.sink.Emit(ctx, pev); err != nil {
							return res, err
						}
					}
					st.pending = nil
				}
			}

			if chunk.Delta != "" {
				if err := st.sink.Emit(ctx, core.TextDeltaEvent{Delta: chunk.Delta}); err != nil {
					return res, err
				}
				res.text += chunk.Delta
			}

			if chunk.Done {
				res.toolCalls = chunk.ToolCalls
				res.finish = chunk.FinishReason
				turnUsage = chunk.Usage
			}
		}

		if streamErr, ok := <-errCh; ok && streamErr != nil {
			if !gotOutput && !st.retried && st.decision.FallbackModel != "" &&
				st.decision.FallbackModel != st.modelInUse {
				st.retried = true
				st.usingFallback = true
				g.logger.Warn("graph.provider.retry",
					"execution_id", st.exec.ID(), "failed_model", st.modelInUse,
					"fallback_model", st.decision.FallbackModel, "error", streamErr.Error())
				st.modelInUse = st.decision.FallbackModel
				continue
			}
			return res, core.NewProviderError(st.modelInUse, streamErr)
		}

		if turnUsage != nil {
			st.usage.Add(*turnUsage)
		} else {
			st.usage.Add(core.EstimateUsage(promptChars, completionChars(res)))
		}

		return res, nil
	}
}

// handleToolCalls executes the tool calls of one turn in order. A delegation
// call hands off to the specialist and ends the owning agent's loop; every
// other call (including denied and failing ones) yields a tool response
// message so the model turn can continue.
func (g *Graph) handleToolCalls(
	ctx context.Context,
	st *runState,
	a *agent.Agent,
	isSpecialist bool,
	calls []provider.ToolCall,
	msgs []provider.Message,
) (responses []provider.Message, handedOff bool, spText string, err error) {
	for _, call := range calls {
		if call.Name == tool.DelegateToolName && !isSpecialist {
			text, delegated, errPayload, dErr := g.handleDelegation(ctx, st, call, msgs)
			if dErr != nil {
				return nil, false, "", dErr
			}
			if delegated {
				return nil, true, text, nil
			}
			// Hand-off failed (unknown target, bad arguments); the error
			// result was already framed, answer the model and continue.
			responses = append(responses, toolResponseMessage(call, errPayload))
			continue
		}

		payload, execErr := g.executeTool(ctx, st, a, call)
		if execErr != nil {
			return nil, false, "", execErr
		}
		responses = append(responses, toolResponseMessage(call, payload))
	}
	return responses, false, "", nil
}

// handleDelegation processes one delegate_to_agent call: call framing,
// ownership transfer, specialist sub-run on the shared sink, result framing
// with a bounded summary. An unknown target or invalid arguments resolve as a
// framed error result and leave ownership untouched; delegated is false and
// errPayload carries the serialized error for the tool response in that case.
func (g *Graph) handleDelegation(
	ctx context.Context,
	st *runState,
	call provider.ToolCall,
	msgs []provider.Message,
) (text string, delegated bool, errPayload string, err error) {
	args, parseErr := parseArgs(call.Arguments)

	if err := st.sink.Emit(ctx, core.ToolInvocationEvent{
		ToolCallID: call.ID,
		ToolName:   tool.DelegateToolName,
		State:      core.ToolStateCall,
		Args:       args,
	}); err != nil {
		return "", false, "", err
	}

	reject := func(msg string) (string, bool, string, error) {
		payload := map[string]any{"error": msg}
		if err := g.emitToolResult(ctx, st, call, payload); err != nil {
			return "", false, "", err
		}
		return "", false, marshalPayload(payload), nil
	}

	if parseErr != nil {
		return reject(parseErr.Error())
	}

	toolCtx := tool.NewContext(ctx, st.rc, st.exec.ID(), g.supervisor.ID(), call.ID, g.logger)
	if _, callErr := tool.NewDelegateToAgentTool().Call(toolCtx, args); callErr != nil {
		return reject(callErr.Error())
	}

	target := toolCtx.DelegationTarget()
	sp, ok := g.supervisor.FindSpecialist(target)
	if !ok {
		g.logger.Warn("graph.delegate.unknown_target",
			"execution_id", st.exec.ID(), "target", target)
		return reject(fmt.Sprintf("%v: %s", core.ErrDelegateUnavailable, target))
	}

	st.exec.TransferOwner(sp.ID())
	g.logger.Info("graph.delegated",
		"execution_id", st.exec.ID(), "from", g.supervisor.ID(), "to", sp.ID())

	text, err = g.runAgent(ctx, st, sp, msgs, true)
	if err != nil {
		return text, true, "", err
	}

	if err := g.emitToolResult(ctx, st, call, map[string]any{
		"agent":   sp.ID(),
		"summary": truncateRunes(text, g.summaryMaxRunes),
	}); err != nil {
		return text, true, "", err
	}
	return text, true, "", nil
}

// executeTool runs one regular tool call with call/result framing. Sensitive
// tools suspend on the confirmation registry first; a denial produces a
// denied-result payload and the execution continues. The returned payload is
// the serialized tool response content for the transcript.
func (g *Graph) executeTool(
	ctx context.Context,
	st *runState,
	a *agent.Agent,
	call provider.ToolCall,
) (string, error) {
	args, parseErr := parseArgs(call.Arguments)

	if err := st.sink.Emit(ctx, core.ToolInvocationEvent{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		State:      core.ToolStateCall,
		Args:       args,
	}); err != nil {
		return "", err
	}

	fail := func(msg string) (string, error) {
		payload := map[string]any{"error": msg}
		if err := g.emitToolResult(ctx, st, call, payload); err != nil {
			return "", err
		}
		return marshalPayload(payload), nil
	}

	if parseErr != nil {
		return fail(parseErr.Error())
	}

	t, ok := a.Tool(call.Name)
	if !ok {
		g.logger.Warn("graph.tool.unknown",
			"execution_id", st.exec.ID(), "agent", a.ID(), "tool", call.Name)
		return fail(fmt.Sprintf("unknown tool: %s", call.Name))
	}
	if st.allowed != nil && !st.allowed[call.Name] {
		return fail(fmt.Sprintf("tool not allowed for this task: %s", call.Name))
	}

	if tool.IsSensitive(t, g.sensitive) && g.confirmations != nil {
		res, err := g.awaitApproval(ctx, st, call, args)
		if err != nil {
			return "", err
		}
		if !res.Approved {
			payload := map[string]any{"denied": true, "reason": res.Reason}
			if err := g.emitToolResult(ctx, st, call, payload); err != nil {
				return "", err
			}
			return marshalPayload(payload), nil
		}
		if res.EditedArgs != nil {
			args = res.EditedArgs
		}
	}

	toolCtx := tool.NewContext(ctx, st.rc, st.exec.ID(), a.ID(), call.ID, g.logger)
	result, callErr := t.Call(toolCtx, args)
	if callErr != nil {
		g.logger.Warn("graph.tool.failed",
			"execution_id", st.exec.ID(), "tool", call.Name, "error", callErr.Error())
		return fail(callErr.Error())
	}

	if err := g.emitToolResult(ctx, st, call, result); err != nil {
		return "", err
	}
	return marshalPayload(result), nil
}

// awaitApproval suspends the execution on a pending confirmation until a
// human resolves it, the registry times it out, or the run context ends. The
// timeout resolution is a rejection, not a failure.
func (g *Graph) awaitApproval(
	ctx context.Context,
	st *runState,
	call provider.ToolCall,
	args map[string]any,
) (confirm.Resolution, error) {
	st.exec.SetStatus(core.StatusAwaitingApproval)
	defer st.exec.SetStatus(core.StatusRunning)

	g.logger.Info("graph.approval.pending",
		"execution_id", st.exec.ID(), "tool", call.Name, "call_id", call.ID)

	res, err := g.confirmations.Await(ctx, st.rc, st.exec.ID(), call.Name, args)
	if err != nil {
		if errors.Is(err, core.ErrConfirmationTimeout) {
			return res, nil
		}
		return confirm.Resolution{}, err
	}
	return res, nil
}

func (g *Graph) emitToolResult(ctx context.Context, st *runState, call provider.ToolCall, result any) error {
	return st.sink.Emit(ctx, core.ToolInvocationEvent{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		State:      core.ToolStateResult,
		Result:     result,
	})
}

// providerFor resolves the adapter serving a model name.
func (g *Graph) providerFor(model string) provider.Model {
	if m, ok := g.providers[model]; ok {
		return m
	}
	return g.defaultProvider
}

// instructionsFor builds the system prompt for one agent turn. Supervisors
// additionally see their specialist roster so the model can pick a delegation
// target by name.
func (g *Graph) instructionsFor(a *agent.Agent, isSpecialist bool) string {
	instr := a.Instructions()
	if isSpecialist || !a.IsSupervisor() {
		return instr
	}

	var sb strings.Builder
	sb.WriteString(instr)
	sb.WriteString("\n\nYou can hand tasks to these agents using the ")
	sb.WriteString(tool.DelegateToolName)
	sb.WriteString(" tool:\n")
	for _, sp := range a.Specialists() {
		sb.WriteString("- ")
		sb.WriteString(sp.ID())
		if d := sp.Description(); d != "" {
			sb.WriteString(": ")
			sb.WriteString(d)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// toolDefs assembles the tool definitions exposed to the model for one agent
// turn, applying the task's allowed-tools restriction. Supervisors with
// specialists additionally get the delegation tool; specialists never do.
func (g *Graph) toolDefs(a *agent.Agent, isSpecialist bool, allowed map[string]bool) []provider.ToolDefinition {
	var defs []provider.ToolDefinition
	for _, t := range a.Tools() {
		if allowed != nil && !allowed[t.Name()] {
			continue
		}
		defs = append(defs, provider.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	if !isSpecialist && a.IsSupervisor() {
		dt := tool.NewDelegateToAgentTool()
		defs = append(defs, provider.ToolDefinition{
			Name:        dt.Name(),
			Description: dt.Description(),
			Parameters:  dt.Parameters(),
		})
	}
	return defs
}

func completionChars(res turnResult) int {
	n := len(res.text)
	for _, tc := range res.toolCalls {
		n += len(tc.Name) + len(tc.Arguments)
	}
	return n
}

func toolResponseMessage(call provider.ToolCall, content string) provider.Message {
	return provider.Message{
		Role: provider.RoleTool,
		ToolResponse: &provider.ToolResponse{
			CallID:  call.ID,
			Name:    call.Name,
			Content: content,
		},
	}
}

func marshalPayload(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error":"unserializable tool result: %v"}`, err)
	}
	return string(b)
}

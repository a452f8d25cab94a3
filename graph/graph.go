// Package graph implements the execution state machine that runs one task to
// completion: route, select an owner agent, stream model output, execute tool
// calls, hand off to a specialist on delegation, suspend on sensitive tool
// calls until a human resolves the pending confirmation, and finalize with
// usage accounting.
//
// One Graph instance serves many concurrent executions; each Run spawns its
// own goroutine and owns its Execution and EventSink exclusively. At most one
// agent owns an execution at a time, and delegation is limited to one hop:
// specialists cannot delegate further, so termination is structural.
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
	"github.com/hupe1980/agentrelay/delegate"
	"github.com/hupe1980/agentrelay/internal/util"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/provider"
	"github.com/hupe1980/agentrelay/router"
	"github.com/hupe1980/agentrelay/tool"
)

// Options configure a Graph.
type Options struct {
	// Providers maps model names to their provider adapters. Names missing
	// from the map fall back to DefaultProvider.
	Providers map[string]provider.Model
	// DefaultProvider serves models without a dedicated adapter entry.
	DefaultProvider provider.Model
	// Analyzer proposes implicit pre-execution delegation. Nil disables it.
	Analyzer delegate.Analyzer
	// AutoDelegateThreshold is the minimum analyzer confidence that forces a
	// pre-execution hand-off. The analyzer itself never decides; the
	// threshold lives here.
	AutoDelegateThreshold float64
	// Confirmations is the registry sensitive tool calls suspend on.
	Confirmations *confirm.Registry
	// SensitiveTools names tools requiring approval in addition to any tool
	// implementing tool.Sensitive.
	SensitiveTools []string
	// MaxModelCalls caps provider calls per execution (0 = unlimited).
	MaxModelCalls int
	// ModelCallsPerSecond rate-limits provider calls per execution
	// (0 = unlimited).
	ModelCallsPerSecond float64
	// EventBufferSize sets the outbound event channel buffer.
	EventBufferSize int
	// SummaryMaxRunes bounds the delegation result summary payload.
	SummaryMaxRunes int
	Logger          logging.Logger
}

// Graph coordinates executions for one supervisor agent and its specialists.
// Safe for concurrent use; all per-run state lives on the run goroutine.
type Graph struct {
	supervisor *agent.Agent
	rtr        *router.Router

	providers       map[string]provider.Model
	defaultProvider provider.Model
	analyzer        delegate.Analyzer
	autoThreshold   float64
	confirmations   *confirm.Registry
	sensitive       map[string]bool
	maxModelCalls   int
	callsPerSecond  float64
	eventBufferSize int
	summaryMaxRunes int
	logger          logging.Logger
}

// New constructs a Graph for the given supervisor and router.
func New(supervisor *agent.Agent, rtr *router.Router, optFns ...func(o *Options)) *Graph {
	opts := Options{
		AutoDelegateThreshold: 0.8,
		MaxModelCalls:         25,
		EventBufferSize:       100,
		SummaryMaxRunes:       500,
		Logger:                logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	sensitive := map[string]bool{}
	for _, name := range opts.SensitiveTools {
		sensitive[name] = true
	}

	return &Graph{
		supervisor:      supervisor,
		rtr:             rtr,
		providers:       opts.Providers,
		defaultProvider: opts.DefaultProvider,
		analyzer:        opts.Analyzer,
		autoThreshold:   opts.AutoDelegateThreshold,
		confirmations:   opts.Confirmations,
		sensitive:       sensitive,
		maxModelCalls:   opts.MaxModelCalls,
		callsPerSecond:  opts.ModelCallsPerSecond,
		eventBufferSize: opts.EventBufferSize,
		summaryMaxRunes: opts.SummaryMaxRunes,
		logger:          opts.Logger,
	}
}

// RunOptions configure a single execution.
type RunOptions struct {
	// History carries the prior conversation turns supplied by the
	// persistence collaborator.
	History []provider.Message
}

// Run starts an asynchronous execution of task. It returns the execution
// record, the ordered event channel (closed on completion) and a terminal
// error channel (buffered size 1). The final FinishEvent is emitted on every
// path, including failure and cancellation, so consumers always observe a
// deterministic end-of-stream.
func (g *Graph) Run(
	ctx context.Context,
	rc core.RequestContext,
	task core.TaskDescriptor,
	optFns ...func(o *RunOptions),
) (*core.Execution, <-chan core.Event, <-chan error, error) {
	if g.defaultProvider == nil && len(g.providers) == 0 {
		return nil, nil, nil, fmt.Errorf("no model providers configured")
	}

	runOpts := RunOptions{}
	for _, fn := range optFns {
		fn(&runOpts)
	}

	exec := core.NewExecution(util.NewID(), rc.ThreadID, g.supervisor.ID())
	eventsCh := make(chan core.Event, g.eventBufferSize)
	errorsCh := make(chan error, 1)
	sink := core.NewEventSink(exec, eventsCh)

	go func() {
		defer close(errorsCh)
		defer sink.Close()

		if err := g.run(ctx, rc, task, runOpts, exec, sink); err != nil {
			select {
			case errorsCh <- err:
			default:
			}
		}
	}()

	return exec, eventsCh, errorsCh, nil
}

// run drives one execution from routing to finalization.
func (g *Graph) run(
	ctx context.Context,
	rc core.RequestContext,
	task core.TaskDescriptor,
	runOpts RunOptions,
	exec *core.Execution,
	sink *core.EventSink,
) error {
	st := &runState{
		rc:      rc,
		exec:    exec,
		sink:    sink,
		limiter: core.NewCallLimiter(g.maxModelCalls, g.callsPerSecond),
		allowed: allowedToolSet(task),
	}

	decision := g.rtr.Route(rc, task)
	st.decision = decision
	st.modelInUse = decision.SelectedModel

	if err := sink.Emit(ctx, core.RouteEvent{
		SelectedModel: decision.SelectedModel,
		FallbackModel: decision.FallbackModel,
		Reasoning:     decision.Reasoning,
		Confidence:    decision.Confidence,
	}); err != nil {
		return g.finalize(ctx, st, "", err)
	}

	msgs := append([]provider.Message{}, runOpts.History...)
	msgs = append(msgs, provider.Message{Role: provider.RoleUser, Text: task.Content})

	owner := g.supervisor
	ownerIsSpecialist := false
	if pre := task.MetaString(core.MetaAgent); pre != "" && pre != g.supervisor.ID() {
		sp, ok := g.supervisor.FindSpecialist(pre)
		if !ok {
			g.logger.Warn("graph.preselect.unknown_agent", "agent", pre, "execution_id", exec.ID())
		} else {
			owner = sp
			ownerIsSpecialist = true
			exec.TransferOwner(sp.ID())
		}
	}

	// Implicit delegation is decided before the first token is produced,
	// never mid-stream.
	if !ownerIsSpecialist && g.analyzer != nil {
		if intent := g.analyzer.Analyze(task.Content); intent != nil && intent.Confidence >= g.autoThreshold {
			if sp, ok := g.supervisor.FindSpecialist(intent.TargetAgentID); ok {
				text, err := g.handoff(ctx, st, sp, task.Content, msgs)
				return g.finalize(ctx, st, text, err)
			}
			g.logger.Debug("graph.intent.unknown_target",
				"target", intent.TargetAgentID, "confidence", intent.Confidence)
		}
	}

	text, err := g.runAgent(ctx, st, owner, msgs, ownerIsSpecialist)
	return g.finalize(ctx, st, text, err)
}

// handoff performs one delegation hand-off: call framing, ownership transfer,
// the specialist sub-run on the shared sink, then result framing carrying a
// summary of the specialist's output.
func (g *Graph) handoff(
	ctx context.Context,
	st *runState,
	sp *agent.Agent,
	taskText string,
	msgs []provider.Message,
) (string, error) {
	callID := util.NewID()

	// No provider stream exists yet, so the call frame waits behind the model
	// frame to keep the wire ordering intact.
	st.pending = append(st.pending, core.ToolInvocationEvent{
		ToolCallID: callID,
		ToolName:   tool.DelegateToolName,
		State:      core.ToolStateCall,
		Args:       map[string]any{"agent": sp.ID(), "task": taskText},
	})

	st.exec.TransferOwner(sp.ID())
	g.logger.Info("graph.delegated",
		"execution_id", st.exec.ID(), "from", g.supervisor.ID(), "to", sp.ID())

	text, err := g.runAgent(ctx, st, sp, msgs, true)
	if err != nil {
		return text, err
	}

	if err := st.sink.Emit(ctx, core.ToolInvocationEvent{
		ToolCallID: callID,
		ToolName:   tool.DelegateToolName,
		State:      core.ToolStateResult,
		Result:     map[string]any{"agent": sp.ID(), "summary": truncateRunes(text, g.summaryMaxRunes)},
	}); err != nil {
		return text, err
	}

	return text, nil
}

// finalize emits the terminal framing and sets the terminal status. Failure
// and cancellation still produce an ErrorEvent followed by a FinishEvent so
// the wire contract holds on every path.
func (g *Graph) finalize(ctx context.Context, st *runState, text string, err error) error {
	if g.confirmations != nil {
		// A run never leaves a confirmation behind, whatever path ended it.
		g.confirmations.CancelExecution(st.exec.ID(), "rejected: execution finished")
	}

	if err == nil {
		st.exec.SetStatus(core.StatusCompleted)
		g.emitTerminal(ctx, st, core.FinishEvent{FullText: text, Usage: st.usage})
		g.logger.Info("graph.completed",
			"execution_id", st.exec.ID(), "agent", st.exec.CurrentAgentID(),
			"model_calls", st.limiter.Count(), "total_tokens", st.usage.TotalTokens)
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		st.exec.SetStatus(core.StatusCancelled)
		g.emitTerminal(ctx, st, core.ErrorEvent{Kind: "cancelled", Message: err.Error()})
		g.emitTerminal(ctx, st, core.FinishEvent{FullText: text, Usage: st.usage})
		g.logger.Info("graph.cancelled", "execution_id", st.exec.ID())
		return err
	}

	st.exec.SetStatus(core.StatusFailed)
	g.emitTerminal(ctx, st, core.ErrorEvent{Kind: errorKind(err), Message: err.Error()})
	g.emitTerminal(ctx, st, core.FinishEvent{FullText: text, Usage: st.usage})
	g.logger.Error("graph.failed", "execution_id", st.exec.ID(), "error", err.Error())
	return err
}

// emitTerminal delivers terminal framing, degrading to a non-blocking send
// when the run context is already cancelled.
func (g *Graph) emitTerminal(ctx context.Context, st *runState, ev core.Event) {
	if err := st.sink.Emit(ctx, ev); err != nil {
		st.sink.TryEmit(ev)
	}
}

func errorKind(err error) string {
	var pe *core.ProviderError
	switch {
	case errors.As(err, &pe):
		return "provider_failure"
	case errors.Is(err, core.ErrStreamClosed):
		return "stream_write_failure"
	default:
		return "internal"
	}
}

func allowedToolSet(task core.TaskDescriptor) map[string]bool {
	names := task.MetaStrings(core.MetaAllowedTools)
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

func parseArgs(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	return args, nil
}

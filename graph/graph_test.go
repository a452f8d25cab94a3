package graph

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/confirm"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/delegate"
	"github.com/hupe1980/agentrelay/provider"
	"github.com/hupe1980/agentrelay/router"
	"github.com/hupe1980/agentrelay/tool"
)

func testRouter(models ...string) *router.Router {
	var catalog []router.ModelProfile
	for _, m := range models {
		catalog = append(catalog, router.ModelProfile{Name: m, Tier: router.TierBalanced, SupportsTools: true})
	}
	return router.New(catalog)
}

func testRC() core.RequestContext {
	return core.RequestContext{UserID: "u1", ThreadID: "thread-1"}
}

// collect drains the run channels and returns the full event sequence plus
// the terminal error.
func collect(t *testing.T, events <-chan core.Event, errs <-chan error) ([]core.Event, error) {
	t.Helper()
	var out []core.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out, <-errs
}

// assertGrammar checks the ordering contract: route first, at most one model
// frame before any delta, finish last, and every tool result paired with a
// preceding call of the same id.
func assertGrammar(t *testing.T, events []core.Event) {
	t.Helper()
	require.NotEmpty(t, events)

	_, ok := events[0].(core.RouteEvent)
	assert.True(t, ok, "first event must be the routing decision")

	var (
		modelCount int
		sawDelta   bool
		calls      = map[string]bool{}
	)
	for i, ev := range events {
		switch v := ev.(type) {
		case core.ModelSelectedEvent:
			modelCount++
			assert.False(t, sawDelta, "model frame after text deltas")
		case core.TextDeltaEvent:
			sawDelta = true
		case core.ToolInvocationEvent:
			switch v.State {
			case core.ToolStateCall:
				calls[v.ToolCallID] = true
			case core.ToolStateResult:
				assert.True(t, calls[v.ToolCallID], "result without preceding call for %s", v.ToolCallID)
			}
		case core.FinishEvent:
			assert.Equal(t, len(events)-1, i, "finish must be the last event")
		}
	}
	assert.LessOrEqual(t, modelCount, 1)

	_, ok = events[len(events)-1].(core.FinishEvent)
	assert.True(t, ok, "sequence must end with finish")
}

func finishOf(t *testing.T, events []core.Event) core.FinishEvent {
	t.Helper()
	f, ok := events[len(events)-1].(core.FinishEvent)
	require.True(t, ok)
	return f
}

func deltasOf(events []core.Event) string {
	var sb strings.Builder
	for _, ev := range events {
		if d, ok := ev.(core.TextDeltaEvent); ok {
			sb.WriteString(d.Delta)
		}
	}
	return sb.String()
}

func TestGraph_SimpleRun(t *testing.T) {
	mock := provider.NewMockModel("standard").Enqueue(provider.MockTurn{Text: "Hello there"})
	g := New(agent.New("root"), testRouter("standard"), func(o *Options) {
		o.DefaultProvider = mock
	})

	exec, events, errs, err := g.Run(context.Background(), testRC(), core.NewTask("hi"))
	require.NoError(t, err)

	seq, runErr := collect(t, events, errs)
	require.NoError(t, runErr)
	assertGrammar(t, seq)

	assert.Equal(t, "Hello there", deltasOf(seq))

	f := finishOf(t, seq)
	assert.Equal(t, "Hello there", f.FullText)
	assert.Positive(t, f.Usage.TotalTokens)

	assert.Equal(t, core.StatusCompleted, exec.Status())
	assert.Equal(t, "root", exec.CurrentAgentID())
	assert.False(t, exec.EndedAt().IsZero())
}

func TestGraph_FallbackRetry(t *testing.T) {
	primary := provider.NewMockModel("primary").Enqueue(provider.MockTurn{Err: errors.New("boom")})
	backup := provider.NewMockModel("backup").Enqueue(provider.MockTurn{Text: "saved"})

	g := New(agent.New("root"), testRouter("primary", "backup"), func(o *Options) {
		o.Providers = map[string]provider.Model{"primary": primary, "backup": backup}
	})

	exec, events, errs, err := g.Run(context.Background(), testRC(), core.NewTask("hi"))
	require.NoError(t, err)

	seq, runErr := collect(t, events, errs)
	require.NoError(t, runErr)
	assertGrammar(t, seq)

	var models []core.ModelSelectedEvent
	for _, ev := range seq {
		if m, ok := ev.(core.ModelSelectedEvent); ok {
			models = append(models, m)
		}
	}
	require.Len(t, models, 1)
	assert.Equal(t, "backup", models[0].ModelUsed)
	assert.True(t, models[0].IsFallback)

	assert.Equal(t, core.StatusCompleted, exec.Status())
	assert.Equal(t, 1, primary.Calls())
	assert.Equal(t, 1, backup.Calls())
}

func TestGraph_BothModelsFailing(t *testing.T) {
	primary := provider.NewMockModel("primary").Enqueue(provider.MockTurn{Err: errors.New("down")})
	backup := provider.NewMockModel("backup").Enqueue(provider.MockTurn{Err: errors.New("also down")})

	g := New(agent.New("root"), testRouter("primary", "backup"), func(o *Options) {
		o.Providers = map[string]provider.Model{"primary": primary, "backup": backup}
	})

	exec, events, errs, err := g.Run(context.Background(), testRC(), core.NewTask("hi"))
	require.NoError(t, err)

	seq, runErr := collect(t, events, errs)
	require.Error(t, runErr)

	var pe *core.ProviderError
	assert.ErrorAs(t, runErr, &pe)

	// Failure still terminates the sequence deterministically.
	var sawError bool
	for _, ev := range seq {
		if e, ok := ev.(core.ErrorEvent); ok {
			sawError = true
			assert.Equal(t, "provider_failure", e.Kind)
		}
	}
	assert.True(t, sawError)
	_, ok := seq[len(seq)-1].(core.FinishEvent)
	assert.True(t, ok)

	assert.Equal(t, core.StatusFailed, exec.Status())
}

func TestGraph_ToolCallLoop(t *testing.T) {
	sum := tool.NewFunctionTool("calculate_sum", "Adds two numbers",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []string{"a", "b"},
		},
		func(tc *tool.Context, args map[string]any) (any, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		},
	)

	root := agent.New("root", func(o *agent.Options) { o.Tools = []tool.Tool{sum} })

	mock := provider.NewMockModel("standard").Enqueue(
		provider.MockTurn{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "calculate_sum", Arguments: `{"a":1,"b":2}`}}},
		provider.MockTurn{Text: "The sum is 3."},
	)

	g := New(root, testRouter("standard"), func(o *Options) { o.DefaultProvider = mock })

	exec, events, errs, err := g.Run(context.Background(), testRC(), core.NewTask("add 1 and 2"))
	require.NoError(t, err)

	seq, runErr := collect(t, events, errs)
	require.NoError(t, runErr)
	assertGrammar(t, seq)

	var call, result *core.ToolInvocationEvent
	for _, ev := range seq {
		if ti, ok := ev.(core.ToolInvocationEvent); ok {
			switch ti.State {
			case core.ToolStateCall:
				c := ti
				call = &c
			case core.ToolStateResult:
				r := ti
				result = &r
			}
		}
	}
	require.NotNil(t, call)
	require.NotNil(t, result)
	assert.Equal(t, "calculate_sum", call.ToolName)
	assert.Equal(t, call.ToolCallID, result.ToolCallID)
	assert.Equal(t, 3.0, result.Result)

	assert.Equal(t, "The sum is 3.", finishOf(t, seq).FullText)
	assert.Equal(t, core.StatusCompleted, exec.Status())
	assert.Equal(t, 2, mock.Calls())
}

func TestGraph_SensitiveDenialDoesNotFail(t *testing.T) {
	executed := false
	sendEmail := tool.NewFunctionTool("send_email", "Sends an email",
		map[string]any{"type": "object"},
		func(tc *tool.Context, args map[string]any) (any, error) {
			executed = true
			return nil, nil
		},
		func(o *tool.FunctionToolOptions) { o.Sensitive = true },
	)

	root := agent.New("root", func(o *agent.Options) { o.Tools = []tool.Tool{sendEmail} })

	mock := provider.NewMockModel("standard").Enqueue(
		provider.MockTurn{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "send_email", Arguments: `{}`}}},
		provider.MockTurn{Text: "Understood, I won't send it."},
	)

	registry := confirm.NewRegistry()
	defer registry.Close()

	g := New(root, testRouter("standard"), func(o *Options) {
		o.DefaultProvider = mock
		o.Confirmations = registry
	})

	exec, events, errs, err := g.Run(context.Background(), testRC(), core.NewTask("email bob"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(registry.List()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, core.StatusAwaitingApproval, exec.Status())

	pending := registry.List()[0]
	assert.Equal(t, exec.ID(), pending.ExecutionID)
	require.NoError(t, registry.Resolve(pending.ID, false, nil))

	seq, runErr := collect(t, events, errs)
	require.NoError(t, runErr)
	assertGrammar(t, seq)

	var denied bool
	for _, ev := range seq {
		ti, ok := ev.(core.ToolInvocationEvent)
		if !ok || ti.State != core.ToolStateResult {
			continue
		}
		payload, ok := ti.Result.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, true, payload["denied"])
		assert.Equal(t, "denied by user", payload["reason"])
		denied = true
	}
	assert.True(t, denied)
	assert.False(t, executed)
	assert.Equal(t, core.StatusCompleted, exec.Status())
}

func TestGraph_SensitiveApprovalWithEditedArgs(t *testing.T) {
	var got map[string]any
	sendEmail := tool.NewFunctionTool("send_email", "Sends an email",
		map[string]any{"type": "object"},
		func(tc *tool.Context, args map[string]any) (any, error) {
			got = args
			return map[string]any{"sent": true}, nil
		},
		func(o *tool.FunctionToolOptions) { o.Sensitive = true },
	)

	root := agent.New("root", func(o *agent.Options) { o.Tools = []tool.Tool{sendEmail} })

	mock := provider.NewMockModel("standard").Enqueue(
		provider.MockTurn{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "send_email", Arguments: `{"to":"a@b.c"}`}}},
		provider.MockTurn{Text: "Sent."},
	)

	registry := confirm.NewRegistry()
	defer registry.Close()

	g := New(root, testRouter("standard"), func(o *Options) {
		o.DefaultProvider = mock
		o.Confirmations = registry
	})

	exec, events, errs, err := g.Run(context.Background(), testRC(), core.NewTask("email bob"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(registry.List()) == 1 }, time.Second, 5*time.Millisecond)
	pending := registry.List()[0]
	require.NoError(t, registry.Resolve(pending.ID, true, map[string]any{"to": "edited@b.c"}))

	_, runErr := collect(t, events, errs)
	require.NoError(t, runErr)

	assert.Equal(t, map[string]any{"to": "edited@b.c"}, got)
	assert.Equal(t, core.StatusCompleted, exec.Status())
}

func TestGraph_ExplicitDelegation(t *testing.T) {
	root := agent.New("root")
	toby := agent.New("toby", func(o *agent.Options) { o.Description = "weather specialist" })
	require.NoError(t, root.AddSpecialist(toby))

	mock := provider.NewMockModel("standard").Enqueue(
		provider.MockTurn{ToolCalls: []provider.ToolCall{{ID: "c1", Name: tool.DelegateToolName, Arguments: `{"agent":"toby"}`}}},
		provider.MockTurn{Text: "It is sunny in Paris."},
	)

	g := New(root, testRouter("standard"), func(o *Options) { o.DefaultProvider = mock })

	exec, events, errs, err := g.Run(context.Background(), testRC(), core.NewTask("what's the weather in paris"))
	require.NoError(t, err)

	seq, runErr := collect(t, events, errs)
	require.NoError(t, runErr)
	assertGrammar(t, seq)

	var call, result *core.ToolInvocationEvent
	for _, ev := range seq {
		if ti, ok := ev.(core.ToolInvocationEvent); ok && ti.ToolName == tool.DelegateToolName {
			switch ti.State {
			case core.ToolStateCall:
				c := ti
				call = &c
			case core.ToolStateResult:
				r := ti
				result = &r
			}
		}
	}
	require.NotNil(t, call)
	require.NotNil(t, result)
	assert.Equal(t, "toby", call.Args["agent"])

	payload, ok := result.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "toby", payload["agent"])
	assert.Equal(t, "It is sunny in Paris.", payload["summary"])

	assert.Equal(t, "toby", exec.CurrentAgentID())
	assert.Equal(t, "It is sunny in Paris.", finishOf(t, seq).FullText)
	assert.Equal(t, core.StatusCompleted, exec.Status())
}

func TestGraph_ExplicitDelegationUnknownTargetContinues(t *testing.T) {
	root := agent.New("root")
	require.NoError(t, root.AddSpecialist(agent.New("toby")))

	mock := provider.NewMockModel("standard").Enqueue(
		provider.MockTurn{ToolCalls: []provider.ToolCall{{ID: "c1", Name: tool.DelegateToolName, Arguments: `{"agent":"ghost"}`}}},
		provider.MockTurn{Text: "I'll handle it myself."},
	)

	g := New(root, testRouter("standard"), func(o *Options) { o.DefaultProvider = mock })

	exec, events, errs, err := g.Run(context.Background(), testRC(), core.NewTask("hi"))
	require.NoError(t, err)

	seq, runErr := collect(t, events, errs)
	require.NoError(t, runErr)
	assertGrammar(t, seq)

	var sawError bool
	for _, ev := range seq {
		if ti, ok := ev.(core.ToolInvocationEvent); ok && ti.State == core.ToolStateResult {
			payload, ok := ti.Result.(map[string]any)
			require.True(t, ok)
			assert.Contains(t, payload["error"], "ghost")
			sawError = true
		}
	}
	assert.True(t, sawError)

	// Ownership never moved and the supervisor answered on its own.
	assert.Equal(t, "root", exec.CurrentAgentID())
	assert.Equal(t, core.StatusCompleted, exec.Status())
}

func TestGraph_ImplicitDelegation(t *testing.T) {
	root := agent.New("root")
	toby := agent.New("toby", func(o *agent.Options) { o.Keywords = []string{"weather"} })
	require.NoError(t, root.AddSpecialist(toby))

	analyzer := delegate.NewKeywordAnalyzer([]delegate.Profile{
		{AgentID: "toby", Keywords: []string{"weather"}},
	})

	mock := provider.NewMockModel("standard").Enqueue(
		provider.MockTurn{Text: "Sunny, 24 degrees."},
	)

	g := New(root, testRouter("standard"), func(o *Options) {
		o.DefaultProvider = mock
		o.Analyzer = analyzer
	})

	exec, events, errs, err := g.Run(context.Background(), testRC(),
		core.NewTask("Ask Toby to check the weather in Paris"))
	require.NoError(t, err)

	seq, runErr := collect(t, events, errs)
	require.NoError(t, runErr)
	assertGrammar(t, seq)

	// The hand-off happened before the first provider call: a single model
	// turn served the specialist directly.
	assert.Equal(t, 1, mock.Calls())
	assert.Equal(t, "toby", exec.CurrentAgentID())

	var sawHandoff bool
	for _, ev := range seq {
		if ti, ok := ev.(core.ToolInvocationEvent); ok && ti.State == core.ToolStateCall {
			assert.Equal(t, tool.DelegateToolName, ti.ToolName)
			assert.Equal(t, "toby", ti.Args["agent"])
			sawHandoff = true
		}
	}
	assert.True(t, sawHandoff)
	assert.Equal(t, core.StatusCompleted, exec.Status())
}

func TestGraph_SubThresholdIntentIgnored(t *testing.T) {
	root := agent.New("root")
	require.NoError(t, root.AddSpecialist(agent.New("toby")))

	analyzer := delegate.NewKeywordAnalyzer([]delegate.Profile{
		{AgentID: "toby", Keywords: []string{"weather"}},
	})

	mock := provider.NewMockModel("standard").Enqueue(provider.MockTurn{Text: "Probably sunny."})

	g := New(root, testRouter("standard"), func(o *Options) {
		o.DefaultProvider = mock
		o.Analyzer = analyzer
	})

	// A single keyword scores 0.4, well below the 0.8 threshold.
	exec, events, errs, err := g.Run(context.Background(), testRC(), core.NewTask("weather tomorrow?"))
	require.NoError(t, err)

	_, runErr := collect(t, events, errs)
	require.NoError(t, runErr)
	assert.Equal(t, "root", exec.CurrentAgentID())
}

func TestGraph_PreselectedSpecialist(t *testing.T) {
	root := agent.New("root")
	require.NoError(t, root.AddSpecialist(agent.New("toby")))

	mock := provider.NewMockModel("standard").Enqueue(provider.MockTurn{Text: "Direct answer."})

	g := New(root, testRouter("standard"), func(o *Options) { o.DefaultProvider = mock })

	task := core.TaskDescriptor{
		Content:     "hello",
		ContentKind: core.ContentKindText,
		Metadata:    map[string]any{core.MetaAgent: "toby"},
	}
	exec, events, errs, err := g.Run(context.Background(), testRC(), task)
	require.NoError(t, err)

	_, runErr := collect(t, events, errs)
	require.NoError(t, runErr)
	assert.Equal(t, "toby", exec.CurrentAgentID())
	assert.Equal(t, core.StatusCompleted, exec.Status())
}

func TestGraph_CancellationReleasesConfirmation(t *testing.T) {
	sendEmail := tool.NewFunctionTool("send_email", "Sends an email",
		map[string]any{"type": "object"},
		func(tc *tool.Context, args map[string]any) (any, error) { return nil, nil },
		func(o *tool.FunctionToolOptions) { o.Sensitive = true },
	)
	root := agent.New("root", func(o *agent.Options) { o.Tools = []tool.Tool{sendEmail} })

	mock := provider.NewMockModel("standard").Enqueue(
		provider.MockTurn{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "send_email", Arguments: `{}`}}},
	)

	registry := confirm.NewRegistry()
	defer registry.Close()

	g := New(root, testRouter("standard"), func(o *Options) {
		o.DefaultProvider = mock
		o.Confirmations = registry
	})

	ctx, cancel := context.WithCancel(context.Background())
	exec, events, errs, err := g.Run(ctx, testRC(), core.NewTask("email bob"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(registry.List()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()

	_, runErr := collect(t, events, errs)
	assert.ErrorIs(t, runErr, context.Canceled)
	assert.Equal(t, core.StatusCancelled, exec.Status())
	assert.Empty(t, registry.List())
}

func TestGraph_MaxModelCallsBoundsLoop(t *testing.T) {
	// A model that keeps requesting the same tool forever.
	loopTool := tool.NewFunctionTool("noop", "", map[string]any{"type": "object"},
		func(tc *tool.Context, args map[string]any) (any, error) { return "ok", nil })
	root := agent.New("root", func(o *agent.Options) { o.Tools = []tool.Tool{loopTool} })

	mock := provider.NewMockModel("standard")
	for i := 0; i < 10; i++ {
		mock.Enqueue(provider.MockTurn{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "noop", Arguments: `{}`}}})
	}

	g := New(root, testRouter("standard"), func(o *Options) {
		o.DefaultProvider = mock
		o.MaxModelCalls = 3
	})

	exec, events, errs, err := g.Run(context.Background(), testRC(), core.NewTask("loop"))
	require.NoError(t, err)

	_, runErr := collect(t, events, errs)
	require.Error(t, runErr)
	assert.Contains(t, runErr.Error(), "max model calls")
	assert.Equal(t, core.StatusFailed, exec.Status())
}

// Package agentrelay provides a high-level façade over the execution graph
// and its collaborators (routing, delegation analysis, confirmations,
// transcript history and logging) enabling rapid construction of streaming
// agent services. Most applications interact with this package by:
//  1. Creating an Engine via New() around a supervisor agent and its providers
//  2. Starting executions asynchronously (RunTask) or synchronously (RunTaskSync)
//  3. Resolving pending confirmations through the exposed registry
//
// The façade delegates orchestration to graph.Graph while keeping setup and
// usage ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply a durable history store
// and a structured logger.
package agentrelay

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/confirm"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/delegate"
	"github.com/hupe1980/agentrelay/graph"
	"github.com/hupe1980/agentrelay/history"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/provider"
	"github.com/hupe1980/agentrelay/router"
)

// Options configures the Engine instance.
type Options struct {
	// Providers maps model names to their adapters; DefaultProvider serves
	// models without a dedicated entry.
	Providers       map[string]provider.Model
	DefaultProvider provider.Model

	// Router overrides the default router, which is built from the provider
	// catalog with every model on the balanced tier.
	Router *router.Router

	// Analyzer overrides the default keyword analyzer, which is built from
	// the supervisor's specialist profiles.
	Analyzer delegate.Analyzer

	// Registry overrides the default confirmation registry. A supplied
	// registry is not closed by Engine.Close.
	Registry *confirm.Registry

	// HistoryStore persists thread transcripts (defaults to in-memory).
	HistoryStore history.Store

	// SensitiveTools names tools requiring approval in addition to any tool
	// implementing tool.Sensitive.
	SensitiveTools []string

	// AutoDelegateThreshold is the analyzer confidence that forces a
	// pre-execution hand-off.
	AutoDelegateThreshold float64

	// MaxModelCalls limits the number of model calls per execution.
	MaxModelCalls int

	// ModelCallsPerSecond rate-limits model calls per execution.
	ModelCallsPerSecond float64

	// EventBufferSize sets channel buffering for events.
	EventBufferSize int

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Engine is the high-level façade aggregating the execution graph and its
// collaborators. Public methods are safe for concurrent use.
type Engine struct {
	supervisor *agent.Agent
	graph      *graph.Graph
	registry   *confirm.Registry
	store      history.Store
	logger     logging.Logger

	ownsRegistry bool

	mu         sync.RWMutex
	activeRuns map[string]context.CancelFunc
}

// New constructs an Engine around supervisor with optional overrides. Any
// unset collaborator gets a sensible default.
func New(supervisor *agent.Agent, optFns ...func(o *Options)) (*Engine, error) {
	opts := Options{
		AutoDelegateThreshold: 0.8,
		MaxModelCalls:         25,
		EventBufferSize:       100,
		Logger:                logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if supervisor == nil {
		return nil, fmt.Errorf("supervisor agent is required")
	}
	if opts.DefaultProvider == nil && len(opts.Providers) == 0 {
		return nil, fmt.Errorf("at least one model provider is required")
	}

	rtr := opts.Router
	if rtr == nil {
		rtr = router.New(defaultCatalog(opts.Providers, opts.DefaultProvider),
			func(o *router.Options) { o.Logger = opts.Logger })
	}

	analyzer := opts.Analyzer
	if analyzer == nil {
		analyzer = delegate.NewKeywordAnalyzer(specialistProfiles(supervisor),
			func(o *delegate.Options) { o.Logger = opts.Logger })
	}

	registry := opts.Registry
	ownsRegistry := false
	if registry == nil {
		registry = confirm.NewRegistry(func(o *confirm.Options) { o.Logger = opts.Logger })
		ownsRegistry = true
	}

	store := opts.HistoryStore
	if store == nil {
		store = history.NewInMemoryStore()
	}

	g := graph.New(supervisor, rtr, func(o *graph.Options) {
		o.Providers = opts.Providers
		o.DefaultProvider = opts.DefaultProvider
		o.Analyzer = analyzer
		o.AutoDelegateThreshold = opts.AutoDelegateThreshold
		o.Confirmations = registry
		o.SensitiveTools = opts.SensitiveTools
		o.MaxModelCalls = opts.MaxModelCalls
		o.ModelCallsPerSecond = opts.ModelCallsPerSecond
		o.EventBufferSize = opts.EventBufferSize
		o.Logger = opts.Logger
	})

	return &Engine{
		supervisor:   supervisor,
		graph:        g,
		registry:     registry,
		store:        store,
		logger:       opts.Logger,
		ownsRegistry: ownsRegistry,
		activeRuns:   make(map[string]context.CancelFunc),
	}, nil
}

// Supervisor returns the root agent of the delegation graph.
func (e *Engine) Supervisor() *agent.Agent { return e.supervisor }

// Confirmations returns the confirmation registry for approval surfaces.
func (e *Engine) Confirmations() *confirm.Registry { return e.registry }

// History returns the transcript store.
func (e *Engine) History() history.Store { return e.store }

// RunTask starts an asynchronous execution of task. It returns the execution
// id, the ordered event channel (closed on completion) and a terminal error
// channel. The thread transcript is loaded before the run and a completed
// turn is persisted fire-and-forget afterwards; history failures never fail
// the execution.
func (e *Engine) RunTask(
	ctx context.Context,
	rc core.RequestContext,
	task core.TaskDescriptor,
) (string, <-chan core.Event, <-chan error, error) {
	hist, err := e.store.Messages(ctx, rc.ThreadID)
	if err != nil {
		e.logger.Warn("engine.history.load_failed", "thread_id", rc.ThreadID, "error", err.Error())
		hist = nil
	}

	runCtx, cancel := context.WithCancel(ctx)

	exec, events, errs, err := e.graph.Run(runCtx, rc, task,
		func(o *graph.RunOptions) { o.History = hist })
	if err != nil {
		cancel()
		return "", nil, nil, err
	}

	e.mu.Lock()
	e.activeRuns[exec.ID()] = cancel
	e.mu.Unlock()

	out := make(chan core.Event, cap(events))

	go func() {
		defer close(out)
		defer func() {
			e.mu.Lock()
			delete(e.activeRuns, exec.ID())
			e.mu.Unlock()
			cancel()
		}()

		var finish *core.FinishEvent
		for ev := range events {
			if f, ok := ev.(core.FinishEvent); ok {
				finish = &f
			}
			out <- ev
		}

		if finish != nil && exec.Status() == core.StatusCompleted {
			e.persistTurn(rc.ThreadID, task.Content, finish.FullText)
		}
	}()

	return exec.ID(), out, errs, nil
}

// Result is the aggregated outcome of a synchronous run.
type Result struct {
	ExecutionID string
	Text        string
	Usage       core.TokenUsage
	Events      []core.Event
}

// RunTaskSync executes task and blocks until it finishes, collecting the full
// event sequence.
func (e *Engine) RunTaskSync(
	ctx context.Context,
	rc core.RequestContext,
	task core.TaskDescriptor,
) (*Result, error) {
	id, events, errs, err := e.RunTask(ctx, rc, task)
	if err != nil {
		return nil, err
	}

	res := &Result{ExecutionID: id}
	for ev := range events {
		res.Events = append(res.Events, ev)
		if f, ok := ev.(core.FinishEvent); ok {
			res.Text = f.FullText
			res.Usage = f.Usage
		}
	}
	if runErr := <-errs; runErr != nil {
		return res, runErr
	}
	return res, nil
}

// Stop cancels a running execution by id. The graph releases any pending
// confirmation the execution holds as part of its shutdown.
func (e *Engine) Stop(executionID string) error {
	e.mu.RLock()
	cancel, ok := e.activeRuns[executionID]
	e.mu.RUnlock()

	if !ok {
		return core.ErrExecutionNotFound
	}
	cancel()
	e.logger.Info("engine.stopped", "execution_id", executionID)
	return nil
}

// Close cancels all active executions and stops an engine-owned registry.
func (e *Engine) Close() {
	e.mu.Lock()
	for id, cancel := range e.activeRuns {
		cancel()
		delete(e.activeRuns, id)
	}
	e.mu.Unlock()

	if e.ownsRegistry {
		e.registry.Close()
	}
}

// persistTurn records a finished turn in the thread transcript without
// blocking or failing the caller.
func (e *Engine) persistTurn(threadID, userText, assistantText string) {
	go func() {
		err := e.store.Append(context.Background(), threadID,
			provider.Message{Role: provider.RoleUser, Text: userText},
			provider.Message{Role: provider.RoleAssistant, Text: assistantText},
		)
		if err != nil {
			e.logger.Warn("engine.history.append_failed", "thread_id", threadID, "error", err.Error())
		}
	}()
}

// defaultCatalog derives a router catalog from the configured providers,
// sorted by name so routing stays deterministic.
func defaultCatalog(providers map[string]provider.Model, def provider.Model) []router.ModelProfile {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)

	var catalog []router.ModelProfile
	for _, name := range names {
		catalog = append(catalog, router.ModelProfile{
			Name:          name,
			Tier:          router.TierBalanced,
			SupportsTools: providers[name].Info().SupportsTools,
		})
	}
	if len(catalog) == 0 && def != nil {
		info := def.Info()
		catalog = append(catalog, router.ModelProfile{
			Name:          info.Name,
			Tier:          router.TierBalanced,
			SupportsTools: info.SupportsTools,
		})
	}
	return catalog
}

// specialistProfiles maps the supervisor's specialists into analyzer profiles.
func specialistProfiles(supervisor *agent.Agent) []delegate.Profile {
	var profiles []delegate.Profile
	for _, sp := range supervisor.Specialists() {
		profiles = append(profiles, delegate.Profile{
			AgentID:  sp.ID(),
			Aliases:  sp.Aliases(),
			Keywords: sp.Keywords(),
		})
	}
	return profiles
}

package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// Context provides a constrained, auditable surface for tool implementations
// invoked by an agent. It carries the cancellation context, the caller's
// request context, correlation identifiers and a logger, and accumulates a
// delegation request without mutating the execution directly; the graph
// inspects the context after Call returns.
type Context struct {
	ctx         context.Context
	request     core.RequestContext
	executionID string
	agentID     string
	callID      string
	logger      logging.Logger
	delegateTo  string
}

// NewContext constructs a tool context bound to one function call.
func NewContext(
	ctx context.Context,
	request core.RequestContext,
	executionID, agentID, callID string,
	logger logging.Logger,
) *Context {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Context{
		ctx:         ctx,
		request:     request,
		executionID: executionID,
		agentID:     agentID,
		callID:      callID,
		logger:      logger,
	}
}

// Context returns the cancellation context of the invocation.
func (tc *Context) Context() context.Context { return tc.ctx }

// Request returns the caller's request context.
func (tc *Context) Request() core.RequestContext { return tc.request }

// ExecutionID returns the execution this call belongs to.
func (tc *Context) ExecutionID() string { return tc.executionID }

// AgentID returns the agent that issued the call.
func (tc *Context) AgentID() string { return tc.agentID }

// CallID returns the tool-call identifier correlating request and result.
func (tc *Context) CallID() string { return tc.callID }

// Logger returns the logger for this invocation.
func (tc *Context) Logger() logging.Logger { return tc.logger }

// DelegateToAgent signals orchestration to hand off control to the named
// specialist once the current call completes.
func (tc *Context) DelegateToAgent(agentID string) {
	tc.delegateTo = agentID
	tc.logger.Info("tool.delegate.request",
		"from_agent", tc.agentID, "to_agent", agentID, "call_id", tc.callID)
}

// DelegationTarget returns the requested hand-off target, or "" when none.
func (tc *Context) DelegationTarget() string { return tc.delegateTo }

// Validate performs a structural sanity check of the context.
func (tc *Context) Validate() error {
	if tc.executionID == "" || tc.callID == "" {
		return fmt.Errorf("invalid tool context")
	}
	return nil
}

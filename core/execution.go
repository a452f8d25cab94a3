package core

import (
	"sync"
	"time"
)

// ExecutionStatus is the lifecycle state of an execution.
type ExecutionStatus string

const (
	// StatusRunning means the owner agent is actively producing output.
	StatusRunning ExecutionStatus = "running"
	// StatusAwaitingApproval means the run is suspended on a pending human confirmation.
	StatusAwaitingApproval ExecutionStatus = "awaiting-approval"
	// StatusCompleted is the terminal success state.
	StatusCompleted ExecutionStatus = "completed"
	// StatusFailed is the terminal failure state.
	StatusFailed ExecutionStatus = "failed"
	// StatusCancelled is the terminal state after an external stop signal.
	StatusCancelled ExecutionStatus = "cancelled"
)

// Execution is the mutable root of one run. It is owned exclusively by the
// execution graph that created it; other layers read it through the snapshot
// accessors. History accumulates every event in emission order.
type Execution struct {
	mu             sync.RWMutex
	id             string
	threadID       string
	status         ExecutionStatus
	currentAgentID string
	history        []Event
	startedAt      time.Time
	endedAt        time.Time
}

// NewExecution creates a running execution owned by agentID.
func NewExecution(id, threadID, agentID string) *Execution {
	return &Execution{
		id:             id,
		threadID:       threadID,
		status:         StatusRunning,
		currentAgentID: agentID,
		startedAt:      time.Now().UTC(),
	}
}

// ID returns the opaque execution identifier.
func (e *Execution) ID() string { return e.id }

// ThreadID returns the conversation thread this execution belongs to.
func (e *Execution) ThreadID() string { return e.threadID }

// Status returns the current lifecycle state.
func (e *Execution) Status() ExecutionStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// SetStatus transitions the lifecycle state. Terminal states also stamp EndedAt.
func (e *Execution) SetStatus(s ExecutionStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = s
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		e.endedAt = time.Now().UTC()
	}
}

// CurrentAgentID returns the agent that currently owns the execution.
func (e *Execution) CurrentAgentID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentAgentID
}

// TransferOwner records a delegation hand-off to agentID.
func (e *Execution) TransferOwner(agentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentAgentID = agentID
}

// Record appends ev to the execution history.
func (e *Execution) Record(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, ev)
}

// History returns a copy of the accumulated event sequence.
func (e *Execution) History() []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Event, len(e.history))
	copy(out, e.history)
	return out
}

// StartedAt returns the creation timestamp (UTC).
func (e *Execution) StartedAt() time.Time { return e.startedAt }

// EndedAt returns the terminal timestamp, zero while the run is live.
func (e *Execution) EndedAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.endedAt
}

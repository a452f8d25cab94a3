// Package confirm implements the process-wide table of pending human
// approvals. A sensitive tool call registers an entry and suspends its
// execution on the returned resolution channel; a separate approval call (or
// the timeout sweeper, or execution cancellation) resolves the entry exactly
// once and unblocks the waiter.
//
// The registry is the only cross-execution shared mutable state in the
// engine, so every mutation path is serialized behind one mutex. It is an
// injectable object, not a package-level singleton, so test instances never
// share state.
package confirm

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/internal/util"
	"github.com/hupe1980/agentrelay/logging"
)

// Resolution is the outcome delivered to a suspended execution.
type Resolution struct {
	// Approved permits the tool call to proceed.
	Approved bool
	// EditedArgs, when non-nil on approval, replace the originally requested
	// arguments.
	EditedArgs map[string]any
	// Reason explains a rejection ("denied by user", "timed out", ...).
	Reason string
}

// Pending is the externally visible snapshot of one approval request.
type Pending struct {
	ID            string         `json:"id"`
	ExecutionID   string         `json:"execution_id"`
	ThreadID      string         `json:"thread_id"`
	OwnerID       string         `json:"owner_id"`
	RequestedTool string         `json:"requested_tool"`
	RequestedArgs map[string]any `json:"requested_args,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// entry is the internal record behind a Pending snapshot.
type entry struct {
	Pending
	ch       chan Resolution
	resolved bool
	// queuedAt orders entries per execution; only the head of each
	// execution's queue is live (visible and resolvable).
	queuedAt time.Time
}

// Options configure a Registry.
type Options struct {
	// Timeout after which unresolved entries are auto-rejected. Applies from
	// the moment an entry becomes the live head of its execution's queue.
	Timeout time.Duration
	// SweepInterval controls how often the timeout sweeper runs.
	SweepInterval time.Duration
	Logger        logging.Logger
}

// Registry is the process-wide confirmation table. Safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	byExec map[string][]*entry // FIFO per execution; index 0 is live
	byID   map[string]*entry

	timeout time.Duration
	logger  logging.Logger

	done    chan struct{}
	stopped sync.Once
}

// NewRegistry constructs a registry and starts its timeout sweeper. Call
// Close to stop the sweeper.
func NewRegistry(optFns ...func(o *Options)) *Registry {
	opts := Options{
		Timeout:       5 * time.Minute,
		SweepInterval: 5 * time.Second,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	r := &Registry{
		byExec:  map[string][]*entry{},
		byID:    map[string]*entry{},
		timeout: opts.Timeout,
		logger:  opts.Logger,
		done:    make(chan struct{}),
	}

	go r.sweepLoop(opts.SweepInterval)

	return r
}

// Close stops the timeout sweeper. Pending entries are left untouched.
func (r *Registry) Close() {
	r.stopped.Do(func() { close(r.done) })
}

// Register creates a pending confirmation owned by rc.UserID and returns its
// id plus the channel the caller should suspend on. Register itself never
// blocks. When the execution already has a live entry the new one queues
// behind it: it is invisible to List and unresolvable until the head
// resolves, so at most one approval prompt per execution is ever shown.
func (r *Registry) Register(
	rc core.RequestContext,
	executionID, requestedTool string,
	requestedArgs map[string]any,
) (string, <-chan Resolution) {
	e := &entry{
		Pending: Pending{
			ID:            util.NewID(),
			ExecutionID:   executionID,
			ThreadID:      rc.ThreadID,
			OwnerID:       rc.UserID,
			RequestedTool: requestedTool,
			RequestedArgs: requestedArgs,
			CreatedAt:     time.Now().UTC(),
		},
		ch:       make(chan Resolution, 1),
		queuedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.byExec[executionID] = append(r.byExec[executionID], e)
	r.byID[e.ID] = e
	live := len(r.byExec[executionID]) == 1
	r.mu.Unlock()

	r.logger.Info("confirm.registered",
		"confirmation_id", e.ID, "execution_id", executionID,
		"tool", requestedTool, "live", live)

	return e.ID, e.ch
}

// Await registers a confirmation and blocks until it resolves or ctx is
// cancelled. On cancellation the entry is released as rejected so the
// registry never leaks an entry for a dead execution.
func (r *Registry) Await(
	ctx context.Context,
	rc core.RequestContext,
	executionID, requestedTool string,
	requestedArgs map[string]any,
) (Resolution, error) {
	id, ch := r.Register(rc, executionID, requestedTool, requestedArgs)

	select {
	case res := <-ch:
		if !res.Approved && res.Reason == reasonTimeout {
			return res, core.ErrConfirmationTimeout
		}
		return res, nil
	case <-ctx.Done():
		_ = r.resolveInternal(id, Resolution{Approved: false, Reason: "rejected: execution cancelled"})
		return Resolution{}, ctx.Err()
	}
}

// List returns the live pending confirmations (one per execution at most),
// ordered by creation time.
func (r *Registry) List() []Pending {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Pending, 0, len(r.byExec))
	for _, q := range r.byExec {
		if len(q) > 0 {
			out = append(out, q[0].Pending)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Get returns the live snapshot for id. Queued (non-head) entries report
// found=false just like unknown ids: they do not exist yet as far as
// external callers are concerned.
func (r *Registry) Get(id string) (Pending, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok || !r.isHeadLocked(e) {
		return Pending{}, false
	}
	return e.Pending, true
}

// Resolve delivers the human decision for id. Resolving an unknown, queued or
// already-resolved id returns core.ErrConfirmationNotFound; double resolution
// is a no-op failure, never a crash.
func (r *Registry) Resolve(id string, approved bool, editedArgs map[string]any) error {
	res := Resolution{Approved: approved, EditedArgs: editedArgs}
	if !approved {
		res.Reason = "denied by user"
	}
	return r.resolveInternal(id, res)
}

// CancelExecution resolves every entry (live and queued) for executionID as
// rejected. Called on execution cancellation and client disconnect so no
// entry outlives its run.
func (r *Registry) CancelExecution(executionID, reason string) {
	r.mu.Lock()
	q := r.byExec[executionID]
	delete(r.byExec, executionID)
	for _, e := range q {
		delete(r.byID, e.ID)
		e.resolved = true
	}
	r.mu.Unlock()

	for _, e := range q {
		e.ch <- Resolution{Approved: false, Reason: reason}
		r.logger.Info("confirm.cancelled", "confirmation_id", e.ID, "execution_id", executionID, "reason", reason)
	}
}

const reasonTimeout = "rejected: timed out"

// resolveInternal performs the exactly-once removal and delivery for id.
func (r *Registry) resolveInternal(id string, res Resolution) error {
	r.mu.Lock()
	e, ok := r.byID[id]
	if !ok || e.resolved || !r.isHeadLocked(e) {
		r.mu.Unlock()
		return core.ErrConfirmationNotFound
	}
	e.resolved = true
	delete(r.byID, id)
	r.promoteLocked(e)
	r.mu.Unlock()

	// Buffered size 1 and exactly-once resolution make this send safe without
	// holding the lock.
	e.ch <- res

	r.logger.Info("confirm.resolved",
		"confirmation_id", id, "execution_id", e.ExecutionID,
		"approved", res.Approved, "reason", res.Reason)

	return nil
}

// isHeadLocked reports whether e is the live head of its execution queue.
func (r *Registry) isHeadLocked(e *entry) bool {
	q := r.byExec[e.ExecutionID]
	return len(q) > 0 && q[0] == e
}

// promoteLocked removes e from its queue head and restarts the timeout clock
// for the next queued entry, if any.
func (r *Registry) promoteLocked(e *entry) {
	q := r.byExec[e.ExecutionID]
	if len(q) <= 1 {
		delete(r.byExec, e.ExecutionID)
		return
	}
	q = q[1:]
	q[0].queuedAt = time.Now().UTC()
	r.byExec[e.ExecutionID] = q
}

// sweepLoop auto-rejects live entries older than the configured timeout so no
// execution can hang forever on an unanswered prompt.
func (r *Registry) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.sweep(time.Now().UTC())
		}
	}
}

// sweep resolves every live entry whose clock exceeds the timeout. Exported
// for tests via Sweep.
func (r *Registry) sweep(now time.Time) {
	r.mu.Lock()
	var expired []*entry
	for _, q := range r.byExec {
		if len(q) > 0 && now.Sub(q[0].queuedAt) > r.timeout {
			expired = append(expired, q[0])
		}
	}
	r.mu.Unlock()

	for _, e := range expired {
		if err := r.resolveInternal(e.ID, Resolution{Approved: false, Reason: reasonTimeout}); err == nil {
			r.logger.Warn("confirm.timeout", "confirmation_id", e.ID, "execution_id", e.ExecutionID)
		}
	}
}

// Sweep runs one timeout pass immediately. Intended for tests.
func (r *Registry) Sweep(now time.Time) { r.sweep(now) }

package core

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// CallLimiter bounds provider usage per execution: a hard cap on the number of
// model calls plus an optional rate limit shared across turns. The cap keeps a
// tool-call loop from spinning forever; the rate limit smooths bursts when one
// execution fans into a delegation sub-run.
type CallLimiter struct {
	max     int
	count   int
	mu      sync.Mutex
	limiter *rate.Limiter
}

// NewCallLimiter creates a limiter allowing at most max model calls. A max of
// 0 means unlimited calls. callsPerSecond <= 0 disables rate limiting.
func NewCallLimiter(max int, callsPerSecond float64) *CallLimiter {
	cl := &CallLimiter{max: max}
	if callsPerSecond > 0 {
		cl.limiter = rate.NewLimiter(rate.Limit(callsPerSecond), 1)
	}
	return cl
}

// Acquire counts one model call, waiting on the rate limiter first. It returns
// an error when the call budget is exhausted or the context is cancelled.
func (cl *CallLimiter) Acquire(ctx context.Context) error {
	if cl.limiter != nil {
		if err := cl.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	cl.count++
	if cl.max > 0 && cl.count > cl.max {
		return fmt.Errorf("exceeded max model calls: %d", cl.max)
	}

	return nil
}

// Count returns the number of calls made so far.
func (cl *CallLimiter) Count() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.count
}

// Remaining returns how many calls are left, or -1 when unlimited.
func (cl *CallLimiter) Remaining() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.max == 0 {
		return -1
	}
	return cl.max - cl.count
}

// Package history persists conversation transcripts across executions of the
// same thread. Persistence is best-effort by contract: the engine records a
// finished turn fire-and-forget, and a store failure never fails the
// execution that produced the turn.
package history

import (
	"context"
	"sync"

	"github.com/hupe1980/agentrelay/provider"
)

// Store is the transcript persistence collaborator. Implementations must be
// safe for concurrent use.
type Store interface {
	// Append records msgs at the end of the thread's transcript.
	Append(ctx context.Context, threadID string, msgs ...provider.Message) error

	// Messages returns the thread's transcript in order. An unknown thread
	// yields an empty slice, not an error.
	Messages(ctx context.Context, threadID string) ([]provider.Message, error)

	// Clear removes the thread's transcript.
	Clear(ctx context.Context, threadID string) error
}

// Options configure an InMemoryStore.
type Options struct {
	// MaxMessages bounds the retained transcript per thread; older messages
	// are dropped first. 0 means unbounded.
	MaxMessages int
}

// InMemoryStore is a volatile Store keeping transcripts in a process-local
// map. Safe for concurrent access and best suited for tests or ephemeral demo
// servers. Returned slices are copies to prevent external mutation.
type InMemoryStore struct {
	mu          sync.RWMutex
	threads     map[string][]provider.Message
	maxMessages int
}

// NewInMemoryStore constructs an empty in-memory transcript store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryStore{
		threads:     make(map[string][]provider.Message),
		maxMessages: opts.MaxMessages,
	}
}

// Append records msgs at the end of the thread's transcript, trimming the
// oldest messages past the configured bound.
func (s *InMemoryStore) Append(_ context.Context, threadID string, msgs ...provider.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := append(s.threads[threadID], msgs...)
	if s.maxMessages > 0 && len(t) > s.maxMessages {
		t = t[len(t)-s.maxMessages:]
	}
	s.threads[threadID] = t
	return nil
}

// Messages returns a copy of the thread's transcript.
func (s *InMemoryStore) Messages(_ context.Context, threadID string) ([]provider.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := s.threads[threadID]
	out := make([]provider.Message, len(t))
	copy(out, t)
	return out, nil
}

// Clear removes the thread's transcript.
func (s *InMemoryStore) Clear(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, threadID)
	return nil
}

var _ Store = (*InMemoryStore)(nil)

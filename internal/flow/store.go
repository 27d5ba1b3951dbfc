package flow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arcadelab/identity/domain"
)

// AttemptStore persists pending attempts for the duration of the redirect
// round-trip. Consume is the only read and it is destructive: an attempt is
// handed out at most once no matter how the callback turns out.
type AttemptStore interface {
	Put(ctx context.Context, attempt *Attempt) error
	Consume(ctx context.Context, state string) (*Attempt, error)
}

// InMemoryAttemptStore keeps attempts in a mutex-guarded map. The lookup and
// the delete in Consume happen under one lock, which is what makes replayed
// callbacks lose.
type InMemoryAttemptStore struct {
	mu       sync.Mutex
	attempts map[string]Attempt
	now      func() time.Time
}

func NewInMemoryAttemptStore() *InMemoryAttemptStore {
	return &InMemoryAttemptStore{
		attempts: make(map[string]Attempt),
		now:      time.Now,
	}
}

func (s *InMemoryAttemptStore) Put(_ context.Context, attempt *Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[attempt.State] = *attempt
	return nil
}

// Consume removes and returns the attempt for state. Unknown and expired
// states are indistinguishable to the caller.
func (s *InMemoryAttemptStore) Consume(_ context.Context, state string) (*Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt, ok := s.attempts[state]
	if !ok {
		return nil, fmt.Errorf("%w: unknown state", domain.ErrInvalidState)
	}
	delete(s.attempts, state)

	if attempt.Expired(s.now()) {
		return nil, fmt.Errorf("%w: state expired", domain.ErrInvalidState)
	}
	return &attempt, nil
}

// CleanupExpired drops attempts whose window has passed. Abandoned logins
// never get a callback, so a periodic sweep is the only thing that reclaims
// them.
func (s *InMemoryAttemptStore) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for state, attempt := range s.attempts {
		if attempt.Expired(now) {
			delete(s.attempts, state)
			removed++
		}
	}
	return removed
}

// RunCleanup sweeps expired attempts every interval until ctx is done.
func (s *InMemoryAttemptStore) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CleanupExpired()
		}
	}
}

func (s *InMemoryAttemptStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

var _ AttemptStore = (*InMemoryAttemptStore)(nil)

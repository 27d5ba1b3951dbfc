package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/jellydator/ttlcache/v3"

	"github.com/arcadelab/identity/domain"
)

// MemorySessionStore keeps sessions in a ttlcache with per-entry TTLs.
type MemorySessionStore struct {
	cache *ttlcache.Cache[string, *domain.Session]
}

func NewMemorySessionStore() *MemorySessionStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *domain.Session](),
	)
	go cache.Start()
	return &MemorySessionStore{cache: cache}
}

func (s *MemorySessionStore) Save(_ context.Context, session *domain.Session) error {
	cp := *session
	s.cache.Set(HashKey(session.ID), &cp, sessionTTL(session))
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, id string) (*domain.Session, error) {
	item := s.cache.Get(HashKey(id))
	if item == nil {
		return nil, fmt.Errorf("session: %w", domain.ErrNotFound)
	}
	cp := *item.Value()
	return &cp, nil
}

func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.cache.Delete(HashKey(id))
	return nil
}

func (s *MemorySessionStore) Len() int { return s.cache.Len() }

// Close stops the eviction goroutine.
func (s *MemorySessionStore) Close() { s.cache.Stop() }

// MemoryTokenStore keeps tokens in a ttlcache. Swap serializes read-modify-
// write cycles with an extra mutex because ttlcache itself has no
// transactions.
type MemoryTokenStore struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, *domain.Token]
}

func NewMemoryTokenStore() *MemoryTokenStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *domain.Token](),
	)
	go cache.Start()
	return &MemoryTokenStore{cache: cache}
}

func (s *MemoryTokenStore) Save(_ context.Context, token *domain.Token) error {
	cp := *token
	s.cache.Set(HashKey(token.ID), &cp, tokenTTL(token))
	return nil
}

func (s *MemoryTokenStore) Get(_ context.Context, id string) (*domain.Token, error) {
	item := s.cache.Get(HashKey(id))
	if item == nil {
		return nil, fmt.Errorf("token: %w", domain.ErrNotFound)
	}
	cp := *item.Value()
	return &cp, nil
}

func (s *MemoryTokenStore) Swap(_ context.Context, id string, fn func(*domain.Token) (*domain.Token, error)) (*domain.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(HashKey(id))
	if item == nil {
		return nil, fmt.Errorf("token: %w", domain.ErrNotFound)
	}

	current := *item.Value()
	updated, err := fn(&current)
	if err != nil {
		return nil, err
	}

	if updated.ID != id {
		s.cache.Delete(HashKey(id))
	}
	cp := *updated
	s.cache.Set(HashKey(updated.ID), &cp, tokenTTL(updated))
	return updated, nil
}

func (s *MemoryTokenStore) Delete(_ context.Context, id string) error {
	s.cache.Delete(HashKey(id))
	return nil
}

func (s *MemoryTokenStore) Len() int { return s.cache.Len() }

// Close stops the eviction goroutine.
func (s *MemoryTokenStore) Close() { s.cache.Stop() }

var (
	_ SessionStore = (*MemorySessionStore)(nil)
	_ TokenStore   = (*MemoryTokenStore)(nil)
)

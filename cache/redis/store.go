// Package redis provides Redis-backed credential stores for deployments where
// sessions and tokens must survive process restarts and be shared across
// replicas.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arcadelab/identity/cache"
	"github.com/arcadelab/identity/domain"
)

const retentionGrace = time.Hour

type sessionEntry struct {
	ID        string `redis:"id"`
	UserID    string `redis:"userId"`
	IssuedAt  int64  `redis:"issuedAt"`
	ExpiresAt int64  `redis:"expiresAt"`
}

type tokenEntry struct {
	ID        string `redis:"id"`
	UserID    string `redis:"userId"`
	IssuedAt  int64  `redis:"issuedAt"`
	ExpiresAt int64  `redis:"expiresAt"`
	NotAfter  int64  `redis:"notAfter"`
	Revoked   bool   `redis:"revoked"`
}

// SessionStore stores sessions as TTL'd Redis hashes.
type SessionStore struct {
	client *redis.Client
	prefix string
}

func NewSessionStore(client *redis.Client, prefix string) *SessionStore {
	return &SessionStore{client: client, prefix: prefix}
}

func (s *SessionStore) key(id string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, cache.HashKey(id))
}

func (s *SessionStore) Save(ctx context.Context, session *domain.Session) error {
	key := s.key(session.ID)
	entry := sessionEntry{
		ID:        session.ID,
		UserID:    session.UserID,
		IssuedAt:  session.IssuedAt.Unix(),
		ExpiresAt: session.ExpiresAt.Unix(),
	}
	if err := s.client.HSet(ctx, key, entry).Err(); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	ttl := time.Until(session.ExpiresAt) + retentionGrace
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("setting session expiry: %w", err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	cmd := s.client.HGetAll(ctx, s.key(id))
	res, err := cmd.Result()
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("session: %w", domain.ErrNotFound)
	}

	var entry sessionEntry
	if err := cmd.Scan(&entry); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &domain.Session{
		ID:        entry.ID,
		UserID:    entry.UserID,
		IssuedAt:  time.Unix(entry.IssuedAt, 0).UTC(),
		ExpiresAt: time.Unix(entry.ExpiresAt, 0).UTC(),
	}, nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}

// TokenStore stores tokens as TTL'd Redis hashes. Swap runs under WATCH so
// concurrent refresh and revoke of one token settle in some serial order.
type TokenStore struct {
	client *redis.Client
	prefix string
}

func NewTokenStore(client *redis.Client, prefix string) *TokenStore {
	return &TokenStore{client: client, prefix: prefix}
}

func (s *TokenStore) key(id string) string {
	return fmt.Sprintf("%s:token:%s", s.prefix, cache.HashKey(id))
}

func (s *TokenStore) Save(ctx context.Context, token *domain.Token) error {
	return s.save(ctx, s.client, token)
}

type hashSetter interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

func (s *TokenStore) save(ctx context.Context, c hashSetter, token *domain.Token) error {
	key := s.key(token.ID)
	entry := tokenEntry{
		ID:        token.ID,
		UserID:    token.UserID,
		IssuedAt:  token.IssuedAt.Unix(),
		ExpiresAt: token.ExpiresAt.Unix(),
		NotAfter:  token.NotAfter.Unix(),
		Revoked:   token.Revoked,
	}
	if err := c.HSet(ctx, key, entry).Err(); err != nil {
		return fmt.Errorf("storing token: %w", err)
	}
	ttl := time.Until(token.NotAfter) + retentionGrace
	if err := c.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("setting token expiry: %w", err)
	}
	return nil
}

func (s *TokenStore) Get(ctx context.Context, id string) (*domain.Token, error) {
	cmd := s.client.HGetAll(ctx, s.key(id))
	res, err := cmd.Result()
	if err != nil {
		return nil, fmt.Errorf("reading token: %w", err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("token: %w", domain.ErrNotFound)
	}

	var entry tokenEntry
	if err := cmd.Scan(&entry); err != nil {
		return nil, fmt.Errorf("decoding token: %w", err)
	}
	return tokenFromEntry(&entry), nil
}

func (s *TokenStore) Swap(ctx context.Context, id string, fn func(*domain.Token) (*domain.Token, error)) (*domain.Token, error) {
	key := s.key(id)
	var out *domain.Token

	swap := func(tx *redis.Tx) error {
		cmd := tx.HGetAll(ctx, key)
		res, err := cmd.Result()
		if err != nil {
			return fmt.Errorf("reading token: %w", err)
		}
		if len(res) == 0 {
			return fmt.Errorf("token: %w", domain.ErrNotFound)
		}

		var entry tokenEntry
		if err := cmd.Scan(&entry); err != nil {
			return fmt.Errorf("decoding token: %w", err)
		}

		updated, err := fn(tokenFromEntry(&entry))
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if updated.ID != id {
				pipe.Del(ctx, key)
			}
			return s.save(ctx, pipe, updated)
		})
		if err != nil {
			return err
		}
		out = updated
		return nil
	}

	// A concurrent writer aborts the transaction; retry against the fresh
	// record a bounded number of times.
	for attempt := 0; attempt < 3; attempt++ {
		err := s.client.Watch(ctx, swap, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("token swap kept colliding: %w", redis.TxFailedErr)
}

func (s *TokenStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}

func tokenFromEntry(entry *tokenEntry) *domain.Token {
	return &domain.Token{
		ID:        entry.ID,
		UserID:    entry.UserID,
		IssuedAt:  time.Unix(entry.IssuedAt, 0).UTC(),
		ExpiresAt: time.Unix(entry.ExpiresAt, 0).UTC(),
		NotAfter:  time.Unix(entry.NotAfter, 0).UTC(),
		Revoked:   entry.Revoked,
	}
}

var (
	_ cache.SessionStore = (*SessionStore)(nil)
	_ cache.TokenStore   = (*TokenStore)(nil)
)

// Package cache holds the credential stores backing the session and token
// manager. Stores keep full records past their expiry for a grace window so
// validation can tell an expired credential from one that never existed.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/arcadelab/identity/domain"
)

// retentionGrace is how long a record outlives its own expiry before the
// store may evict it.
const retentionGrace = time.Hour

// SessionStore persists interactive sessions keyed by session id.
type SessionStore interface {
	Save(ctx context.Context, session *domain.Session) error

	// Get returns the session or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Session, error)

	// Delete removes the session. Deleting an absent session is not an error.
	Delete(ctx context.Context, id string) error
}

// TokenStore persists long-lived tokens keyed by token id.
type TokenStore interface {
	Save(ctx context.Context, token *domain.Token) error

	// Get returns the token or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Token, error)

	// Swap atomically replaces the record for id with fn's result. fn may
	// return a token with a different id (rotation), in which case the old
	// record is removed in the same step. Concurrent Swaps on one id are
	// serialized; the loser observes the winner's record.
	Swap(ctx context.Context, id string, fn func(*domain.Token) (*domain.Token, error)) (*domain.Token, error)

	// Delete removes the token. Deleting an absent token is not an error.
	Delete(ctx context.Context, id string) error
}

// HashKey hashes a credential id into the fixed-width store key. Backends
// never see raw credential ids.
func HashKey(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}

func sessionTTL(s *domain.Session) time.Duration {
	return time.Until(s.ExpiresAt) + retentionGrace
}

func tokenTTL(t *domain.Token) time.Duration {
	return time.Until(t.NotAfter) + retentionGrace
}

// Package session issues and validates the two credential classes handed out
// after a completed login: interactive sessions and long-lived tokens. The
// two are fully independent; neither refreshes the other.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/arcadelab/identity/cache"
	"github.com/arcadelab/identity/domain"
	"github.com/arcadelab/identity/internal/metrics"
)

// Manager owns credential lifecycles. Expiry is always recomputed from the
// clock at validation time; a store never holds an "expired" flag.
type Manager struct {
	sessions   cache.SessionStore
	tokens     cache.TokenStore
	sessionTTL time.Duration
	tokenTTL   time.Duration
	now        func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the manager's time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(sessions cache.SessionStore, tokens cache.TokenStore, sessionTTL, tokenTTL time.Duration, opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions:   sessions,
		tokens:     tokens,
		sessionTTL: sessionTTL,
		tokenTTL:   tokenTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IssueSession mints a new interactive session for the user.
func (m *Manager) IssueSession(ctx context.Context, userID string) (*domain.Session, error) {
	now := m.now()
	session := &domain.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.sessionTTL),
	}
	if err := m.sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}
	metrics.ActiveSessionsGauge.Inc()
	return session, nil
}

// ValidateSession returns the session when it is live. Outcomes are typed:
// ErrNotFound for an unknown id, ErrExpired past the expiry instant.
func (m *Manager) ValidateSession(ctx context.Context, id string) (*domain.Session, error) {
	session, err := m.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !session.Active(m.now()) {
		return nil, fmt.Errorf("session: %w", domain.ErrExpired)
	}
	return session, nil
}

// EndSession terminates the session. Ending an absent session is a no-op.
func (m *Manager) EndSession(ctx context.Context, id string) error {
	if _, err := m.sessions.Get(ctx, id); err == nil {
		metrics.ActiveSessionsGauge.Dec()
	}
	return m.sessions.Delete(ctx, id)
}

// IssueToken mints a new long-lived token. NotAfter is fixed at issuance and
// is the hard ceiling no refresh moves.
func (m *Manager) IssueToken(ctx context.Context, userID string) (*domain.Token, error) {
	now := m.now()
	token := &domain.Token{
		ID:        uuid.NewString(),
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.tokenTTL),
		NotAfter:  now.Add(m.tokenTTL),
	}
	if err := m.tokens.Save(ctx, token); err != nil {
		return nil, fmt.Errorf("saving token: %w", err)
	}
	metrics.TokensIssuedTotal.Inc()
	return token, nil
}

// ValidateToken returns the token when it is live. Revocation wins over
// expiry when both hold.
func (m *Manager) ValidateToken(ctx context.Context, id string) (*domain.Token, error) {
	token, err := m.tokens.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if token.Revoked {
		return nil, fmt.Errorf("token: %w", domain.ErrRevoked)
	}
	if !token.Active(m.now()) {
		return nil, fmt.Errorf("token: %w", domain.ErrExpired)
	}
	return token, nil
}

// RefreshToken rotates the token id. The new expiry never passes NotAfter,
// so a token chain dies no later than its original ceiling. Refreshing a
// revoked or expired token fails with the matching typed error.
func (m *Manager) RefreshToken(ctx context.Context, id string) (*domain.Token, error) {
	refreshed, err := m.tokens.Swap(ctx, id, func(current *domain.Token) (*domain.Token, error) {
		now := m.now()
		if current.Revoked {
			return nil, fmt.Errorf("token: %w", domain.ErrRevoked)
		}
		if !current.Active(now) {
			return nil, fmt.Errorf("token: %w", domain.ErrExpired)
		}

		next := *current
		next.ID = uuid.NewString()
		next.ExpiresAt = now.Add(m.tokenTTL)
		if next.ExpiresAt.After(next.NotAfter) {
			next.ExpiresAt = next.NotAfter
		}
		return &next, nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TokensRefreshedTotal.Inc()
	log.Debug().Str("user_id", refreshed.UserID).Msg("token refreshed")
	return refreshed, nil
}

// RevokeToken marks the token revoked. Revoking an absent, expired or
// already-revoked token is a no-op: revocation is idempotent.
func (m *Manager) RevokeToken(ctx context.Context, id string) error {
	revoked := false
	_, err := m.tokens.Swap(ctx, id, func(current *domain.Token) (*domain.Token, error) {
		if current.Revoked {
			return current, nil
		}
		next := *current
		next.Revoked = true
		revoked = true
		return &next, nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err == nil && revoked {
		metrics.TokensRevokedTotal.Inc()
	}
	return err
}

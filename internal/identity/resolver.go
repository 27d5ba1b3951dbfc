package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/arcadelab/identity/domain"
	"github.com/arcadelab/identity/internal/metrics"
)

// createAttempts bounds the regeneration loop when generated ids or names
// keep colliding. Three draws failing in a row means the generator pool is
// effectively exhausted and the error should surface.
const createAttempts = 3

// Resolver maps a verified external claim set to the internal identity,
// creating the identity and its first link on first login. Creation is
// at-most-once per (provider, subject): concurrent first logins are serialized
// in-process by singleflight and across processes by the repository's unique
// link constraint.
type Resolver struct {
	repo  domain.IdentityRepository
	ids   IDEncoder
	names NameGenerator
	group singleflight.Group
	now   func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithClock overrides the resolver's time source.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		r.now = now
	}
}

func NewResolver(repo domain.IdentityRepository, ids IDEncoder, names NameGenerator, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		repo:  repo,
		ids:   ids,
		names: names,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the identity linked to the claim set's (provider, subject),
// creating it on first login. Claim hints only seed a brand new identity;
// an existing identity is returned unchanged no matter what the provider
// says this time.
func (r *Resolver) Resolve(ctx context.Context, claims *domain.ClaimSet) (*domain.Identity, error) {
	ident, err := r.repo.FindByLink(ctx, claims.Provider, claims.Subject)
	if err == nil {
		return ident, nil
	}
	if !errors.Is(err, domain.ErrIdentityNotFound) {
		return nil, fmt.Errorf("looking up link: %w", err)
	}

	key := claims.Provider + "/" + claims.Subject
	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.create(ctx, claims)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Identity), nil
}

// create inserts a new identity plus its first link, regenerating the id or
// name when the draw collides. A link conflict means another process won the
// race; the loser converges on the winner's identity.
func (r *Resolver) create(ctx context.Context, claims *domain.ClaimSet) (*domain.Identity, error) {
	now := r.now()

	var lastErr error
	for attempt := 0; attempt < createAttempts; attempt++ {
		ident := &domain.Identity{
			ID:            r.ids.NewID(),
			DisplayName:   r.names.Generate(),
			Email:         claims.Email,
			EmailVerified: claims.EmailVerified,
			CreatedAt:     now,
		}
		link := &domain.ExternalLink{
			UserID:   ident.ID,
			Provider: claims.Provider,
			Subject:  claims.Subject,
			Email:    claims.Email,
			Username: claims.Name,
			LinkedAt: now,
		}

		err := r.repo.CreateWithLink(ctx, ident, link)
		switch {
		case err == nil:
			metrics.IdentitiesCreatedTotal.Inc()
			log.Info().
				Str("user_id", ident.ID).
				Str("provider", claims.Provider).
				Msg("identity created on first login")
			return ident, nil

		case errors.Is(err, domain.ErrLinkConflict):
			// Lost the cross-process race. The winner's identity is the
			// identity for this subject from now on.
			winner, findErr := r.repo.FindByLink(ctx, claims.Provider, claims.Subject)
			if findErr != nil {
				return nil, fmt.Errorf("reading race winner: %w", findErr)
			}
			return winner, nil

		case errors.Is(err, domain.ErrIDConflict), errors.Is(err, domain.ErrNameConflict):
			lastErr = err
			continue

		default:
			return nil, fmt.Errorf("creating identity: %w", err)
		}
	}
	return nil, fmt.Errorf("exhausted id/name generation attempts: %w", lastErr)
}

// Link attaches an additional external login to an existing identity.
func (r *Resolver) Link(ctx context.Context, userID string, claims *domain.ClaimSet) error {
	return r.repo.AddLink(ctx, &domain.ExternalLink{
		UserID:   userID,
		Provider: claims.Provider,
		Subject:  claims.Subject,
		Email:    claims.Email,
		Username: claims.Name,
		LinkedAt: r.now(),
	})
}

// Unlink removes one external login from the identity.
func (r *Resolver) Unlink(ctx context.Context, userID, provider, subject string) error {
	return r.repo.RemoveLink(ctx, userID, provider, subject)
}

// Links lists the identity's external logins.
func (r *Resolver) Links(ctx context.Context, userID string) ([]*domain.ExternalLink, error) {
	return r.repo.ListLinks(ctx, userID)
}

// Get returns the identity by user id.
func (r *Resolver) Get(ctx context.Context, userID string) (*domain.Identity, error) {
	return r.repo.FindByID(ctx, userID)
}

// RegenerateName replaces the display name with a fresh draw. The user id
// never changes. Only an explicit request reaches here; logging in again
// does not.
func (r *Resolver) RegenerateName(ctx context.Context, userID string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < createAttempts; attempt++ {
		name := r.names.Generate()
		err := r.repo.UpdateDisplayName(ctx, userID, name)
		if err == nil {
			return name, nil
		}
		if errors.Is(err, domain.ErrNameConflict) {
			lastErr = err
			continue
		}
		return "", err
	}
	return "", fmt.Errorf("exhausted name generation attempts: %w", lastErr)
}

// Delete removes the identity and all its links. Issued credentials are the
// session manager's concern and expire on their own schedule.
func (r *Resolver) Delete(ctx context.Context, userID string) error {
	return r.repo.Delete(ctx, userID)
}

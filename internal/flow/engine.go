package flow

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/arcadelab/identity/domain"
	"github.com/arcadelab/identity/internal/metrics"
	"github.com/arcadelab/identity/internal/provider"
	"github.com/arcadelab/identity/tracing"
)

const stateBytes = 32

// IdentityResolver maps a verified external claim set to the internal user.
type IdentityResolver interface {
	Resolve(ctx context.Context, claims *domain.ClaimSet) (*domain.Identity, error)
}

// CredentialIssuer mints the credentials handed out after a completed login.
// EndSession lets the engine withdraw a session when the rest of the login
// cannot complete.
type CredentialIssuer interface {
	IssueSession(ctx context.Context, userID string) (*domain.Session, error)
	IssueToken(ctx context.Context, userID string) (*domain.Token, error)
	EndSession(ctx context.Context, id string) error
}

// Initiation is the outcome of starting a login attempt.
type Initiation struct {
	State       string
	RedirectURL string
}

// Login is the outcome of a completed callback: the resolved identity plus
// one freshly issued credential of each class.
type Login struct {
	Identity  *domain.Identity
	Session   *domain.Session
	Token     *domain.Token
	ReturnURL string
}

// Engine orchestrates the authorization-code flow across the provider
// registry, the attempt store, the identity resolver and the credential
// issuer. It owns no credential state of its own.
type Engine struct {
	registry *provider.Registry
	attempts AttemptStore
	resolver IdentityResolver
	issuer   CredentialIssuer
	gate     *tracing.Gate
	ttl      time.Duration
	now      func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(registry *provider.Registry, attempts AttemptStore, resolver IdentityResolver, issuer CredentialIssuer, ttl time.Duration, gate *tracing.Gate, opts ...EngineOption) *Engine {
	e := &Engine{
		registry: registry,
		attempts: attempts,
		resolver: resolver,
		issuer:   issuer,
		gate:     gate,
		ttl:      ttl,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Initiate starts a login attempt against the named provider and returns the
// authorization redirect. The state correlator, PKCE verifier and nonce are
// generated here and never leave the server except as protocol parameters.
func (e *Engine) Initiate(ctx context.Context, providerKey, returnURL string) (*Initiation, error) {
	desc, err := e.registry.Resolve(providerKey)
	if err != nil {
		return nil, err
	}

	state, err := randomToken(stateBytes)
	if err != nil {
		return nil, fmt.Errorf("generating state: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	var nonce string
	if desc.RequiresNonce() {
		nonce, err = randomToken(16)
		if err != nil {
			return nil, fmt.Errorf("generating nonce: %w", err)
		}
	}

	redirectURL, err := desc.AuthorizationURL(ctx, state, nonce, verifier)
	if err != nil {
		return nil, err
	}

	now := e.now()
	attempt := &Attempt{
		State:     state,
		Provider:  providerKey,
		Verifier:  verifier,
		Nonce:     nonce,
		ReturnURL: returnURL,
		Status:    StatusInitiated,
		CreatedAt: now,
		ExpiresAt: now.Add(e.ttl),
	}
	if err := e.attempts.Put(ctx, attempt); err != nil {
		return nil, fmt.Errorf("storing attempt: %w", err)
	}

	if e.gate.Enabled(tracing.LevelDebug) {
		log.Debug().Str("provider", providerKey).Msg("login attempt initiated")
	}
	return &Initiation{State: state, RedirectURL: redirectURL}, nil
}

// Callback finishes the attempt correlated by state. The attempt is consumed
// before anything else happens, so a given state settles exactly once; on any
// failure no user record and no credential exists.
func (e *Engine) Callback(ctx context.Context, state, code, providerErr string) (*Login, error) {
	if e.gate.Enabled(tracing.LevelDebug) {
		var span trace.Span
		ctx, span = tracing.Tracer.Start(ctx, "flow.Callback")
		defer span.End()
	}

	attempt, err := e.attempts.Consume(ctx, state)
	if err != nil {
		log.Warn().Err(err).Msg("callback with unusable state")
		return nil, err
	}

	if providerErr != "" {
		log.Warn().Str("provider", attempt.Provider).Str("error", providerErr).Msg("provider denied authorization")
		return nil, e.fail(attempt, fmt.Errorf("%w: %s: provider returned %q", domain.ErrProviderExchange, attempt.Provider, providerErr))
	}

	desc, err := e.registry.Resolve(attempt.Provider)
	if err != nil {
		return nil, e.fail(attempt, err)
	}

	grant, err := e.exchange(ctx, desc, code, attempt.Verifier)
	if err != nil {
		return nil, e.fail(attempt, err)
	}

	claims, err := e.fetchClaims(ctx, desc, grant, attempt.Nonce)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidIdentityToken) {
			log.Warn().Str("provider", attempt.Provider).Err(err).Msg("identity token rejected")
		}
		return nil, e.fail(attempt, err)
	}

	ident, err := e.resolver.Resolve(ctx, claims)
	if err != nil {
		return nil, e.fail(attempt, err)
	}

	session, err := e.issuer.IssueSession(ctx, ident.ID)
	if err != nil {
		return nil, e.fail(attempt, err)
	}
	token, err := e.issuer.IssueToken(ctx, ident.ID)
	if err != nil {
		// The session issued above must not outlive the failed login.
		if endErr := e.issuer.EndSession(ctx, session.ID); endErr != nil {
			log.Error().Err(endErr).Str("session_id", session.ID).Msg("failed to withdraw session after failed login")
		}
		return nil, e.fail(attempt, err)
	}

	attempt.Status = StatusCompleted
	metrics.LoginSuccessTotal.WithLabelValues(attempt.Provider).Inc()
	log.Info().
		Str("provider", attempt.Provider).
		Str("user_id", ident.ID).
		Msg("login completed")

	return &Login{
		Identity:  ident,
		Session:   session,
		Token:     token,
		ReturnURL: attempt.ReturnURL,
	}, nil
}

// fail marks the attempt's terminal status and passes the error through.
func (e *Engine) fail(attempt *Attempt, err error) error {
	attempt.Status = StatusFailed
	metrics.LoginFailureTotal.WithLabelValues(attempt.Provider).Inc()
	if e.gate.Enabled(tracing.LevelDebug) {
		log.Debug().
			Str("provider", attempt.Provider).
			Str("status", string(attempt.Status)).
			Err(err).
			Msg("login attempt failed")
	}
	return err
}

// exchange trades the code for provider tokens, retrying once on transient
// transport failure. A rejection from the provider is final.
func (e *Engine) exchange(ctx context.Context, desc provider.Descriptor, code, verifier string) (*provider.Grant, error) {
	op := func() (*provider.Grant, error) {
		grant, err := desc.Exchange(ctx, code, verifier)
		if err != nil {
			if provider.IsProviderRejection(err) || errors.Is(err, domain.ErrInvalidIdentityToken) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return grant, nil
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(2),
	)
}

// fetchClaims mirrors the exchange retry policy: transport failures get one
// more try, userinfo rejections and token validation failures do not.
func (e *Engine) fetchClaims(ctx context.Context, desc provider.Descriptor, grant *provider.Grant, nonce string) (*domain.ClaimSet, error) {
	op := func() (*domain.ClaimSet, error) {
		claims, err := desc.FetchClaims(ctx, grant, nonce)
		if err != nil {
			if provider.IsUserInfoRejection(err) || errors.Is(err, domain.ErrInvalidIdentityToken) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return claims, nil
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(2),
	)
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/arcadelab/identity/config"
	"github.com/arcadelab/identity/domain"
)

// OIDCDescriptor drives a discovery-based OpenID Connect provider. Discovery
// metadata is fetched on first use and cached; a failed discovery leaves the
// provider degraded (ErrProviderUnavailable) and is retried on the next call
// instead of crashing the process.
type OIDCDescriptor struct {
	key        string
	cfg        config.OIDCProvider
	issuer     string
	httpClient *http.Client

	group singleflight.Group

	mu       sync.RWMutex
	provider *oidc.Provider
	oauth    *oauth2.Config
}

// NewOIDCDescriptor builds the descriptor without contacting the issuer.
// Discovery problems are a runtime condition, never a constructor error.
func NewOIDCDescriptor(key string, cfg config.OIDCProvider, httpClient *http.Client) *OIDCDescriptor {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &OIDCDescriptor{
		key:        key,
		cfg:        cfg,
		issuer:     strings.TrimSuffix(cfg.DiscoveryURL, "/.well-known/openid-configuration"),
		httpClient: httpClient,
	}
}

func (d *OIDCDescriptor) Key() string         { return d.key }
func (d *OIDCDescriptor) Kind() Kind          { return KindOIDC }
func (d *OIDCDescriptor) RequiresNonce() bool { return true }

// discovered returns the cached provider metadata, resolving it on first use.
// Concurrent callers share one discovery request through singleflight.
func (d *OIDCDescriptor) discovered(ctx context.Context) (*oidc.Provider, *oauth2.Config, error) {
	d.mu.RLock()
	if d.provider != nil {
		p, o := d.provider, d.oauth
		d.mu.RUnlock()
		return p, o, nil
	}
	d.mu.RUnlock()

	_, err, _ := d.group.Do(d.key, func() (any, error) {
		ctx := oidc.ClientContext(ctx, d.httpClient)
		p, err := oidc.NewProvider(ctx, d.issuer)
		if err != nil {
			return nil, err
		}

		endpoint := p.Endpoint()
		// Auto-detection falls back to the alternate client-auth style on a
		// 400, which re-sends a rejected exchange.
		endpoint.AuthStyle = oauth2.AuthStyleInHeader

		d.mu.Lock()
		d.provider = p
		d.oauth = &oauth2.Config{
			ClientID:     d.cfg.ClientID,
			ClientSecret: d.cfg.ClientSecret,
			RedirectURL:  d.cfg.RedirectURL,
			Scopes:       d.cfg.Scopes,
			Endpoint:     endpoint,
		}
		d.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		log.Warn().Err(err).Str("provider", d.key).Msg("OIDC discovery failed, provider degraded")
		return nil, nil, fmt.Errorf("%w: %s: %v", domain.ErrProviderUnavailable, d.key, err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.provider, d.oauth, nil
}

func (d *OIDCDescriptor) AuthorizationURL(ctx context.Context, state, nonce, verifier string) (string, error) {
	_, conf, err := d.discovered(ctx)
	if err != nil {
		return "", err
	}
	return conf.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oidc.Nonce(nonce),
	), nil
}

func (d *OIDCDescriptor) Exchange(ctx context.Context, code, verifier string) (*Grant, error) {
	_, conf, err := d.discovered(ctx)
	if err != nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, d.httpClient)
	token, err := conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, classifyExchangeError(d.key, err)
	}

	raw, _ := token.Extra("id_token").(string)
	if raw == "" {
		return nil, fmt.Errorf("%w: %s: no id_token in token response", domain.ErrInvalidIdentityToken, d.key)
	}
	return &Grant{Token: token, RawIDToken: raw}, nil
}

func (d *OIDCDescriptor) FetchClaims(ctx context.Context, grant *Grant, nonce string) (*domain.ClaimSet, error) {
	p, conf, err := d.discovered(ctx)
	if err != nil {
		return nil, err
	}

	ctx = oidc.ClientContext(ctx, d.httpClient)
	verifier := p.Verifier(&oidc.Config{ClientID: conf.ClientID})
	idToken, err := verifier.Verify(ctx, grant.RawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidIdentityToken, d.key, err)
	}
	if idToken.Nonce != nonce {
		return nil, fmt.Errorf("%w: %s: nonce mismatch", domain.ErrInvalidIdentityToken, d.key)
	}

	var claims struct {
		Sub               string `json:"sub"`
		Email             string `json:"email"`
		EmailVerified     bool   `json:"email_verified"`
		Name              string `json:"name"`
		Nickname          string `json:"nickname"`
		PreferredUsername string `json:"preferred_username"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidIdentityToken, d.key, err)
	}

	var raw map[string]any
	_ = idToken.Claims(&raw)

	name := claims.Nickname
	if name == "" {
		name = claims.PreferredUsername
	}
	if name == "" {
		name = claims.Name
	}

	return &domain.ClaimSet{
		Provider:      d.key,
		Subject:       idToken.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          name,
		Raw:           raw,
	}, nil
}

var _ Descriptor = (*OIDCDescriptor)(nil)

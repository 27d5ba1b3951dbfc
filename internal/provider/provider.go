// Package provider holds the descriptor registry for the configured external
// identity providers. The two protocol variants (discovery-based OIDC and
// hand-configured OAuth2) are consumed by the flow engine through the single
// Descriptor interface, so the engine never branches on the variant.
package provider

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/arcadelab/identity/domain"
)

// Kind tags the protocol variant of a descriptor.
type Kind string

const (
	KindOIDC   Kind = "oidc"
	KindOAuth2 Kind = "oauth2"
)

// Grant carries the provider tokens obtained from a completed code exchange.
type Grant struct {
	Token      *oauth2.Token
	RawIDToken string // only set for OIDC providers
}

// Descriptor is the capability interface one configured provider exposes to
// the flow engine. Implementations are immutable after construction except
// for the OIDC discovery cache, which resolves lazily and is refreshed on
// failure.
type Descriptor interface {
	// Key returns the unique provider key ("google", "github", ...).
	Key() string

	// Kind returns the protocol variant.
	Kind() Kind

	// RequiresNonce reports whether the flow must generate and verify a nonce.
	RequiresNonce() bool

	// AuthorizationURL builds the provider authorization endpoint URL with the
	// configured scopes, the state correlator and a PKCE S256 challenge derived
	// from verifier. nonce is ignored by providers that do not require one.
	AuthorizationURL(ctx context.Context, state, nonce, verifier string) (string, error)

	// Exchange trades the authorization code for provider tokens, proving the
	// PKCE verifier. Network and provider rejections come back as errors
	// wrapping domain.ErrProviderExchange.
	Exchange(ctx context.Context, code, verifier string) (*Grant, error)

	// FetchClaims produces the normalized claim set for the grant. For OIDC
	// this validates the identity token (signature, issuer, audience, expiry,
	// nonce); for OAuth2 it fetches the userinfo endpoint and applies the
	// configured remapping and extensions in order.
	FetchClaims(ctx context.Context, grant *Grant, nonce string) (*domain.ClaimSet, error)
}

package provider_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcadelab/identity/config"
	"github.com/arcadelab/identity/domain"
	"github.com/arcadelab/identity/internal/provider"
)

// fakeIssuer is a minimal OpenID Connect provider for tests: discovery
// document, JWKS and a token endpoint returning RS256-signed ID tokens.
type fakeIssuer struct {
	srv *httptest.Server
	key *rsa.PrivateKey

	mu         sync.Mutex
	nonce      string
	tokenCalls int
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &fakeIssuer{key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                f.srv.URL,
			"authorization_endpoint":                f.srv.URL + "/auth",
			"token_endpoint":                        f.srv.URL + "/token",
			"jwks_uri":                              f.srv.URL + "/keys",
			"userinfo_endpoint":                     f.srv.URL + "/userinfo",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]any{{
				"kty": "RSA",
				"alg": "RS256",
				"use": "sig",
				"kid": "test-key",
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
			}},
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.tokenCalls++
		f.mu.Unlock()

		require.NoError(t, r.ParseForm())
		if r.FormValue("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		assert.NotEmpty(t, r.FormValue("code_verifier"))

		f.mu.Lock()
		nonce := f.nonce
		f.mu.Unlock()

		idToken := f.signToken(t, jwt.MapClaims{
			"iss":            f.srv.URL,
			"aud":            "cid",
			"sub":            "google-sub-1",
			"iat":            time.Now().Unix(),
			"exp":            time.Now().Add(time.Hour).Unix(),
			"nonce":          nonce,
			"email":          "user@example.com",
			"email_verified": true,
			"name":           "Example User",
			"nickname":       "exuser",
		})

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-oidc",
			"token_type":   "bearer",
			"expires_in":   3600,
			"id_token":     idToken,
		})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeIssuer) signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = "test-key"
	signed, err := tok.SignedString(f.key)
	require.NoError(t, err)
	return signed
}

func (f *fakeIssuer) expectNonce(nonce string) {
	f.mu.Lock()
	f.nonce = nonce
	f.mu.Unlock()
}

func (f *fakeIssuer) descriptor(key string) *provider.OIDCDescriptor {
	return provider.NewOIDCDescriptor(key, config.OIDCProvider{
		DiscoveryURL: f.srv.URL + "/.well-known/openid-configuration",
		ClientID:     "cid",
		ClientSecret: "secret",
		Scopes:       []string{"openid", "email", "profile"},
		RedirectURL:  "https://auth.example.com/auth/google/callback",
	}, f.srv.Client())
}

func TestOIDCAuthorizationURLCarriesNonce(t *testing.T) {
	f := newFakeIssuer(t)
	d := f.descriptor("google")

	u, err := d.AuthorizationURL(context.Background(), "state-1", "nonce-1", "verifier-verifier-verifier-verifier-1234")
	require.NoError(t, err)
	assert.Contains(t, u, f.srv.URL+"/auth")
	assert.Contains(t, u, "state=state-1")
	assert.Contains(t, u, "nonce=nonce-1")
	assert.Contains(t, u, "code_challenge_method=S256")
}

func TestOIDCExchangeAndVerify(t *testing.T) {
	f := newFakeIssuer(t)
	f.expectNonce("nonce-1")
	d := f.descriptor("google")
	ctx := context.Background()

	grant, err := d.Exchange(ctx, "good-code", "verifier-verifier-verifier-verifier-1234")
	require.NoError(t, err)
	require.NotEmpty(t, grant.RawIDToken)

	claims, err := d.FetchClaims(ctx, grant, "nonce-1")
	require.NoError(t, err)
	assert.Equal(t, "google", claims.Provider)
	assert.Equal(t, "google-sub-1", claims.Subject)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.True(t, claims.EmailVerified)
	// Nickname wins over the display name as the username hint.
	assert.Equal(t, "exuser", claims.Name)
}

func TestOIDCNonceMismatchRejected(t *testing.T) {
	f := newFakeIssuer(t)
	f.expectNonce("nonce-issued")
	d := f.descriptor("google")
	ctx := context.Background()

	grant, err := d.Exchange(ctx, "good-code", "verifier-verifier-verifier-verifier-1234")
	require.NoError(t, err)

	_, err = d.FetchClaims(ctx, grant, "nonce-expected")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidIdentityToken)
}

func TestOIDCExchangeRejection(t *testing.T) {
	f := newFakeIssuer(t)
	d := f.descriptor("google")

	_, err := d.Exchange(context.Background(), "bad-code", "verifier-verifier-verifier-verifier-1234")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProviderExchange)
	assert.True(t, provider.IsProviderRejection(err))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 1, f.tokenCalls)
}

func TestOIDCDiscoveryFailureIsDegradedNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := provider.NewOIDCDescriptor("google", config.OIDCProvider{
		DiscoveryURL: srv.URL + "/.well-known/openid-configuration",
		ClientID:     "cid",
		RedirectURL:  "https://auth.example.com/cb",
	}, srv.Client())

	_, err := d.AuthorizationURL(context.Background(), "s", "n", "verifier-verifier-verifier-verifier-1234")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)

	// The failure is not latched: the next call probes discovery again.
	_, err = d.AuthorizationURL(context.Background(), "s", "n", "verifier-verifier-verifier-verifier-1234")
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestOIDCMissingIDTokenRejected(t *testing.T) {
	mux := http.NewServeMux()
	var issuerURL string
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"issuer":%q,"authorization_endpoint":%q,"token_endpoint":%q,"jwks_uri":%q,"id_token_signing_alg_values_supported":["RS256"]}`,
			issuerURL, issuerURL+"/auth", issuerURL+"/token", issuerURL+"/keys")
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","token_type":"bearer"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	issuerURL = srv.URL

	d := provider.NewOIDCDescriptor("google", config.OIDCProvider{
		DiscoveryURL: srv.URL + "/.well-known/openid-configuration",
		ClientID:     "cid",
		RedirectURL:  "https://auth.example.com/cb",
	}, srv.Client())

	_, err := d.Exchange(context.Background(), "code", "verifier-verifier-verifier-verifier-1234")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidIdentityToken)
}

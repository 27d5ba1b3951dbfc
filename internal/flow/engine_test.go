package flow_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcadelab/identity/config"
	"github.com/arcadelab/identity/domain"
	"github.com/arcadelab/identity/internal/flow"
	"github.com/arcadelab/identity/internal/provider"
	"github.com/arcadelab/identity/tracing"
)

type stubResolver struct {
	identity *domain.Identity
	err      error
	claims   *domain.ClaimSet
}

func (r *stubResolver) Resolve(_ context.Context, claims *domain.ClaimSet) (*domain.Identity, error) {
	r.claims = claims
	if r.err != nil {
		return nil, r.err
	}
	return r.identity, nil
}

type stubIssuer struct {
	sessions int
	tokens   int
	ended    []string
	tokenErr error
}

func (i *stubIssuer) IssueSession(_ context.Context, userID string) (*domain.Session, error) {
	i.sessions++
	return &domain.Session{ID: "sess-1", UserID: userID}, nil
}

func (i *stubIssuer) IssueToken(_ context.Context, userID string) (*domain.Token, error) {
	if i.tokenErr != nil {
		return nil, i.tokenErr
	}
	i.tokens++
	return &domain.Token{ID: "tok-1", UserID: userID}, nil
}

func (i *stubIssuer) EndSession(_ context.Context, id string) error {
	i.ended = append(i.ended, id)
	return nil
}

// providerFixture is a scripted OAuth2 provider. failFirst drops the first
// token-endpoint connection to simulate a transient network failure; reject
// makes the token endpoint answer 400.
type providerFixture struct {
	srv        *httptest.Server
	tokenCalls atomic.Int32
	failFirst  bool
	reject     bool
}

func newProviderFixture(t *testing.T) *providerFixture {
	t.Helper()
	f := &providerFixture{}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		n := f.tokenCalls.Add(1)
		if f.failFirst && n == 1 {
			panic(http.ErrAbortHandler)
		}
		if f.reject {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		require.NoError(t, r.ParseForm())
		assert.NotEmpty(t, r.FormValue("code_verifier"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"bearer"}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":42,"login":"octocat"}`))
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *providerFixture) registry(t *testing.T) *provider.Registry {
	t.Helper()
	reg, err := provider.NewRegistry(&config.Config{
		OAuth2: map[string]config.OAuth2Provider{
			"github": {
				AuthorizationURL: f.srv.URL + "/authorize",
				TokenURL:         f.srv.URL + "/token",
				UserInfoURL:      f.srv.URL + "/user",
				UserInfoMapping:  map[string]string{"name": "login"},
				ClientID:         "cid",
				ClientSecret:     "secret",
				RedirectURL:      "https://auth.example.com/auth/github/callback",
			},
		},
	}, provider.WithHTTPClient(f.srv.Client()))
	require.NoError(t, err)
	return reg
}

func newEngine(t *testing.T, f *providerFixture, resolver *stubResolver, issuer *stubIssuer) (*flow.Engine, *flow.InMemoryAttemptStore) {
	t.Helper()
	store := flow.NewInMemoryAttemptStore()
	gate := tracing.NewGate(tracing.LevelInfo)
	return flow.NewEngine(f.registry(t), store, resolver, issuer, 10*time.Minute, gate), store
}

func TestInitiateBuildsRedirectAndStoresAttempt(t *testing.T) {
	f := newProviderFixture(t)
	eng, store := newEngine(t, f, &stubResolver{}, &stubIssuer{})

	init, err := eng.Initiate(context.Background(), "github", "/app/home")
	require.NoError(t, err)
	assert.NotEmpty(t, init.State)
	assert.Contains(t, init.RedirectURL, f.srv.URL+"/authorize")
	assert.Contains(t, init.RedirectURL, "state="+init.State)
	assert.Contains(t, init.RedirectURL, "code_challenge_method=S256")
	assert.Equal(t, 1, store.Len())
}

func TestInitiateUnknownProvider(t *testing.T) {
	f := newProviderFixture(t)
	eng, _ := newEngine(t, f, &stubResolver{}, &stubIssuer{})

	_, err := eng.Initiate(context.Background(), "gitlab", "")
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestCallbackHappyPath(t *testing.T) {
	f := newProviderFixture(t)
	resolver := &stubResolver{identity: &domain.Identity{ID: "user-1", DisplayName: "swift-fox-17"}}
	issuer := &stubIssuer{}
	eng, _ := newEngine(t, f, resolver, issuer)
	ctx := context.Background()

	init, err := eng.Initiate(ctx, "github", "/app/home")
	require.NoError(t, err)

	login, err := eng.Callback(ctx, init.State, "auth-code", "")
	require.NoError(t, err)
	assert.Equal(t, "user-1", login.Identity.ID)
	assert.Equal(t, "user-1", login.Session.UserID)
	assert.Equal(t, "user-1", login.Token.UserID)
	assert.Equal(t, "/app/home", login.ReturnURL)
	assert.Equal(t, 1, issuer.sessions)
	assert.Equal(t, 1, issuer.tokens)

	require.NotNil(t, resolver.claims)
	assert.Equal(t, "github", resolver.claims.Provider)
	assert.Equal(t, "42", resolver.claims.Subject)
}

func TestCallbackWithdrawsSessionWhenTokenIssueFails(t *testing.T) {
	f := newProviderFixture(t)
	resolver := &stubResolver{identity: &domain.Identity{ID: "user-1", DisplayName: "swift-fox-17"}}
	issuer := &stubIssuer{tokenErr: errors.New("token store down")}
	eng, _ := newEngine(t, f, resolver, issuer)
	ctx := context.Background()

	init, err := eng.Initiate(ctx, "github", "/app/home")
	require.NoError(t, err)

	_, err = eng.Callback(ctx, init.State, "auth-code", "")
	require.Error(t, err)
	assert.Equal(t, 1, issuer.sessions)
	assert.Equal(t, []string{"sess-1"}, issuer.ended)
}

func TestCallbackStateIsSingleUse(t *testing.T) {
	f := newProviderFixture(t)
	resolver := &stubResolver{identity: &domain.Identity{ID: "user-1"}}
	eng, _ := newEngine(t, f, resolver, &stubIssuer{})
	ctx := context.Background()

	init, err := eng.Initiate(ctx, "github", "")
	require.NoError(t, err)

	_, err = eng.Callback(ctx, init.State, "auth-code", "")
	require.NoError(t, err)

	// Replayed callback loses even though the first one succeeded.
	_, err = eng.Callback(ctx, init.State, "auth-code", "")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCallbackForgedState(t *testing.T) {
	f := newProviderFixture(t)
	eng, _ := newEngine(t, f, &stubResolver{}, &stubIssuer{})

	_, err := eng.Callback(context.Background(), "forged", "auth-code", "")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, int32(0), f.tokenCalls.Load())
}

func TestCallbackExpiredAttempt(t *testing.T) {
	f := newProviderFixture(t)
	resolver := &stubResolver{identity: &domain.Identity{ID: "user-1"}}
	issuer := &stubIssuer{}

	past := time.Now().Add(-time.Hour)
	store := flow.NewInMemoryAttemptStore()
	eng := flow.NewEngine(f.registry(t), store, resolver, issuer, 10*time.Minute,
		tracing.NewGate(tracing.LevelInfo),
		flow.WithClock(func() time.Time { return past }))
	ctx := context.Background()

	init, err := eng.Initiate(ctx, "github", "")
	require.NoError(t, err)

	// The window closed while the user sat on the consent screen. This is a
	// state failure, not an exchange failure, and nothing reaches the provider.
	_, err = eng.Callback(ctx, init.State, "auth-code", "")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.NotErrorIs(t, err, domain.ErrProviderExchange)
	assert.Equal(t, int32(0), f.tokenCalls.Load())
	assert.Equal(t, 0, issuer.sessions)
}

func TestCallbackProviderErrorParam(t *testing.T) {
	f := newProviderFixture(t)
	issuer := &stubIssuer{}
	eng, _ := newEngine(t, f, &stubResolver{}, issuer)
	ctx := context.Background()

	init, err := eng.Initiate(ctx, "github", "")
	require.NoError(t, err)

	_, err = eng.Callback(ctx, init.State, "", "access_denied")
	assert.ErrorIs(t, err, domain.ErrProviderExchange)
	assert.Equal(t, int32(0), f.tokenCalls.Load())
	assert.Equal(t, 0, issuer.sessions)
}

func TestCallbackRetriesTransientExchangeFailureOnce(t *testing.T) {
	f := newProviderFixture(t)
	f.failFirst = true
	resolver := &stubResolver{identity: &domain.Identity{ID: "user-1"}}
	eng, _ := newEngine(t, f, resolver, &stubIssuer{})
	ctx := context.Background()

	init, err := eng.Initiate(ctx, "github", "")
	require.NoError(t, err)

	login, err := eng.Callback(ctx, init.State, "auth-code", "")
	require.NoError(t, err)
	assert.Equal(t, "user-1", login.Identity.ID)
	assert.Equal(t, int32(2), f.tokenCalls.Load())
}

func TestCallbackDoesNotRetryProviderRejection(t *testing.T) {
	f := newProviderFixture(t)
	f.reject = true
	issuer := &stubIssuer{}
	eng, _ := newEngine(t, f, &stubResolver{}, issuer)
	ctx := context.Background()

	init, err := eng.Initiate(ctx, "github", "")
	require.NoError(t, err)

	_, err = eng.Callback(ctx, init.State, "bad-code", "")
	assert.ErrorIs(t, err, domain.ErrProviderExchange)
	assert.Equal(t, int32(1), f.tokenCalls.Load())
	assert.Equal(t, 0, issuer.sessions)
}

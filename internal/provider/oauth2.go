package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/arcadelab/identity/config"
	"github.com/arcadelab/identity/domain"
)

// OAuth2Descriptor drives a bare OAuth2 provider with explicitly configured
// endpoints. There is no discovery step, so a missing endpoint can never
// self-heal; the constructor rejects it and startup fails.
type OAuth2Descriptor struct {
	key        string
	conf       *oauth2.Config
	userInfo   string
	mapping    map[string]string
	extensions []Extension
	httpClient *http.Client
}

// NewOAuth2Descriptor validates the endpoint configuration and resolves the
// named extensions into the ordered pipeline applied after userinfo fetch.
func NewOAuth2Descriptor(key string, cfg config.OAuth2Provider, httpClient *http.Client) (*OAuth2Descriptor, error) {
	if cfg.AuthorizationURL == "" || cfg.TokenURL == "" || cfg.UserInfoURL == "" {
		return nil, fmt.Errorf("oauth2 provider %q: missing required endpoint", key)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	extensions := make([]Extension, 0, len(cfg.Extensions))
	for _, name := range cfg.Extensions {
		ext, err := newExtension(name)
		if err != nil {
			return nil, fmt.Errorf("oauth2 provider %q: %w", key, err)
		}
		extensions = append(extensions, ext)
	}

	return &OAuth2Descriptor{
		key: key,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthorizationURL,
				TokenURL: cfg.TokenURL,
				// Auto-detection falls back to the alternate client-auth
				// style on a 400, which re-sends a rejected exchange.
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		userInfo:   cfg.UserInfoURL,
		mapping:    cfg.UserInfoMapping,
		extensions: extensions,
		httpClient: httpClient,
	}, nil
}

func (d *OAuth2Descriptor) Key() string         { return d.key }
func (d *OAuth2Descriptor) Kind() Kind          { return KindOAuth2 }
func (d *OAuth2Descriptor) RequiresNonce() bool { return false }

func (d *OAuth2Descriptor) AuthorizationURL(_ context.Context, state, _ string, verifier string) (string, error) {
	return d.conf.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), nil
}

func (d *OAuth2Descriptor) Exchange(ctx context.Context, code, verifier string) (*Grant, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, d.httpClient)
	token, err := d.conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, classifyExchangeError(d.key, err)
	}
	return &Grant{Token: token}, nil
}

// FetchClaims fetches the userinfo document, applies the claim remapping
// table and then runs the extension pipeline in configured order, stopping at
// the first extension failure.
func (d *OAuth2Descriptor) FetchClaims(ctx context.Context, grant *Grant, _ string) (*domain.ClaimSet, error) {
	client := d.authenticatedClient(ctx, grant.Token)

	raw, err := d.fetchUserInfo(ctx, client)
	if err != nil {
		return nil, err
	}

	for internal, external := range d.mapping {
		if v, ok := raw[external]; ok {
			raw[internal] = v
		}
	}

	claims := &domain.ClaimSet{
		Provider:      d.key,
		Subject:       stringClaim(raw, "id", "sub"),
		Email:         stringClaim(raw, "email"),
		EmailVerified: boolClaim(raw, "email_verified"),
		Name:          stringClaim(raw, "name", "login", "username"),
		Raw:           raw,
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: %s: userinfo carries no subject id", domain.ErrProviderExchange, d.key)
	}

	for _, ext := range d.extensions {
		if err := ext.Apply(ctx, client, claims); err != nil {
			return nil, fmt.Errorf("%w: %s: extension %s: %w", domain.ErrProviderExchange, d.key, ext.Name(), err)
		}
	}

	return claims, nil
}

func (d *OAuth2Descriptor) authenticatedClient(ctx context.Context, token *oauth2.Token) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, d.httpClient)
	return d.conf.Client(ctx, token)
}

func (d *OAuth2Descriptor) fetchUserInfo(ctx context.Context, client *http.Client) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.userInfo, nil)
	if err != nil {
		return nil, classifyExchangeError(d.key, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyExchangeError(d.key, err)
	}
	defer resp.Body.Close()

	if !successStatus(resp.StatusCode) {
		return nil, newUserInfoStatusError(d.key, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyExchangeError(d.key, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, classifyExchangeError(d.key, err)
	}
	return raw, nil
}

// stringClaim returns the first present claim under the given keys, rendering
// JSON numbers as their decimal form (GitHub subject ids are numeric).
func stringClaim(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

func boolClaim(raw map[string]any, key string) bool {
	v, _ := raw[key].(bool)
	return v
}

var _ Descriptor = (*OAuth2Descriptor)(nil)

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/arcadelab/identity/domain"
)

// Extension is one step of the post-processing pipeline an OAuth2 descriptor
// runs after the userinfo fetch. Steps transform the claim set in place and
// run in configured order; the first failure aborts the pipeline.
type Extension interface {
	Name() string
	Apply(ctx context.Context, client *http.Client, claims *domain.ClaimSet) error
}

// GithubEmailEndpoint is the endpoint the githubEmail extension queries.
// Overridable for tests.
var GithubEmailEndpoint = "https://api.github.com/user/emails"

func newExtension(name string) (Extension, error) {
	switch name {
	case "githubEmail":
		return &githubEmailExtension{endpoint: GithubEmailEndpoint}, nil
	default:
		return nil, fmt.Errorf("unknown extension %q", name)
	}
}

// githubEmailExtension fetches the user's verified primary email separately.
// GitHub's userinfo document often carries no email (private by default), so
// the emails endpoint is the authoritative source.
type githubEmailExtension struct {
	endpoint string
}

func (e *githubEmailExtension) Name() string { return "githubEmail" }

func (e *githubEmailExtension) Apply(ctx context.Context, client *http.Client, claims *domain.ClaimSet) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !successStatus(resp.StatusCode) {
		return fmt.Errorf("emails endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.Unmarshal(body, &emails); err != nil {
		return err
	}

	for _, e := range emails {
		if e.Primary && e.Verified {
			claims.Email = e.Email
			claims.EmailVerified = true
			return nil
		}
	}
	for _, e := range emails {
		if e.Verified {
			claims.Email = e.Email
			claims.EmailVerified = true
			return nil
		}
	}
	return nil
}

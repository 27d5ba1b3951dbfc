package provider

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/arcadelab/identity/config"
	"github.com/arcadelab/identity/domain"
)

// Registry resolves provider keys to their descriptors. It is built once at
// startup and immutable afterwards; descriptors own any mutable state (the
// OIDC discovery cache).
type Registry struct {
	descriptors map[string]Descriptor
}

// RegistryOption configures a Registry.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	httpClient *http.Client
}

// WithHTTPClient sets the HTTP client used for all provider traffic.
func WithHTTPClient(client *http.Client) RegistryOption {
	return func(o *registryOptions) {
		o.httpClient = client
	}
}

// NewRegistry builds descriptors for every configured provider. Malformed
// OAuth2 descriptors and duplicate provider keys are startup-fatal; OIDC
// discovery is deferred, so unreachable issuers do not block startup.
func NewRegistry(cfg *config.Config, opts ...RegistryOption) (*Registry, error) {
	var o registryOptions
	for _, opt := range opts {
		opt(&o)
	}

	descriptors := make(map[string]Descriptor, len(cfg.OpenID)+len(cfg.OAuth2))

	for key, pc := range cfg.OpenID {
		log.Info().Str("provider", key).Msg("registering OpenID Connect provider")
		descriptors[key] = NewOIDCDescriptor(key, pc, o.httpClient)
	}

	for key, pc := range cfg.OAuth2 {
		if _, dup := descriptors[key]; dup {
			return nil, fmt.Errorf("provider %q already registered", key)
		}
		log.Info().Str("provider", key).Msg("registering OAuth2 provider")
		d, err := NewOAuth2Descriptor(key, pc, o.httpClient)
		if err != nil {
			return nil, err
		}
		descriptors[key] = d
	}

	return &Registry{descriptors: descriptors}, nil
}

// Resolve returns the descriptor for the given provider key.
func (r *Registry) Resolve(key string) (Descriptor, error) {
	d, ok := r.descriptors[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderNotFound, key)
	}
	return d, nil
}

// Keys returns the configured provider keys in stable order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.descriptors))
	for key := range r.descriptors {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

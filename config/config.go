package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// OIDCProvider configures a discovery-based OpenID Connect provider. All
// endpoints are resolved lazily from the issuer's discovery document.
type OIDCProvider struct {
	DiscoveryURL string   `mapstructure:"discoveryUrl"`
	ClientID     string   `mapstructure:"clientId"`
	ClientSecret string   `mapstructure:"clientSecret"`
	Scopes       []string `mapstructure:"scopes"`
	RedirectURL  string   `mapstructure:"redirectUrl"`
}

// OAuth2Provider configures a bare OAuth2 provider with hand-configured
// endpoints, a claim remapping table and an ordered list of post-processing
// extensions (e.g. "githubEmail").
type OAuth2Provider struct {
	AuthorizationURL string            `mapstructure:"authorizationUrl"`
	TokenURL         string            `mapstructure:"tokenUrl"`
	UserInfoURL      string            `mapstructure:"userInfoUrl"`
	UserInfoMapping  map[string]string `mapstructure:"userInfoMapping"`
	Extensions       []string          `mapstructure:"extensions"`
	ClientID         string            `mapstructure:"clientId"`
	ClientSecret     string            `mapstructure:"clientSecret"`
	Scopes           []string          `mapstructure:"scopes"`
	RedirectURL      string            `mapstructure:"redirectUrl"`
}

// Config holds the full broker configuration. Provider maps are keyed by the
// provider key ("google", "github", ...); a key present in both maps is a
// startup error.
type Config struct {
	HTTPPort string `mapstructure:"httpPort"`

	LogLevel  string `mapstructure:"logLevel"`
	LogPretty bool   `mapstructure:"logPretty"`

	OtelServiceName string `mapstructure:"otelServiceName"`
	TelemetryLevel  string `mapstructure:"telemetryLevel"`

	MongoURI    string `mapstructure:"mongoUri"`
	MongoDBName string `mapstructure:"mongoDbName"`

	RedisAddr     string `mapstructure:"redisAddr"`
	RedisPassword string `mapstructure:"redisPassword"`

	// SessionMaxDuration and TokenMaxDuration are in seconds, matching the
	// deployment surface. Defaults: 12h sessions, 14d tokens.
	SessionMaxDuration int `mapstructure:"sessionMaxDuration"`
	TokenMaxDuration   int `mapstructure:"tokenMaxDuration"`

	// FlowTTL bounds how long an in-progress login attempt stays consumable.
	FlowTTLMinutes int `mapstructure:"flowTtlMinutes"`

	// IDEncoder selects the user id strategy: "uuid" or "sequence".
	IDEncoder string `mapstructure:"idEncoder"`
	// NameGenerator selects the display name policy: "pool" or "base".
	NameGenerator string `mapstructure:"nameGenerator"`
	// NameBase seeds the "base" generator ("player" -> player-8f2k1).
	NameBase string `mapstructure:"nameBase"`

	OpenID map[string]OIDCProvider   `mapstructure:"openid"`
	OAuth2 map[string]OAuth2Provider `mapstructure:"oauth2"`
}

// SessionDuration returns the configured session lifetime.
func (c *Config) SessionDuration() time.Duration {
	return time.Duration(c.SessionMaxDuration) * time.Second
}

// TokenDuration returns the configured token lifetime ceiling.
func (c *Config) TokenDuration() time.Duration {
	return time.Duration(c.TokenMaxDuration) * time.Second
}

// FlowTTL returns the login attempt time-to-live.
func (c *Config) FlowTTL() time.Duration {
	return time.Duration(c.FlowTTLMinutes) * time.Minute
}

// Validate performs the startup-fatal checks: malformed OAuth2 descriptors
// and provider keys registered under both protocol variants. OIDC discovery
// problems are deliberately not checked here; they degrade at runtime.
func (c *Config) Validate() error {
	for key := range c.OpenID {
		if _, dup := c.OAuth2[key]; dup {
			return fmt.Errorf("provider %q registered as both openid and oauth2", key)
		}
		p := c.OpenID[key]
		if p.DiscoveryURL == "" {
			return fmt.Errorf("openid provider %q: discoveryUrl is required", key)
		}
		if p.ClientID == "" || p.RedirectURL == "" {
			return fmt.Errorf("openid provider %q: clientId and redirectUrl are required", key)
		}
	}
	for key, p := range c.OAuth2 {
		if p.AuthorizationURL == "" || p.TokenURL == "" || p.UserInfoURL == "" {
			return fmt.Errorf("oauth2 provider %q: authorizationUrl, tokenUrl and userInfoUrl are required", key)
		}
		if p.ClientID == "" || p.RedirectURL == "" {
			return fmt.Errorf("oauth2 provider %q: clientId and redirectUrl are required", key)
		}
	}
	return nil
}

// Load reads configuration from an optional YAML file and the environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/identity-broker/")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("httpPort", "8080")
	v.SetDefault("logLevel", "info")
	v.SetDefault("logPretty", false)
	v.SetDefault("otelServiceName", "identity-broker")
	v.SetDefault("telemetryLevel", "info")
	v.SetDefault("mongoUri", "mongodb://localhost:27017")
	v.SetDefault("mongoDbName", "identity_broker")
	v.SetDefault("sessionMaxDuration", 43200)   // 12h
	v.SetDefault("tokenMaxDuration", 1209600)   // 14d
	v.SetDefault("flowTtlMinutes", 10)
	v.SetDefault("idEncoder", "uuid")
	v.SetDefault("nameGenerator", "pool")
	v.SetDefault("nameBase", "user")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

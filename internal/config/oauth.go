package config // package config loads OAuth provider credentials

import (
	"fmt" // error wrapping and callback URL

	"github.com/caarlos0/env/v11" // struct-tag based env parsing
)

// OAuthConfig holds the federation client credentials.  A provider whose
// client id is empty is disabled and its routes answer 404.
type OAuthConfig struct {
	GoogleClientID       string `env:"OAUTH_GOOGLE_CLIENT_ID"`
	GoogleClientSecret   string `env:"OAUTH_GOOGLE_CLIENT_SECRET"`
	FacebookClientID     string `env:"OAUTH_FACEBOOK_APP_ID"`
	FacebookClientSecret string `env:"OAUTH_FACEBOOK_APP_SECRET"`
	// CallbackBaseURL prefixes /v1/auth/{provider}/callback.  Defaults to
	// https://HOST:APP_PORT when empty.
	CallbackBaseURL string `env:"OAUTH_CALLBACK_BASE_URL"`
}

// LoadOAuthConfig reads the provider credentials and fills in the callback
// base from the app config.
func LoadOAuthConfig(app Config) (OAuthConfig, error) {
	cfg, err := env.ParseAs[OAuthConfig]()
	if err != nil {
		return OAuthConfig{}, fmt.Errorf("parse oauth env: %w", err)
	}
	if cfg.CallbackBaseURL == "" {
		cfg.CallbackBaseURL = fmt.Sprintf("https://%s:%s", app.Host, app.Port)
	}
	return cfg, nil
}

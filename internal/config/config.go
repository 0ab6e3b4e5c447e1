package config // package config loads application configuration from environment variables

import (
	"encoding/base64" // secrets and PEM keys arrive base64-encoded
	"fmt"             // error wrapping
	"time"            // token lifetimes

	"github.com/caarlos0/env/v11" // struct-tag based env parsing
	"github.com/joho/godotenv"    // optional .env file for local development
)

// Config holds the runtime configuration shared by the HTTP server and the
// token/session services.  Each field corresponds to an environment variable;
// the nested structs group related keys.
type Config struct {
	Env         string `env:"APP_ENV" envDefault:"development"`               // development | test | production
	AppName     string `env:"APP_NAME" envDefault:"Auth Service"`             // used in email subjects
	Host        string `env:"HOST" envDefault:"127.0.0.1"`                    // public host, used for OAuth callbacks
	Port        string `env:"APP_PORT" envDefault:"3000"`                     // HTTP port to listen on
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:777"` // base of emailed links
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`                    // debug | info | warn | error
	BcryptCost  int    `env:"BCRYPT_COST" envDefault:"12"`                    // bcrypt cost factor

	DB     DBConfig
	Token  TokenConfig
	Cookie CookieConfig
}

// DBConfig describes the MySQL credential store.
type DBConfig struct {
	User string `env:"DB_USER,required,notEmpty"`
	Pass string `env:"DB_PASS"` // empty allowed
	Host string `env:"DB_HOST,required,notEmpty"`
	Port string `env:"DB_PORT" envDefault:"3306"`
	Name string `env:"DB_NAME,required,notEmpty"`
}

// TokenConfig carries signing material and lifetimes.  The PEM keys are
// decoded from base64 during Load; the raw env strings are never kept.
type TokenConfig struct {
	AccessTTLMin         int    `env:"ACCESS_TOKEN_EXPIRATION_MINUTES" envDefault:"30"`
	RefreshTTLDays       int    `env:"REFRESH_TOKEN_EXPIRATION_DAYS" envDefault:"15"`
	VerifyEmailTTLMin    int    `env:"VERIFY_EMAIL_TOKEN_EXPIRATION_MINUTES" envDefault:"60"`
	ResetPasswordTTLMin  int    `env:"RESET_PASSWORD_TOKEN_EXPIRATION_MINUTES" envDefault:"30"`
	AccessPrivateKeyB64  string `env:"ACCESS_TOKEN_SECRET_PRIVATE,required,notEmpty"`
	AccessPublicKeyB64   string `env:"ACCESS_TOKEN_SECRET_PUBLIC,required,notEmpty"`
	RefreshPrivateKeyB64 string `env:"REFRESH_TOKEN_SECRET_PRIVATE,required,notEmpty"`
	RefreshPublicKeyB64  string `env:"REFRESH_TOKEN_SECRET_PUBLIC,required,notEmpty"`
	CSRFSecretB64        string `env:"CSRF_SECRET,required,notEmpty"`

	AccessPrivatePEM  []byte
	AccessPublicPEM   []byte
	RefreshPrivatePEM []byte
	RefreshPublicPEM  []byte
	CSRFSecret        []byte
}

// AccessTTL is the access token lifetime.
func (t TokenConfig) AccessTTL() time.Duration {
	return time.Duration(t.AccessTTLMin) * time.Minute
}

// RefreshTTL is the refresh token (and session record) lifetime.
func (t TokenConfig) RefreshTTL() time.Duration {
	return time.Duration(t.RefreshTTLDays) * 24 * time.Hour
}

// VerifyEmailTTL is the lifetime of an email verification action token.
func (t TokenConfig) VerifyEmailTTL() time.Duration {
	return time.Duration(t.VerifyEmailTTLMin) * time.Minute
}

// ResetPasswordTTL is the lifetime of a password reset action token.
func (t TokenConfig) ResetPasswordTTL() time.Duration {
	return time.Duration(t.ResetPasswordTTLMin) * time.Minute
}

// CookieConfig controls the signed refresh_token cookie.
type CookieConfig struct {
	SecretB64 string `env:"COOKIE_SECRET,required,notEmpty"`
	Secure    bool   `env:"COOKIE_SECURE" envDefault:"true"`
	SameSite  string `env:"COOKIE_SAMESITE" envDefault:"lax"` // lax | strict

	Secret []byte
}

// IsDevelopment reports whether internal error details may be exposed.
func (c Config) IsDevelopment() bool { return c.Env == "development" }

// Load reads the optional .env file and then parses the process environment.
// Missing required keys or undecodable secrets are returned as one error so
// the caller can refuse to start.
func Load() (Config, error) {
	_ = godotenv.Load() // a missing .env is fine; real deployments use the environment

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	decode := []struct {
		key string
		src string
		dst *[]byte
	}{
		{"ACCESS_TOKEN_SECRET_PRIVATE", cfg.Token.AccessPrivateKeyB64, &cfg.Token.AccessPrivatePEM},
		{"ACCESS_TOKEN_SECRET_PUBLIC", cfg.Token.AccessPublicKeyB64, &cfg.Token.AccessPublicPEM},
		{"REFRESH_TOKEN_SECRET_PRIVATE", cfg.Token.RefreshPrivateKeyB64, &cfg.Token.RefreshPrivatePEM},
		{"REFRESH_TOKEN_SECRET_PUBLIC", cfg.Token.RefreshPublicKeyB64, &cfg.Token.RefreshPublicPEM},
		{"CSRF_SECRET", cfg.Token.CSRFSecretB64, &cfg.Token.CSRFSecret},
		{"COOKIE_SECRET", cfg.Cookie.SecretB64, &cfg.Cookie.Secret},
	}
	for _, d := range decode {
		b, err := base64.StdEncoding.DecodeString(d.src)
		if err != nil {
			return Config{}, fmt.Errorf("invalid base64 for %s: %w", d.key, err)
		}
		*d.dst = b
	}

	if cfg.Token.AccessTTLMin <= 0 || cfg.Token.RefreshTTLDays <= 0 {
		return Config{}, fmt.Errorf("token lifetimes must be positive")
	}
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = 12
	}
	return cfg, nil
}

package config // package config loads the rate limiter settings

import (
	"fmt"  // error wrapping
	"time" // refill interval and TTL

	"github.com/caarlos0/env/v11" // struct-tag based env parsing
)

type RateLimitConfig struct {
	Enabled        bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	Capacity       int           `env:"RATE_LIMIT_CAPACITY" envDefault:"100"`
	RefillTokens   int           `env:"RATE_LIMIT_REFILL_TOKENS" envDefault:"100"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1m"`
	TTL            time.Duration `env:"RATE_LIMIT_TTL" envDefault:"10m"`
	KeyStrategy    string        `env:"RATE_LIMIT_KEY_STRATEGY" envDefault:"ip"`
	Prefix         string        `env:"RATE_LIMIT_PREFIX" envDefault:"rl"`
	Debug          bool          `env:"RATE_LIMIT_DEBUG"`
}

// LoadRateLimitConfig defaults to 100 requests per minute per IP.
func LoadRateLimitConfig() (RateLimitConfig, error) {
	def, err := env.ParseAs[RateLimitConfig]()
	if err != nil {
		return RateLimitConfig{}, fmt.Errorf("parse rate limit env: %w", err)
	}
	return def.normalize(), nil
}

func (def RateLimitConfig) normalize() RateLimitConfig {
	if def.Capacity < 1 {
		def.Capacity = 1
	}
	if def.RefillTokens < 1 {
		def.RefillTokens = 1
	}
	if def.RefillInterval <= 0 {
		def.RefillInterval = time.Second
	}
	// The limiter counts in whole milliseconds.
	if def.RefillInterval < time.Millisecond {
		def.RefillInterval = time.Millisecond
	}
	minTTL := 5 * def.RefillInterval
	if def.TTL < minTTL {
		def.TTL = minTTL
	}
	// EXPIRE takes whole seconds.
	if def.TTL < time.Second {
		def.TTL = time.Second
	}
	return def
}

package config

// This file defines the Redis client constructor.  Redis backs the session
// store when CACHE_DRIVER=redis and the distributed rate limiter.  One client
// is built per process and shared; go-redis dials lazily on first command, so
// construction never blocks on the network.

import (
	"context"    // ping deadline
	"crypto/tls" // optional TLS when REDIS_TLS is set
	"strings"    // address fallback
	"time"       // dial and read timeouts

	"github.com/redis/go-redis/v9" // Redis client
)

// RedisConfig holds the connection parameters.
//
//	REDIS_HOST and REDIS_PORT – hostname and port of the Redis server
//	REDIS_ADDR – host:port shorthand (used when host/port are not both set)
//	REDIS_USERNAME / REDIS_PASSWORD – optional ACL credentials
//	REDIS_DB – database number (default 0)
//	REDIS_TLS – enable TLS
type RedisConfig struct {
	Host     string `env:"REDIS_HOST"`
	Port     string `env:"REDIS_PORT"`
	Addr     string `env:"REDIS_ADDR"`
	Username string `env:"REDIS_USERNAME"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	TLS      bool   `env:"REDIS_TLS"`
}

// Address resolves the effective host:port.
func (r RedisConfig) Address() string {
	if r.Host != "" && r.Port != "" {
		return r.Host + ":" + r.Port
	}
	if strings.TrimSpace(r.Addr) != "" {
		return r.Addr
	}
	return "localhost:6379"
}

// NewRedisClient instantiates a Redis client from cfg.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	var tlsConf *tls.Config
	if cfg.TLS {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Address(),
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		TLSConfig:    tlsConf,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

// PingRedis checks reachability with a short timeout.  Optional features
// (rate limiting) use it to degrade gracefully when Redis is down.
func PingRedis(ctx context.Context, client *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return client.Ping(ctx).Err()
}

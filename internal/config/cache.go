package config // package config loads the session store driver settings

import (
	"fmt"     // error wrapping
	"strings" // driver name normalisation
	"time"    // memcached timeout

	"github.com/caarlos0/env/v11" // struct-tag based env parsing
)

// Supported session store drivers.
const (
	CacheDriverFile      = "file"
	CacheDriverRedis     = "redis"
	CacheDriverMemcached = "memcached"
)

// CacheConfig selects and configures the session store backend.  Driver is
// one of file, redis or memcached.  FilePath is only used by the file driver;
// Redis and Memcached carry their own connection settings.
type CacheConfig struct {
	Driver    string `env:"CACHE_DRIVER" envDefault:"file"`
	Prefix    string `env:"CACHE_PREFIX"`
	FilePath  string `env:"CACHE_FILE_PATH" envDefault:"storages/cache/cache.db"`
	Redis     RedisConfig
	Memcached MemcachedConfig
}

// MemcachedConfig holds the Memcached server list and client timeout.
type MemcachedConfig struct {
	Host    string        `env:"MEMCACHED_HOST" envDefault:"127.0.0.1"`
	Port    string        `env:"MEMCACHED_PORT" envDefault:"11211"`
	Servers []string      `env:"MEMCACHED_SERVERS" envSeparator:","` // overrides host/port when set
	Timeout time.Duration `env:"MEMCACHED_TIMEOUT" envDefault:"500ms"`
}

// Addrs returns the configured server addresses.
func (m MemcachedConfig) Addrs() []string {
	if len(m.Servers) > 0 {
		return m.Servers
	}
	return []string{m.Host + ":" + m.Port}
}

// LoadCacheConfig reads the session store settings.  Unknown drivers are
// rejected here so the factory never has to guess.
func LoadCacheConfig() (CacheConfig, error) {
	cfg, err := env.ParseAs[CacheConfig]()
	if err != nil {
		return CacheConfig{}, fmt.Errorf("parse cache env: %w", err)
	}
	cfg.Driver = strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch cfg.Driver {
	case CacheDriverFile, CacheDriverRedis, CacheDriverMemcached:
	default:
		return CacheConfig{}, fmt.Errorf("unsupported cache driver: %q", cfg.Driver)
	}
	return cfg, nil
}

// Package cache implements the session store: a small key/value capability
// with per-key TTL and glob enumeration, backed by a local bbolt file, Redis
// or Memcached.  The backend is chosen once at startup by New.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/auth-session-service/internal/config"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Store is the session store capability shared by all backends.  Values are
// opaque bytes; a ttl of zero means no expiry.  Del of an absent key is not an
// error.  GetAll takes a glob such as "session:42:*" and returns the values of
// every live matching key in no particular order.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	GetAll(ctx context.Context, pattern string) ([][]byte, error)
	Close() error
}

// New builds the backend selected by cfg.Driver.  rdb is reused by the redis
// driver when non-nil so the process keeps a single Redis pool; otherwise a
// client is built from cfg.Redis and closed with the store.
func New(cfg config.CacheConfig, rdb *redis.Client) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case config.CacheDriverFile, "":
		s, err = NewFileStore(cfg.FilePath)
	case config.CacheDriverRedis:
		if rdb == nil {
			s = NewRedisStore(config.NewRedisClient(cfg.Redis), true)
		} else {
			s = NewRedisStore(rdb, false)
		}
	case config.CacheDriverMemcached:
		s = NewMemcachedStore(cfg.Memcached)
	default:
		return nil, fmt.Errorf("unsupported cache driver: %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Prefix != "" {
		s = &prefixed{Store: s, prefix: cfg.Prefix}
	}
	return s, nil
}

// prefixed namespaces every key so several services can share one backend.
type prefixed struct {
	Store
	prefix string
}

func (p *prefixed) Get(ctx context.Context, key string) ([]byte, error) {
	return p.Store.Get(ctx, p.prefix+key)
}

func (p *prefixed) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.Store.Set(ctx, p.prefix+key, value, ttl)
}

func (p *prefixed) Del(ctx context.Context, key string) error {
	return p.Store.Del(ctx, p.prefix+key)
}

func (p *prefixed) GetAll(ctx context.Context, pattern string) ([][]byte, error) {
	return p.Store.GetAll(ctx, p.prefix+pattern)
}

// literalPrefix returns the part of a glob before its first meta character.
func literalPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, `*?[\`); i >= 0 {
		return pattern[:i]
	}
	return pattern
}

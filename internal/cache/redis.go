package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanCount is the COUNT hint passed to SCAN.
const scanCount = 100

// RedisStore is the Redis backend.  GetAll walks the keyspace with SCAN so it
// never blocks the server the way KEYS would.
type RedisStore struct {
	rdb  *redis.Client
	owns bool
}

// NewRedisStore wraps rdb.  When owns is true Close also closes the client.
func NewRedisStore(rdb *redis.Client, owns bool) *RedisStore {
	return &RedisStore{rdb: rdb, owns: owns}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return b, err
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

func (s *RedisStore) GetAll(ctx context.Context, pattern string) ([][]byte, error) {
	var (
		out    [][]byte
		cursor uint64
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return nil, err
		}
		if len(keys) > 0 {
			vals, err := s.rdb.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, err
			}
			for _, v := range vals {
				// nil: the key expired between SCAN and MGET
				if str, ok := v.(string); ok {
					out = append(out, []byte(str))
				}
			}
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

func (s *RedisStore) Close() error {
	if !s.owns {
		return nil
	}
	return s.rdb.Close()
}

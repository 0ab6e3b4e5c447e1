package cache

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/iliyamo/auth-session-service/internal/config"
)

const (
	indexKeyPrefix = "idx:"
	casRetries     = 8
	// relative expirations above this are read by memcached as unix times
	maxRelativeExpiry = 30 * 24 * time.Hour
)

// memcacheClient is the subset of *memcache.Client the store uses.
type memcacheClient interface {
	Get(key string) (*memcache.Item, error)
	GetMulti(keys []string) (map[string]*memcache.Item, error)
	Set(item *memcache.Item) error
	Add(item *memcache.Item) error
	CompareAndSwap(item *memcache.Item) error
	Delete(key string) error
	Close() error
}

// MemcachedStore is the Memcached backend.  Memcached cannot list keys, so
// every key "a:b:c" is also recorded in an index item "idx:a:b:" that holds
// the newline separated keys sharing that prefix.  The index is updated with
// compare-and-swap and pruned of expired members when read; an empty index
// reads the same as a missing one.  GetAll therefore
// supports only patterns of the form "<prefix>*" where prefix ends in ':'.
type MemcachedStore struct {
	mc  memcacheClient
	now func() time.Time
}

// NewMemcachedStore builds a client for cfg.  gomemcache connects per call,
// so nothing is dialled here.
func NewMemcachedStore(cfg config.MemcachedConfig) *MemcachedStore {
	mc := memcache.New(cfg.Addrs()...)
	mc.Timeout = cfg.Timeout
	return &MemcachedStore{mc: mc, now: time.Now}
}

// expiration converts ttl to memcached's int32 seconds field.
func (s *MemcachedStore) expiration(ttl time.Duration) int32 {
	switch {
	case ttl <= 0:
		return 0
	case ttl < time.Second:
		return 1
	case ttl > maxRelativeExpiry:
		return int32(s.now().Add(ttl).Unix())
	default:
		return int32(ttl / time.Second)
	}
}

func indexKeyFor(key string) string {
	return indexKeyPrefix + key[:strings.LastIndexByte(key, ':')+1]
}

func (s *MemcachedStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	it, err := s.mc.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return it.Value, nil
}

func (s *MemcachedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.mc.Set(&memcache.Item{Key: key, Value: value, Expiration: s.expiration(ttl)}); err != nil {
		return err
	}
	return s.updateIndex(indexKeyFor(key), func(keys []string) []string {
		for _, k := range keys {
			if k == key {
				return keys
			}
		}
		return append(keys, key)
	})
}

func (s *MemcachedStore) Del(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.mc.Delete(key); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return err
	}
	return s.updateIndex(indexKeyFor(key), func(keys []string) []string {
		return without(keys, map[string]bool{key: true})
	})
}

func (s *MemcachedStore) GetAll(ctx context.Context, pattern string) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix, ok := strings.CutSuffix(pattern, "*")
	if !ok || !strings.HasSuffix(prefix, ":") || strings.ContainsAny(prefix, `*?[\`) {
		return nil, fmt.Errorf("memcached store only supports \"<prefix>:*\" patterns, got %q", pattern)
	}

	idx, err := s.mc.Get(indexKeyPrefix + prefix)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	keys := splitIndex(idx.Value)
	if len(keys) == 0 {
		return nil, nil
	}

	items, err := s.mc.GetMulti(keys)
	if err != nil {
		return nil, err
	}
	var (
		out  [][]byte
		gone = map[string]bool{}
	)
	for _, k := range keys {
		it, ok := items[k]
		if !ok {
			gone[k] = true
			continue
		}
		if matched, _ := path.Match(pattern, k); matched {
			out = append(out, it.Value)
		}
	}
	if len(gone) > 0 {
		// best effort: a failed prune is retried on the next read
		_ = s.updateIndex(indexKeyPrefix+prefix, func(keys []string) []string {
			return without(keys, gone)
		})
	}
	return out, nil
}

func (s *MemcachedStore) Close() error {
	return s.mc.Close()
}

// updateIndex applies fn to the key list stored at idxKey under CAS,
// retrying on concurrent modification.
func (s *MemcachedStore) updateIndex(idxKey string, fn func([]string) []string) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		it, err := s.mc.Get(idxKey)
		if errors.Is(err, memcache.ErrCacheMiss) {
			keys := fn(nil)
			if len(keys) == 0 {
				return nil
			}
			err = s.mc.Add(&memcache.Item{Key: idxKey, Value: joinIndex(keys)})
			if errors.Is(err, memcache.ErrNotStored) {
				continue
			}
			return err
		}
		if err != nil {
			return err
		}

		before := splitIndex(it.Value)
		after := fn(append([]string(nil), before...))
		// An emptied index is written back empty, never deleted: a plain
		// delete would drop keys added since the Get.
		if equalKeys(before, after) {
			return nil
		}
		it.Value = joinIndex(after)
		err = s.mc.CompareAndSwap(it)
		if errors.Is(err, memcache.ErrCASConflict) || errors.Is(err, memcache.ErrNotStored) {
			continue
		}
		return err
	}
	return fmt.Errorf("update index %s: too many concurrent writers", idxKey)
}

func splitIndex(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	return strings.Split(string(b), "\n")
}

func joinIndex(keys []string) []byte {
	return []byte(strings.Join(keys, "\n"))
}

func without(keys []string, drop map[string]bool) []string {
	out := keys[:0]
	for _, k := range keys {
		if !drop[k] {
			out = append(out, k)
		}
	}
	return out
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

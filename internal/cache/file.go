package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const fileBucket = "cache"

// fileEntry is the on-disk record.  ExpiresAt is unix nanoseconds, 0 for none.
type fileEntry struct {
	Value     []byte `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

func (e fileEntry) expired(now time.Time) bool {
	return e.ExpiresAt != 0 && now.UnixNano() >= e.ExpiresAt
}

// FileStore keeps entries in a single bbolt file.  The database is opened on
// first use; expired entries are removed when they are read.
type FileStore struct {
	path string
	now  func() time.Time

	mu sync.Mutex
	db *bbolt.DB
}

// NewFileStore validates path and returns a store that opens it lazily.
func NewFileStore(p string) (*FileStore, error) {
	if strings.TrimSpace(p) == "" {
		return nil, fmt.Errorf("cache file path is required")
	}
	return &FileStore{path: filepath.Clean(p), now: time.Now}, nil
}

func (s *FileStore) open() (*bbolt.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := bbolt.Open(s.path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(fileBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache bucket: %w", err)
	}
	s.db = db
	return db, nil
}

// Get returns the live value stored at key.
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db, err := s.open()
	if err != nil {
		return nil, err
	}

	var (
		entry fileEntry
		found bool
	)
	err = db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket([]byte(fileBucket)).Get([]byte(key))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &entry)
	})
	if err != nil {
		return nil, fmt.Errorf("read cache entry: %w", err)
	}
	if !found {
		return nil, ErrMiss
	}
	if entry.expired(s.now()) {
		_ = s.Del(ctx, key)
		return nil, ErrMiss
	}
	return entry.Value, nil
}

// Set writes value with the given ttl.
func (s *FileStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := s.open()
	if err != nil {
		return err
	}
	entry := fileEntry{Value: value}
	if ttl > 0 {
		entry.ExpiresAt = s.now().Add(ttl).UnixNano()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	return db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(fileBucket)).Put([]byte(key), payload)
	})
}

// Del removes key.
func (s *FileStore) Del(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := s.open()
	if err != nil {
		return err
	}
	return db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(fileBucket)).Delete([]byte(key))
	})
}

// GetAll seeks to the literal prefix of pattern and walks keys in order,
// so only the matching key range is visited.
func (s *FileStore) GetAll(ctx context.Context, pattern string) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	db, err := s.open()
	if err != nil {
		return nil, err
	}

	now := s.now()
	prefix := []byte(literalPrefix(pattern))
	var (
		out   [][]byte
		stale [][]byte
	)
	err = db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(fileBucket)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if ok, _ := path.Match(pattern, string(k)); !ok {
				continue
			}
			var entry fileEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if entry.expired(now) {
				stale = append(stale, append([]byte(nil), k...))
				continue
			}
			out = append(out, entry.Value)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan cache: %w", err)
	}

	if len(stale) > 0 {
		_ = db.Update(func(tx *bbolt.Tx) error {
			b := tx.Bucket([]byte(fileBucket))
			for _, k := range stale {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return out, nil
}

// Close closes the database if it was opened.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil && !errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return err
	}
	return nil
}

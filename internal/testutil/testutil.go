// Package testutil provides in-memory stores and key material for tests of
// the service and HTTP layers.
package testutil

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/auth-session-service/internal/config"
	"github.com/iliyamo/auth-session-service/internal/model"
	"github.com/iliyamo/auth-session-service/internal/queue"
	"github.com/iliyamo/auth-session-service/internal/repository"
)

var (
	keysOnce sync.Once
	keyPEMs  [4][]byte
)

// TokenConfig returns a token configuration with freshly generated RSA key
// pairs (shared across the test binary) and default lifetimes.
func TokenConfig() config.TokenConfig {
	keysOnce.Do(func() {
		for i := 0; i < 2; i++ {
			key, err := rsa.GenerateKey(rand.Reader, 2048)
			if err != nil {
				panic(err)
			}
			pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
			if err != nil {
				panic(err)
			}
			keyPEMs[2*i] = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
			keyPEMs[2*i+1] = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub})
		}
	})
	return config.TokenConfig{
		AccessTTLMin:        30,
		RefreshTTLDays:      15,
		VerifyEmailTTLMin:   60,
		ResetPasswordTTLMin: 30,
		AccessPrivatePEM:    keyPEMs[0],
		AccessPublicPEM:     keyPEMs[1],
		RefreshPrivatePEM:   keyPEMs[2],
		RefreshPublicPEM:    keyPEMs[3],
		CSRFSecret:          []byte("csrf-test-secret"),
	}
}

// UserStore is an in-memory credential store with the same sentinel errors
// as the MySQL repository.  Username and email comparisons ignore case.
type UserStore struct {
	mu     sync.Mutex
	users  map[uint64]model.User
	nextID uint64

	// SetPasswordErr, when set, fails the next SetPassword call.
	SetPasswordErr error
}

func NewUserStore() *UserStore {
	return &UserStore{users: map[uint64]model.User{}}
}

// Add inserts u directly and returns its id.
func (s *UserStore) Add(u model.User) uint64 {
	id, err := s.Create(context.Background(), u)
	if err != nil {
		panic(err)
	}
	return id
}

// Raw returns the stored row including soft-deleted ones.
func (s *UserStore) Raw(id uint64) (model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	return u, ok
}

func (s *UserStore) Create(_ context.Context, u model.User) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(u)
}

func (s *UserStore) createLocked(u model.User) (uint64, error) {
	for _, x := range s.users {
		if strings.EqualFold(x.Username, u.Username) || strings.EqualFold(x.Email, u.Email) {
			return 0, repository.ErrDuplicate
		}
		if u.OAuthProvider != nil && x.OAuthProvider != nil && *u.OAuthProvider == *x.OAuthProvider &&
			u.OAuthID != nil && x.OAuthID != nil && *u.OAuthID == *x.OAuthID {
			return 0, repository.ErrDuplicate
		}
	}
	s.nextID++
	u.ID = s.nextID
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = u
	return u.ID, nil
}

func (s *UserStore) find(match func(model.User) bool) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.DeletedAt == nil && match(u) {
			return u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (s *UserStore) GetByID(_ context.Context, id uint64) (model.User, error) {
	return s.find(func(u model.User) bool { return u.ID == id })
}

func (s *UserStore) GetByEmail(_ context.Context, email string) (model.User, error) {
	return s.find(func(u model.User) bool { return strings.EqualFold(u.Email, email) })
}

func (s *UserStore) GetByUsername(_ context.Context, username string) (model.User, error) {
	return s.find(func(u model.User) bool { return strings.EqualFold(u.Username, username) })
}

func (s *UserStore) Taken(_ context.Context, username, email string) (bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var un, em bool
	for _, u := range s.users {
		un = un || strings.EqualFold(u.Username, username)
		em = em || strings.EqualFold(u.Email, email)
	}
	return un, em, nil
}

func (s *UserStore) update(id uint64, fn func(*model.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.DeletedAt != nil {
		return repository.ErrNotFound
	}
	fn(&u)
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return nil
}

func (s *UserStore) UpdateProfile(ctx context.Context, id uint64, p model.Profile) (model.User, error) {
	if err := s.update(id, func(u *model.User) { u.Profile = p }); err != nil {
		return model.User{}, err
	}
	return s.GetByID(ctx, id)
}

func (s *UserStore) SetPassword(_ context.Context, id uint64, hash string) error {
	s.mu.Lock()
	err := s.SetPasswordErr
	s.SetPasswordErr = nil
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.update(id, func(u *model.User) { u.PasswordHash = hash })
}

func (s *UserStore) MarkEmailVerified(_ context.Context, id uint64, at time.Time) error {
	return s.update(id, func(u *model.User) {
		t := at.UTC()
		u.EmailVerified = &t
	})
}

func (s *UserStore) SoftDelete(_ context.Context, id uint64, at time.Time) error {
	return s.update(id, func(u *model.User) {
		t := at.UTC()
		u.DeletedAt = &t
	})
}

func (s *UserStore) FindOrCreateByEmail(_ context.Context, u model.User) (model.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, x := range s.users {
		if x.DeletedAt == nil && strings.EqualFold(x.Email, u.Email) {
			return x, false, nil
		}
	}
	id, err := s.createLocked(u)
	if err != nil {
		return model.User{}, false, err
	}
	return s.users[id], true, nil
}

// TokenStore is an in-memory action token store.
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]model.ActionToken
}

func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: map[string]model.ActionToken{}}
}

func tokenKey(token string, typ model.TokenType) string { return string(typ) + ":" + token }

func (s *TokenStore) Create(_ context.Context, t model.ActionToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := tokenKey(t.Token, t.Type)
	if _, ok := s.tokens[k]; ok {
		return repository.ErrDuplicate
	}
	s.tokens[k] = t
	return nil
}

func (s *TokenStore) Find(_ context.Context, token string, typ model.TokenType) (model.ActionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenKey(token, typ)]
	if !ok {
		return model.ActionToken{}, repository.ErrNotFound
	}
	return t, nil
}

func (s *TokenStore) Delete(_ context.Context, token string, typ model.TokenType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := tokenKey(token, typ)
	if _, ok := s.tokens[k]; !ok {
		return repository.ErrNotFound
	}
	delete(s.tokens, k)
	return nil
}

func (s *TokenStore) DeleteForUser(_ context.Context, userID uint64, typ model.TokenType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, t := range s.tokens {
		if t.UserID == userID && t.Type == typ {
			delete(s.tokens, k)
		}
	}
	return nil
}

// ForUser lists the stored tokens of typ for userID.
func (s *TokenStore) ForUser(userID uint64, typ model.TokenType) []model.ActionToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ActionToken
	for _, t := range s.tokens {
		if t.UserID == userID && t.Type == typ {
			out = append(out, t)
		}
	}
	return out
}

// Put stores t as is, bypassing expiry computation.
func (s *TokenStore) Put(t model.ActionToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tokenKey(t.Token, t.Type)] = t
}

// MailQueue records enqueued tasks.  Err, when set, is returned by Enqueue.
type MailQueue struct {
	mu    sync.Mutex
	tasks []queue.EmailTask
	Err   error
}

func (q *MailQueue) Enqueue(_ context.Context, task queue.EmailTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return q.Err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

// Tasks returns a copy of the recorded tasks.
func (q *MailQueue) Tasks() []queue.EmailTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.EmailTask(nil), q.tasks...)
}

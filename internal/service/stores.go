// Package service holds the token and session lifecycle and the auth flows
// built on top of it.  Collaborators are consumed through the narrow
// interfaces below so tests can swap in in-memory versions.
package service

import (
	"context"
	"time"

	"github.com/iliyamo/auth-session-service/internal/model"
	"github.com/iliyamo/auth-session-service/internal/queue"
)

// UserStore is the credential store as seen by the services.  Lookups return
// repository.ErrNotFound for absent rows and writes return
// repository.ErrDuplicate when a unique key is taken.
type UserStore interface {
	Create(ctx context.Context, u model.User) (uint64, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByUsername(ctx context.Context, username string) (model.User, error)
	Taken(ctx context.Context, username, email string) (usernameTaken, emailTaken bool, err error)
	UpdateProfile(ctx context.Context, id uint64, p model.Profile) (model.User, error)
	SetPassword(ctx context.Context, id uint64, hash string) error
	MarkEmailVerified(ctx context.Context, id uint64, at time.Time) error
	SoftDelete(ctx context.Context, id uint64, at time.Time) error
	FindOrCreateByEmail(ctx context.Context, u model.User) (model.User, bool, error)
}

// ActionTokenStore persists single-use action tokens.
type ActionTokenStore interface {
	Create(ctx context.Context, t model.ActionToken) error
	Find(ctx context.Context, token string, typ model.TokenType) (model.ActionToken, error)
	Delete(ctx context.Context, token string, typ model.TokenType) error
	DeleteForUser(ctx context.Context, userID uint64, typ model.TokenType) error
}

// PasswordHasher hashes and checks passwords.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Compare(hash, plain string) bool
}

// MailQueue accepts email tasks without waiting for delivery.
type MailQueue interface {
	Enqueue(ctx context.Context, task queue.EmailTask) error
}

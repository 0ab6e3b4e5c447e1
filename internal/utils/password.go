package utils // package utils hashes and checks passwords

import (
	"errors" // bcrypt error matching

	"golang.org/x/crypto/bcrypt" // password hashing

	"github.com/iliyamo/auth-session-service/internal/apperr" // validation error for over-long passwords
)

// DefaultBcryptCost is the cost used when none is configured.
const DefaultBcryptCost = 12

// MaxPasswordBytes is the longest input bcrypt accepts.
const MaxPasswordBytes = 72

// HashPassword returns bcrypt hash using the given cost.
func HashPassword(plain string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword safely compares bcrypt hash and plain password.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// Bcrypt is a password hasher with a fixed cost.
type Bcrypt struct{ Cost int }

// NewBcrypt returns a hasher; non-positive costs use DefaultBcryptCost.
func NewBcrypt(cost int) Bcrypt {
	if cost <= 0 {
		cost = DefaultBcryptCost
	}
	return Bcrypt{Cost: cost}
}

// Hash rejects passwords bcrypt cannot take as a validation error.
func (b Bcrypt) Hash(plain string) (string, error) {
	hash, err := HashPassword(plain, b.Cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", apperr.Validation("Validation failed", "password must be at most 72 characters").Wrap(err)
	}
	return hash, err
}

func (b Bcrypt) Compare(hash, plain string) bool { return VerifyPassword(hash, plain) }

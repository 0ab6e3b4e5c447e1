package model

import "time"

// TokenType tags a persisted action token.
type TokenType string

const (
	TokenVerifyEmail   TokenType = "VerifyEmail"
	TokenResetPassword TokenType = "ResetPassword"
)

// ActionToken models a row of the `tokens` table: a random single-use token
// emailed to the user for verification or password reset.
type ActionToken struct {
	Token     string
	UserID    uint64
	ExpiresAt time.Time
	Type      TokenType
}

// ExpiredAt reports whether the token is expired at now.  A token whose
// expiry equals now is already expired.
func (t ActionToken) ExpiredAt(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/auth-session-service/internal/model"
)

// TokenRepo persists action tokens (email verification, password reset) in
// the `tokens` table.  Rows are looked up by (token, token_type).
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// Create inserts an action token row.
func (r *TokenRepo) Create(ctx context.Context, t model.ActionToken) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO tokens (token, user_id, expires_at, token_type) VALUES (?,?,?,?)",
		t.Token, t.UserID, t.ExpiresAt.UTC(), string(t.Type))
	return mapErr(err)
}

// Find returns the row matching token and type, or ErrNotFound.
func (r *TokenRepo) Find(ctx context.Context, token string, typ model.TokenType) (model.ActionToken, error) {
	var t model.ActionToken
	var tt string
	err := r.DB.QueryRowContext(ctx,
		"SELECT token, user_id, expires_at, token_type FROM tokens WHERE token=? AND token_type=? LIMIT 1",
		token, string(typ)).Scan(&t.Token, &t.UserID, &t.ExpiresAt, &tt)
	if err != nil {
		return model.ActionToken{}, mapErr(err)
	}
	t.Type = model.TokenType(tt)
	return t, nil
}

// Delete removes the row.  ErrNotFound means another caller removed it
// first, which is how single use is enforced.
func (r *TokenRepo) Delete(ctx context.Context, token string, typ model.TokenType) error {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM tokens WHERE token=? AND token_type=?",
		token, string(typ))
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// DeleteForUser drops every token of typ owned by userID.
func (r *TokenRepo) DeleteForUser(ctx context.Context, userID uint64, typ model.TokenType) error {
	_, err := r.DB.ExecContext(ctx,
		"DELETE FROM tokens WHERE user_id=? AND token_type=?",
		userID, string(typ))
	return err
}

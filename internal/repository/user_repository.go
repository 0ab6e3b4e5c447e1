package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/auth-session-service/internal/model"
)

// UserRepo reads and writes the users and profiles tables.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = "u.id, u.username, u.email, u.password_hash, u.email_verified, u.role, " +
	"u.oauth_provider, u.oauth_id, u.created_at, u.updated_at, " +
	"p.name, p.bio, p.url, p.pronouns, p.gender"

const userFrom = ` FROM users u LEFT JOIN profiles p ON p.user_id = u.id`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (model.User, error) {
	var (
		u                        model.User
		verified                 sql.NullTime
		provider, oauthID        sql.NullString
		name, bio, url, pronouns sql.NullString
		gender                   sql.NullString
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &verified, &u.Role,
		&provider, &oauthID, &u.CreatedAt, &u.UpdatedAt,
		&name, &bio, &url, &pronouns, &gender)
	if err != nil {
		return model.User{}, mapErr(err)
	}
	if verified.Valid {
		t := verified.Time
		u.EmailVerified = &t
	}
	if provider.Valid {
		p := model.OAuthProvider(provider.String)
		u.OAuthProvider = &p
	}
	u.OAuthID = nullStringPtr(oauthID)
	u.Profile = model.Profile{
		Name:     name.String,
		Bio:      nullStringPtr(bio),
		URL:      nullStringPtr(url),
		Pronouns: nullStringPtr(pronouns),
		Gender:   nullStringPtr(gender),
	}
	return u, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// normalizeEmail lowercases and trims an email address.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create inserts the user and its profile in one transaction and returns the
// new id.  A taken username or email yields ErrDuplicate.
func (r *UserRepo) Create(ctx context.Context, u model.User) (uint64, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	id, err := insertUser(ctx, tx, u)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func insertUser(ctx context.Context, tx *sql.Tx, u model.User) (uint64, error) {
	role := u.Role
	if role == "" {
		role = model.RoleUser
	}
	var provider any
	if u.OAuthProvider != nil {
		provider = string(*u.OAuthProvider)
	}
	var oauthID any
	if u.OAuthID != nil {
		oauthID = *u.OAuthID
	}
	var verified any
	if u.EmailVerified != nil {
		verified = u.EmailVerified.UTC()
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO users (username, email, password_hash, email_verified, role, oauth_provider, oauth_id) VALUES (?,?,?,?,?,?,?)",
		strings.TrimSpace(u.Username), normalizeEmail(u.Email), u.PasswordHash, verified, role, provider, oauthID)
	if err != nil {
		return 0, mapErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO profiles (user_id, name) VALUES (?,?)",
		id, strings.TrimSpace(u.Profile.Name)); err != nil {
		return 0, mapErr(err)
	}
	return uint64(id), nil
}

// GetByID fetches a live user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+userFrom+" WHERE u.id=? AND u.deleted_at IS NULL LIMIT 1", id)
	return scanUser(row)
}

// GetByEmail fetches a live user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+userFrom+" WHERE u.email=? AND u.deleted_at IS NULL LIMIT 1",
		normalizeEmail(email))
	return scanUser(row)
}

// GetByUsername fetches a live user by username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (model.User, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+userFrom+" WHERE u.username=? AND u.deleted_at IS NULL LIMIT 1",
		strings.TrimSpace(username))
	return scanUser(row)
}

// Taken reports which of username and email already belong to an account.
// Soft-deleted accounts still hold their unique keys.
func (r *UserRepo) Taken(ctx context.Context, username, email string) (usernameTaken, emailTaken bool, err error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT username, email FROM users WHERE username=? OR email=?",
		strings.TrimSpace(username), normalizeEmail(email))
	if err != nil {
		return false, false, err
	}
	defer rows.Close()

	for rows.Next() {
		var un, em string
		if err := rows.Scan(&un, &em); err != nil {
			return false, false, err
		}
		if strings.EqualFold(un, strings.TrimSpace(username)) {
			usernameTaken = true
		}
		if em == normalizeEmail(email) {
			emailTaken = true
		}
	}
	return usernameTaken, emailTaken, rows.Err()
}

// UpdateProfile overwrites the profile fields and returns the fresh user.
func (r *UserRepo) UpdateProfile(ctx context.Context, id uint64, p model.Profile) (model.User, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE profiles pr JOIN users u ON u.id = pr.user_id
		 SET pr.name=?, pr.bio=?, pr.url=?, pr.pronouns=?, pr.gender=?, u.updated_at=UTC_TIMESTAMP()
		 WHERE pr.user_id=? AND u.deleted_at IS NULL`,
		strings.TrimSpace(p.Name), p.Bio, p.URL, p.Pronouns, p.Gender, id)
	if err != nil {
		return model.User{}, mapErr(err)
	}
	if err := requireAffected(res); err != nil {
		return model.User{}, err
	}
	return r.GetByID(ctx, id)
}

// SetPassword stores a new password hash.
func (r *UserRepo) SetPassword(ctx context.Context, id uint64, hash string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET password_hash=?, updated_at=UTC_TIMESTAMP() WHERE id=? AND deleted_at IS NULL",
		hash, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// MarkEmailVerified sets email_verified to at.
func (r *UserRepo) MarkEmailVerified(ctx context.Context, id uint64, at time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET email_verified=?, updated_at=UTC_TIMESTAMP() WHERE id=? AND deleted_at IS NULL",
		at.UTC(), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// SoftDelete stamps deleted_at; the row and its unique keys stay in place.
func (r *UserRepo) SoftDelete(ctx context.Context, id uint64, at time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET deleted_at=? WHERE id=? AND deleted_at IS NULL",
		at.UTC(), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// FindOrCreateByEmail locks the live user holding u.Email, or inserts u when
// none exists.  created reports which branch ran.
func (r *UserRepo) FindOrCreateByEmail(ctx context.Context, u model.User) (user model.User, created bool, err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.User{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		"SELECT "+userColumns+userFrom+" WHERE u.email=? AND u.deleted_at IS NULL LIMIT 1 FOR UPDATE",
		normalizeEmail(u.Email))
	existing, err := scanUser(row)
	switch {
	case err == nil:
		return existing, false, tx.Commit()
	case !errors.Is(err, ErrNotFound):
		return model.User{}, false, err
	}

	id, err := insertUser(ctx, tx, u)
	if err != nil {
		return model.User{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return model.User{}, false, err
	}

	u.ID = id
	u.Email = normalizeEmail(u.Email)
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	return u, true, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

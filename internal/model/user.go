package model

import "time"

// Roles stored in users.role.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// OAuthProvider tags accounts created through federation.
type OAuthProvider string

const (
	ProviderGoogle   OAuthProvider = "google"
	ProviderFacebook OAuthProvider = "facebook"
)

// Valid reports whether p is a supported provider.
func (p OAuthProvider) Valid() bool {
	return p == ProviderGoogle || p == ProviderFacebook
}

// User represents a row of the `users` table joined with its profile.
//
// Fields:
//
//	ID            – primary key identifier of the user.
//	Username      – unique login name.
//	Email         – unique email address.
//	PasswordHash  – bcrypt hash; random filler for federated accounts.
//	EmailVerified – when the email was confirmed, nil while unverified.
//	Role          – single role name (user or admin).
//	OAuthProvider – nil for password accounts, set for federated accounts.
//	OAuthID       – provider-side subject id, unique per provider.
type User struct {
	ID            uint64
	Username      string
	Email         string
	PasswordHash  string
	EmailVerified *time.Time
	Role          string
	OAuthProvider *OAuthProvider
	OAuthID       *string
	Profile       Profile
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

// IsFederated reports whether the account signs in through an OAuth provider.
func (u User) IsFederated() bool {
	return u.OAuthProvider != nil || u.OAuthID != nil
}

// IsVerified reports whether the email address has been confirmed.
func (u User) IsVerified() bool { return u.EmailVerified != nil }

// Profile models the `profiles` row owned by a user.
type Profile struct {
	Name     string
	Bio      *string
	URL      *string
	Pronouns *string // He | She | They | DontSpecify
	Gender   *string // Male | Female
}

package service

import (
	"context"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/iliyamo/auth-session-service/internal/apperr"
	"github.com/iliyamo/auth-session-service/internal/config"
	"github.com/iliyamo/auth-session-service/internal/model"
	"github.com/iliyamo/auth-session-service/internal/repository"
	"github.com/iliyamo/auth-session-service/internal/utils"
)

// ActionTokenBytes is the entropy of emailed action tokens.
const ActionTokenBytes = 34

const csrfSaltBytes = 9

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// Claims is the JWT payload of access and refresh tokens.  Role is only set
// on access tokens.
type Claims struct {
	ID   uint64 `json:"id"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenService mints and checks every token the service hands out: RS256
// access and refresh JWTs, stateless CSRF tokens and stored action tokens.
// Keys are parsed once in NewTokenService and never change afterwards.
type TokenService struct {
	accessKey    *rsa.PrivateKey
	accessPub    *rsa.PublicKey
	refreshKey   *rsa.PrivateKey
	refreshPub   *rsa.PublicKey
	csrfSecret   []byte
	accessTTL    time.Duration
	refreshTTL   time.Duration
	verifyTTL    time.Duration
	resetTTL     time.Duration
	users        UserStore
	actionTokens ActionTokenStore
	now          func() time.Time
}

// NewTokenService parses the PEM keys in cfg.  A missing or malformed key is
// returned as an error so the process refuses to start.
func NewTokenService(cfg config.TokenConfig, users UserStore, actionTokens ActionTokenStore) (*TokenService, error) {
	accessKey, err := jwt.ParseRSAPrivateKeyFromPEM(cfg.AccessPrivatePEM)
	if err != nil {
		return nil, fmt.Errorf("parse access private key: %w", err)
	}
	accessPub, err := jwt.ParseRSAPublicKeyFromPEM(cfg.AccessPublicPEM)
	if err != nil {
		return nil, fmt.Errorf("parse access public key: %w", err)
	}
	refreshKey, err := jwt.ParseRSAPrivateKeyFromPEM(cfg.RefreshPrivatePEM)
	if err != nil {
		return nil, fmt.Errorf("parse refresh private key: %w", err)
	}
	refreshPub, err := jwt.ParseRSAPublicKeyFromPEM(cfg.RefreshPublicPEM)
	if err != nil {
		return nil, fmt.Errorf("parse refresh public key: %w", err)
	}
	if len(cfg.CSRFSecret) == 0 {
		return nil, errors.New("csrf secret is required")
	}
	return &TokenService{
		accessKey:    accessKey,
		accessPub:    accessPub,
		refreshKey:   refreshKey,
		refreshPub:   refreshPub,
		csrfSecret:   cfg.CSRFSecret,
		accessTTL:    cfg.AccessTTL(),
		refreshTTL:   cfg.RefreshTTL(),
		verifyTTL:    cfg.VerifyEmailTTL(),
		resetTTL:     cfg.ResetPasswordTTL(),
		users:        users,
		actionTokens: actionTokens,
		now:          time.Now,
	}, nil
}

// RefreshTTL is the refresh token lifetime, also used for session records
// and the refresh cookie.
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// HashToken returns the hex SHA-256 of raw.
func (s *TokenService) HashToken(raw string) string { return utils.HashToken(raw) }

// GenerateRandomToken returns n random bytes hex encoded.
func (s *TokenService) GenerateRandomToken(n int) (string, error) { return utils.RandomHex(n) }

func (s *TokenService) sign(key *rsa.PrivateKey, userID uint64, role string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		ID:   userID,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatUint(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}

func (s *TokenService) parse(raw string, pub *rsa.PublicKey) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return pub, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	default:
		return nil, ErrTokenInvalid
	}
}

// GenerateAccessToken signs a short-lived access token for the user.
func (s *TokenService) GenerateAccessToken(userID uint64, role string) (string, error) {
	return s.sign(s.accessKey, userID, role, s.accessTTL)
}

// VerifyAccessToken checks signature, algorithm and expiry.
func (s *TokenService) VerifyAccessToken(raw string) (*Claims, error) {
	claims, err := s.parse(raw, s.accessPub)
	if errors.Is(err, ErrTokenExpired) {
		return nil, apperr.Unauthorized("Access expired").Wrap(err)
	}
	if err != nil {
		return nil, apperr.Unauthorized("Access is invalid").Wrap(err)
	}
	return claims, nil
}

// GenerateRefreshToken signs a long-lived refresh token.  Each token carries
// a fresh jti, so two logins in the same second still differ.
func (s *TokenService) GenerateRefreshToken(userID uint64) (string, error) {
	return s.sign(s.refreshKey, userID, "", s.refreshTTL)
}

// VerifyRefreshToken checks a refresh token against the refresh key pair.
func (s *TokenService) VerifyRefreshToken(raw string) (*Claims, error) {
	claims, err := s.parse(raw, s.refreshPub)
	if errors.Is(err, ErrTokenExpired) {
		return nil, apperr.Unauthorized("Session expired").Wrap(err)
	}
	if err != nil {
		return nil, apperr.Unauthorized("Session is invalid").Wrap(err)
	}
	return claims, nil
}

// GenerateCsrfToken returns "salt-mac" where mac is the base64url HMAC-SHA256
// of salt under the CSRF secret.  Verification needs no server state.
func (s *TokenService) GenerateCsrfToken() (string, error) {
	salt, err := utils.RandomHex(csrfSaltBytes)
	if err != nil {
		return "", err
	}
	return salt + "-" + s.csrfMAC(salt), nil
}

// VerifyCsrfToken reports whether token was produced by GenerateCsrfToken.
func (s *TokenService) VerifyCsrfToken(token string) bool {
	salt, mac, ok := strings.Cut(token, "-")
	if !ok || salt == "" || mac == "" {
		return false
	}
	return hmac.Equal([]byte(mac), []byte(s.csrfMAC(salt)))
}

func (s *TokenService) csrfMAC(salt string) string {
	m := hmac.New(sha256.New, s.csrfSecret)
	m.Write([]byte(salt))
	return base64.RawURLEncoding.EncodeToString(m.Sum(nil))
}

func (s *TokenService) createActionToken(ctx context.Context, userID uint64, typ model.TokenType, ttl time.Duration) (string, error) {
	raw, err := utils.RandomHex(ActionTokenBytes)
	if err != nil {
		return "", err
	}
	t := model.ActionToken{
		Token:     raw,
		UserID:    userID,
		ExpiresAt: s.now().UTC().Add(ttl).Truncate(time.Second),
		Type:      typ,
	}
	if err := s.actionTokens.Create(ctx, t); err != nil {
		return "", fmt.Errorf("store %s token: %w", typ, err)
	}
	return raw, nil
}

// GenerateVerifyEmailToken stores a VerifyEmail token for user.
func (s *TokenService) GenerateVerifyEmailToken(ctx context.Context, user model.User) (string, error) {
	return s.createActionToken(ctx, user.ID, model.TokenVerifyEmail, s.verifyTTL)
}

// GenerateResetPasswordToken stores a ResetPassword token for the account
// registered under email.  Unknown emails yield a NotFound error.
func (s *TokenService) GenerateResetPasswordToken(ctx context.Context, email string) (string, model.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return "", model.User{}, apperr.NotFound("User not found").Wrap(err)
	}
	if err != nil {
		return "", model.User{}, err
	}
	raw, err := s.createActionToken(ctx, user.ID, model.TokenResetPassword, s.resetTTL)
	if err != nil {
		return "", model.User{}, err
	}
	return raw, user, nil
}

// VerifyToken loads the action token of the given type.  An absent token is
// NotFound; a token whose expiry is at or before now is deleted and reported
// as expired.
func (s *TokenService) VerifyToken(ctx context.Context, token string, typ model.TokenType) (model.ActionToken, error) {
	t, err := s.actionTokens.Find(ctx, token, typ)
	if errors.Is(err, repository.ErrNotFound) {
		return model.ActionToken{}, apperr.NotFound("Token not found").Wrap(err)
	}
	if err != nil {
		return model.ActionToken{}, err
	}
	if t.ExpiredAt(s.now()) {
		if err := s.actionTokens.Delete(ctx, token, typ); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return model.ActionToken{}, err
		}
		return model.ActionToken{}, apperr.Unauthorized("Token expired").Wrap(ErrTokenExpired)
	}
	return t, nil
}

// ConsumeToken verifies the token and deletes it.  Only the caller whose
// delete removes the row succeeds, so a token works at most once even under
// concurrent use.
func (s *TokenService) ConsumeToken(ctx context.Context, token string, typ model.TokenType) (model.ActionToken, error) {
	t, err := s.VerifyToken(ctx, token, typ)
	if err != nil {
		return model.ActionToken{}, err
	}
	if err := s.actionTokens.Delete(ctx, token, typ); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.ActionToken{}, apperr.NotFound("Token not found").Wrap(err)
		}
		return model.ActionToken{}, err
	}
	return t, nil
}

// RestoreToken puts back a token taken by ConsumeToken whose action then
// failed, so the emailed link stays usable.
func (s *TokenService) RestoreToken(ctx context.Context, t model.ActionToken) error {
	return s.actionTokens.Create(ctx, t)
}

// RevokeTokens deletes every outstanding token of typ for userID.
func (s *TokenService) RevokeTokens(ctx context.Context, userID uint64, typ model.TokenType) error {
	return s.actionTokens.DeleteForUser(ctx, userID, typ)
}

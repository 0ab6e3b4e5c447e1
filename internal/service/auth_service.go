package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/iliyamo/auth-session-service/internal/apperr"
	"github.com/iliyamo/auth-session-service/internal/metrics"
	"github.com/iliyamo/auth-session-service/internal/model"
	"github.com/iliyamo/auth-session-service/internal/queue"
	"github.com/iliyamo/auth-session-service/internal/repository"
	"github.com/iliyamo/auth-session-service/internal/utils"
)

const (
	signinFailed          = "Sign in failed"
	detailInvalidCreds    = "Invalid credentials"
	detailOtherMethod     = "Sign in with other method"
	maxUsernameLen        = 50
	oauthUsernameAttempts = 3
)

// SignupInput is a validated signup request.
type SignupInput struct {
	Name     string
	Username string
	Email    string
	Password string
}

// SigninInput is a validated signin request.  Exactly one of Email and
// Username is set.
type SigninInput struct {
	Email     string
	Username  string
	Password  string
	IP        string
	UserAgent string
}

// AuthResult is returned by every successful sign-in.
type AuthResult struct {
	User         model.User
	AccessToken  string
	RefreshToken string
	CSRFToken    string
}

// RefreshResult is returned by Refresh.
type RefreshResult struct {
	AccessToken string
	CSRFToken   string
}

// AuthService composes the credential store, token and session services into
// the signup, sign-in and account flows.
type AuthService struct {
	users    UserStore
	tokens   *TokenService
	sessions *SessionService
	hasher   PasswordHasher
	mail     MailQueue
	log      *zap.Logger
	now      func() time.Time
}

func NewAuthService(users UserStore, tokens *TokenService, sessions *SessionService, hasher PasswordHasher, mail MailQueue, log *zap.Logger) *AuthService {
	return &AuthService{
		users:    users,
		tokens:   tokens,
		sessions: sessions,
		hasher:   hasher,
		mail:     mail,
		log:      log.With(zap.String("component", "auth")),
		now:      time.Now,
	}
}

// RefreshTTL exposes the refresh lifetime for the cookie Max-Age.
func (s *AuthService) RefreshTTL() time.Duration { return s.tokens.RefreshTTL() }

// Signup creates a password account and queues the verification email.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (model.User, error) {
	usernameTaken, emailTaken, err := s.users.Taken(ctx, in.Username, in.Email)
	if err != nil {
		return model.User{}, fmt.Errorf("check uniqueness: %w", err)
	}
	if usernameTaken || emailTaken {
		var details []string
		if usernameTaken {
			details = append(details, "Username already taken")
		}
		if emailTaken {
			details = append(details, "Email already registered")
		}
		return model.User{}, apperr.Conflict("Signup failed", details...)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return model.User{}, fmt.Errorf("hash password: %w", err)
	}
	u := model.User{
		Username:     strings.TrimSpace(in.Username),
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash: hash,
		Role:         model.RoleUser,
		Profile:      model.Profile{Name: strings.TrimSpace(in.Name)},
	}
	id, err := s.users.Create(ctx, u)
	if errors.Is(err, repository.ErrDuplicate) {
		return model.User{}, apperr.Conflict("Signup failed", "Username or email already taken").Wrap(err)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("create user: %w", err)
	}
	u.ID = id
	u.CreatedAt = s.now().UTC()
	u.UpdatedAt = u.CreatedAt

	// the account exists at this point; a lost email can be re-requested
	token, err := s.tokens.GenerateVerifyEmailToken(ctx, u)
	if err != nil {
		s.log.Error("verify email token not created", zap.Uint64("user_id", id), zap.Error(err))
	} else {
		s.sendEmail(ctx, queue.EmailVerify, u.Email, token)
	}

	s.log.Info("user registered", zap.Uint64("user_id", id), zap.String("username", u.Username))
	return u, nil
}

// Signin checks credentials and opens a session.  Every credential problem
// produces the same message so callers cannot learn which accounts exist.
func (s *AuthService) Signin(ctx context.Context, in SigninInput) (AuthResult, error) {
	var (
		user model.User
		err  error
	)
	if in.Email != "" {
		user, err = s.users.GetByEmail(ctx, in.Email)
	} else {
		user, err = s.users.GetByUsername(ctx, in.Username)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return AuthResult{}, s.signinFailure("password", detailInvalidCreds)
	}
	if err != nil {
		return AuthResult{}, fmt.Errorf("load user: %w", err)
	}
	if user.IsFederated() {
		return AuthResult{}, s.signinFailure("password", detailOtherMethod)
	}
	if !s.hasher.Compare(user.PasswordHash, in.Password) {
		return AuthResult{}, s.signinFailure("password", detailInvalidCreds)
	}
	return s.issue(ctx, user, in.IP, in.UserAgent, "password")
}

func (s *AuthService) signinFailure(method, detail string) error {
	metrics.SigninAttemptsTotal.WithLabelValues(method, "failed").Inc()
	return apperr.Unauthorized(signinFailed, detail)
}

// issue mints the token triple and records the session.
func (s *AuthService) issue(ctx context.Context, user model.User, ip, userAgent, method string) (AuthResult, error) {
	access, err := s.tokens.GenerateAccessToken(user.ID, user.Role)
	if err != nil {
		return AuthResult{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.tokens.GenerateRefreshToken(user.ID)
	if err != nil {
		return AuthResult{}, fmt.Errorf("sign refresh token: %w", err)
	}
	csrf, err := s.tokens.GenerateCsrfToken()
	if err != nil {
		return AuthResult{}, fmt.Errorf("csrf token: %w", err)
	}
	if err := s.sessions.SetSession(ctx, user.ID, refresh, ip, userAgent); err != nil {
		return AuthResult{}, err
	}
	metrics.SigninAttemptsTotal.WithLabelValues(method, "ok").Inc()
	s.log.Info("user signed in", zap.Uint64("user_id", user.ID), zap.String("method", method))
	return AuthResult{User: user, AccessToken: access, RefreshToken: refresh, CSRFToken: csrf}, nil
}

// Refresh mints a new access token for a live session.  The refresh token
// and its session record are left unchanged.
func (s *AuthService) Refresh(ctx context.Context, refresh string) (RefreshResult, error) {
	if refresh == "" {
		return RefreshResult{}, apperr.Unauthorized("Session expired", "Refresh token missing")
	}
	sess, err := s.sessions.GetOneSession(ctx, refresh)
	if err != nil {
		return RefreshResult{}, err
	}
	if sess == nil {
		return RefreshResult{}, apperr.Unauthorized("Session expired", "Refresh token expired")
	}

	user, err := s.users.GetByID(ctx, sess.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return RefreshResult{}, apperr.Unauthorized("Session is invalid").Wrap(err)
	}
	if err != nil {
		return RefreshResult{}, fmt.Errorf("load user: %w", err)
	}

	access, err := s.tokens.GenerateAccessToken(user.ID, user.Role)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("sign access token: %w", err)
	}
	csrf, err := s.tokens.GenerateCsrfToken()
	if err != nil {
		return RefreshResult{}, fmt.Errorf("csrf token: %w", err)
	}
	return RefreshResult{AccessToken: access, CSRFToken: csrf}, nil
}

// Signout drops the session bound to refresh and returns a fresh CSRF token.
// A missing, expired or already revoked session still signs out.
func (s *AuthService) Signout(ctx context.Context, refresh string) (string, error) {
	if refresh != "" {
		err := s.sessions.DelSession(ctx, refresh)
		if err != nil && apperr.KindOf(err) != apperr.KindUnauthorized {
			return "", err
		}
		if err != nil {
			s.log.Debug("signout with unusable refresh token", zap.Error(err))
		}
	}
	return s.tokens.GenerateCsrfToken()
}

// SignoutAll revokes every session of the user.
func (s *AuthService) SignoutAll(ctx context.Context, userID uint64) (int, error) {
	return s.sessions.DelAllSessions(ctx, userID)
}

// Account returns the user with its live sessions.
func (s *AuthService) Account(ctx context.Context, userID uint64) (model.User, []model.Session, error) {
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, nil, apperr.NotFound("Account data not found").Wrap(err)
	}
	if err != nil {
		return model.User{}, nil, err
	}
	sessions, err := s.sessions.GetAllSessions(ctx, userID)
	if err != nil {
		return model.User{}, nil, err
	}
	return user, sessions, nil
}

// Sessions lists the live sessions of any user (admin view).
func (s *AuthService) Sessions(ctx context.Context, userID uint64) ([]model.Session, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("User not found").Wrap(err)
		}
		return nil, err
	}
	return s.sessions.GetAllSessions(ctx, userID)
}

// UpdateProfile replaces the editable profile fields.
func (s *AuthService) UpdateProfile(ctx context.Context, userID uint64, p model.Profile) (model.User, error) {
	user, err := s.users.UpdateProfile(ctx, userID, p)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, apperr.NotFound("Account data not found").Wrap(err)
	}
	if err != nil {
		return model.User{}, err
	}
	s.log.Info("profile updated", zap.Uint64("user_id", userID))
	return user, nil
}

// DeleteAccount soft-deletes the user and revokes all of its sessions.
func (s *AuthService) DeleteAccount(ctx context.Context, userID uint64) error {
	err := s.users.SoftDelete(ctx, userID, s.now())
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("Account data not found").Wrap(err)
	}
	if err != nil {
		return err
	}
	if _, err := s.sessions.DelAllSessions(ctx, userID); err != nil {
		return err
	}
	s.log.Info("account deleted", zap.Uint64("user_id", userID))
	return nil
}

// SendVerificationEmail issues a new verification token for the user.
func (s *AuthService) SendVerificationEmail(ctx context.Context, userID uint64) error {
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("Account data not found").Wrap(err)
	}
	if err != nil {
		return err
	}
	if user.IsVerified() {
		return apperr.Conflict("Email already verified")
	}
	token, err := s.tokens.GenerateVerifyEmailToken(ctx, user)
	if err != nil {
		return err
	}
	s.sendEmail(ctx, queue.EmailVerify, user.Email, token)
	return nil
}

// VerifyEmail consumes a VerifyEmail token and marks the address verified.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	t, err := s.tokens.ConsumeToken(ctx, token, model.TokenVerifyEmail)
	if err != nil {
		return err
	}
	err = s.users.MarkEmailVerified(ctx, t.UserID, s.now())
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("User not found").Wrap(err)
	}
	if err != nil {
		return err
	}
	s.log.Info("email verified", zap.Uint64("user_id", t.UserID))
	return nil
}

// ForgotPassword queues a reset email when the address is registered.  The
// caller always reports acceptance, whether or not the account exists.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	token, user, err := s.tokens.GenerateResetPasswordToken(ctx, email)
	if apperr.KindOf(err) == apperr.KindNotFound {
		s.log.Info("password reset for unknown email")
		return nil
	}
	if err != nil {
		return err
	}
	s.sendEmail(ctx, queue.EmailResetPassword, user.Email, token)
	s.log.Info("password reset requested", zap.Uint64("user_id", user.ID))
	return nil
}

// ResetPassword consumes a ResetPassword token, stores the new password and
// revokes every session of the account.  The token is only spent once the
// new hash is stored.
func (s *AuthService) ResetPassword(ctx context.Context, token, password string) error {
	if _, err := s.tokens.VerifyToken(ctx, token, model.TokenResetPassword); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	t, err := s.tokens.ConsumeToken(ctx, token, model.TokenResetPassword)
	if err != nil {
		return err
	}
	err = s.users.SetPassword(ctx, t.UserID, hash)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("User not found").Wrap(err)
	}
	if err != nil {
		if rerr := s.tokens.RestoreToken(ctx, t); rerr != nil {
			s.log.Error("reset token lost after failed password update", zap.Uint64("user_id", t.UserID), zap.Error(rerr))
		}
		return fmt.Errorf("set password: %w", err)
	}
	if err := s.tokens.RevokeTokens(ctx, t.UserID, model.TokenResetPassword); err != nil {
		s.log.Warn("stale reset tokens not removed", zap.Uint64("user_id", t.UserID), zap.Error(err))
	}
	if _, err := s.sessions.DelAllSessions(ctx, t.UserID); err != nil {
		return err
	}
	s.log.Info("password reset", zap.Uint64("user_id", t.UserID))
	return nil
}

// OAuthSignin links or creates the account for a federated identity and
// opens a session.  An email already owned by a password account, or by a
// different provider, is refused.
func (s *AuthService) OAuthSignin(ctx context.Context, prof model.OAuthProfile, ip, userAgent string) (AuthResult, error) {
	method := string(prof.Provider)

	user, err := s.users.GetByEmail(ctx, prof.Email)
	switch {
	case err == nil:
		if !sameIdentity(user, prof) {
			return AuthResult{}, s.signinFailure(method, detailOtherMethod)
		}
		return s.issue(ctx, user, ip, userAgent, method)
	case !errors.Is(err, repository.ErrNotFound):
		return AuthResult{}, fmt.Errorf("find user: %w", err)
	}

	user, created, err := s.createFederated(ctx, prof)
	if err != nil {
		return AuthResult{}, err
	}
	// a concurrent callback may have created the account first
	if !created && !sameIdentity(user, prof) {
		return AuthResult{}, s.signinFailure(method, detailOtherMethod)
	}
	if created {
		s.log.Info("user registered", zap.Uint64("user_id", user.ID), zap.String("method", method))
	}
	return s.issue(ctx, user, ip, userAgent, method)
}

// createFederated inserts the account for prof with a random unusable
// password.  Only a username collision is retried with a hex suffix; an
// email or provider id held by another row, soft-deleted ones included,
// fails at once.
func (s *AuthService) createFederated(ctx context.Context, prof model.OAuthProfile) (model.User, bool, error) {
	filler, err := utils.RandomHex(32)
	if err != nil {
		return model.User{}, false, err
	}
	hash, err := s.hasher.Hash(filler)
	if err != nil {
		return model.User{}, false, fmt.Errorf("hash password: %w", err)
	}
	verified := s.now().UTC()
	provider := prof.Provider
	oauthID := prof.ID
	candidate := model.User{
		Email:         prof.Email,
		PasswordHash:  hash,
		EmailVerified: &verified,
		Role:          model.RoleUser,
		OAuthProvider: &provider,
		OAuthID:       &oauthID,
		Profile:       model.Profile{Name: prof.DisplayName},
	}

	base := OAuthUsername(prof.DisplayName, prof.Email)
	for attempt := 0; attempt < oauthUsernameAttempts; attempt++ {
		candidate.Username = base
		if attempt > 0 {
			suffix, err := utils.RandomHex(2)
			if err != nil {
				return model.User{}, false, err
			}
			candidate.Username = truncate(base, maxUsernameLen-5) + "_" + suffix
		}
		user, created, err := s.users.FindOrCreateByEmail(ctx, candidate)
		if !errors.Is(err, repository.ErrDuplicate) {
			if err != nil {
				return model.User{}, false, fmt.Errorf("find or create user: %w", err)
			}
			return user, created, nil
		}
		usernameTaken, emailTaken, terr := s.users.Taken(ctx, candidate.Username, candidate.Email)
		if terr != nil {
			return model.User{}, false, fmt.Errorf("check uniqueness: %w", terr)
		}
		if emailTaken || !usernameTaken {
			return model.User{}, false, apperr.Conflict(signinFailed, "Account unavailable").Wrap(err)
		}
	}
	return model.User{}, false, apperr.Conflict(signinFailed, "Account unavailable")
}

func sameIdentity(u model.User, prof model.OAuthProfile) bool {
	if u.OAuthProvider == nil || *u.OAuthProvider != prof.Provider {
		return false
	}
	return u.OAuthID == nil || *u.OAuthID == prof.ID
}

// OAuthUsername derives a username from the display name and the local part
// of the email: "Jane Doe", "jd@x.com" -> "jane_doe_jd".
func OAuthUsername(displayName, email string) string {
	name := strings.ToLower(strings.Join(strings.Fields(displayName), "_"))
	local, _, _ := strings.Cut(strings.ToLower(email), "@")

	raw := local
	if name != "" {
		raw = name + "_" + local
	}
	clean := strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.') {
			return r
		}
		return -1
	}, raw)
	return truncate(clean, maxUsernameLen)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (s *AuthService) sendEmail(ctx context.Context, typ queue.EmailType, to, token string) {
	task := queue.EmailTask{Type: typ, To: to, Token: token, CreatedAt: s.now().UTC()}
	if err := s.mail.Enqueue(ctx, task); err != nil {
		s.log.Warn("email not queued", zap.String("type", string(typ)), zap.String("to", to), zap.Error(err))
	}
}

// EmailVerified reports whether userID has confirmed its address.  Unknown or
// deleted users report false.
func (s *AuthService) EmailVerified(ctx context.Context, userID uint64) (bool, error) {
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.IsVerified(), nil
}

package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/auth-session-service/internal/apperr"
	"github.com/iliyamo/auth-session-service/internal/cache"
	"github.com/iliyamo/auth-session-service/internal/model"
	"github.com/iliyamo/auth-session-service/internal/queue"
	"github.com/iliyamo/auth-session-service/internal/testutil"
	"github.com/iliyamo/auth-session-service/internal/utils"
)

type authFixture struct {
	mr     *miniredis.Miniredis
	users  *testutil.UserStore
	tokens *testutil.TokenStore
	mail   *testutil.MailQueue
	ts     *TokenService
	auth   *AuthService
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	store := cache.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), true)
	t.Cleanup(func() { _ = store.Close() })

	ts, users, tokens := newTokenService(t)
	log := zaptest.NewLogger(t)
	mail := &testutil.MailQueue{}
	sessions := NewSessionService(store, ts, ts.RefreshTTL(), log)
	return &authFixture{
		mr:     mr,
		users:  users,
		tokens: tokens,
		mail:   mail,
		ts:     ts,
		auth:   NewAuthService(users, ts, sessions, utils.NewBcrypt(bcrypt.MinCost), mail, log),
	}
}

func (f *authFixture) signup(t *testing.T, username, email, password string) model.User {
	t.Helper()
	u, err := f.auth.Signup(context.Background(), SignupInput{Name: "Test User", Username: username, Email: email, Password: password})
	require.NoError(t, err)
	return u
}

func sessionKeys(mr *miniredis.Miniredis) []string {
	var out []string
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, "session:") {
			out = append(out, k)
		}
	}
	return out
}

func TestSignup_CreatesUserAndOneVerifyToken(t *testing.T) {
	f := newAuthFixture(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f.ts.now = func() time.Time { return now }

	u := f.signup(t, "alice", "Alice@Example.com", "Passw0rd!")
	assert.NotZero(t, u.ID)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, model.RoleUser, u.Role)
	assert.False(t, u.IsVerified())

	stored, ok := f.users.Raw(u.ID)
	require.True(t, ok)
	assert.NotEqual(t, "Passw0rd!", stored.PasswordHash)
	assert.True(t, utils.VerifyPassword(stored.PasswordHash, "Passw0rd!"))
	assert.Equal(t, "Test User", stored.Profile.Name)

	toks := f.tokens.ForUser(u.ID, model.TokenVerifyEmail)
	require.Len(t, toks, 1)
	assert.Equal(t, now.Add(time.Hour), toks[0].ExpiresAt)

	tasks := f.mail.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, queue.EmailVerify, tasks[0].Type)
	assert.Equal(t, "alice@example.com", tasks[0].To)
	assert.Equal(t, toks[0].Token, tasks[0].Token)
}

func TestSignup_Conflict(t *testing.T) {
	f := newAuthFixture(t)
	f.signup(t, "alice", "alice@example.com", "Passw0rd!")

	_, err := f.auth.Signup(context.Background(), SignupInput{Username: "ALICE", Email: "alice@example.com", Password: "Passw0rd!"})
	assertAppErr(t, err, apperr.KindConflict, "Signup failed")
	ae, _ := apperr.As(err)
	assert.Equal(t, []string{"Username already taken", "Email already registered"}, ae.Details)

	_, err = f.auth.Signup(context.Background(), SignupInput{Username: "bob", Email: "alice@example.com", Password: "Passw0rd!"})
	ae, _ = apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, []string{"Email already registered"}, ae.Details)
}

func TestSignup_MailQueueFailureStillSucceeds(t *testing.T) {
	f := newAuthFixture(t)
	f.mail.Err = queue.ErrQueueFull

	u := f.signup(t, "alice", "alice@example.com", "Passw0rd!")
	assert.Len(t, f.tokens.ForUser(u.ID, model.TokenVerifyEmail), 1)
}

func TestSignin_BadCredentialsLeaveNoSession(t *testing.T) {
	f := newAuthFixture(t)
	f.signup(t, "alice", "alice@example.com", "Passw0rd!")

	_, err := f.auth.Signin(context.Background(), SigninInput{Email: "alice@example.com", Password: "wrong"})
	assertAppErr(t, err, apperr.KindUnauthorized, "Sign in failed")
	ae, _ := apperr.As(err)
	assert.Equal(t, []string{"Invalid credentials"}, ae.Details)

	_, err = f.auth.Signin(context.Background(), SigninInput{Username: "ghost", Password: "Passw0rd!"})
	assertAppErr(t, err, apperr.KindUnauthorized, "Sign in failed")
	ae, _ = apperr.As(err)
	assert.Equal(t, []string{"Invalid credentials"}, ae.Details, "unknown user looks like a bad password")

	assert.Empty(t, sessionKeys(f.mr))
}

func TestSignin_FederatedAccountRefused(t *testing.T) {
	f := newAuthFixture(t)
	p := model.ProviderGoogle
	gid := "g-1"
	f.users.Add(model.User{Username: "gina", Email: "gina@example.com", PasswordHash: "x", OAuthProvider: &p, OAuthID: &gid})

	_, err := f.auth.Signin(context.Background(), SigninInput{Email: "gina@example.com", Password: "anything"})
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindUnauthorized, ae.Kind)
	assert.Equal(t, []string{"Sign in with other method"}, ae.Details)
}

func TestSignin_IssuesTokensAndSession(t *testing.T) {
	f := newAuthFixture(t)
	u := f.signup(t, "alice", "alice@example.com", "Passw0rd!")

	res, err := f.auth.Signin(context.Background(), SigninInput{Username: "alice", Password: "Passw0rd!", IP: "1.2.3.4", UserAgent: "ua"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, res.User.ID)
	assert.True(t, f.ts.VerifyCsrfToken(res.CSRFToken))

	claims, err := f.ts.VerifyAccessToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.ID)
	assert.Equal(t, model.RoleUser, claims.Role)

	key := SessionKey(u.ID, utils.HashToken(res.RefreshToken))
	assert.Equal(t, []string{key}, sessionKeys(f.mr))
	assert.Equal(t, f.ts.RefreshTTL(), f.mr.TTL(key))
}

func TestRefresh(t *testing.T) {
	f := newAuthFixture(t)
	f.signup(t, "alice", "alice@example.com", "Passw0rd!")
	res, err := f.auth.Signin(context.Background(), SigninInput{Email: "alice@example.com", Password: "Passw0rd!"})
	require.NoError(t, err)

	out, err := f.auth.Refresh(context.Background(), res.RefreshToken)
	require.NoError(t, err)
	_, err = f.ts.VerifyAccessToken(out.AccessToken)
	require.NoError(t, err)
	assert.True(t, f.ts.VerifyCsrfToken(out.CSRFToken))

	_, err = f.auth.Refresh(context.Background(), "")
	assertAppErr(t, err, apperr.KindUnauthorized, "Session expired")

	_, err = f.auth.Refresh(context.Background(), "garbage")
	assertAppErr(t, err, apperr.KindUnauthorized, "Session is invalid")
}

func TestRefresh_AfterSessionDeletedIsUnauthorized(t *testing.T) {
	f := newAuthFixture(t)
	f.signup(t, "alice", "alice@example.com", "Passw0rd!")
	res, err := f.auth.Signin(context.Background(), SigninInput{Email: "alice@example.com", Password: "Passw0rd!"})
	require.NoError(t, err)

	_, err = f.auth.Signout(context.Background(), res.RefreshToken)
	require.NoError(t, err)

	_, err = f.auth.Refresh(context.Background(), res.RefreshToken)
	assertAppErr(t, err, apperr.KindUnauthorized, "Session expired")
}

func TestRefresh_DeletedAccount(t *testing.T) {
	f := newAuthFixture(t)
	u := f.signup(t, "alice", "alice@example.com", "Passw0rd!")
	res, err := f.auth.Signin(context.Background(), SigninInput{Email: "alice@example.com", Password: "Passw0rd!"})
	require.NoError(t, err)

	require.NoError(t, f.auth.DeleteAccount(context.Background(), u.ID))
	assert.Empty(t, sessionKeys(f.mr))

	_, err = f.auth.Refresh(context.Background(), res.RefreshToken)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	err = f.auth.DeleteAccount(context.Background(), u.ID)
	assertAppErr(t, err, apperr.KindNotFound, "Account data not found")
}

func TestSignout_Tolerant(t *testing.T) {
	f := newAuthFixture(t)

	csrf, err := f.auth.Signout(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, f.ts.VerifyCsrfToken(csrf))

	_, err = f.auth.Signout(context.Background(), "not-a-token")
	require.NoError(t, err)
}

func TestSignoutAllAndAccount(t *testing.T) {
	f := newAuthFixture(t)
	u := f.signup(t, "alice", "alice@example.com", "Passw0rd!")
	for i := 0; i < 3; i++ {
		_, err := f.auth.Signin(context.Background(), SigninInput{Email: "alice@example.com", Password: "Passw0rd!"})
		require.NoError(t, err)
	}

	got, sessions, err := f.auth.Account(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Len(t, sessions, 3)

	admin, err := f.auth.Sessions(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Len(t, admin, 3)

	n, err := f.auth.SignoutAll(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Empty(t, sessionKeys(f.mr))

	_, err = f.auth.Sessions(context.Background(), 404)
	assertAppErr(t, err, apperr.KindNotFound, "User not found")
	_, _, err = f.auth.Account(context.Background(), 404)
	assertAppErr(t, err, apperr.KindNotFound, "Account data not found")
}

func TestUpdateProfile(t *testing.T) {
	f := newAuthFixture(t)
	u := f.signup(t, "alice", "alice@example.com", "Passw0rd!")
	bio := "hello"

	got, err := f.auth.UpdateProfile(context.Background(), u.ID, model.Profile{Name: "Alice", Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Profile.Name)
	require.NotNil(t, got.Profile.Bio)
	assert.Equal(t, "hello", *got.Profile.Bio)

	_, err = f.auth.UpdateProfile(context.Background(), 404, model.Profile{Name: "x"})
	assertAppErr(t, err, apperr.KindNotFound, "Account data not found")
}

func TestVerifyEmail_TokenWorksOnce(t *testing.T) {
	f := newAuthFixture(t)
	u := f.signup(t, "alice", "alice@example.com", "Passw0rd!")
	token := f.mail.Tasks()[0].Token

	require.NoError(t, f.auth.VerifyEmail(context.Background(), token))
	stored, _ := f.users.Raw(u.ID)
	assert.True(t, stored.IsVerified())

	err := f.auth.VerifyEmail(context.Background(), token)
	assertAppErr(t, err, apperr.KindNotFound, "Token not found")

	err = f.auth.SendVerificationEmail(context.Background(), u.ID)
	assertAppErr(t, err, apperr.KindConflict, "Email already verified")
}

func TestSendVerificationEmail(t *testing.T) {
	f := newAuthFixture(t)
	u := f.signup(t, "alice", "alice@example.com", "Passw0rd!")

	require.NoError(t, f.auth.SendVerificationEmail(context.Background(), u.ID))
	assert.Len(t, f.tokens.ForUser(u.ID, model.TokenVerifyEmail), 2)
	assert.Len(t, f.mail.Tasks(), 2)
}

func TestVerifyEmail_Expired(t *testing.T) {
	f := newAuthFixture(t)
	u := f.signup(t, "alice", "alice@example.com", "Passw0rd!")
	token := f.mail.Tasks()[0].Token

	f.ts.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	err := f.auth.VerifyEmail(context.Background(), token)
	assertAppErr(t, err, apperr.KindUnauthorized, "Token expired")

	stored, _ := f.users.Raw(u.ID)
	assert.False(t, stored.IsVerified())
}

func TestForgotPassword(t *testing.T) {
	f := newAuthFixture(t)
	u := f.signup(t, "alice", "alice@example.com", "Passw0rd!")

	require.NoError(t, f.auth.ForgotPassword(context.Background(), "nobody@example.com"))
	assert.Len(t, f.mail.Tasks(), 1, "only the signup email")

	require.NoError(t, f.auth.ForgotPassword(context.Background(), "alice@example.com"))
	tasks := f.mail.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, queue.EmailResetPassword, tasks[1].Type)
	assert.Len(t, f.tokens.ForUser(u.ID, model.TokenResetPassword), 1)
}

func TestResetPassword_RevokesSessionsAndTokens(t *testing.T) {
	f := newAuthFixture(t)
	u := f.signup(t, "alice", "alice@example.com", "Passw0rd!")
	res, err := f.auth.Signin(context.Background(), SigninInput{Email: "alice@example.com", Password: "Passw0rd!"})
	require.NoError(t, err)

	require.NoError(t, f.auth.ForgotPassword(context.Background(), "alice@example.com"))
	require.NoError(t, f.auth.ForgotPassword(context.Background(), "alice@example.com"))
	token := f.mail.Tasks()[1].Token

	require.NoError(t, f.auth.ResetPassword(context.Background(), token, "N3wPassw0rd!"))
	assert.Empty(t, f.tokens.ForUser(u.ID, model.TokenResetPassword))
	assert.Empty(t, sessionKeys(f.mr))

	_, err = f.auth.Refresh(context.Background(), res.RefreshToken)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	_, err = f.auth.Signin(context.Background(), SigninInput{Email: "alice@example.com", Password: "Passw0rd!"})
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	_, err = f.auth.Signin(context.Background(), SigninInput{Email: "alice@example.com", Password: "N3wPassw0rd!"})
	require.NoError(t, err)

	err = f.auth.ResetPassword(context.Background(), token, "Other0ne!")
	assertAppErr(t, err, apperr.KindNotFound, "Token not found")
}

func TestOAuthSignin_CreatesThenReuses(t *testing.T) {
	f := newAuthFixture(t)
	prof := model.OAuthProfile{Provider: model.ProviderGoogle, ID: "g-123", Email: "jane@example.com", DisplayName: "Jane Doe"}

	first, err := f.auth.OAuthSignin(context.Background(), prof, "1.1.1.1", "ua")
	require.NoError(t, err)
	assert.Equal(t, "jane_doe_jane", first.User.Username)
	assert.True(t, first.User.IsVerified())
	require.NotNil(t, first.User.OAuthProvider)
	assert.Equal(t, model.ProviderGoogle, *first.User.OAuthProvider)

	second, err := f.auth.OAuthSignin(context.Background(), prof, "1.1.1.1", "ua")
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, second.User.ID)
	assert.Len(t, sessionKeys(f.mr), 2)
}

func TestOAuthSignin_IdentityMismatch(t *testing.T) {
	f := newAuthFixture(t)
	f.signup(t, "alice", "alice@example.com", "Passw0rd!")

	_, err := f.auth.OAuthSignin(context.Background(), model.OAuthProfile{Provider: model.ProviderGoogle, ID: "g-1", Email: "alice@example.com"}, "", "")
	assertAppErr(t, err, apperr.KindUnauthorized, "Sign in failed")
	ae, _ := apperr.As(err)
	assert.Equal(t, []string{"Sign in with other method"}, ae.Details)

	fb := model.OAuthProfile{Provider: model.ProviderFacebook, ID: "f-1", Email: "bob@example.com", DisplayName: "Bob"}
	_, err = f.auth.OAuthSignin(context.Background(), fb, "", "")
	require.NoError(t, err)

	_, err = f.auth.OAuthSignin(context.Background(), model.OAuthProfile{Provider: model.ProviderGoogle, ID: "g-2", Email: "bob@example.com"}, "", "")
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	assert.Len(t, sessionKeys(f.mr), 1)
}

func TestOAuthSignin_UsernameCollisionRetries(t *testing.T) {
	f := newAuthFixture(t)
	f.users.Add(model.User{Username: "jane_doe_jane", Email: "someone@example.com"})

	res, err := f.auth.OAuthSignin(context.Background(), model.OAuthProfile{Provider: model.ProviderGoogle, ID: "g-9", Email: "jane@example.com", DisplayName: "Jane Doe"}, "", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.User.Username, "jane_doe_jane_"))
	assert.Len(t, res.User.Username, len("jane_doe_jane_")+4)
}

func TestOAuthUsername(t *testing.T) {
	cases := []struct{ name, email, want string }{
		{"Jane Doe", "jd@example.com", "jane_doe_jd"},
		{"", "solo@example.com", "solo"},
		{"  Émile   Zola ", "ez@example.com", "mile_zola_ez"},
		{strings.Repeat("a", 60), "x@example.com", strings.Repeat("a", 50)},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, OAuthUsername(c.name, c.email), c.name)
	}
}

func TestAuthErrorsAreTyped(t *testing.T) {
	f := newAuthFixture(t)
	_, err := f.auth.Signin(context.Background(), SigninInput{Email: "x@example.com", Password: "p"})
	var ae *apperr.Error
	assert.True(t, errors.As(err, &ae))
}

func TestResetPassword_FailedUpdateKeepsToken(t *testing.T) {
	f := newAuthFixture(t)
	u := f.signup(t, "alice", "alice@example.com", "Passw0rd!")
	require.NoError(t, f.auth.ForgotPassword(context.Background(), "alice@example.com"))
	token := f.mail.Tasks()[1].Token

	f.users.SetPasswordErr = errors.New("connection reset")
	err := f.auth.ResetPassword(context.Background(), token, "N3wPassw0rd!")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Len(t, f.tokens.ForUser(u.ID, model.TokenResetPassword), 1, "link still usable")

	require.NoError(t, f.auth.ResetPassword(context.Background(), token, "N3wPassw0rd!"))
	assert.Empty(t, f.tokens.ForUser(u.ID, model.TokenResetPassword))
	err = f.auth.ResetPassword(context.Background(), token, "N3wPassw0rd!")
	assertAppErr(t, err, apperr.KindNotFound, "Token not found")
}

func TestResetPassword_TooLongPasswordKeepsToken(t *testing.T) {
	f := newAuthFixture(t)
	u := f.signup(t, "alice", "alice@example.com", "Passw0rd!")
	require.NoError(t, f.auth.ForgotPassword(context.Background(), "alice@example.com"))
	token := f.mail.Tasks()[1].Token

	err := f.auth.ResetPassword(context.Background(), token, "Aa1!"+strings.Repeat("a", 80))
	assertAppErr(t, err, apperr.KindValidation, "Validation failed")
	assert.Len(t, f.tokens.ForUser(u.ID, model.TokenResetPassword), 1)
}

type countingHasher struct {
	PasswordHasher
	hashed int
}

func (h *countingHasher) Hash(plain string) (string, error) {
	h.hashed++
	return h.PasswordHasher.Hash(plain)
}

type countingUsers struct {
	UserStore
	creates int
}

func (u *countingUsers) FindOrCreateByEmail(ctx context.Context, user model.User) (model.User, bool, error) {
	u.creates++
	return u.UserStore.FindOrCreateByEmail(ctx, user)
}

func TestOAuthSignin_HashesFillerOnlyOnCreate(t *testing.T) {
	f := newAuthFixture(t)
	h := &countingHasher{PasswordHasher: f.auth.hasher}
	f.auth.hasher = h
	prof := model.OAuthProfile{Provider: model.ProviderGoogle, ID: "g-5", Email: "jane@example.com", DisplayName: "Jane"}

	_, err := f.auth.OAuthSignin(context.Background(), prof, "", "")
	require.NoError(t, err)
	_, err = f.auth.OAuthSignin(context.Background(), prof, "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, h.hashed)
}

func TestOAuthSignin_EmailHeldByDeletedAccountFailsFast(t *testing.T) {
	f := newAuthFixture(t)
	old := f.signup(t, "janedoe", "jane@example.com", "Passw0rd!")
	require.NoError(t, f.users.SoftDelete(context.Background(), old.ID, time.Now()))
	users := &countingUsers{UserStore: f.users}
	f.auth.users = users

	_, err := f.auth.OAuthSignin(context.Background(), model.OAuthProfile{Provider: model.ProviderGoogle, ID: "g-6", Email: "jane@example.com", DisplayName: "Jane Doe"}, "", "")
	assertAppErr(t, err, apperr.KindConflict, "Sign in failed")
	ae, _ := apperr.As(err)
	assert.Equal(t, []string{"Account unavailable"}, ae.Details)
	assert.Equal(t, 1, users.creates)
}

package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/auth-session-service/internal/apperr"
	"github.com/iliyamo/auth-session-service/internal/config"
	"github.com/iliyamo/auth-session-service/internal/model"
	"github.com/iliyamo/auth-session-service/internal/service"
	"github.com/iliyamo/auth-session-service/internal/testutil"
)

func newEcho(t *testing.T) *echo.Echo {
	t.Helper()
	e := echo.New()
	e.HTTPErrorHandler = HTTPErrorHandler(zaptest.NewLogger(t), false)
	return e
}

func ok(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func do(e *echo.Echo, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func newTokens(t *testing.T) *service.TokenService {
	t.Helper()
	ts, err := service.NewTokenService(testutil.TokenConfig(), nil, nil)
	require.NoError(t, err)
	return ts
}

func TestJWTAuth(t *testing.T) {
	ts := newTokens(t)
	e := newEcho(t)
	e.GET("/me", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"id": UserID(c), "role": Role(c)})
	}, JWTAuth(ts))

	rec := do(e, http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Access token missing", decodeError(t, rec).Message)

	rec = do(e, http.MethodGet, "/me", map[string]string{"Authorization": "Token abc"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid access token format", decodeError(t, rec).Message)

	rec = do(e, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer abc"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Access is invalid", decodeError(t, rec).Message)

	access, err := ts.GenerateAccessToken(12, model.RoleAdmin)
	require.NoError(t, err)
	rec = do(e, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer " + access})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":12,"role":"admin"}`, rec.Body.String())
}

func TestCSRF(t *testing.T) {
	ts := newTokens(t)
	e := newEcho(t)
	e.Use(CSRF(ts))
	e.GET("/page", ok)
	e.POST("/action", ok)

	rec := do(e, http.MethodGet, "/page", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	issued := rec.Header().Get(HeaderCSRFToken)
	assert.True(t, ts.VerifyCsrfToken(issued))

	rec = do(e, http.MethodGet, "/page", map[string]string{HeaderCSRFToken: issued})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(HeaderCSRFToken), "no new token when one is presented")

	rec = do(e, http.MethodPost, "/action", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "CSRF token missing", decodeError(t, rec).Message)

	rec = do(e, http.MethodPost, "/action", map[string]string{HeaderCSRFToken: "salt-forged"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "CSRF token mismatch or invalid", decodeError(t, rec).Message)

	rec = do(e, http.MethodPost, "/action", map[string]string{HeaderCSRFToken: issued})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func withIdentity(id uint64, role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(ctxUserID, id)
			c.Set(ctxRole, role)
			return next(c)
		}
	}
}

func TestRequireRole(t *testing.T) {
	e := newEcho(t)
	e.GET("/admin", ok, withIdentity(1, model.RoleAdmin), RequireRole(model.RoleAdmin))
	e.GET("/user", ok, withIdentity(2, model.RoleUser), RequireRole(model.RoleAdmin))
	e.GET("/anon", ok, RequireRole(model.RoleAdmin))

	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/admin", nil).Code)
	assert.Equal(t, http.StatusForbidden, do(e, http.MethodGet, "/user", nil).Code)
	assert.Equal(t, http.StatusForbidden, do(e, http.MethodGet, "/anon", nil).Code)
}

type verifiedFunc func(ctx context.Context, id uint64) (bool, error)

func (f verifiedFunc) EmailVerified(ctx context.Context, id uint64) (bool, error) { return f(ctx, id) }

func TestRequireVerified(t *testing.T) {
	checker := verifiedFunc(func(_ context.Context, id uint64) (bool, error) {
		switch id {
		case 1:
			return true, nil
		case 2:
			return false, nil
		}
		return false, errors.New("db down")
	})
	e := newEcho(t)
	e.GET("/1", ok, withIdentity(1, ""), RequireVerified(checker))
	e.GET("/2", ok, withIdentity(2, ""), RequireVerified(checker))
	e.GET("/3", ok, withIdentity(3, ""), RequireVerified(checker))

	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/1", nil).Code)

	rec := do(e, http.MethodGet, "/2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Email not verified", decodeError(t, rec).Message)

	assert.Equal(t, http.StatusInternalServerError, do(e, http.MethodGet, "/3", nil).Code)
}

func TestGuest(t *testing.T) {
	e := newEcho(t)
	e.GET("/signup", ok, Guest())

	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/signup", nil).Code)
	rec := do(e, http.MethodGet, "/signup", map[string]string{"Authorization": "Bearer x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func rateLimitConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   2,
		RefillInterval: time.Minute,
		TTL:            10 * time.Minute,
		KeyStrategy:    "ip",
		Prefix:         "rl",
	}
}

func TestTokenBucket_BlocksAfterCapacity(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	e := newEcho(t)
	e.Use(NewTokenBucket(rateLimitConfig(), rdb, nil, zaptest.NewLogger(t)))
	e.GET("/", ok)

	for i := 0; i < 2; i++ {
		rec := do(e, http.MethodGet, "/", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}
	rec := do(e, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "Too many requests, please try again later.", decodeError(t, rec).Message)

	assert.True(t, mr.Exists("rl:ip:192.0.2.1"))
}

func TestTokenBucket_FailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	e := newEcho(t)
	e.Use(NewTokenBucket(rateLimitConfig(), rdb, nil, zaptest.NewLogger(t)))
	e.GET("/", ok)
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/", nil).Code)
	}

	cfg := rateLimitConfig()
	cfg.Enabled = false
	e = newEcho(t)
	e.Use(NewTokenBucket(cfg, nil, nil, zaptest.NewLogger(t)))
	e.GET("/", ok)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/", nil).Code)
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/signin", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/auth/signin")
	c.Set(ctxUserID, uint64(5))

	cfg := rateLimitConfig()
	cfg.KeyStrategy = "user_route"
	assert.Equal(t, "rl:user:5:route:POST /v1/auth/signin", buildRateKey(cfg, c, callerID(cfg, c, nil)))
	cfg.KeyStrategy = ""
	assert.Equal(t, "rl:ip:192.0.2.1:user:5:route:POST /v1/auth/signin", buildRateKey(cfg, c, callerID(cfg, c, nil)))
	assert.Equal(t, "rl:ip:192.0.2.1:user:anon:route:POST /v1/auth/signin", buildRateKey(cfg, c, 0))
}

func TestTokenBucket_KeysByBearerUser(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ts := newTokens(t)

	cfg := rateLimitConfig()
	cfg.KeyStrategy = "user"
	e := newEcho(t)
	e.Use(NewTokenBucket(cfg, rdb, ts, zaptest.NewLogger(t)))
	e.GET("/", ok)

	access, err := ts.GenerateAccessToken(7, model.RoleUser)
	require.NoError(t, err)
	bearer := map[string]string{"Authorization": "Bearer " + access}
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, do(e, http.MethodGet, "/", bearer).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, do(e, http.MethodGet, "/", bearer).Code)
	assert.True(t, mr.Exists("rl:user:7"))

	// Anonymous and invalid tokens share their own bucket.
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/", nil).Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/", map[string]string{"Authorization": "Bearer junk"}).Code)
	assert.True(t, mr.Exists("rl:user:anon"))
}

func TestTokenBucket_RefillsAtMillisecondInterval(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := rateLimitConfig()
	cfg.Capacity, cfg.RefillTokens, cfg.RefillInterval = 1, 1, time.Millisecond
	e := newEcho(t)
	e.Use(NewTokenBucket(cfg, rdb, nil, zaptest.NewLogger(t)))
	e.GET("/", ok)

	require.Equal(t, http.StatusOK, do(e, http.MethodGet, "/", nil).Code)
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/", nil).Code)
}

func TestHTTPErrorHandler(t *testing.T) {
	e := newEcho(t)
	e.GET("/boom", func(echo.Context) error { return errors.New("db password is hunter2") })
	e.GET("/conflict", func(echo.Context) error {
		return apperr.Conflict("Signup failed", "Username already taken")
	})

	rec := do(e, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, ErrorBody{Status: 500, Message: "INTERNAL_SERVER_ERROR", Errors: []string{"INTERNAL_SERVER_ERROR"}}, body)

	rec = do(e, http.MethodGet, "/conflict", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, []string{"Username already taken"}, decodeError(t, rec).Errors)

	rec = do(e, http.MethodGet, "/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Resources not found", decodeError(t, rec).Message)

	dev := echo.New()
	dev.HTTPErrorHandler = HTTPErrorHandler(zaptest.NewLogger(t), true)
	dev.GET("/boom", func(echo.Context) error { return errors.New("db down") })
	rec = do(dev, http.MethodGet, "/boom", nil)
	assert.Equal(t, []string{"db down"}, decodeError(t, rec).Errors)
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	e := newEcho(t)
	e.Use(RequestLogger(zap.New(core)))
	e.GET("/fine", ok)
	e.GET("/denied", func(echo.Context) error { return apperr.Forbidden("Forbidden") })

	rec := do(e, http.MethodGet, "/fine", map[string]string{echo.HeaderXRequestID: "req-1"})
	assert.Equal(t, "req-1", rec.Header().Get(echo.HeaderXRequestID))

	rec = do(e, http.MethodGet, "/denied", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "req-1", entries[0].ContextMap()["request_id"])
	assert.EqualValues(t, 200, entries[0].ContextMap()["status"])
	assert.EqualValues(t, 403, entries[1].ContextMap()["status"])
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
}

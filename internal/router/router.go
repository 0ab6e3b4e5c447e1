// Package router builds the echo instance and registers every route of the
// API.
package router

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/iliyamo/auth-session-service/internal/handler"
	"github.com/iliyamo/auth-session-service/internal/middleware"
	"github.com/iliyamo/auth-session-service/internal/model"
	"github.com/iliyamo/auth-session-service/internal/service"
)

// Deps carries what the routes need.  RateLimit may be nil.
type Deps struct {
	Auth      *handler.AuthHandler
	Account   *handler.AccountHandler
	OAuth     *handler.OAuthHandler
	Tokens    *service.TokenService
	Verified  middleware.VerifiedChecker
	Health    echo.HandlerFunc
	RateLimit echo.MiddlewareFunc
	Log       *zap.Logger
	// ExposeErrors includes the cause of 500 responses (development only).
	ExposeErrors bool
}

// New returns a configured echo instance with all routes registered.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = middleware.HTTPErrorHandler(d.Log, d.ExposeErrors)

	e.Use(middleware.RequestLogger(d.Log))
	e.Use(echomw.Recover())
	if d.RateLimit != nil {
		e.Use(d.RateLimit)
	}
	e.Use(middleware.CSRF(d.Tokens))

	RegisterRoutes(e, d.Health)
	RegisterAuth(e, d.Auth, d.OAuth)
	RegisterAccount(e, d.Account, d.Tokens, d.Verified)
	return e
}

// RegisterRoutes registers the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo, health echo.HandlerFunc) {
	e.GET("/healthz", health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterAuth registers the /v1/auth endpoints.  Sign-up, sign-in and
// forgot-password refuse callers that already present an access token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, o *handler.OAuthHandler) {
	g := e.Group("/v1/auth")
	guest := middleware.Guest()

	g.POST("/signup", a.Signup, guest)
	g.POST("/signin", a.Signin, guest)
	g.POST("/forgot-password", a.ForgotPassword, guest)
	g.POST("/refresh", a.Refresh)
	g.POST("/signout", a.Signout)
	g.GET("/verify-email/:token", a.VerifyEmail)
	g.POST("/reset-password/:token", a.ResetPassword)

	g.GET("/:provider", o.Begin)
	g.GET("/:provider/callback", o.Callback)
}

// RegisterAccount registers the endpoints that need a valid access token.
func RegisterAccount(e *echo.Echo, h *handler.AccountHandler, tokens middleware.AccessVerifier, verified middleware.VerifiedChecker) {
	auth := middleware.JWTAuth(tokens)

	acc := e.Group("/v1/account", auth)
	acc.GET("", h.Account)
	acc.PATCH("", h.UpdateAccount, middleware.RequireVerified(verified))
	acc.DELETE("", h.DeleteAccount)
	acc.POST("/verify-email", h.SendVerificationEmail)
	acc.DELETE("/sessions", h.SignoutAll)

	admin := e.Group("/v1/admin", auth, middleware.RequireRole(model.RoleAdmin))
	admin.GET("/users/:id/sessions", h.UserSessions)
}

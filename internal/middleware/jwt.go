package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"strings" // string utilities for prefix checking and trimming

	"github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers

	"github.com/iliyamo/auth-session-service/internal/apperr"  // typed errors rendered by HTTPErrorHandler
	"github.com/iliyamo/auth-session-service/internal/service" // access token claims
)

// AccessVerifier checks access tokens.  *service.TokenService implements it.
type AccessVerifier interface {
	VerifyAccessToken(raw string) (*service.Claims, error)
}

// JWTAuth validates the Bearer access token and stores the user id and role
// in the context for UserID and Role.  It wraps protected routes.
func JWTAuth(v AccessVerifier) echo.MiddlewareFunc {
	// The outer function runs once when the middleware is registered.
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		// The returned handler is invoked for each incoming HTTP request.
		return func(c echo.Context) error {
			// Read the Authorization header.  A missing header and a header
			// without the "Bearer " scheme get different messages.
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if auth == "" {
				return apperr.Unauthorized("Access token missing")
			}
			raw, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || raw == "" {
				return apperr.Unauthorized("Invalid access token format")
			}

			// Verify signature, algorithm and expiry.  The verifier already
			// returns a 401 apperr, so pass it through untouched.
			claims, err := v.VerifyAccessToken(raw)
			if err != nil {
				return err
			}
			// Store the subject and role for UserID and Role.
			c.Set(ctxUserID, claims.ID)
			c.Set(ctxRole, claims.Role)
			// Call the next handler in the chain and return its result.
			return next(c)
		}
	}
}

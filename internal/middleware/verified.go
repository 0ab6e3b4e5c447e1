package middleware // middleware provides shared request processing for handlers

import (
	"context" // request-scoped lookups

	"github.com/labstack/echo/v4" // echo provides middleware chaining and context

	"github.com/iliyamo/auth-session-service/internal/apperr" // 403 responses
)

// VerifiedChecker reports whether a user has confirmed its email address.
type VerifiedChecker interface {
	EmailVerified(ctx context.Context, userID uint64) (bool, error)
}

// RequireVerified lets through only users with a verified email.  It must
// run after JWTAuth.
func RequireVerified(v VerifiedChecker) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Look the user up on every request so a fresh verification
			// takes effect without a new access token.
			ok, err := v.EmailVerified(c.Request().Context(), UserID(c))
			if err != nil {
				return err
			}
			if !ok {
				return apperr.Forbidden("Email not verified")
			}
			return next(c)
		}
	}
}

package middleware // middleware provides shared request processing for handlers

import (
	"github.com/labstack/echo/v4" // echo provides middleware chaining and context

	"github.com/iliyamo/auth-session-service/internal/apperr" // 403 responses
)

// RequireRole rejects requests whose role claim is not one of roles.  It
// must run after JWTAuth, which stores the role in the context.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	// Build a set of allowed roles for constant-time lookups.
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// A missing role reads as "" and is never allowed.
			if !allowed[Role(c)] {
				return apperr.Forbidden("Forbidden")
			}
			// Otherwise call the next handler in the chain
			return next(c)
		}
	}
}

package middleware // middleware provides shared request processing for handlers

import (
	"github.com/labstack/echo/v4" // echo provides middleware chaining and context

	"github.com/iliyamo/auth-session-service/internal/apperr" // 400 responses
)

// Guest rejects requests that already carry an access token.
func Guest() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Any Authorization header counts; the token is not verified here.
			if c.Request().Header.Get(echo.HeaderAuthorization) != "" {
				return apperr.Validation("Bad Request", "Already signed in")
			}
			return next(c)
		}
	}
}

package middleware // middleware provides shared request processing for handlers

import (
	"net/http" // HTTP method names

	"github.com/labstack/echo/v4" // echo provides middleware chaining and context

	"github.com/iliyamo/auth-session-service/internal/apperr" // 403 responses
)

// HeaderCSRFToken carries the CSRF token in both directions.
const HeaderCSRFToken = "X-CSRF-Token"

// CSRFTokens issues and checks stateless CSRF tokens.
type CSRFTokens interface {
	GenerateCsrfToken() (string, error)
	VerifyCsrfToken(token string) bool
}

func stateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// CSRF hands a fresh token to GET requests that arrive without one and
// requires a valid token on state-changing methods.
func CSRF(tokens CSRFTokens) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			header := req.Header.Get(HeaderCSRFToken)

			if header == "" {
				// A GET without a token is how clients obtain one.
				if req.Method == http.MethodGet {
					tok, err := tokens.GenerateCsrfToken()
					if err != nil {
						return err
					}
					c.Response().Header().Set(HeaderCSRFToken, tok)
					return next(c)
				}
				if stateChanging(req.Method) {
					return apperr.Forbidden("CSRF token missing")
				}
				// HEAD and OPTIONS pass without a token.
				return next(c)
			}

			// Safe methods never fail on a stale token.
			if stateChanging(req.Method) && !tokens.VerifyCsrfToken(header) {
				return apperr.Forbidden("CSRF token mismatch or invalid")
			}
			return next(c)
		}
	}
}

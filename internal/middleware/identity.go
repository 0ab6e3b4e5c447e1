package middleware // middleware provides shared request processing for handlers

import "github.com/labstack/echo/v4" // echo context carries the authenticated identity

// Context keys set by JWTAuth.
const (
	ctxUserID = "user_id" // uint64 subject claim
	ctxRole   = "role"    // role claim
)

// UserID returns the authenticated user id, or 0 for guests.
func UserID(c echo.Context) uint64 {
	// The assertion fails for guests, leaving the zero value.
	id, _ := c.Get(ctxUserID).(uint64)
	return id
}

// Role returns the role claim of the authenticated user.
func Role(c echo.Context) string {
	role, _ := c.Get(ctxRole).(string)
	return role
}

package handler // HTTP handlers for the auth and account endpoints

import (
	"context" // request deadlines
	"time"    // handler timeout

	"github.com/labstack/echo/v4" // Echo framework for HTTP routing
)

// requestTimeout bounds the store calls made by one handler.
const requestTimeout = 5 * time.Second

type envelope struct {
	Success bool   `json:"success"`
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func respond(c echo.Context, status int, message string, data any) error {
	return c.JSON(status, envelope{Success: true, Status: status, Message: message, Data: data})
}

func requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

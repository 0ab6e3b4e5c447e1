package middleware // middleware provides shared request processing for handlers

import (
	"errors"   // unwrap echo.HTTPError
	"fmt"      // stringify echo messages
	"net/http" // HTTP status codes

	"github.com/labstack/echo/v4" // echo error handler hook
	"go.uber.org/zap"             // logs unhandled errors

	"github.com/iliyamo/auth-session-service/internal/apperr" // typed errors carry status and details
)

// ErrorBody is the JSON envelope of every error response.
type ErrorBody struct {
	Success bool     `json:"success"`
	Status  int      `json:"status"`
	Message string   `json:"message"`
	Errors  []string `json:"errors"`
}

const internalMessage = "INTERNAL_SERVER_ERROR"

// HTTPErrorHandler renders handled errors with their kind's status and
// collapses everything else to a 500.  The cause of a 500 is only exposed
// when exposeInternal is set.
func HTTPErrorHandler(log *zap.Logger, exposeInternal bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		// Nothing can be sent once the handler has written.
		if c.Response().Committed {
			return
		}

		body := ErrorBody{Status: http.StatusInternalServerError, Message: internalMessage}
		var he *echo.HTTPError
		if ae, ok := apperr.As(err); ok && ae.Kind != apperr.KindInternal {
			body.Status = ae.Kind.Status()
			body.Message = ae.Message
			body.Errors = ae.Details
		} else if errors.As(err, &he) && he.Code < http.StatusInternalServerError {
			body.Status = he.Code
			body.Message = fmt.Sprint(he.Message)
			if he.Code == http.StatusNotFound {
				body.Message = "Resources not found"
			}
		} else {
			// Anything unrecognised is a 500; its cause stays in the log.
			log.Error("unhandled error",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
				zap.Error(err),
				zap.Stack("stack"),
			)
			if exposeInternal {
				body.Errors = []string{err.Error()}
			}
		}
		if len(body.Errors) == 0 {
			body.Errors = []string{body.Message}
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(body.Status)
		} else {
			err = c.JSON(body.Status, body)
		}
		if err != nil {
			log.Warn("error response not written", zap.Error(err))
		}
	}
}

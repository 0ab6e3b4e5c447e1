package middleware // middleware provides shared request processing for handlers

import (
	"strconv" // status code labels
	"time"    // request latency

	"github.com/google/uuid"      // request ids
	"github.com/labstack/echo/v4" // echo provides middleware chaining and context
	"go.uber.org/zap"             // structured request log
	"go.uber.org/zap/zapcore"     // level chosen from the status

	"github.com/iliyamo/auth-session-service/internal/metrics" // HTTP counters and histograms
)

// RequestLogger assigns a request id, logs one line per request and records
// the HTTP metrics.  Handler errors are rendered here so the logged status
// is the one the client sees.
func RequestLogger(log *zap.Logger) echo.MiddlewareFunc {
	log = log.With(zap.String("component", "http"))
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			res := c.Response()

			// Reuse the caller's request id when it sends one.
			id := req.Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			res.Header().Set(echo.HeaderXRequestID, id)

			// Render the error now so res.Status is final.
			if err := next(c); err != nil {
				c.Error(err)
			}

			latency := time.Since(start)
			// Label by route pattern, not raw path, to bound cardinality.
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := res.Status
			metrics.HTTPRequestsTotal.WithLabelValues(req.Method, route, strconv.Itoa(status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(req.Method, route).Observe(latency.Seconds())

			level := zapcore.InfoLevel
			if status >= 500 {
				level = zapcore.ErrorLevel
			} else if status >= 400 {
				level = zapcore.WarnLevel
			}
			log.Check(level, "request").Write(
				zap.String("request_id", id),
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Int("status", status),
				zap.Duration("latency", latency),
				zap.String("ip", c.RealIP()),
			)
			return nil
		}
	}
}

package handler // HTTP handlers for the auth and account endpoints

import (
	"context"  // per-check deadline
	"net/http" // HTTP status codes
	"sort"     // stable check order
	"time"     // check timeout

	"github.com/labstack/echo/v4" // Echo framework for HTTP routing
)

// Check pings one dependency.
type Check func(ctx context.Context) error

// Health reports liveness plus the state of each named dependency.  Any
// failing check turns the answer into 503.
func Health(checks map[string]Check) echo.HandlerFunc {
	names := make([]string, 0, len(checks))
	for n := range checks {
		names = append(names, n)
	}
	sort.Strings(names)

	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		result := make(map[string]string, len(names))
		for _, n := range names {
			if err := checks[n](ctx); err != nil {
				result[n] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			result[n] = "ok"
		}
		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		return c.JSON(status, map[string]any{"status": state, "checks": result})
	}
}

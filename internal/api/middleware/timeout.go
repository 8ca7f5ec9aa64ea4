package middleware

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// TimeoutConfig returns timeout middleware configuration
func TimeoutConfig(timeout time.Duration) echo.MiddlewareFunc {
	return middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout:      timeout,
		ErrorMessage: `{"error":"timeout","message":"request timed out"}`,
	})
}

// SelectiveTimeoutConfig applies longTimeout to paths under longPrefixes and
// defaultTimeout everywhere else
func SelectiveTimeoutConfig(defaultTimeout, longTimeout time.Duration, longPrefixes ...string) echo.MiddlewareFunc {
	isLong := func(c echo.Context) bool {
		path := c.Request().URL.Path
		for _, prefix := range longPrefixes {
			if strings.HasPrefix(path, prefix) {
				return true
			}
		}
		return false
	}

	short := middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Skipper:      isLong,
		Timeout:      defaultTimeout,
		ErrorMessage: `{"error":"timeout","message":"request timed out"}`,
	})
	long := middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Skipper:      func(c echo.Context) bool { return !isLong(c) },
		Timeout:      longTimeout,
		ErrorMessage: `{"error":"timeout","message":"capture timed out"}`,
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return short(long(next))
	}
}

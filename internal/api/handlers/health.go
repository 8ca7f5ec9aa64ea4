package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"

	"scrapekit/internal/logging"
	"scrapekit/pkg/models"
)

// Version is reported by the health endpoints
var Version = "1.0.0"

var startTime = time.Now()

// Check probes one dependency
type Check func(ctx context.Context) error

// Checks are the readiness probes keyed by dependency name
type Checks map[string]Check

func (cs Checks) run(ctx context.Context) (map[string]string, bool) {
	names := make([]string, 0, len(cs))
	for name := range cs {
		names = append(names, name)
	}
	sort.Strings(names)

	results := map[string]string{"api": "ok"}
	ok := true
	for _, name := range names {
		if err := cs[name](ctx); err != nil {
			results[name] = err.Error()
			ok = false
			continue
		}
		results[name] = "ok"
	}
	return results, ok
}

// HealthHandler handles health check requests
func HealthHandler(c echo.Context) error {
	logging.GetGlobalLogger().Debug("Health check requested", map[string]interface{}{"request_id": requestID(c)})

	return c.JSON(http.StatusOK, models.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   Version,
		Uptime:    time.Since(startTime),
		Checks: map[string]string{
			"api": "ok",
		},
	})
}

// ReadinessHandler fails with 503 while any dependency check fails
func ReadinessHandler(checks Checks) echo.HandlerFunc {
	return func(c echo.Context) error {
		logger := logging.LogWithRequestID(requestID(c))

		results, ok := checks.run(c.Request().Context())
		status, code := "ready", http.StatusOK
		if !ok {
			status, code = "not_ready", http.StatusServiceUnavailable
			logger.Warn("Readiness check failed", map[string]interface{}{"checks": results})
		}

		return c.JSON(code, models.HealthResponse{
			Status:    status,
			Timestamp: time.Now(),
			Version:   Version,
			Uptime:    time.Since(startTime),
			Checks:    results,
		})
	}
}

// LivenessHandler handles liveness probe requests
func LivenessHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, models.HealthResponse{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   Version,
		Uptime:    time.Since(startTime),
	})
}

// StatusHandler reports every dependency without failing the request
func StatusHandler(checks Checks) echo.HandlerFunc {
	return func(c echo.Context) error {
		results, ok := checks.run(c.Request().Context())
		status := "operational"
		if !ok {
			status = "degraded"
		}

		return c.JSON(http.StatusOK, models.HealthResponse{
			Status:    status,
			Timestamp: time.Now(),
			Version:   Version,
			Uptime:    time.Since(startTime),
			Checks:    results,
		})
	}
}

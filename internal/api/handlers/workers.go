package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"scrapekit/internal/logging"
	"scrapekit/internal/workers"
	"scrapekit/pkg/models"
)

// WorkerStatsHandler returns worker pool statistics
func WorkerStatsHandler(poolManager *workers.PoolManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		reqID := requestID(c)
		logger := logging.LogWithRequestID(reqID)

		stats, err := poolManager.GetStats()
		if err != nil {
			logger.Error("Failed to get worker stats", map[string]interface{}{"error": err.Error()})
			return c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{
				Error:     "stats_unavailable",
				Message:   "Worker pool statistics are not available",
				RequestID: reqID,
				Timestamp: time.Now(),
			})
		}

		return c.JSON(http.StatusOK, map[string]interface{}{
			"success":    true,
			"stats":      stats,
			"request_id": reqID,
			"timestamp":  time.Now(),
		})
	}
}

// WorkerHealthHandler returns worker pool health status
func WorkerHealthHandler(poolManager *workers.PoolManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		healthy := poolManager.IsHealthy()
		status := "healthy"
		httpStatus := http.StatusOK

		if !healthy {
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}

		return c.JSON(httpStatus, map[string]interface{}{
			"success":    healthy,
			"status":     status,
			"request_id": requestID(c),
			"timestamp":  time.Now(),
		})
	}
}

// DomainStatsHandler returns rate limiting statistics for a specific domain
func DomainStatsHandler(poolManager *workers.PoolManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		reqID := requestID(c)
		domain := c.Param("domain")

		stats, err := poolManager.GetDomainStats(domain)
		if err != nil {
			return errorResponse(c, reqID, err)
		}

		return c.JSON(http.StatusOK, map[string]interface{}{
			"success":    true,
			"domain":     domain,
			"stats":      stats,
			"request_id": reqID,
			"timestamp":  time.Now(),
		})
	}
}

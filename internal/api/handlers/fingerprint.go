package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"scrapekit/internal/fingerprint"
	"scrapekit/internal/logging"
	"scrapekit/pkg/models"
)

// FingerprintHandler returns the stored profile for ?domain=, or a fresh one
func FingerprintHandler(gen *fingerprint.Generator, store fingerprint.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		reqID := requestID(c)
		logger := logging.LogWithRequestID(reqID)
		domain := c.QueryParam("domain")

		var profile fingerprint.Profile
		if domain == "" {
			profile = gen.Generate()
		} else {
			var err error
			profile, err = store.ForDomain(c.Request().Context(), domain)
			if err != nil {
				logger.Error("Fingerprint lookup failed", map[string]interface{}{
					"domain": domain,
					"error":  err.Error(),
				})
				return errorResponse(c, reqID, err)
			}
		}

		logger.Debug("Fingerprint served", map[string]interface{}{
			"domain":     domain,
			"user_agent": profile.UserAgent,
		})
		return c.JSON(http.StatusOK, models.FingerprintResponse{
			Domain:    domain,
			Profile:   profile,
			Signals:   profile.Signals(),
			RequestID: reqID,
		})
	}
}

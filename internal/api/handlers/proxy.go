package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"scrapekit/internal/config"
	"scrapekit/internal/logging"
	"scrapekit/internal/proxy"
	"scrapekit/pkg/models"
	"scrapekit/pkg/utils"
)

func noProxyConfigured(c echo.Context, reqID string) error {
	return errorResponse(c, reqID, utils.NewNotFoundError("no proxy provider configured"))
}

// ProxyHandler returns the rotator's next endpoint with the password redacted
func ProxyHandler(rotator proxy.Rotator) echo.HandlerFunc {
	return func(c echo.Context) error {
		reqID := requestID(c)
		if rotator == nil {
			return noProxyConfigured(c, reqID)
		}

		ep, err := rotator.GetProxy(c.Request().Context())
		if err != nil {
			return errorResponse(c, reqID, err)
		}
		return c.JSON(http.StatusOK, models.ProxyResponse{
			Provider:  rotator.Name(),
			Proxy:     ep.String(),
			RequestID: reqID,
		})
	}
}

// VerifyProxyHandler reports the exit IP of the given proxy or the next rotated one
func VerifyProxyHandler(cfg config.ProxyConfig, rotator proxy.Rotator) echo.HandlerFunc {
	return func(c echo.Context) error {
		reqID := requestID(c)
		logger := logging.LogWithRequestID(reqID)

		var req models.VerifyProxyRequest
		if err := c.Bind(&req); err != nil {
			return bindError(c, reqID)
		}

		var (
			ep       proxy.Endpoint
			provider = "request"
			err      error
		)
		switch {
		case req.Proxy != "":
			ep, err = proxy.ParseEndpoint(req.Proxy)
		case rotator != nil:
			provider = rotator.Name()
			ep, err = rotator.GetProxy(c.Request().Context())
		default:
			return noProxyConfigured(c, reqID)
		}
		if err != nil {
			return errorResponse(c, reqID, err)
		}

		result, err := proxy.Verify(c.Request().Context(), ep, cfg.VerifyURL, cfg.VerifyTimeout)
		if err != nil {
			logger.Warn("Proxy verification failed", map[string]interface{}{
				"proxy": ep.String(),
				"error": err.Error(),
			})
			return errorResponse(c, reqID, err)
		}

		logger.Info("Proxy verified", map[string]interface{}{
			"proxy":   ep.String(),
			"exit_ip": result.IP,
			"latency": result.Latency.String(),
		})
		return c.JSON(http.StatusOK, models.ProxyResponse{
			Provider:  provider,
			Proxy:     ep.String(),
			ExitIP:    result.IP,
			LatencyMS: result.Latency.Milliseconds(),
			RequestID: reqID,
		})
	}
}

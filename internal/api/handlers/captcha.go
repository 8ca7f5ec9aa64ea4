package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"scrapekit/internal/captcha"
	"scrapekit/internal/logging"
	"scrapekit/pkg/models"
	"scrapekit/pkg/utils"
)

func noSolverConfigured(c echo.Context, reqID string) error {
	return errorResponse(c, reqID, utils.NewNotFoundError("no captcha provider configured"))
}

// CaptchaBalanceHandler reports the solver account balance
func CaptchaBalanceHandler(solver captcha.Solver) echo.HandlerFunc {
	return func(c echo.Context) error {
		reqID := requestID(c)
		if solver == nil {
			return noSolverConfigured(c, reqID)
		}

		balance, err := solver.Balance(c.Request().Context())
		if err != nil {
			return errorResponse(c, reqID, err)
		}
		return c.JSON(http.StatusOK, models.CaptchaResponse{
			Provider:  solver.Name(),
			Balance:   &balance,
			RequestID: reqID,
		})
	}
}

// SolveCaptchaHandler obtains a token for a site key without opening a browser
func SolveCaptchaHandler(solver captcha.Solver) echo.HandlerFunc {
	return func(c echo.Context) error {
		reqID := requestID(c)
		logger := logging.LogWithRequestID(reqID)
		if solver == nil {
			return noSolverConfigured(c, reqID)
		}

		var req models.SolveCaptchaRequest
		if err := c.Bind(&req); err != nil {
			return bindError(c, reqID)
		}
		if err := validate.Struct(req); err != nil {
			return validationError(c, reqID, err)
		}

		sol, err := captcha.Solve(c.Request().Context(), solver, captcha.Challenge{
			URL:     req.WebsiteURL,
			SiteKey: req.WebsiteKey,
			Type:    captcha.Type(req.Type),
		})
		if err != nil {
			logger.Error("Captcha solve failed", map[string]interface{}{
				"provider": solver.Name(),
				"type":     req.Type,
				"error":    err.Error(),
			})
			return errorResponse(c, reqID, err)
		}

		logger.Info("Captcha solved", map[string]interface{}{
			"provider": sol.Provider,
			"task_id":  sol.TaskID,
			"duration": sol.Duration.String(),
		})
		return c.JSON(http.StatusOK, models.CaptchaResponse{
			Provider:  sol.Provider,
			Token:     sol.Token,
			TaskID:    sol.TaskID,
			RequestID: reqID,
		})
	}
}

// DetectCaptchaHandler runs challenge detection on submitted markup
func DetectCaptchaHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		reqID := requestID(c)

		var req models.DetectCaptchaRequest
		if err := c.Bind(&req); err != nil {
			return bindError(c, reqID)
		}
		if err := validate.Struct(req); err != nil {
			return validationError(c, reqID, err)
		}

		resp := models.CaptchaResponse{RequestID: reqID}
		ch, found := captcha.Detect(req.HTML, req.URL)
		resp.Found = &found
		if found {
			resp.Challenge = ch
		}
		return c.JSON(http.StatusOK, resp)
	}
}

// CaptchaDomainsHandler lists the domains known to serve challenges
func CaptchaDomainsHandler(domains *captcha.DomainRegistry) echo.HandlerFunc {
	return func(c echo.Context) error {
		reqID := requestID(c)
		if domains == nil {
			return errorResponse(c, reqID, utils.NewNotFoundError("captcha domain registry disabled"))
		}

		known := domains.Domains()
		return c.JSON(http.StatusOK, models.CaptchaDomainsResponse{
			Count:     len(known),
			Domains:   known,
			RequestID: reqID,
		})
	}
}

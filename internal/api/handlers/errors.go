package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"scrapekit/pkg/models"
	"scrapekit/pkg/utils"
)

var validate = validator.New()

// requestID returns the id assigned by the request middleware, or a fresh one
func requestID(c echo.Context) string {
	if id, ok := c.Get("request_id").(string); ok && id != "" {
		return id
	}
	return utils.GenerateRequestID()
}

func validationError(c echo.Context, reqID string, err error) error {
	return c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Error:     "validation_failed",
		Message:   err.Error(),
		RequestID: reqID,
		Timestamp: time.Now(),
	})
}

func bindError(c echo.Context, reqID string) error {
	return c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Error:     "invalid_request",
		Message:   "Failed to parse request body",
		RequestID: reqID,
		Timestamp: time.Now(),
	})
}

// errorResponse maps a pipeline error onto its HTTP status and kind
func errorResponse(c echo.Context, reqID string, err error) error {
	status := utils.StatusCode(err)
	code := string(utils.KindOf(err))

	if utils.KindOf(err) == utils.KindInternal {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			status, code = http.StatusGatewayTimeout, "timeout"
		case errors.Is(err, context.Canceled):
			status, code = 499, "canceled"
		}
	}

	return c.JSON(status, models.ErrorResponse{
		Error:     code,
		Message:   err.Error(),
		RequestID: reqID,
		Timestamp: time.Now(),
	})
}

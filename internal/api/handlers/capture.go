package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"scrapekit/internal/background"
	"scrapekit/internal/logging"
	"scrapekit/internal/pipeline"
	"scrapekit/internal/workers"
	"scrapekit/pkg/models"
)

func toPipelineRequest(req models.CaptureRequest) pipeline.Request {
	return pipeline.Request{
		URL:         req.URL,
		Name:        req.Name,
		Screenshot:  req.Screenshot,
		SkipCaptcha: req.SkipCaptcha,
	}
}

// CaptureHandler runs one capture on the worker pool and waits for the bundle
func CaptureHandler(poolManager *workers.PoolManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		startTime := time.Now()
		reqID := requestID(c)
		logger := logging.LogWithRequestID(reqID)

		var req models.CaptureRequest
		if err := c.Bind(&req); err != nil {
			logger.Warn("Failed to bind capture request", map[string]interface{}{"error": err.Error()})
			return bindError(c, reqID)
		}
		if err := validate.Struct(req); err != nil {
			return validationError(c, reqID, err)
		}

		logger.Info("Capture request received", map[string]interface{}{
			"url":          req.URL,
			"screenshot":   req.Screenshot,
			"skip_captcha": req.SkipCaptcha,
		})

		jobResult, err := poolManager.Submit(c.Request().Context(), toPipelineRequest(req))
		if err == nil {
			err = jobResult.Error
		}
		if err != nil {
			logger.Error("Capture failed", map[string]interface{}{
				"url":   req.URL,
				"error": err.Error(),
			})
			return errorResponse(c, reqID, err)
		}

		processingTime := time.Since(startTime)
		logger.Info("Capture completed", map[string]interface{}{
			"url":             req.URL,
			"processing_time": processingTime.String(),
		})

		return c.JSON(http.StatusOK, models.CaptureResponse{
			Success:        true,
			Data:           jobResult.Result,
			ProcessingTime: processingTime,
			RequestID:      reqID,
		})
	}
}

// CaptureAsyncHandler queues a capture and returns its process id
func CaptureAsyncHandler(taskManager *background.TaskManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		reqID := requestID(c)
		logger := logging.LogWithRequestID(reqID)

		var req models.CaptureRequest
		if err := c.Bind(&req); err != nil {
			return bindError(c, reqID)
		}
		if err := validate.Struct(req); err != nil {
			return validationError(c, reqID, err)
		}

		processID, err := taskManager.SubmitCapture(c.Request().Context(), toPipelineRequest(req))
		if err != nil {
			logger.Error("Failed to queue capture", map[string]interface{}{"error": err.Error()})
			return errorResponse(c, reqID, err)
		}

		logger.Info("Capture queued", map[string]interface{}{
			"process_id": processID,
			"url":        req.URL,
		})
		return c.JSON(http.StatusAccepted, models.CreateAsyncCaptureResponse(processID))
	}
}

func toTaskStatusResponse(r *background.TaskResult) models.AsyncTaskStatusResponse {
	resp := models.AsyncTaskStatusResponse{
		ProcessID:      r.ProcessID,
		Status:         models.AsyncStatus(r.Status),
		Error:          r.Error,
		ErrorKind:      string(r.ErrorKind),
		CreatedAt:      r.CreatedAt,
		CompletedAt:    r.CompletedAt,
		ProcessingTime: r.ProcessingTime,
		Metadata:       r.Metadata,
	}
	if r.Data != nil {
		resp.Data = r.Data
	}
	return resp
}

// TaskStatusHandler reports one background capture
func TaskStatusHandler(taskManager *background.TaskManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		reqID := requestID(c)

		result, err := taskManager.GetTaskResult(c.Request().Context(), c.Param("processId"))
		if err != nil {
			return errorResponse(c, reqID, err)
		}
		return c.JSON(http.StatusOK, toTaskStatusResponse(result))
	}
}

// ListTasksHandler lists background captures, newest first
func ListTasksHandler(taskManager *background.TaskManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		reqID := requestID(c)

		results, err := taskManager.ListTasks(c.Request().Context())
		if err != nil {
			return errorResponse(c, reqID, err)
		}

		tasks := make([]models.AsyncTaskStatusResponse, 0, len(results))
		for _, r := range results {
			tasks = append(tasks, toTaskStatusResponse(r))
		}
		return c.JSON(http.StatusOK, models.AsyncTaskListResponse{
			Success: true,
			Tasks:   tasks,
			Count:   len(tasks),
		})
	}
}

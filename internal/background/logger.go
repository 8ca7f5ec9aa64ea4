package background

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"scrapekit/internal/logging"
	"scrapekit/internal/logging/types"
)

// TaskCompletionLogger writes one JSON line per finished task for log
// collectors and mirrors task transitions to the application logger
type TaskCompletionLogger struct {
	logger types.Logger
	out    io.Writer
}

// NewTaskCompletionLogger creates a new task completion logger writing to stdout
func NewTaskCompletionLogger() *TaskCompletionLogger {
	return &TaskCompletionLogger{
		logger: logging.GetGlobalLogger(),
		out:    os.Stdout,
	}
}

// TaskCompletionLog represents the structured log entry for task completion
type TaskCompletionLog struct {
	ProcessID      string                 `json:"processId"`
	Status         string                 `json:"status"`
	Error          string                 `json:"error,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	Operation      string                 `json:"operation"`
	ProcessingTime string                 `json:"processing_time"`
	BundleURL      string                 `json:"bundle_url,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// CreateTaskCompletionLog creates a TaskCompletionLog from a TaskResult
func CreateTaskCompletionLog(result *TaskResult) *TaskCompletionLog {
	processingTime := "0s"
	if result.ProcessingTime != nil {
		processingTime = result.ProcessingTime.String()
	}

	entry := &TaskCompletionLog{
		ProcessID:      result.ProcessID,
		Status:         string(result.Status),
		Error:          result.Error,
		Timestamp:      time.Now(),
		Operation:      string(result.Type),
		ProcessingTime: processingTime,
		Metadata:       result.Metadata,
	}
	if result.Data != nil && result.Data.Bundle != nil {
		entry.BundleURL = result.Data.Bundle.RemoteURL
	}
	return entry
}

// LogTaskCompletion writes the completion line
func (l *TaskCompletionLogger) LogTaskCompletion(result *TaskResult) error {
	jsonData, err := json.Marshal(CreateTaskCompletionLog(result))
	if err != nil {
		return fmt.Errorf("failed to marshal task completion log: %w", err)
	}
	if _, err := l.out.Write(append(jsonData, '\n')); err != nil {
		return fmt.Errorf("failed to write task completion log: %w", err)
	}

	l.logger.Info("Background task completed", map[string]interface{}{
		"process_id": result.ProcessID,
		"status":     string(result.Status),
		"operation":  string(result.Type),
	})
	return nil
}

// LogTaskAccepted logs when a task is accepted for processing
func (l *TaskCompletionLogger) LogTaskAccepted(processID string, taskType TaskType) {
	l.logger.Info("Background task accepted", map[string]interface{}{
		"process_id": processID,
		"operation":  string(taskType),
		"status":     string(TaskStatusAccepted),
	})
}

// LogTaskStart logs when a task starts processing
func (l *TaskCompletionLogger) LogTaskStart(processID string, taskType TaskType) {
	l.logger.Info("Background task started", map[string]interface{}{
		"process_id": processID,
		"operation":  string(taskType),
		"status":     string(TaskStatusProcessing),
	})
}

// LogTaskError logs task errors during processing
func (l *TaskCompletionLogger) LogTaskError(processID string, taskType TaskType, err error) {
	l.logger.Error("Background task failed", map[string]interface{}{
		"process_id": processID,
		"operation":  string(taskType),
		"status":     string(TaskStatusFailure),
		"error":      err.Error(),
	})
}

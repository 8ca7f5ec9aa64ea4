package models

import (
	"time"
)

// AsyncStatus represents the status of an async operation
type AsyncStatus string

const (
	AsyncStatusAccepted   AsyncStatus = "ACCEPTED"
	AsyncStatusProcessing AsyncStatus = "PROCESSING"
	AsyncStatusSuccess    AsyncStatus = "SUCCESS"
	AsyncStatusFailure    AsyncStatus = "FAILURE"
)

// AsyncCaptureResponse represents the immediate response from the async capture endpoint
type AsyncCaptureResponse struct {
	ProcessID string      `json:"processId"`
	Status    AsyncStatus `json:"status"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
}

// AsyncTaskStatusResponse represents the response for task status queries
type AsyncTaskStatusResponse struct {
	ProcessID      string                 `json:"processId"`
	Status         AsyncStatus            `json:"status"`
	Data           interface{}            `json:"data,omitempty"`
	Error          string                 `json:"error,omitempty"`
	ErrorKind      string                 `json:"errorKind,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
	CompletedAt    *time.Time             `json:"completedAt,omitempty"`
	ProcessingTime *time.Duration         `json:"processingTime,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// AsyncTaskListResponse represents the response for listing tasks
type AsyncTaskListResponse struct {
	Success bool                      `json:"success"`
	Tasks   []AsyncTaskStatusResponse `json:"tasks"`
	Count   int                       `json:"count"`
}

// CreateAsyncCaptureResponse creates a successful async capture response
func CreateAsyncCaptureResponse(processID string) *AsyncCaptureResponse {
	return &AsyncCaptureResponse{
		ProcessID: processID,
		Status:    AsyncStatusAccepted,
		Message:   "Capture request accepted for background processing",
		Timestamp: time.Now(),
	}
}

// IsCompleted checks if the async task has completed (success or failure)
func (r *AsyncTaskStatusResponse) IsCompleted() bool {
	return r.Status == AsyncStatusSuccess || r.Status == AsyncStatusFailure
}

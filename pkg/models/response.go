package models

import "time"

// CaptureResponse represents the response from a synchronous capture
type CaptureResponse struct {
	Success        bool          `json:"success"`
	Data           interface{}   `json:"data,omitempty"`
	ProcessingTime time.Duration `json:"processing_time"`
	RequestID      string        `json:"request_id"`
}

// FingerprintResponse carries one generated or stored profile
type FingerprintResponse struct {
	Domain    string            `json:"domain,omitempty"`
	Profile   interface{}       `json:"profile"`
	Signals   map[string]string `json:"signals"`
	RequestID string            `json:"request_id"`
}

// ProxyResponse carries one rotated endpoint with the password redacted
type ProxyResponse struct {
	Provider  string `json:"provider"`
	Proxy     string `json:"proxy"`
	ExitIP    string `json:"exit_ip,omitempty"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
	RequestID string `json:"request_id"`
}

// CaptchaResponse carries a solver result, a detection result or a balance
type CaptchaResponse struct {
	Provider  string      `json:"provider,omitempty"`
	Found     *bool       `json:"found,omitempty"`
	Challenge interface{} `json:"challenge,omitempty"`
	Token     string      `json:"token,omitempty"`
	TaskID    string      `json:"task_id,omitempty"`
	Balance   *float64    `json:"balance,omitempty"`
	RequestID string      `json:"request_id"`
}

// CaptchaDomainsResponse lists domains that served a challenge and when each was first seen
type CaptchaDomainsResponse struct {
	Count     int                  `json:"count"`
	Domains   map[string]time.Time `json:"domains"`
	RequestID string               `json:"request_id"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    time.Duration     `json:"uptime"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

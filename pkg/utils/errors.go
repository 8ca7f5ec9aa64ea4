package utils

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a CustomError so callers can branch on it with errors.Is
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindLaunch        ErrorKind = "launch"
	KindNavigation    ErrorKind = "navigation"
	KindNotFound      ErrorKind = "not_found"
	KindSubmission    ErrorKind = "submission"
	KindIO            ErrorKind = "io"
	KindSolveTimeout  ErrorKind = "solve_timeout"
	KindSolveRejected ErrorKind = "solve_rejected"
	KindRateLimited   ErrorKind = "rate_limited"
	KindUnavailable   ErrorKind = "unavailable"
	KindInternal      ErrorKind = "internal"
)

// Kind sentinels, usable as errors.Is(err, utils.ErrNotFound)
var (
	ErrValidation    = &CustomError{Kind: KindValidation}
	ErrLaunch        = &CustomError{Kind: KindLaunch}
	ErrNavigation    = &CustomError{Kind: KindNavigation}
	ErrNotFound      = &CustomError{Kind: KindNotFound}
	ErrSubmission    = &CustomError{Kind: KindSubmission}
	ErrIO            = &CustomError{Kind: KindIO}
	ErrSolveTimeout  = &CustomError{Kind: KindSolveTimeout}
	ErrSolveRejected = &CustomError{Kind: KindSolveRejected}
	ErrRateLimited   = &CustomError{Kind: KindRateLimited}
	ErrUnavailable   = &CustomError{Kind: KindUnavailable}
)

// CustomError represents a custom application error
type CustomError struct {
	Kind    ErrorKind `json:"kind"`
	Code    int       `json:"code"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
	Err     error     `json:"-"`
}

func (e *CustomError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the underlying cause
func (e *CustomError) Unwrap() error {
	return e.Err
}

// Is matches any CustomError of the same kind
func (e *CustomError) Is(target error) bool {
	t, ok := target.(*CustomError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first CustomError in the chain
func KindOf(err error) ErrorKind {
	var ce *CustomError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// StatusCode returns the HTTP status associated with err
func StatusCode(err error) int {
	var ce *CustomError
	if errors.As(err, &ce) && ce.Code != 0 {
		return ce.Code
	}
	return http.StatusInternalServerError
}

func newError(kind ErrorKind, code int, message, detail string, cause error) *CustomError {
	return &CustomError{
		Kind:    kind,
		Code:    code,
		Message: message,
		Detail:  detail,
		Err:     cause,
	}
}

func NewValidationError(detail string) *CustomError {
	return newError(KindValidation, http.StatusBadRequest, "Validation failed", detail, nil)
}

// NewLaunchError is returned when the automation engine cannot start
func NewLaunchError(detail string, cause error) *CustomError {
	return newError(KindLaunch, http.StatusServiceUnavailable, "Browser launch failed", detail, cause)
}

// NewNavigationError covers network failures, timeouts and invalid session state
func NewNavigationError(detail string, cause error) *CustomError {
	return newError(KindNavigation, http.StatusBadGateway, "Navigation failed", detail, cause)
}

func NewNotFoundError(detail string) *CustomError {
	return newError(KindNotFound, http.StatusNotFound, "Not found", detail, nil)
}

func NewSubmissionError(detail string, cause error) *CustomError {
	return newError(KindSubmission, http.StatusConflict, "Captcha submission failed", detail, cause)
}

func NewIOError(detail string, cause error) *CustomError {
	return newError(KindIO, http.StatusInternalServerError, "I/O failure", detail, cause)
}

func NewSolveTimeoutError(detail string, cause error) *CustomError {
	return newError(KindSolveTimeout, http.StatusGatewayTimeout, "Captcha solve timed out", detail, cause)
}

func NewSolveRejectedError(detail string, cause error) *CustomError {
	return newError(KindSolveRejected, http.StatusBadGateway, "Captcha solve rejected", detail, cause)
}

func NewRateLimitError(detail string) *CustomError {
	return newError(KindRateLimited, http.StatusTooManyRequests, "Rate limit exceeded", detail, nil)
}

// NewUnavailableError is returned when the worker pool cannot accept work
func NewUnavailableError(detail string) *CustomError {
	return newError(KindUnavailable, http.StatusServiceUnavailable, "Service unavailable", detail, nil)
}

func NewInternalServerError(message string) *CustomError {
	return newError(KindInternal, http.StatusInternalServerError, message, "", nil)
}

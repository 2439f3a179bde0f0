package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeInput represents invalid or missing caller input
	ErrorTypeInput ErrorType = "input"
	// ErrorTypeNotFound represents an unknown site key
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeUpstream represents a render/navigation fault after retries
	ErrorTypeUpstream ErrorType = "upstream"
	// ErrorTypeUnavailable represents a missing renderer dependency
	ErrorTypeUnavailable ErrorType = "unavailable"
	// ErrorTypeAuth represents a batch-trigger secret mismatch
	ErrorTypeAuth ErrorType = "auth"
	// ErrorTypeRateLimit represents a client exceeding its request budget
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeInternal represents anything unexpected
	ErrorTypeInternal ErrorType = "internal"
)

// PipelineError is a typed failure raised by a pipeline stage
type PipelineError struct {
	Type    ErrorType
	Stage   string
	Message string
	Err     error
	Time    time.Time
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Type, e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Stage, e.Message)
}

// Unwrap returns the underlying error
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Status maps the error type to an HTTP status code
func (e *PipelineError) Status() int {
	switch e.Type {
	case ErrorTypeInput:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeUpstream:
		return http.StatusBadGateway
	case ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	case ErrorTypeAuth:
		return http.StatusUnauthorized
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the machine-readable error code
func (e *PipelineError) Code() string {
	return fmt.Sprintf("%s_%s", e.Stage, e.Type)
}

// Detail returns the human-readable detail string
func (e *PipelineError) Detail() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// New creates a new PipelineError
func New(errType ErrorType, stage, message string, err error) *PipelineError {
	return &PipelineError{
		Type:    errType,
		Stage:   stage,
		Message: message,
		Err:     err,
		Time:    time.Now(),
	}
}

// NewInput creates a new input error
func NewInput(stage, message string) *PipelineError {
	return New(ErrorTypeInput, stage, message, nil)
}

// NewNotFound creates a new not-found error
func NewNotFound(stage, message string) *PipelineError {
	return New(ErrorTypeNotFound, stage, message, nil)
}

// NewUpstream creates a new upstream failure
func NewUpstream(stage, message string, err error) *PipelineError {
	return New(ErrorTypeUpstream, stage, message, err)
}

// NewUnavailable creates a new service-unavailable error
func NewUnavailable(stage, message string, err error) *PipelineError {
	return New(ErrorTypeUnavailable, stage, message, err)
}

// NewAuth creates a new auth error
func NewAuth(stage, message string) *PipelineError {
	return New(ErrorTypeAuth, stage, message, nil)
}

// NewRateLimit creates a new rate limit error
func NewRateLimit(stage string, window time.Duration) *PipelineError {
	return New(ErrorTypeRateLimit, stage, fmt.Sprintf("rate limited for %v", window), nil)
}

// NewInternal creates a new internal fault
func NewInternal(stage, message string, err error) *PipelineError {
	return New(ErrorTypeInternal, stage, message, err)
}

// As returns the first PipelineError in err's chain
func As(err error) (*PipelineError, bool) {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsType reports whether err carries a PipelineError of the given type
func IsType(err error, errType ErrorType) bool {
	pe, ok := As(err)
	return ok && pe.Type == errType
}

// StatusOf maps any error to status, code and detail for the HTTP boundary.
// Untyped errors are internal faults.
func StatusOf(err error) (int, string, string) {
	if pe, ok := As(err); ok {
		return pe.Status(), pe.Code(), pe.Detail()
	}
	return http.StatusInternalServerError, "internal", err.Error()
}

package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a specific error type for pipeline operations.
type ErrorCode string

const (
	// ErrCodeUnauthorized indicates authentication failure.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrCodeRateLimitExceeded indicates rate limit has been exceeded.
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeNotFound indicates the requested entity does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeProviderUnavailable indicates an external AI provider call failed.
	ErrCodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	// ErrCodeDisabled indicates a feature is turned off by configuration.
	// It is always a skip-signal, never surfaced to the end user as an error.
	ErrCodeDisabled ErrorCode = "DISABLED"
	// ErrCodeMalformedInput indicates unparseable structured model output.
	ErrCodeMalformedInput ErrorCode = "MALFORMED_INPUT"
	// ErrCodeStorageFailure indicates a persistence or query error.
	ErrCodeStorageFailure ErrorCode = "STORAGE_FAILURE"
	// ErrCodeStreamTransportFailure indicates the generation stream broke mid-flight.
	ErrCodeStreamTransportFailure ErrorCode = "STREAM_TRANSPORT_FAILURE"
	// ErrCodeInternal indicates an unclassified server-side failure.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// PipelineError represents a structured error for pipeline operations.
type PipelineError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Convenience constructors for common error types.

// Unauthorized creates an unauthorized error.
func Unauthorized(msg string) *PipelineError {
	return &PipelineError{Code: ErrCodeUnauthorized, Message: msg}
}

// RateLimitExceeded creates a rate limit exceeded error.
func RateLimitExceeded(msg string) *PipelineError {
	return &PipelineError{Code: ErrCodeRateLimitExceeded, Message: msg}
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *PipelineError {
	return &PipelineError{Code: ErrCodeInvalidArgument, Message: msg}
}

// NotFound creates a not found error.
func NotFound(msg string) *PipelineError {
	return &PipelineError{Code: ErrCodeNotFound, Message: msg}
}

// ProviderUnavailable creates a provider unavailable error.
func ProviderUnavailable(msg string, cause error) *PipelineError {
	return &PipelineError{Code: ErrCodeProviderUnavailable, Message: msg, Cause: cause}
}

// Disabled creates a disabled-feature skip signal.
func Disabled(feature string) *PipelineError {
	return &PipelineError{
		Code:    ErrCodeDisabled,
		Message: fmt.Sprintf("%s is disabled by configuration", feature),
	}
}

// MalformedInput creates a malformed input error.
func MalformedInput(msg string, cause error) *PipelineError {
	return &PipelineError{Code: ErrCodeMalformedInput, Message: msg, Cause: cause}
}

// StorageFailure creates a storage failure error.
func StorageFailure(msg string, cause error) *PipelineError {
	return &PipelineError{Code: ErrCodeStorageFailure, Message: msg, Cause: cause}
}

// StreamTransportFailure creates a stream transport failure error.
func StreamTransportFailure(msg string, cause error) *PipelineError {
	return &PipelineError{Code: ErrCodeStreamTransportFailure, Message: msg, Cause: cause}
}

// Internal creates an internal error.
func Internal(msg string, cause error) *PipelineError {
	return &PipelineError{Code: ErrCodeInternal, Message: msg, Cause: cause}
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// CodeOf extracts the error code from any error.
// Returns ErrCodeInternal if the error is not a PipelineError.
func CodeOf(err error) ErrorCode {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrCodeInternal
}

// HTTPStatus maps an error code to its HTTP status semantics.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrCodeInvalidArgument, ErrCodeMalformedInput:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeProviderUnavailable, ErrCodeDisabled:
		return http.StatusServiceUnavailable
	case ErrCodeStorageFailure, ErrCodeStreamTransportFailure, ErrCodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

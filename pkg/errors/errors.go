package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorType represents different types of upstream errors
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeMalformed   ErrorType = "malformed"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeBadRequest  ErrorType = "bad_request"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Process exit codes
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitConfigError = 2
)

// Error represents a search API error with type information
type Error struct {
	Type    ErrorType
	Message string
	Code    int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError, ErrorTypeMalformed, ErrorTypeParsing:
		return true
	default:
		return false
	}
}

// TypeForStatus maps an HTTP status code to an error type
func TypeForStatus(statusCode int) ErrorType {
	switch {
	case statusCode == 0:
		return ErrorTypeNetwork
	case statusCode == 401 || statusCode == 403:
		return ErrorTypeAuth
	case statusCode == 404:
		return ErrorTypeNotFound
	case statusCode == 429:
		return ErrorTypeRateLimit
	case statusCode >= 500:
		return ErrorTypeServerError
	case statusCode >= 400:
		return ErrorTypeBadRequest
	default:
		return ErrorTypeUnknown
	}
}

// ErrMalformedResponse is returned when a search response lacks hitCount.
var ErrMalformedResponse = &Error{
	Type:    ErrorTypeMalformed,
	Message: "response is missing hitCount",
}

// ResumableFailure stops a run cleanly. The last durable checkpoint remains
// valid and the next invocation resumes from it.
type ResumableFailure struct {
	// Cursor is the cursor whose page could not be fetched
	Cursor string
	// Attempts is how many requests were made for that cursor
	Attempts int
	// Graceful selects a success-like exit
	Graceful bool
	Err      error
}

func (f *ResumableFailure) Error() string {
	mode := "hard"
	if f.Graceful {
		mode = "graceful"
	}
	cursor := f.Cursor
	if cursor == "" {
		cursor = "<start>"
	}
	return fmt.Sprintf("resumable failure (%s) at cursor %s after %d attempts: %v", mode, cursor, f.Attempts, f.Err)
}

func (f *ResumableFailure) Unwrap() error {
	return f.Err
}

// ConfigError is raised before any fetch when the run cannot be set up.
type ConfigError struct {
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Message, e.Err)
	}
	return "configuration error: " + e.Message
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError wraps err as a configuration error
func NewConfigError(message string, err error) *ConfigError {
	return &ConfigError{Message: message, Err: err}
}

// CheckpointError reports a checkpoint store failure. It is always fatal.
type CheckpointError struct {
	Op       string
	Sequence int
	Err      error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s failed (sequence %d): %v", e.Op, e.Sequence, e.Err)
}

func (e *CheckpointError) Unwrap() error {
	return e.Err
}

// ExitCode maps a run error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return ExitConfigError
	}

	var rf *ResumableFailure
	if errors.As(err, &rf) {
		if rf.Graceful {
			return ExitOK
		}
		return ExitFailure
	}

	if errors.Is(err, context.Canceled) {
		return ExitOK
	}

	return ExitFailure
}

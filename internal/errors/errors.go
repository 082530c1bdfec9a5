package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	// ErrNotFound indicates a file or binary was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates invalid input data
	ErrInvalidInput = errors.New("invalid input")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = errors.New("timeout")
)

// TransientError wraps an error to mark it as transient (retryable)
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transient error: %v", e.Cause)
	}
	return "transient error"
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// NewTransient creates a new transient error
func NewTransient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Cause: err}
}

// NewTransientf creates a new transient error with formatting
func NewTransientf(format string, args ...interface{}) error {
	return &TransientError{Cause: fmt.Errorf(format, args...)}
}

// PermanentError wraps an error to mark it as permanent (not retryable)
type PermanentError struct {
	Cause error
}

func (e *PermanentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("permanent error: %v", e.Cause)
	}
	return "permanent error"
}

func (e *PermanentError) Unwrap() error {
	return e.Cause
}

// NewPermanent creates a new permanent error
func NewPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Cause: err}
}

// NewPermanentf creates a new permanent error with formatting
func NewPermanentf(format string, args ...interface{}) error {
	return &PermanentError{Cause: fmt.Errorf(format, args...)}
}

// ConfigError reports a malformed exception rule set. It is always fatal.
type ConfigError struct {
	Path string
	// Index is the position of the offending rule in the exceptions list, or -1
	// when the problem is with the document as a whole.
	Index int
	Cause error
}

func (e *ConfigError) Error() string {
	location := e.Path
	if location == "" {
		location = "exceptions document"
	}
	if e.Index >= 0 {
		return fmt.Sprintf("config error in %s (exception #%d): %v", location, e.Index, e.Cause)
	}
	return fmt.Sprintf("config error in %s: %v", location, e.Cause)
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a document-level config error
func NewConfigError(path string, err error) error {
	if err == nil {
		return nil
	}
	return &ConfigError{Path: path, Index: -1, Cause: err}
}

// NewRuleConfigErrorf creates a config error for a single exception rule
func NewRuleConfigErrorf(path string, index int, format string, args ...interface{}) error {
	return &ConfigError{Path: path, Index: index, Cause: fmt.Errorf(format, args...)}
}

// ReportError reports an unreadable vulnerability report. Callers treat it as
// "zero findings" rather than a failure.
type ReportError struct {
	Path  string
	Cause error
}

func (e *ReportError) Error() string {
	return fmt.Sprintf("report error in %s: %v", e.Path, e.Cause)
}

func (e *ReportError) Unwrap() error {
	return e.Cause
}

// NewReportError creates a new report error
func NewReportError(path string, err error) error {
	if err == nil {
		return nil
	}
	return &ReportError{Path: path, Cause: err}
}

// IsConfigError checks if err is or wraps a ConfigError
func IsConfigError(err error) bool {
	var configErr *ConfigError
	return errors.As(err, &configErr)
}

// IsReportError checks if err is or wraps a ReportError
func IsReportError(err error) bool {
	var reportErr *ReportError
	return errors.As(err, &reportErr)
}

// IsTransient checks if an error is transient using errors.As
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return true
	}

	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return false
	}

	// Config problems do not go away on retry
	if IsConfigError(err) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidInput) {
		return false
	}

	if errors.Is(err, ErrTimeout) {
		return true
	}

	// Default to non-transient for safety (don't retry unknown errors)
	return false
}

// IsPermanent checks if an error is permanent (not retryable)
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var permanentErr *PermanentError
	return errors.As(err, &permanentErr)
}

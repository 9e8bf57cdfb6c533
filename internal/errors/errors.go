// Package errors holds the error definitions shared across tacho.
//
// This file provides:
// - Feed protocol error codes
// - Sentinel errors for all error conditions
// - Error category checking functions
// - ErrorToCode and CodeToError mapping
// - Error wrapping utilities
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Feed protocol error codes - carried in error frames
// ============================================================================

const (
	CodeUnknown          int32 = 1
	CodeInvalidRequest   int32 = 2
	CodeNotFound         int32 = 3
	CodeInternal         int32 = 4
	CodeUnknownOperation int32 = 5
	CodeUnavailable      int32 = 6
	CodeTimeout          int32 = 7
)

// CodeName returns a human-readable name for an error code.
func CodeName(code int32) string {
	switch code {
	case CodeUnknown:
		return "Unknown"
	case CodeInvalidRequest:
		return "InvalidRequest"
	case CodeNotFound:
		return "NotFound"
	case CodeInternal:
		return "Internal"
	case CodeUnknownOperation:
		return "UnknownOperation"
	case CodeUnavailable:
		return "Unavailable"
	case CodeTimeout:
		return "Timeout"
	default:
		return fmt.Sprintf("Code(%d)", code)
	}
}

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Not found errors
	ErrNotFound     = errors.New("not found")
	ErrRideNotFound = errors.New("ride not found")
	ErrNoReading    = errors.New("no reading available yet")

	// Validation errors
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidThreshold  = fmt.Errorf("threshold must be positive: %w", ErrInvalidArgument)
	ErrInvalidCapacity   = errors.New("invalid capacity")
	ErrInvalidGearRatio  = errors.New("invalid gear ratio")
	ErrInvalidPointers   = errors.New("invalid pointers per wheel")
	ErrInvalidTire       = errors.New("invalid tire dimensions")
	ErrMissingField      = errors.New("missing required field")
	ErrUnknownSourceType = errors.New("unknown pulse source type")

	// Ordering
	ErrOutOfOrder = errors.New("timestamp older than last pulse")

	// State errors
	ErrAlreadyRunning = errors.New("already running")
	ErrNotRunning     = errors.New("not running")
	ErrClosed         = errors.New("closed")

	// Protocol errors
	ErrUnknownOperation = errors.New("unknown operation")
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrSNMPError        = errors.New("SNMP error")
	ErrTimeout          = errors.New("timeout")
	ErrConnectionFailed = errors.New("connection failed")

	// Internal errors
	ErrInternal = errors.New("internal error")
	ErrStorage  = errors.New("storage error")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrRideNotFound) ||
		errors.Is(err, ErrNoReading)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrInvalidCapacity) ||
		errors.Is(err, ErrInvalidGearRatio) ||
		errors.Is(err, ErrInvalidPointers) ||
		errors.Is(err, ErrInvalidTire) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrUnknownSourceType)
}

// IsStateError returns true if err is a lifecycle error.
func IsStateError(err error) bool {
	return errors.Is(err, ErrAlreadyRunning) ||
		errors.Is(err, ErrNotRunning) ||
		errors.Is(err, ErrClosed)
}

// ============================================================================
// Error to wire code mapping
// ============================================================================

// ErrorToCode maps a sentinel error to its feed protocol code.
func ErrorToCode(err error) int32 {
	if err == nil {
		return CodeUnknown
	}

	switch {
	case Is(err, ErrUnknownOperation):
		return CodeUnknownOperation
	case IsNotFound(err):
		return CodeNotFound
	case IsValidation(err), Is(err, ErrMalformedFrame):
		return CodeInvalidRequest
	case IsStateError(err):
		return CodeUnavailable
	case Is(err, ErrTimeout):
		return CodeTimeout
	default:
		return CodeInternal
	}
}

// CodeToError maps a feed protocol code to a sentinel error (for clients).
func CodeToError(code int32) error {
	switch code {
	case CodeInvalidRequest:
		return ErrInvalidArgument
	case CodeNotFound:
		return ErrNotFound
	case CodeUnknownOperation:
		return ErrUnknownOperation
	case CodeUnavailable:
		return ErrNotRunning
	case CodeTimeout:
		return ErrTimeout
	default:
		return ErrInternal
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error wrapping the given sentinel.
func NewInvalidValue(field string, value interface{}, sentinel error) error {
	return fmt.Errorf("invalid %s '%v': %w", field, value, sentinel)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the collected errors for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}

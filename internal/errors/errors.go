// Package errors holds the error taxonomy shared by every pipeline component.
//
// Sentinels are wrapped with context using %w, so callers classify failures
// with errors.Is regardless of how many layers added detail.

package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Configuration errors are fatal to startup.
	ErrConfig        = errors.New("configuration error")
	ErrMissingField  = errors.New("missing required field")
	ErrInvalidConfig = errors.New("invalid configuration")

	// Device connect/poll failure. The worker stays operable.
	ErrConnection = errors.New("connection error")

	// Drop-on-full. Logged and counted, never fatal.
	ErrQueueOverflow = errors.New("queue overflow")
	ErrQueueClosed   = errors.New("queue closed")

	// Waveform length or sample type changed after a writer fixed its schema.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// Storage failures. Open is fatal at construction, write is fatal after retries.
	ErrStorageOpen  = errors.New("storage open error")
	ErrStorageWrite = errors.New("storage write error")
	ErrWriterClosed = errors.New("writer is closed")

	// Part of a batch reached storage before the failure. Not retriable.
	ErrPartialWrite = errors.New("partial write")

	// Worker state machine.
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrWorkerExited      = errors.New("worker exited")

	// A participant did not join within its timeout.
	ErrShutdownTimeout = errors.New("shutdown timeout")
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

// IsConfig returns true if err is a configuration error.
func IsConfig(err error) bool {
	return errors.Is(err, ErrConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidConfig)
}

// IsFatalToWriter returns true if err ends the writer that produced it.
func IsFatalToWriter(err error) bool {
	return errors.Is(err, ErrSchemaMismatch) ||
		errors.Is(err, ErrStorageOpen) ||
		errors.Is(err, ErrStorageWrite)
}

// IsRetriable returns true if the operation may succeed when repeated.
// A partial write or a schema mismatch would only fail again or duplicate rows.
func IsRetriable(err error) bool {
	if errors.Is(err, ErrPartialWrite) || errors.Is(err, ErrSchemaMismatch) {
		return false
	}
	return errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrQueueOverflow) ||
		errors.Is(err, ErrStorageWrite)
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

// Classify attaches a sentinel to an underlying cause so both match errors.Is.
func Classify(sentinel, cause error) error {
	if cause == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w: %w", field, ErrMissingField, ErrConfig)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w: %w", field, value, reason, ErrInvalidConfig, ErrConfig)
}

// PartialWriteError reports how many leading records of a batch were
// stored before the write failed.
type PartialWriteError struct {
	Written int
	Err     error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("%d records written before failure: %v", e.Written, e.Err)
}

func (e *PartialWriteError) Unwrap() []error {
	return []error{ErrPartialWrite, ErrStorageWrite, e.Err}
}

// NewPartialWrite creates a partial write error.
func NewPartialWrite(written int, cause error) error {
	return &PartialWriteError{Written: written, Err: cause}
}

// PartialWritten returns the number of records stored before err, or 0.
func PartialWritten(err error) int {
	var pw *PartialWriteError
	if errors.As(err, &pw) {
		return pw.Written
	}
	return 0
}

// NewSchemaMismatch reports a record that does not fit a fixed layout.
func NewSchemaMismatch(want, got string) error {
	return fmt.Errorf("expected %s, got %s: %w", want, got, ErrSchemaMismatch)
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

// AddInvalid adds an invalid value error.
func (v *ValidationErrors) AddInvalid(field string, value interface{}, reason string) {
	v.Errors = append(v.Errors, NewInvalidValue(field, value, reason))
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

// Unwrap exposes every collected error to errors.Is/As.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}

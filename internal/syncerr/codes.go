package syncerr

import (
	"errors"
	"fmt"
)

// ErrorCode represents internal error codes for sync operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Client errors
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeEntityNotFound  ErrorCode = 1001
	ErrCodeUnknownDevice   ErrorCode = 1002

	// Integrity errors: the bytes themselves are bad. Fatal to the single
	// operation, never silently downgraded, never retried with the same bytes.
	ErrCodeChecksumMismatch ErrorCode = 2000
	ErrCodeCorruptedPatch   ErrorCode = 2001

	// Causality errors: the local copy diverged further than expected.
	// Recovery is a full resync, not a retry.
	ErrCodeSourceDiverged ErrorCode = 3000

	// Resolution: a valid terminal state requiring external input,
	// distinct from a true failure.
	ErrCodeManualResolutionRequired ErrorCode = 4000

	// Server errors
	ErrCodeInternal    ErrorCode = 5000
	ErrCodeUnavailable ErrorCode = 5001
	ErrCodeStopped     ErrorCode = 5002
)

// ErrManualResolutionRequired is the sentinel for resolution strategies that
// must surface the conflict to an external chooser instead of guessing.
var ErrManualResolutionRequired = &SyncError{
	Code:    ErrCodeManualResolutionRequired,
	Message: "manual conflict resolution required",
}

// SyncError represents a structured error with code and context
type SyncError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Is matches SyncErrors by code so errors.Is works across instances
func (e *SyncError) Is(target error) bool {
	var se *SyncError
	if errors.As(target, &se) {
		return e.Code == se.Code
	}
	return false
}

// New creates a new SyncError
func New(code ErrorCode, message string, cause error) *SyncError {
	return &SyncError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *SyncError) WithDetail(key string, value interface{}) *SyncError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

// ChecksumMismatch reports corrupted bytes: the recovery action is a full
// replace, the message must not be reprocessed.
func ChecksumMismatch(context, expected, actual string) *SyncError {
	return New(ErrCodeChecksumMismatch,
		fmt.Sprintf("%s: data is corrupted (checksum mismatch)", context), nil).
		WithDetail("expected", expected).
		WithDetail("actual", actual)
}

// SourceDiverged reports that local data changed faster than it could sync:
// the recovery action is a full resync, not a patch retry.
func SourceDiverged(entityID, expected, actual string) *SyncError {
	return New(ErrCodeSourceDiverged,
		fmt.Sprintf("entity %s changed faster than it could sync, full resync needed", entityID), nil).
		WithDetail("entity_id", entityID).
		WithDetail("expected", expected).
		WithDetail("actual", actual)
}

func InvalidArgument(message string, cause error) *SyncError {
	return New(ErrCodeInvalidArgument, message, cause)
}

func UnknownDevice(deviceID string) *SyncError {
	return New(ErrCodeUnknownDevice, fmt.Sprintf("unknown device: %s", deviceID), nil).
		WithDetail("device_id", deviceID)
}

func CorruptedPatch(message string, cause error) *SyncError {
	return New(ErrCodeCorruptedPatch, message, cause)
}

func Internal(message string, cause error) *SyncError {
	return New(ErrCodeInternal, message, cause)
}

func Stopped(component string) *SyncError {
	return New(ErrCodeStopped, fmt.Sprintf("%s is stopped", component), nil)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// IsIntegrity reports whether the error is a data-corruption error
func IsIntegrity(err error) bool {
	code := GetCode(err)
	return code == ErrCodeChecksumMismatch || code == ErrCodeCorruptedPatch
}

// IsCausality reports whether the error signals local divergence
func IsCausality(err error) bool {
	return GetCode(err) == ErrCodeSourceDiverged
}

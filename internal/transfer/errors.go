package transfer

import (
	"errors"
	"fmt"
)

// TransientNetworkError represents a failure that is expected to clear up on
// its own: connection resets, timeouts, stalled streams and non-2xx answers
// from a transfer URL. Callers retry it within a bounded number of attempts.
type TransientNetworkError struct {
	Operation  string // The operation that failed (e.g., "stream", "download_url")
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Err        error  // Underlying error, if any
}

func (e *TransientNetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient network error during %s (HTTP %d): %v", e.Operation, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("transient network error during %s: %v", e.Operation, e.Err)
}

func (e *TransientNetworkError) Unwrap() error {
	return e.Err
}

// ServiceUnavailableError represents a failed health probe or inventory call.
// It aborts the whole sync cycle.
type ServiceUnavailableError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *ServiceUnavailableError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("remote service unavailable during %s (HTTP %d)", e.Operation, e.StatusCode)
	}

	if e.Err != nil {
		return fmt.Sprintf("remote service unavailable during %s: %v", e.Operation, e.Err)
	}

	return fmt.Sprintf("remote service unavailable during %s", e.Operation)
}

func (e *ServiceUnavailableError) Unwrap() error {
	return e.Err
}

// FilesystemConflictError represents a destination path that already holds a
// different file. It is reported and never retried.
type FilesystemConflictError struct {
	Path   string // Destination that is occupied
	Reason string // Human-readable explanation of the conflict
	Err    error  // Underlying error, if any
}

func (e *FilesystemConflictError) Error() string {
	return fmt.Sprintf("filesystem conflict at '%s': %s", e.Path, e.Reason)
}

func (e *FilesystemConflictError) Unwrap() error {
	return e.Err
}

// IntegrityMismatchError is returned when the checksum of a downloaded file
// does not match the one declared by the remote service.
type IntegrityMismatchError struct {
	Filename string
	Expected string
	Actual   string
}

func (e *IntegrityMismatchError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: expected %s, got %s", e.Filename, e.Expected, e.Actual)
}

// LocalIOError wraps failures of best-effort local operations such as empty
// directory cleanup.
type LocalIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *LocalIOError) Error() string {
	return fmt.Sprintf("local io error during %s on %s: %v", e.Op, e.Path, e.Err)
}

func (e *LocalIOError) Unwrap() error {
	return e.Err
}

// AuthenticationError represents a credential rejected by the remote service
// (401 Unauthorized and 403 Forbidden responses).
type AuthenticationError struct {
	Operation string // The operation that required authentication
	Err       error  // Underlying error, if any
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed during %s", e.Operation)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	var transient *TransientNetworkError

	return errors.As(err, &transient)
}

// IsServiceUnavailable reports whether err should abort a sync cycle.
func IsServiceUnavailable(err error) bool {
	var unavailable *ServiceUnavailableError

	return errors.As(err, &unavailable)
}

// Reason maps an error to a bounded label usable in metrics and journals.
func Reason(err error) string {
	var (
		transient   *TransientNetworkError
		unavailable *ServiceUnavailableError
		conflict    *FilesystemConflictError
		integrity   *IntegrityMismatchError
		localIO     *LocalIOError
		auth        *AuthenticationError
	)

	switch {
	case err == nil:
		return "none"
	case errors.As(err, &auth):
		return "authentication"
	case errors.As(err, &integrity):
		return "integrity_mismatch"
	case errors.As(err, &conflict):
		return "filesystem_conflict"
	case errors.As(err, &unavailable):
		return "service_unavailable"
	case errors.As(err, &transient):
		return "transient_network"
	case errors.As(err, &localIO):
		return "local_io"
	default:
		return "unknown"
	}
}

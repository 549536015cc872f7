// Package errors provides error handling for the veritas pipeline.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Hints and details for user-facing messages
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef

	// Mark ties an error to a sentinel for Is() checks without changing
	// its message. Used where the message is a fixed user-facing string
	// (e.g. "No videos found") but the failure still needs a taxonomy slot.
	Mark = crdb.Mark
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll

	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Stack trace extraction for error reporting
var (
	GetReportableStackTrace = crdb.GetReportableStackTrace
)

// GetStack is an alias for GetReportableStackTrace for convenience.
var GetStack = crdb.GetReportableStackTrace

// Sentinel errors for the job pipeline. Use with errors.Is() for type-safe
// checking; wrap with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrConflict indicates the operation is not valid for the job's
	// current state (e.g. resuming a job that is not paused)
	ErrConflict = New("resource conflict")

	// ErrServiceUnavailable indicates a required collaborator (connector
	// binary, analyzer) is not available
	ErrServiceUnavailable = New("service unavailable")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")
)

// Pipeline failure taxonomy. Each stage maps its failures onto one of these
// so the worker boundary and tests can classify without string matching.
var (
	// ErrDiscoveryEmpty indicates discovery resolved the target to zero
	// items. Terminal for the job.
	ErrDiscoveryEmpty = New("discovery returned no items")

	// ErrItemFetch indicates a single item could not be retrieved. Recorded
	// into the job's missing list and never job-fatal on its own.
	ErrItemFetch = New("item fetch failed")

	// ErrPersistence indicates the job store could not read or write a
	// stage artifact. Terminal for the job.
	ErrPersistence = New("persistence failed")

	// ErrAnalysis indicates the analysis collaborator failed. Terminal;
	// its message is surfaced on the job.
	ErrAnalysis = New("analysis failed")
)

// Worker gate sentinels. The worker pool pauses a job rather than failing it
// when one of these comes back from a pre-execution gate check.
var (
	// ErrBudgetExceeded indicates the job's budget gate does not fit the
	// remaining spend window
	ErrBudgetExceeded = New("budget exceeded")

	// ErrRateLimited indicates the hourly execution cap has been reached
	ErrRateLimited = New("rate limited")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
// Also tolerates string-based "not found" errors from SQL drivers.
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, ErrNotFound) {
		return true
	}
	errMsg := err.Error()
	return len(errMsg) >= 9 && (errMsg == "not found" ||
		errMsg[len(errMsg)-9:] == "not found" ||
		len(errMsg) > 10 && errMsg[:10] == "not found:")
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsConflictError checks if an error is or wraps ErrConflict
func IsConflictError(err error) bool {
	return err != nil && Is(err, ErrConflict)
}

// IsItemFetchError reports whether err is a per-item fetch failure, which
// the pipeline absorbs rather than escalating.
func IsItemFetchError(err error) bool {
	return err != nil && Is(err, ErrItemFetch)
}

// IsBudgetExceededError checks if an error is or wraps ErrBudgetExceeded
func IsBudgetExceededError(err error) bool {
	return err != nil && Is(err, ErrBudgetExceeded)
}

// IsRateLimitedError checks if an error is or wraps ErrRateLimited
func IsRateLimitedError(err error) bool {
	return err != nil && Is(err, ErrRateLimited)
}

// WrapNotFound wraps an error as a not-found error with context
func WrapNotFound(err error, context string) error {
	return Wrap(Wrap(ErrNotFound, err.Error()), context)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}

package async

import (
	"context"

	"github.com/veritas-nexus/veritas/errors"
)

// ErrorCode represents the classification of a job failure
type ErrorCode string

const (
	ErrorCodeDiscoveryEmpty ErrorCode = "discovery_empty"
	ErrorCodeItemFetch      ErrorCode = "item_fetch"
	ErrorCodePersistence    ErrorCode = "persistence"
	ErrorCodeAnalysis       ErrorCode = "analysis"
	ErrorCodeTimeout        ErrorCode = "timeout"
	ErrorCodeCancelled      ErrorCode = "cancelled"
	ErrorCodeUnknown        ErrorCode = "unknown"
)

// ErrorContext provides structured error information for job failures
type ErrorContext struct {
	Stage    string    // Where the error occurred
	Code     ErrorCode // Error classification
	Message  string    // Human-readable message
	Terminal bool      // Does this failure end the job?
}

// ClassifyError categorizes an error by its sentinel in the pipeline
// failure taxonomy. Failed jobs are never retried automatically, so the
// classification drives logging and reporting rather than scheduling.
func ClassifyError(stage string, err error) ErrorContext {
	if err == nil {
		return ErrorContext{
			Stage:    stage,
			Code:     ErrorCodeUnknown,
			Message:  "unknown error",
			Terminal: true,
		}
	}

	ctx := ErrorContext{
		Stage:    stage,
		Message:  err.Error(),
		Terminal: true,
	}

	switch {
	case errors.Is(err, errors.ErrDiscoveryEmpty):
		ctx.Code = ErrorCodeDiscoveryEmpty

	case errors.Is(err, errors.ErrItemFetch):
		// Recorded into the job's missing list; the run continues
		ctx.Code = ErrorCodeItemFetch
		ctx.Terminal = false

	case errors.Is(err, errors.ErrPersistence):
		ctx.Code = ErrorCodePersistence

	case errors.Is(err, errors.ErrAnalysis):
		ctx.Code = ErrorCodeAnalysis

	case errors.Is(err, errors.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		ctx.Code = ErrorCodeTimeout

	case errors.Is(err, context.Canceled):
		ctx.Code = ErrorCodeCancelled

	default:
		ctx.Code = ErrorCodeUnknown
	}

	return ctx
}

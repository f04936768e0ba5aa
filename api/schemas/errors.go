// File: api/schemas/errors.go
package schemas

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a stage-level failure class. These are the only error
// shapes that cross the orchestrator boundary; locator-level transients are
// retried internally and never surface.
type ErrorCode string

const (
	CodePlanningFailed   ErrorCode = "PlanningFailed"
	CodeUnknownSite      ErrorCode = "UnknownSite"
	CodeUnsupportedSite  ErrorCode = "UnsupportedSite"
	CodeSessionExpired   ErrorCode = "SessionExpired"
	CodeSessionBusy      ErrorCode = "SessionBusy"
	CodeInvalidIndex     ErrorCode = "InvalidIndex"
	CodeExtractionFailed ErrorCode = "ExtractionFailed"
	CodeSelectionFailed  ErrorCode = "SelectionFailed"
	CodeCheckoutFailed   ErrorCode = "CheckoutFailed"

	// CodeBrowserUnavailable means no browser session could be obtained at
	// all (pool exhausted or Chrome failed to launch); no session exists yet.
	CodeBrowserUnavailable ErrorCode = "BrowserUnavailable"
)

// ErrNoMatch signals that a locator strategy found zero elements on the page.
// The retry policy treats it as "layout mismatch": advance to the next
// candidate strategy instead of retrying the same one.
var ErrNoMatch = errors.New("no element matched locator")

// StageError is a typed failure left behind by a stage call. The session is
// always at its last consistent stage when one of these is returned.
type StageError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError builds a StageError without an underlying cause.
func NewStageError(code ErrorCode, format string, args ...any) *StageError {
	return &StageError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapStageError builds a StageError preserving the underlying cause.
func WrapStageError(code ErrorCode, err error, format string, args ...any) *StageError {
	return &StageError{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the ErrorCode from err, or "" if err carries none.
func CodeOf(err error) ErrorCode {
	var se *StageError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

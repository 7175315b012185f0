package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrSubmission = errors.New("submission failed")
	ErrTemporary  = errors.New("temporary failure")
	ErrBusy       = errors.New("operation in progress")
	ErrClosed     = errors.New("closed")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// SubmissionError carries the detail text returned by the validation endpoint
// so it can be shown to the reviewer verbatim.
type SubmissionError struct {
	Detail string
	Err    error
}

func (e *SubmissionError) Error() string {
	if e == nil {
		return "submission failed"
	}
	if e.Detail != "" {
		return "submission failed: " + e.Detail
	}
	if e.Err != nil {
		return "submission failed: " + e.Err.Error()
	}
	return "submission failed"
}

func (e *SubmissionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSubmission}
	}
	return []error{ErrSubmission, e.Err}
}

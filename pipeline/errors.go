package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// ErrPartitionHalted marks records skipped because an earlier record of the
// same partition failed in this invocation
var ErrPartitionHalted = errors.New("partition halted after earlier failure")

// retryable is implemented by errors that know whether a redelivery helps
type retryable interface {
	Retryable() bool
}

// IsRetryable reports whether the record that produced err should be
// redelivered. Decode, unknown type and invariant errors are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, ErrPartitionHalted) {
		return true
	}

	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// FatalError aborts an invocation. It wraps the first fatal record error.
type FatalError struct {
	SourceEventID string
	Err           error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal error processing %s: %v", e.SourceEventID, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

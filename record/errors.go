package record

import "fmt"

// DecodeError reports a raw record that can never be decoded. It is not
// retryable: redelivering the same bytes produces the same failure.
type DecodeError struct {
	Reason string
	Action Action // ActionUnknown when the operation was not recognized
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode record: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode record: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

package enrich

import "fmt"

// LookupError is returned when the lookup repository cannot answer. It is
// retryable: the record is reported failed and redelivered.
type LookupError struct {
	Table string
	Key   string
	Err   error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup %s key %q failed: %v", e.Table, e.Key, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// Retryable marks lookup failures as transient
func (e *LookupError) Retryable() bool {
	return true
}

package dedupe

import "fmt"

// StoreError reports that the dedupe store could not answer. The caller
// cannot tell whether the record was already published, so it is retryable.
type StoreError struct {
	Op    string
	Key   string
	Store string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("dedupe %s %s on %q failed: %v", e.Store, e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Retryable marks store failures as transient
func (e *StoreError) Retryable() bool {
	return true
}

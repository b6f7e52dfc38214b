package normalize

import "fmt"

// InvariantError reports a change record whose action and row images
// disagree. It indicates a programming error upstream and is fatal for the
// whole invocation.
type InvariantError struct {
	SourceEventID string
	Reason        string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation for %s: %s", e.SourceEventID, e.Reason)
}

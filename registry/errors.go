package registry

import "fmt"

// UnknownRecordTypeError reports a table with no registered descriptor.
// Records for such tables are dropped, never retried.
type UnknownRecordTypeError struct {
	Table string
}

func (e *UnknownRecordTypeError) Error() string {
	return fmt.Sprintf("unknown record type for table %q", e.Table)
}

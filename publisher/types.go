package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Entry is one serialized event handed to a sink
type Entry struct {
	ID           string    // Source event id, used to map failures back
	PartitionKey string    // Ordering key of the originating record
	Source       string    // Envelope source
	DetailType   string    // "{Type}.{Action}"
	EventBus     string    // Envelope eventBusTarget
	Time         time.Time // Publish time
	Detail       []byte    // JSON of the envelope detail
	Payload      []byte    // JSON of the whole envelope
}

// Sink represents a downstream event bus (EventBridge, Kafka, NATS)
type Sink interface {
	// PublishBatch sends entries and returns one error per entry, nil for
	// success. The slice always has len(entries) elements.
	PublishBatch(ctx context.Context, entries []Entry) []error
	// MaxBatchSize is the largest number of entries accepted per call
	MaxBatchSize() int
	// Close releases any resources held by the sink
	Close() error
}

// EntryError is a per-entry failure reported by a sink
type EntryError struct {
	Code      string
	Message   string
	Throttled bool // Transient; the publisher retries it in process
}

func (e *EntryError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsThrottled reports whether err is a transient sink failure worth an
// in-process retry
func IsThrottled(err error) bool {
	var entryErr *EntryError
	return errors.As(err, &entryErr) && entryErr.Throttled
}

// Result is the publish outcome of one event. Err is a *PublishError or nil.
type Result struct {
	SourceEventID string
	Err           error
}

// PublishError reports that an event was not accepted downstream. The record
// is reported failed so the caller redelivers it.
type PublishError struct {
	SourceEventID string
	Attempts      int
	Err           error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s failed after %d attempt(s): %v", e.SourceEventID, e.Attempts, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Retryable marks publish failures as redeliverable
func (e *PublishError) Retryable() bool {
	return true
}

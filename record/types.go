// Package record decodes raw replication-stream records into change records.
//
// A raw record is one JSON object in the DMS layout:
//
//	{"data": {...}, "metadata": {"timestamp", "operation", "table-name",
//	  "schema-name", "record-type", "transaction-id", "commit-timestamp"},
//	 "beforeImage": {...}}
//
// carried inside an Envelope that holds the stream fields (partition key,
// sequence number, event id). Decoding is a pure transform.
package record

import "time"

// Action is the normalized change kind of a record
type Action string

const (
	ActionCreate  Action = "CREATE"
	ActionUpdate  Action = "UPDATE"
	ActionDelete  Action = "DELETE"
	ActionUnknown Action = "UNKNOWN"
)

// Envelope is one record of an inbound batch, as delivered by the stream.
// Data holds the raw JSON record (base64 when the envelope itself is JSON).
type Envelope struct {
	PartitionKey   string `json:"partitionKey"`
	SequenceNumber string `json:"sequenceNumber"`
	EventID        string `json:"eventId"`
	EventName      string `json:"eventName,omitempty"`
	CorrelationID  string `json:"correlationId,omitempty"`
	AttemptCount   int    `json:"attemptCount,omitempty"`
	Data           []byte `json:"data"`
}

// SourceEventID is the event id, or "{partitionKey}:{sequenceNumber}" when
// the stream did not supply one. Empty when neither is present.
func (e Envelope) SourceEventID() string {
	if e.EventID != "" {
		return e.EventID
	}
	if e.SequenceNumber != "" {
		return e.PartitionKey + ":" + e.SequenceNumber
	}
	return ""
}

// ChangeRecord is a decoded unit of change.
//
// Current is nil for DELETE and Prior is nil for CREATE; UPDATE carries both.
// Numeric values are json.Number so that 64-bit ids survive decoding.
type ChangeRecord struct {
	Current         map[string]any
	Prior           map[string]any
	Action          Action
	TableName       string
	SchemaName      string
	RecordType      string
	TransactionID   string
	ChangeTimestamp time.Time
	CommitTimestamp time.Time

	// Raw metadata timestamps, kept when they could not be parsed
	RawTimestamp       string
	RawCommitTimestamp string
}

// State returns the row image that identifies the entity: the current state,
// or the prior state for deletes.
func (r *ChangeRecord) State() map[string]any {
	if r.Current != nil {
		return r.Current
	}
	return r.Prior
}

// StreamRecordContext is the per physical record tracing data
type StreamRecordContext struct {
	PartitionKey    string
	SourceEventID   string
	SequenceNumber  string
	CorrelationID   string
	SourceEventName string
	AttemptCount    int
}

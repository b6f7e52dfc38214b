package record

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// dmsTimestampLayout is the layout DMS uses for metadata timestamps
const dmsTimestampLayout = "2006-01-02T15:04:05.999999999Z"

// correlationNamespace seeds correlation ids derived from source event ids
var correlationNamespace = uuid.MustParse("6f1c3c1e-8d3f-4f5e-9a55-2b7f0b0f3d21")

type rawRecord struct {
	Data        map[string]any `json:"data"`
	Metadata    rawMetadata    `json:"metadata"`
	BeforeImage map[string]any `json:"beforeImage"`
}

type rawMetadata struct {
	Timestamp       flexString `json:"timestamp"`
	RecordType      flexString `json:"record-type"`
	Operation       flexString `json:"operation"`
	SchemaName      flexString `json:"schema-name"`
	TableName       flexString `json:"table-name"`
	TransactionID   flexString `json:"transaction-id"`
	CommitTimestamp flexString `json:"commit-timestamp"`
}

// flexString accepts both JSON strings and numbers
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// ParseAction maps a stream operation name to an Action
func ParseAction(operation string) Action {
	switch strings.ToLower(strings.TrimSpace(operation)) {
	case "load", "insert":
		return ActionCreate
	case "update":
		return ActionUpdate
	case "delete":
		return ActionDelete
	default:
		return ActionUnknown
	}
}

// Decode parses the envelope's raw record into a ChangeRecord and derives the
// stream context. It fails with *DecodeError for malformed JSON, missing
// required metadata, control records and unknown operations.
func Decode(env Envelope) (*ChangeRecord, StreamRecordContext, error) {
	sctx, err := streamContext(env)
	if err != nil {
		return nil, sctx, err
	}

	if len(bytes.TrimSpace(env.Data)) == 0 {
		return nil, sctx, &DecodeError{Reason: "empty payload"}
	}

	var raw rawRecord
	dec := json.NewDecoder(bytes.NewReader(env.Data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, sctx, &DecodeError{Reason: "malformed JSON", Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, sctx, &DecodeError{Reason: "trailing data after JSON document"}
	}

	meta := raw.Metadata
	switch {
	case meta.TableName == "":
		return nil, sctx, &DecodeError{Reason: "missing metadata field table-name"}
	case meta.Operation == "":
		return nil, sctx, &DecodeError{Reason: "missing metadata field operation"}
	case meta.SchemaName == "":
		return nil, sctx, &DecodeError{Reason: "missing metadata field schema-name"}
	}

	if strings.EqualFold(string(meta.RecordType), "control") {
		return nil, sctx, &DecodeError{Reason: "control record"}
	}

	action := ParseAction(string(meta.Operation))
	if action == ActionUnknown {
		return nil, sctx, &DecodeError{
			Reason: "unsupported operation " + string(meta.Operation),
			Action: ActionUnknown,
		}
	}

	rec := &ChangeRecord{
		Action:             action,
		TableName:          string(meta.TableName),
		SchemaName:         string(meta.SchemaName),
		RecordType:         string(meta.RecordType),
		TransactionID:      string(meta.TransactionID),
		ChangeTimestamp:    parseTimestamp(string(meta.Timestamp)),
		CommitTimestamp:    parseTimestamp(string(meta.CommitTimestamp)),
		RawTimestamp:       string(meta.Timestamp),
		RawCommitTimestamp: string(meta.CommitTimestamp),
	}

	switch action {
	case ActionCreate:
		if raw.Data == nil {
			return nil, sctx, &DecodeError{Reason: "missing data for " + string(action)}
		}
		rec.Current = raw.Data
	case ActionUpdate:
		if raw.Data == nil {
			return nil, sctx, &DecodeError{Reason: "missing data for " + string(action)}
		}
		rec.Current = raw.Data
		rec.Prior = raw.BeforeImage
		if rec.Prior == nil {
			// Before images can be disabled at the source; the update is still
			// relayed with an empty prior state and no changed fields.
			rec.Prior = map[string]any{}
		}
	case ActionDelete:
		// DMS carries the deleted row in data; prefer an explicit before image
		rec.Prior = raw.BeforeImage
		if rec.Prior == nil {
			rec.Prior = raw.Data
		}
		if rec.Prior == nil {
			return nil, sctx, &DecodeError{Reason: "missing data for " + string(action)}
		}
	}

	return rec, sctx, nil
}

// streamContext derives the tracing fields of an envelope
func streamContext(env Envelope) (StreamRecordContext, error) {
	sctx := StreamRecordContext{
		PartitionKey:    env.PartitionKey,
		SourceEventID:   env.SourceEventID(),
		SequenceNumber:  env.SequenceNumber,
		CorrelationID:   env.CorrelationID,
		SourceEventName: env.EventName,
		AttemptCount:    env.AttemptCount,
	}

	if sctx.SourceEventID == "" {
		return sctx, &DecodeError{Reason: "missing event id and sequence number"}
	}

	if sctx.CorrelationID == "" {
		// Derived rather than random so a redelivered record keeps its id
		sctx.CorrelationID = uuid.NewSHA1(correlationNamespace, []byte(sctx.SourceEventID)).String()
	}
	if sctx.AttemptCount < 1 {
		sctx.AttemptCount = 1
	}

	return sctx, nil
}

// parseTimestamp parses DMS and RFC3339 timestamps; zero time when neither fits
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(dmsTimestampLayout, s); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

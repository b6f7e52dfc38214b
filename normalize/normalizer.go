// Package normalize turns an enriched change record into the outbound event
// envelope.
package normalize

import (
	"encoding/json"
	"reflect"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maxpert/cdcrelay/enrich"
	"github.com/maxpert/cdcrelay/record"
	"github.com/maxpert/cdcrelay/registry"
)

// Options configures the static envelope fields
type Options struct {
	Source         string
	EventBusTarget string
	Service        string
	SchemaVersion  string
	Clock          func() time.Time // defaults to time.Now
}

// Normalizer builds events. It holds no mutable state and is safe for
// concurrent use.
type Normalizer struct {
	opts Options
}

func New(opts Options) *Normalizer {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Normalizer{opts: opts}
}

// Normalize builds the event for rec. It fails with *InvariantError when the
// record's action and row images are inconsistent.
func (n *Normalizer) Normalize(
	rec *record.ChangeRecord,
	sctx record.StreamRecordContext,
	ectx enrich.Context,
	desc registry.Descriptor,
	attempt int,
) (*Event, error) {
	if err := checkRecord(rec, sctx); err != nil {
		return nil, err
	}

	changed := []string{}
	if rec.Action == record.ActionUpdate {
		changed = ChangedFields(rec.Prior, rec.Current)
	}

	return &Event{
		Source:         n.opts.Source,
		DetailType:     desc.TypeName() + "." + string(rec.Action),
		EventBusTarget: n.opts.EventBusTarget,
		Detail: Detail{
			Data: Data{
				ChangedFields: changed,
				Before:        rec.Prior,
				After:         rec.Current,
			},
			Metadata: Metadata{
				Service:          n.opts.Service,
				SchemaVersion:    n.opts.SchemaVersion,
				Timestamp:        changeTimestamp(rec),
				ObjectName:       rec.TableName,
				SchemaName:       rec.SchemaName,
				Action:           string(rec.Action),
				PartitionKey:     sctx.PartitionKey,
				AttemptCount:     attempt,
				OrgID:            ectx.OrgID,
				UserID:           ectx.UserID,
				SourceEventID:    sctx.SourceEventID,
				CorrelationID:    sctx.CorrelationID,
				SourceEventName:  sctx.SourceEventName,
				PublishTimestamp: n.opts.Clock().UTC().Format(time.RFC3339Nano),
			},
		},
	}, nil
}

func checkRecord(rec *record.ChangeRecord, sctx record.StreamRecordContext) error {
	fail := func(reason string) error {
		return &InvariantError{SourceEventID: sctx.SourceEventID, Reason: reason}
	}

	if rec == nil {
		return fail("nil change record")
	}
	if sctx.SourceEventID == "" {
		return fail("missing source event id")
	}

	switch rec.Action {
	case record.ActionCreate:
		if rec.Current == nil || rec.Prior != nil {
			return fail("CREATE requires current state only")
		}
	case record.ActionUpdate:
		if rec.Current == nil || rec.Prior == nil {
			return fail("UPDATE requires current and prior state")
		}
	case record.ActionDelete:
		if rec.Prior == nil || rec.Current != nil {
			return fail("DELETE requires prior state only")
		}
	default:
		return fail("unsupported action " + string(rec.Action))
	}
	return nil
}

// ChangedFields returns the sorted top-level keys present in both images whose
// values differ. The result is never nil.
func ChangedFields(prior, current map[string]any) []string {
	changed := []string{}
	for k, cur := range current {
		old, ok := prior[k]
		if !ok {
			continue
		}
		if !valuesEqual(old, cur) {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

// valuesEqual compares decoded JSON values; numbers compare by value so
// 1 and 1.0 are equal
func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case json.Number:
		bv, ok := b.(json.Number)
		return ok && numbersEqual(av, bv)
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !valuesEqual(v, w) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(a, b)
	}
}

func numbersEqual(a, b json.Number) bool {
	if a == b {
		return true
	}
	da, err := decimal.NewFromString(a.String())
	if err != nil {
		return false
	}
	db, err := decimal.NewFromString(b.String())
	if err != nil {
		return false
	}
	return da.Equal(db)
}

func changeTimestamp(rec *record.ChangeRecord) string {
	if rec.ChangeTimestamp.IsZero() {
		return rec.RawTimestamp
	}
	return rec.ChangeTimestamp.UTC().Format(time.RFC3339Nano)
}

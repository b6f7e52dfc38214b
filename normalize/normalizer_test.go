package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxpert/cdcrelay/enrich"
	"github.com/maxpert/cdcrelay/record"
	"github.com/maxpert/cdcrelay/registry"
)

var fixedNow = time.Date(2024, 3, 1, 10, 15, 31, 0, time.UTC)

func testNormalizer() *Normalizer {
	return New(Options{
		Source:         "cdcrelay.cdc",
		EventBusTarget: "tenant-bus",
		Service:        "cdcrelay",
		SchemaVersion:  "1.0",
		Clock:          func() time.Time { return fixedNow },
	})
}

const usersUpdate = `{
  "data": {"id": 12345, "homeOrgId": 100, "email": "new@x.com"},
  "metadata": {"operation": "update", "table-name": "users", "schema-name": "core",
               "timestamp": "2024-03-01T10:15:30.123456Z"},
  "beforeImage": {"id": 12345, "homeOrgId": 100, "email": "old@x.com"}
}`

func TestNormalize_EndToEndUsersUpdate(t *testing.T) {
	rec, sctx, err := record.Decode(record.Envelope{
		PartitionKey:   "users.12345",
		SequenceNumber: "1",
		EventID:        "evt-1",
		EventName:      "aws:kinesis:record",
		Data:           []byte(usersUpdate),
	})
	require.NoError(t, err)

	desc, err := registry.Default().Resolve(rec.TableName)
	require.NoError(t, err)

	ectx, err := enrich.NewRouter(nil).Enrich(context.Background(), rec, desc)
	require.NoError(t, err)

	event, err := testNormalizer().Normalize(rec, sctx, ectx, desc, sctx.AttemptCount)
	require.NoError(t, err)

	assert.Equal(t, "Users.UPDATE", event.DetailType)
	assert.Equal(t, "cdcrelay.cdc", event.Source)
	assert.Equal(t, "tenant-bus", event.EventBusTarget)
	assert.Equal(t, []string{"email"}, event.Detail.Data.ChangedFields)
	assert.Equal(t, rec.Prior, event.Detail.Data.Before)
	assert.Equal(t, rec.Current, event.Detail.Data.After)

	meta := event.Detail.Metadata
	require.NotNil(t, meta.OrgID)
	require.NotNil(t, meta.UserID)
	assert.Equal(t, int64(100), *meta.OrgID)
	assert.Equal(t, int64(12345), *meta.UserID)
	assert.Equal(t, "users", meta.ObjectName)
	assert.Equal(t, "core", meta.SchemaName)
	assert.Equal(t, "UPDATE", meta.Action)
	assert.Equal(t, "users.12345", meta.PartitionKey)
	assert.Equal(t, 1, meta.AttemptCount)
	assert.Equal(t, "evt-1", meta.SourceEventID)
	assert.Equal(t, sctx.CorrelationID, meta.CorrelationID)
	assert.Equal(t, "aws:kinesis:record", meta.SourceEventName)
	assert.Equal(t, "2024-03-01T10:15:30.123456Z", meta.Timestamp)
	assert.Equal(t, "2024-03-01T10:15:31Z", meta.PublishTimestamp)
	assert.Equal(t, "evt-1", event.SourceEventID())
	assert.Equal(t, "users.12345", event.PartitionKey())
}

func TestNormalize_JSONContract(t *testing.T) {
	rec := &record.ChangeRecord{
		Action:     record.ActionCreate,
		TableName:  "queues",
		SchemaName: "core",
		Current:    map[string]any{"id": json.Number("9"), "orgId": json.Number("100")},
	}
	sctx := record.StreamRecordContext{PartitionKey: "queues.9", SourceEventID: "evt-9", CorrelationID: "c-9"}
	desc, err := registry.Default().Resolve("queues")
	require.NoError(t, err)

	orgID := int64(100)
	event, err := testNormalizer().Normalize(rec, sctx, enrich.Context{OrgID: &orgID}, desc, 2)
	require.NoError(t, err)

	raw, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.ElementsMatch(t, []string{"source", "detailType", "eventBusTarget", "detail"}, keys(decoded))
	detail := decoded["detail"].(map[string]any)
	data := detail["data"].(map[string]any)
	meta := detail["metadata"].(map[string]any)

	assert.ElementsMatch(t, []string{"changedFields", "before", "after"}, keys(data))
	assert.ElementsMatch(t, []string{
		"service", "schemaVersion", "timestamp", "objectName", "schemaName", "action",
		"partitionKey", "attemptCount", "orgId", "userId", "sourceEventId", "correlationId",
		"sourceEventName", "publishTimestamp",
	}, keys(meta))

	assert.Equal(t, []any{}, data["changedFields"])
	assert.Nil(t, data["before"])
	assert.Equal(t, "Queue.CREATE", decoded["detailType"])
	assert.Equal(t, float64(100), meta["orgId"])
	assert.Nil(t, meta["userId"])
	assert.Equal(t, float64(2), meta["attemptCount"])
}

func TestNormalize_DeleteHasNoChangedFields(t *testing.T) {
	rec := &record.ChangeRecord{
		Action:    record.ActionDelete,
		TableName: "skills",
		Prior:     map[string]any{"id": json.Number("1"), "orgId": json.Number("5")},
	}
	desc, err := registry.Default().Resolve("skills")
	require.NoError(t, err)

	event, err := testNormalizer().Normalize(rec, record.StreamRecordContext{SourceEventID: "evt"}, enrich.Context{}, desc, 1)
	require.NoError(t, err)

	assert.Equal(t, "Skill.DELETE", event.DetailType)
	assert.NotNil(t, event.Detail.Data.ChangedFields)
	assert.Empty(t, event.Detail.Data.ChangedFields)
	assert.Nil(t, event.Detail.Data.After)
}

func TestNormalize_InvariantViolations(t *testing.T) {
	desc, err := registry.Default().Resolve("users")
	require.NoError(t, err)
	row := map[string]any{"id": json.Number("1")}

	tests := []struct {
		name string
		rec  *record.ChangeRecord
		sctx record.StreamRecordContext
	}{
		{"nil record", nil, record.StreamRecordContext{SourceEventID: "e"}},
		{"missing source event id", &record.ChangeRecord{Action: record.ActionCreate, Current: row}, record.StreamRecordContext{}},
		{"create with prior", &record.ChangeRecord{Action: record.ActionCreate, Current: row, Prior: row}, record.StreamRecordContext{SourceEventID: "e"}},
		{"update without prior", &record.ChangeRecord{Action: record.ActionUpdate, Current: row}, record.StreamRecordContext{SourceEventID: "e"}},
		{"delete with current", &record.ChangeRecord{Action: record.ActionDelete, Current: row, Prior: row}, record.StreamRecordContext{SourceEventID: "e"}},
		{"unknown action", &record.ChangeRecord{Action: record.ActionUnknown, Current: row}, record.StreamRecordContext{SourceEventID: "e"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testNormalizer().Normalize(tt.rec, tt.sctx, enrich.Context{}, desc, 1)
			var invErr *InvariantError
			assert.True(t, errors.As(err, &invErr), "expected InvariantError, got %v", err)
		})
	}
}

func TestChangedFields(t *testing.T) {
	prior := map[string]any{
		"email":   "old@x.com",
		"name":    "Ann",
		"tags":    []any{"a", "b"},
		"profile": map[string]any{"tz": "UTC"},
		"removed": "x",
	}
	current := map[string]any{
		"email":   "new@x.com",
		"name":    "Ann",
		"tags":    []any{"a", "b"},
		"profile": map[string]any{"tz": "CET"},
		"added":   "y",
	}

	assert.Equal(t, []string{"email", "profile"}, ChangedFields(prior, current))
	assert.Equal(t, []string{}, ChangedFields(nil, current))
	assert.Equal(t, []string{}, ChangedFields(prior, prior))
}

func TestChangedFields_NumbersCompareByValue(t *testing.T) {
	prior := map[string]any{
		"balance": json.Number("1"),
		"rate":    json.Number("0.50"),
		"limit":   json.Number("100"),
		"scores":  []any{json.Number("1e2")},
		"geo":     map[string]any{"lat": json.Number("10.0")},
		"code":    "1",
	}
	current := map[string]any{
		"balance": json.Number("1.0"),
		"rate":    json.Number("0.5"),
		"limit":   json.Number("101"),
		"scores":  []any{json.Number("100")},
		"geo":     map[string]any{"lat": json.Number("10")},
		"code":    json.Number("1"),
	}

	assert.Equal(t, []string{"code", "limit"}, ChangedFields(prior, current))
}

func TestNormalize_UnparsedTimestampPassesThrough(t *testing.T) {
	rec := &record.ChangeRecord{
		Action:       record.ActionCreate,
		TableName:    "skills",
		Current:      map[string]any{"orgId": json.Number("5")},
		RawTimestamp: "not-a-time",
	}
	desc, err := registry.Default().Resolve("skills")
	require.NoError(t, err)

	event, err := testNormalizer().Normalize(rec, record.StreamRecordContext{SourceEventID: "e"}, enrich.Context{}, desc, 1)
	require.NoError(t, err)
	assert.Equal(t, "not-a-time", event.Detail.Metadata.Timestamp)
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

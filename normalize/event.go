package normalize

// Event is the vendor-neutral envelope published downstream
type Event struct {
	Source         string `json:"source"`
	DetailType     string `json:"detailType"`
	EventBusTarget string `json:"eventBusTarget"`
	Detail         Detail `json:"detail"`
}

type Detail struct {
	Data     Data     `json:"data"`
	Metadata Metadata `json:"metadata"`
}

// Data holds the row images. Before is null for creates and After is null
// for deletes.
type Data struct {
	ChangedFields []string       `json:"changedFields"`
	Before        map[string]any `json:"before"`
	After         map[string]any `json:"after"`
}

type Metadata struct {
	Service          string `json:"service"`
	SchemaVersion    string `json:"schemaVersion"`
	Timestamp        string `json:"timestamp"`
	ObjectName       string `json:"objectName"`
	SchemaName       string `json:"schemaName"`
	Action           string `json:"action"`
	PartitionKey     string `json:"partitionKey"`
	AttemptCount     int    `json:"attemptCount"`
	OrgID            *int64 `json:"orgId"`
	UserID           *int64 `json:"userId"`
	SourceEventID    string `json:"sourceEventId"`
	CorrelationID    string `json:"correlationId"`
	SourceEventName  string `json:"sourceEventName"`
	PublishTimestamp string `json:"publishTimestamp"`
}

// SourceEventID identifies the physical input record the event came from
func (e *Event) SourceEventID() string {
	return e.Detail.Metadata.SourceEventID
}

// PartitionKey is the ordering key of the originating record
func (e *Event) PartitionKey() string {
	return e.Detail.Metadata.PartitionKey
}

package pipeline

// Stage is the last processing step a record reached
type Stage int

const (
	StagePending Stage = iota
	StageDecoded
	StageTypeResolved
	StageEnriched
	StageClaimed
	StageNormalized
	StagePublished
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StagePending:
		return "pending"
	case StageDecoded:
		return "decoded"
	case StageTypeResolved:
		return "type_resolved"
	case StageEnriched:
		return "enriched"
	case StageClaimed:
		return "claimed"
	case StageNormalized:
		return "normalized"
	case StagePublished:
		return "published"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// Disposition is how a record left the pipeline
type Disposition string

const (
	DispositionPublished Disposition = "published"
	DispositionDuplicate Disposition = "duplicate" // Claim lost; already published
	DispositionFiltered  Disposition = "filtered"
	DispositionDropped   Disposition = "dropped" // Non-retryable; never redelivered
	DispositionFailed    Disposition = "failed"  // Retryable; reported for redelivery
)

// RecordResult is the outcome of one input record
type RecordResult struct {
	SourceEventID string
	PartitionKey  string
	Stage         Stage // StageDone, or the last stage reached before failing
	Disposition   Disposition
	Err           error
}

// Outcome is the batch response. FailedItemIDs lists, in input order, the
// source event ids the caller must redeliver.
type Outcome struct {
	FailedItemIDs []string       `json:"failedItemIds"`
	Results       []RecordResult `json:"-"`
}

func newOutcome(results []RecordResult) Outcome {
	failed := []string{}
	for _, r := range results {
		if r.Disposition == DispositionFailed {
			failed = append(failed, r.SourceEventID)
		}
	}
	return Outcome{FailedItemIDs: failed, Results: results}
}

// Count returns how many records left with disposition d
func (o Outcome) Count(d Disposition) int {
	n := 0
	for _, r := range o.Results {
		if r.Disposition == d {
			n++
		}
	}
	return n
}

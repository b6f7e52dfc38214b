package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/smithy-go"

	"github.com/maxpert/cdcrelay/cfg"
	"github.com/maxpert/cdcrelay/publisher"
)

const (
	// EventBridgeMaxBatchSize is the PutEvents entry limit
	EventBridgeMaxBatchSize = 10
	// EventBridgeMaxEntryBytes is the PutEvents per-entry size limit
	EventBridgeMaxEntryBytes = 256 * 1024
)

func init() {
	publisher.RegisterSink("eventbridge", func(config cfg.PublisherConfiguration) (publisher.Sink, error) {
		var opts []func(*awsconfig.LoadOptions) error
		if config.AWSRegion != "" {
			opts = append(opts, awsconfig.WithRegion(config.AWSRegion))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return NewEventBridgeSink(eventbridge.NewFromConfig(awsCfg)), nil
	})
}

// EventBridgeAPI is the subset of the EventBridge client the sink uses
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgeSink implements the Sink interface with PutEvents
type EventBridgeSink struct {
	client EventBridgeAPI
}

func NewEventBridgeSink(client EventBridgeAPI) *EventBridgeSink {
	return &EventBridgeSink{client: client}
}

func (s *EventBridgeSink) MaxBatchSize() int {
	return EventBridgeMaxBatchSize
}

// PublishBatch sends entries in one PutEvents call. Oversized entries are
// rejected locally; the rest map back through the response entry order.
func (s *EventBridgeSink) PublishBatch(ctx context.Context, entries []publisher.Entry) []error {
	errs := make([]error, len(entries))

	request := make([]types.PutEventsRequestEntry, 0, len(entries))
	sent := make([]int, 0, len(entries))
	for i, e := range entries {
		if size := entrySize(e); size > EventBridgeMaxEntryBytes {
			errs[i] = &publisher.EntryError{
				Code:    "EntryTooLarge",
				Message: fmt.Sprintf("entry is %d bytes, limit %d", size, EventBridgeMaxEntryBytes),
			}
			continue
		}
		request = append(request, types.PutEventsRequestEntry{
			Source:       aws.String(e.Source),
			DetailType:   aws.String(e.DetailType),
			Detail:       aws.String(string(e.Detail)),
			EventBusName: aws.String(e.EventBus),
			Time:         aws.Time(e.Time),
		})
		sent = append(sent, i)
	}
	if len(request) == 0 {
		return errs
	}

	out, err := s.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: request})
	if err != nil {
		callErr := classifyAPIError(err)
		for _, i := range sent {
			errs[i] = callErr
		}
		return errs
	}

	if len(out.Entries) != len(request) {
		mismatch := &publisher.EntryError{
			Code:    "InvalidResponse",
			Message: fmt.Sprintf("PutEvents returned %d entries for %d", len(out.Entries), len(request)),
		}
		for _, i := range sent {
			errs[i] = mismatch
		}
		return errs
	}

	for j, result := range out.Entries {
		code := aws.ToString(result.ErrorCode)
		if code == "" {
			continue
		}
		errs[sent[j]] = &publisher.EntryError{
			Code:      code,
			Message:   aws.ToString(result.ErrorMessage),
			Throttled: isThrottleCode(code),
		}
	}
	return errs
}

func (s *EventBridgeSink) Close() error {
	return nil
}

// entrySize approximates the PutEvents size accounting
func entrySize(e publisher.Entry) int {
	return len(e.Source) + len(e.DetailType) + len(e.Detail) + len(e.EventBus) + 14
}

func isThrottleCode(code string) bool {
	switch code {
	case "ThrottlingException", "InternalFailure", "InternalException", "ServiceUnavailable":
		return true
	default:
		return false
	}
}

func classifyAPIError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &publisher.EntryError{
			Code:      apiErr.ErrorCode(),
			Message:   apiErr.ErrorMessage(),
			Throttled: isThrottleCode(apiErr.ErrorCode()) || apiErr.ErrorFault() == smithy.FaultServer,
		}
	}
	return &publisher.EntryError{Code: "RequestFailed", Message: err.Error()}
}

package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/maxpert/cdcrelay/cfg"
	"github.com/maxpert/cdcrelay/publisher"
)

// DefaultNatsBatchSize bounds entries per PublishBatch call
const DefaultNatsBatchSize = 100

func init() {
	publisher.RegisterSink("nats", func(config cfg.PublisherConfiguration) (publisher.Sink, error) {
		if config.NatsURL == "" {
			return nil, fmt.Errorf("nats sink requires nats_url")
		}
		return NewNatsSink(config.NatsURL, config.MaxBatchSize)
	})
}

// NatsSink implements the Sink interface for NATS JetStream publishing.
// Subjects are "{eventBus}.{detailType}"; each bus gets its own stream.
type NatsSink struct {
	nc        *nats.Conn
	js        jetstream.JetStream
	batchSize int
	streams   sync.Map // bus -> struct{}
}

// NewNatsSink creates a new NATS JetStream sink
func NewNatsSink(url string, batchSize int) (*NatsSink, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if batchSize <= 0 {
		batchSize = DefaultNatsBatchSize
	}
	return &NatsSink{nc: nc, js: js, batchSize: batchSize}, nil
}

func (n *NatsSink) MaxBatchSize() int {
	return n.batchSize
}

// PublishBatch publishes entries in order. Nats-Msg-Id is the source event id
// so JetStream drops redeliveries inside its duplicate window.
func (n *NatsSink) PublishBatch(ctx context.Context, entries []publisher.Entry) []error {
	errs := make([]error, len(entries))
	for i, e := range entries {
		if err := n.ensureStream(ctx, e.EventBus); err != nil {
			errs[i] = classifyNatsError(err)
			continue
		}

		msg := &nats.Msg{
			Subject: Subject(e.EventBus, e.DetailType),
			Data:    e.Payload,
			Header: nats.Header{
				"key":    []string{e.PartitionKey},
				"source": []string{e.Source},
			},
		}
		if _, err := n.js.PublishMsg(ctx, msg, jetstream.WithMsgID(e.ID)); err != nil {
			errs[i] = classifyNatsError(err)
		}
	}
	return errs
}

// ensureStream creates the stream for a bus once per process
func (n *NatsSink) ensureStream(ctx context.Context, bus string) error {
	if _, ok := n.streams.Load(bus); ok {
		return nil
	}

	streamName := sanitizeStreamName(bus)
	_, err := n.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{bus + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     24 * time.Hour,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", streamName, err)
	}

	n.streams.Store(bus, struct{}{})
	return nil
}

// Close releases resources held by the NatsSink
func (n *NatsSink) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

// Subject builds the JetStream subject for an event
func Subject(bus, detailType string) string {
	return bus + "." + detailType
}

// sanitizeStreamName converts a bus name to a valid JetStream stream name.
// Stream names can't contain ".", "*", ">" or whitespace.
func sanitizeStreamName(bus string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '/', '\\':
			return '_'
		default:
			return r
		}
	}, bus)
}

func classifyNatsError(err error) error {
	throttled := errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrNoResponders) ||
		errors.Is(err, context.DeadlineExceeded)
	return &publisher.EntryError{Code: "PublishFailed", Message: err.Error(), Throttled: throttled}
}

package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/maxpert/cdcrelay/cfg"
	"github.com/maxpert/cdcrelay/publisher"
)

const (
	DefaultKafkaBatchSize  = 100
	DefaultKafkaBatchBytes = 1 << 20 // 1MB
)

// Kafka message headers
const (
	HeaderDetailType    = "detail-type"
	HeaderSource        = "source"
	HeaderSourceEventID = "source-event-id"
)

func init() {
	publisher.RegisterSink("kafka", func(config cfg.PublisherConfiguration) (publisher.Sink, error) {
		kafkaConfig := DefaultKafkaConfig(config.Brokers, config.Topic)
		if config.MaxBatchSize > 0 {
			kafkaConfig.BatchSize = config.MaxBatchSize
		}
		return NewKafkaSink(kafkaConfig)
	})
}

// messageWriter is the part of *kafka.Writer the sink uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink implements the Sink interface for Kafka publishing
type KafkaSink struct {
	writer    messageWriter
	topic     string
	batchSize int
}

// KafkaConfig holds configuration for KafkaSink
type KafkaConfig struct {
	Brokers          []string           // Kafka broker addresses
	Topic            string             // Destination topic
	BatchSize        int                // Messages per write (default: 100)
	BatchBytes       int64              // Max batch bytes (default: 1MB)
	RequiredAcks     kafka.RequiredAcks // Ack requirement (default: RequireAll)
	AutoCreateTopics bool               // Auto-create topics if they don't exist (default: true)
}

// DefaultKafkaConfig returns a KafkaConfig with sensible defaults
func DefaultKafkaConfig(brokers []string, topic string) KafkaConfig {
	return KafkaConfig{
		Brokers:          brokers,
		Topic:            topic,
		BatchSize:        DefaultKafkaBatchSize,
		BatchBytes:       DefaultKafkaBatchBytes,
		RequiredAcks:     kafka.RequireAll,
		AutoCreateTopics: true,
	}
}

// NewKafkaSink creates a new KafkaSink with the given configuration
func NewKafkaSink(config KafkaConfig) (*KafkaSink, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka sink requires a topic")
	}

	// Set defaults if not provided
	if config.BatchSize == 0 {
		config.BatchSize = DefaultKafkaBatchSize
	}
	if config.BatchBytes == 0 {
		config.BatchBytes = DefaultKafkaBatchBytes
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               &kafka.Hash{}, // Partition key keeps an entity on one partition
		BatchSize:              config.BatchSize,
		BatchBytes:             config.BatchBytes,
		RequiredAcks:           config.RequiredAcks,
		Async:                  false, // Per-message errors are needed for partial failures
		AllowAutoTopicCreation: config.AutoCreateTopics,
	}

	return &KafkaSink{writer: writer, topic: config.Topic, batchSize: config.BatchSize}, nil
}

func (k *KafkaSink) MaxBatchSize() int {
	return k.batchSize
}

// PublishBatch writes one message per entry keyed by partition key.
// kafka.WriteErrors carries the per-message outcome.
func (k *KafkaSink) PublishBatch(ctx context.Context, entries []publisher.Entry) []error {
	msgs := make([]kafka.Message, len(entries))
	for i, e := range entries {
		msgs[i] = kafka.Message{
			Topic: k.topic,
			Key:   []byte(e.PartitionKey),
			Value: e.Payload,
			Headers: []kafka.Header{
				{Key: HeaderDetailType, Value: []byte(e.DetailType)},
				{Key: HeaderSource, Value: []byte(e.Source)},
				{Key: HeaderSourceEventID, Value: []byte(e.ID)},
			},
		}
	}

	errs := make([]error, len(entries))
	err := k.writer.WriteMessages(ctx, msgs...)
	if err == nil {
		return errs
	}

	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) && len(writeErrs) == len(entries) {
		for i, werr := range writeErrs {
			if werr != nil {
				errs[i] = classifyKafkaError(werr)
			}
		}
		return errs
	}

	callErr := classifyKafkaError(err)
	for i := range errs {
		errs[i] = callErr
	}
	return errs
}

// Close releases resources held by the KafkaSink
func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

func classifyKafkaError(err error) error {
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		return &publisher.EntryError{
			Code:      kerr.Title(),
			Message:   kerr.Description(),
			Throttled: kerr.Temporary(),
		}
	}
	return &publisher.EntryError{Code: "WriteFailed", Message: err.Error()}
}

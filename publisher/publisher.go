// Package publisher delivers normalized events to a downstream event bus.
//
// The Publisher chunks events to the sink's batch limit, maps per-entry
// failures back to source event ids and retries throttled entries with
// exponential backoff. The Batcher lets concurrent record handlers share
// sink calls.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/maxpert/cdcrelay/cfg"
	"github.com/maxpert/cdcrelay/normalize"
	"github.com/maxpert/cdcrelay/telemetry"
)

const (
	// Default timeout for one sink call
	DefaultTimeout = 5 * time.Second
	// Default initial retry delay for throttled entries
	DefaultRetryInitial = 50 * time.Millisecond
	// Default maximum retry delay (exponential backoff cap)
	DefaultRetryMax = time.Second
	// Default exponential backoff multiplier
	DefaultRetryMultiplier = 2.0
	// Default attempts per entry, the first one included
	DefaultMaxAttempts = 4
)

// Config configures a Publisher
type Config struct {
	Name            string        // Sink type, used for metrics and logs
	Sink            Sink          // Destination sink
	MaxBatchSize    int           // Capped at the sink maximum; 0 uses it
	Timeout         time.Duration // Per sink call
	RetryInitial    time.Duration // Initial retry delay
	RetryMax        time.Duration // Max retry delay
	RetryMultiplier float64       // Backoff multiplier
	MaxAttempts     int           // Attempts per entry, the first one included
}

// ConfigFrom maps the [publisher] section onto a Config for snk
func ConfigFrom(conf cfg.PublisherConfiguration, snk Sink) Config {
	return Config{
		Name:            conf.Sink,
		Sink:            snk,
		MaxBatchSize:    conf.MaxBatchSize,
		Timeout:         time.Duration(conf.TimeoutMS) * time.Millisecond,
		RetryInitial:    time.Duration(conf.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(conf.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: conf.RetryMultiplier,
		MaxAttempts:     conf.MaxRetries + 1,
	}
}

// Publisher publishes events through a Sink
type Publisher struct {
	config Config
}

// New creates a publisher, filling unset config fields with defaults
func New(config Config) (*Publisher, error) {
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if config.Name == "" {
		config.Name = "sink"
	}

	sinkMax := config.Sink.MaxBatchSize()
	if sinkMax <= 0 {
		return nil, fmt.Errorf("sink %s reports invalid max batch size %d", config.Name, sinkMax)
	}
	if config.MaxBatchSize <= 0 || config.MaxBatchSize > sinkMax {
		config.MaxBatchSize = sinkMax
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier < 1 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}

	return &Publisher{config: config}, nil
}

// MaxBatchSize is the number of events sent per sink call
func (p *Publisher) MaxBatchSize() int {
	return p.config.MaxBatchSize
}

// Publish sends a single event
func (p *Publisher) Publish(ctx context.Context, event *normalize.Event) error {
	return p.PublishBatch(ctx, []*normalize.Event{event})[0].Err
}

// PublishBatch publishes events and returns one Result per event, in input
// order. A partially failed batch never fails as a whole.
func (p *Publisher) PublishBatch(ctx context.Context, events []*normalize.Event) []Result {
	results := make([]Result, len(events))
	entries := make([]Entry, len(events))
	pending := make([]int, 0, len(events))

	for i, event := range events {
		results[i].SourceEventID = event.SourceEventID()
		entry, err := toEntry(event)
		if err != nil {
			results[i].Err = &PublishError{SourceEventID: event.SourceEventID(), Attempts: 0, Err: err}
			telemetry.PublishEntriesTotal.With(p.config.Name, "failed").Inc()
			continue
		}
		entries[i] = entry
		pending = append(pending, i)
	}

	for start := 0; start < len(pending); start += p.config.MaxBatchSize {
		end := start + p.config.MaxBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		p.publishChunk(ctx, pending[start:end], entries, results)
	}

	return results
}

// publishChunk sends one sink-sized chunk, retrying throttled entries with
// exponential backoff until they succeed, fail hard or run out of attempts
func (p *Publisher) publishChunk(ctx context.Context, idxs []int, entries []Entry, results []Result) {
	delay := p.config.RetryInitial
	attempt := 0

	for len(idxs) > 0 {
		attempt++

		batch := make([]Entry, len(idxs))
		for j, i := range idxs {
			batch[j] = entries[i]
		}
		errs := p.send(ctx, batch)

		var retry []int
		for j, i := range idxs {
			err := errs[j]
			switch {
			case err == nil:
				results[i].Err = nil
				telemetry.PublishEntriesTotal.With(p.config.Name, "ok").Inc()
			case IsThrottled(err) && attempt < p.config.MaxAttempts && ctx.Err() == nil:
				retry = append(retry, i)
				results[i].Err = &PublishError{SourceEventID: entries[i].ID, Attempts: attempt, Err: err}
				telemetry.PublishEntriesTotal.With(p.config.Name, "retried").Inc()
			default:
				results[i].Err = &PublishError{SourceEventID: entries[i].ID, Attempts: attempt, Err: err}
				telemetry.PublishEntriesTotal.With(p.config.Name, "failed").Inc()
			}
		}

		if len(retry) == 0 {
			return
		}

		log.Warn().
			Str("sink", p.config.Name).
			Int("entries", len(retry)).
			Int("attempt", attempt).
			Dur("retry_delay", delay).
			Msg("Throttled by sink, retrying")

		if !sleepCtx(ctx, delay) {
			// Leave the throttling error on the remaining entries
			return
		}

		delay = time.Duration(float64(delay) * p.config.RetryMultiplier)
		if delay > p.config.RetryMax {
			delay = p.config.RetryMax
		}
		idxs = retry
	}
}

// send performs one bounded sink call and normalizes its result length
func (p *Publisher) send(ctx context.Context, batch []Entry) []error {
	callCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	start := time.Now()
	errs := p.config.Sink.PublishBatch(callCtx, batch)
	telemetry.PublishDurationSeconds.With(p.config.Name).Observe(time.Since(start).Seconds())
	telemetry.PublishBatchSize.Observe(float64(len(batch)))

	if len(errs) != len(batch) {
		err := fmt.Errorf("sink %s returned %d results for %d entries", p.config.Name, len(errs), len(batch))
		errs = make([]error, len(batch))
		for i := range errs {
			errs[i] = err
		}
	}
	return errs
}

// Close closes the sink
func (p *Publisher) Close() error {
	return p.config.Sink.Close()
}

func toEntry(event *normalize.Event) (Entry, error) {
	detail, err := json.Marshal(event.Detail)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to marshal event detail: %w", err)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to marshal event: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, event.Detail.Metadata.PublishTimestamp)
	if err != nil {
		ts = time.Now().UTC()
	}

	return Entry{
		ID:           event.SourceEventID(),
		PartitionKey: event.PartitionKey(),
		Source:       event.Source,
		DetailType:   event.DetailType,
		EventBus:     event.EventBusTarget,
		Time:         ts,
		Detail:       detail,
		Payload:      payload,
	}, nil
}

// sleepCtx sleeps for d. Returns false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

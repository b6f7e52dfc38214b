// Package pipeline drives a batch of stream records through decode, type
// resolution, enrichment, dedupe claim, normalization and publish.
//
// Records sharing a partition key form a chain that is processed strictly in
// input order; chains run concurrently on a bounded worker pool. The batch
// outcome lists only the records the caller has to redeliver.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/maxpert/cdcrelay/cfg"
	"github.com/maxpert/cdcrelay/dedupe"
	"github.com/maxpert/cdcrelay/enrich"
	"github.com/maxpert/cdcrelay/normalize"
	"github.com/maxpert/cdcrelay/record"
	"github.com/maxpert/cdcrelay/registry"
	"github.com/maxpert/cdcrelay/telemetry"
	"github.com/maxpert/cdcrelay/tracing"
)

const (
	DefaultWorkers = 8
	DefaultTimeout = time.Minute
)

// Enricher resolves the tenant context of a record
type Enricher interface {
	Enrich(ctx context.Context, rec *record.ChangeRecord, desc registry.Descriptor) (enrich.Context, error)
}

// EventPublisher delivers one normalized event. Implemented by both
// *publisher.Publisher and *publisher.Batcher.
type EventPublisher interface {
	Publish(ctx context.Context, event *normalize.Event) error
}

// Config controls orchestration
type Config struct {
	Workers     int           // Concurrent partition chains
	Timeout     time.Duration // Deadline for one Process call
	FailureMode string        // cfg.PartitionHalt or cfg.PartitionContinue
}

// ConfigFrom maps the [pipeline] section onto a Config
func ConfigFrom(conf cfg.PipelineConfiguration) Config {
	return Config{
		Workers:     conf.Workers,
		Timeout:     time.Duration(conf.InvocationTimeoutMS) * time.Millisecond,
		FailureMode: conf.PartitionFailureMode,
	}
}

// Processor runs batches. It is safe for concurrent use.
type Processor struct {
	config     Config
	registry   *registry.Registry
	enricher   Enricher
	normalizer *normalize.Normalizer
	store      dedupe.Store
	publisher  EventPublisher
	filter     *TableFilter
}

// Option customizes a Processor
type Option func(*Processor)

// WithFilter drops records whose table does not match f
func WithFilter(f *TableFilter) Option {
	return func(p *Processor) {
		p.filter = f
	}
}

// NewProcessor wires the stages together
func NewProcessor(
	config Config,
	reg *registry.Registry,
	enricher Enricher,
	normalizer *normalize.Normalizer,
	store dedupe.Store,
	pub EventPublisher,
	opts ...Option,
) (*Processor, error) {
	switch {
	case reg == nil:
		return nil, fmt.Errorf("registry is required")
	case enricher == nil:
		return nil, fmt.Errorf("enricher is required")
	case normalizer == nil:
		return nil, fmt.Errorf("normalizer is required")
	case store == nil:
		return nil, fmt.Errorf("dedupe store is required")
	case pub == nil:
		return nil, fmt.Errorf("publisher is required")
	}

	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	switch config.FailureMode {
	case "":
		config.FailureMode = cfg.PartitionHalt
	case cfg.PartitionHalt, cfg.PartitionContinue:
	default:
		return nil, fmt.Errorf("invalid partition failure mode: %s", config.FailureMode)
	}

	p := &Processor{
		config:     config,
		registry:   reg,
		enricher:   enricher,
		normalizer: normalizer,
		store:      store,
		publisher:  pub,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Process runs envs through the pipeline and returns the records to retry.
// A non-nil error means the invocation hit a fatal error (*FatalError); the
// returned Outcome still describes every record.
func (p *Processor) Process(ctx context.Context, envs []record.Envelope) (Outcome, error) {
	start := time.Now()
	telemetry.InFlightBatches.Inc()
	defer telemetry.InFlightBatches.Dec()

	ctx, span := tracing.Tracer().Start(ctx, "pipeline.batch",
		trace.WithAttributes(attribute.Int("batch.size", len(envs))))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	results := make([]RecordResult, len(envs))
	for i, env := range envs {
		results[i] = RecordResult{
			SourceEventID: env.SourceEventID(),
			PartitionKey:  env.PartitionKey,
			Stage:         StagePending,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Workers)
	for _, chain := range partitionChains(envs) {
		g.Go(func() error {
			return p.runChain(gctx, envs, chain, results)
		})
	}
	err := g.Wait()

	outcome := newOutcome(results)
	elapsed := time.Since(start)
	telemetry.BatchRecords.Observe(float64(len(envs)))
	telemetry.BatchDurationSeconds.Observe(elapsed.Seconds())

	span.SetAttributes(attribute.Int("batch.failed", len(outcome.FailedItemIDs)))
	if err != nil {
		telemetry.BatchesTotal.With("fatal").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "fatal")
		log.Error().Err(err).Int("records", len(envs)).Msg("Batch aborted")
		return outcome, err
	}

	result := "ok"
	if len(outcome.FailedItemIDs) > 0 {
		result = "partial"
	}
	telemetry.BatchesTotal.With(result).Inc()

	log.Debug().
		Int("records", len(envs)).
		Int("published", outcome.Count(DispositionPublished)).
		Int("duplicates", outcome.Count(DispositionDuplicate)).
		Int("dropped", outcome.Count(DispositionDropped)+outcome.Count(DispositionFiltered)).
		Int("failed", len(outcome.FailedItemIDs)).
		Dur("elapsed", elapsed).
		Msg("Batch processed")

	return outcome, nil
}

// partitionChains groups record indexes by partition key, keeping input
// order within each chain and first-appearance order across chains
func partitionChains(envs []record.Envelope) [][]int {
	byKey := make(map[string]int)
	var chains [][]int
	for i, env := range envs {
		c, ok := byKey[env.PartitionKey]
		if !ok {
			c = len(chains)
			byKey[env.PartitionKey] = c
			chains = append(chains, nil)
		}
		chains[c] = append(chains[c], i)
	}
	return chains
}

// runChain processes one partition in order. Only fatal errors are returned.
func (p *Processor) runChain(ctx context.Context, envs []record.Envelope, chain []int, results []RecordResult) error {
	halted := false
	for _, i := range chain {
		res := &results[i]

		if halted {
			p.fail(res, ErrPartitionHalted)
			continue
		}
		if err := ctx.Err(); err != nil {
			p.fail(res, err)
			continue
		}

		if err := p.processRecord(ctx, envs[i], res); err != nil {
			return &FatalError{SourceEventID: res.SourceEventID, Err: err}
		}

		if res.Disposition == DispositionFailed && p.config.FailureMode == cfg.PartitionHalt {
			halted = true
		}
	}
	return nil
}

// processRecord moves one record through every stage, filling res. It
// returns an error only for failures that abort the whole invocation.
func (p *Processor) processRecord(ctx context.Context, env record.Envelope, res *RecordResult) error {
	ctx, span := tracing.Tracer().Start(ctx, "pipeline.record", trace.WithAttributes(
		attribute.String("record.source_event_id", res.SourceEventID),
		attribute.String("record.partition_key", res.PartitionKey),
	))
	defer func() {
		span.SetAttributes(
			attribute.String("record.stage", res.Stage.String()),
			attribute.String("record.disposition", string(res.Disposition)),
		)
		if res.Err != nil {
			span.RecordError(res.Err)
		}
		if res.Disposition == DispositionFailed {
			span.SetStatus(codes.Error, res.Stage.String())
		}
		span.End()
	}()

	rec, sctx, err := record.Decode(env)
	if err != nil {
		p.drop(res, err)
		return nil
	}
	res.SourceEventID = sctx.SourceEventID
	res.Stage = StageDecoded

	logger := log.With().
		Str("source_event_id", sctx.SourceEventID).
		Str("partition_key", sctx.PartitionKey).
		Str("table", rec.TableName).
		Logger()
	span.SetAttributes(attribute.String("record.table", rec.TableName))

	desc, err := p.registry.Resolve(rec.TableName)
	if err != nil {
		p.drop(res, err)
		return nil
	}
	res.Stage = StageTypeResolved

	if !p.filter.Match(rec.SchemaName, rec.TableName) {
		p.finish(res, DispositionFiltered)
		logger.Debug().Str("schema", rec.SchemaName).Msg("Record filtered")
		return nil
	}

	ectx, err := p.enricher.Enrich(ctx, rec, desc)
	if err != nil {
		p.failOrDrop(res, err, logger)
		return nil
	}
	res.Stage = StageEnriched

	claimed, err := p.store.Claim(ctx, sctx.SourceEventID)
	if err != nil {
		// The write may have landed before the error surfaced
		p.release(ctx, sctx.SourceEventID, logger)
		p.failOrDrop(res, err, logger)
		return nil
	}
	if !claimed {
		p.finish(res, DispositionDuplicate)
		logger.Debug().Msg("Duplicate record suppressed")
		return nil
	}
	res.Stage = StageClaimed

	event, err := p.normalizer.Normalize(rec, sctx, ectx, desc, sctx.AttemptCount)
	if err != nil {
		p.release(ctx, sctx.SourceEventID, logger)
		var invariantErr *normalize.InvariantError
		if errors.As(err, &invariantErr) {
			res.Err = err
			res.Disposition = DispositionDropped
			p.countFailure(res.Stage, false)
			return err
		}
		p.failOrDrop(res, err, logger)
		return nil
	}
	res.Stage = StageNormalized

	if err := p.publisher.Publish(ctx, event); err != nil {
		p.release(ctx, sctx.SourceEventID, logger)
		p.failOrDrop(res, err, logger)
		return nil
	}
	res.Stage = StagePublished

	p.finish(res, DispositionPublished)
	logger.Debug().Str("detail_type", event.DetailType).Msg("Record published")
	return nil
}

// release frees a claim whose event was not published so the redelivered
// record can be claimed again. Runs even when ctx has ended.
func (p *Processor) release(ctx context.Context, id string, logger zerolog.Logger) {
	if err := p.store.Release(context.WithoutCancel(ctx), id); err != nil {
		logger.Warn().Err(err).Msg("Failed to release dedupe claim")
	}
}

func (p *Processor) finish(res *RecordResult, d Disposition) {
	res.Disposition = d
	res.Stage = StageDone
	telemetry.RecordsTotal.With(string(d)).Inc()
}

func (p *Processor) drop(res *RecordResult, err error) {
	p.countFailure(res.Stage, false)
	log.Warn().
		Err(err).
		Str("source_event_id", res.SourceEventID).
		Str("partition_key", res.PartitionKey).
		Str("stage", res.Stage.String()).
		Msg("Dropping record")
	res.Err = err
	p.finish(res, DispositionDropped)
}

func (p *Processor) fail(res *RecordResult, err error) {
	p.countFailure(res.Stage, true)
	res.Err = err
	res.Disposition = DispositionFailed
	telemetry.RecordsTotal.With(string(DispositionFailed)).Inc()
}

func (p *Processor) failOrDrop(res *RecordResult, err error, logger zerolog.Logger) {
	if !IsRetryable(err) {
		p.drop(res, err)
		return
	}
	logger.Error().Err(err).Str("stage", res.Stage.String()).Msg("Record failed, will be redelivered")
	p.fail(res, err)
}

func (p *Processor) countFailure(stage Stage, retryable bool) {
	r := "false"
	if retryable {
		r = "true"
	}
	telemetry.RecordFailuresTotal.With(stage.String(), r).Inc()
}

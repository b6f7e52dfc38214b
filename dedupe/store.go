// Package dedupe suppresses duplicate delivery of change records.
//
// A claim is a conditional insert-if-absent of the record's source event id
// with a time-to-live covering the upstream redelivery window. Exactly one
// claim per key succeeds within the TTL; later claims report a duplicate.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maxpert/cdcrelay/cfg"
	"github.com/maxpert/cdcrelay/telemetry"
)

// Store is a conditional-put key-value store with TTL
type Store interface {
	// Claim inserts id if absent. claimed is false when id was already
	// claimed and has not expired.
	Claim(ctx context.Context, id string) (claimed bool, err error)

	// Release drops a claim so that a redelivery can claim again
	Release(ctx context.Context, id string) error

	Close() error
}

// Open builds the configured store, wrapped with key prefixing, call
// timeouts, metrics and StoreError classification.
func Open(ctx context.Context, conf cfg.DedupeConfiguration) (Store, error) {
	ttl := time.Duration(conf.TTLHours) * time.Hour
	sweepInterval := time.Duration(conf.SweepIntervalSeconds) * time.Second

	var (
		backend Store
		err     error
	)
	switch conf.Store {
	case cfg.DedupeMemory:
		backend = NewMemoryStore(ttl, sweepInterval)
	case cfg.DedupePebble:
		backend, err = NewPebbleStore(conf.PebblePath, ttl, sweepInterval)
	case cfg.DedupeDynamoDB:
		backend, err = NewDynamoDBStoreFromConfig(ctx, conf.AWSRegion, conf.DynamoDBTable, ttl)
	case cfg.DedupeNATS:
		backend, err = NewNatsStore(ctx, conf.NatsURL, conf.NatsBucket, ttl)
	default:
		return nil, fmt.Errorf("unknown dedupe store: %s", conf.Store)
	}
	if err != nil {
		return nil, err
	}

	return Wrap(backend, conf.Store, conf.KeyPrefix, time.Duration(conf.TimeoutMS)*time.Millisecond), nil
}

// instrumentedStore namespaces keys and classifies backend failures
type instrumentedStore struct {
	next    Store
	name    string
	prefix  string
	timeout time.Duration
}

// Wrap decorates a backend. Keys become prefix+id, each call is bounded by
// timeout (when positive) and backend errors surface as *StoreError.
func Wrap(next Store, name, prefix string, timeout time.Duration) Store {
	return &instrumentedStore{next: next, name: name, prefix: prefix, timeout: timeout}
}

func (s *instrumentedStore) Claim(ctx context.Context, id string) (bool, error) {
	key := s.prefix + id
	ctx, cancel := s.bound(ctx)
	defer cancel()

	start := time.Now()
	claimed, err := s.next.Claim(ctx, key)
	telemetry.DedupeClaimSeconds.With(s.name).Observe(time.Since(start).Seconds())

	if err != nil {
		telemetry.DedupeClaimsTotal.With("error").Inc()
		return false, s.wrap("claim", key, err)
	}
	if claimed {
		telemetry.DedupeClaimsTotal.With("claimed").Inc()
	} else {
		telemetry.DedupeClaimsTotal.With("duplicate").Inc()
	}
	return claimed, nil
}

func (s *instrumentedStore) Release(ctx context.Context, id string) error {
	key := s.prefix + id
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.next.Release(ctx, key); err != nil {
		return s.wrap("release", key, err)
	}
	return nil
}

func (s *instrumentedStore) Close() error {
	return s.next.Close()
}

func (s *instrumentedStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *instrumentedStore) wrap(op, key string, err error) error {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return err
	}
	return &StoreError{Op: op, Key: key, Store: s.name, Err: err}
}

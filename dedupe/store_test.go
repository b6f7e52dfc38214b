package dedupe

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxpert/cdcrelay/cfg"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// storeFactory builds a backend with an injected clock
type storeFactory func(t *testing.T, ttl time.Duration, clock *fakeClock) Store

func memoryFactory(t *testing.T, ttl time.Duration, clock *fakeClock) Store {
	s := NewMemoryStore(ttl, 0)
	s.now = clock.Now
	t.Cleanup(func() { s.Close() })
	return s
}

func pebbleFactory(t *testing.T, ttl time.Duration, clock *fakeClock) Store {
	s, err := NewPebbleStore(filepath.Join(t.TempDir(), "dedupe"), ttl, 0)
	require.NoError(t, err)
	s.now = clock.Now
	t.Cleanup(func() { s.Close() })
	return s
}

func dynamoFactory(t *testing.T, ttl time.Duration, clock *fakeClock) Store {
	s := NewDynamoDBStore(newFakeDynamo(), "claims", ttl)
	s.now = clock.Now
	return s
}

var backends = map[string]storeFactory{
	"memory":   memoryFactory,
	"pebble":   pebbleFactory,
	"dynamodb": dynamoFactory,
}

func TestStore_ClaimIsIdempotent(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			store := factory(t, time.Hour, newFakeClock())
			ctx := context.Background()

			claimed, err := store.Claim(ctx, "evt-1")
			require.NoError(t, err)
			assert.True(t, claimed, "first claim wins")

			claimed, err = store.Claim(ctx, "evt-1")
			require.NoError(t, err)
			assert.False(t, claimed, "second claim is a duplicate")

			claimed, err = store.Claim(ctx, "evt-2")
			require.NoError(t, err)
			assert.True(t, claimed, "distinct keys never conflict")
		})
	}
}

func TestStore_ClaimExpires(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			store := factory(t, time.Hour, clock)
			ctx := context.Background()

			claimed, err := store.Claim(ctx, "evt-1")
			require.NoError(t, err)
			require.True(t, claimed)

			clock.Advance(59 * time.Minute)
			claimed, err = store.Claim(ctx, "evt-1")
			require.NoError(t, err)
			assert.False(t, claimed, "still inside the TTL")

			clock.Advance(2 * time.Minute)
			claimed, err = store.Claim(ctx, "evt-1")
			require.NoError(t, err)
			assert.True(t, claimed, "expired claims can be taken again")
		})
	}
}

func TestStore_Release(t *testing.T) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			store := factory(t, time.Hour, newFakeClock())
			ctx := context.Background()

			claimed, err := store.Claim(ctx, "evt-1")
			require.NoError(t, err)
			require.True(t, claimed)

			require.NoError(t, store.Release(ctx, "evt-1"))

			claimed, err = store.Claim(ctx, "evt-1")
			require.NoError(t, err)
			assert.True(t, claimed)

			assert.NoError(t, store.Release(ctx, "never-claimed"))
		})
	}
}

func TestStore_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	for name, factory := range backends {
		if name == "dynamodb" {
			continue
		}
		t.Run(name, func(t *testing.T) {
			store := factory(t, time.Hour, newFakeClock())

			var winners atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 32; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					claimed, err := store.Claim(context.Background(), "hot-key")
					assert.NoError(t, err)
					if claimed {
						winners.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), winners.Load())
		})
	}
}

func TestMemoryStore_Sweep(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(time.Minute, 0)
	store.now = clock.Now
	defer store.Close()

	for i := 0; i < 5; i++ {
		_, err := store.Claim(context.Background(), fmt.Sprintf("evt-%d", i))
		require.NoError(t, err)
	}
	clock.Advance(30 * time.Second)
	_, err := store.Claim(context.Background(), "fresh")
	require.NoError(t, err)

	assert.Equal(t, 0, store.Sweep())

	clock.Advance(45 * time.Second)
	assert.Equal(t, 5, store.Sweep())
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	store := NewMemoryStore(time.Minute, 0)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Claim(ctx, "evt")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWrap_PrefixesKeysAndClassifiesErrors(t *testing.T) {
	backend := NewMemoryStore(time.Hour, 0)
	defer backend.Close()
	store := Wrap(backend, cfg.DedupeMemory, "cdc#", time.Second)

	claimed, err := store.Claim(context.Background(), "evt-1")
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = backend.Claim(context.Background(), "cdc#evt-1")
	require.NoError(t, err)
	assert.False(t, claimed, "backend sees the namespaced key")

	failing := Wrap(&failingStore{err: errors.New("connection reset")}, "dynamodb", "cdc#", time.Second)
	_, err = failing.Claim(context.Background(), "evt-2")
	require.Error(t, err)

	var storeErr *StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "claim", storeErr.Op)
	assert.Equal(t, "cdc#evt-2", storeErr.Key)
	assert.True(t, storeErr.Retryable())

	err = failing.Release(context.Background(), "evt-2")
	assert.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "release", storeErr.Op)
}

func TestWrap_BoundsCallsWithTimeout(t *testing.T) {
	store := Wrap(&blockingStore{}, "slow", "", 20*time.Millisecond)

	start := time.Now()
	_, err := store.Claim(context.Background(), "evt")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestOpen(t *testing.T) {
	conf := cfg.Default().Dedupe
	store, err := Open(context.Background(), conf)
	require.NoError(t, err)
	claimed, err := store.Claim(context.Background(), "evt")
	require.NoError(t, err)
	assert.True(t, claimed)
	require.NoError(t, store.Close())

	conf.Store = cfg.DedupePebble
	conf.PebblePath = filepath.Join(t.TempDir(), "claims")
	store, err = Open(context.Background(), conf)
	require.NoError(t, err)
	claimed, err = store.Claim(context.Background(), "evt")
	require.NoError(t, err)
	assert.True(t, claimed)
	require.NoError(t, store.Close())

	conf.Store = "redis"
	_, err = Open(context.Background(), conf)
	assert.Error(t, err)
}

type failingStore struct {
	err error
}

func (f *failingStore) Claim(context.Context, string) (bool, error) { return false, f.err }
func (f *failingStore) Release(context.Context, string) error       { return f.err }
func (f *failingStore) Close() error                                { return nil }

type blockingStore struct{}

func (blockingStore) Claim(ctx context.Context, _ string) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}
func (blockingStore) Release(ctx context.Context, _ string) error { return nil }
func (blockingStore) Close() error                                { return nil }

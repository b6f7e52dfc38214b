package dedupe

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPebbleStore_ClaimsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dedupe")

	store, err := NewPebbleStore(path, time.Hour, 0)
	require.NoError(t, err)
	claimed, err := store.Claim(context.Background(), "evt-1")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, store.Close())

	store, err = NewPebbleStore(path, time.Hour, 0)
	require.NoError(t, err)
	defer store.Close()

	claimed, err = store.Claim(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.False(t, claimed, "claim persisted across restarts")
}

func TestPebbleStore_Sweep(t *testing.T) {
	clock := newFakeClock()
	store, err := NewPebbleStore(filepath.Join(t.TempDir(), "dedupe"), time.Minute, 0)
	require.NoError(t, err)
	store.now = clock.Now
	defer store.Close()

	for i := 0; i < 10; i++ {
		_, err := store.Claim(context.Background(), fmt.Sprintf("evt-%d", i))
		require.NoError(t, err)
	}
	clock.Advance(30 * time.Second)
	_, err = store.Claim(context.Background(), "fresh")
	require.NoError(t, err)

	assert.Equal(t, 0, store.Sweep())

	clock.Advance(45 * time.Second)
	assert.Equal(t, 10, store.Sweep())

	_, closer, err := store.db.Get([]byte(prefixClaim + "evt-0"))
	assert.ErrorIs(t, err, pebble.ErrNotFound)
	if closer != nil {
		closer.Close()
	}

	claimed, err := store.Claim(context.Background(), "fresh")
	require.NoError(t, err)
	assert.False(t, claimed, "unexpired claims survive a sweep")
}

func TestPebbleStore_UndecodableClaimIsOverwritten(t *testing.T) {
	store, err := NewPebbleStore(filepath.Join(t.TempDir(), "dedupe"), time.Hour, 0)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.db.Set([]byte(prefixClaim+"evt"), []byte{0xc1}, pebble.Sync))

	claimed, err := store.Claim(context.Background(), "evt")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestPebbleStore_ClosedStore(t *testing.T) {
	store, err := NewPebbleStore(filepath.Join(t.TempDir(), "dedupe"), time.Hour, 0)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.Claim(context.Background(), "evt")
	assert.Error(t, err)
	assert.Error(t, store.Release(context.Background(), "evt"))
	assert.Error(t, store.Close())
	assert.Equal(t, 0, store.Sweep())
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte("/claim0"), prefixUpperBound([]byte("/claim/")))
	assert.Equal(t, []byte{0x02}, prefixUpperBound([]byte{0x01, 0xff}))
	assert.Nil(t, prefixUpperBound([]byte{0xff, 0xff}))
}

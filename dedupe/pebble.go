package dedupe

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"

	"github.com/maxpert/cdcrelay/encoding"
)

// Key prefix for claims in Pebble: /claim/{key}
const prefixClaim = "/claim/"

// Pebble configuration constants
const (
	memTableSize                = 16 << 20 // 16MB
	memTableStopWritesThreshold = 4
	l0CompactionThreshold       = 2
	l0StopWritesThreshold       = 12
	maxConcurrentCompactions    = 2
)

// lockStripes bounds the number of mutexes guarding check-and-set
const lockStripes = 64

// PebbleStore keeps claims in a local Pebble database. Check-and-set is made
// atomic per key with striped mutexes; distinct keys rarely contend.
type PebbleStore struct {
	db      *pebble.DB
	path    string
	ttl     time.Duration
	now     func() time.Time
	locks   [lockStripes]sync.Mutex
	sweeper *sweeper
	closed  atomic.Bool
}

// NewPebbleStore opens (or creates) a claim database at path
func NewPebbleStore(path string, ttl, sweepInterval time.Duration) (*PebbleStore, error) {
	opts := &pebble.Options{
		MemTableSize:                memTableSize,
		MemTableStopWritesThreshold: memTableStopWritesThreshold,
		L0CompactionThreshold:       l0CompactionThreshold,
		L0StopWritesThreshold:       l0StopWritesThreshold,
		MaxConcurrentCompactions:    func() int { return maxConcurrentCompactions },
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open dedupe store at %s: %w", path, err)
	}

	s := &PebbleStore{
		db:   db,
		path: path,
		ttl:  ttl,
		now:  time.Now,
	}
	s.sweeper = startSweeper("pebble", sweepInterval, s.Sweep)

	log.Info().Str("path", path).Dur("ttl", ttl).Msg("Pebble dedupe store opened")
	return s, nil
}

func (s *PebbleStore) Claim(ctx context.Context, key string) (bool, error) {
	if s.closed.Load() {
		return false, fmt.Errorf("dedupe store is closed")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	now := s.now()
	k := []byte(prefixClaim + key)

	existing, found, err := s.get(k)
	if err != nil {
		return false, err
	}
	if found && existing.Live(now) {
		return false, nil
	}

	val, err := encoding.EncodeClaim(encoding.NewClaim(now, s.ttl))
	if err != nil {
		return false, err
	}
	if err := s.db.Set(k, val, pebble.Sync); err != nil {
		return false, fmt.Errorf("failed to write claim: %w", err)
	}
	return true, nil
}

func (s *PebbleStore) Release(ctx context.Context, key string) error {
	if s.closed.Load() {
		return fmt.Errorf("dedupe store is closed")
	}

	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	if err := s.db.Delete([]byte(prefixClaim+key), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete claim: %w", err)
	}
	return nil
}

// Sweep deletes expired claims and returns how many were removed
func (s *PebbleStore) Sweep() int {
	if s.closed.Load() {
		return 0
	}

	prefix := []byte(prefixClaim)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to open dedupe sweep iterator")
		return 0
	}

	now := s.now().UnixNano()
	var expired [][]byte
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			continue
		}

		rec, err := encoding.DecodeClaim(val)
		if err != nil {
			log.Warn().Err(err).Str("key", string(iter.Key())).Msg("Dropping undecodable dedupe claim")
		} else if now < rec.ExpiresAt {
			continue
		}
		expired = append(expired, append([]byte(nil), iter.Key()...))
	}
	if err := iter.Close(); err != nil {
		log.Warn().Err(err).Msg("Dedupe sweep iteration failed")
		return 0
	}

	removed := 0
	for _, k := range expired {
		if s.deleteIfExpired(k, now) {
			removed++
		}
	}
	return removed
}

// deleteIfExpired rechecks under the key lock so a concurrent re-claim wins
func (s *PebbleStore) deleteIfExpired(k []byte, now int64) bool {
	mu := s.lockFor(string(k[len(prefixClaim):]))
	mu.Lock()
	defer mu.Unlock()

	rec, found, err := s.get(k)
	if err != nil || (found && now < rec.ExpiresAt) {
		return false
	}
	if err := s.db.Delete(k, pebble.NoSync); err != nil {
		log.Warn().Err(err).Str("key", string(k)).Msg("Failed to delete expired dedupe claim")
		return false
	}
	return true
}

func (s *PebbleStore) get(k []byte) (encoding.Claim, bool, error) {
	val, closer, err := s.db.Get(k)
	if err == pebble.ErrNotFound {
		return encoding.Claim{}, false, nil
	}
	if err != nil {
		return encoding.Claim{}, false, fmt.Errorf("failed to read claim: %w", err)
	}
	defer closer.Close()

	rec, err := encoding.DecodeClaim(val)
	if err != nil {
		// An unreadable claim is treated as expired and overwritten
		return encoding.Claim{}, false, nil
	}
	return rec, true, nil
}

func (s *PebbleStore) lockFor(key string) *sync.Mutex {
	return &s.locks[xxhash.Sum64String(key)%lockStripes]
}

// Close stops the sweeper and closes the database
func (s *PebbleStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("dedupe store already closed")
	}
	s.sweeper.stop()
	return s.db.Close()
}

// prefixUpperBound returns the upper bound for a prefix scan
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

package dedupe

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// MemoryStore keeps claims in a concurrent map. Claims do not survive a
// restart and are not shared between processes.
type MemoryStore struct {
	claims  *xsync.MapOf[string, time.Time]
	ttl     time.Duration
	now     func() time.Time
	sweeper *sweeper
}

// NewMemoryStore creates a store whose expired claims are swept every
// sweepInterval (never when zero)
func NewMemoryStore(ttl, sweepInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		claims: xsync.NewMapOf[string, time.Time](),
		ttl:    ttl,
		now:    time.Now,
	}
	s.sweeper = startSweeper("memory", sweepInterval, s.Sweep)
	return s
}

func (s *MemoryStore) Claim(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	now := s.now()
	claimed := false
	s.claims.Compute(key, func(expiresAt time.Time, loaded bool) (time.Time, bool) {
		if loaded && now.Before(expiresAt) {
			return expiresAt, false
		}
		claimed = true
		return now.Add(s.ttl), false
	})
	return claimed, nil
}

func (s *MemoryStore) Release(ctx context.Context, key string) error {
	s.claims.Delete(key)
	return nil
}

// Sweep drops expired claims and returns how many were removed
func (s *MemoryStore) Sweep() int {
	now := s.now()
	removed := 0
	s.claims.Range(func(key string, _ time.Time) bool {
		s.claims.Compute(key, func(expiresAt time.Time, loaded bool) (time.Time, bool) {
			expired := loaded && !now.Before(expiresAt)
			if expired {
				removed++
			}
			return expiresAt, !loaded || expired
		})
		return true
	})
	return removed
}

// Len returns the number of stored claims, expired ones included
func (s *MemoryStore) Len() int {
	return s.claims.Size()
}

func (s *MemoryStore) Close() error {
	s.sweeper.stop()
	s.claims.Clear()
	return nil
}

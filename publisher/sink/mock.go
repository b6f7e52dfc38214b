package sink

import (
	"context"
	"sync"

	"github.com/maxpert/cdcrelay/publisher"
)

// MockSink is an in-memory Sink for tests. FailFunc scripts per-entry
// failures; attempt counts calls for the same entry id, starting at 1.
type MockSink struct {
	Entries    []publisher.Entry // Accepted entries, in publish order
	BatchSizes []int             // Size of every PublishBatch call
	MaxBatch   int               // Reported MaxBatchSize (default 10)
	FailFunc   func(entry publisher.Entry, attempt int) error

	attempts map[string]int
	mu       sync.Mutex
}

// PublishBatch records accepted entries for later inspection in tests
func (m *MockSink) PublishBatch(ctx context.Context, entries []publisher.Entry) []error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.attempts == nil {
		m.attempts = make(map[string]int)
	}
	m.BatchSizes = append(m.BatchSizes, len(entries))

	errs := make([]error, len(entries))
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}

		m.attempts[entry.ID]++
		if m.FailFunc != nil {
			if err := m.FailFunc(entry, m.attempts[entry.ID]); err != nil {
				errs[i] = err
				continue
			}
		}
		m.Entries = append(m.Entries, entry)
	}
	return errs
}

func (m *MockSink) MaxBatchSize() int {
	if m.MaxBatch > 0 {
		return m.MaxBatch
	}
	return 10
}

// Close is a no-op for MockSink
func (m *MockSink) Close() error {
	return nil
}

// Published returns the ids of accepted entries in publish order
func (m *MockSink) Published() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, len(m.Entries))
	for i, e := range m.Entries {
		ids[i] = e.ID
	}
	return ids
}

// Attempts returns how many times id was sent
func (m *MockSink) Attempts(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[id]
}

// Reset clears all recorded entries
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = nil
	m.BatchSizes = nil
	m.attempts = nil
}

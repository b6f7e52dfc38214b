package publisher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jizhuozhi/go-future"

	"github.com/maxpert/cdcrelay/normalize"
)

// ErrBatcherStopped is returned for events enqueued after Stop
var ErrBatcherStopped = errors.New("batcher stopped")

type pendingEvent struct {
	ctx     context.Context
	event   *normalize.Event
	promise *future.Promise[struct{}]
}

// Batcher groups events from concurrent callers into shared sink calls. A
// flush happens when a full sink batch is pending or maxWait elapses.
type Batcher struct {
	publisher *Publisher
	maxWait   time.Duration

	mu      sync.Mutex
	pending []*pendingEvent
	stopped bool

	kickCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewBatcher(publisher *Publisher, maxWait time.Duration) *Batcher {
	return &Batcher{
		publisher: publisher,
		maxWait:   maxWait,
		kickCh:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the flush loop
func (b *Batcher) Start() {
	b.wg.Add(1)
	go b.flushLoop()
}

// Stop flushes what is pending and ends the flush loop. Events enqueued
// after Stop begins fail with ErrBatcherStopped.
func (b *Batcher) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()

	close(b.stopCh)
	b.wg.Wait()
	// Drains events left when the loop was never started
	b.tryFlush()
}

// Enqueue schedules event for the next flush. The future resolves with the
// event's own publish result. Events whose ctx ends before the flush are
// not sent.
func (b *Batcher) Enqueue(ctx context.Context, event *normalize.Event) *future.Future[struct{}] {
	p := future.NewPromise[struct{}]()

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		p.Set(struct{}{}, ErrBatcherStopped)
		return p.Future()
	}
	b.pending = append(b.pending, &pendingEvent{ctx: ctx, event: event, promise: p})
	full := len(b.pending) >= b.publisher.MaxBatchSize()
	b.mu.Unlock()

	if full {
		select {
		case b.kickCh <- struct{}{}:
		default:
		}
	}

	return p.Future()
}

// Publish enqueues event and waits for its result or for ctx to end
func (b *Batcher) Publish(ctx context.Context, event *normalize.Event) error {
	fut := b.Enqueue(ctx, event)

	done := make(chan error, 1)
	go func() {
		_, err := fut.Get()
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Batcher) flushLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.maxWait)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.tryFlush()
		case <-b.kickCh:
			b.tryFlush()
		case <-b.stopCh:
			b.tryFlush()
			return
		}
	}
}

func (b *Batcher) tryFlush() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	b.flush(batch)
}

func (b *Batcher) flush(batch []*pendingEvent) {
	live := make([]*pendingEvent, 0, len(batch))
	for _, pe := range batch {
		if err := pe.ctx.Err(); err != nil {
			pe.promise.Set(struct{}{}, err)
			continue
		}
		live = append(live, pe)
	}
	if len(live) == 0 {
		return
	}

	events := make([]*normalize.Event, len(live))
	for i, pe := range live {
		events[i] = pe.event
	}

	// Callers bound their own wait; the sink call is bounded by the
	// publisher timeout and retry budget
	results := b.publisher.PublishBatch(context.Background(), events)
	for i, pe := range live {
		pe.promise.Set(struct{}{}, results[i].Err)
	}
}

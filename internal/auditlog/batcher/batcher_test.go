package batcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditlogproject/auditlog/internal/auditlog/eventqueue"
	"github.com/auditlogproject/auditlog/internal/auditlog/metrics"
	"github.com/auditlogproject/auditlog/internal/auditlog/model"
)

type fakeWriter struct {
	mu        sync.Mutex
	batches   [][]*model.AuditEvent
	err       error
	honourCtx bool
}

func (w *fakeWriter) InsertBatch(ctx context.Context, events []*model.AuditEvent) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.honourCtx && ctx.Err() != nil {
		return 0, ctx.Err()
	}
	if w.err != nil {
		return 0, w.err
	}
	batch := make([]*model.AuditEvent, len(events))
	copy(batch, events)
	w.batches = append(w.batches, batch)
	return len(events), nil
}

func (w *fakeWriter) events() []*model.AuditEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	var all []*model.AuditEvent
	for _, b := range w.batches {
		all = append(all, b...)
	}
	return all
}

func TestBatchSizeClamped(t *testing.T) {
	queue := eventqueue.New()
	b := NewBatcher(queue, &fakeWriter{}, &fakeWriter{}, &FallbackCounter{}, 10, time.Millisecond, time.Second, metrics.Get())
	assert.Equal(t, MinBatchSize, b.BatchSize())

	b = NewBatcher(queue, &fakeWriter{}, &fakeWriter{}, &FallbackCounter{}, 10000, time.Millisecond, time.Second, metrics.Get())
	assert.Equal(t, MaxBatchSize, b.BatchSize())

	b = NewBatcher(queue, &fakeWriter{}, &fakeWriter{}, &FallbackCounter{}, 200, time.Millisecond, time.Second, metrics.Get())
	assert.Equal(t, 200, b.BatchSize())
}

func TestFlushSingleEventAfterFillWait(t *testing.T) {
	queue := eventqueue.New()
	primary := &fakeWriter{}
	b := NewBatcher(queue, primary, &fakeWriter{}, &FallbackCounter{}, 100, 10*time.Millisecond, time.Second, metrics.Get())

	e := newEvent()
	queue.Enqueue(e)
	b.Flush(context.Background())

	require.Len(t, primary.batches, 1)
	require.Len(t, primary.batches[0], 1)
	assert.Same(t, e, primary.batches[0][0])
}

func TestFlushCutsFullBatch(t *testing.T) {
	queue := eventqueue.New()
	primary := &fakeWriter{}
	b := NewBatcher(queue, primary, &fakeWriter{}, &FallbackCounter{}, MinBatchSize, 10*time.Millisecond, time.Second, metrics.Get())

	var events []*model.AuditEvent
	for i := 0; i < MinBatchSize+20; i++ {
		events = append(events, newEvent())
	}
	queue.EnqueueAll(events)

	b.Flush(context.Background())
	require.Len(t, primary.batches, 1)
	assert.Len(t, primary.batches[0], MinBatchSize)
	assert.Equal(t, events[:MinBatchSize], primary.batches[0])
	assert.Equal(t, 20, queue.Len())
}

func TestFlushBlockedByCancelledContext(t *testing.T) {
	queue := eventqueue.New()
	primary := &fakeWriter{}
	b := NewBatcher(queue, primary, &fakeWriter{}, &FallbackCounter{}, MinBatchSize, time.Millisecond, time.Second, metrics.Get())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	b.Flush(ctx)
	assert.Empty(t, primary.batches)
}

func TestFailoverWritesBatchToFallback(t *testing.T) {
	queue := eventqueue.New()
	primary := &fakeWriter{err: errors.New("connection refused")}
	fallback := &fakeWriter{}
	counter := &FallbackCounter{}
	b := NewBatcher(queue, primary, fallback, counter, MinBatchSize, time.Millisecond, time.Second, metrics.Get())

	var events []*model.AuditEvent
	for i := 0; i < MinBatchSize; i++ {
		events = append(events, newEvent())
	}
	queue.EnqueueAll(events)
	b.Flush(context.Background())

	require.Len(t, fallback.batches, 1)
	assert.Equal(t, events, fallback.batches[0])
	assert.Equal(t, int64(MinBatchSize), counter.Get())
}

func TestBothStoresFailingDropsBatch(t *testing.T) {
	queue := eventqueue.New()
	primary := &fakeWriter{err: errors.New("primary down")}
	fallback := &fakeWriter{err: errors.New("disk full")}
	counter := &FallbackCounter{}
	b := NewBatcher(queue, primary, fallback, counter, MinBatchSize, time.Millisecond, time.Second, metrics.Get())

	queue.Enqueue(newEvent())
	b.Flush(context.Background())
	assert.Equal(t, int64(0), counter.Get())
	assert.Equal(t, 0, queue.Len())
}

func TestConcurrentSubmissionNoLossNoDuplicates(t *testing.T) {
	queue := eventqueue.New()
	primary := &fakeWriter{}
	b := NewBatcher(queue, primary, &fakeWriter{}, &FallbackCounter{}, MinBatchSize, 5*time.Millisecond, time.Second, metrics.Get())

	const producers = 4
	const perProducer = 100
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				queue.Enqueue(newEvent())
			}
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for len(primary.events()) < producers*perProducer && ctx.Err() == nil {
		b.Flush(ctx)
	}

	all := primary.events()
	require.Len(t, all, producers*perProducer)
	seen := map[uuid.UUID]bool{}
	for _, e := range all {
		assert.False(t, seen[e.LogUUID], "event flushed twice")
		seen[e.LogUUID] = true
	}
}

func TestWriteSurvivesCancelledTick(t *testing.T) {
	queue := eventqueue.New()
	primary := &fakeWriter{honourCtx: true}
	fallback := &fakeWriter{honourCtx: true}
	counter := &FallbackCounter{}
	b := NewBatcher(queue, primary, fallback, counter, MinBatchSize, time.Millisecond, time.Second, metrics.Get())

	e := newEvent()
	queue.Enqueue(e)

	// A tick cancelled mid-flush must still land the assembled batch in a
	// healthy store rather than dropping it.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Flush(ctx)

	require.Len(t, primary.batches, 1)
	assert.Same(t, e, primary.batches[0][0])
	assert.Empty(t, fallback.batches)
	assert.Equal(t, int64(0), counter.Get())
}

func TestDrainFlushesEverythingWithoutWaiting(t *testing.T) {
	queue := eventqueue.New()
	primary := &fakeWriter{}
	b := NewBatcher(queue, primary, &fakeWriter{}, &FallbackCounter{}, MinBatchSize, time.Second, time.Second, metrics.Get())

	var events []*model.AuditEvent
	for i := 0; i < MinBatchSize*2+7; i++ {
		events = append(events, newEvent())
	}
	queue.EnqueueAll(events)

	start := time.Now()
	b.Drain(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, primary.events(), len(events))
	assert.Equal(t, 0, queue.Len())
}

func newEvent() *model.AuditEvent {
	return &model.AuditEvent{
		Timestamp:  time.Now(),
		PlayerUUID: uuid.New(),
		PlayerName: "steve",
		ActionType: model.ActionBlockBreak,
		World:      "overworld",
		Source:     model.SourcePlayer,
		LogUUID:    uuid.New(),
	}
}

package batcher

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/auditlogproject/auditlog/internal/auditlog/eventqueue"
	"github.com/auditlogproject/auditlog/internal/auditlog/metrics"
	"github.com/auditlogproject/auditlog/internal/auditlog/model"
)

const (
	MinBatchSize = 50
	MaxBatchSize = 500
)

// PrimaryWriter persists a batch to the primary store.
type PrimaryWriter interface {
	InsertBatch(ctx context.Context, events []*model.AuditEvent) (int, error)
}

// FallbackWriter persists a batch to the fallback store when the primary
// write fails.
type FallbackWriter interface {
	InsertBatch(ctx context.Context, events []*model.AuditEvent) (int, error)
}

// Batcher drains the event queue into batches and writes each batch to the
// primary store, falling back to the local store when the primary write
// fails. A batch is cut when it reaches batchSize events or when no further
// event arrives within fillWait of the previous one, whichever comes first.
type Batcher struct {
	queue        *eventqueue.Queue
	primary      PrimaryWriter
	fallback     FallbackWriter
	counter      *FallbackCounter
	batchSize    int
	fillWait     time.Duration
	writeTimeout time.Duration
	metrics      *metrics.Metrics
}

func NewBatcher(
	queue *eventqueue.Queue,
	primary PrimaryWriter,
	fallback FallbackWriter,
	counter *FallbackCounter,
	batchSize int,
	fillWait time.Duration,
	writeTimeout time.Duration,
	m *metrics.Metrics,
) *Batcher {
	if batchSize < MinBatchSize {
		log.Warnf("Configured batch size %d below minimum, using %d", batchSize, MinBatchSize)
		batchSize = MinBatchSize
	} else if batchSize > MaxBatchSize {
		log.Warnf("Configured batch size %d above maximum, using %d", batchSize, MaxBatchSize)
		batchSize = MaxBatchSize
	}
	return &Batcher{
		queue:        queue,
		primary:      primary,
		fallback:     fallback,
		counter:      counter,
		batchSize:    batchSize,
		fillWait:     fillWait,
		writeTimeout: writeTimeout,
		metrics:      m,
	}
}

func (b *Batcher) BatchSize() int {
	return b.batchSize
}

// Flush assembles and writes one batch. It blocks until at least one event
// is available or ctx is cancelled. Intended to be driven on a fixed delay
// by a background task.
func (b *Batcher) Flush(ctx context.Context) {
	batch, err := b.assemble(ctx)
	if err != nil || len(batch) == 0 {
		return
	}
	b.write(ctx, batch)
}

// Drain writes out everything currently queued without waiting for more
// events to arrive. Used at shutdown.
func (b *Batcher) Drain(ctx context.Context) {
	for {
		batch := b.queue.DrainAvailable(b.batchSize)
		if len(batch) == 0 {
			return
		}
		b.write(ctx, batch)
	}
}

func (b *Batcher) assemble(ctx context.Context) ([]*model.AuditEvent, error) {
	first, err := b.queue.TakeBlocking(ctx)
	if err != nil {
		return nil, err
	}
	batch := make([]*model.AuditEvent, 0, b.batchSize)
	batch = append(batch, first)
	batch = append(batch, b.queue.DrainAvailable(b.batchSize-len(batch))...)

	// Wait briefly for stragglers so a trickle of events still forms a
	// reasonably sized batch.
	for len(batch) < b.batchSize {
		event, ok := b.queue.Poll(ctx, b.fillWait)
		if !ok {
			break
		}
		batch = append(batch, event)
		batch = append(batch, b.queue.DrainAvailable(b.batchSize-len(batch))...)
	}
	return batch, nil
}

func (b *Batcher) write(ctx context.Context, batch []*model.AuditEvent) {
	// An assembled batch must not be lost to a tick cancelled at shutdown, so
	// writes run on a detached context bounded only by the write timeout.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.writeTimeout)
	defer cancel()

	_, err := b.primary.InsertBatch(ctx, batch)
	if err == nil {
		b.metrics.RecordBatchFlushed(len(batch))
		return
	}
	log.WithError(err).Errorf("Primary write of %d events failed, writing to fallback store", len(batch))
	inserted, err := b.fallback.InsertBatch(ctx, batch)
	if err != nil {
		log.WithError(err).Errorf("Fallback write of %d events failed, events lost", len(batch))
		b.metrics.RecordEventsDropped(len(batch))
		return
	}
	b.counter.Add(int64(inserted))
	b.metrics.SetFallbackPending(b.counter.Get())
	b.metrics.RecordBatchFlushed(len(batch))
}

package reconciler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/auditlogproject/auditlog/internal/auditlog/batcher"
	"github.com/auditlogproject/auditlog/internal/auditlog/metrics"
	"github.com/auditlogproject/auditlog/internal/auditlog/model"
)

// PrimaryStore is the subset of the primary event store the reconciler needs.
type PrimaryStore interface {
	InsertBatch(ctx context.Context, events []*model.AuditEvent) (int, error)
	SelectRecentIDs(ctx context.Context, window time.Duration) ([]uuid.UUID, error)
}

// FallbackStore is the subset of the fallback store the reconciler needs.
type FallbackStore interface {
	SelectAll(ctx context.Context) ([]*model.AuditEvent, error)
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)
	CountAll(ctx context.Context) (int64, error)
}

// Reconciler migrates events stranded in the fallback store back into the
// primary store once it is reachable again. Each run first prunes fallback
// rows that already made it into the primary store within the recent window,
// then re-inserts whatever remains and deletes it locally after the insert
// is confirmed.
type Reconciler struct {
	primary      PrimaryStore
	fallback     FallbackStore
	counter      *batcher.FallbackCounter
	recentWindow time.Duration
	metrics      *metrics.Metrics
}

func New(
	primary PrimaryStore,
	fallback FallbackStore,
	counter *batcher.FallbackCounter,
	recentWindow time.Duration,
	m *metrics.Metrics,
) *Reconciler {
	return &Reconciler{
		primary:      primary,
		fallback:     fallback,
		counter:      counter,
		recentWindow: recentWindow,
		metrics:      m,
	}
}

// Run performs one reconciliation pass. Any database error aborts the pass,
// leaving the remaining rows for the next tick.
func (r *Reconciler) Run(ctx context.Context) {
	if r.counter.Get() <= 0 {
		r.counter.Clamp()
		return
	}

	recentIDs, err := r.primary.SelectRecentIDs(ctx, r.recentWindow)
	if err != nil {
		log.WithError(err).Warn("Reconciliation skipped, primary store unreachable")
		return
	}
	pruned, err := r.fallback.DeleteByIDs(ctx, recentIDs)
	if err != nil {
		log.WithError(err).Error("Failed to prune already-migrated fallback rows")
		return
	}
	if pruned > 0 {
		log.Infof("Pruned %d fallback rows already present in the primary store", pruned)
	}

	events, err := r.fallback.SelectAll(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to read fallback store")
		return
	}
	if len(events) > 0 {
		inserted, err := r.primary.InsertBatch(ctx, events)
		if err != nil {
			log.WithError(err).Warnf("Failed to migrate %d fallback events, will retry", len(events))
			return
		}
		// The primary writer skips rows whose detail map cannot be
		// serialised; those rows were never persisted and must stay local.
		ids := make([]uuid.UUID, 0, len(events))
		for _, e := range events {
			if _, err := json.Marshal(e.ActionDetail); err != nil {
				continue
			}
			ids = append(ids, e.LogUUID)
		}
		if _, err := r.fallback.DeleteByIDs(ctx, ids); err != nil {
			log.WithError(err).Error("Migrated fallback rows could not be deleted locally")
			return
		}
		r.metrics.RecordRowsReconciled(inserted)
		log.Infof("Reconciled %d fallback events into the primary store (%d new rows)", len(events), inserted)
	}

	remaining, err := r.fallback.CountAll(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to count remaining fallback rows")
		return
	}
	r.counter.Set(remaining)
	r.metrics.SetFallbackPending(remaining)
}

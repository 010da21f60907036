package fallbackdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditlogproject/auditlog/internal/auditlog/metrics"
	"github.com/auditlogproject/auditlog/internal/auditlog/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "fallback.db"), "audit_events_spool", metrics.Get())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.EnsureSchema(context.Background()))
	return store
}

func TestNewStoreRejectsUnsafeTableName(t *testing.T) {
	_, err := NewStore(filepath.Join(t.TempDir(), "fallback.db"), "spool; drop", metrics.Get())
	assert.Error(t, err)
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.EnsureSchema(context.Background()))
}

func TestInsertBatchRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	events := makeEvents(3)

	inserted, err := store.InsertBatch(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, 3, inserted)

	count, err := store.CountAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	stored, err := store.SelectAll(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for i, e := range stored {
		assert.Equal(t, events[i].LogUUID, e.LogUUID)
		assert.Equal(t, events[i].PlayerUUID, e.PlayerUUID)
		assert.Equal(t, events[i].PlayerName, e.PlayerName)
		assert.Equal(t, events[i].ActionType, e.ActionType)
		assert.Equal(t, events[i].World, e.World)
		assert.Equal(t, events[i].Source, e.Source)
		assert.True(t, events[i].Timestamp.UTC().Equal(e.Timestamp), "timestamp should survive the round trip")
		assert.Equal(t, events[i].ActionDetail, e.ActionDetail)
	}
}

func TestInsertBatchIgnoresDuplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	events := makeEvents(2)

	inserted, err := store.InsertBatch(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// Re-inserting the same batch is a no-op keyed on log_uuid.
	inserted, err = store.InsertBatch(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	count, err := store.CountAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestDeleteByIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	events := makeEvents(5)
	_, err := store.InsertBatch(ctx, events)
	require.NoError(t, err)

	deleted, err := store.DeleteByIDs(ctx, []uuid.UUID{events[0].LogUUID, events[2].LogUUID, uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	count, err := store.CountAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	deleted, err = store.DeleteByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)
}

func TestInsertBatchRejectsOverlongPlayerName(t *testing.T) {
	store := newTestStore(t)
	events := makeEvents(1)
	events[0].PlayerName = "this_name_is_far_too_long"

	_, err := store.InsertBatch(context.Background(), events)
	assert.Error(t, err)

	count, err := store.CountAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), count, "failed batch should be rolled back")
}

func makeEvents(n int) []*model.AuditEvent {
	events := make([]*model.AuditEvent, n)
	base := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
	for i := range events {
		events[i] = &model.AuditEvent{
			Timestamp:    base.Add(time.Duration(i) * time.Second),
			PlayerUUID:   uuid.New(),
			PlayerName:   "steve",
			ActionType:   model.ActionBlockBreak,
			ActionDetail: map[string]any{"block": "stone"},
			World:        "overworld",
			X:            1, Y: 64, Z: -3,
			Source:  model.SourcePlayer,
			LogUUID: uuid.New(),
		}
	}
	return events
}

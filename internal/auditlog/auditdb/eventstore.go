package auditdb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/auditlogproject/auditlog/internal/auditlog/metrics"
	"github.com/auditlogproject/auditlog/internal/auditlog/model"
	"github.com/auditlogproject/auditlog/internal/common/database"
)

var eventColumns = []string{
	"ts", "player_uuid", "player_name", "action_type", "action_detail",
	"world", "x", "y", "z", "source", "log_uuid",
}

// EventStore writes and reads audit events in the partitioned postgres table.
// All writes are transactional and idempotent on (log_uuid, ts): a whole batch
// either commits or rolls back, and re-inserting already-persisted rows is a
// no-op.
type EventStore struct {
	db        *pgxpool.Pool
	tableName string
	tz        *time.Location
	metrics   *metrics.Metrics
}

func NewEventStore(db *pgxpool.Pool, tableName string, tz *time.Location) (*EventStore, error) {
	if err := database.ValidateIdentifier(tableName); err != nil {
		return nil, err
	}
	return &EventStore{
		db:        db,
		tableName: tableName,
		tz:        tz,
		metrics:   metrics.Get(),
	}, nil
}

func (s *EventStore) TableName() string { return s.tableName }

// EnsureSchema creates the partitioned event table if missing and provisions
// the current and next month partitions with their indexes. Safe to repeat.
func (s *EventStore) EnsureSchema(ctx context.Context) error {
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id            BIGINT GENERATED ALWAYS AS IDENTITY,
			ts            TIMESTAMPTZ NOT NULL,
			player_uuid   UUID NOT NULL,
			player_name   VARCHAR(%d) NOT NULL,
			action_type   TEXT NOT NULL,
			action_detail JSONB NOT NULL,
			world         TEXT NOT NULL,
			x             DOUBLE PRECISION NOT NULL,
			y             DOUBLE PRECISION NOT NULL,
			z             DOUBLE PRECISION NOT NULL,
			source        TEXT NOT NULL,
			log_uuid      UUID NOT NULL,
			PRIMARY KEY (ts, id),
			UNIQUE (log_uuid, ts)
		) PARTITION BY RANGE (ts)`, s.tableName, model.MaxPlayerNameLength)
	if _, err := s.db.Exec(ctx, createTable); err != nil {
		s.metrics.RecordDBError(metrics.DatabasePostgres, metrics.DBOperationSchema)
		return errors.Wrapf(err, "creating table %s", s.tableName)
	}
	return s.EnsurePartitions(ctx, time.Now())
}

// EnsurePartitions provisions the partition covering now's month and the one
// after it, together with their supporting indexes. Both DDL statements are
// guarded with IF NOT EXISTS so repeated runs after a crash are safe.
func (s *EventStore) EnsurePartitions(ctx context.Context, now time.Time) error {
	current := MonthRangeFor(now, s.tz)
	for _, r := range []MonthRange{current, current.Next()} {
		if err := s.createPartition(ctx, r); err != nil {
			s.metrics.RecordDBError(metrics.DatabasePostgres, metrics.DBOperationSchema)
			return err
		}
	}
	return nil
}

func (s *EventStore) createPartition(ctx context.Context, r MonthRange) error {
	partition := r.PartitionName(s.tableName)
	// Bounds carry an explicit offset so the session TimeZone setting cannot
	// shift partition boundaries.
	const boundFormat = "2006-01-02T15:04:05-07:00"
	createPartition := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES FROM ('%s') TO ('%s')",
		partition, s.tableName, r.Start.Format(boundFormat), r.End.Format(boundFormat))
	if _, err := s.db.Exec(ctx, createPartition); err != nil {
		return errors.Wrapf(err, "creating partition %s", partition)
	}

	indexes := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_player_uuid ON %s (player_uuid)", partition, partition),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_world_xyz ON %s (world, x, y, z)", partition, partition),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_action_type ON %s (action_type)", partition, partition),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_action_detail_gin ON %s USING gin (action_detail)", partition, partition),
	}
	for _, createIndex := range indexes {
		if _, err := s.db.Exec(ctx, createIndex); err != nil {
			return errors.Wrapf(err, "creating index on partition %s", partition)
		}
	}
	log.Infof("Provisioned partition %s for [%s, %s)",
		partition, r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"))
	return nil
}

// NextPartitionDelay is how long the partition task should sleep before its
// next run, recomputed after every run from the wall clock.
func (s *EventStore) NextPartitionDelay(now time.Time) time.Duration {
	return NextMonthBoundary(now, s.tz).Sub(now)
}

// InsertBatch inserts events in a single transaction and returns the number of
// rows actually inserted. Rows whose (log_uuid, ts) already exist are silently
// ignored, which makes re-insertion after a partial failure safe. On error the
// whole transaction is rolled back and none of the batch's rows are guaranteed
// persisted. Rows whose detail map cannot be serialised are skipped with a
// warning rather than failing the batch.
func (s *EventStore) InsertBatch(ctx context.Context, events []*model.AuditEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	rows := s.encodeRows(events)
	if len(rows) == 0 {
		return 0, nil
	}

	inserted := 0
	err := pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	}, func(tx pgx.Tx) error {
		tmpTable := uniqueTableName(s.tableName)

		createTmp := fmt.Sprintf(`
			CREATE TEMPORARY TABLE %s (
				ts            TIMESTAMPTZ,
				player_uuid   UUID,
				player_name   VARCHAR(%d),
				action_type   TEXT,
				action_detail JSONB,
				world         TEXT,
				x             DOUBLE PRECISION,
				y             DOUBLE PRECISION,
				z             DOUBLE PRECISION,
				source        TEXT,
				log_uuid      UUID
			) ON COMMIT DROP`, tmpTable, model.MaxPlayerNameLength)
		if _, err := tx.Exec(ctx, createTmp); err != nil {
			s.metrics.RecordDBError(metrics.DatabasePostgres, metrics.DBOperationCreateTempTable)
			return err
		}

		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{tmpTable},
			eventColumns,
			pgx.CopyFromRows(rows),
		); err != nil {
			s.metrics.RecordDBError(metrics.DatabasePostgres, metrics.DBOperationInsert)
			return err
		}

		columns := strings.Join(eventColumns, ", ")
		tag, err := tx.Exec(ctx, fmt.Sprintf(
			"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (log_uuid, ts) DO NOTHING",
			s.tableName, columns, columns, tmpTable))
		if err != nil {
			s.metrics.RecordDBError(metrics.DatabasePostgres, metrics.DBOperationInsert)
			return err
		}
		inserted = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		if isTransient(err) {
			log.WithError(err).Warnf("Batch insert of %d events into %s failed with a transient error", len(rows), s.tableName)
		} else {
			log.WithError(err).Errorf("Batch insert of %d events into %s failed", len(rows), s.tableName)
		}
		return 0, errors.WithStack(err)
	}
	s.metrics.RecordRowsInserted(metrics.DatabasePostgres, inserted)
	return inserted, nil
}

func (s *EventStore) encodeRows(events []*model.AuditEvent) [][]any {
	rows := make([][]any, 0, len(events))
	skipped := 0
	for _, e := range events {
		detail, err := json.Marshal(e.ActionDetail)
		if err != nil {
			skipped++
			log.WithError(err).Warnf("Skipping event %s: action detail cannot be serialised", e.LogUUID)
			continue
		}
		rows = append(rows, []any{
			e.Timestamp.UTC(),
			e.PlayerUUID.String(),
			e.PlayerName,
			string(e.ActionType),
			detail,
			e.World,
			e.X,
			e.Y,
			e.Z,
			string(e.Source),
			e.LogUUID.String(),
		})
	}
	if skipped > 0 {
		s.metrics.RecordRowsSkipped(skipped)
	}
	return rows
}

// SelectRecentIDs returns the log uuids of all rows whose timestamp falls
// within the trailing window. Bounding the lookback keeps the query cheap
// regardless of total table size.
func (s *EventStore) SelectRecentIDs(ctx context.Context, window time.Duration) ([]uuid.UUID, error) {
	cutoff := time.Now().Add(-window)
	rows, err := s.db.Query(ctx,
		fmt.Sprintf("SELECT log_uuid::text FROM %s WHERE ts >= $1", s.tableName), cutoff)
	if err != nil {
		s.metrics.RecordDBError(metrics.DatabasePostgres, metrics.DBOperationRead)
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.WithStack(err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			log.WithError(err).Warnf("Skipping malformed log_uuid %q in %s", raw, s.tableName)
			continue
		}
		ids = append(ids, id)
	}
	return ids, errors.WithStack(rows.Err())
}

func uniqueTableName(table string) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("%s_tmp_%s", table, suffix)
}

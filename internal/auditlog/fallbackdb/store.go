package fallbackdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/auditlogproject/auditlog/internal/auditlog/metrics"
	"github.com/auditlogproject/auditlog/internal/auditlog/model"
	"github.com/auditlogproject/auditlog/internal/common/database"
)

// Store persists audit events in a local sqlite database when the primary
// store is unavailable. All access is serialised: sqlite allows a single
// writer and the store is only touched by the batcher and the reconciler.
type Store struct {
	mu        sync.Mutex
	db        *sql.DB
	tableName string
	metrics   *metrics.Metrics
}

func NewStore(path string, tableName string, m *metrics.Metrics) (*Store, error) {
	if err := database.ValidateIdentifier(tableName); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.WithStack(err)
	}
	return &Store{db: db, tableName: tableName, metrics: m}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			ts            TEXT NOT NULL,
			player_uuid   TEXT NOT NULL,
			player_name   TEXT NOT NULL CHECK (length(player_name) <= %d),
			action_type   TEXT NOT NULL,
			action_detail TEXT NOT NULL,
			world         TEXT NOT NULL,
			x             REAL NOT NULL,
			y             REAL NOT NULL,
			z             REAL NOT NULL,
			source        TEXT NOT NULL,
			log_uuid      TEXT NOT NULL UNIQUE
		)`, s.tableName, model.MaxPlayerNameLength)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		s.metrics.RecordDBError(metrics.DatabaseSqlite, metrics.DBOperationSchema)
		return errors.WithStack(err)
	}
	return nil
}

// InsertBatch writes events in a single transaction and returns the number
// of rows actually inserted. Events whose log uuid is already present are
// silently skipped.
func (s *Store) InsertBatch(ctx context.Context, events []*model.AuditEvent) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.metrics.RecordDBError(metrics.DatabaseSqlite, metrics.DBOperationInsert)
		return 0, errors.WithStack(err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT OR IGNORE INTO %s
			(ts, player_uuid, player_name, action_type, action_detail, world, x, y, z, source, log_uuid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.tableName))
	if err != nil {
		s.metrics.RecordDBError(metrics.DatabaseSqlite, metrics.DBOperationInsert)
		return 0, errors.WithStack(err)
	}
	defer stmt.Close()

	inserted := 0
	for _, e := range events {
		detail, err := json.Marshal(e.ActionDetail)
		if err != nil {
			log.WithError(err).Warnf("Could not serialise action detail of event %s, skipping", e.LogUUID)
			s.metrics.RecordRowsSkipped(1)
			continue
		}
		res, err := stmt.ExecContext(ctx,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.PlayerUUID.String(),
			e.PlayerName,
			string(e.ActionType),
			string(detail),
			e.World,
			e.X, e.Y, e.Z,
			string(e.Source),
			e.LogUUID.String(),
		)
		if err != nil {
			s.metrics.RecordDBError(metrics.DatabaseSqlite, metrics.DBOperationInsert)
			return 0, errors.WithStack(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, errors.WithStack(err)
		}
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		s.metrics.RecordDBError(metrics.DatabaseSqlite, metrics.DBOperationInsert)
		return 0, errors.WithStack(err)
	}
	s.metrics.RecordRowsInserted(metrics.DatabaseSqlite, inserted)
	return inserted, nil
}

func (s *Store) CountAll(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", s.tableName)).Scan(&n)
	if err != nil {
		s.metrics.RecordDBError(metrics.DatabaseSqlite, metrics.DBOperationRead)
		return 0, errors.WithStack(err)
	}
	return n, nil
}

// SelectAll returns every event currently held in the fallback store. Rows
// that cannot be decoded are logged and skipped rather than blocking
// reconciliation of the rest.
func (s *Store) SelectAll(ctx context.Context) ([]*model.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT ts, player_uuid, player_name, action_type, action_detail, world, x, y, z, source, log_uuid
		FROM %s ORDER BY id ASC`, s.tableName))
	if err != nil {
		s.metrics.RecordDBError(metrics.DatabaseSqlite, metrics.DBOperationRead)
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var events []*model.AuditEvent
	for rows.Next() {
		var (
			e          model.AuditEvent
			ts         string
			playerUUID string
			actionType string
			detail     string
			source     string
			logUUID    string
		)
		if err := rows.Scan(&ts, &playerUUID, &e.PlayerName, &actionType, &detail,
			&e.World, &e.X, &e.Y, &e.Z, &source, &logUUID); err != nil {
			return nil, errors.WithStack(err)
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			log.WithError(err).Warnf("Skipping fallback row %s with unparseable timestamp", logUUID)
			continue
		}
		if e.PlayerUUID, err = uuid.Parse(playerUUID); err != nil {
			log.WithError(err).Warnf("Skipping fallback row %s with unparseable player uuid", logUUID)
			continue
		}
		if e.LogUUID, err = uuid.Parse(logUUID); err != nil {
			log.WithError(err).Warn("Skipping fallback row with unparseable log uuid")
			continue
		}
		e.ActionType = model.ActionType(actionType)
		e.Source = model.Source(source)
		if err := json.Unmarshal([]byte(detail), &e.ActionDetail); err != nil {
			log.WithError(err).Warnf("Could not decode action detail of fallback row %s", logUUID)
			e.ActionDetail = nil
		}
		events = append(events, &e)
	}
	return events, errors.WithStack(rows.Err())
}

// DeleteByIDs removes the rows whose log uuid appears in ids and returns the
// number of rows deleted.
func (s *Store) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	// sqlite caps the number of bound parameters per statement, delete in
	// chunks to stay well under it.
	const chunkSize = 500
	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id.String()
		}
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE log_uuid IN (%s)", s.tableName, placeholders), args...)
		if err != nil {
			s.metrics.RecordDBError(metrics.DatabaseSqlite, metrics.DBOperationDelete)
			return deleted, errors.WithStack(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return deleted, errors.WithStack(err)
		}
		deleted += n
	}
	return deleted, nil
}

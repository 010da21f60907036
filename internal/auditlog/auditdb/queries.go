package auditdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/auditlogproject/auditlog/internal/auditlog/metrics"
	"github.com/auditlogproject/auditlog/internal/auditlog/model"
)

var psql = goqu.Dialect("postgres")

func (s *EventStore) selectEvents() *goqu.SelectDataset {
	return psql.From(s.tableName).
		Select(
			goqu.C("ts"),
			goqu.L("player_uuid::text"),
			goqu.C("player_name"),
			goqu.C("action_type"),
			goqu.L("action_detail::text"),
			goqu.C("world"),
			goqu.C("x"),
			goqu.C("y"),
			goqu.C("z"),
			goqu.C("source"),
			goqu.L("log_uuid::text"),
		).
		Order(goqu.C("ts").Desc(), goqu.C("id").Asc()).
		Prepared(true)
}

// QueryByPlayer returns the most recent events of one player within
// [since, until], newest first, bounded by limit.
func (s *EventStore) QueryByPlayer(ctx context.Context, playerUUID uuid.UUID, since, until time.Time, limit int) ([]*model.AuditEvent, error) {
	query := s.selectEvents().
		Where(
			goqu.C("player_uuid").Eq(playerUUID.String()),
			goqu.C("ts").Between(goqu.Range(since, until)),
		).
		Limit(uint(limit))
	return s.runEventQuery(ctx, query)
}

// QueryByLocation returns the most recent events within radius blocks of
// (x, z) in world, newest first, bounded by limit. The radius is an axis
// bound, not a circle.
func (s *EventStore) QueryByLocation(ctx context.Context, world string, x, z, radius float64, since, until time.Time, limit int) ([]*model.AuditEvent, error) {
	query := s.selectEvents().
		Where(
			goqu.C("world").Eq(world),
			goqu.C("x").Between(goqu.Range(x-radius, x+radius)),
			goqu.C("z").Between(goqu.Range(z-radius, z+radius)),
			goqu.C("ts").Between(goqu.Range(since, until)),
		).
		Limit(uint(limit))
	return s.runEventQuery(ctx, query)
}

func (s *EventStore) runEventQuery(ctx context.Context, query *goqu.SelectDataset) ([]*model.AuditEvent, error) {
	sql, args, err := query.ToSQL()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		s.metrics.RecordDBError(metrics.DatabasePostgres, metrics.DBOperationRead)
		return nil, errors.WithStack(err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]*model.AuditEvent, error) {
	var events []*model.AuditEvent
	for rows.Next() {
		var (
			e          model.AuditEvent
			playerUUID string
			actionType string
			detail     string
			source     string
			logUUID    string
		)
		if err := rows.Scan(
			&e.Timestamp, &playerUUID, &e.PlayerName, &actionType, &detail,
			&e.World, &e.X, &e.Y, &e.Z, &source, &logUUID,
		); err != nil {
			return nil, errors.WithStack(err)
		}
		var err error
		if e.PlayerUUID, err = uuid.Parse(playerUUID); err != nil {
			return nil, errors.WithStack(err)
		}
		if e.LogUUID, err = uuid.Parse(logUUID); err != nil {
			return nil, errors.WithStack(err)
		}
		e.ActionType = model.ActionType(actionType)
		e.Source = model.Source(source)
		if err := json.Unmarshal([]byte(detail), &e.ActionDetail); err != nil {
			// A row with an undecodable detail map is still worth returning.
			log.WithError(err).Warnf("Could not decode action detail of event %s", logUUID)
			e.ActionDetail = nil
		}
		events = append(events, &e)
	}
	return events, errors.WithStack(rows.Err())
}

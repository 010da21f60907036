package auditlog

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/auditlogproject/auditlog/internal/auditlog/auditdb"
	"github.com/auditlogproject/auditlog/internal/auditlog/batcher"
	"github.com/auditlogproject/auditlog/internal/auditlog/configuration"
	"github.com/auditlogproject/auditlog/internal/auditlog/eventqueue"
	"github.com/auditlogproject/auditlog/internal/auditlog/fallbackdb"
	"github.com/auditlogproject/auditlog/internal/auditlog/metrics"
	"github.com/auditlogproject/auditlog/internal/auditlog/model"
	"github.com/auditlogproject/auditlog/internal/auditlog/reconciler"
	"github.com/auditlogproject/auditlog/internal/auditlog/server"
	"github.com/auditlogproject/auditlog/internal/common/database"
	"github.com/auditlogproject/auditlog/internal/common/task"
)

// Pipeline connects the HTTP handlers to the queue and the primary store.
type Pipeline struct {
	queue   *eventqueue.Queue
	store   *auditdb.EventStore
	metrics *metrics.Metrics
}

func (p *Pipeline) Submit(e *model.AuditEvent) {
	p.queue.Enqueue(e)
	p.metrics.RecordEventsReceived(1)
	p.metrics.SetQueueLength(p.queue.Len())
}

func (p *Pipeline) SubmitAll(es []*model.AuditEvent) {
	p.queue.EnqueueAll(es)
	p.metrics.RecordEventsReceived(len(es))
	p.metrics.SetQueueLength(p.queue.Len())
}

func (p *Pipeline) QueryByPlayer(ctx context.Context, playerUUID uuid.UUID, since, until time.Time, limit int) ([]*model.AuditEvent, error) {
	return p.store.QueryByPlayer(ctx, playerUUID, since, until, limit)
}

func (p *Pipeline) QueryByLocation(ctx context.Context, world string, x, z, radius float64, since, until time.Time, limit int) ([]*model.AuditEvent, error) {
	return p.store.QueryByLocation(ctx, world, x, z, radius, since, until, limit)
}

// Run assembles and runs the whole ingestion pipeline until ctx is cancelled,
// then shuts it down in order: HTTP first so no new events arrive, then the
// background tasks, then a final drain of whatever is still queued.
func Run(ctx context.Context, config configuration.AuditLogConfiguration) error {
	if err := config.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	tz, err := time.LoadLocation(config.Timezone)
	if err != nil {
		return errors.Wrapf(err, "unknown timezone %q", config.Timezone)
	}

	pool, err := database.OpenPgxPool(ctx, config.Postgres.Connection)
	if err != nil {
		return errors.Wrap(err, "connecting to postgres")
	}
	defer pool.Close()

	store, err := auditdb.NewEventStore(pool, config.Postgres.TableName, tz)
	if err != nil {
		return err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		return errors.Wrap(err, "ensuring postgres schema")
	}

	fallback, err := fallbackdb.NewStore(config.Sqlite.Path, config.Sqlite.TableName, metrics.Get())
	if err != nil {
		return errors.Wrap(err, "opening fallback store")
	}
	defer fallback.Close()
	if err := fallback.EnsureSchema(ctx); err != nil {
		return errors.Wrap(err, "ensuring fallback schema")
	}

	counter := &batcher.FallbackCounter{}
	pending, err := fallback.CountAll(ctx)
	if err != nil {
		return errors.Wrap(err, "counting fallback rows")
	}
	counter.Set(pending)
	metrics.Get().SetFallbackPending(pending)
	if pending > 0 {
		log.Infof("Fallback store holds %d unreconciled events", pending)
	}

	queue := eventqueue.New()
	flusher := batcher.NewBatcher(queue, store, fallback, counter,
		config.BatchSize, config.BatchFillWait, config.ShutdownTimeout, metrics.Get())
	rec := reconciler.New(store, fallback, counter, config.RecentWindow, metrics.Get())

	taskManager := task.NewBackgroundTaskManager(ctx, metrics.AuditLogMetricsPrefix)
	taskManager.Register(flusher.Flush, config.FlushInterval, "flush")
	taskManager.Register(rec.Run, config.ReconcileInterval, "reconcile")
	taskManager.RegisterDynamic(func(ctx context.Context) {
		if err := store.EnsurePartitions(ctx, time.Now()); err != nil {
			log.WithError(err).Error("Partition provisioning failed, will retry next boundary")
		}
	}, func() time.Duration {
		return store.NextPartitionDelay(time.Now())
	}, "partition_provision")

	pipeline := &Pipeline{queue: queue, store: store, metrics: metrics.Get()}
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.HttpPort),
		Handler: server.NewRouter(pipeline, config.Auth),
	}
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.MetricsPort),
		Handler: promhttp.Handler(),
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("Serving ingest API on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	if config.MetricsPort != 0 {
		g.Go(func() error {
			log.Infof("Serving metrics on %s", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Ingest API shutdown was not clean")
		}
		if config.MetricsPort != 0 {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("Metrics server shutdown was not clean")
			}
		}
		return nil
	})

	err = g.Wait()

	if !taskManager.StopAll(config.ShutdownTimeout) {
		log.Warn("Background tasks did not stop within the shutdown timeout")
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	flusher.Drain(drainCtx)

	return err
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type (
	Database    string
	DBOperation string
)

const (
	DatabasePostgres Database = "postgres"
	DatabaseSqlite   Database = "sqlite"

	DBOperationRead            DBOperation = "read"
	DBOperationInsert          DBOperation = "insert"
	DBOperationDelete          DBOperation = "delete"
	DBOperationCreateTempTable DBOperation = "create_temp_table"
	DBOperationSchema          DBOperation = "schema"
)

const AuditLogMetricsPrefix = "auditlog_"

type Metrics struct {
	eventsReceived   prometheus.Counter
	eventsDropped    prometheus.Counter
	batchesFlushed   prometheus.Counter
	rowsInserted     *prometheus.CounterVec
	rowsReconciled   prometheus.Counter
	rowsSkipped      prometheus.Counter
	dbErrorsCounter  *prometheus.CounterVec
	queueLength      prometheus.Gauge
	fallbackPending  prometheus.Gauge
	batchSizeObserve prometheus.Histogram
}

func NewMetrics(prefix string) *Metrics {
	return &Metrics{
		eventsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: prefix + "events_received",
			Help: "Number of audit events accepted for ingestion",
		}),
		eventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: prefix + "events_dropped",
			Help: "Number of audit events dropped after both stores failed",
		}),
		batchesFlushed: promauto.NewCounter(prometheus.CounterOpts{
			Name: prefix + "batches_flushed",
			Help: "Number of batches handed to a store writer",
		}),
		rowsInserted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "rows_inserted",
			Help: "Number of rows inserted grouped by database",
		}, []string{"database"}),
		rowsReconciled: promauto.NewCounter(prometheus.CounterOpts{
			Name: prefix + "rows_reconciled",
			Help: "Number of fallback rows migrated into the primary store",
		}),
		rowsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: prefix + "rows_skipped",
			Help: "Number of rows skipped because their detail map could not be serialised",
		}),
		dbErrorsCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "db_errors",
			Help: "Number of database errors grouped by database and operation",
		}, []string{"database", "operation"}),
		queueLength: promauto.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "queue_length",
			Help: "Number of events buffered in the ingest queue",
		}),
		fallbackPending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "fallback_pending",
			Help: "Approximate number of unreconciled rows in the fallback store",
		}),
		batchSizeObserve: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    prefix + "batch_size",
			Help:    "Size of assembled batches",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}

var m = NewMetrics(AuditLogMetricsPrefix)

func Get() *Metrics {
	return m
}

func (m *Metrics) RecordEventsReceived(n int)  { m.eventsReceived.Add(float64(n)) }
func (m *Metrics) RecordEventsDropped(n int)   { m.eventsDropped.Add(float64(n)) }
func (m *Metrics) RecordBatchFlushed(size int) { m.batchesFlushed.Inc(); m.batchSizeObserve.Observe(float64(size)) }
func (m *Metrics) RecordRowsSkipped(n int)     { m.rowsSkipped.Add(float64(n)) }
func (m *Metrics) RecordRowsReconciled(n int)  { m.rowsReconciled.Add(float64(n)) }
func (m *Metrics) SetQueueLength(n int)        { m.queueLength.Set(float64(n)) }
func (m *Metrics) SetFallbackPending(n int64)  { m.fallbackPending.Set(float64(n)) }

func (m *Metrics) RecordRowsInserted(db Database, n int) {
	m.rowsInserted.With(map[string]string{"database": string(db)}).Add(float64(n))
}

func (m *Metrics) RecordDBError(db Database, operation DBOperation) {
	m.dbErrorsCounter.With(map[string]string{"database": string(db), "operation": string(operation)}).Inc()
}

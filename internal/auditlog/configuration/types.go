package configuration

import "time"

type PostgresConfig struct {
	// libpq keyword/value pairs, e.g. host, port, dbname, user, password.
	Connection map[string]string `validate:"required"`
	// Name of the partitioned audit event table.
	TableName string `validate:"required"`
}

type SqliteConfig struct {
	// Absolute or relative path for the fallback database file.
	Path string `validate:"required"`
	// Name of the flat spool table.
	TableName string `validate:"required"`
}

type AuthConfig struct {
	Enabled bool
	// Shared issuer/secret pair the game server exchanges for a bearer token.
	Issuer string `validate:"required_if=Enabled true"`
	Secret string `validate:"required_if=Enabled true"`
}

type AuditLogConfiguration struct {
	HttpPort    uint16 `validate:"required"`
	MetricsPort uint16

	// Upper bound on rows per flush. Clamped into [50, 500] by the batcher.
	BatchSize int `validate:"required"`
	// Delay between flush ticks (fixed-delay semantics).
	FlushInterval time.Duration `validate:"required"`
	// Bounded wait for one more element while a batch is underfilled.
	BatchFillWait time.Duration `validate:"required"`
	// Delay between reconciliation ticks.
	ReconcileInterval time.Duration `validate:"required"`
	// How far back to look for already-migrated log uuids in the primary
	// store during reconciliation. If the primary store is down for longer
	// than this window, already-migrated rows can be re-selected for
	// re-insert; that is harmless under the conflict-ignoring insert, but the
	// cleanup step will only catch them once they fall inside the window
	// again. This is a known staleness bound, not an invariant.
	RecentWindow time.Duration `validate:"required"`
	// IANA timezone governing monthly partition boundaries.
	Timezone string `validate:"required"`
	// Bounded wait for in-flight writes on shutdown. Also caps how long any
	// single batch write may run once a tick has been cancelled.
	ShutdownTimeout time.Duration `validate:"required"`

	Postgres PostgresConfig `validate:"required"`
	Sqlite   SqliteConfig   `validate:"required"`
	Auth     AuthConfig
}

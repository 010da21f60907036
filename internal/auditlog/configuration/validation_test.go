package configuration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() AuditLogConfiguration {
	return AuditLogConfiguration{
		HttpPort:          8080,
		MetricsPort:       9000,
		BatchSize:         200,
		FlushInterval:     2 * time.Second,
		BatchFillWait:     3 * time.Second,
		ReconcileInterval: 10 * time.Second,
		RecentWindow:      72 * time.Hour,
		Timezone:          "UTC",
		ShutdownTimeout:   30 * time.Second,
		Postgres: PostgresConfig{
			Connection: map[string]string{"host": "localhost"},
			TableName:  "audit_events",
		},
		Sqlite: SqliteConfig{
			Path:      "./fallback.db",
			TableName: "audit_events_spool",
		},
	}
}

func TestValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestInvalidConfig(t *testing.T) {
	tests := map[string]func(c *AuditLogConfiguration){
		"no http port":        func(c *AuditLogConfiguration) { c.HttpPort = 0 },
		"no batch size":       func(c *AuditLogConfiguration) { c.BatchSize = 0 },
		"no flush interval":   func(c *AuditLogConfiguration) { c.FlushInterval = 0 },
		"no timezone":         func(c *AuditLogConfiguration) { c.Timezone = "" },
		"no postgres table":   func(c *AuditLogConfiguration) { c.Postgres.TableName = "" },
		"no sqlite path":      func(c *AuditLogConfiguration) { c.Sqlite.Path = "" },
		"auth without secret": func(c *AuditLogConfiguration) { c.Auth = AuthConfig{Enabled: true, Issuer: "gs"} },
		"auth without issuer": func(c *AuditLogConfiguration) { c.Auth = AuthConfig{Enabled: true, Secret: "s"} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			config := validConfig()
			mutate(&config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestAuthDisabledNeedsNoCredentials(t *testing.T) {
	config := validConfig()
	config.Auth = AuthConfig{Enabled: false}
	assert.NoError(t, config.Validate())
}

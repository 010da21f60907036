package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateIdentifierAccepted(t *testing.T) {
	for _, s := range []string{"audit_events", "_spool", "t1", "AuditEvents", strings.Repeat("a", 30)} {
		assert.NoError(t, ValidateIdentifier(s), s)
	}
}

func TestValidateIdentifierRejected(t *testing.T) {
	tests := map[string]string{
		"empty":            "",
		"too long":         strings.Repeat("a", 31),
		"leading digit":    "1table",
		"whitespace":       "audit events",
		"semicolon":        "audit;drop",
		"quote":            `audit"events`,
		"dash":             "audit-events",
		"reserved keyword": "select",
		"reserved upper":   "TABLE",
	}
	for name, s := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, ValidateIdentifier(s))
		})
	}
}

func TestCreateConnectionString(t *testing.T) {
	result := CreateConnectionString(map[string]string{"host": "localhost"})
	assert.Equal(t, "host='localhost'", result)

	result = CreateConnectionString(map[string]string{"password": `it's\`})
	assert.Equal(t, `password='it\'s\\'`, result)
}

package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u@h/db", DSN(ClientConfig{DSN: "postgres://u@h/db", Host: "ignored"}))
	assert.Equal(t,
		"postgres://copy:pw@db.local:5432/polycopy?sslmode=disable",
		DSN(ClientConfig{Host: "db.local", Database: "polycopy", User: "copy", Password: "pw"}),
	)
	assert.Equal(t,
		"postgres://copy:pw@db.local:6543/polycopy?sslmode=require",
		DSN(ClientConfig{Host: "db.local", Port: 6543, Database: "polycopy", User: "copy", Password: "pw", SSLMode: "require"}),
	)
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])

	data, err := migrationsFS.ReadFile("migrations/" + names[0])
	require.NoError(t, err)
	for _, table := range []string{"trader_activity", "tracker_positions", "audit_log"} {
		assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS "+table)
	}
}

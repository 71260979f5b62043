package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reconciler.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Driver)
	assert.Equal(t, "reconciler.db", cfg.DSN)
	assert.Equal(t, "migrations", cfg.MigrationsDir)
	assert.Equal(t, "migration", cfg.Table)
	assert.Equal(t, 30*time.Second, cfg.SQLite.BusyTimeout)
	assert.True(t, cfg.SQLite.ForeignKeys)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	path := writeConfig(t, `
driver: postgres
dsn: postgres://localhost/app
migrations_dir: db/migrations
table: schema_history
log_level: debug
sqlite:
  busy_timeout: 5s
`)
	t.Setenv("RECONCILER_DSN", "postgres://db.internal/app")
	t.Setenv("RECONCILER_METRICS_FILE", "/var/lib/node_exporter/reconciler.prom")
	t.Setenv("RECONCILER_SQLITE_JOURNAL_MODE", "DELETE")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Driver)
	assert.Equal(t, "postgres://db.internal/app", cfg.DSN)
	assert.Equal(t, "db/migrations", cfg.MigrationsDir)
	assert.Equal(t, "schema_history", cfg.Table)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/var/lib/node_exporter/reconciler.prom", cfg.MetricsFile)
	assert.Equal(t, 5*time.Second, cfg.SQLite.BusyTimeout)
	assert.Equal(t, "DELETE", cfg.SQLite.JournalMode)
}

func TestLoadUnvalidated_DefersValidation(t *testing.T) {
	path := writeConfig(t, "driver: Postgres\ndsn: \"\"\n")

	_, err := Load(path)
	assert.ErrorContains(t, err, `dsn is required for driver "postgres"`)

	cfg, err := LoadUnvalidated(path)
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Driver)

	cfg.DSN = "postgres://localhost/app"
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default().DSN, cfg.DSN)
}

func TestLoad_RejectsUnknownYAMLKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "drvier: sqlite\n"))
	assert.ErrorContains(t, err, "drvier")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "read config file")
}

func TestLoad_InvalidEnvironmentValue(t *testing.T) {
	t.Setenv("RECONCILER_SQLITE_BUSY_TIMEOUT", "soon")

	_, err := Load("")
	assert.ErrorContains(t, err, "environment overrides")
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Driver = "oracle"
	cfg.DSN = ""
	cfg.MigrationsDir = " "
	cfg.LogFormat = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{`unknown driver "oracle"`, "dsn is required", "migrations_dir cannot be empty", `unknown log_format "xml"`} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_MemoryDriverNeedsNoDSN(t *testing.T) {
	cfg := Default()
	cfg.Driver = DriverMemory
	cfg.DSN = ""
	assert.NoError(t, cfg.Validate())
}

func TestValidate_IncludesSQLiteSettings(t *testing.T) {
	cfg := Default()
	cfg.SQLite.JournalMode = "SIDEWAYS"
	assert.ErrorContains(t, cfg.Validate(), "invalid journal mode")
}

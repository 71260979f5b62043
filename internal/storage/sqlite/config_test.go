package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		problems []string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "empty dsn", mutate: func(c *Config) { c.DSN = " " }, problems: []string{"DSN cannot be empty"}},
		{
			name: "several problems at once",
			mutate: func(c *Config) {
				c.BusyTimeout = -time.Second
				c.JournalMode = "SIDEWAYS"
				c.Synchronous = "SOMETIMES"
			},
			problems: []string{"BusyTimeout cannot be negative", "invalid journal mode: SIDEWAYS", "invalid synchronous mode: SOMETIMES"},
		},
		{name: "lowercase modes", mutate: func(c *Config) { c.JournalMode = "wal"; c.Synchronous = "full" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("data/reconciler.db")
			tt.mutate(&cfg)
			err := cfg.Validate()
			if len(tt.problems) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, p := range tt.problems {
				assert.Contains(t, err.Error(), p)
			}
		})
	}
}

func TestOpenDB_CreatesDirectoryAndAppliesPragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "reconciler.db")
	db, err := OpenDB(context.Background(), DefaultConfig(path))
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestOpenDB_InMemory(t *testing.T) {
	db, err := OpenDB(context.Background(), InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO t VALUES (1)")
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM t").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestOpenDB_RejectsInvalidConfig(t *testing.T) {
	_, err := OpenDB(context.Background(), Config{})
	assert.ErrorContains(t, err, "invalid SQLite configuration")
}

func TestPragmaDSN(t *testing.T) {
	cfg := DefaultConfig("data/reconciler.db")
	assert.Equal(t,
		"data/reconciler.db?_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)",
		pragmaDSN(cfg))

	cfg = Config{DSN: "file:x.db?cache=shared", Synchronous: "full"}
	assert.Equal(t, "file:x.db?cache=shared&_pragma=busy_timeout(0)&_pragma=synchronous(FULL)", pragmaDSN(cfg))
}

func TestOpenDB_PragmasApplyToEveryConnection(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "pool.db"))
	cfg.MaxOpenConns = 4
	db, err := OpenDB(ctx, cfg)
	require.NoError(t, err)
	defer db.Close()

	first, err := db.Conn(ctx)
	require.NoError(t, err)
	defer first.Close()
	second, err := db.Conn(ctx)
	require.NoError(t, err)
	defer second.Close()

	for name, conn := range map[string]*sql.Conn{"first": first, "second": second} {
		var fk, busy int
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk), name)
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busy), name)
		assert.Equal(t, 1, fk, name)
		assert.Equal(t, 30000, busy, name)
	}
}

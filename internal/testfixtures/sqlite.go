package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/schema-reconciler/internal/storage/sqlite"
)

// SQLiteHarness provides a migration backend on a temporary SQLite database
// for integration-style tests.
type SQLiteHarness struct {
	Conn  *sqlite.Connection
	Clock *Clock
	Path  string

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness opens a SQLite database in a temporary directory. Callers
// may optionally invoke Close, but the helper also registers a cleanup
// callback with the provided testing.TB.
func NewSQLiteHarness(tb testing.TB, opts ...sqlite.Option) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "reconciler.db")
	clock := NewClock(ReferenceTime())

	cfg := sqlite.DefaultConfig(path)
	cfg.JournalMode = "MEMORY"
	cfg.Synchronous = "OFF"

	conn, err := sqlite.Open(context.Background(), cfg, append([]sqlite.Option{sqlite.WithClock(clock.NowFunc())}, opts...)...)
	if err != nil {
		tb.Fatalf("failed to open sqlite backend: %v", err)
	}

	harness := &SQLiteHarness{
		Conn:  conn,
		Clock: clock,
		Path:  path,
		cleanup: func() {
			_ = conn.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}

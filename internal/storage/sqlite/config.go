package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	_ "modernc.org/sqlite" // SQLite driver
)

// Config holds SQLite-specific database configuration
type Config struct {
	// DSN is the database file path or connection string
	DSN string

	// BusyTimeout sets how long to wait for database locks
	BusyTimeout time.Duration

	// EnableForeignKeys enables foreign key constraint checking
	EnableForeignKeys bool

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, etc.)
	JournalMode string

	// Synchronous sets the synchronous mode (FULL, NORMAL, OFF)
	Synchronous string

	// MaxOpenConns sets the maximum number of open connections
	MaxOpenConns int

	// ConnMaxLifetime sets the maximum lifetime of connections
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns a SQLite configuration with sensible defaults
func DefaultConfig(databasePath string) Config {
	return Config{
		DSN:               databasePath,
		BusyTimeout:       30 * time.Second,
		EnableForeignKeys: true,
		JournalMode:       "WAL",
		Synchronous:       "NORMAL",
		MaxOpenConns:      1,
	}
}

// InMemoryConfig returns a configuration for a private in-memory database
func InMemoryConfig() Config {
	return Config{
		DSN:               ":memory:",
		BusyTimeout:       5 * time.Second,
		EnableForeignKeys: true,
		JournalMode:       "MEMORY",
		Synchronous:       "OFF",
		MaxOpenConns:      1,
	}
}

func (c Config) inMemory() bool {
	return c.DSN == ":memory:" || strings.Contains(c.DSN, "mode=memory")
}

// Validate checks the configuration and reports every problem at once
func (c Config) Validate() error {
	var result *multierror.Error

	if strings.TrimSpace(c.DSN) == "" {
		result = multierror.Append(result, fmt.Errorf("DSN cannot be empty"))
	}
	if c.BusyTimeout < 0 {
		result = multierror.Append(result, fmt.Errorf("BusyTimeout cannot be negative"))
	}

	validJournalModes := map[string]bool{
		"DELETE":   true,
		"TRUNCATE": true,
		"PERSIST":  true,
		"MEMORY":   true,
		"WAL":      true,
		"OFF":      true,
	}
	if c.JournalMode != "" && !validJournalModes[strings.ToUpper(c.JournalMode)] {
		result = multierror.Append(result, fmt.Errorf("invalid journal mode: %s", c.JournalMode))
	}

	validSyncModes := map[string]bool{
		"OFF":    true,
		"NORMAL": true,
		"FULL":   true,
		"EXTRA":  true,
	}
	if c.Synchronous != "" && !validSyncModes[strings.ToUpper(c.Synchronous)] {
		result = multierror.Append(result, fmt.Errorf("invalid synchronous mode: %s", c.Synchronous))
	}

	if c.MaxOpenConns < 0 {
		result = multierror.Append(result, fmt.Errorf("MaxOpenConns cannot be negative"))
	}
	if c.ConnMaxLifetime < 0 {
		result = multierror.Append(result, fmt.Errorf("ConnMaxLifetime cannot be negative"))
	}

	return result.ErrorOrNil()
}

// OpenDB validates cfg, creates the database directory when needed and opens
// the pool. The configured PRAGMAs travel in the DSN so every pooled
// connection gets them.
func OpenDB(ctx context.Context, cfg Config) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SQLite configuration: %w", err)
	}

	if err := createDatabaseDir(cfg); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", pragmaDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen == 0 || cfg.inMemory() {
		// every connection to :memory: is a separate database
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	if cfg.ConnMaxLifetime > 0 && !cfg.inMemory() {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	return db, nil
}

// pragmaDSN appends the configured PRAGMAs to cfg.DSN as _pragma query
// parameters, which the driver runs on each new connection.
func pragmaDSN(cfg Config) string {
	pragmas := []string{
		fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()),
	}
	if cfg.JournalMode != "" {
		pragmas = append(pragmas, "journal_mode("+strings.ToUpper(cfg.JournalMode)+")")
	}
	if cfg.Synchronous != "" {
		pragmas = append(pragmas, "synchronous("+strings.ToUpper(cfg.Synchronous)+")")
	}
	if cfg.EnableForeignKeys {
		pragmas = append(pragmas, "foreign_keys(1)")
	}

	params := make([]string, len(pragmas))
	for i, p := range pragmas {
		params[i] = "_pragma=" + p
	}
	sep := "?"
	if strings.Contains(cfg.DSN, "?") {
		sep = "&"
	}
	return cfg.DSN + sep + strings.Join(params, "&")
}

// createDatabaseDir creates the parent directory of a file database
func createDatabaseDir(cfg Config) error {
	if cfg.inMemory() {
		return nil
	}

	path := strings.TrimPrefix(cfg.DSN, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}
	return nil
}

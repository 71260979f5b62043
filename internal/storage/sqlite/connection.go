// Package sqlite is the reference migration backend, storing executed
// migrations in a bookkeeping table of a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/hashicorp/go-multierror"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/example/schema-reconciler/internal/migration"
	"github.com/example/schema-reconciler/internal/version"
)

// DefaultTable is the bookkeeping table used when none is configured
const DefaultTable = "migration"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Connection implements migration.Connection on a *sql.DB
type Connection struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

// Option configures a Connection
type Option func(*Connection)

// WithTable overrides the bookkeeping table name
func WithTable(table string) Option {
	return func(c *Connection) {
		if table != "" {
			c.table = table
		}
	}
}

// WithClock sets the time source for applied_at when callers leave it zero
func WithClock(now func() time.Time) Option {
	return func(c *Connection) {
		if now != nil {
			c.now = now
		}
	}
}

// New wraps db. The table name must be a plain SQL identifier.
func New(db *sql.DB, opts ...Option) (*Connection, error) {
	c := &Connection{db: db, table: DefaultTable, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if !identifierPattern.MatchString(c.table) {
		return nil, fmt.Errorf("sqlite: invalid bookkeeping table name %q", c.table)
	}
	return c, nil
}

// Open opens the database described by cfg and wraps it
func Open(ctx context.Context, cfg Config, opts ...Option) (*Connection, error) {
	db, err := OpenDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c, err := New(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// DB returns the underlying database handle
func (c *Connection) DB() *sql.DB {
	return c.db
}

// Close closes the underlying database handle
func (c *Connection) Close() error {
	return c.db.Close()
}

func (c *Connection) quotedTable() string {
	return `"` + c.table + `"`
}

// EnsureBookkeepingStore creates the bookkeeping table if it doesn't exist
func (c *Connection) EnsureBookkeepingStore(ctx context.Context) error {
	createTableSQL := `
		CREATE TABLE IF NOT EXISTS ` + c.quotedTable() + ` (
			sequence INTEGER NOT NULL PRIMARY KEY,
			version TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			applied_at TEXT
		)
	`
	if _, err := c.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create %s table: %w", c.table, err)
	}
	return nil
}

// LoadExecutedMigrations returns all recorded executions ordered by sequence
func (c *Connection) LoadExecutedMigrations(ctx context.Context) ([]migration.ExecutedMigrationInfo, error) {
	querySQL := `SELECT sequence, version, name, checksum, applied_at FROM ` + c.quotedTable() + ` ORDER BY sequence ASC`

	rows, err := c.db.QueryContext(ctx, querySQL)
	if err != nil {
		return nil, fmt.Errorf("query executed migrations: %w", err)
	}
	defer rows.Close()

	var executed []migration.ExecutedMigrationInfo
	for rows.Next() {
		var (
			rec       migration.ExecutedMigrationInfo
			v         version.Version
			checksum  sql.NullString
			appliedAt sql.NullString
		)
		if err := rows.Scan(&rec.Sequence, &v, &rec.Migration.Name, &checksum, &appliedAt); err != nil {
			return nil, fmt.Errorf("scan executed migration: %w", err)
		}
		rec.Migration.Version = v
		rec.Migration.Checksum = checksum.String
		if appliedAt.Valid {
			if ts, err := time.Parse(time.RFC3339Nano, appliedAt.String); err == nil {
				rec.AppliedAt = ts
			}
		}
		executed = append(executed, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executed migrations: %w", err)
	}
	return executed, nil
}

// RunInTransaction runs body inside a database transaction. SQLite DDL is
// transactional, so failures always report Committed == false.
func (c *Connection) RunInTransaction(ctx context.Context, body func(tx migration.Transaction) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return &migration.TransactionError{Err: fmt.Errorf("begin transaction: %w", err)}
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := body(&transaction{conn: c, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			err = multierror.Append(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return &migration.TransactionError{Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &migration.TransactionError{Err: fmt.Errorf("commit transaction: %w", err)}
	}
	return nil
}

type transaction struct {
	conn *Connection
	tx   *sql.Tx
}

// SaveExecutedMigration inserts info; a zero Sequence lets SQLite assign the rowid.
func (t *transaction) SaveExecutedMigration(ctx context.Context, info migration.ExecutedMigrationInfo) error {
	appliedAt := info.AppliedAt
	if appliedAt.IsZero() {
		appliedAt = t.conn.now()
	}
	ts := appliedAt.UTC().Format(time.RFC3339Nano)
	checksum := sql.NullString{String: info.Migration.Checksum, Valid: info.Migration.Checksum != ""}

	var err error
	if info.Sequence == 0 {
		_, err = t.tx.ExecContext(ctx,
			`INSERT INTO `+t.conn.quotedTable()+` (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)`,
			info.Migration.Version, info.Migration.Name, checksum, ts)
	} else {
		_, err = t.tx.ExecContext(ctx,
			`INSERT INTO `+t.conn.quotedTable()+` (sequence, version, name, checksum, applied_at) VALUES (?, ?, ?, ?, ?)`,
			info.Sequence, info.Migration.Version, info.Migration.Name, checksum, ts)
	}
	if err != nil {
		return fmt.Errorf("record migration %s: %w", info.Migration.Version, mapError(err))
	}
	return nil
}

func (t *transaction) Exec(ctx context.Context, statement string) error {
	_, err := t.tx.ExecContext(ctx, statement)
	return err
}

// mapError tags violations of the unique version column with
// migration.ErrDuplicateVersion. A clashing explicit sequence violates the
// primary key instead and is left untagged.
func mapError(err error) error {
	var sqliteErr *moderncsqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return fmt.Errorf("%w: %v", migration.ErrDuplicateVersion, err)
	}
	return err
}

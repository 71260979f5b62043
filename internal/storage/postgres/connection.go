// Package postgres stores executed migrations in a PostgreSQL bookkeeping
// table through database/sql and the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver

	"github.com/example/schema-reconciler/internal/migration"
	"github.com/example/schema-reconciler/internal/version"
)

// DefaultTable is the bookkeeping table used when none is configured.
const DefaultTable = "migration"

const uniqueViolation = "23505"

// Connection implements migration.Connection for PostgreSQL.
type Connection struct {
	db    *sql.DB
	table pgx.Identifier
	now   func() time.Time
}

// Option configures a Connection.
type Option func(*Connection)

// WithTable overrides the bookkeeping table. A dotted name selects a schema,
// e.g. "ops.migration".
func WithTable(table string) Option {
	return func(c *Connection) {
		if table != "" {
			c.table = pgx.Identifier(strings.Split(table, "."))
		}
	}
}

// WithClock sets the time source for applied_at when callers leave it zero.
func WithClock(now func() time.Time) Option {
	return func(c *Connection) {
		if now != nil {
			c.now = now
		}
	}
}

// New wraps db.
func New(db *sql.DB, opts ...Option) (*Connection, error) {
	c := &Connection{
		db:    db,
		table: pgx.Identifier{DefaultTable},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, part := range c.table {
		if part == "" {
			return nil, fmt.Errorf("postgres: invalid bookkeeping table name %q", strings.Join(c.table, "."))
		}
	}
	return c, nil
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, opts ...Option) (*Connection, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL database: %w", err)
	}
	c, err := New(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the underlying database handle.
func (c *Connection) Close() error {
	return c.db.Close()
}

// EnsureBookkeepingStore creates the bookkeeping table if it doesn't exist.
func (c *Connection) EnsureBookkeepingStore(ctx context.Context) error {
	createTableSQL := `CREATE TABLE IF NOT EXISTS ` + c.table.Sanitize() + ` (
		sequence BIGSERIAL PRIMARY KEY,
		version TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		checksum TEXT,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`
	if _, err := c.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create %s table: %w", c.table.Sanitize(), err)
	}
	return nil
}

// LoadExecutedMigrations returns all recorded executions ordered by sequence.
func (c *Connection) LoadExecutedMigrations(ctx context.Context) ([]migration.ExecutedMigrationInfo, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT sequence, version, name, checksum, applied_at FROM `+c.table.Sanitize()+` ORDER BY sequence ASC`)
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
			appliedAt sql.NullTime
		)
		if err := rows.Scan(&rec.Sequence, &v, &rec.Migration.Name, &checksum, &appliedAt); err != nil {
			return nil, fmt.Errorf("scan executed migration: %w", err)
		}
		rec.Migration.Version = v
		rec.Migration.Checksum = checksum.String
		if appliedAt.Valid {
			rec.AppliedAt = appliedAt.Time.UTC()
		}
		executed = append(executed, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executed migrations: %w", err)
	}
	return executed, nil
}

// RunInTransaction runs body inside a database transaction. PostgreSQL DDL is
// transactional, so failures report Committed == false.
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

// SaveExecutedMigration inserts info; a zero Sequence lets the BIGSERIAL
// assign one. After an explicit Sequence the serial is moved past the highest
// recorded value so later assigned sequences do not collide with it.
func (t *transaction) SaveExecutedMigration(ctx context.Context, info migration.ExecutedMigrationInfo) error {
	appliedAt := info.AppliedAt
	if appliedAt.IsZero() {
		appliedAt = t.conn.now()
	}
	table := t.conn.table.Sanitize()
	checksum := sql.NullString{String: info.Migration.Checksum, Valid: info.Migration.Checksum != ""}

	if info.Sequence == 0 {
		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO `+table+` (version, name, checksum, applied_at) VALUES ($1, $2, $3, $4)`,
			info.Migration.Version, info.Migration.Name, checksum, appliedAt.UTC())
		if err != nil {
			return fmt.Errorf("record migration %s: %w", info.Migration.Version, mapSaveError(err))
		}
		return nil
	}

	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO `+table+` (sequence, version, name, checksum, applied_at) VALUES ($1, $2, $3, $4, $5)`,
		info.Sequence, info.Migration.Version, info.Migration.Name, checksum, appliedAt.UTC())
	if err != nil {
		return fmt.Errorf("record migration %s: %w", info.Migration.Version, mapSaveError(err))
	}
	_, err = t.tx.ExecContext(ctx,
		`SELECT setval(pg_get_serial_sequence($1, 'sequence'), (SELECT MAX(sequence) FROM `+table+`))`,
		table)
	if err != nil {
		return fmt.Errorf("advance sequence of %s: %w", table, mapError(err))
	}
	return nil
}

func (t *transaction) Exec(ctx context.Context, statement string) error {
	if _, err := t.tx.ExecContext(ctx, statement); err != nil {
		return mapError(err)
	}
	return nil
}

// mapSaveError tags violations of the unique version column with
// migration.ErrDuplicateVersion. A clashing sequence violates the primary key
// and is reported with its detail instead.
func mapSaveError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && !strings.HasSuffix(pgErr.ConstraintName, "_pkey") {
		return fmt.Errorf("%w: %v", migration.ErrDuplicateVersion, err)
	}
	return mapError(err)
}

// mapError adds the server's detail when present.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("%w (%s)", err, pgErr.Detail)
	}
	return err
}

package migration

import (
	"context"
	"time"

	"github.com/example/schema-reconciler/internal/version"
)

// MigrationInfo identifies a declared migration.
//
// Checksum and Description are optional. Backends record the checksum next to
// the execution so later runs can detect a migration edited after it ran.
type MigrationInfo struct {
	Version     version.Version // Unique key within a registry
	Name        string          // Human-readable name
	Checksum    string          // Content digest, empty when unknown
	Description string
}

// String renders the migration as "version (name)"
func (m MigrationInfo) String() string {
	return m.Version.String() + " (" + m.Name + ")"
}

// ExecutedMigrationInfo is a migration execution recorded by a backend.
//
// Sequence is assigned by the backend and is only propagated by this package.
// A zero Sequence passed to Transaction.SaveExecutedMigration asks the backend
// to assign one.
type ExecutedMigrationInfo struct {
	Migration MigrationInfo
	Sequence  int64
	AppliedAt time.Time // Zero when the backend did not record a timestamp
}

// Action is the unit of work attached to a declared migration. It is invoked
// at most once, inside a backend transaction.
type Action interface {
	Apply(ctx context.Context, tx Transaction) error
}

// ActionFunc adapts a plain function to the Action interface.
type ActionFunc func(ctx context.Context, tx Transaction) error

// Apply calls f(ctx, tx).
func (f ActionFunc) Apply(ctx context.Context, tx Transaction) error {
	return f(ctx, tx)
}

// Migrations is the declared set consumed by the reconciler.
type Migrations interface {
	// AllMigrations returns a snapshot of the declared migrations in no
	// particular order
	AllMigrations() []MigrationInfo
}

// Connection is the seam between the reconciler and a concrete database.
type Connection interface {
	// EnsureBookkeepingStore creates the bookkeeping store if it does not
	// exist. Calling it repeatedly is safe.
	EnsureBookkeepingStore(ctx context.Context) error

	// LoadExecutedMigrations returns every recorded execution with its
	// backend-assigned sequence populated
	LoadExecutedMigrations(ctx context.Context) ([]ExecutedMigrationInfo, error)

	// RunInTransaction runs body inside a transaction. When body or the
	// commit fails the returned error is a *TransactionError reporting
	// whether part of the work was already committed.
	RunInTransaction(ctx context.Context, body func(tx Transaction) error) error
}

// Transaction is the handle passed to transaction bodies and actions.
type Transaction interface {
	// SaveExecutedMigration persists info so that a later
	// LoadExecutedMigrations on the same connection includes it
	SaveExecutedMigration(ctx context.Context, info ExecutedMigrationInfo) error

	// Exec runs a backend statement as part of the transaction
	Exec(ctx context.Context, statement string) error
}

// State is one row of the outer join between declared and executed
// migrations. At least one of Declared and Executed is non-nil.
type State struct {
	Version  version.Version
	Declared *MigrationInfo
	Executed *ExecutedMigrationInfo
}

// Pending reports a declared migration without a recorded execution.
func (s State) Pending() bool {
	return s.Declared != nil && s.Executed == nil
}

// Unexpected reports a recorded execution without a declared migration.
func (s State) Unexpected() bool {
	return s.Declared == nil && s.Executed != nil
}

// Renamed reports a matched pair whose names differ.
func (s State) Renamed() bool {
	return s.Declared != nil && s.Executed != nil && s.Declared.Name != s.Executed.Migration.Name
}

// Modified reports a matched pair whose recorded checksum differs from the
// declared one. Pairs missing either checksum are never modified.
func (s State) Modified() bool {
	if s.Declared == nil || s.Executed == nil {
		return false
	}
	declared, recorded := s.Declared.Checksum, s.Executed.Migration.Checksum
	return declared != "" && recorded != "" && declared != recorded
}

// Status summarises a reconciliation without failing on drift
type Status struct {
	States     []State                 // Full join, ascending by version
	Applied    []ExecutedMigrationInfo // Executions matching a declared migration
	Pending    []MigrationInfo         // Declared, not yet executed
	Unexpected []MigrationInfo         // Executed, no longer declared
	Renamed    []State                 // Same version, different recorded name
	Modified   []State                 // Same version, different recorded checksum
	Current    version.Version         // Highest recorded version, zero if none
}

// ApplyResult lists what Apply executed, in execution order
type ApplyResult struct {
	RunID      string
	Applied    []MigrationInfo
	OutOfOrder []MigrationInfo // Applied below the highest recorded version
	Duration   time.Duration
}

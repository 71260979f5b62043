package migration

import (
	"errors"
	"fmt"
	"strings"

	"github.com/example/schema-reconciler/internal/version"
)

// Migration-specific error types for different failure scenarios
var (
	// ErrUnexpectedMigrations indicates recorded executions without a declared migration
	ErrUnexpectedMigrations = errors.New("unexpected migrations recorded")

	// ErrActionConsumed indicates that a migration action was already handed out
	ErrActionConsumed = errors.New("migration action already consumed")

	// ErrUnknownMigration indicates a lookup for a version that was never registered
	ErrUnknownMigration = errors.New("migration not registered")

	// ErrDuplicateVersion indicates that two migrations claim the same version
	ErrDuplicateVersion = errors.New("duplicate migration version")

	// ErrInvalidMigrationFile indicates that a migration file is malformed or invalid
	ErrInvalidMigrationFile = errors.New("invalid migration file format")

	// ErrInvalidVersion aliases version.ErrInvalidVersion for callers of this package
	ErrInvalidVersion = version.ErrInvalidVersion
)

// BackendError wraps any failure reported through Connection or Transaction.
type BackendError struct {
	Op      string // Operation being performed (ensure, load, apply, ...)
	Version string // Migration version, if applicable
	Err     error
}

// Error implements the error interface
func (e *BackendError) Error() string {
	if e.Version != "" {
		return fmt.Sprintf("backend error in migration %s during %s: %v", e.Version, e.Op, e.Err)
	}
	return fmt.Sprintf("backend error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *BackendError) Unwrap() error {
	return e.Err
}

// NewBackendError creates a new BackendError
func NewBackendError(op, version string, err error) *BackendError {
	return &BackendError{Op: op, Version: version, Err: err}
}

// TransactionError is returned by Connection.RunInTransaction when the body
// or the commit fails. Committed reports whether part of the work may already
// be durable; backends with fully transactional DDL always report false.
type TransactionError struct {
	Committed bool
	Err       error
}

// Error implements the error interface
func (e *TransactionError) Error() string {
	if e.Committed {
		return fmt.Sprintf("transaction failed after partial commit: %v", e.Err)
	}
	return fmt.Sprintf("transaction failed: %v", e.Err)
}

// Unwrap returns the underlying error
func (e *TransactionError) Unwrap() error {
	return e.Err
}

// UnexpectedMigrationsError lists every recorded execution that has no
// declared counterpart, ascending by version.
type UnexpectedMigrationsError struct {
	Migrations []MigrationInfo
}

// Error implements the error interface
func (e *UnexpectedMigrationsError) Error() string {
	names := make([]string, len(e.Migrations))
	for i, m := range e.Migrations {
		names[i] = m.String()
	}
	return fmt.Sprintf("%d unexpected migrations recorded: %s", len(e.Migrations), strings.Join(names, ", "))
}

// Is matches ErrUnexpectedMigrations
func (e *UnexpectedMigrationsError) Is(target error) bool {
	return target == ErrUnexpectedMigrations
}

// FileSystemError wraps file system related errors during migration loading
type FileSystemError struct {
	Path      string // File or directory path
	Operation string // File operation (read, scan, etc.)
	Err       error  // Underlying error
}

// Error implements the error interface
func (e *FileSystemError) Error() string {
	return fmt.Sprintf("filesystem error during %s of %s: %v", e.Operation, e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *FileSystemError) Unwrap() error {
	return e.Err
}

// NewFileSystemError creates a new FileSystemError
func NewFileSystemError(path, operation string, err error) *FileSystemError {
	return &FileSystemError{
		Path:      path,
		Operation: operation,
		Err:       err,
	}
}

// TransactionCommitted reports whether err carries a TransactionError whose
// work was at least partially committed.
func TransactionCommitted(err error) bool {
	var txErr *TransactionError
	return errors.As(err, &txErr) && txErr.Committed
}

// ErrorKind maps errors from this package to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var (
		unexpected *UnexpectedMigrationsError
		backend    *BackendError
		fsErr      *FileSystemError
	)
	switch {
	case errors.As(err, &unexpected):
		return "unexpected_migrations"
	case errors.As(err, &backend):
		return "backend"
	case errors.Is(err, ErrInvalidVersion):
		return "parse"
	case errors.As(err, &fsErr):
		return "filesystem"
	case errors.Is(err, ErrInvalidMigrationFile), errors.Is(err, ErrDuplicateVersion):
		return "invalid_source"
	}
	return "unexpected"
}

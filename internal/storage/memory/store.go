// Package memory provides an in-process migration backend used for dry runs
// and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/schema-reconciler/internal/migration"
)

// ErrStoreMissing is returned when executions are loaded before the
// bookkeeping store was ensured.
var ErrStoreMissing = errors.New("memory: bookkeeping store does not exist")

// Store keeps executed migration records in memory and implements
// migration.Connection.
type Store struct {
	mu          sync.RWMutex
	initialised bool
	records     map[string]migration.ExecutedMigrationInfo
	statements  []string
	lastSeq     int64
	now         func() time.Time
	autoCommit  bool
	ensureErr   error
	loadErr     error
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for AppliedAt when callers leave it zero.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAutoCommit makes every write inside a transaction durable immediately,
// mimicking backends whose DDL commits implicitly. A failing body then
// reports a partial commit.
func WithAutoCommit() Option {
	return func(s *Store) { s.autoCommit = true }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		records: make(map[string]migration.ExecutedMigrationInfo),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailEnsure makes EnsureBookkeepingStore return err until cleared with nil.
func (s *Store) FailEnsure(err error) {
	s.mu.Lock()
	s.ensureErr = err
	s.mu.Unlock()
}

// FailLoad makes LoadExecutedMigrations return err until cleared with nil.
func (s *Store) FailLoad(err error) {
	s.mu.Lock()
	s.loadErr = err
	s.mu.Unlock()
}

// Seed records executions directly, bypassing transactions.
func (s *Store) Seed(records ...migration.ExecutedMigrationInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialised = true
	for _, rec := range records {
		if err := s.insertLocked(s.records, rec); err != nil {
			return err
		}
	}
	return nil
}

// Statements returns every statement executed through committed transactions.
func (s *Store) Statements() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.statements...)
}

// EnsureBookkeepingStore implements migration.Connection.
func (s *Store) EnsureBookkeepingStore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensureErr != nil {
		return s.ensureErr
	}
	s.initialised = true
	return nil
}

// LoadExecutedMigrations implements migration.Connection. Records are
// returned ordered by sequence.
func (s *Store) LoadExecutedMigrations(ctx context.Context) ([]migration.ExecutedMigrationInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if !s.initialised {
		return nil, ErrStoreMissing
	}

	out := make([]migration.ExecutedMigrationInfo, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// RunInTransaction implements migration.Connection. Writes are staged and
// applied on success unless the store was created WithAutoCommit.
func (s *Store) RunInTransaction(ctx context.Context, body func(tx migration.Transaction) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialised {
		return &migration.TransactionError{Err: ErrStoreMissing}
	}

	tx := &transaction{store: s, staged: make(map[string]migration.ExecutedMigrationInfo)}
	if err := body(tx); err != nil {
		return &migration.TransactionError{Committed: s.autoCommit && tx.writes > 0, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &migration.TransactionError{Committed: s.autoCommit && tx.writes > 0, Err: err}
	}

	for _, rec := range tx.staged {
		if err := s.insertLocked(s.records, rec); err != nil {
			return &migration.TransactionError{Err: err}
		}
	}
	s.statements = append(s.statements, tx.statements...)
	return nil
}

// insertLocked enforces version uniqueness and assigns sequences.
func (s *Store) insertLocked(dst map[string]migration.ExecutedMigrationInfo, rec migration.ExecutedMigrationInfo) error {
	key := rec.Migration.Version.String()
	if _, exists := s.records[key]; exists {
		return fmt.Errorf("memory: version %s: %w", key, migration.ErrDuplicateVersion)
	}
	if _, exists := dst[key]; exists {
		return fmt.Errorf("memory: version %s: %w", key, migration.ErrDuplicateVersion)
	}
	if rec.Sequence == 0 {
		rec.Sequence = s.lastSeq + 1
	}
	if rec.Sequence > s.lastSeq {
		s.lastSeq = rec.Sequence
	}
	if rec.AppliedAt.IsZero() {
		rec.AppliedAt = s.now().UTC()
	}
	dst[key] = rec
	return nil
}

type transaction struct {
	store      *Store
	staged     map[string]migration.ExecutedMigrationInfo
	statements []string
	writes     int
}

func (t *transaction) SaveExecutedMigration(ctx context.Context, info migration.ExecutedMigrationInfo) error {
	if t.store.autoCommit {
		if err := t.store.insertLocked(t.store.records, info); err != nil {
			return err
		}
		t.writes++
		return nil
	}
	if err := t.store.insertLocked(t.staged, info); err != nil {
		return err
	}
	t.writes++
	return nil
}

func (t *transaction) Exec(ctx context.Context, statement string) error {
	if t.store.autoCommit {
		t.store.statements = append(t.store.statements, statement)
		t.writes++
		return nil
	}
	t.statements = append(t.statements, statement)
	return nil
}

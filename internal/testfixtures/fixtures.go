package testfixtures

import (
	"context"
	"sync"
	"time"

	"github.com/example/schema-reconciler/internal/migration"
	"github.com/example/schema-reconciler/internal/version"
)

var referenceTime = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// Migration returns a declared migration identity.
func Migration(v, name string) migration.MigrationInfo {
	return migration.MigrationInfo{Version: version.MustParse(v), Name: name}
}

// Executed returns a recorded execution with the given sequence. AppliedAt is
// derived from ReferenceTime so records sort naturally by time as well.
func Executed(sequence int64, v, name string) migration.ExecutedMigrationInfo {
	return migration.ExecutedMigrationInfo{
		Migration: Migration(v, name),
		Sequence:  sequence,
		AppliedAt: referenceTime.Add(time.Duration(sequence) * time.Minute),
	}
}

// ActionLog records which actions ran and in what order.
type ActionLog struct {
	mu    sync.Mutex
	calls []string
}

// Calls returns the versions whose actions ran, in invocation order.
func (l *ActionLog) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// Action returns an action that records v and then executes statements.
func (l *ActionLog) Action(v string, statements ...string) migration.Action {
	return migration.ActionFunc(func(ctx context.Context, tx migration.Transaction) error {
		l.mu.Lock()
		l.calls = append(l.calls, v)
		l.mu.Unlock()
		for _, stmt := range statements {
			if err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}

// FailingAction returns an action that records v and fails with err.
func (l *ActionLog) FailingAction(v string, err error) migration.Action {
	return migration.ActionFunc(func(ctx context.Context, tx migration.Transaction) error {
		l.mu.Lock()
		l.calls = append(l.calls, v)
		l.mu.Unlock()
		return err
	})
}

// Registry builds a registry declaring each "version:name" pair with a no-op
// action.
func Registry(tb interface{ Fatalf(string, ...any) }, pairs ...[2]string) *migration.Registry {
	reg := migration.NewRegistry()
	for _, p := range pairs {
		if err := reg.Register(p[0], p[1], nil); err != nil {
			tb.Fatalf("register %s: %v", p[0], err)
		}
	}
	return reg
}

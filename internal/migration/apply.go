package migration

import (
	"context"
	"fmt"
	"time"
)

// Apply reconciles the recorded history and then executes every pending
// migration in ascending version order. Each migration runs in its own
// transaction together with the record of its execution; the first failure
// stops the run and is returned as a *BackendError wrapping the backend's
// *TransactionError. The result lists what was applied before the failure.
func (r *Reconciler) Apply(ctx context.Context, conn Connection, registry *Registry) (*ApplyResult, error) {
	logger, runID := r.runLogger(ctx, "apply")
	start := r.now()
	result := &ApplyResult{RunID: runID}

	states, err := r.load(ctx, logger, conn, registry)
	if err != nil {
		r.finished("apply", err, nil)
		return result, err
	}
	if err := checkUnexpected(states); err != nil {
		logger.Error("refusing to apply: recorded migrations have no declared counterpart", "error", err, "error_kind", ErrorKind(err))
		r.finished("apply", err, states)
		return result, err
	}
	logDrift(logger, states)

	current := highestExecuted(states)
	pending := countPending(states)
	if pending == 0 {
		logger.Info("no pending migrations, database is up to date")
		r.finished("apply", nil, states)
		return result, nil
	}
	logger.Info("applying pending migrations", "pending", pending, "current", current.String())

	for _, s := range states {
		if !s.Pending() {
			continue
		}
		info := *s.Declared
		migLogger := logger.With("version", info.Version.String(), "name", info.Name)
		if info.Checksum != "" {
			migLogger = migLogger.With("checksum", info.Checksum)
		}
		if info.Description != "" {
			migLogger = migLogger.With("description", info.Description)
		}

		action, err := registry.take(info.Version)
		if err != nil {
			migLogger.Error("migration action unavailable", "error", err)
			r.report("apply", err, pending-len(result.Applied), 0)
			return r.done(result, start), fmt.Errorf("apply migration %s: %w", info.Version, err)
		}

		outOfOrder := !current.IsZero() && info.Version.Less(current)
		if outOfOrder {
			migLogger.Warn("applying migration below the highest recorded version", "current", current.String())
		}

		migStart := r.now()
		err = conn.RunInTransaction(ctx, func(tx Transaction) error {
			if err := action.Apply(ctx, tx); err != nil {
				return err
			}
			return tx.SaveExecutedMigration(ctx, ExecutedMigrationInfo{
				Migration: info,
				AppliedAt: r.now().UTC(),
			})
		})
		if err != nil {
			migLogger.Error("migration failed", "error", err, "committed", TransactionCommitted(err))
			bErr := NewBackendError("apply migration", info.Version.String(), err)
			r.report("apply", bErr, pending-len(result.Applied), 0)
			return r.done(result, start), bErr
		}

		elapsed := r.now().Sub(migStart)
		result.Applied = append(result.Applied, info)
		if outOfOrder {
			result.OutOfOrder = append(result.OutOfOrder, info)
		}
		if r.observer != nil {
			r.observer.MigrationApplied(info.Version.String(), elapsed)
		}
		migLogger.Info("migration applied", "duration", elapsed)
	}

	r.done(result, start)
	logger.Info("all pending migrations applied", "applied", len(result.Applied), "duration", result.Duration)
	// every pending migration ran and none was unexpected
	r.report("apply", nil, 0, 0)
	return result, nil
}

func (r *Reconciler) done(result *ApplyResult, start time.Time) *ApplyResult {
	result.Duration = r.now().Sub(start)
	return result
}

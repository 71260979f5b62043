package migration

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/example/schema-reconciler/internal/logging"
	"github.com/example/schema-reconciler/internal/version"
)

// Observer receives reconciliation outcomes, e.g. to export metrics.
type Observer interface {
	ReconcileFinished(operation, result string, pending, unexpected int)
	MigrationApplied(version string, duration time.Duration)
}

// Reconciler compares declared migrations with recorded executions.
type Reconciler struct {
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
	newRunID func() string
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithLogger sets the fallback logger used when the context carries none
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = logger }
}

// WithObserver registers an Observer
func WithObserver(observer Observer) Option {
	return func(r *Reconciler) { r.observer = observer }
}

// WithClock overrides the time source used for timestamps and durations
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithRunIDs overrides the generator for per-run correlation IDs
func WithRunIDs(next func() string) Option {
	return func(r *Reconciler) {
		if next != nil {
			r.newRunID = next
		}
	}
}

// NewReconciler creates a Reconciler
func NewReconciler(opts ...Option) *Reconciler {
	r := &Reconciler{
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile uses a default Reconciler.
func Reconcile(ctx context.Context, conn Connection, migrations Migrations) error {
	return NewReconciler().Reconcile(ctx, conn, migrations)
}

// Reconcile ensures the bookkeeping store, loads recorded executions and
// fails with *UnexpectedMigrationsError when any of them has no declared
// counterpart. Backend failures are returned as *BackendError. Pending
// migrations are not an error.
func (r *Reconciler) Reconcile(ctx context.Context, conn Connection, migrations Migrations) error {
	logger, _ := r.runLogger(ctx, "reconcile")

	states, err := r.load(ctx, logger, conn, migrations)
	if err != nil {
		r.finished("reconcile", err, nil)
		return err
	}
	if err := checkUnexpected(states); err != nil {
		logger.Error("recorded migrations have no declared counterpart", "error", err, "error_kind", ErrorKind(err))
		r.finished("reconcile", err, states)
		return err
	}

	logDrift(logger, states)
	logger.Info("migration history reconciled", "pending", countPending(states), "states", len(states))
	r.finished("reconcile", nil, states)
	return nil
}

// Status returns the joined view of declared and recorded migrations. Drift
// is reported in the result rather than as an error.
func (r *Reconciler) Status(ctx context.Context, conn Connection, migrations Migrations) (*Status, error) {
	logger, _ := r.runLogger(ctx, "status")

	states, err := r.load(ctx, logger, conn, migrations)
	if err != nil {
		r.finished("status", err, nil)
		return nil, err
	}

	status := &Status{States: states}
	for _, s := range states {
		switch {
		case s.Unexpected():
			status.Unexpected = append(status.Unexpected, s.Executed.Migration)
		case s.Pending():
			status.Pending = append(status.Pending, *s.Declared)
		default:
			status.Applied = append(status.Applied, *s.Executed)
			if s.Renamed() {
				status.Renamed = append(status.Renamed, s)
			}
			if s.Modified() {
				status.Modified = append(status.Modified, s)
			}
		}
	}
	status.Current = highestExecuted(states)

	logDrift(logger, states)
	logger.Info("migration status computed",
		"applied", len(status.Applied),
		"pending", len(status.Pending),
		"unexpected", len(status.Unexpected),
		"modified", len(status.Modified),
		"current", status.Current.String(),
	)
	r.finished("status", nil, states)
	return status, nil
}

// load runs the shared prefix of every operation: ensure the store, read
// both sides and join them by version.
func (r *Reconciler) load(ctx context.Context, logger *slog.Logger, conn Connection, migrations Migrations) ([]State, error) {
	logger.Debug("ensuring bookkeeping store")
	if err := conn.EnsureBookkeepingStore(ctx); err != nil {
		logger.Error("failed to ensure bookkeeping store", "error", err)
		return nil, NewBackendError("ensure bookkeeping store", "", err)
	}

	declared := make(map[string]MigrationInfo)
	for _, m := range migrations.AllMigrations() {
		declared[m.Version.String()] = m
	}

	recorded, err := conn.LoadExecutedMigrations(ctx)
	if err != nil {
		logger.Error("failed to load executed migrations", "error", err)
		return nil, NewBackendError("load executed migrations", "", err)
	}
	executed := make(map[string]ExecutedMigrationInfo, len(recorded))
	for _, e := range recorded {
		executed[e.Migration.Version.String()] = e
	}

	logger.Debug("loaded migration sets", "declared", len(declared), "executed", len(executed))
	return merge(declared, executed), nil
}

// merge computes the full outer join of both maps by version, ascending.
func merge(declared map[string]MigrationInfo, executed map[string]ExecutedMigrationInfo) []State {
	joined := make(map[string]*State, len(declared)+len(executed))
	for key, m := range declared {
		m := m
		joined[key] = &State{Version: m.Version, Declared: &m}
	}
	for key, e := range executed {
		e := e
		s, ok := joined[key]
		if !ok {
			s = &State{Version: e.Migration.Version}
			joined[key] = s
		}
		s.Executed = &e
	}

	states := make([]State, 0, len(joined))
	for _, s := range joined {
		states = append(states, *s)
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].Version.Less(states[j].Version)
	})
	return states
}

func checkUnexpected(states []State) error {
	var unexpected []MigrationInfo
	for _, s := range states {
		if s.Unexpected() {
			unexpected = append(unexpected, s.Executed.Migration)
		}
	}
	if len(unexpected) == 0 {
		return nil
	}
	sort.Slice(unexpected, func(i, j int) bool {
		return unexpected[i].Version.Less(unexpected[j].Version)
	})
	return &UnexpectedMigrationsError{Migrations: unexpected}
}

func countPending(states []State) int {
	n := 0
	for _, s := range states {
		if s.Pending() {
			n++
		}
	}
	return n
}

func countUnexpected(states []State) int {
	n := 0
	for _, s := range states {
		if s.Unexpected() {
			n++
		}
	}
	return n
}

// logDrift warns about matched pairs whose recorded name or checksum no
// longer agrees with the declaration.
func logDrift(logger *slog.Logger, states []State) {
	for _, s := range states {
		if s.Renamed() {
			logger.Warn("recorded migration name differs from declared name",
				"version", s.Version.String(),
				"declared_name", s.Declared.Name,
				"recorded_name", s.Executed.Migration.Name,
			)
		}
		if s.Modified() {
			logger.Warn("migration changed after it was applied",
				"version", s.Version.String(),
				"name", s.Declared.Name,
				"declared_checksum", s.Declared.Checksum,
				"recorded_checksum", s.Executed.Migration.Checksum,
			)
		}
	}
}

func highestExecuted(states []State) version.Version {
	var current version.Version
	for _, s := range states {
		if s.Executed != nil {
			current = s.Version
		}
	}
	return current
}

func (r *Reconciler) runLogger(ctx context.Context, operation string) (*slog.Logger, string) {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = r.logger
	}
	if logger == nil {
		logger = slog.Default()
	}
	runID := r.newRunID()
	return logger.With("component", "reconciler", "operation", operation, "run_id", runID), runID
}

func (r *Reconciler) finished(operation string, err error, states []State) {
	r.report(operation, err, countPending(states), countUnexpected(states))
}

func (r *Reconciler) report(operation string, err error, pending, unexpected int) {
	if r.observer == nil {
		return
	}
	result := "success"
	if err != nil {
		result = ErrorKind(err)
	}
	r.observer.ReconcileFinished(operation, result, pending, unexpected)
}

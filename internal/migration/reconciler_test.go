package migration_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/schema-reconciler/internal/logging"
	"github.com/example/schema-reconciler/internal/migration"
	"github.com/example/schema-reconciler/internal/storage/memory"
	"github.com/example/schema-reconciler/internal/testfixtures"
)

type recordingConnection struct {
	calls     []string
	ensureErr error
	loadErr   error
	executed  []migration.ExecutedMigrationInfo
}

func (c *recordingConnection) EnsureBookkeepingStore(ctx context.Context) error {
	c.calls = append(c.calls, "ensure")
	return c.ensureErr
}

func (c *recordingConnection) LoadExecutedMigrations(ctx context.Context) ([]migration.ExecutedMigrationInfo, error) {
	c.calls = append(c.calls, "load")
	return c.executed, c.loadErr
}

func (c *recordingConnection) RunInTransaction(ctx context.Context, body func(tx migration.Transaction) error) error {
	c.calls = append(c.calls, "transaction")
	return errors.New("not supported")
}

type observation struct {
	operation  string
	result     string
	pending    int
	unexpected int
}

type fakeObserver struct {
	finished []observation
	applied  map[string]time.Duration
}

func (o *fakeObserver) ReconcileFinished(operation, result string, pending, unexpected int) {
	o.finished = append(o.finished, observation{operation, result, pending, unexpected})
}

func (o *fakeObserver) MigrationApplied(version string, d time.Duration) {
	if o.applied == nil {
		o.applied = make(map[string]time.Duration)
	}
	o.applied[version] = d
}

func newReconciler(opts ...migration.Option) *migration.Reconciler {
	base := []migration.Option{
		migration.WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))),
		migration.WithRunIDs(testfixtures.NewIDGenerator("test").NextFunc()),
	}
	return migration.NewReconciler(append(base, opts...)...)
}

func TestReconcile_UnexpectedMigrationsAreReportedSorted(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.Seed(
		testfixtures.Executed(1, "0.0.3", "third"),
		testfixtures.Executed(2, "0.0.1", "first"),
		testfixtures.Executed(3, "0.0.2", "second"),
	))

	reg := testfixtures.Registry(t, [2]string{"1.0.0", "init"})

	err := newReconciler().Reconcile(context.Background(), store, reg)

	var unexpected *migration.UnexpectedMigrationsError
	require.ErrorAs(t, err, &unexpected)
	assert.ErrorIs(t, err, migration.ErrUnexpectedMigrations)
	require.Len(t, unexpected.Migrations, 3)
	assert.Equal(t, "0.0.1", unexpected.Migrations[0].Version.String())
	assert.Equal(t, "first", unexpected.Migrations[0].Name)
	assert.Equal(t, "0.0.2", unexpected.Migrations[1].Version.String())
	assert.Equal(t, "0.0.3", unexpected.Migrations[2].Version.String())
}

func TestReconcile_MatchingHistorySucceeds(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.Seed(testfixtures.Executed(1, "1.0.0", "init")))
	reg := testfixtures.Registry(t, [2]string{"1.0.0", "init"})

	assert.NoError(t, newReconciler().Reconcile(context.Background(), store, reg))
}

func TestReconcile_PendingMigrationsAreNotAnError(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.Seed(testfixtures.Executed(1, "1.0.0", "init")))
	reg := testfixtures.Registry(t, [2]string{"1.0.0", "init"}, [2]string{"2.0.0", "pending"})

	assert.NoError(t, newReconciler().Reconcile(context.Background(), store, reg))

	status, err := newReconciler().Status(context.Background(), store, reg)
	require.NoError(t, err)
	require.Len(t, status.Pending, 1)
	assert.Equal(t, "2.0.0", status.Pending[0].Version.String())
	assert.Empty(t, status.Unexpected)
}

func TestReconcile_NothingRecordedIsNotAnError(t *testing.T) {
	reg := testfixtures.Registry(t, [2]string{"2.0.0", "pending"})

	assert.NoError(t, newReconciler().Reconcile(context.Background(), memory.New(), reg))
}

func TestReconcile_EmptyOnBothSides(t *testing.T) {
	conn := &recordingConnection{}

	require.NoError(t, migration.Reconcile(context.Background(), conn, migration.NewRegistry()))
	assert.Equal(t, []string{"ensure", "load"}, conn.calls)
}

func TestReconcile_EnsureFailureStopsBeforeLoad(t *testing.T) {
	cause := errors.New("permission denied")
	conn := &recordingConnection{ensureErr: cause}

	err := newReconciler().Reconcile(context.Background(), conn, migration.NewRegistry())

	var backend *migration.BackendError
	require.ErrorAs(t, err, &backend)
	assert.Equal(t, "ensure bookkeeping store", backend.Op)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, []string{"ensure"}, conn.calls)
}

func TestReconcile_LoadFailureIsBackendError(t *testing.T) {
	cause := errors.New("connection reset")
	conn := &recordingConnection{loadErr: cause}

	err := newReconciler().Reconcile(context.Background(), conn, migration.NewRegistry())

	var backend *migration.BackendError
	require.ErrorAs(t, err, &backend)
	assert.Equal(t, "load executed migrations", backend.Op)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "backend", migration.ErrorKind(err))
}

func TestReconcile_StoreEnsureFailureIsWrapped(t *testing.T) {
	store := memory.New()
	store.FailEnsure(errors.New("read-only"))

	err := newReconciler().Reconcile(context.Background(), store, migration.NewRegistry())
	var backend *migration.BackendError
	require.ErrorAs(t, err, &backend)
	assert.Equal(t, "ensure bookkeeping store", backend.Op)
	assert.NotErrorIs(t, err, memory.ErrStoreMissing)
}

func TestReconcile_RenamedMigrationLogsWarning(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	ctx := logging.ContextWithLogger(context.Background(), logger)

	store := memory.New()
	require.NoError(t, store.Seed(testfixtures.Executed(1, "1.0.0", "old name")))
	reg := testfixtures.Registry(t, [2]string{"1.0.0", "new name"})

	require.NoError(t, newReconciler().Reconcile(ctx, store, reg))
	out := buf.String()
	assert.Contains(t, out, "recorded migration name differs")
	assert.Contains(t, out, "operation=reconcile")
	assert.True(t, strings.Contains(out, "run_id="))
}

func TestReconcile_ReportsToObserver(t *testing.T) {
	obs := &fakeObserver{}
	store := memory.New()
	require.NoError(t, store.Seed(testfixtures.Executed(1, "0.9", "gone")))
	reg := testfixtures.Registry(t, [2]string{"1.0", "a"}, [2]string{"1.1", "b"})

	err := newReconciler(migration.WithObserver(obs)).Reconcile(context.Background(), store, reg)
	require.Error(t, err)

	require.Len(t, obs.finished, 1)
	assert.Equal(t, observation{"reconcile", "unexpected_migrations", 2, 1}, obs.finished[0])
}

func TestStatus_ClassifiesEveryState(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.Seed(
		testfixtures.Executed(1, "1.0", "init"),
		testfixtures.Executed(2, "1.1", "users"),
		testfixtures.Executed(3, "0.5", "legacy"),
	))
	reg := testfixtures.Registry(t,
		[2]string{"1.0", "init"},
		[2]string{"1.1", "accounts"},
		[2]string{"1.2", "rooms"},
		[2]string{"1.2.0", "rooms follow-up"},
	)

	status, err := newReconciler().Status(context.Background(), store, reg)
	require.NoError(t, err)

	versions := make([]string, len(status.States))
	for i, s := range status.States {
		versions[i] = s.Version.String()
	}
	assert.Equal(t, []string{"0.5", "1.0", "1.1", "1.2", "1.2.0"}, versions)

	require.Len(t, status.Applied, 2)
	assert.Equal(t, int64(1), status.Applied[0].Sequence)
	require.Len(t, status.Pending, 2)
	assert.Equal(t, "1.2", status.Pending[0].Version.String())
	require.Len(t, status.Unexpected, 1)
	assert.Equal(t, "legacy", status.Unexpected[0].Name)
	require.Len(t, status.Renamed, 1)
	assert.Equal(t, "users", status.Renamed[0].Executed.Migration.Name)
	assert.Equal(t, "1.1", status.Current.String())
}

func TestStatus_ReportsMigrationsChangedAfterApply(t *testing.T) {
	var buf bytes.Buffer
	ctx := logging.ContextWithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))

	changed := testfixtures.Executed(1, "1.0", "init")
	changed.Migration.Checksum = "aaaa"
	same := testfixtures.Executed(2, "1.1", "users")
	same.Migration.Checksum = "bbbb"
	legacy := testfixtures.Executed(3, "1.2", "rooms")
	store := memory.New()
	require.NoError(t, store.Seed(changed, same, legacy))

	reg := migration.NewRegistry()
	reg.RegisterInfo(migration.MigrationInfo{Version: changed.Migration.Version, Name: "init", Checksum: "cccc"}, nil)
	reg.RegisterInfo(migration.MigrationInfo{Version: same.Migration.Version, Name: "users", Checksum: "bbbb"}, nil)
	reg.RegisterInfo(migration.MigrationInfo{Version: legacy.Migration.Version, Name: "rooms", Checksum: "dddd"}, nil)

	status, err := newReconciler().Status(ctx, store, reg)
	require.NoError(t, err)
	require.Len(t, status.Modified, 1)
	assert.Equal(t, "1.0", status.Modified[0].Version.String())
	assert.Equal(t, "aaaa", status.Modified[0].Executed.Migration.Checksum)

	out := buf.String()
	assert.Contains(t, out, "migration changed after it was applied")
	assert.Contains(t, out, "declared_checksum=cccc")
	assert.Contains(t, out, "recorded_checksum=aaaa")
	assert.Equal(t, 1, strings.Count(out, "migration changed after it was applied"))
}

func TestStatus_EmptyHistoryHasZeroCurrent(t *testing.T) {
	status, err := newReconciler().Status(context.Background(), memory.New(), testfixtures.Registry(t, [2]string{"1", "a"}))
	require.NoError(t, err)
	assert.True(t, status.Current.IsZero())
	assert.Len(t, status.Pending, 1)
}

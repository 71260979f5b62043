package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mitchellh/cli"

	"github.com/example/schema-reconciler/internal/config"
	"github.com/example/schema-reconciler/internal/logging"
	"github.com/example/schema-reconciler/internal/metrics"
	"github.com/example/schema-reconciler/internal/migration"
	"github.com/example/schema-reconciler/internal/migration/sqlfile"
	"github.com/example/schema-reconciler/internal/storage/memory"
	"github.com/example/schema-reconciler/internal/storage/postgres"
	"github.com/example/schema-reconciler/internal/storage/sqlite"
)

// baseCommand holds what every subcommand shares: flags, configuration and
// the wiring from configuration to a reconciler and a backend.
type baseCommand struct {
	ctx    context.Context
	ui     cli.Ui
	out    io.Writer
	logOut io.Writer

	configPath string
	driver     string
	dsn        string
	dir        string
}

func (b *baseCommand) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&b.configPath, "config", os.Getenv(config.EnvPrefix+"_CONFIG"), "Path to a YAML configuration file")
	fs.StringVar(&b.driver, "driver", "", "Backend driver: sqlite, postgres or memory")
	fs.StringVar(&b.dsn, "dsn", "", "Database connection string")
	fs.StringVar(&b.dir, "dir", "", "Directory containing {version}_{name}.sql files")
	return fs
}

const commonHelp = `
Options:

  -config=<path>   YAML configuration file. Defaults to $RECONCILER_CONFIG.
  -driver=<name>   Backend driver: sqlite, postgres or memory.
  -dsn=<dsn>       Database connection string.
  -dir=<path>      Directory containing {version}_{name}.sql files.

Settings are read from defaults, then the configuration file, then
RECONCILER_* environment variables, then flags.
`

// session is one configured run.
type session struct {
	cfg        config.Config
	logger     *slog.Logger
	conn       migration.Connection
	closeConn  func() error
	registry   *migration.Registry
	files      []sqlfile.File
	recorder   *metrics.Recorder
	reconciler *migration.Reconciler
}

func (b *baseCommand) open(name string, args []string) (*session, error) {
	fs := b.flagSet(name)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.LoadUnvalidated(b.configPath)
	if err != nil {
		return nil, err
	}
	if b.driver != "" {
		cfg.Driver = strings.ToLower(b.driver)
	}
	if b.dsn != "" {
		cfg.DSN = b.dsn
	}
	if b.dir != "" {
		cfg.MigrationsDir = b.dir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(b.logOut, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger = logger.With("command", name, "driver", cfg.Driver)

	registry := migration.NewRegistry()
	files, err := sqlfile.Load(registry, cfg.MigrationsDir)
	if err != nil {
		logger.Error("failed to load migration files", "dir", cfg.MigrationsDir, "error", err, "error_kind", migration.ErrorKind(err))
		return nil, err
	}
	logger.Debug("loaded migration files", "dir", cfg.MigrationsDir, "count", len(files))

	conn, closeConn, err := openBackend(b.ctx, cfg)
	if err != nil {
		logger.Error("failed to open backend", "error", err)
		return nil, err
	}

	recorder := metrics.NewRecorder("")
	return &session{
		cfg:       cfg,
		logger:    logger,
		conn:      conn,
		closeConn: closeConn,
		registry:  registry,
		files:     files,
		recorder:  recorder,
		reconciler: migration.NewReconciler(
			migration.WithLogger(logger),
			migration.WithObserver(recorder),
		),
	}, nil
}

func openBackend(ctx context.Context, cfg config.Config) (migration.Connection, func() error, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.New(), func() error { return nil }, nil
	case config.DriverPostgres:
		conn, err := postgres.Open(ctx, cfg.DSN, postgres.WithTable(cfg.Table))
		if err != nil {
			return nil, nil, err
		}
		return conn, conn.Close, nil
	case config.DriverSQLite:
		conn, err := sqlite.Open(ctx, cfg.SQLiteConfig(), sqlite.WithTable(cfg.Table))
		if err != nil {
			return nil, nil, err
		}
		return conn, conn.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown driver %q", cfg.Driver)
}

// close releases the backend and writes metrics when a textfile is configured.
func (s *session) close() {
	if s.cfg.MetricsFile != "" {
		if err := s.recorder.WriteTextfile(s.cfg.MetricsFile); err != nil {
			s.logger.Error("failed to write metrics", "error", err)
		}
	}
	if err := s.closeConn(); err != nil {
		s.logger.Error("failed to close backend", "error", err)
	}
}

func (s *session) context(ctx context.Context) context.Context {
	return logging.ContextWithLogger(ctx, s.logger)
}

// fail reports err and maps it to an exit code.
func (b *baseCommand) fail(err error) int {
	if errors.Is(err, flag.ErrHelp) {
		return cli.RunResultHelp
	}
	b.ui.Error(err.Error())
	if errors.Is(err, migration.ErrUnexpectedMigrations) {
		return exitDrift
	}
	return exitError
}

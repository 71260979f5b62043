// Package config loads reconciler settings from defaults, an optional YAML
// file and RECONCILER_* environment variables, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/example/schema-reconciler/internal/storage/sqlite"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RECONCILER"

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config captures the settings of a reconciler run.
type Config struct {
	Driver        string `yaml:"driver"`
	DSN           string `yaml:"dsn"`
	MigrationsDir string `yaml:"migrations_dir" split_words:"true"`
	Table         string `yaml:"table"`
	LogFormat     string `yaml:"log_format" split_words:"true"`
	LogLevel      string `yaml:"log_level" split_words:"true"`
	MetricsFile   string `yaml:"metrics_file" split_words:"true"`

	SQLite SQLite `yaml:"sqlite"`
}

// SQLite holds the SQLite connection tuning.
type SQLite struct {
	BusyTimeout     time.Duration `yaml:"busy_timeout" split_words:"true"`
	JournalMode     string        `yaml:"journal_mode" split_words:"true"`
	Synchronous     string        `yaml:"synchronous"`
	ForeignKeys     bool          `yaml:"foreign_keys" split_words:"true"`
	MaxOpenConns    int           `yaml:"max_open_conns" split_words:"true"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" split_words:"true"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	sq := sqlite.DefaultConfig("reconciler.db")
	return Config{
		Driver:        DriverSQLite,
		DSN:           sq.DSN,
		MigrationsDir: "migrations",
		Table:         sqlite.DefaultTable,
		LogFormat:     "json",
		LogLevel:      "info",
		SQLite: SQLite{
			BusyTimeout:  sq.BusyTimeout,
			JournalMode:  sq.JournalMode,
			Synchronous:  sq.Synchronous,
			ForeignKeys:  sq.EnableForeignKeys,
			MaxOpenConns: sq.MaxOpenConns,
		},
	}
}

// Load builds and validates the configuration. path may be empty, in which
// case only defaults and the environment apply.
func Load(path string) (Config, error) {
	cfg, err := LoadUnvalidated(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadUnvalidated is Load without the final Validate, for callers that apply
// further overrides such as command-line flags first.
func LoadUnvalidated(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("environment overrides: %w", err)
	}

	cfg.Driver = strings.ToLower(strings.TrimSpace(cfg.Driver))
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var result *multierror.Error

	switch c.Driver {
	case DriverSQLite, DriverPostgres, DriverMemory:
	default:
		result = multierror.Append(result, fmt.Errorf("unknown driver %q (want sqlite, postgres or memory)", c.Driver))
	}
	if c.Driver != DriverMemory && strings.TrimSpace(c.DSN) == "" {
		result = multierror.Append(result, fmt.Errorf("dsn is required for driver %q", c.Driver))
	}
	if strings.TrimSpace(c.MigrationsDir) == "" {
		result = multierror.Append(result, fmt.Errorf("migrations_dir cannot be empty"))
	}
	if strings.TrimSpace(c.Table) == "" {
		result = multierror.Append(result, fmt.Errorf("table cannot be empty"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		result = multierror.Append(result, fmt.Errorf("unknown log_format %q", c.LogFormat))
	}
	if c.Driver == DriverSQLite {
		if err := c.SQLiteConfig().Validate(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

// SQLiteConfig converts the settings to a storage configuration.
func (c Config) SQLiteConfig() sqlite.Config {
	return sqlite.Config{
		DSN:               c.DSN,
		BusyTimeout:       c.SQLite.BusyTimeout,
		EnableForeignKeys: c.SQLite.ForeignKeys,
		JournalMode:       c.SQLite.JournalMode,
		Synchronous:       c.SQLite.Synchronous,
		MaxOpenConns:      c.SQLite.MaxOpenConns,
		ConnMaxLifetime:   c.SQLite.ConnMaxLifetime,
	}
}

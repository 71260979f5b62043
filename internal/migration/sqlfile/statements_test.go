package sqlfile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/schema-reconciler/internal/migration"
	"github.com/example/schema-reconciler/internal/version"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want []string
	}{
		{"single", "SELECT 1", []string{"SELECT 1"}},
		{"trailing semicolons", "SELECT 1;;\n;", []string{"SELECT 1"}},
		{"line comments", "-- header\nSELECT 1; -- trailing\nSELECT 2;", []string{"SELECT 1", "SELECT 2"}},
		{"block comment", "SELECT /* ; */ 1;", []string{"SELECT   1"}},
		{"semicolon in string", "INSERT INTO t VALUES ('a;b');", []string{"INSERT INTO t VALUES ('a;b')"}},
		{"doubled quote", "INSERT INTO t VALUES ('it''s; fine');", []string{"INSERT INTO t VALUES ('it''s; fine')"}},
		{"dashes in string", "SELECT '--not a comment';", []string{"SELECT '--not a comment'"}},
		{"quoted identifier", `CREATE TABLE "a;b" (id INT);`, []string{`CREATE TABLE "a;b" (id INT)`}},
		{"comments only", "-- nothing\n/* at all */", nil},
		{
			"sqlite trigger body",
			"CREATE TABLE a (id INT, n INT);\nCREATE TRIGGER a_bump AFTER INSERT ON a BEGIN\n  UPDATE a SET n = CASE WHEN n IS NULL THEN 1 ELSE n + 1 END WHERE id = NEW.id;\n  SELECT 1;\nEND;\nSELECT 2;",
			[]string{
				"CREATE TABLE a (id INT, n INT)",
				"CREATE TRIGGER a_bump AFTER INSERT ON a BEGIN\n  UPDATE a SET n = CASE WHEN n IS NULL THEN 1 ELSE n + 1 END WHERE id = NEW.id;\n  SELECT 1;\nEND",
				"SELECT 2",
			},
		},
		{
			"temp trigger if not exists",
			"CREATE TEMP TRIGGER IF NOT EXISTS t AFTER DELETE ON a BEGIN DELETE FROM b; END; SELECT 1",
			[]string{"CREATE TEMP TRIGGER IF NOT EXISTS t AFTER DELETE ON a BEGIN DELETE FROM b; END", "SELECT 1"},
		},
		{
			"begin outside trigger",
			"BEGIN; SELECT 1; END;",
			[]string{"BEGIN", "SELECT 1", "END"},
		},
		{
			"dollar quoted function",
			"CREATE FUNCTION touch() RETURNS trigger AS $$\nBEGIN\n  NEW.updated_at := now();\n  RETURN NEW;\nEND;\n$$ LANGUAGE plpgsql;\nSELECT 1;",
			[]string{
				"CREATE FUNCTION touch() RETURNS trigger AS $$\nBEGIN\n  NEW.updated_at := now();\n  RETURN NEW;\nEND;\n$$ LANGUAGE plpgsql",
				"SELECT 1",
			},
		},
		{
			"tagged dollar quote",
			"DO $body$ BEGIN PERFORM 'x;'; END $body$;",
			[]string{"DO $body$ BEGIN PERFORM 'x;'; END $body$"},
		},
		{
			"positional parameter",
			"PREPARE q AS SELECT $1; SELECT a$b FROM t;",
			[]string{"PREPARE q AS SELECT $1", "SELECT a$b FROM t"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SplitStatements(tt.sql)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitStatements_Invalid(t *testing.T) {
	for _, sql := range []string{
		"SELECT 'open",
		"SELECT 1 /* open",
		"CREATE TABLE t (id INT",
		"SELECT 1)",
		"SELECT (1; SELECT 2)",
		"SELECT $$open",
		"CREATE TRIGGER t AFTER INSERT ON a BEGIN SELECT 1;",
	} {
		_, err := SplitStatements(sql)
		assert.ErrorIs(t, err, migration.ErrInvalidMigrationFile, sql)
	}
}

type execRecorder struct {
	executed []string
	failOn   string
}

func (r *execRecorder) SaveExecutedMigration(context.Context, migration.ExecutedMigrationInfo) error {
	return nil
}

func (r *execRecorder) Exec(_ context.Context, stmt string) error {
	if stmt == r.failOn {
		return errors.New("syntax error")
	}
	r.executed = append(r.executed, stmt)
	return nil
}

func TestAction_StopsAtFailingStatement(t *testing.T) {
	f := File{
		Version:    version.New(3),
		Path:       "3_three.sql",
		Statements: []string{"SELECT 1", "SELECT broken", "SELECT 3"},
	}
	tx := &execRecorder{failOn: "SELECT broken"}

	err := Action(f).Apply(context.Background(), tx)
	assert.ErrorContains(t, err, "3_three.sql statement 2")
	assert.Equal(t, []string{"SELECT 1"}, tx.executed)
}

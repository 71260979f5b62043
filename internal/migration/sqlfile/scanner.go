// Package sqlfile declares migrations from a directory of SQL files named
// {version}_{name}.sql, e.g. 1.2.0_add_users.sql.
package sqlfile

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/crypto/blake2b"

	"github.com/example/schema-reconciler/internal/migration"
	"github.com/example/schema-reconciler/internal/version"
)

// File is a parsed migration file.
type File struct {
	Version     version.Version
	Name        string // From the filename; recorded in the bookkeeping store
	Description string // From a "-- Description:" header, falls back to Name
	Path        string
	SQL         string
	Statements  []string
	Checksum    string // Hex BLAKE2b-256 of SQL
}

// Info returns the declared migration identity of f.
func (f File) Info() migration.MigrationInfo {
	return migration.MigrationInfo{
		Version:     f.Version,
		Name:        f.Name,
		Checksum:    f.Checksum,
		Description: f.Description,
	}
}

// Scanner reads migration files from a file system.
type Scanner struct {
	pattern *regexp.Regexp
}

// NewScanner creates a Scanner
func NewScanner() *Scanner {
	// Version: dot-separated digit groups. Name: letters, digits, underscores
	// and hyphens.
	return &Scanner{pattern: regexp.MustCompile(`^(\d+(?:\.\d+)*)_([a-zA-Z0-9_-]+)\.sql$`)}
}

// ScanDir scans the migration directory at dir.
func (s *Scanner) ScanDir(dir string) ([]File, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, migration.NewFileSystemError(dir, "scan directory", err)
	}
	if !info.IsDir() {
		return nil, migration.NewFileSystemError(dir, "scan directory", fmt.Errorf("not a directory"))
	}
	return s.Scan(os.DirFS(dir))
}

// Scan reads every .sql file at the root of fsys. Other files and
// subdirectories are ignored. All invalid files are reported together; the
// result is sorted by version.
func (s *Scanner) Scan(fsys fs.FS) ([]File, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, migration.NewFileSystemError(".", "read directory", err)
	}

	var (
		files  []File
		result *multierror.Error
		seen   = make(map[string]string)
	)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		f, err := s.ParseFile(fsys, entry.Name())
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		key := f.Version.String()
		if existing, ok := seen[key]; ok {
			result = multierror.Append(result, fmt.Errorf("%w: version %s found in both %s and %s",
				migration.ErrDuplicateVersion, key, existing, f.Path))
			continue
		}
		seen[key] = f.Path
		files = append(files, *f)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Version.Less(files[j].Version) })
	return files, nil
}

// ValidateFileName checks name against the {version}_{name}.sql convention
// and returns its parts.
func (s *Scanner) ValidateFileName(name string) (version.Version, string, error) {
	matches := s.pattern.FindStringSubmatch(name)
	if matches == nil {
		return version.Version{}, "", fmt.Errorf("%w: filename %q does not match pattern '{version}_{name}.sql'",
			migration.ErrInvalidMigrationFile, name)
	}
	v, err := version.Parse(matches[1])
	if err != nil {
		return version.Version{}, "", fmt.Errorf("filename %q: %w", name, err)
	}
	return v, matches[2], nil
}

// ParseFile reads and validates a single migration file.
func (s *Scanner) ParseFile(fsys fs.FS, name string) (*File, error) {
	v, base, err := s.ValidateFileName(path.Base(name))
	if err != nil {
		return nil, err
	}

	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, migration.NewFileSystemError(name, "read file", err)
	}
	sql := string(content)
	if strings.TrimSpace(sql) == "" {
		return nil, fmt.Errorf("%w: %s is empty", migration.ErrInvalidMigrationFile, name)
	}

	statements, err := SplitStatements(sql)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if len(statements) == 0 {
		return nil, fmt.Errorf("%w: %s has no SQL statements after removing comments", migration.ErrInvalidMigrationFile, name)
	}

	description := extractDescription(sql)
	if description == "" {
		description = strings.ReplaceAll(base, "_", " ")
	}

	sum := blake2b.Sum256(content)
	return &File{
		Version:     v,
		Name:        base,
		Description: description,
		Path:        name,
		SQL:         sql,
		Statements:  statements,
		Checksum:    hex.EncodeToString(sum[:]),
	}, nil
}

// extractDescription returns the first "-- Description:" value in the
// leading comment block.
func extractDescription(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") {
			break
		}
		if rest, ok := strings.CutPrefix(line, "-- Description:"); ok {
			if d := strings.TrimSpace(rest); d != "" {
				return d
			}
		}
	}
	return ""
}

// Load scans dir and registers one SQL action per file in reg.
func Load(reg *migration.Registry, dir string) ([]File, error) {
	files, err := NewScanner().ScanDir(dir)
	if err != nil {
		return nil, err
	}
	Register(reg, files)
	return files, nil
}

// Register adds files to reg.
func Register(reg *migration.Registry, files []File) {
	for _, f := range files {
		reg.RegisterInfo(f.Info(), Action(f))
	}
}

// ErrUnterminated reports an unclosed string literal or block comment.
var ErrUnterminated = errors.New("unterminated literal or comment")

// Package version implements the dotted migration version used to key and
// order migrations, e.g. "1.2.3".
package version

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidVersion indicates that a version string could not be parsed.
var ErrInvalidVersion = errors.New("invalid migration version")

// ParseError describes why a version string was rejected.
type ParseError struct {
	Text string // Full input
	Part string // Offending dot-separated component
	Err  error  // Underlying strconv error, if any
}

// Error implements the error interface
func (e *ParseError) Error() string {
	if e.Text == "" {
		return "invalid migration version: empty string"
	}
	if e.Err != nil {
		return fmt.Sprintf("invalid migration version %q: component %q: %v", e.Text, e.Part, e.Err)
	}
	return fmt.Sprintf("invalid migration version %q: component %q", e.Text, e.Part)
}

// Unwrap returns the underlying error
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is reports ErrInvalidVersion for every ParseError.
func (e *ParseError) Is(target error) bool {
	return target == ErrInvalidVersion
}

// Version is an ordered sequence of non-negative integers. The zero value is
// the empty version, which Parse never produces.
type Version struct {
	parts []uint32
}

// New builds a version from its components.
func New(parts ...uint32) Version {
	cp := make([]uint32, len(parts))
	copy(cp, parts)
	return Version{parts: cp}
}

// Parse splits text on '.' and parses every component as a non-negative
// decimal integer. Signs, blanks and empty components are rejected.
func Parse(text string) (Version, error) {
	if text == "" {
		return Version{}, &ParseError{Text: text}
	}
	fields := strings.Split(text, ".")
	parts := make([]uint32, 0, len(fields))
	for _, field := range fields {
		if field == "" || !isDigits(field) {
			return Version{}, &ParseError{Text: text, Part: field}
		}
		n, err := strconv.ParseUint(field, 10, 32)
		if err != nil {
			return Version{}, &ParseError{Text: text, Part: field, Err: err}
		}
		parts = append(parts, uint32(n))
	}
	return Version{parts: parts}, nil
}

// MustParse is like Parse but panics on malformed input.
func MustParse(text string) Version {
	v, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return v
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Compare returns -1, 0 or +1. Components are compared left to right and the
// first difference decides; a strict prefix orders before the longer version.
func Compare(a, b Version) int {
	n := len(a.parts)
	if len(b.parts) < n {
		n = len(b.parts)
	}
	for i := 0; i < n; i++ {
		switch {
		case a.parts[i] < b.parts[i]:
			return -1
		case a.parts[i] > b.parts[i]:
			return 1
		}
	}
	switch {
	case len(a.parts) < len(b.parts):
		return -1
	case len(a.parts) > len(b.parts):
		return 1
	}
	return 0
}

// Compare is the method form of the package-level Compare.
func (v Version) Compare(other Version) int {
	return Compare(v, other)
}

// Less reports whether v orders before other.
func (v Version) Less(other Version) bool {
	return Compare(v, other) < 0
}

// Equal reports whether both versions have identical components.
func (v Version) Equal(other Version) bool {
	return Compare(v, other) == 0
}

// IsZero reports whether v has no components.
func (v Version) IsZero() bool {
	return len(v.parts) == 0
}

// Components returns a copy of the numeric components.
func (v Version) Components() []uint32 {
	cp := make([]uint32, len(v.parts))
	copy(cp, v.parts)
	return cp
}

// String returns the canonical text form, components joined with '.'.
func (v Version) String() string {
	var b strings.Builder
	for i, p := range v.parts {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.FormatUint(uint64(p), 10))
	}
	return b.String()
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Value implements driver.Valuer so versions are stored in canonical text.
func (v Version) Value() (driver.Value, error) {
	return v.String(), nil
}

// Scan implements sql.Scanner.
func (v *Version) Scan(src any) error {
	switch s := src.(type) {
	case string:
		return v.UnmarshalText([]byte(s))
	case []byte:
		return v.UnmarshalText(s)
	case nil:
		return fmt.Errorf("%w: NULL version", ErrInvalidVersion)
	default:
		return fmt.Errorf("%w: cannot scan %T", ErrInvalidVersion, src)
	}
}

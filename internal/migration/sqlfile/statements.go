package sqlfile

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/schema-reconciler/internal/migration"
)

// Action returns a migration.Action executing the statements of f in order.
func Action(f File) migration.Action {
	statements := f.Statements
	return migration.ActionFunc(func(ctx context.Context, tx migration.Transaction) error {
		for i, stmt := range statements {
			if err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("%s statement %d: %w", f.Path, i+1, err)
			}
		}
		return nil
	})
}

// SplitStatements splits sql on semicolons outside quotes and comments and
// drops comments and empty statements. Dollar-quoted bodies ($$...$$ and
// $tag$...$tag$) are literals, and the BEGIN...END body of a CREATE TRIGGER
// statement is kept whole. Unbalanced parentheses, unterminated literals and
// unterminated block comments are errors.
func SplitStatements(sql string) ([]string, error) {
	var (
		statements []string
		current    strings.Builder
		depth      int
		words      int
		create     bool
		trigger    bool
		block      int
	)
	flush := func() error {
		if depth != 0 {
			return fmt.Errorf("%w: unmatched opening parenthesis", migration.ErrInvalidMigrationFile)
		}
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
		words, create, trigger, block = 0, false, false, 0
		return nil
	}

	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				i = len(sql)
			} else {
				i += end - 1
			}
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("%w: %w: block comment", migration.ErrInvalidMigrationFile, ErrUnterminated)
			}
			i += end + 3
			current.WriteByte(' ')
		case c == '\'' || c == '"':
			end := closingQuote(sql, i)
			if end < 0 {
				return nil, fmt.Errorf("%w: %w: string literal", migration.ErrInvalidMigrationFile, ErrUnterminated)
			}
			current.WriteString(sql[i : end+1])
			i = end
		case c == '$' && dollarTag(sql, i) != "":
			end := closingDollar(sql, i)
			if end < 0 {
				return nil, fmt.Errorf("%w: %w: dollar-quoted string", migration.ErrInvalidMigrationFile, ErrUnterminated)
			}
			current.WriteString(sql[i : end+1])
			i = end
		case isWordStart(c):
			end := i + 1
			for end < len(sql) && isWordPart(sql[end]) {
				end++
			}
			word := strings.ToUpper(sql[i:end])
			words++
			switch {
			case words == 1:
				create = word == "CREATE"
			case create && word == "TRIGGER" && words <= 4:
				trigger = true
			case trigger && (word == "BEGIN" || word == "CASE"):
				block++
			case trigger && word == "END" && block > 0:
				block--
			}
			current.WriteString(sql[i:end])
			i = end - 1
		case c == '(':
			depth++
			current.WriteByte(c)
		case c == ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("%w: unmatched closing parenthesis", migration.ErrInvalidMigrationFile)
			}
			current.WriteByte(c)
		case c == ';' && block > 0:
			current.WriteByte(c)
		case c == ';':
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			current.WriteByte(c)
		}
	}
	if block > 0 {
		return nil, fmt.Errorf("%w: %w: trigger body", migration.ErrInvalidMigrationFile, ErrUnterminated)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return statements, nil
}

// closingQuote returns the index of the quote closing the literal opened at
// start. A doubled quote character is an escaped quote.
func closingQuote(sql string, start int) int {
	q := sql[start]
	for i := start + 1; i < len(sql); i++ {
		if sql[i] != q {
			continue
		}
		if i+1 < len(sql) && sql[i+1] == q {
			i++
			continue
		}
		return i
	}
	return -1
}

// dollarTag returns the opening delimiter ("$$" or "$tag$") at start, or ""
// when the dollar sign does not open a dollar-quoted string.
func dollarTag(sql string, start int) string {
	for i := start + 1; i < len(sql); i++ {
		switch c := sql[i]; {
		case c == '$':
			return sql[start : i+1]
		case c == '_' || isLetter(c):
		case c >= '0' && c <= '9' && i > start+1:
		default:
			return ""
		}
	}
	return ""
}

// closingDollar returns the index of the last byte of the delimiter closing
// the dollar-quoted string opened at start.
func closingDollar(sql string, start int) int {
	tag := dollarTag(sql, start)
	end := strings.Index(sql[start+len(tag):], tag)
	if end < 0 {
		return -1
	}
	return start + len(tag) + end + len(tag) - 1
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isWordStart(c byte) bool {
	return c == '_' || isLetter(c)
}

func isWordPart(c byte) bool {
	return isWordStart(c) || c >= '0' && c <= '9' || c == '$'
}

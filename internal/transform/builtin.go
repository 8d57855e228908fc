package transform

import (
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func init() {
	Register(&maskTransformer{})
	Register(&nullTransformer{})
	Register(NewConstant("[REDACTED]"))
	Register(&hashTransformer{})
	Register(&tokenTransformer{})
}

// maskTransformer keeps the first character and replaces the rest with '*'.
// Masking an already-masked value is a no-op, so re-runs are harmless.
type maskTransformer struct{}

func (maskTransformer) Name() string        { return "mask" }
func (maskTransformer) Description() string { return "keep first character, mask the rest with *" }
func (maskTransformer) Idempotent() bool    { return true }

func (maskTransformer) Apply(old sql.NullString) sql.NullString {
	if !old.Valid {
		return old
	}
	runes := []rune(old.String)
	if len(runes) <= 1 {
		return old
	}
	return sql.NullString{String: string(runes[0]) + strings.Repeat("*", len(runes)-1), Valid: true}
}

func (maskTransformer) Expr(dialect, column string) (string, bool) {
	switch dialect {
	case DialectPostgres:
		return fmt.Sprintf("left(%s, 1) || repeat('*', greatest(length(%s) - 1, 0))", column, column), true
	case DialectMSSQL:
		return fmt.Sprintf("LEFT(%s, 1) + REPLICATE('*', CASE WHEN LEN(%s) > 1 THEN LEN(%s) - 1 ELSE 0 END)", column, column, column), true
	}
	return "", false
}

func (maskTransformer) Scrubbed(v sql.NullString) bool {
	if !v.Valid {
		return true
	}
	runes := []rune(v.String)
	if len(runes) <= 1 {
		return true
	}
	for _, r := range runes[1:] {
		if r != '*' {
			return false
		}
	}
	return true
}

// nullTransformer blanks the column entirely.
type nullTransformer struct{}

func (nullTransformer) Name() string        { return "null" }
func (nullTransformer) Description() string { return "set the column to NULL" }
func (nullTransformer) Idempotent() bool    { return true }

func (nullTransformer) Apply(sql.NullString) sql.NullString {
	return sql.NullString{}
}

func (nullTransformer) Expr(dialect, column string) (string, bool) {
	switch dialect {
	case DialectPostgres, DialectMSSQL, DialectSQLite:
		return "NULL", true
	}
	return "", false
}

func (nullTransformer) Scrubbed(v sql.NullString) bool {
	return !v.Valid
}

// constantTransformer replaces every value with a fixed literal.
type constantTransformer struct {
	value string
}

// NewConstant returns a transformer that replaces every non-NULL value
// with the given literal.
func NewConstant(value string) Transformer {
	return &constantTransformer{value: value}
}

func (c *constantTransformer) Name() string { return "constant" }

func (c *constantTransformer) Description() string {
	return "replace every value with a fixed literal"
}

func (c *constantTransformer) Idempotent() bool { return true }

func (c *constantTransformer) Apply(old sql.NullString) sql.NullString {
	if !old.Valid {
		return old
	}
	return sql.NullString{String: c.value, Valid: true}
}

func (c *constantTransformer) Expr(dialect, column string) (string, bool) {
	lit := "'" + strings.ReplaceAll(c.value, "'", "''") + "'"
	switch dialect {
	case DialectPostgres:
		return fmt.Sprintf("CASE WHEN %s IS NULL THEN NULL ELSE %s END", column, lit), true
	case DialectMSSQL:
		return fmt.Sprintf("CASE WHEN %s IS NULL THEN NULL ELSE %s END", column, lit), true
	}
	return "", false
}

func (c *constantTransformer) Scrubbed(v sql.NullString) bool {
	return !v.Valid || v.String == c.value
}

// hashTransformer replaces the value with its md5 hex digest. Hashing a
// hash yields a different digest, so a re-run changes already-scrubbed
// rows again; the output stays anonymized either way.
type hashTransformer struct{}

func (hashTransformer) Name() string        { return "hash" }
func (hashTransformer) Description() string { return "replace the value with its md5 hex digest" }
func (hashTransformer) Idempotent() bool    { return false }

func (hashTransformer) Apply(old sql.NullString) sql.NullString {
	if !old.Valid {
		return old
	}
	sum := md5.Sum([]byte(old.String))
	return sql.NullString{String: hex.EncodeToString(sum[:]), Valid: true}
}

func (hashTransformer) Expr(dialect, column string) (string, bool) {
	switch dialect {
	case DialectPostgres:
		return fmt.Sprintf("md5(%s)", column), true
	case DialectMSSQL:
		return fmt.Sprintf("LOWER(CONVERT(varchar(32), HASHBYTES('MD5', CONVERT(varchar(max), %s)), 2))", column), true
	}
	return "", false
}

func (hashTransformer) Scrubbed(v sql.NullString) bool {
	if !v.Valid {
		return true
	}
	if len(v.String) != 32 {
		return false
	}
	_, err := hex.DecodeString(v.String)
	return err == nil && strings.ToLower(v.String) == v.String
}

// tokenTransformer replaces the value with a random UUID. Not expressible
// as a portable SQL expression, so stores apply it row by row.
type tokenTransformer struct{}

func (tokenTransformer) Name() string        { return "token" }
func (tokenTransformer) Description() string { return "replace the value with a random UUID" }
func (tokenTransformer) Idempotent() bool    { return false }

func (tokenTransformer) Apply(old sql.NullString) sql.NullString {
	if !old.Valid {
		return old
	}
	return sql.NullString{String: uuid.NewString(), Valid: true}
}

func (tokenTransformer) Scrubbed(v sql.NullString) bool {
	if !v.Valid {
		return true
	}
	_, err := uuid.Parse(v.String)
	return err == nil
}

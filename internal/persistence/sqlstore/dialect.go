package sqlstore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"biodb/pkg/domain"
)

// Dialect captures the SQL differences between the supported backends.
type Dialect struct {
	name      string
	driver    string
	dollar    bool
	cascade   bool
	intType   string
	floatType string
}

var (
	// SQLite uses the pure-Go modernc driver.
	SQLite = Dialect{name: "sqlite", driver: "sqlite", intType: "INTEGER", floatType: "REAL"}
	// Postgres uses pgx through database/sql.
	Postgres = Dialect{name: "postgres", driver: "pgx", dollar: true, cascade: true, intType: "BIGINT", floatType: "DOUBLE PRECISION"}
)

// DialectFor resolves a configured driver name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported database driver %q", name)
	}
}

// Name returns the dialect name.
func (d Dialect) Name() string { return d.name }

// DriverName returns the database/sql driver name.
func (d Dialect) DriverName() string { return d.driver }

// SupportsDropCascade reports whether DROP VIEW ... CASCADE removes dependent views.
func (d Dialect) SupportsDropCascade() bool { return d.cascade }

// CastType returns the SQL type numeric values of vt are cast to, or "" when
// values pass through as text.
func (d Dialect) CastType(vt domain.ValueType) string {
	switch vt {
	case domain.ValueInt:
		return d.intType
	case domain.ValueFloat:
		return d.floatType
	default:
		return ""
	}
}

// Rebind rewrites '?' placeholders to '$n' for Postgres. Question marks
// inside single-quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if !d.dollar {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// QuoteLiteral renders s as a single-quoted SQL string literal.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// IsUndefinedRelation reports whether err means a referenced table or view
// does not exist (Postgres 42P01, SQLite "no such table").
func IsUndefinedRelation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42P01"
	}
	return strings.Contains(err.Error(), "no such table") || strings.Contains(err.Error(), "no such view")
}

package sqlstore

import (
	"bufio"
	_ "embed" // schema files
	"strings"
)

var (
	//go:embed sql/sqlite.sql
	sqliteDDL string
	//go:embed sql/postgres.sql
	postgresDDL string
)

// DDL returns the schema script of the dialect.
func (d Dialect) DDL() string {
	if d.name == Postgres.name {
		return postgresDDL
	}
	return sqliteDDL
}

// SplitStatements splits a semicolon-terminated DDL script into executable statements.
// It drops blank lines and single-line comments that start with "--".
func SplitStatements(ddl string) []string {
	scanner := bufio.NewScanner(strings.NewReader(ddl))
	var stmts []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			stmts = append(stmts, strings.TrimSuffix(stmt, ";"))
		}
		current.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()
	return stmts
}

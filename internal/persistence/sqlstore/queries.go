package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"biodb/pkg/domain"
)

// Queries exposes entity persistence over a DBTX (the database or a transaction).
type Queries struct {
	db      DBTX
	dialect Dialect
	now     func() time.Time
}

// Dialect returns the dialect of the underlying store.
func (q *Queries) Dialect() Dialect { return q.dialect }

func (q *Queries) timestamp() time.Time {
	return q.now().UTC().Truncate(time.Microsecond)
}

func (q *Queries) stamp(d *domain.Dated) {
	now := q.timestamp()
	d.CreatedAt = now
	d.UpdatedAt = now
}

// Exec runs a statement written with '?' placeholders.
func (q *Queries) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.db.ExecContext(ctx, q.dialect.Rebind(query), args...)
}

// Query runs a query written with '?' placeholders.
func (q *Queries) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, q.dialect.Rebind(query), args...)
}

// QueryRow runs a single-row query written with '?' placeholders.
func (q *Queries) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.db.QueryRowContext(ctx, q.dialect.Rebind(query), args...)
}

// insertID runs an INSERT ... RETURNING id statement.
func (q *Queries) insertID(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	if err := q.QueryRow(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func notFound(err error, entity domain.EntityType, key any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", entity, key, ErrNotFound)
	}
	return err
}

// countable whitelists the tables Count accepts.
var countable = map[string]struct{}{
	"center": {}, "patient": {}, "visit": {}, "biosample": {}, "biosample_type": {},
	"measurement_type": {}, "instrument": {}, "array_data": {}, "observable": {},
	"observation": {}, "qc_annotator": {}, "qc_annotation": {},
}

// Count returns the number of rows in one of the entity tables.
func (q *Queries) Count(ctx context.Context, table string) (int64, error) {
	if _, ok := countable[table]; !ok {
		return 0, fmt.Errorf("count: unknown table %q", table)
	}
	var n int64
	if err := q.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

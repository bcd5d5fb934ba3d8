// Package views maintains SQL views over the entity graph. A view declares
// its direct dependencies; Update recreates the dependency chain and the view
// inside one transaction and queries the result once.
package views

import (
	"context"
	"fmt"
	"regexp"

	"github.com/rs/zerolog"

	"biodb/internal/metrics"
	"biodb/internal/persistence/sqlstore"
	"biodb/pkg/domain"
)

// View is a named SQL view. Dependencies lists direct dependencies only.
type View interface {
	Name() string
	Dependencies() []View
	SQL(ctx context.Context, q *sqlstore.Queries) (string, error)
}

var namePattern = regexp.MustCompile(`^[A-Za-z_]+$`)

// CheckName rejects any name that is interpolated into SQL text and is not
// made only of ASCII letters and underscores.
func CheckName(name string) error {
	if !namePattern.MatchString(name) {
		return domain.ErrSecurity.New("%q is not a safe SQL name: only [A-Za-z_] is allowed", name)
	}
	return nil
}

// Engine creates and drops views.
type Engine struct {
	store   *sqlstore.Store
	log     zerolog.Logger
	metrics *metrics.Collector
}

// NewEngine constructs an engine. m may be nil.
func NewEngine(store *sqlstore.Store, log zerolog.Logger, m *metrics.Collector) *Engine {
	return &Engine{store: store, log: log, metrics: m}
}

// Update recreates the dependencies of view and then view in one
// transaction and queries the new definition once. A failure rolls the whole
// call back to the state committed before it started.
func (e *Engine) Update(ctx context.Context, view View) error {
	if err := checkTree(view); err != nil {
		e.metrics.ObserveView(view.Name(), metrics.OutcomeFailed)
		return err
	}
	cascade := e.store.Dialect().SupportsDropCascade()
	err := e.store.RunInTransaction(ctx, func(q *sqlstore.Queries) error {
		if !cascade {
			if err := e.drop(ctx, q, view, true); err != nil {
				return err
			}
		}
		if err := e.create(ctx, q, view); err != nil {
			return err
		}
		return selectOne(ctx, q, view.Name())
	})
	if err != nil {
		e.metrics.ObserveView(view.Name(), metrics.OutcomeFailed)
		return fmt.Errorf("update view %s: %w", view.Name(), err)
	}
	e.metrics.ObserveView(view.Name(), metrics.OutcomeCommitted)
	return nil
}

// UpdateAll refreshes views. A view that is a dependency of another view
// in the set is refreshed through that view rather than on its own.
func (e *Engine) UpdateAll(ctx context.Context, views ...View) error {
	deps := map[string]struct{}{}
	for _, v := range views {
		for _, dep := range v.Dependencies() {
			markTree(dep, deps)
		}
	}
	done := map[string]struct{}{}
	for _, v := range views {
		if _, ok := deps[v.Name()]; ok {
			continue
		}
		if _, ok := done[v.Name()]; ok {
			continue
		}
		if err := e.Update(ctx, v); err != nil {
			return err
		}
		done[v.Name()] = struct{}{}
	}
	return nil
}

// WithDependents returns selected plus every view in known that depends on
// a selected view. Passing the result to UpdateAll rebuilds dependents that a
// cascading drop removes along with their dependency.
func WithDependents(known []View, selected ...View) []View {
	want := make(map[string]struct{}, len(selected))
	for _, v := range selected {
		want[v.Name()] = struct{}{}
	}
	out := append([]View(nil), selected...)
	for _, k := range known {
		if _, ok := want[k.Name()]; ok {
			continue
		}
		tree := map[string]struct{}{}
		for _, dep := range k.Dependencies() {
			markTree(dep, tree)
		}
		for name := range want {
			if _, ok := tree[name]; ok {
				out = append(out, k)
				break
			}
		}
	}
	return out
}

// Drop removes view and, when recursive, its dependencies.
func (e *Engine) Drop(ctx context.Context, view View, recursive bool) error {
	if err := checkTree(view); err != nil {
		return err
	}
	return e.store.RunInTransaction(ctx, func(q *sqlstore.Queries) error {
		return e.drop(ctx, q, view, recursive)
	})
}

// Exists reports whether view can currently be queried.
func (e *Engine) Exists(ctx context.Context, view View) (bool, error) {
	if err := CheckName(view.Name()); err != nil {
		return false, err
	}
	err := selectOne(ctx, e.store.Queries(), view.Name())
	switch {
	case err == nil:
		return true, nil
	case sqlstore.IsUndefinedRelation(err):
		return false, nil
	default:
		return false, err
	}
}

// drop removes view before its dependencies, children before parents.
func (e *Engine) drop(ctx context.Context, q *sqlstore.Queries, view View, recursive bool) error {
	if err := e.exec(ctx, q, e.dropStatement(view.Name())); err != nil {
		return err
	}
	if !recursive {
		return nil
	}
	for _, dep := range view.Dependencies() {
		if err := e.drop(ctx, q, dep, true); err != nil {
			return err
		}
	}
	return nil
}

// create builds the dependencies of view, then view.
func (e *Engine) create(ctx context.Context, q *sqlstore.Queries, view View) error {
	for _, dep := range view.Dependencies() {
		if err := e.create(ctx, q, dep); err != nil {
			return err
		}
	}
	body, err := view.SQL(ctx, q)
	if err != nil {
		return err
	}
	if err := e.exec(ctx, q, e.dropStatement(view.Name())); err != nil {
		return err
	}
	return e.exec(ctx, q, fmt.Sprintf("CREATE VIEW %s AS %s", view.Name(), body))
}

func (e *Engine) dropStatement(name string) string {
	stmt := "DROP VIEW IF EXISTS " + name
	if e.store.Dialect().SupportsDropCascade() {
		stmt += " CASCADE"
	}
	return stmt
}

func (e *Engine) exec(ctx context.Context, q *sqlstore.Queries, stmt string) error {
	e.log.Debug().Str("sql", stmt).Msg("view statement")
	if _, err := q.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("%s: %w", firstLine(stmt), err)
	}
	return nil
}

// selectOne runs a bounded query to surface definition errors immediately.
func selectOne(ctx context.Context, q *sqlstore.Queries, name string) error {
	rows, err := q.Query(ctx, "SELECT * FROM "+name+" LIMIT 1")
	if err != nil {
		return err
	}
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	return rows.Close()
}

func checkTree(view View) error {
	if err := CheckName(view.Name()); err != nil {
		return err
	}
	for _, dep := range view.Dependencies() {
		if err := checkTree(dep); err != nil {
			return err
		}
	}
	return nil
}

func markTree(view View, done map[string]struct{}) {
	done[view.Name()] = struct{}{}
	for _, dep := range view.Dependencies() {
		markTree(dep, done)
	}
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	if len(s) > 80 {
		return s[:80]
	}
	return s
}

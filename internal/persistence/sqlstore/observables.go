package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"biodb/pkg/domain"
)

const observableColumns = "id, name, alias, category, value_type, description, choices, validator_key, created_at, updated_at"

// CreateObservable inserts an observable and its center visibility set.
func (q *Queries) CreateObservable(ctx context.Context, o domain.Observable) (domain.Observable, error) {
	if o.Alias == "" {
		o.Alias = o.Name
	}
	choices, err := json.Marshal(append([]string{}, o.Choices...))
	if err != nil {
		return domain.Observable{}, fmt.Errorf("encode choices: %w", err)
	}
	q.stamp(&o.Dated)
	id, err := q.insertID(ctx, "INSERT INTO observable (name, alias, category, value_type, description, choices, validator_key, created_at, updated_at) "+
		"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		o.Name, o.Alias, string(o.Category), string(o.ValueType), o.Description, string(choices), nullString(o.ValidatorKey), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return domain.Observable{}, fmt.Errorf("insert observable: %w", err)
	}
	o.ID = id
	if err := q.SetObservableCenters(ctx, id, o.CenterIDs); err != nil {
		return domain.Observable{}, err
	}
	return o, nil
}

// SetObservableCenters replaces the visibility set of an observable. An
// empty set makes it global.
func (q *Queries) SetObservableCenters(ctx context.Context, id int64, centers []uuid.UUID) error {
	if _, err := q.Exec(ctx, "DELETE FROM observable_center WHERE observable_id = ?", id); err != nil {
		return fmt.Errorf("clear observable centers: %w", err)
	}
	for _, c := range centers {
		if _, err := q.Exec(ctx, "INSERT INTO observable_center (observable_id, center_id) VALUES (?, ?)", id, c); err != nil {
			return fmt.Errorf("link observable %d to center %s: %w", id, c, err)
		}
	}
	return nil
}

// GetObservable loads an observable and its center set by ID.
func (q *Queries) GetObservable(ctx context.Context, id int64) (domain.Observable, error) {
	o, err := scanObservable(q.QueryRow(ctx, "SELECT "+observableColumns+" FROM observable WHERE id = ?", id))
	if err != nil {
		return domain.Observable{}, notFound(err, domain.EntityObservable, id)
	}
	o.CenterIDs, err = q.observableCenters(ctx, o.ID)
	if err != nil {
		return domain.Observable{}, err
	}
	return o, nil
}

// GetObservableByName resolves an observable by case-insensitive name.
func (q *Queries) GetObservableByName(ctx context.Context, name string) (domain.Observable, error) {
	o, err := scanObservable(q.QueryRow(ctx, "SELECT "+observableColumns+" FROM observable WHERE lower(name) = lower(?)", name))
	if err != nil {
		return domain.Observable{}, notFound(err, domain.EntityObservable, name)
	}
	o.CenterIDs, err = q.observableCenters(ctx, o.ID)
	if err != nil {
		return domain.Observable{}, err
	}
	return o, nil
}

// ListObservables returns every observable with its center set, ordered by
// category then name.
func (q *Queries) ListObservables(ctx context.Context) ([]domain.Observable, error) {
	rows, err := q.Query(ctx, "SELECT "+observableColumns+" FROM observable ORDER BY category, name")
	if err != nil {
		return nil, fmt.Errorf("list observables: %w", err)
	}
	var out []domain.Observable
	for rows.Next() {
		o, err := scanObservable(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// the SQLite pool holds one connection, so centers are read after rows are closed
	links, err := q.allObservableCenters(ctx)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].CenterIDs = links[out[i].ID]
	}
	return out, nil
}

func (q *Queries) observableCenters(ctx context.Context, id int64) ([]uuid.UUID, error) {
	rows, err := q.Query(ctx, "SELECT center_id FROM observable_center WHERE observable_id = ? ORDER BY center_id", id)
	if err != nil {
		return nil, fmt.Errorf("list observable centers: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []uuid.UUID
	for rows.Next() {
		var c uuid.UUID
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *Queries) allObservableCenters(ctx context.Context) (map[int64][]uuid.UUID, error) {
	rows, err := q.Query(ctx, "SELECT observable_id, center_id FROM observable_center ORDER BY observable_id, center_id")
	if err != nil {
		return nil, fmt.Errorf("list observable centers: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make(map[int64][]uuid.UUID)
	for rows.Next() {
		var id int64
		var c uuid.UUID
		if err := rows.Scan(&id, &c); err != nil {
			return nil, err
		}
		out[id] = append(out[id], c)
	}
	return out, rows.Err()
}

func scanObservable(s scanner) (domain.Observable, error) {
	var o domain.Observable
	var category, valueType, choices string
	var validator sql.NullString
	var created, updated timestamp
	if err := s.Scan(&o.ID, &o.Name, &o.Alias, &category, &valueType, &o.Description, &choices, &validator, &created, &updated); err != nil {
		return domain.Observable{}, err
	}
	o.Category, o.ValueType = domain.Category(category), domain.ValueType(valueType)
	if choices != "" {
		if err := json.Unmarshal([]byte(choices), &o.Choices); err != nil {
			return domain.Observable{}, fmt.Errorf("observable %d choices: %w", o.ID, err)
		}
	}
	if len(o.Choices) == 0 {
		o.Choices = nil
	}
	o.ValidatorKey = strPtr(validator)
	o.CreatedAt, o.UpdatedAt = created.Time, updated.Time
	return o, nil
}

const observationColumns = "id, visit_id, observable_id, value, created_at, updated_at"

// CreateObservation inserts one visit value. A second value for the same
// visit and observable violates the unique constraint.
func (q *Queries) CreateObservation(ctx context.Context, o domain.Observation) (domain.Observation, error) {
	q.stamp(&o.Dated)
	id, err := q.insertID(ctx, "INSERT INTO observation (visit_id, observable_id, value, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		o.VisitID, o.ObservableID, o.Value, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("insert observation: %w", err)
	}
	o.ID = id
	return o, nil
}

// GetObservation loads the value recorded for observable at visit.
func (q *Queries) GetObservation(ctx context.Context, visit, observable int64) (domain.Observation, error) {
	o, err := scanObservation(q.QueryRow(ctx, "SELECT "+observationColumns+" FROM observation WHERE visit_id = ? AND observable_id = ?", visit, observable))
	if err != nil {
		return domain.Observation{}, notFound(err, domain.EntityObservation, fmt.Sprintf("%d/%d", visit, observable))
	}
	return o, nil
}

// ListObservations returns the observations recorded at a visit.
func (q *Queries) ListObservations(ctx context.Context, visit int64) ([]domain.Observation, error) {
	rows, err := q.Query(ctx, "SELECT "+observationColumns+" FROM observation WHERE visit_id = ? ORDER BY observable_id", visit)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanObservation(s scanner) (domain.Observation, error) {
	var o domain.Observation
	var created, updated timestamp
	if err := s.Scan(&o.ID, &o.VisitID, &o.ObservableID, &o.Value, &created, &updated); err != nil {
		return domain.Observation{}, err
	}
	o.CreatedAt, o.UpdatedAt = created.Time, updated.Time
	return o, nil
}

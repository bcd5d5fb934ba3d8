package sqlstore

import (
	"context"
	"fmt"

	"biodb/pkg/domain"
)

const annotatorColumns = "id, name, key, value_type, is_default, created_at, updated_at"

// CreateQCAnnotator declares an annotator bound to a registry key.
func (q *Queries) CreateQCAnnotator(ctx context.Context, a domain.QCAnnotator) (domain.QCAnnotator, error) {
	q.stamp(&a.Dated)
	id, err := q.insertID(ctx, "INSERT INTO qc_annotator (name, key, value_type, is_default, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		a.Name, a.Key, string(a.ValueType), a.Default, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return domain.QCAnnotator{}, fmt.Errorf("insert qc annotator: %w", err)
	}
	a.ID = id
	return a, nil
}

// GetQCAnnotator loads an annotator by name.
func (q *Queries) GetQCAnnotator(ctx context.Context, name string) (domain.QCAnnotator, error) {
	a, err := scanAnnotator(q.QueryRow(ctx, "SELECT "+annotatorColumns+" FROM qc_annotator WHERE name = ?", name))
	if err != nil {
		return domain.QCAnnotator{}, notFound(err, domain.EntityQCAnnotator, name)
	}
	return a, nil
}

// GetQCAnnotatorByID loads an annotator by ID.
func (q *Queries) GetQCAnnotatorByID(ctx context.Context, id int64) (domain.QCAnnotator, error) {
	a, err := scanAnnotator(q.QueryRow(ctx, "SELECT "+annotatorColumns+" FROM qc_annotator WHERE id = ?", id))
	if err != nil {
		return domain.QCAnnotator{}, notFound(err, domain.EntityQCAnnotator, id)
	}
	return a, nil
}

// ListQCAnnotators returns all annotators, or only the defaults.
func (q *Queries) ListQCAnnotators(ctx context.Context, defaultsOnly bool) ([]domain.QCAnnotator, error) {
	query := "SELECT " + annotatorColumns + " FROM qc_annotator"
	var args []any
	if defaultsOnly {
		query += " WHERE is_default = ?"
		args = append(args, true)
	}
	rows, err := q.Query(ctx, query+" ORDER BY name", args...)
	if err != nil {
		return nil, fmt.Errorf("list qc annotators: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.QCAnnotator
	for rows.Next() {
		a, err := scanAnnotator(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAnnotator(s scanner) (domain.QCAnnotator, error) {
	var a domain.QCAnnotator
	var valueType string
	var created, updated timestamp
	if err := s.Scan(&a.ID, &a.Name, &a.Key, &valueType, &a.Default, &created, &updated); err != nil {
		return domain.QCAnnotator{}, err
	}
	a.ValueType = domain.ValueType(valueType)
	a.CreatedAt, a.UpdatedAt = created.Time, updated.Time
	return a, nil
}

const annotationColumns = "id, annotator_id, array_data_id, value, created_at, updated_at"

// UpsertQCAnnotation stores the value of annotator on a record, replacing
// any previous value while keeping the original created_at.
func (q *Queries) UpsertQCAnnotation(ctx context.Context, a domain.QCAnnotation) (domain.QCAnnotation, error) {
	existing, err := q.GetQCAnnotation(ctx, a.AnnotatorID, a.ArrayDataID)
	switch {
	case err == nil:
		existing.Value = a.Value
		existing.UpdatedAt = q.timestamp()
		if _, err := q.Exec(ctx, "UPDATE qc_annotation SET value = ?, updated_at = ? WHERE id = ?", existing.Value, existing.UpdatedAt, existing.ID); err != nil {
			return domain.QCAnnotation{}, fmt.Errorf("update qc annotation: %w", err)
		}
		return existing, nil
	case isNotFound(err):
	default:
		return domain.QCAnnotation{}, err
	}
	q.stamp(&a.Dated)
	id, err := q.insertID(ctx, "INSERT INTO qc_annotation (annotator_id, array_data_id, value, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		a.AnnotatorID, a.ArrayDataID, a.Value, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return domain.QCAnnotation{}, fmt.Errorf("insert qc annotation: %w", err)
	}
	a.ID = id
	return a, nil
}

// GetQCAnnotation loads the annotation of annotator on a record.
func (q *Queries) GetQCAnnotation(ctx context.Context, annotator, arrayData int64) (domain.QCAnnotation, error) {
	a, err := scanAnnotation(q.QueryRow(ctx, "SELECT "+annotationColumns+" FROM qc_annotation WHERE annotator_id = ? AND array_data_id = ?", annotator, arrayData))
	if err != nil {
		return domain.QCAnnotation{}, notFound(err, domain.EntityQCAnnotation, fmt.Sprintf("%d/%d", annotator, arrayData))
	}
	return a, nil
}

// ListQCAnnotations returns the annotations recorded for a measurement record.
func (q *Queries) ListQCAnnotations(ctx context.Context, arrayData int64) ([]domain.QCAnnotation, error) {
	rows, err := q.Query(ctx, "SELECT "+annotationColumns+" FROM qc_annotation WHERE array_data_id = ? ORDER BY annotator_id", arrayData)
	if err != nil {
		return nil, fmt.Errorf("list qc annotations: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.QCAnnotation
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAnnotation(s scanner) (domain.QCAnnotation, error) {
	var a domain.QCAnnotation
	var created, updated timestamp
	if err := s.Scan(&a.ID, &a.AnnotatorID, &a.ArrayDataID, &a.Value, &created, &updated); err != nil {
		return domain.QCAnnotation{}, err
	}
	a.CreatedAt, a.UpdatedAt = created.Time, updated.Time
	return a, nil
}

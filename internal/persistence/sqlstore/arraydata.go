package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"biodb/pkg/domain"
)

const arrayDataColumns = "id, bio_sample_id, instrument_id, measurement_type_id, acquisition_time, n_coadditions, resolution, " +
	"power, temperature, pressure, humidity, date_measured, data_key, created_at, updated_at"

// CreateArrayData inserts a measurement record. DataKey is normally empty
// here and set by UpdateArrayDataKey once the artifact is written.
func (q *Queries) CreateArrayData(ctx context.Context, a domain.ArrayData) (domain.ArrayData, error) {
	q.stamp(&a.Dated)
	id, err := q.insertID(ctx, "INSERT INTO array_data (bio_sample_id, instrument_id, measurement_type_id, acquisition_time, n_coadditions, resolution, "+
		"power, temperature, pressure, humidity, date_measured, data_key, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		a.BioSampleID, a.InstrumentID, a.MeasurementTypeID, nullInt(a.AcquisitionTime), nullInt(a.NCoadditions), nullInt(a.Resolution),
		nullFloat(a.Power), nullFloat(a.Temperature), nullFloat(a.Pressure), nullFloat(a.Humidity), nullTime(a.DateMeasured),
		a.DataKey, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return domain.ArrayData{}, fmt.Errorf("insert array data: %w", err)
	}
	a.ID = id
	return a, nil
}

// UpdateArrayDataKey records the artifact key of a measurement.
func (q *Queries) UpdateArrayDataKey(ctx context.Context, id int64, key string) error {
	res, err := q.Exec(ctx, "UPDATE array_data SET data_key = ?, updated_at = ? WHERE id = ?", key, q.timestamp(), id)
	if err != nil {
		return fmt.Errorf("update array data: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("array_data %d: %w", id, ErrNotFound)
	}
	return nil
}

// GetArrayData loads a measurement record by ID.
func (q *Queries) GetArrayData(ctx context.Context, id int64) (domain.ArrayData, error) {
	a, err := scanArrayData(q.QueryRow(ctx, "SELECT "+arrayDataColumns+" FROM array_data WHERE id = ?", id))
	if err != nil {
		return domain.ArrayData{}, notFound(err, domain.EntityArrayData, id)
	}
	return a, nil
}

// ListArrayData returns every measurement record ordered by ID.
func (q *Queries) ListArrayData(ctx context.Context) ([]domain.ArrayData, error) {
	rows, err := q.Query(ctx, "SELECT "+arrayDataColumns+" FROM array_data ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list array data: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.ArrayData
	for rows.Next() {
		a, err := scanArrayData(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListDataKeys returns the set of non-empty artifact keys referenced by array_data.
func (q *Queries) ListDataKeys(ctx context.Context) (map[string]struct{}, error) {
	rows, err := q.Query(ctx, "SELECT data_key FROM array_data WHERE data_key <> ''")
	if err != nil {
		return nil, fmt.Errorf("list data keys: %w", err)
	}
	defer func() { _ = rows.Close() }()
	keys := make(map[string]struct{})
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys[k] = struct{}{}
	}
	return keys, rows.Err()
}

// DeleteArrayData removes a measurement record and its annotations.
func (q *Queries) DeleteArrayData(ctx context.Context, id int64) (bool, error) {
	res, err := q.Exec(ctx, "DELETE FROM array_data WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete array data: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ArrayDataPatient returns the patient owning a measurement record, following
// array_data -> biosample -> visit.
func (q *Queries) ArrayDataPatient(ctx context.Context, id int64) (uuid.UUID, error) {
	var patient uuid.UUID
	err := q.QueryRow(ctx, "SELECT v.patient_id FROM array_data a "+
		"JOIN biosample b ON b.id = a.bio_sample_id JOIN visit v ON v.id = b.visit_id WHERE a.id = ?", id).Scan(&patient)
	if err != nil {
		return uuid.Nil, notFound(err, domain.EntityArrayData, id)
	}
	return patient, nil
}

func scanArrayData(s scanner) (domain.ArrayData, error) {
	var a domain.ArrayData
	var acq, coadd, res sql.NullInt64
	var power, temp, pressure, humidity sql.NullFloat64
	var measured, created, updated timestamp
	err := s.Scan(&a.ID, &a.BioSampleID, &a.InstrumentID, &a.MeasurementTypeID, &acq, &coadd, &res,
		&power, &temp, &pressure, &humidity, &measured, &a.DataKey, &created, &updated)
	if err != nil {
		return domain.ArrayData{}, err
	}
	a.AcquisitionTime, a.NCoadditions, a.Resolution = intPtr(acq), intPtr(coadd), intPtr(res)
	a.Power, a.Temperature, a.Pressure, a.Humidity = floatPtr(power), floatPtr(temp), floatPtr(pressure), floatPtr(humidity)
	a.DateMeasured = measured.ptr()
	a.CreatedAt, a.UpdatedAt = created.Time, updated.Time
	return a, nil
}

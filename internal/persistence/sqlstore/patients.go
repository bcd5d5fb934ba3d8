package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"biodb/pkg/domain"
)

const patientColumns = "patient_id, patient_cid, center_id, created_at, updated_at"

// CreatePatient inserts p, assigning an ID when p.ID is zero.
func (q *Queries) CreatePatient(ctx context.Context, p domain.Patient) (domain.Patient, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	q.stamp(&p.Dated)
	_, err := q.Exec(ctx, "INSERT INTO patient ("+patientColumns+") VALUES (?, ?, ?, ?, ?)",
		p.ID, nullString(p.CID), p.CenterID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return domain.Patient{}, fmt.Errorf("insert patient: %w", err)
	}
	return p, nil
}

// GetPatient loads a patient by ID.
func (q *Queries) GetPatient(ctx context.Context, id uuid.UUID) (domain.Patient, error) {
	p, err := scanPatient(q.QueryRow(ctx, "SELECT "+patientColumns+" FROM patient WHERE patient_id = ?", id))
	if err != nil {
		return domain.Patient{}, notFound(err, domain.EntityPatient, id)
	}
	return p, nil
}

// FindPatientByCID loads the patient holding cid at center.
func (q *Queries) FindPatientByCID(ctx context.Context, center uuid.UUID, cid string) (domain.Patient, error) {
	p, err := scanPatient(q.QueryRow(ctx, "SELECT "+patientColumns+" FROM patient WHERE center_id = ? AND patient_cid = ?", center, cid))
	if err != nil {
		return domain.Patient{}, notFound(err, domain.EntityPatient, cid)
	}
	return p, nil
}

// ListPatients returns the patients of a center (all centers when center is uuid.Nil).
func (q *Queries) ListPatients(ctx context.Context, center uuid.UUID) ([]domain.Patient, error) {
	query := "SELECT " + patientColumns + " FROM patient"
	var args []any
	if center != uuid.Nil {
		query += " WHERE center_id = ?"
		args = append(args, center)
	}
	rows, err := q.Query(ctx, query+" ORDER BY created_at, patient_id", args...)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePatient removes a patient and, by cascade, its visits and
// everything recorded during them.
func (q *Queries) DeletePatient(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := q.Exec(ctx, "DELETE FROM patient WHERE patient_id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete patient: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func scanPatient(s scanner) (domain.Patient, error) {
	var p domain.Patient
	var cid sql.NullString
	var created, updated timestamp
	if err := s.Scan(&p.ID, &cid, &p.CenterID, &created, &updated); err != nil {
		return domain.Patient{}, err
	}
	p.CID = strPtr(cid)
	p.CreatedAt, p.UpdatedAt = created.Time, updated.Time
	return p, nil
}

const visitColumns = "id, patient_id, previous_visit_id, created_at, updated_at"

// CreateVisit inserts v and returns it with its assigned ID.
func (q *Queries) CreateVisit(ctx context.Context, v domain.Visit) (domain.Visit, error) {
	q.stamp(&v.Dated)
	id, err := q.insertID(ctx, "INSERT INTO visit (patient_id, previous_visit_id, created_at, updated_at) VALUES (?, ?, ?, ?)",
		v.PatientID, nullInt(v.PreviousVisitID), v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return domain.Visit{}, fmt.Errorf("insert visit: %w", err)
	}
	v.ID = id
	return v, nil
}

// SetPreviousVisit updates the previous-visit link of a visit.
func (q *Queries) SetPreviousVisit(ctx context.Context, id int64, previous *int64) error {
	res, err := q.Exec(ctx, "UPDATE visit SET previous_visit_id = ?, updated_at = ? WHERE id = ?", nullInt(previous), q.timestamp(), id)
	if err != nil {
		return fmt.Errorf("update visit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("visit %d: %w", id, ErrNotFound)
	}
	return nil
}

// GetVisit loads a visit by ID.
func (q *Queries) GetVisit(ctx context.Context, id int64) (domain.Visit, error) {
	v, err := scanVisit(q.QueryRow(ctx, "SELECT "+visitColumns+" FROM visit WHERE id = ?", id))
	if err != nil {
		return domain.Visit{}, notFound(err, domain.EntityVisit, id)
	}
	return v, nil
}

// ListVisits returns the visits of a patient ordered by creation.
func (q *Queries) ListVisits(ctx context.Context, patient uuid.UUID) ([]domain.Visit, error) {
	rows, err := q.Query(ctx, "SELECT "+visitColumns+" FROM visit WHERE patient_id = ? ORDER BY created_at, id", patient)
	if err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanVisit(s scanner) (domain.Visit, error) {
	var v domain.Visit
	var prev sql.NullInt64
	var created, updated timestamp
	if err := s.Scan(&v.ID, &v.PatientID, &prev, &created, &updated); err != nil {
		return domain.Visit{}, err
	}
	v.PreviousVisitID = intPtr(prev)
	v.CreatedAt, v.UpdatedAt = created.Time, updated.Time
	return v, nil
}

package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"biodb/pkg/domain"
)

// CreateBioSampleType inserts a named sample type.
func (q *Queries) CreateBioSampleType(ctx context.Context, name string) (domain.BioSampleType, error) {
	t := domain.BioSampleType{Name: strings.TrimSpace(name)}
	q.stamp(&t.Dated)
	id, err := q.insertID(ctx, "INSERT INTO biosample_type (name, created_at, updated_at) VALUES (?, ?, ?)", t.Name, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return domain.BioSampleType{}, fmt.Errorf("insert biosample type: %w", err)
	}
	t.ID = id
	return t, nil
}

// FindBioSampleType resolves a sample type by case-insensitive name.
func (q *Queries) FindBioSampleType(ctx context.Context, name string) (domain.BioSampleType, error) {
	var t domain.BioSampleType
	var created, updated timestamp
	err := q.QueryRow(ctx, "SELECT id, name, created_at, updated_at FROM biosample_type WHERE lower(name) = lower(?)", strings.TrimSpace(name)).
		Scan(&t.ID, &t.Name, &created, &updated)
	if err != nil {
		return domain.BioSampleType{}, notFound(err, domain.EntityBioSampleType, name)
	}
	t.CreatedAt, t.UpdatedAt = created.Time, updated.Time
	return t, nil
}

const bioSampleColumns = "id, visit_id, sample_type_id, sample_processing, sample_extraction, sample_extraction_tube, " +
	"freezing_temp, thawing_time, centrifuge_time, centrifuge_rpm, created_at, updated_at"

// CreateBioSample inserts b and returns it with its assigned ID.
func (q *Queries) CreateBioSample(ctx context.Context, b domain.BioSample) (domain.BioSample, error) {
	q.stamp(&b.Dated)
	id, err := q.insertID(ctx, "INSERT INTO biosample (visit_id, sample_type_id, sample_processing, sample_extraction, sample_extraction_tube, "+
		"freezing_temp, thawing_time, centrifuge_time, centrifuge_rpm, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		b.VisitID, b.SampleTypeID, nullString(b.SampleProcessing), nullString(b.SampleExtraction), nullString(b.SampleExtractionTube),
		nullFloat(b.FreezingTemp), nullInt(b.ThawingTime), nullInt(b.CentrifugeTime), nullInt(b.CentrifugeRPM), b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return domain.BioSample{}, fmt.Errorf("insert biosample: %w", err)
	}
	b.ID = id
	return b, nil
}

// GetBioSample loads a biosample by ID.
func (q *Queries) GetBioSample(ctx context.Context, id int64) (domain.BioSample, error) {
	var b domain.BioSample
	var processing, extraction, tube sql.NullString
	var freezing sql.NullFloat64
	var thawing, centrifuge, rpm sql.NullInt64
	var created, updated timestamp
	err := q.QueryRow(ctx, "SELECT "+bioSampleColumns+" FROM biosample WHERE id = ?", id).Scan(
		&b.ID, &b.VisitID, &b.SampleTypeID, &processing, &extraction, &tube,
		&freezing, &thawing, &centrifuge, &rpm, &created, &updated)
	if err != nil {
		return domain.BioSample{}, notFound(err, domain.EntityBioSample, id)
	}
	b.SampleProcessing, b.SampleExtraction, b.SampleExtractionTube = strPtr(processing), strPtr(extraction), strPtr(tube)
	b.FreezingTemp = floatPtr(freezing)
	b.ThawingTime, b.CentrifugeTime, b.CentrifugeRPM = intPtr(thawing), intPtr(centrifuge), intPtr(rpm)
	b.CreatedAt, b.UpdatedAt = created.Time, updated.Time
	return b, nil
}

// CreateMeasurementType inserts a named measurement technique.
func (q *Queries) CreateMeasurementType(ctx context.Context, name string) (domain.MeasurementType, error) {
	m := domain.MeasurementType{Name: strings.TrimSpace(name)}
	q.stamp(&m.Dated)
	id, err := q.insertID(ctx, "INSERT INTO measurement_type (name, created_at, updated_at) VALUES (?, ?, ?)", m.Name, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return domain.MeasurementType{}, fmt.Errorf("insert measurement type: %w", err)
	}
	m.ID = id
	return m, nil
}

// FindMeasurementType resolves a measurement type by case-insensitive name.
func (q *Queries) FindMeasurementType(ctx context.Context, name string) (domain.MeasurementType, error) {
	var m domain.MeasurementType
	var created, updated timestamp
	err := q.QueryRow(ctx, "SELECT id, name, created_at, updated_at FROM measurement_type WHERE lower(name) = lower(?)", strings.TrimSpace(name)).
		Scan(&m.ID, &m.Name, &created, &updated)
	if err != nil {
		return domain.MeasurementType{}, notFound(err, domain.EntityMeasurementType, name)
	}
	m.CreatedAt, m.UpdatedAt = created.Time, updated.Time
	return m, nil
}

const instrumentColumns = "id, cid, manufacturer, model, serial_number, center_id, created_at, updated_at"

// CreateInstrument inserts an instrument, assigning an ID when i.ID is zero.
func (q *Queries) CreateInstrument(ctx context.Context, i domain.Instrument) (domain.Instrument, error) {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	q.stamp(&i.Dated)
	_, err := q.Exec(ctx, "INSERT INTO instrument ("+instrumentColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		i.ID, i.CID, i.Manufacturer, i.Model, i.SerialNumber, nullUUID(i.CenterID), i.CreatedAt, i.UpdatedAt)
	if err != nil {
		return domain.Instrument{}, fmt.Errorf("insert instrument: %w", err)
	}
	return i, nil
}

// GetInstrument loads an instrument by ID.
func (q *Queries) GetInstrument(ctx context.Context, id uuid.UUID) (domain.Instrument, error) {
	var i domain.Instrument
	var center uuid.NullUUID
	var created, updated timestamp
	err := q.QueryRow(ctx, "SELECT "+instrumentColumns+" FROM instrument WHERE id = ?", id).Scan(
		&i.ID, &i.CID, &i.Manufacturer, &i.Model, &i.SerialNumber, &center, &created, &updated)
	if err != nil {
		return domain.Instrument{}, notFound(err, domain.EntityInstrument, id)
	}
	i.CenterID = uuidPtr(center)
	i.CreatedAt, i.UpdatedAt = created.Time, updated.Time
	return i, nil
}

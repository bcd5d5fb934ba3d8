package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"biodb/internal/artifact"
	"biodb/internal/core"
	"biodb/internal/persistence/sqlstore"
	"biodb/internal/schema"
	"biodb/internal/tabular"
	"biodb/pkg/domain"
)

// batch carries the state of one Ingest call.
type batch struct {
	engine      *Engine
	tracker     *artifact.Tracker
	center      uuid.UUID
	dryRun      bool
	token       string
	observables []domain.Observable
	res         Result
}

func (b *batch) prepare(ctx context.Context, q *sqlstore.Queries) error {
	if _, err := q.GetCenter(ctx, b.center); err != nil {
		if errors.Is(err, sqlstore.ErrNotFound) {
			return domain.NewFieldError(domain.EntityCenter, "center", domain.CodeNotFound, b.center.String(), "center %s does not exist", b.center)
		}
		return err
	}
	all, err := q.ListObservables(ctx)
	if err != nil {
		return err
	}
	for _, o := range all {
		if o.VisibleTo(b.center) {
			b.observables = append(b.observables, o)
		}
	}
	return nil
}

func (b *batch) check(ctx context.Context, q *sqlstore.Queries, entity domain.EntityType, after any) error {
	return b.engine.deps.Validator.Check(ctx, q, core.Change{Entity: entity, Action: core.ActionCreate, After: after})
}

func (b *batch) row(ctx context.Context, q *sqlstore.Queries, row tabular.JoinedRow) error {
	patient, err := b.patient(ctx, q, row)
	if err != nil {
		return err
	}
	visit, err := b.visit(ctx, q, patient)
	if err != nil {
		return err
	}
	sample, err := b.bioSample(ctx, q, row.Meta, visit)
	if err != nil {
		return err
	}
	record, data, err := b.arrayData(ctx, q, row, patient, sample)
	if err != nil {
		return err
	}
	if err := b.observations(ctx, q, row.Meta, visit); err != nil {
		return err
	}
	if b.engine.opts.AutoAnnotate && b.engine.deps.QC != nil {
		anns, err := b.engine.deps.QC.AnnotateData(ctx, q, record, data, nil, false)
		if err != nil {
			return err
		}
		b.res.Annotations += len(anns)
	}
	return nil
}

// patient resolves the row's patient by ID, then by center identifier, and
// creates it only when both lookups miss.
func (b *batch) patient(ctx context.Context, q *sqlstore.Queries, row tabular.JoinedRow) (domain.Patient, error) {
	values, err := b.engine.deps.Schemas.Parse(domain.EntityPatient, row.Meta)
	if err != nil {
		return domain.Patient{}, err
	}
	key := strings.TrimSpace(row.Key)
	id, parseErr := uuid.Parse(key)
	isUUID := parseErr == nil
	if isUUID {
		p, err := q.GetPatient(ctx, id)
		switch {
		case err == nil:
			if p.CenterID != b.center {
				return domain.Patient{}, domain.NewFieldError(domain.EntityPatient, tabular.IndexColumn, domain.CodeIdentifierConflict, key,
					"patient %s belongs to another center", key)
			}
			b.res.PatientsReused++
			return p, nil
		case !errors.Is(err, sqlstore.ErrNotFound):
			return domain.Patient{}, err
		}
	}

	var cid *string
	if c := values.String("patient_cid"); c != nil && strings.TrimSpace(*c) != "" {
		trimmed := strings.TrimSpace(*c)
		cid = &trimmed
	} else if !isUUID {
		cid = &key
	}
	if cid != nil {
		p, err := q.FindPatientByCID(ctx, b.center, *cid)
		switch {
		case err == nil:
			if isUUID && p.ID != id {
				return domain.Patient{}, domain.NewFieldError(domain.EntityPatient, "patient_cid", domain.CodeIdentifierConflict, *cid,
					"patient_cid %q already identifies patient %s, not %s", *cid, p.ID, id)
			}
			b.res.PatientsReused++
			return p, nil
		case !errors.Is(err, sqlstore.ErrNotFound):
			return domain.Patient{}, err
		}
	}

	p := domain.Patient{CID: cid, CenterID: b.center}
	if isUUID {
		p.ID = id
	} else {
		p.ID = uuid.New()
	}
	if err := b.check(ctx, q, domain.EntityPatient, p); err != nil {
		return domain.Patient{}, err
	}
	p, err = q.CreatePatient(ctx, p)
	if err != nil {
		return domain.Patient{}, err
	}
	b.res.Patients++
	return p, nil
}

func (b *batch) visit(ctx context.Context, q *sqlstore.Queries, patient domain.Patient) (domain.Visit, error) {
	v, err := q.CreateVisit(ctx, domain.Visit{PatientID: patient.ID})
	if err != nil {
		return domain.Visit{}, err
	}
	if b.engine.opts.AutoFindPreviousVisit {
		prev, err := b.engine.deps.Validator.FindPreviousVisit(ctx, q, v)
		if err != nil {
			return domain.Visit{}, err
		}
		if prev != nil {
			if err := q.SetPreviousVisit(ctx, v.ID, prev); err != nil {
				return domain.Visit{}, err
			}
			v.PreviousVisitID = prev
		}
	}
	if err := b.check(ctx, q, domain.EntityVisit, v); err != nil {
		return domain.Visit{}, err
	}
	b.res.Visits++
	return v, nil
}

func (b *batch) bioSample(ctx context.Context, q *sqlstore.Queries, row tabular.Row, visit domain.Visit) (domain.BioSample, error) {
	values, err := b.engine.deps.Schemas.Parse(domain.EntityBioSample, row)
	if err != nil {
		return domain.BioSample{}, err
	}
	typeName, err := values.Require(domain.EntityBioSample, "biosample_type")
	if err != nil {
		return domain.BioSample{}, err
	}
	st, err := q.FindBioSampleType(ctx, typeName)
	if errors.Is(err, sqlstore.ErrNotFound) {
		return domain.BioSample{}, domain.NewFieldError(domain.EntityBioSample, "biosample_type", domain.CodeNotFound, typeName,
			"unknown biosample type %q", typeName)
	}
	if err != nil {
		return domain.BioSample{}, err
	}
	sample := domain.BioSample{
		VisitID:              visit.ID,
		SampleTypeID:         st.ID,
		SampleProcessing:     values.String("sample_processing"),
		SampleExtraction:     values.String("sample_extraction"),
		SampleExtractionTube: values.String("sample_extraction_tube"),
		FreezingTemp:         values.Float("freezing_temp"),
		ThawingTime:          values.Int("thawing_time"),
		CentrifugeTime:       values.Int("centrifuge_time"),
		CentrifugeRPM:        values.Int("centrifuge_rpm"),
	}
	if err := b.check(ctx, q, domain.EntityBioSample, sample); err != nil {
		return domain.BioSample{}, err
	}
	sample, err = q.CreateBioSample(ctx, sample)
	if err != nil {
		return domain.BioSample{}, err
	}
	b.res.BioSamples++
	return sample, nil
}

// arrayData resolves the instrument and measurement type, stores the record
// and writes its artifact. Instruments are never created here.
func (b *batch) arrayData(ctx context.Context, q *sqlstore.Queries, row tabular.JoinedRow, patient domain.Patient, sample domain.BioSample) (domain.ArrayData, artifact.Data, error) {
	values, err := b.engine.deps.Schemas.Parse(domain.EntityArrayData, row.Meta)
	if err != nil {
		return domain.ArrayData{}, artifact.Data{}, err
	}
	rawInstrument, err := values.Require(domain.EntityArrayData, "instrument_id")
	if err != nil {
		return domain.ArrayData{}, artifact.Data{}, err
	}
	rawInstrument = strings.TrimSpace(rawInstrument)
	instrumentID, err := uuid.Parse(rawInstrument)
	if err != nil {
		return domain.ArrayData{}, artifact.Data{}, domain.NewFieldError(domain.EntityArrayData, "instrument_id", domain.CodeInvalidValue, rawInstrument,
			"%q is not a valid instrument id", rawInstrument)
	}
	instrument, err := q.GetInstrument(ctx, instrumentID)
	if errors.Is(err, sqlstore.ErrNotFound) {
		return domain.ArrayData{}, artifact.Data{}, domain.NewFieldError(domain.EntityArrayData, "instrument_id", domain.CodeNotFound, rawInstrument,
			"instrument %s does not exist", rawInstrument)
	}
	if err != nil {
		return domain.ArrayData{}, artifact.Data{}, err
	}
	mtName, err := values.Require(domain.EntityArrayData, "measurement_type")
	if err != nil {
		return domain.ArrayData{}, artifact.Data{}, err
	}
	mt, err := q.FindMeasurementType(ctx, mtName)
	if errors.Is(err, sqlstore.ErrNotFound) {
		return domain.ArrayData{}, artifact.Data{}, domain.NewFieldError(domain.EntityArrayData, "measurement_type", domain.CodeNotFound, mtName,
			"unknown measurement type %q", mtName)
	}
	if err != nil {
		return domain.ArrayData{}, artifact.Data{}, err
	}

	record := domain.ArrayData{
		BioSampleID:       sample.ID,
		InstrumentID:      instrument.ID,
		MeasurementTypeID: mt.ID,
		AcquisitionTime:   values.Int("acquisition_time"),
		NCoadditions:      values.Int("n_coadditions"),
		Resolution:        values.Int("resolution"),
		Power:             values.Float("power"),
		Temperature:       values.Float("temperature"),
		Pressure:          values.Float("pressure"),
		Humidity:          values.Float("humidity"),
	}
	if raw := values.String("date_measured"); raw != nil {
		t, err := schema.ParseDate("date_measured", *raw)
		if err != nil {
			return domain.ArrayData{}, artifact.Data{}, err
		}
		record.DateMeasured = &t
	}
	data := row.Array
	data.PatientID = patient.ID.String()
	if err := data.Validate(); err != nil {
		return domain.ArrayData{}, artifact.Data{}, err
	}
	if err := b.check(ctx, q, domain.EntityArrayData, record); err != nil {
		return domain.ArrayData{}, artifact.Data{}, err
	}
	record, err = q.CreateArrayData(ctx, record)
	if err != nil {
		return domain.ArrayData{}, artifact.Data{}, err
	}

	name := artifact.Filename(data.PatientID, sample.ID, record.ID)
	if b.dryRun {
		name = artifact.TempFilename(b.token, data.PatientID, sample.ID, record.ID)
	}
	key := artifact.Key(b.engine.opts.ArtifactPrefix, name)
	if _, err := b.tracker.Write(ctx, key, b.engine.opts.Schema, data); err != nil {
		return domain.ArrayData{}, artifact.Data{}, err
	}
	if err := q.UpdateArrayDataKey(ctx, record.ID, key); err != nil {
		return domain.ArrayData{}, artifact.Data{}, err
	}
	record.DataKey = key
	b.res.Files = append(b.res.Files, key)
	b.res.ArrayData++
	return record, data, nil
}

// observations records the row's value of every observable visible to the
// batch center. Columns are matched by normalized alias; absent or missing
// cells are skipped.
func (b *batch) observations(ctx context.Context, q *sqlstore.Queries, row tabular.Row, visit domain.Visit) error {
	for _, o := range b.observables {
		column := tabular.NormalizeColumn(o.Alias)
		if column == "" {
			column = tabular.NormalizeColumn(o.Name)
		}
		cell := row.Get(column)
		if cell.Missing() {
			continue
		}
		v, err := o.ValueType.Cast(cell.Value)
		if err != nil {
			if fe, ok := domain.AsFieldError(err); ok {
				fe.Entity = domain.EntityObservation
				fe.Field = o.Alias
			}
			return err
		}
		obs := domain.Observation{VisitID: visit.ID, ObservableID: o.ID, Value: o.ValueType.Canonical(v)}
		if err := b.check(ctx, q, domain.EntityObservation, obs); err != nil {
			return err
		}
		if _, err := q.CreateObservation(ctx, obs); err != nil {
			return fmt.Errorf("observation %s: %w", o.Name, err)
		}
		b.res.Observations++
	}
	return nil
}

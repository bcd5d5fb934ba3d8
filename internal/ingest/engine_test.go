package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"biodb/internal/artifact"
	"biodb/internal/blob"
	"biodb/internal/core"
	"biodb/internal/persistence/sqlstore"
	"biodb/internal/qc"
	"biodb/internal/registry"
	"biodb/internal/schema"
	"biodb/internal/tabular"
	"biodb/pkg/domain"
)

var countedTables = []string{"patient", "visit", "biosample", "array_data", "observation", "qc_annotation"}

type env struct {
	store      *sqlstore.Store
	blobs      blob.Store
	center     domain.Center
	other      domain.Center
	instrument domain.Instrument
	reg        *registry.Registry
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	s, err := sqlstore.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "ingest.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	blobs, err := blob.NewFilesystem(filepath.Join(t.TempDir(), "artifacts"))
	if err != nil {
		t.Fatalf("blob: %v", err)
	}
	e := &env{store: s, blobs: blobs, reg: registry.Default()}
	q := s.Queries()
	if e.center, err = q.CreateCenter(ctx, domain.Center{Name: "Imperial", Country: "UK"}); err != nil {
		t.Fatalf("center: %v", err)
	}
	if e.other, err = q.CreateCenter(ctx, domain.Center{Name: "Charité", Country: "DE"}); err != nil {
		t.Fatalf("center: %v", err)
	}
	if e.instrument, err = q.CreateInstrument(ctx, domain.Instrument{CID: "ATR-1", Manufacturer: "Agilent", CenterID: &e.center.ID}); err != nil {
		t.Fatalf("instrument: %v", err)
	}
	if _, err := q.CreateBioSampleType(ctx, "Pharyngeal Swab"); err != nil {
		t.Fatalf("sample type: %v", err)
	}
	if _, err := q.CreateMeasurementType(ctx, "ATR-FTIR"); err != nil {
		t.Fatalf("measurement type: %v", err)
	}
	pct := "percentage"
	for _, o := range []domain.Observable{
		{Name: "Fever", Category: domain.CategorySymptom, ValueType: domain.ValueBool},
		{Name: "SpO2", Alias: "SpO2 (%)", Category: domain.CategoryVitals, ValueType: domain.ValueFloat, ValidatorKey: &pct},
		{Name: "Ct", Category: domain.CategoryTest, ValueType: domain.ValueFloat, CenterIDs: []uuid.UUID{e.other.ID}},
	} {
		if _, err := q.CreateObservable(ctx, o); err != nil {
			t.Fatalf("observable %s: %v", o.Name, err)
		}
	}
	return e
}

func (e *env) engine(opts Options) *Engine {
	log := zerolog.Nop()
	return New(Deps{
		Store:     e.store,
		Blobs:     e.blobs,
		Validator: core.NewValidator(e.reg, core.Options{}),
		QC:        qc.NewRunner(e.blobs, e.reg, qc.Options{}, log, nil),
		Log:       log,
	}, opts)
}

type metaRow struct {
	key, sampleType, instrument, fever, spo2 string
}

func (e *env) request(t *testing.T, rows ...metaRow) Request {
	t.Helper()
	var meta strings.Builder
	meta.WriteString("Patient ID,Sample Type,Instrument,Spectra Measurement,Fever,SpO2 (%),Ct,Date Measured\n")
	var array bytes.Buffer
	for i, r := range rows {
		fmt.Fprintf(&meta, "%s,%s,%s,atr-ftir,%s,%s,21.5,2024-03-01\n", r.key, r.sampleType, r.instrument, r.fever, r.spo2)
		d := artifact.Data{PatientID: r.key, X: []float64{400, 401, 402}, Y: []float64{float64(i), 2, 3}}
		if err := artifact.Encode(&array, artifact.SchemaXY, d); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	return Request{
		Meta:   tabular.Source{Reader: strings.NewReader(meta.String()), Ext: "csv"},
		Array:  tabular.Source{Reader: bytes.NewReader(array.Bytes()), Ext: "jsonl"},
		Center: e.center.ID,
	}
}

func (e *env) counts(t *testing.T) map[string]int64 {
	t.Helper()
	out := map[string]int64{}
	for _, table := range countedTables {
		n, err := e.store.Queries().Count(context.Background(), table)
		if err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		out[table] = n
	}
	return out
}

func (e *env) files(t *testing.T) []string {
	t.Helper()
	infos, err := e.blobs.List(context.Background(), DefaultArtifactPrefix)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	out := make([]string, 0, len(infos))
	for _, i := range infos {
		out = append(out, i.Key)
	}
	return out
}

func (e *env) validRows() []metaRow {
	inst := e.instrument.ID.String()
	return []metaRow{
		{key: uuid.NewString(), sampleType: "pharyngeal swab", instrument: inst, fever: "yes", spo2: "97"},
		{key: "P-2", sampleType: "Pharyngeal Swab", instrument: inst, fever: "No", spo2: ""},
	}
}

func expectCode(t *testing.T, err error, field, code string) {
	t.Helper()
	fe, ok := domain.AsFieldError(err)
	if !domain.ErrValidation.Has(err) || !ok || fe.Code != code || fe.Field != field {
		t.Fatalf("expected validation %s on %s, got %+v (%v)", code, field, fe, err)
	}
}

func TestIngestCommitsWholeGraph(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	res, err := e.engine(Options{}).Ingest(ctx, e.request(t, e.validRows()...))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Rows != 2 || res.Patients != 2 || res.Visits != 2 || res.BioSamples != 2 || res.ArrayData != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	// Ct is only visible to the other center and is skipped.
	if res.Observations != 3 {
		t.Fatalf("expected 3 observations, got %d", res.Observations)
	}
	files := e.files(t)
	if len(files) != 2 {
		t.Fatalf("expected 2 artifacts, got %v", files)
	}
	keys, err := e.store.Queries().ListDataKeys(ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	for _, f := range files {
		if _, ok := keys[f]; !ok || artifact.IsTemp(f) {
			t.Fatalf("artifact %s not referenced or temporary", f)
		}
	}
	p, err := e.store.Queries().FindPatientByCID(ctx, e.center.ID, "P-2")
	if err != nil {
		t.Fatalf("cid patient: %v", err)
	}
	records, _ := e.store.Queries().ListArrayData(ctx)
	var found bool
	for _, r := range records {
		owner, _ := e.store.Queries().ArrayDataPatient(ctx, r.ID)
		if owner != p.ID {
			continue
		}
		found = true
		d, err := artifact.Load(ctx, e.blobs, r.DataKey, artifact.SchemaXY)
		if err != nil || d.CheckPatient(p.ID.String()) != nil {
			t.Fatalf("artifact of %s: %+v %v", p.ID, d, err)
		}
		if !strings.HasPrefix(filepath.Base(r.DataKey), p.ID.String()+"_") {
			t.Fatalf("unexpected artifact name %s", r.DataKey)
		}
		if r.DateMeasured == nil || r.DateMeasured.Format("2006-01-02") != "2024-03-01" {
			t.Fatalf("date measured not stored: %+v", r)
		}
	}
	if !found {
		t.Fatalf("no record for patient P-2")
	}
}

func TestIngestReusesPatientsAndLinksVisits(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	eng := e.engine(Options{AutoFindPreviousVisit: true})
	rows := e.validRows()
	if _, err := eng.Ingest(ctx, e.request(t, rows...)); err != nil {
		t.Fatalf("first: %v", err)
	}
	res, err := eng.Ingest(ctx, e.request(t, rows...))
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if res.Patients != 0 || res.PatientsReused != 2 || res.Visits != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	p, err := e.store.Queries().FindPatientByCID(ctx, e.center.ID, "P-2")
	if err != nil {
		t.Fatalf("patient: %v", err)
	}
	visits, err := e.store.Queries().ListVisits(ctx, p.ID)
	if err != nil || len(visits) != 2 {
		t.Fatalf("visits: %+v %v", visits, err)
	}
	if visits[1].PreviousVisitID == nil || *visits[1].PreviousVisitID != visits[0].ID {
		t.Fatalf("second visit not linked: %+v", visits)
	}
}

func TestDryRunLeavesNoTrace(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	before := e.counts(t)
	req := e.request(t, e.validRows()...)
	req.DryRun = true
	res, err := e.engine(Options{}).Ingest(ctx, req)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !res.DryRun || res.ArrayData != 2 || res.Observations != 3 {
		t.Fatalf("dry run must report what it validated: %+v", res)
	}
	for _, f := range res.Files {
		if !artifact.IsTemp(f) {
			t.Fatalf("dry run wrote non-temporary artifact %s", f)
		}
	}
	after := e.counts(t)
	for table, n := range before {
		if after[table] != n {
			t.Fatalf("%s count changed %d -> %d", table, n, after[table])
		}
	}
	if files := e.files(t); len(files) != 0 {
		t.Fatalf("dry run left artifacts %v", files)
	}
}

func TestFailedRowRollsBackEverything(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rows := e.validRows()
	rows = append(rows, metaRow{key: "P-3", sampleType: "Pharyngeal Swab", instrument: uuid.NewString(), fever: "yes"})
	before := e.counts(t)
	_, err := e.engine(Options{}).Ingest(ctx, e.request(t, rows...))
	expectCode(t, err, "instrument_id", domain.CodeNotFound)
	after := e.counts(t)
	for table, n := range before {
		if after[table] != n {
			t.Fatalf("%s count changed %d -> %d", table, n, after[table])
		}
	}
	if files := e.files(t); len(files) != 0 {
		t.Fatalf("failed batch left artifacts %v", files)
	}
}

// cancellingStore cancels the request after the first artifact write and,
// like the network backends, refuses work on a done context.
type cancellingStore struct {
	blob.Store
	cancel context.CancelFunc
}

func (s *cancellingStore) Put(ctx context.Context, key string, r io.Reader, opts blob.PutOptions) (blob.Info, error) {
	if err := ctx.Err(); err != nil {
		return blob.Info{}, err
	}
	info, err := s.Store.Put(ctx, key, r, opts)
	s.cancel()
	return info, err
}

func (s *cancellingStore) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.Store.Delete(ctx, key)
}

func TestCancelledBatchStillDeletesArtifacts(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.blobs = &cancellingStore{Store: e.blobs, cancel: cancel}
	before := e.counts(t)

	_, err := e.engine(Options{}).Ingest(ctx, e.request(t, e.validRows()...))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	after := e.counts(t)
	for table, n := range before {
		if after[table] != n {
			t.Fatalf("%s count changed %d -> %d", table, n, after[table])
		}
	}
	if files := e.files(t); len(files) != 0 {
		t.Fatalf("cancelled batch left artifacts %v", files)
	}
}

func TestOptionalSchemaColumnsStillRequired(t *testing.T) {
	e := newEnv(t)
	schemas := schema.Default()
	schemas.Register(schema.EntitySchema{Entity: domain.EntityArrayData, Fields: []schema.Field{
		{Column: "instrument_id", Type: domain.ValueStr},
		{Column: "measurement_type", Type: domain.ValueStr},
	}})
	log := zerolog.Nop()
	engine := New(Deps{
		Store:     e.store,
		Blobs:     e.blobs,
		Schemas:   schemas,
		Validator: core.NewValidator(e.reg, core.Options{}),
		Log:       log,
	}, Options{})

	row := metaRow{key: "A", sampleType: "pharyngeal swab", instrument: "", fever: "yes"}
	_, err := engine.Ingest(context.Background(), e.request(t, row))
	expectCode(t, err, "instrument_id", domain.CodeRequired)
	if files := e.files(t); len(files) != 0 {
		t.Fatalf("failed batch left artifacts %v", files)
	}
}

func TestRowValidationErrors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	inst := e.instrument.ID.String()
	cases := []struct {
		name  string
		row   metaRow
		field string
		code  string
	}{
		{"unknown sample type", metaRow{key: "A", sampleType: "blood", instrument: inst, fever: "yes"}, "biosample_type", domain.CodeNotFound},
		{"bad instrument id", metaRow{key: "A", sampleType: "pharyngeal swab", instrument: "atr-1", fever: "yes"}, "instrument_id", domain.CodeInvalidValue},
		{"uncastable observation", metaRow{key: "A", sampleType: "pharyngeal swab", instrument: inst, fever: "maybe"}, "Fever", domain.CodeInvalidValue},
		{"validator rejects", metaRow{key: "A", sampleType: "pharyngeal swab", instrument: inst, fever: "yes", spo2: "140"}, "SpO2", domain.CodeInvalidValue},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.engine(Options{}).Ingest(ctx, e.request(t, tc.row))
			expectCode(t, err, tc.field, tc.code)
		})
	}
	if files := e.files(t); len(files) != 0 {
		t.Fatalf("failed batches left artifacts %v", files)
	}
}

func TestStructuralMismatchWritesNothing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	req := e.request(t, e.validRows()...)
	var array bytes.Buffer
	_ = artifact.Encode(&array, artifact.SchemaXY, artifact.Data{PatientID: "someone-else", X: []float64{1}, Y: []float64{1}})
	_ = artifact.Encode(&array, artifact.SchemaXY, artifact.Data{PatientID: "P-2", X: []float64{1}, Y: []float64{1}})
	req.Array = tabular.Source{Reader: bytes.NewReader(array.Bytes()), Ext: "jsonl"}
	_, err := e.engine(Options{}).Ingest(ctx, req)
	if !domain.ErrStructuralMismatch.Has(err) {
		t.Fatalf("expected structural mismatch, got %v", err)
	}
	if n, _ := e.store.Queries().Count(ctx, "patient"); n != 0 {
		t.Fatalf("patients written: %d", n)
	}
}

func TestUnknownCenterIsValidationError(t *testing.T) {
	e := newEnv(t)
	req := e.request(t, e.validRows()...)
	req.Center = uuid.New()
	_, err := e.engine(Options{}).Ingest(context.Background(), req)
	expectCode(t, err, "center", domain.CodeNotFound)
}

func TestAutoAnnotate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if _, err := e.store.Queries().CreateQCAnnotator(ctx, domain.QCAnnotator{Name: "total", Key: "sum", ValueType: domain.ValueFloat, Default: true}); err != nil {
		t.Fatalf("annotator: %v", err)
	}
	res, err := e.engine(Options{AutoAnnotate: true}).Ingest(ctx, e.request(t, e.validRows()...))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Annotations != 2 {
		t.Fatalf("expected 2 annotations, got %d", res.Annotations)
	}
	if n, _ := e.store.Queries().Count(ctx, "qc_annotation"); n != 2 {
		t.Fatalf("annotations not committed: %d", n)
	}
}

func TestPreJoinedRows(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	req := e.request(t, e.validRows()...)
	joined, err := tabular.Read(req.Meta, req.Array, artifact.SchemaXY)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	res, err := e.engine(Options{}).Ingest(ctx, Request{Joined: joined, Center: e.center.ID})
	if err != nil || res.ArrayData != 2 {
		t.Fatalf("ingest joined: %+v %v", res, err)
	}
}

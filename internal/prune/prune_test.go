package prune

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"biodb/internal/blob"
	"biodb/internal/metrics"
	"biodb/internal/persistence/sqlstore"
	"biodb/pkg/domain"
)

func setup(t *testing.T) (*sqlstore.Store, blob.Store, []int64) {
	t.Helper()
	ctx := context.Background()
	s, err := sqlstore.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "prune.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	q := s.Queries()
	center, err := q.CreateCenter(ctx, domain.Center{Name: "Imperial", Country: "UK"})
	if err != nil {
		t.Fatalf("center: %v", err)
	}
	patient, err := q.CreatePatient(ctx, domain.Patient{CenterID: center.ID})
	if err != nil {
		t.Fatalf("patient: %v", err)
	}
	visit, err := q.CreateVisit(ctx, domain.Visit{PatientID: patient.ID})
	if err != nil {
		t.Fatalf("visit: %v", err)
	}
	st, err := q.CreateBioSampleType(ctx, "Pharyngeal Swab")
	if err != nil {
		t.Fatalf("sample type: %v", err)
	}
	mt, err := q.CreateMeasurementType(ctx, "ATR-FTIR")
	if err != nil {
		t.Fatalf("measurement type: %v", err)
	}
	inst, err := q.CreateInstrument(ctx, domain.Instrument{CID: "i-1"})
	if err != nil {
		t.Fatalf("instrument: %v", err)
	}
	sample, err := q.CreateBioSample(ctx, domain.BioSample{VisitID: visit.ID, SampleTypeID: st.ID})
	if err != nil {
		t.Fatalf("biosample: %v", err)
	}

	blobs := blob.NewMemory()
	var ids []int64
	for _, name := range []string{"a.jsonl", "b.jsonl", "c.jsonl"} {
		key := "array_data/" + name
		if _, err := blobs.Put(ctx, key, strings.NewReader("{}\n"), blob.PutOptions{}); err != nil {
			t.Fatalf("put: %v", err)
		}
		a, err := q.CreateArrayData(ctx, domain.ArrayData{BioSampleID: sample.ID, InstrumentID: inst.ID, MeasurementTypeID: mt.ID, DataKey: key})
		if err != nil {
			t.Fatalf("array data: %v", err)
		}
		ids = append(ids, a.ID)
	}
	return s, blobs, ids
}

func TestNoOrphansWhenEverythingIsReferenced(t *testing.T) {
	s, blobs, _ := setup(t)
	p := New(s, blobs, "array_data", zerolog.Nop(), nil)
	report, err := p.Run(context.Background(), false, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Orphans) != 0 || report.Deleted != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestMissingPrefixHasNoOrphans(t *testing.T) {
	s, blobs, _ := setup(t)
	orphans, err := New(s, blobs, "spectral_data", zerolog.Nop(), nil).Orphans(context.Background())
	if err != nil || len(orphans) != 0 {
		t.Fatalf("orphans = %v, %v", orphans, err)
	}
}

func TestPruneDeletesUnreferencedArtifacts(t *testing.T) {
	s, blobs, ids := setup(t)
	ctx := context.Background()
	if _, err := blobs.Put(ctx, "array_data/__TEMP__abc_x.jsonl", strings.NewReader("{}\n"), blob.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s.Queries().DeleteArrayData(ctx, ids[1]); err != nil {
		t.Fatalf("delete record: %v", err)
	}

	m := metrics.NewCollector(prometheus.NewRegistry())
	p := New(s, blobs, "array_data", zerolog.Nop(), m)

	dry, err := p.Run(ctx, true, nil)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	want := []string{"array_data/__TEMP__abc_x.jsonl", "array_data/b.jsonl"}
	if len(dry.Orphans) != 2 || dry.Orphans[0] != want[0] || dry.Orphans[1] != want[1] || dry.Deleted != 0 {
		t.Fatalf("dry run report %+v", dry)
	}
	if infos, _ := blobs.List(ctx, "array_data"); len(infos) != 4 {
		t.Fatalf("dry run deleted files: %d left", len(infos))
	}

	ticks := 0
	report, err := p.Run(ctx, false, func() { ticks++ })
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Deleted != 2 || ticks != 2 {
		t.Fatalf("deleted %d, ticks %d", report.Deleted, ticks)
	}
	if got := testutil.ToFloat64(m.PrunedOrphans); got != 2 {
		t.Fatalf("pruned metric = %v", got)
	}
	again, err := p.Orphans(ctx)
	if err != nil || len(again) != 0 {
		t.Fatalf("orphans after prune = %v, %v", again, err)
	}
}

func TestDeletingAllRecordsOrphansEveryFile(t *testing.T) {
	s, blobs, ids := setup(t)
	ctx := context.Background()
	for _, id := range ids {
		if _, err := s.Queries().DeleteArrayData(ctx, id); err != nil {
			t.Fatalf("delete: %v", err)
		}
	}
	report, err := New(s, blobs, "array_data", zerolog.Nop(), nil).Run(ctx, false, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Deleted != len(ids) {
		t.Fatalf("deleted %d, want %d", report.Deleted, len(ids))
	}
}

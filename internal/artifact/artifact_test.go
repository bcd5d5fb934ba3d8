package artifact

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"biodb/internal/blob"
	"biodb/pkg/domain"
)

func TestFilenames(t *testing.T) {
	name := Filename("4f1c", 12, 99)
	if name != "4f1c_12_99.jsonl" {
		t.Fatalf("unexpected filename %s", name)
	}
	temp := TempFilename("tok", "4f1c", 12, 99)
	if !strings.HasPrefix(temp, TempPrefix) || !strings.HasSuffix(temp, name) {
		t.Fatalf("unexpected temp filename %s", temp)
	}
	if !IsTemp(Key("array_data", temp)) || IsTemp(Key("array_data", name)) {
		t.Fatalf("IsTemp misclassified keys")
	}
	if IsTemp(TempPrefix + "dir/" + name) {
		t.Fatalf("only the base name may carry the marker")
	}
	if Key("", name) != name || Key("a/b", name) != "a/b/"+name {
		t.Fatalf("unexpected key joining")
	}
	if a, b := NewToken(), NewToken(); a == b || strings.Contains(a, "-") {
		t.Fatalf("tokens must be unique and dash free: %s %s", a, b)
	}
}

func TestCodecRoundTripBothSchemas(t *testing.T) {
	for _, schema := range []Schema{SchemaXY, SchemaSpectral} {
		in := Data{PatientID: "p-1", X: []float64{400, 401.5}, Y: []float64{0.1, 0.2}}
		b, err := Marshal(schema, in)
		if err != nil {
			t.Fatalf("%s marshal: %v", schema.Name, err)
		}
		if !strings.Contains(string(b), `"`+schema.XKey+`"`) {
			t.Fatalf("%s: expected field %s in %s", schema.Name, schema.XKey, b)
		}
		out, err := Decode(bytes.NewReader(b), schema)
		if err != nil {
			t.Fatalf("%s decode: %v", schema.Name, err)
		}
		if out.PatientID != in.PatientID || out.Len() != 2 || out.X[1] != 401.5 || out.Y[0] != 0.1 {
			t.Fatalf("%s: unexpected data %+v", schema.Name, out)
		}
	}
}

func TestDecodeRejectsWrongFieldSet(t *testing.T) {
	cases := []string{
		`{"patient_id":"p","wavelength":[1],"intensity":[2]}`,
		`{"patient_id":"p","x":[1]}`,
		`{"patient_id":"p","x":[1],"y":[2],"extra":1}`,
	}
	for _, line := range cases {
		_, err := Decode(strings.NewReader(line), SchemaXY)
		if !domain.ErrSchema.Has(err) {
			t.Fatalf("%s: expected schema error, got %v", line, err)
		}
		var sm *domain.SchemaMismatch
		if !errors.As(err, &sm) {
			t.Fatalf("%s: expected SchemaMismatch payload", line)
		}
	}
	if _, err := Decode(strings.NewReader("\n\n"), SchemaXY); !domain.ErrSchema.Has(err) {
		t.Fatalf("empty artifact must be a schema error, got %v", err)
	}
	if _, err := Decode(strings.NewReader(`[1,2]`), SchemaXY); !domain.ErrSchema.Has(err) {
		t.Fatalf("non-object must be a schema error, got %v", err)
	}
}

func TestDecodeUnequalLengthsIsValidation(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"patient_id":"p","x":[1,2],"y":[2]}`), SchemaXY)
	if !domain.ErrValidation.Has(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDecodeNumericPatientIDKeepsText(t *testing.T) {
	d, err := Decode(strings.NewReader(`{"patient_id":12345678901234567890,"x":[1],"y":[2]}`), SchemaXY)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.PatientID != "12345678901234567890" {
		t.Fatalf("identifier lost precision: %s", d.PatientID)
	}
	if err := d.CheckPatient("other"); !domain.ErrValidation.Has(err) {
		t.Fatalf("expected patient mismatch, got %v", err)
	}
}

func TestTrackerRollbackDeletesInReverse(t *testing.T) {
	ctx := context.Background()
	store := &recordingStore{Store: blob.NewMemory()}
	tr := NewTracker(store, zerolog.Nop())
	data := Data{PatientID: "p", X: []float64{1}, Y: []float64{2}}
	for _, name := range []string{"a.jsonl", "b.jsonl", "c.jsonl"} {
		if _, err := tr.Write(ctx, Key("array_data", name), SchemaXY, data); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	n, err := tr.Rollback(ctx)
	if err != nil || n != 3 {
		t.Fatalf("rollback: %d %v", n, err)
	}
	want := []string{"array_data/c.jsonl", "array_data/b.jsonl", "array_data/a.jsonl"}
	if strings.Join(store.deleted, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected deletion order %v", store.deleted)
	}
	if len(tr.Keys()) != 0 {
		t.Fatalf("rollback must clear tracked keys")
	}
}

func TestTrackerCleanupTempOnlyTouchesTempKeys(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	tr := NewTracker(store, zerolog.Nop())
	data := Data{PatientID: "p", X: []float64{1}, Y: []float64{2}}
	keep := Key("array_data", Filename("p", 1, 1))
	temp := Key("array_data", TempFilename("t", "p", 1, 2))
	for _, k := range []string{keep, temp} {
		if _, err := tr.Write(ctx, k, SchemaXY, data); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	n, err := tr.CleanupTemp(ctx)
	if err != nil || n != 1 {
		t.Fatalf("cleanup: %d %v", n, err)
	}
	if _, err := store.Head(ctx, keep); err != nil {
		t.Fatalf("deterministic artifact must survive: %v", err)
	}
	if keys := tr.Keys(); len(keys) != 1 || keys[0] != keep {
		t.Fatalf("unexpected remaining keys %v", keys)
	}
}

func TestTrackerRollbackCombinesFailures(t *testing.T) {
	ctx := context.Background()
	store := &recordingStore{Store: blob.NewMemory(), fail: "array_data/b.jsonl"}
	tr := NewTracker(store, zerolog.Nop())
	data := Data{PatientID: "p", X: []float64{1}, Y: []float64{2}}
	for _, name := range []string{"a.jsonl", "b.jsonl"} {
		if _, err := tr.Write(ctx, Key("array_data", name), SchemaXY, data); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	n, err := tr.Rollback(ctx)
	if err == nil || n != 1 {
		t.Fatalf("expected one deletion and an error, got %d %v", n, err)
	}
	if _, err := store.Head(ctx, "array_data/a.jsonl"); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("remaining deletions must still run")
	}
}

func TestOrphans(t *testing.T) {
	ctx := context.Background()
	fsStore, err := blob.NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("fs: %v", err)
	}
	orphans, err := Orphans(ctx, fsStore, "array_data/", nil)
	if err != nil || len(orphans) != 0 {
		t.Fatalf("missing directory must yield zero orphans: %v %v", orphans, err)
	}
	tr := NewTracker(fsStore, zerolog.Nop())
	data := Data{PatientID: "p", X: []float64{1}, Y: []float64{2}}
	for i := int64(1); i <= 3; i++ {
		if _, err := tr.Write(ctx, Key("array_data", Filename("p", 1, i)), SchemaXY, data); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	referenced := map[string]struct{}{Key("array_data", Filename("p", 1, 2)): {}}
	orphans, err = Orphans(ctx, fsStore, "array_data/", referenced)
	if err != nil {
		t.Fatalf("orphans: %v", err)
	}
	if len(orphans) != 2 || orphans[0] != "array_data/p_1_1.jsonl" || orphans[1] != "array_data/p_1_3.jsonl" {
		t.Fatalf("unexpected orphans %v", orphans)
	}
	loaded, err := Load(ctx, fsStore, "array_data/p_1_2.jsonl", SchemaXY)
	if err != nil || loaded.PatientID != "p" {
		t.Fatalf("load: %+v %v", loaded, err)
	}
}

type recordingStore struct {
	blob.Store
	fail    string
	deleted []string
}

func (r *recordingStore) Delete(ctx context.Context, key string) (bool, error) {
	if key == r.fail {
		return false, errors.New("storage offline")
	}
	r.deleted = append(r.deleted, key)
	return r.Store.Delete(ctx, key)
}

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"biodb/internal/artifact"
)

const instrumentID = "6b1c1f5e-3c1a-4b8e-9a77-4c0f8b0c2a11"

const fixtureDoc = `{
  "centers": [{"id": "0d7d3d1e-2f34-4c6e-9f0a-3a5c2b1d4e6f", "name": "Imperial", "country": "UK"}],
  "biosample_types": ["Pharyngeal Swab"],
  "measurement_types": ["ATR-FTIR"],
  "instruments": [{"id": "` + instrumentID + `", "cid": "ATR-1", "center": "Imperial"}],
  "observables": [
    {"name": "fever", "alias": "Fever", "category": "symptom", "value_type": "bool"},
    {"name": "temperature", "alias": "Temperature (C)", "category": "vitals", "value_type": "float"}
  ],
  "qc_annotators": [{"name": "sum", "key": "sum", "value_type": "float"}]
}`

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ENV", "production")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("DATA_DB_DRIVER", "sqlite")
	t.Setenv("DATA_DB_DSN", filepath.Join(dir, "data.db"))
	t.Setenv("CATALOG_DB_DRIVER", "sqlite")
	t.Setenv("CATALOG_DB_DSN", filepath.Join(dir, "catalog.db"))
	t.Setenv("BLOB_DRIVER", "fs")
	t.Setenv("BLOB_FS_ROOT", filepath.Join(dir, "blobs"))
	t.Setenv("METRICS_TEXTFILE", filepath.Join(dir, "biodb.prom"))
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("biodb %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func writeUpload(t *testing.T, dir string, n int) (string, string) {
	t.Helper()
	var meta strings.Builder
	meta.WriteString("Patient ID,Sample Type,Instrument,Spectra Measurement,Fever,Temperature (C)\n")
	var array bytes.Buffer
	for i := 0; i < n; i++ {
		key := uuid.NewString()
		fmt.Fprintf(&meta, "%s,pharyngeal swab,%s,ATR-FTIR,no,%d.5\n", key, instrumentID, 36+i)
		d := artifact.Data{PatientID: key, X: []float64{1, 2, 3}, Y: []float64{1, 2, float64(i)}}
		if err := artifact.Encode(&array, artifact.SchemaXY, d); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	metaPath := filepath.Join(dir, "meta.csv")
	arrayPath := filepath.Join(dir, "array.jsonl")
	if err := os.WriteFile(metaPath, []byte(meta.String()), 0o600); err != nil {
		t.Fatalf("write meta: %v", err)
	}
	if err := os.WriteFile(arrayPath, array.Bytes(), 0o600); err != nil {
		t.Fatalf("write array: %v", err)
	}
	return metaPath, arrayPath
}

func TestEndToEnd(t *testing.T) {
	dir := setupEnv(t)
	fixturePath := filepath.Join(dir, "fixtures.json")
	if err := os.WriteFile(fixturePath, []byte(fixtureDoc), 0o600); err != nil {
		t.Fatalf("write fixtures: %v", err)
	}

	mustRun(t, "migrate")
	if out := mustRun(t, "fixtures", fixturePath); !strings.Contains(out, "7 record(s) created") {
		t.Fatalf("fixtures output %q", out)
	}
	if out := mustRun(t, "centers", "verify"); !strings.Contains(out, "consistent") {
		t.Fatalf("verify output %q", out)
	}

	tmpl := mustRun(t, "template")
	if !strings.HasPrefix(tmpl, "patient_id,") || !strings.Contains(tmpl, "Temperature (C)") {
		t.Fatalf("template %q", tmpl)
	}

	metaPath, arrayPath := writeUpload(t, dir, 3)
	center := "0d7d3d1e-2f34-4c6e-9f0a-3a5c2b1d4e6f"
	out := mustRun(t, "ingest", "--meta", metaPath, "--array", arrayPath, "--center", center, "--dry-run")
	if !strings.Contains(out, "Dry run validated 3 row(s)") {
		t.Fatalf("dry run output %q", out)
	}
	out = mustRun(t, "ingest", "--meta", metaPath, "--array", arrayPath, "--center", center)
	if !strings.Contains(out, "3 array data record(s), 6 observation(s), 3 QC annotation(s)") {
		t.Fatalf("ingest output %q", out)
	}

	if out := mustRun(t, "views", "list"); strings.Count(out, "present") != 2 {
		t.Fatalf("views after ingest %q", out)
	}
	if out := mustRun(t, "export", "full_patient", "--format", "csv,xlsx"); strings.Count(out, "exports/full_patient_") != 2 {
		t.Fatalf("export output %q", out)
	}
	if out := mustRun(t, "prune", "--dry-run"); !strings.Contains(out, "0 orphaned artifact(s) found") {
		t.Fatalf("prune output %q", out)
	}
	if out := mustRun(t, "annotate", "1", "--force"); !strings.Contains(out, "1\tsum\t") {
		t.Fatalf("annotate output %q", out)
	}

	prom, err := os.ReadFile(filepath.Join(dir, "biodb.prom"))
	if err != nil {
		t.Fatalf("metrics textfile: %v", err)
	}
	if !bytes.Contains(prom, []byte("biodb_qc_annotations_total")) {
		t.Fatalf("metrics textfile missing annotations:\n%s", prom)
	}
}

func TestIngestRejectsBadCenter(t *testing.T) {
	setupEnv(t)
	if _, err := run(t, "ingest", "--meta", "m.csv", "--array", "a.jsonl", "--center", "imperial"); err == nil {
		t.Fatalf("expected error for non-UUID center")
	}
}

func TestAnnotateNeedsTarget(t *testing.T) {
	setupEnv(t)
	if _, err := run(t, "annotate"); err == nil {
		t.Fatalf("expected error without IDs or --all")
	}
}

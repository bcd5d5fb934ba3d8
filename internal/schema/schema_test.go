package schema

import (
	"strings"
	"testing"

	"biodb/internal/tabular"
	"biodb/pkg/domain"
)

func row(t *testing.T, csv string) tabular.Row {
	t.Helper()
	tbl, err := tabular.ReadMeta(tabular.Source{Reader: strings.NewReader(csv), Ext: "csv"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return tbl.Row(0)
}

func TestParseBioSample(t *testing.T) {
	r := row(t, "patient_id,Sample Type,Freezing Temp,Centrifuge RPM,thawing_time\np,Pharyngeal Swab,-80,3000.0,NA\n")
	v, err := Default().Parse(domain.EntityBioSample, r)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if *v.String("biosample_type") != "Pharyngeal Swab" {
		t.Fatalf("unexpected type %v", v["biosample_type"])
	}
	if *v.Float("freezing_temp") != -80 || *v.Int("centrifuge_rpm") != 3000 {
		t.Fatalf("unexpected numbers %+v", v)
	}
	if v.Int("thawing_time") != nil {
		t.Fatalf("missing optional column must be omitted")
	}
}

func TestParseFailuresAreFieldErrors(t *testing.T) {
	r := row(t, "patient_id,biosample_type,centrifuge_rpm\np,swab,fast\n")
	_, err := Default().Parse(domain.EntityBioSample, r)
	fe, ok := domain.AsFieldError(err)
	if !ok || !domain.ErrValidation.Has(err) {
		t.Fatalf("expected validation field error, got %v", err)
	}
	if fe.Entity != domain.EntityBioSample || fe.Field != "centrifuge_rpm" || fe.Code != domain.CodeInvalidValue || fe.Value != "fast" {
		t.Fatalf("unexpected field error %+v", fe)
	}

	r = row(t, "patient_id,measurement_type\np,ATR-FTIR\n")
	_, err = Default().Parse(domain.EntityArrayData, r)
	fe, ok = domain.AsFieldError(err)
	if !ok || fe.Field != "instrument_id" || fe.Code != domain.CodeRequired {
		t.Fatalf("expected required instrument_id, got %v", err)
	}
	if _, err := Default().Parse(domain.EntityVisit, r); err == nil {
		t.Fatalf("expected unknown schema error")
	}
}

func TestRequire(t *testing.T) {
	v := Values{"biosample_type": "swab", "centrifuge_rpm": int64(3000)}
	if got, err := v.Require(domain.EntityBioSample, "biosample_type"); err != nil || got != "swab" {
		t.Fatalf("Require = %q, %v", got, err)
	}
	for _, col := range []string{"sample_processing", "centrifuge_rpm"} {
		_, err := v.Require(domain.EntityBioSample, col)
		fe, ok := domain.AsFieldError(err)
		if !ok || fe.Field != col || fe.Code != domain.CodeRequired {
			t.Fatalf("Require(%s) = %v, want required field error", col, err)
		}
	}
}

func TestParsePatientUsesRowKey(t *testing.T) {
	r := row(t, "Patient ID,Patient CID\n  abc  ,C-7\n")
	v, err := Default().Parse(domain.EntityPatient, r)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if *v.String("patient_id") != "abc" || *v.String("patient_cid") != "C-7" {
		t.Fatalf("unexpected values %+v", v)
	}
}

func TestParseDate(t *testing.T) {
	for _, raw := range []string{"2024-03-01", "2024-03-01T10:00:00Z", "2024-03-01 10:00:00", "03/01/2024"} {
		d, err := ParseDate("date_measured", raw)
		if err != nil || d.Year() != 2024 || d.Month() != 3 || d.Day() != 1 {
			t.Fatalf("%s: %v %v", raw, d, err)
		}
	}
	if _, err := ParseDate("date_measured", "yesterday"); !domain.ErrValidation.Has(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestColumnNames(t *testing.T) {
	obs := []domain.Observable{
		{Name: "fever", Alias: "Fever", Category: domain.CategorySymptom},
		{Name: "age", Alias: "Age", Category: domain.CategoryPatientInfo},
		{Name: "spo2", Category: domain.CategoryVitals},
	}
	cols := Default().ColumnNames(obs)
	if cols[0] != "patient_id" || cols[1] != "patient_cid" {
		t.Fatalf("unexpected leading columns %v", cols)
	}
	tail := strings.Join(cols[len(cols)-3:], ",")
	if tail != "Age,Fever,spo2" {
		t.Fatalf("unexpected observable columns %s", tail)
	}
}

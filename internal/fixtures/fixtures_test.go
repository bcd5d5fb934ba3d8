package fixtures

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"biodb/internal/centers"
	"biodb/internal/persistence/sqlstore"
	"biodb/internal/registry"
	"biodb/pkg/domain"
)

const doc = `{
  "centers": [{"name": "Imperial", "country": "UK"}, {"name": "Charité", "country": "DE"}],
  "biosample_types": ["Pharyngeal Swab"],
  "measurement_types": ["ATR-FTIR"],
  "instruments": [{"id": "6b1c1f5e-3c1a-4b8e-9a77-4c0f8b0c2a11", "cid": "i-1", "manufacturer": "Agilent", "center": "imperial"}],
  "observables": [
    {"name": "fever", "alias": "Fever", "category": "symptom", "value_type": "bool"},
    {"name": "spo2", "alias": "SpO2 (%)", "category": "vitals", "value_type": "FLOAT", "validator": "percentage"},
    {"name": "ct", "category": "test", "value_type": "float", "centers": ["Charité"]}
  ],
  "qc_annotators": [{"name": "sum", "key": "sum", "value_type": "float"}, {"name": "points", "key": "n_points", "value_type": "int", "default": false}]
}`

func newLoader(t *testing.T) (*Loader, *sqlstore.Store) {
	t.Helper()
	s, err := sqlstore.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "fixtures.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return NewLoader(centers.New(s, nil, zerolog.Nop()), s, registry.Default(), zerolog.Nop()), s
}

func TestLoadIsIdempotent(t *testing.T) {
	l, s := newLoader(t)
	ctx := context.Background()
	d, err := Decode(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	sum, err := l.Load(ctx, d)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if sum.Created != 10 || sum.Skipped != 0 {
		t.Fatalf("first load = %+v", sum)
	}
	again, err := l.Load(ctx, d)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Created != 0 || again.Skipped != 10 {
		t.Fatalf("second load = %+v", again)
	}

	q := s.Queries()
	ct, err := q.GetObservableByName(ctx, "CT")
	if err != nil {
		t.Fatalf("observable: %v", err)
	}
	if len(ct.CenterIDs) != 1 || ct.ValueType != domain.ValueFloat {
		t.Fatalf("ct = %+v", ct)
	}
	spo2, err := q.GetObservableByName(ctx, "spo2")
	if err != nil || spo2.ValidatorKey == nil || *spo2.ValidatorKey != "percentage" || spo2.Alias != "SpO2 (%)" {
		t.Fatalf("spo2 = %+v, %v", spo2, err)
	}
	defaults, err := q.ListQCAnnotators(ctx, true)
	if err != nil || len(defaults) != 1 || defaults[0].Name != "sum" {
		t.Fatalf("default annotators = %+v, %v", defaults, err)
	}
}

func TestLoadRejectsUnknownReferences(t *testing.T) {
	cases := map[string]struct {
		doc   string
		check func(error) bool
	}{
		"unknown center": {
			doc:   `{"instruments": [{"cid": "i-2", "center": "Nowhere"}]}`,
			check: domain.ErrValidation.Has,
		},
		"unregistered validator": {
			doc:   `{"observables": [{"name": "x", "category": "test", "value_type": "int", "validator": "missing"}]}`,
			check: domain.ErrImportResolution.Has,
		},
		"unregistered annotator": {
			doc:   `{"qc_annotators": [{"name": "x", "key": "missing", "value_type": "int"}]}`,
			check: domain.ErrImportResolution.Has,
		},
		"bad category": {
			doc:   `{"observables": [{"name": "x", "category": "mood", "value_type": "int"}]}`,
			check: domain.ErrValidation.Has,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			l, s := newLoader(t)
			ctx := context.Background()
			d, err := Decode(strings.NewReader(tc.doc))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if _, err := l.Load(ctx, d); !tc.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
			if n, _ := s.Queries().Count(ctx, "observable"); n != 0 {
				t.Fatalf("failed load left %d observables", n)
			}
		})
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	if _, err := Decode(strings.NewReader(`{"patients": []}`)); err == nil {
		t.Fatalf("expected error")
	}
}

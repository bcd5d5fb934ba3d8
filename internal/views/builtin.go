package views

import (
	"context"
	"fmt"
	"strings"

	"biodb/internal/persistence/sqlstore"
)

// Built-in view names.
const (
	VisitObservationsName = "visit_observations"
	FullPatientName       = "full_patient"
)

// VisitObservations pivots observation rows into one column per observable,
// one row per visit. Observables named in Exclude (case-insensitive) get no
// column.
type VisitObservations struct {
	Exclude []string
}

func (v *VisitObservations) Name() string { return VisitObservationsName }

func (v *VisitObservations) Dependencies() []View { return nil }

// SQL reads the current observable definitions, so the view must be
// updated after observables are added or renamed.
func (v *VisitObservations) SQL(ctx context.Context, q *sqlstore.Queries) (string, error) {
	observables, err := q.ListObservables(ctx)
	if err != nil {
		return "", err
	}
	excluded := make(map[string]struct{}, len(v.Exclude))
	for _, name := range v.Exclude {
		excluded[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}

	cols := []string{"v.id AS visit_id"}
	for _, o := range observables {
		if _, ok := excluded[strings.ToLower(o.Name)]; ok {
			continue
		}
		if err := CheckName(o.Name); err != nil {
			return "", err
		}
		value := "ob.value"
		if typ := q.Dialect().CastType(o.ValueType); typ != "" {
			value = fmt.Sprintf("CAST(ob.value AS %s)", typ)
		}
		cols = append(cols, fmt.Sprintf("MAX(CASE WHEN o.name = %s THEN %s ELSE NULL END) AS %s",
			sqlstore.QuoteLiteral(o.Name), value, o.Name))
	}

	return "SELECT " + strings.Join(cols, ",\n    ") + `
FROM visit v
LEFT JOIN observation ob ON ob.visit_id = v.id
LEFT JOIN observable o ON o.id = ob.observable_id
GROUP BY v.id`, nil
}

// FullPatient is one row per array data record (or per visit without one)
// carrying the patient, center, sample, instrument and the pivoted
// observations of the visit.
type FullPatient struct {
	Observations *VisitObservations
}

func (v *FullPatient) Name() string { return FullPatientName }

func (v *FullPatient) Dependencies() []View { return []View{v.Observations} }

func (v *FullPatient) SQL(context.Context, *sqlstore.Queries) (string, error) {
	return `SELECT
    p.patient_id,
    p.patient_cid,
    c.name AS center,
    c.country,
    v.previous_visit_id,
    bt.name AS biosample_type,
    b.id AS biosample_id,
    b.sample_processing,
    b.sample_extraction,
    b.sample_extraction_tube,
    b.freezing_temp,
    b.thawing_time,
    b.centrifuge_time,
    b.centrifuge_rpm,
    a.id AS array_data_id,
    a.data_key,
    a.date_measured,
    mt.name AS measurement_type,
    i.manufacturer AS instrument_manufacturer,
    i.model AS instrument_model,
    i.serial_number AS instrument_serial_number,
    vo.*
FROM patient p
JOIN center c ON c.id = p.center_id
JOIN visit v ON v.patient_id = p.patient_id
JOIN ` + v.Observations.Name() + ` vo ON vo.visit_id = v.id
LEFT JOIN biosample b ON b.visit_id = v.id
LEFT JOIN biosample_type bt ON bt.id = b.sample_type_id
LEFT JOIN array_data a ON a.bio_sample_id = b.id
LEFT JOIN measurement_type mt ON mt.id = a.measurement_type_id
LEFT JOIN instrument i ON i.id = a.instrument_id`, nil
}

// Default returns the built-in views, dependencies first.
func Default(exclude []string) []View {
	pivot := &VisitObservations{Exclude: exclude}
	return []View{pivot, &FullPatient{Observations: pivot}}
}

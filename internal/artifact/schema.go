// Package artifact owns the array-data artifact format and its lifecycle:
// deterministic and temporary file naming, the JSON-lines codec, cleanup
// tracking during ingestion, and orphan detection.
package artifact

import (
	"fmt"
	"sort"

	"biodb/pkg/domain"
)

// Schema names the three fields of an artifact record.
type Schema struct {
	Name       string
	PatientKey string
	XKey       string
	YKey       string
}

var (
	// SchemaXY is the default {patient_id, x, y} layout.
	SchemaXY = Schema{Name: "xy", PatientKey: "patient_id", XKey: "x", YKey: "y"}
	// SchemaSpectral is the {patient_id, wavelength, intensity} layout.
	SchemaSpectral = Schema{Name: "spectral", PatientKey: "patient_id", XKey: "wavelength", YKey: "intensity"}
)

// ParseSchema resolves a schema variant by name. The empty name selects SchemaXY.
func ParseSchema(name string) (Schema, error) {
	switch domain.NormalizeChoice(name) {
	case "", SchemaXY.Name:
		return SchemaXY, nil
	case SchemaSpectral.Name:
		return SchemaSpectral, nil
	default:
		return Schema{}, fmt.Errorf("unknown artifact schema %q", name)
	}
}

// Fields returns the sorted field names a record must carry.
func (s Schema) Fields() []string {
	f := []string{s.PatientKey, s.XKey, s.YKey}
	sort.Strings(f)
	return f
}

// Data is the decoded payload of one artifact: an owning patient identifier
// and two equal-length numeric sequences.
type Data struct {
	PatientID string
	X         []float64
	Y         []float64
}

// Len returns the number of points.
func (d Data) Len() int { return len(d.X) }

// Validate checks the sequences are non-empty and of equal length.
func (d Data) Validate() error {
	if len(d.X) != len(d.Y) {
		return domain.ErrValidation.Wrap(&domain.FieldError{
			Entity:  domain.EntityArrayData,
			Field:   "data",
			Code:    domain.CodeInvalidValue,
			Params:  map[string]any{"x": len(d.X), "y": len(d.Y)},
			Message: fmt.Sprintf("x has %d values but y has %d", len(d.X), len(d.Y)),
		})
	}
	if len(d.X) == 0 {
		return domain.NewFieldError(domain.EntityArrayData, "data", domain.CodeRequired, "", "artifact holds no data points")
	}
	return nil
}

// CheckPatient fails when the embedded patient identifier differs from the owner's.
func (d Data) CheckPatient(owner string) error {
	if d.PatientID != owner {
		return domain.NewFieldError(domain.EntityArrayData, "patient_id", domain.CodePatientMismatch, d.PatientID,
			"artifact patient %q does not match owning patient %q", d.PatientID, owner)
	}
	return nil
}

// Package schema describes the bulk-upload columns of each entity and casts
// row cells into typed field values.
package schema

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"biodb/internal/tabular"
	"biodb/pkg/domain"
)

// Field is one bulk-upload column of an entity.
type Field struct {
	Column   string
	Type     domain.ValueType
	Required bool
}

// EntitySchema lists the columns an entity reads from a meta-data row.
type EntitySchema struct {
	Entity domain.EntityType
	Fields []Field
}

// Registry maps entity types to their schemas.
type Registry struct {
	schemas map[domain.EntityType]EntitySchema
	order   []domain.EntityType
}

// Default returns the registry of the built-in entities.
func Default() *Registry {
	r := &Registry{schemas: map[domain.EntityType]EntitySchema{}}
	r.Register(EntitySchema{Entity: domain.EntityPatient, Fields: []Field{
		{Column: tabular.IndexColumn, Type: domain.ValueStr, Required: true},
		{Column: "patient_cid", Type: domain.ValueStr},
	}})
	r.Register(EntitySchema{Entity: domain.EntityBioSample, Fields: []Field{
		{Column: "biosample_type", Type: domain.ValueStr, Required: true},
		{Column: "sample_processing", Type: domain.ValueStr},
		{Column: "sample_extraction", Type: domain.ValueStr},
		{Column: "sample_extraction_tube", Type: domain.ValueStr},
		{Column: "freezing_temp", Type: domain.ValueFloat},
		{Column: "thawing_time", Type: domain.ValueInt},
		{Column: "centrifuge_time", Type: domain.ValueInt},
		{Column: "centrifuge_rpm", Type: domain.ValueInt},
	}})
	r.Register(EntitySchema{Entity: domain.EntityArrayData, Fields: []Field{
		{Column: "instrument_id", Type: domain.ValueStr, Required: true},
		{Column: "measurement_type", Type: domain.ValueStr, Required: true},
		{Column: "acquisition_time", Type: domain.ValueInt},
		{Column: "n_coadditions", Type: domain.ValueInt},
		{Column: "resolution", Type: domain.ValueInt},
		{Column: "power", Type: domain.ValueFloat},
		{Column: "temperature", Type: domain.ValueFloat},
		{Column: "pressure", Type: domain.ValueFloat},
		{Column: "humidity", Type: domain.ValueFloat},
		{Column: "date_measured", Type: domain.ValueStr},
	}})
	return r
}

// Register adds or replaces an entity schema.
func (r *Registry) Register(s EntitySchema) {
	if _, ok := r.schemas[s.Entity]; !ok {
		r.order = append(r.order, s.Entity)
	}
	r.schemas[s.Entity] = s
}

// Schema returns the schema of entity.
func (r *Registry) Schema(entity domain.EntityType) (EntitySchema, bool) {
	s, ok := r.schemas[entity]
	return s, ok
}

// Parse casts the entity's columns of row. Missing optional columns are
// omitted from the result; a missing required column or an uncastable cell
// fails with a domain.ErrValidation field error.
func (r *Registry) Parse(entity domain.EntityType, row tabular.Row) (Values, error) {
	s, ok := r.schemas[entity]
	if !ok {
		return nil, fmt.Errorf("no schema registered for %s", entity)
	}
	out := make(Values, len(s.Fields))
	for _, f := range s.Fields {
		cell := row.Get(f.Column)
		if f.Column == tabular.IndexColumn {
			cell = tabular.Text(row.Key)
		}
		if cell.Missing() {
			if f.Required {
				return nil, domain.NewFieldError(entity, f.Column, domain.CodeRequired, "", "%s is required", f.Column)
			}
			continue
		}
		v, err := Cast(f.Type, cell.Value)
		if err != nil {
			return nil, withField(err, entity, f.Column)
		}
		out[f.Column] = v
	}
	return out, nil
}

// Cast converts raw into the Go value of vt.
func Cast(vt domain.ValueType, raw string) (any, error) { return vt.Cast(raw) }

// Canonical renders v, a value produced by Cast, as stored text.
func Canonical(vt domain.ValueType, v any) string { return vt.Canonical(v) }

// withField stamps entity and column onto a cast failure.
func withField(err error, entity domain.EntityType, column string) error {
	fe, ok := domain.AsFieldError(err)
	if !ok {
		return err
	}
	stamped := *fe
	stamped.Entity = entity
	stamped.Field = column
	return domain.ErrValidation.Wrap(&stamped)
}

// Values holds typed field values keyed by column.
type Values map[string]any

// String returns the text value of col, or nil.
func (v Values) String(col string) *string {
	s, ok := v[col].(string)
	if !ok {
		return nil
	}
	return &s
}

// Require returns the text value of col. A registered schema may leave the
// column optional, so absence is reported as a required field error.
func (v Values) Require(entity domain.EntityType, col string) (string, error) {
	s := v.String(col)
	if s == nil {
		return "", domain.NewFieldError(entity, col, domain.CodeRequired, "", "%s is required", col)
	}
	return *s, nil
}

// Int returns the integer value of col, or nil.
func (v Values) Int(col string) *int64 {
	i, ok := v[col].(int64)
	if !ok {
		return nil
	}
	return &i
}

// Float returns the float value of col, or nil.
func (v Values) Float(col string) *float64 {
	f, ok := v[col].(float64)
	if !ok {
		return nil
	}
	return &f
}

var dateLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02", "01/02/2006"}

// ParseDate accepts RFC 3339 timestamps and common date layouts, returning UTC.
func ParseDate(column, raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, domain.NewFieldError(domain.EntityArrayData, column, domain.CodeInvalidValue, raw, "%q is not a date", raw)
}

// ColumnNames returns the bulk-upload template header: the entity columns
// followed by the aliases of the given observables ordered by category and name.
func (r *Registry) ColumnNames(observables []domain.Observable) []string {
	var cols []string
	seen := map[string]struct{}{}
	add := func(c string) {
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		cols = append(cols, c)
	}
	for _, e := range r.order {
		for _, f := range r.schemas[e].Fields {
			add(f.Column)
		}
	}
	obs := append([]domain.Observable(nil), observables...)
	sort.SliceStable(obs, func(i, j int) bool {
		if obs[i].Category != obs[j].Category {
			return obs[i].Category < obs[j].Category
		}
		return strings.ToLower(obs[i].Name) < strings.ToLower(obs[j].Name)
	})
	for _, o := range obs {
		alias := o.Alias
		if alias == "" {
			alias = o.Name
		}
		add(alias)
	}
	return cols
}

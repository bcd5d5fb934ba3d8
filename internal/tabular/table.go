// Package tabular reads bulk-upload tables (CSV, XLSX, JSON lines) into
// normalized, patient-indexed in-memory tables and joins meta data with
// array data.
package tabular

import (
	"regexp"
	"strings"
)

// IndexColumn is the normalized name of the join key column.
const IndexColumn = "patient_id"

// Cell is one table value. The zero Cell is missing.
type Cell struct {
	Value string
	Valid bool
}

// Text returns a present cell holding s.
func Text(s string) Cell { return Cell{Value: s, Valid: true} }

// Missing reports whether the cell holds no value.
func (c Cell) Missing() bool { return !c.Valid }

// nullTokens are compared case-insensitively after trimming.
var nullTokens = map[string]struct{}{
	"": {}, "unknown": {}, "na": {}, "none": {}, "n/a": {}, "nan": {}, "-nan": {}, "null": {},
	"<na>": {}, "#n/a": {}, "#n/a n/a": {}, "#na": {}, "-1.#ind": {}, "-1.#qnan": {}, "1.#ind": {}, "1.#qnan": {},
}

// ParseCell turns raw text into a Cell, mapping null tokens to missing.
func ParseCell(raw string) Cell {
	s := strings.TrimSpace(raw)
	if _, ok := nullTokens[strings.ToLower(s)]; ok {
		return Cell{}
	}
	return Text(s)
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// columnAliases maps normalized spellings onto canonical column names.
var columnAliases = map[string]string{
	"patient":             IndexColumn,
	"patientid":           IndexColumn,
	"patient_identifier":  IndexColumn,
	"patient_uuid":        IndexColumn,
	"center_patient_id":   "patient_cid",
	"sample_type":         "biosample_type",
	"instrument":          "instrument_id",
	"spectra_measurement": "measurement_type",
}

// NormalizeColumn lowercases name, collapses non-alphanumeric runs to "_"
// and applies the alias table, so "Patient ID" becomes "patient_id".
func NormalizeColumn(name string) string {
	n := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
	n = strings.Trim(nonAlnum.ReplaceAllString(n, "_"), "_")
	if alias, ok := columnAliases[n]; ok {
		return alias
	}
	return n
}

// Table is a fully materialized, patient-indexed table. Rows keep file order.
type Table struct {
	columns []string
	colIdx  map[string]int
	index   []string
	rows    [][]Cell
}

// Row is a view of one table row.
type Row struct {
	Key   string
	table *Table
	cells []Cell
}

// Columns returns the normalized column names, index column included.
func (t *Table) Columns() []string { return append([]string(nil), t.columns...) }

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Index returns the row keys in order.
func (t *Table) Index() []string { return append([]string(nil), t.index...) }

// HasColumn reports whether the normalized column exists.
func (t *Table) HasColumn(col string) bool {
	_, ok := t.colIdx[col]
	return ok
}

// Row returns the i-th row.
func (t *Table) Row(i int) Row {
	return Row{Key: t.index[i], table: t, cells: t.rows[i]}
}

// Rows returns every row; calling it again restarts from the first row.
func (t *Table) Rows() []Row {
	out := make([]Row, len(t.rows))
	for i := range t.rows {
		out[i] = t.Row(i)
	}
	return out
}

// Get returns the cell under the normalized column name. Unknown columns are missing.
func (r Row) Get(col string) Cell {
	if r.table == nil {
		return Cell{}
	}
	i, ok := r.table.colIdx[col]
	if !ok || i >= len(r.cells) {
		return Cell{}
	}
	return r.cells[i]
}

// Has reports whether the row's table has the column.
func (r Row) Has(col string) bool {
	return r.table != nil && r.table.HasColumn(col)
}

// Values returns the present cells keyed by column.
func (r Row) Values() map[string]string {
	out := make(map[string]string, len(r.cells))
	if r.table == nil {
		return out
	}
	for i, col := range r.table.columns {
		if i < len(r.cells) && r.cells[i].Valid {
			out[col] = r.cells[i].Value
		}
	}
	return out
}

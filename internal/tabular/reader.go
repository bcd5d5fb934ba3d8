package tabular

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"biodb/internal/artifact"
	"biodb/pkg/domain"
)

var (
	// ErrAmbiguousSource is returned for a stream without an explicit extension.
	ErrAmbiguousSource = errors.New("tabular: a stream source needs an explicit extension")
	// ErrUnsupportedFormat is returned for extensions other than csv, xlsx and jsonl.
	ErrUnsupportedFormat = errors.New("tabular: unsupported file format")
)

// Supported extensions.
const (
	ExtCSV   = ".csv"
	ExtXLSX  = ".xlsx"
	ExtJSONL = ".jsonl"
)

// Source is a path or an already opened stream. Ext, when set, overrides
// the extension of Path and is required for Reader-only sources.
type Source struct {
	Path   string
	Reader io.Reader
	Ext    string
}

// FileSource returns a Source reading the file at path.
func FileSource(path string) Source { return Source{Path: path} }

func (s Source) ext() (string, error) {
	ext := s.Ext
	if ext == "" {
		if s.Path == "" {
			return "", ErrAmbiguousSource
		}
		ext = filepath.Ext(s.Path)
	}
	ext = strings.ToLower(strings.TrimSpace(ext))
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	switch ext {
	case ExtCSV, ExtXLSX, ExtJSONL:
		return ext, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

func (s Source) open() (io.Reader, func(), error) {
	if s.Reader != nil {
		return s.Reader, func() {}, nil
	}
	if s.Path == "" {
		return nil, nil, ErrAmbiguousSource
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

// ReadMeta parses a meta-data table and indexes it by patient_id.
func ReadMeta(src Source) (*Table, error) {
	ext, err := src.ext()
	if err != nil {
		return nil, err
	}
	r, closeFn, err := src.open()
	if err != nil {
		return nil, err
	}
	defer closeFn()
	var (
		header []string
		rows   [][]Cell
	)
	switch ext {
	case ExtJSONL:
		header, rows, err = readJSONLCells(r)
	default:
		var raw [][]string
		header, raw, err = readGrid(r, ext)
		rows = make([][]Cell, len(raw))
		for i, rec := range raw {
			rows[i] = make([]Cell, len(rec))
			for j, v := range rec {
				rows[i][j] = ParseCell(v)
			}
		}
	}
	if err != nil {
		return nil, err
	}
	return NewTable(header, rows)
}

// NewTable normalizes header, drops blank rows and indexes the rest by
// the patient_id column.
func NewTable(header []string, rows [][]Cell) (*Table, error) {
	t := &Table{colIdx: make(map[string]int, len(header))}
	for i, h := range header {
		col := NormalizeColumn(h)
		if col == "" {
			col = "column_" + strconv.Itoa(i)
		}
		if _, dup := t.colIdx[col]; dup {
			return nil, domain.NewFieldError("", col, domain.CodeDuplicate, h, "column %q appears more than once after normalization", col)
		}
		t.colIdx[col] = i
		t.columns = append(t.columns, col)
	}
	keyIdx, ok := t.colIdx[IndexColumn]
	if !ok {
		return nil, domain.NewFieldError("", IndexColumn, domain.CodeRequired, "", "table has no %s column", IndexColumn)
	}
	for n, row := range rows {
		if blank(row) {
			continue
		}
		cells := make([]Cell, len(t.columns))
		copy(cells, row)
		key := cells[keyIdx]
		if key.Missing() {
			return nil, domain.ErrValidation.Wrap(&domain.FieldError{
				Field:   IndexColumn,
				Code:    domain.CodeRequired,
				Params:  map[string]any{"row": n + 1},
				Message: fmt.Sprintf("row %d has no %s", n+1, IndexColumn),
			})
		}
		t.index = append(t.index, strings.TrimSpace(key.Value))
		t.rows = append(t.rows, cells)
	}
	return t, nil
}

func blank(row []Cell) bool {
	for _, c := range row {
		if c.Valid {
			return false
		}
	}
	return true
}

// readGrid returns the header and data rows of a CSV or XLSX source as raw
// text. Short rows are padded to the header width.
func readGrid(r io.Reader, ext string) ([]string, [][]string, error) {
	var all [][]string
	switch ext {
	case ExtCSV:
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		cr.TrimLeadingSpace = true
		recs, err := cr.ReadAll()
		if err != nil {
			return nil, nil, fmt.Errorf("read csv: %w", err)
		}
		all = recs
	case ExtXLSX:
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("open xlsx: %w", err)
		}
		defer func() { _ = f.Close() }()
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, nil, fmt.Errorf("xlsx workbook has no sheets")
		}
		recs, err := f.GetRows(sheets[0])
		if err != nil {
			return nil, nil, fmt.Errorf("read xlsx sheet %s: %w", sheets[0], err)
		}
		all = recs
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if len(all) == 0 {
		return nil, nil, fmt.Errorf("table is empty")
	}
	header := all[0]
	rows := all[1:]
	for i, rec := range rows {
		if len(rec) > len(header) {
			return nil, nil, fmt.Errorf("row %d has %d fields, header has %d", i+1, len(rec), len(header))
		}
		if len(rec) < len(header) {
			padded := make([]string, len(header))
			copy(padded, rec)
			rows[i] = padded
		}
	}
	return header, rows, nil
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	return sc
}

// readJSONLCells reads one JSON object per line. Columns are the union of
// all record keys; absent keys and JSON null are missing.
func readJSONLCells(r io.Reader) ([]string, [][]Cell, error) {
	var (
		header []string
		pos    = map[string]int{}
		recs   []map[string]any
	)
	sc := newLineScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(text))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}
		recs = append(recs, obj)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	// keys new to a record are appended in sorted order
	for _, obj := range recs {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			if _, seen := pos[k]; !seen {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			pos[k] = len(header)
			header = append(header, k)
		}
	}
	rows := make([][]Cell, len(recs))
	for i, obj := range recs {
		cells := make([]Cell, len(header))
		for k, v := range obj {
			c, err := jsonCell(v)
			if err != nil {
				return nil, nil, fmt.Errorf("record %d field %s: %w", i+1, k, err)
			}
			cells[pos[k]] = c
		}
		rows[i] = cells
	}
	return header, rows, nil
}

func jsonCell(v any) (Cell, error) {
	switch x := v.(type) {
	case nil:
		return Cell{}, nil
	case string:
		return ParseCell(x), nil
	case json.Number:
		return Text(x.String()), nil
	case bool:
		return Text(strconv.FormatBool(x)), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return Cell{}, err
		}
		return Text(string(b)), nil
	}
}

// ArrayTable holds one artifact payload per patient key, in file order.
type ArrayTable struct {
	Schema  artifact.Schema
	Records []artifact.Data
}

// Len returns the number of records.
func (a *ArrayTable) Len() int { return len(a.Records) }

// Index returns the record keys in order.
func (a *ArrayTable) Index() []string {
	out := make([]string, len(a.Records))
	for i, r := range a.Records {
		out[i] = r.PatientID
	}
	return out
}

// ReadArray parses an array-data table. CSV and XLSX sources are wide: the
// first column holds the patient key, the remaining header cells are the x
// values and each row's cells are its y values (missing cells drop the
// point). JSON-lines sources hold one artifact record per line and must
// match schema's field set exactly.
func ReadArray(src Source, schema artifact.Schema) (*ArrayTable, error) {
	ext, err := src.ext()
	if err != nil {
		return nil, err
	}
	r, closeFn, err := src.open()
	if err != nil {
		return nil, err
	}
	defer closeFn()
	out := &ArrayTable{Schema: schema}
	if ext == ExtJSONL {
		sc := newLineScanner(r)
		for sc.Scan() {
			text := bytes.TrimSpace(sc.Bytes())
			if len(text) == 0 {
				continue
			}
			d, err := artifact.DecodeRecord(text, schema)
			if err != nil {
				return nil, fmt.Errorf("array record %d: %w", out.Len()+1, err)
			}
			out.Records = append(out.Records, d)
		}
		return out, sc.Err()
	}
	header, rows, err := readGrid(r, ext)
	if err != nil {
		return nil, err
	}
	if NormalizeColumn(header[0]) != IndexColumn {
		return nil, domain.NewFieldError(domain.EntityArrayData, IndexColumn, domain.CodeRequired, header[0],
			"first array-data column must be %s, got %q", IndexColumn, header[0])
	}
	xs := make([]float64, len(header)-1)
	for i, h := range header[1:] {
		x, err := strconv.ParseFloat(strings.TrimSpace(h), 64)
		if err != nil {
			return nil, domain.NewFieldError(domain.EntityArrayData, schema.XKey, domain.CodeInvalidValue, h,
				"array-data header %q is not a number", h)
		}
		xs[i] = x
	}
	for n, rec := range rows {
		key := ParseCell(rec[0])
		if key.Missing() {
			if allBlank(rec) {
				continue
			}
			return nil, domain.NewFieldError(domain.EntityArrayData, IndexColumn, domain.CodeRequired, "", "array-data row %d has no %s", n+1, IndexColumn)
		}
		d := artifact.Data{PatientID: key.Value}
		for i, raw := range rec[1:] {
			c := ParseCell(raw)
			if c.Missing() {
				continue
			}
			y, err := strconv.ParseFloat(c.Value, 64)
			if err != nil {
				return nil, domain.NewFieldError(domain.EntityArrayData, schema.YKey, domain.CodeInvalidValue, c.Value,
					"array-data row %d: %q is not a number", n+1, c.Value)
			}
			d.X = append(d.X, xs[i])
			d.Y = append(d.Y, y)
		}
		out.Records = append(out.Records, d)
	}
	return out, nil
}

func allBlank(rec []string) bool {
	for _, v := range rec {
		if !ParseCell(v).Missing() {
			return false
		}
	}
	return true
}

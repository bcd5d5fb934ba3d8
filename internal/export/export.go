// Package export renders view contents and bulk-upload templates as CSV,
// JSON or XLSX and stores the results in the blob store.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"biodb/internal/artifact"
	"biodb/internal/blob"
	"biodb/internal/persistence/sqlstore"
	"biodb/internal/schema"
	"biodb/internal/views"
)

// Format is an export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// DefaultPrefix is the blob directory exports are written under.
const DefaultPrefix = "exports"

const sheet = "Sheet1"

// ParseFormat resolves a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv"
	}
}

// Table is a rectangular result set.
type Table struct {
	Columns []string
	Rows    [][]any
}

// Query reads every row of the named view.
func Query(ctx context.Context, q *sqlstore.Queries, view string) (Table, error) {
	if err := views.CheckName(view); err != nil {
		return Table{}, err
	}
	rows, err := q.Query(ctx, "SELECT * FROM "+view)
	if err != nil {
		return Table{}, fmt.Errorf("query %s: %w", view, err)
	}
	defer func() { _ = rows.Close() }()
	cols, err := rows.Columns()
	if err != nil {
		return Table{}, err
	}
	t := Table{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Table{}, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		t.Rows = append(t.Rows, vals)
	}
	return t, rows.Err()
}

// Template returns the empty bulk-upload table for the current observables.
func Template(ctx context.Context, q *sqlstore.Queries, schemas *schema.Registry) (Table, error) {
	observables, err := q.ListObservables(ctx)
	if err != nil {
		return Table{}, err
	}
	return Table{Columns: schemas.ColumnNames(observables)}, nil
}

// Render encodes t in format.
func Render(format Format, t Table) ([]byte, error) {
	switch format {
	case FormatJSON:
		records := make([]map[string]any, 0, len(t.Rows))
		for _, row := range t.Rows {
			rec := make(map[string]any, len(t.Columns))
			for i, col := range t.Columns {
				rec[col] = row[i]
			}
			records = append(records, rec)
		}
		payload, err := json.Marshal(records)
		if err != nil {
			return nil, fmt.Errorf("marshal json: %w", err)
		}
		return payload, nil
	case FormatCSV:
		buf := &bytes.Buffer{}
		writer := csv.NewWriter(buf)
		if err := writer.Write(t.Columns); err != nil {
			return nil, err
		}
		for _, row := range t.Rows {
			record := make([]string, len(row))
			for i, v := range row {
				record[i] = formatValue(v)
			}
			if err := writer.Write(record); err != nil {
				return nil, err
			}
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatXLSX:
		return renderXLSX(t)
	default:
		return nil, fmt.Errorf("unsupported export format %s", format)
	}
}

func renderXLSX(t Table) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	header := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for i, row := range t.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		vals := make([]any, len(row))
		for j, v := range row {
			if ts, ok := v.(time.Time); ok {
				vals[j] = formatValue(ts)
				continue
			}
			vals[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &vals); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case float64:
		return fmt.Sprintf("%g", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(v)
	}
}

// Exporter stores rendered views in the blob store.
type Exporter struct {
	store  *sqlstore.Store
	blobs  blob.Store
	prefix string
	log    zerolog.Logger
	now    func() time.Time
}

// New constructs an exporter writing under prefix (DefaultPrefix when empty).
func New(store *sqlstore.Store, blobs blob.Store, prefix string, log zerolog.Logger) *Exporter {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Exporter{store: store, blobs: blobs, prefix: prefix, log: log, now: time.Now}
}

// Export queries view once and stores one object per format.
func (e *Exporter) Export(ctx context.Context, view string, formats ...Format) ([]blob.Info, error) {
	if len(formats) == 0 {
		formats = []Format{FormatCSV}
	}
	t, err := Query(ctx, e.store.Queries(), view)
	if err != nil {
		return nil, err
	}
	stamp := e.now().UTC().Format("20060102T150405Z")
	out := make([]blob.Info, 0, len(formats))
	for _, format := range formats {
		payload, err := Render(format, t)
		if err != nil {
			return out, err
		}
		key := artifact.Key(e.prefix, fmt.Sprintf("%s_%s.%s", view, stamp, format))
		info, err := e.blobs.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
			ContentType: format.ContentType(),
			Metadata:    map[string]string{"view": view, "rows": fmt.Sprint(len(t.Rows))},
		})
		if err != nil {
			return out, fmt.Errorf("store export %s: %w", key, err)
		}
		e.log.Info().Str("view", view).Str("key", key).Int("rows", len(t.Rows)).Msg("view exported")
		out = append(out, info)
	}
	return out, nil
}

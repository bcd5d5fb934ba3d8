package artifact

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"biodb/pkg/domain"
)

// ContentType is recorded on every stored artifact.
const ContentType = "application/jsonl"

// Encode writes d as a single JSON-lines record using the schema's field names.
func Encode(w io.Writer, schema Schema, d Data) error {
	if err := d.Validate(); err != nil {
		return err
	}
	rec := map[string]any{
		schema.PatientKey: d.PatientID,
		schema.XKey:       d.X,
		schema.YKey:       d.Y,
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// Marshal is Encode into a byte slice.
func Marshal(schema Schema, d Data) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, schema, d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads the first non-blank record of a JSON-lines artifact. A record
// whose field-name set differs from the schema fails with domain.ErrSchema.
func Decode(r io.Reader, schema Schema) (Data, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		return DecodeRecord([]byte(line), schema)
	}
	if err := sc.Err(); err != nil {
		return Data{}, fmt.Errorf("read artifact: %w", err)
	}
	return Data{}, domain.ErrSchema.New("artifact is empty")
}

// DecodeRecord decodes one JSON object in the schema's layout.
func DecodeRecord(line []byte, schema Schema) (Data, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return Data{}, domain.ErrSchema.New("artifact record is not a JSON object: %v", err)
	}
	got := make([]string, 0, len(raw))
	for k := range raw {
		got = append(got, k)
	}
	if !sameFields(schema.Fields(), got) {
		return Data{}, domain.NewSchemaMismatch(schema.Fields(), got)
	}
	var d Data
	patient, err := decodeIdentifier(raw[schema.PatientKey])
	if err != nil {
		return Data{}, domain.ErrSchema.New("field %s: %v", schema.PatientKey, err)
	}
	d.PatientID = patient
	if err := json.Unmarshal(raw[schema.XKey], &d.X); err != nil {
		return Data{}, domain.ErrSchema.New("field %s: %v", schema.XKey, err)
	}
	if err := json.Unmarshal(raw[schema.YKey], &d.Y); err != nil {
		return Data{}, domain.ErrSchema.New("field %s: %v", schema.YKey, err)
	}
	if err := d.Validate(); err != nil {
		return Data{}, err
	}
	return d, nil
}

// decodeIdentifier accepts a JSON string or number and returns its text form
// without a float round trip.
func decodeIdentifier(raw json.RawMessage) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), nil
	case json.Number:
		return x.String(), nil
	default:
		return "", fmt.Errorf("expected string identifier, got %T", v)
	}
}

func sameFields(want, got []string) bool {
	if len(want) != len(got) {
		return false
	}
	set := make(map[string]struct{}, len(want))
	for _, f := range want {
		set[f] = struct{}{}
	}
	for _, f := range got {
		if _, ok := set[f]; !ok {
			return false
		}
	}
	return true
}

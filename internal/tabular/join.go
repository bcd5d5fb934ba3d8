package tabular

import (
	"sort"

	"biodb/internal/artifact"
	"biodb/pkg/domain"
)

// JoinedRow pairs one meta-data row with the array data of the same key.
type JoinedRow struct {
	Key   string
	Meta  Row
	Array artifact.Data
}

// ValidateLengths fails with domain.ErrStructuralMismatch carrying both row
// counts when the tables differ in length.
func ValidateLengths(meta *Table, array *ArrayTable) error {
	if meta.Len() != array.Len() {
		return domain.ErrStructuralMismatch.Wrap(&domain.LengthMismatch{MetaRows: meta.Len(), ArrayRows: array.Len()})
	}
	return nil
}

// JoinWithValidation performs a 1:1 join on the patient key. Both indices
// must be duplicate free and set-equal. The result follows meta-data order.
func JoinWithValidation(meta *Table, array *ArrayTable) ([]JoinedRow, error) {
	if err := ValidateLengths(meta, array); err != nil {
		return nil, err
	}
	if dups := duplicates(meta.Index()); len(dups) > 0 {
		return nil, domain.ErrStructuralMismatch.Wrap(&domain.DuplicateKeys{Table: "meta data", Keys: dups})
	}
	if dups := duplicates(array.Index()); len(dups) > 0 {
		return nil, domain.ErrStructuralMismatch.Wrap(&domain.DuplicateKeys{Table: "array data", Keys: dups})
	}
	byKey := make(map[string]artifact.Data, array.Len())
	for _, rec := range array.Records {
		byKey[rec.PatientID] = rec
	}
	var missingInArray []string
	metaKeys := make(map[string]struct{}, meta.Len())
	for _, k := range meta.Index() {
		metaKeys[k] = struct{}{}
		if _, ok := byKey[k]; !ok {
			missingInArray = append(missingInArray, k)
		}
	}
	var missingInMeta []string
	for _, k := range array.Index() {
		if _, ok := metaKeys[k]; !ok {
			missingInMeta = append(missingInMeta, k)
		}
	}
	if len(missingInArray) > 0 || len(missingInMeta) > 0 {
		sort.Strings(missingInArray)
		sort.Strings(missingInMeta)
		return nil, domain.ErrStructuralMismatch.Wrap(&domain.IndexMismatch{MissingInArray: missingInArray, MissingInMeta: missingInMeta})
	}
	out := make([]JoinedRow, 0, meta.Len())
	for _, row := range meta.Rows() {
		out = append(out, JoinedRow{Key: row.Key, Meta: row, Array: byKey[row.Key]})
	}
	return out, nil
}

// Read loads both sources and joins them.
func Read(meta, array Source, schema artifact.Schema) ([]JoinedRow, error) {
	m, err := ReadMeta(meta)
	if err != nil {
		return nil, err
	}
	a, err := ReadArray(array, schema)
	if err != nil {
		return nil, err
	}
	return JoinWithValidation(m, a)
}

func duplicates(keys []string) []string {
	seen := make(map[string]int, len(keys))
	var dups []string
	for _, k := range keys {
		seen[k]++
		if seen[k] == 2 {
			dups = append(dups, k)
		}
	}
	sort.Strings(dups)
	return dups
}

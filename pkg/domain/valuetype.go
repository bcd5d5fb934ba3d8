package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueType is the declared type of an observable, column or annotator value.
type ValueType string

// Supported value types.
const (
	ValueBool  ValueType = "BOOL"
	ValueStr   ValueType = "STR"
	ValueInt   ValueType = "INT"
	ValueFloat ValueType = "FLOAT"
)

var valueTypes = []ValueType{ValueBool, ValueStr, ValueInt, ValueFloat}

// ParseValueType resolves a value type name using NormalizeChoice semantics.
func ParseValueType(s string) (ValueType, error) {
	want := NormalizeChoice(s)
	for _, vt := range valueTypes {
		if NormalizeChoice(string(vt)) == want {
			return vt, nil
		}
	}
	return "", fmt.Errorf("unknown value type %q", s)
}

// Numeric reports whether values of the type are numbers.
func (t ValueType) Numeric() bool {
	return t == ValueInt || t == ValueFloat
}

// Cast converts raw text into the Go value of the type: bool, string, int64 or float64.
// Cast never returns a raw strconv error; failures are ErrValidation field errors.
func (t ValueType) Cast(raw string) (any, error) {
	s := strings.TrimSpace(raw)
	switch t {
	case ValueStr:
		return raw, nil
	case ValueBool:
		b, ok := ParseBool(s)
		if !ok {
			return nil, castError(t, raw)
		}
		return b, nil
	case ValueInt:
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		// Spreadsheets often render whole numbers as "3.0".
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return nil, castError(t, raw)
		}
		return int64(f), nil
	case ValueFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) {
			return nil, castError(t, raw)
		}
		return f, nil
	default:
		return nil, ErrValidation.Wrap(&FieldError{Code: CodeInvalidType, Value: string(t), Message: fmt.Sprintf("unknown value type %q", t)})
	}
}

// Canonical renders a value produced by Cast in the stored text form.
func (t ValueType) Canonical(v any) string {
	switch x := v.(type) {
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		if t == ValueInt {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return x
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

func castError(t ValueType, raw string) error {
	return ErrValidation.Wrap(&FieldError{
		Code:    CodeInvalidValue,
		Value:   raw,
		Params:  map[string]any{"type": string(t)},
		Message: fmt.Sprintf("%q cannot be cast to %s", raw, t),
	})
}

// ParseBool recognizes yes/true and no/false case-insensitively, plus the
// literals accepted by strconv.ParseBool.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true":
		return true, true
	case "no", "false":
		return false, true
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, false
	}
	return b, true
}

// Category groups observables.
type Category string

// Observable categories.
const (
	CategoryBloodwork          Category = "bloodwork"
	CategoryComorbidity        Category = "comorbidity"
	CategoryDrug               Category = "drug"
	CategoryPatientInfo        Category = "patient_info"
	CategoryPatientInfoII      Category = "patient_info_ii"
	CategoryPatientPreexisting Category = "patient_preexisting"
	CategorySymptom            Category = "symptom"
	CategoryTest               Category = "test"
	CategoryVitals             Category = "vitals"
)

var categories = []Category{
	CategoryBloodwork, CategoryComorbidity, CategoryDrug, CategoryPatientInfo, CategoryPatientInfoII,
	CategoryPatientPreexisting, CategorySymptom, CategoryTest, CategoryVitals,
}

// ParseCategory resolves a category with NormalizeChoice semantics.
func ParseCategory(s string) (Category, error) {
	want := NormalizeChoice(s)
	for _, c := range categories {
		if NormalizeChoice(string(c)) == want {
			return c, nil
		}
	}
	return "", ErrValidation.Wrap(&FieldError{
		Entity:  EntityObservable,
		Field:   "category",
		Code:    CodeInvalidChoice,
		Value:   s,
		Message: fmt.Sprintf("unknown category %q", s),
	})
}

// NormalizeChoice folds case and treats '_' and '-' as equivalent, so that
// "Patient-Info", "patient_info" and "PATIENT_INFO" compare equal.
func NormalizeChoice(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
}

package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/errs"
)

// Error classes. Structured payloads below are wrapped by these classes so
// callers can use both Class.Has and errors.As.
var (
	// ErrStructuralMismatch covers unequal table lengths and non-matching or duplicate join keys.
	ErrStructuralMismatch = errs.Class("structural mismatch")
	// ErrValidation covers field-level and cross-field semantic violations.
	ErrValidation = errs.Class("validation")
	// ErrSchema covers malformed array-data artifacts.
	ErrSchema = errs.Class("schema")
	// ErrSecurity is raised when a name used to build SQL text fails sanitization.
	ErrSecurity = errs.Class("security fault")
	// ErrImportResolution is raised when a configured implementation key is not registered.
	ErrImportResolution = errs.Class("import resolution")
)

// Validation error codes carried by FieldError.Code.
const (
	CodeRequired               = "required"
	CodeInvalidValue           = "invalid_value"
	CodeInvalidType            = "invalid_type"
	CodeInvalidChoice          = "invalid_choice"
	CodeNotFound               = "not_found"
	CodeDuplicate              = "duplicate"
	CodeNotVisible             = "not_visible"
	CodeVisitOrder             = "visit_order"
	CodeAmbiguousPreviousVisit = "ambiguous_previous_visit"
	CodeIdentifierConflict     = "identifier_conflict"
	CodeUnresolvedKey          = "unresolved_key"
	CodePatientMismatch        = "patient_mismatch"
)

// FieldError is a structured validation failure.
type FieldError struct {
	Entity  EntityType
	Field   string
	Code    string
	Value   string
	Params  map[string]any
	Message string
}

func (e *FieldError) Error() string {
	var b strings.Builder
	if e.Entity != "" {
		b.WriteString(string(e.Entity))
		if e.Field != "" {
			b.WriteByte('.')
		}
	}
	b.WriteString(e.Field)
	if b.Len() > 0 {
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(e.Code)
	}
	return b.String()
}

// NewFieldError returns a FieldError wrapped by ErrValidation.
func NewFieldError(entity EntityType, field, code, value, format string, args ...any) error {
	return ErrValidation.Wrap(&FieldError{
		Entity:  entity,
		Field:   field,
		Code:    code,
		Value:   value,
		Message: fmt.Sprintf(format, args...),
	})
}

// LengthMismatch reports tables with a different number of rows.
type LengthMismatch struct {
	MetaRows  int
	ArrayRows int
}

func (e *LengthMismatch) Error() string {
	return fmt.Sprintf("meta data has %d rows but array data has %d rows", e.MetaRows, e.ArrayRows)
}

// IndexMismatch reports join keys present in only one table.
type IndexMismatch struct {
	MissingInArray []string
	MissingInMeta  []string
}

func (e *IndexMismatch) Error() string {
	return fmt.Sprintf("patient index mismatch: %d key(s) missing from array data %v, %d key(s) missing from meta data %v",
		len(e.MissingInArray), preview(e.MissingInArray), len(e.MissingInMeta), preview(e.MissingInMeta))
}

// DuplicateKeys reports repeated join keys which would make the join non 1:1.
type DuplicateKeys struct {
	Table string
	Keys  []string
}

func (e *DuplicateKeys) Error() string {
	return fmt.Sprintf("%s contains %d duplicate patient key(s) %v", e.Table, len(e.Keys), preview(e.Keys))
}

// SchemaMismatch reports an artifact whose field set differs from the expected one.
type SchemaMismatch struct {
	Expected []string
	Got      []string
}

func (e *SchemaMismatch) Error() string {
	return fmt.Sprintf("artifact fields %v do not match expected %v", e.Got, e.Expected)
}

// NewSchemaMismatch sorts both field sets and wraps the result in ErrSchema.
func NewSchemaMismatch(expected, got []string) error {
	exp := append([]string(nil), expected...)
	g := append([]string(nil), got...)
	sort.Strings(exp)
	sort.Strings(g)
	return ErrSchema.Wrap(&SchemaMismatch{Expected: exp, Got: g})
}

// NewImportResolutionError reports an unregistered implementation key. The
// failure is a deployment mismatch, so it is classed as both import
// resolution and validation.
func NewImportResolutionError(kind, key string) error {
	inner := ErrImportResolution.Wrap(&FieldError{
		Field:   kind,
		Code:    CodeUnresolvedKey,
		Value:   key,
		Message: fmt.Sprintf("%s %q is not registered in this build; redeploy with a binary that provides it or fix the configured key", kind, key),
	})
	return ErrValidation.Wrap(inner)
}

func preview(keys []string) []string {
	const max = 5
	if len(keys) <= max {
		return keys
	}
	return keys[:max]
}

// AsFieldError returns the FieldError carried by err, if any.
func AsFieldError(err error) (*FieldError, bool) {
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

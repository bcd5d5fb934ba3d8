// Package registry maps stable string keys to statically linked validator
// and QC annotator implementations. Observables and annotators store the
// key; the implementation is resolved here at validation time.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"biodb/internal/artifact"
	"biodb/pkg/domain"
)

// Validator checks one raw observation value.
type Validator interface {
	Validate(value string) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(value string) error

// Validate calls f(value).
func (f ValidatorFunc) Validate(value string) error { return f(value) }

// Annotator computes one quality-control value from an artifact.
type Annotator interface {
	ValueType() domain.ValueType
	Run(data artifact.Data) (any, error)
}

type annotatorFunc struct {
	vt domain.ValueType
	fn func(artifact.Data) (any, error)
}

func (a annotatorFunc) ValueType() domain.ValueType { return a.vt }
func (a annotatorFunc) Run(data artifact.Data) (any, error) { return a.fn(data) }

// AnnotatorFunc builds an Annotator declaring vt.
func AnnotatorFunc(vt domain.ValueType, fn func(artifact.Data) (any, error)) Annotator {
	return annotatorFunc{vt: vt, fn: fn}
}

// Registry accumulates implementations during startup. It is safe for
// concurrent lookups once populated.
type Registry struct {
	mu         sync.RWMutex
	validators map[string]Validator
	annotators map[string]Annotator
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{
		validators: make(map[string]Validator),
		annotators: make(map[string]Annotator),
	}
}

// RegisterValidator binds key to v. Keys are registered once.
func (r *Registry) RegisterValidator(key string, v Validator) error {
	if key == "" || v == nil {
		return fmt.Errorf("validator registration requires a key and an implementation")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.validators[key]; exists {
		return fmt.Errorf("validator %s already registered", key)
	}
	r.validators[key] = v
	return nil
}

// RegisterAnnotator binds key to a.
func (r *Registry) RegisterAnnotator(key string, a Annotator) error {
	if key == "" || a == nil {
		return fmt.Errorf("annotator registration requires a key and an implementation")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.annotators[key]; exists {
		return fmt.Errorf("annotator %s already registered", key)
	}
	r.annotators[key] = a
	return nil
}

// Validator resolves key, failing with an import-resolution error when the
// running binary does not provide it.
func (r *Registry) Validator(key string) (Validator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[key]
	if !ok {
		return nil, domain.NewImportResolutionError("validator", key)
	}
	return v, nil
}

// Annotator resolves key like Validator.
func (r *Registry) Annotator(key string) (Annotator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.annotators[key]
	if !ok {
		return nil, domain.NewImportResolutionError("annotator", key)
	}
	return a, nil
}

// ValidatorKeys returns the registered validator keys, sorted.
func (r *Registry) ValidatorKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.validators)
}

// AnnotatorKeys returns the registered annotator keys, sorted.
func (r *Registry) AnnotatorKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.annotators)
}

func sortedKeys[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Default returns a registry populated with the built-in implementations.
func Default() *Registry {
	r := New()
	for key, v := range builtinValidators {
		if err := r.RegisterValidator(key, v); err != nil {
			panic(err)
		}
	}
	for key, a := range builtinAnnotators {
		if err := r.RegisterAnnotator(key, a); err != nil {
			panic(err)
		}
	}
	return r
}

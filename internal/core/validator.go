package core

import (
	"context"
	"fmt"
	"strings"

	"biodb/internal/persistence/sqlstore"
	"biodb/internal/registry"
	"biodb/pkg/domain"
)

// DefaultAgeObservable names the observable whose values order a visit chain.
const DefaultAgeObservable = "age"

// Options configures validation behavior.
type Options struct {
	// AgeObservable is matched case-insensitively against observable names.
	AgeObservable string
}

// ValidatorSource resolves observable validator keys.
type ValidatorSource interface {
	Validator(key string) (registry.Validator, error)
}

// Validator runs the rules engine over pending writes.
type Validator struct {
	engine *RulesEngine
	opts   Options
}

// NewValidator builds a validator with the default rule set.
func NewValidator(validators ValidatorSource, opts Options) *Validator {
	if opts.AgeObservable == "" {
		opts.AgeObservable = DefaultAgeObservable
	}
	return &Validator{engine: NewDefaultRulesEngine(validators, opts), opts: opts}
}

// Check evaluates the change and converts blocking violations into an
// ErrValidation error.
func (v *Validator) Check(ctx context.Context, q *sqlstore.Queries, change Change) error {
	res, err := v.engine.Evaluate(ctx, q, []Change{change})
	if err != nil {
		return err
	}
	return res.Err()
}

// FindPreviousVisit returns the latest visit of the same patient created
// before visit. A visit stamped with the same instant counts as earlier when
// its id is lower. It returns nil when there is none and fails with code
// ambiguous_previous_visit when two candidates share the latest timestamp.
func (v *Validator) FindPreviousVisit(ctx context.Context, q *sqlstore.Queries, visit domain.Visit) (*int64, error) {
	visits, err := q.ListVisits(ctx, visit.PatientID)
	if err != nil {
		return nil, err
	}
	var best *domain.Visit
	tied := false
	for i := range visits {
		c := &visits[i]
		if !createdBefore(*c, visit) {
			continue
		}
		switch {
		case best == nil || c.CreatedAt.After(best.CreatedAt):
			best, tied = c, false
		case c.CreatedAt.Equal(best.CreatedAt):
			tied = true
		}
	}
	if best == nil {
		return nil, nil
	}
	if tied {
		return nil, domain.ErrValidation.Wrap(&domain.FieldError{
			Entity:  domain.EntityVisit,
			Field:   "previous_visit",
			Code:    domain.CodeAmbiguousPreviousVisit,
			Params:  map[string]any{"created_at": best.CreatedAt},
			Message: fmt.Sprintf("several visits of patient %s were created at %s; set the previous visit explicitly", visit.PatientID, best.CreatedAt),
		})
	}
	id := best.ID
	return &id, nil
}

// createdBefore orders visits by creation time, then by id. Ids are
// assigned in insertion order.
func createdBefore(a, b domain.Visit) bool {
	if a.ID == b.ID {
		return false
	}
	if a.CreatedAt.Equal(b.CreatedAt) {
		return b.ID == 0 || a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// isAgeObservable reports whether o is the configured age observable.
func isAgeObservable(o domain.Observable, name string) bool {
	return strings.EqualFold(o.Name, name)
}

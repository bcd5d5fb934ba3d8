// Package core holds the model-level validation rules evaluated before
// entity writes and the previous-visit discovery used by ingestion.
package core

import (
	"context"

	"biodb/internal/persistence/sqlstore"
)

// Rule defines an evaluation executed within a transaction boundary.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, q *sqlstore.Queries, changes []Change) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine(validators ValidatorSource, opts Options) *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(PatientIdentityRule())
	engine.Register(VisitChainRule())
	engine.Register(ObservationVisibilityRule())
	engine.Register(ObservationValueRule(validators))
	engine.Register(AgeOrderRule(opts.AgeObservable))
	return engine
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Evaluate executes all registered rules and aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, q *sqlstore.Queries, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, q, changes)
		if err != nil {
			return Result{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}

func blocking(rule string, entity EntityType, id string, err error) Violation {
	return Violation{
		Rule:     rule,
		Severity: SeverityBlock,
		Message:  err.Error(),
		Entity:   entity,
		EntityID: id,
		Err:      err,
	}
}

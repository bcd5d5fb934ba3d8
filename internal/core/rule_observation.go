package core

import (
	"context"
	"fmt"
	"strconv"

	"biodb/internal/persistence/sqlstore"
	"biodb/pkg/domain"
)

// ObservationVisibilityRule rejects observations of observables that are not
// visible to the center of the visit's patient.
func ObservationVisibilityRule() Rule {
	return observationVisibilityRule{}
}

type observationVisibilityRule struct{}

func (observationVisibilityRule) Name() string { return "observation_visibility" }

func (r observationVisibilityRule) Evaluate(ctx context.Context, q *sqlstore.Queries, changes []Change) (Result, error) {
	res := Result{}
	for _, o := range observations(changes) {
		observable, err := q.GetObservable(ctx, o.ObservableID)
		if err != nil {
			return Result{}, err
		}
		visit, err := q.GetVisit(ctx, o.VisitID)
		if err != nil {
			return Result{}, err
		}
		patient, err := q.GetPatient(ctx, visit.PatientID)
		if err != nil {
			return Result{}, err
		}
		if !observable.VisibleTo(patient.CenterID) {
			res.Violations = append(res.Violations, blocking(r.Name(), domain.EntityObservation, strconv.FormatInt(o.ID, 10),
				domain.NewFieldError(domain.EntityObservation, "observable", domain.CodeNotVisible, observable.Name,
					"observable %q is not available to center %s", observable.Name, patient.CenterID)))
		}
	}
	return res, nil
}

// ObservationValueRule checks an observation value against the observable's
// declared type, its choices and its registered validator.
func ObservationValueRule(validators ValidatorSource) Rule {
	return observationValueRule{validators: validators}
}

type observationValueRule struct {
	validators ValidatorSource
}

func (observationValueRule) Name() string { return "observation_value" }

func (r observationValueRule) Evaluate(ctx context.Context, q *sqlstore.Queries, changes []Change) (Result, error) {
	res := Result{}
	for _, o := range observations(changes) {
		observable, err := q.GetObservable(ctx, o.ObservableID)
		if err != nil {
			return Result{}, err
		}
		if err := CheckValue(observable, o.Value, r.validators); err != nil {
			if !domain.ErrValidation.Has(err) {
				return Result{}, err
			}
			res.Violations = append(res.Violations, blocking(r.Name(), domain.EntityObservation, strconv.FormatInt(o.ID, 10), err))
		}
	}
	return res, nil
}

// CheckValue validates a raw value for observable and returns nil when it
// casts to the declared type, matches a declared choice and passes the
// registered validator.
func CheckValue(observable domain.Observable, value string, validators ValidatorSource) error {
	if _, err := observable.ValueType.Cast(value); err != nil {
		return stampField(err, observable.Name)
	}
	if len(observable.Choices) > 0 && !hasChoice(observable.Choices, value) {
		return domain.ErrValidation.Wrap(&domain.FieldError{
			Entity:  domain.EntityObservation,
			Field:   observable.Name,
			Code:    domain.CodeInvalidChoice,
			Value:   value,
			Params:  map[string]any{"choices": append([]string(nil), observable.Choices...)},
			Message: fmt.Sprintf("%q is not one of %v", value, observable.Choices),
		})
	}
	if observable.ValidatorKey == nil || *observable.ValidatorKey == "" {
		return nil
	}
	if validators == nil {
		return domain.NewImportResolutionError("validator", *observable.ValidatorKey)
	}
	v, err := validators.Validator(*observable.ValidatorKey)
	if err != nil {
		return err
	}
	return stampField(v.Validate(value), observable.Name)
}

func hasChoice(choices []string, value string) bool {
	want := domain.NormalizeChoice(value)
	for _, c := range choices {
		if domain.NormalizeChoice(c) == want {
			return true
		}
	}
	return false
}

func stampField(err error, field string) error {
	if err == nil {
		return nil
	}
	if fe, ok := domain.AsFieldError(err); ok {
		if fe.Entity == "" {
			fe.Entity = domain.EntityObservation
		}
		if fe.Field == "" || fe.Field == "value" {
			fe.Field = field
		}
		return err
	}
	if domain.ErrValidation.Has(err) {
		return err
	}
	return domain.ErrValidation.Wrap(&domain.FieldError{
		Entity:  domain.EntityObservation,
		Field:   field,
		Code:    domain.CodeInvalidValue,
		Message: err.Error(),
	})
}

func observations(changes []Change) []domain.Observation {
	var out []domain.Observation
	for _, change := range changes {
		if change.Entity != domain.EntityObservation || change.After == nil {
			continue
		}
		if o, ok := change.After.(domain.Observation); ok {
			out = append(out, o)
		}
	}
	return out
}

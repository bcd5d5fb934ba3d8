package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"biodb/internal/persistence/sqlstore"
	"biodb/pkg/domain"
)

// AgeOrderRule requires ages to be non-decreasing along a visit chain when
// both linked visits record the age observable.
func AgeOrderRule(observable string) Rule {
	if observable == "" {
		observable = DefaultAgeObservable
	}
	return ageOrderRule{observable: observable}
}

type ageOrderRule struct {
	observable string
}

func (ageOrderRule) Name() string { return "age_order" }

func (r ageOrderRule) Evaluate(ctx context.Context, q *sqlstore.Queries, changes []Change) (Result, error) {
	res := Result{}
	var age *domain.Observable
	for _, change := range changes {
		if change.After == nil || (change.Entity != domain.EntityVisit && change.Entity != domain.EntityObservation) {
			continue
		}
		if age == nil {
			o, err := q.GetObservableByName(ctx, r.observable)
			if errors.Is(err, sqlstore.ErrNotFound) {
				return res, nil
			}
			if err != nil {
				return Result{}, err
			}
			age = &o
		}
		switch after := change.After.(type) {
		case domain.Visit:
			if err := r.checkVisit(ctx, q, age.ID, after, &res); err != nil {
				return Result{}, err
			}
		case domain.Observation:
			if after.ObservableID != age.ID {
				continue
			}
			value, err := strconv.ParseFloat(after.Value, 64)
			if err != nil {
				// reported by the value rule
				continue
			}
			if err := r.checkObservation(ctx, q, age.ID, after.VisitID, value, &res); err != nil {
				return Result{}, err
			}
		}
	}
	return res, nil
}

func (r ageOrderRule) checkVisit(ctx context.Context, q *sqlstore.Queries, ageID int64, v domain.Visit, res *Result) error {
	if v.ID == 0 || v.PreviousVisitID == nil {
		return nil
	}
	cur, err := ageAt(ctx, q, ageID, v.ID)
	if err != nil {
		return ignoreNoAge(err)
	}
	return r.checkObservation(ctx, q, ageID, v.ID, cur, res)
}

// checkObservation compares value, the age at visitID, with the ages at the
// previous visit and at visits pointing back to visitID.
func (r ageOrderRule) checkObservation(ctx context.Context, q *sqlstore.Queries, ageID, visitID int64, value float64, res *Result) error {
	visit, err := q.GetVisit(ctx, visitID)
	if err != nil {
		return err
	}
	if visit.PreviousVisitID != nil {
		prev, err := ageAt(ctx, q, ageID, *visit.PreviousVisitID)
		switch {
		case err == nil && value < prev:
			res.Violations = append(res.Violations, r.violation(visitID, value, prev, *visit.PreviousVisitID))
		case err != nil && !errors.Is(err, errNoAge):
			return err
		}
	}
	visits, err := q.ListVisits(ctx, visit.PatientID)
	if err != nil {
		return err
	}
	for _, next := range visits {
		if next.PreviousVisitID == nil || *next.PreviousVisitID != visitID {
			continue
		}
		later, err := ageAt(ctx, q, ageID, next.ID)
		switch {
		case err == nil && later < value:
			res.Violations = append(res.Violations, r.violation(next.ID, later, value, visitID))
		case err != nil && !errors.Is(err, errNoAge):
			return err
		}
	}
	return nil
}

func (r ageOrderRule) violation(visitID int64, age, previousAge float64, previousID int64) Violation {
	id := strconv.FormatInt(visitID, 10)
	err := domain.ErrValidation.Wrap(&domain.FieldError{
		Entity:  domain.EntityVisit,
		Field:   "previous_visit",
		Code:    domain.CodeVisitOrder,
		Value:   id,
		Params:  map[string]any{"age": age, "previous_age": previousAge, "previous_visit": previousID},
		Message: fmt.Sprintf("age %g at visit %s is lower than %g at previous visit %d", age, id, previousAge, previousID),
	})
	return blocking(r.Name(), domain.EntityVisit, id, err)
}

// errNoAge marks a visit without an age observation.
var errNoAge = errors.New("no age recorded")

func ageAt(ctx context.Context, q *sqlstore.Queries, ageID, visitID int64) (float64, error) {
	o, err := q.GetObservation(ctx, visitID, ageID)
	if errors.Is(err, sqlstore.ErrNotFound) {
		return 0, errNoAge
	}
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(o.Value, 64)
	if err != nil {
		return 0, errNoAge
	}
	return f, nil
}

func ignoreNoAge(err error) error {
	if errors.Is(err, errNoAge) {
		return nil
	}
	return err
}

package domain

import (
	"errors"
	"testing"
)

func TestResultErrPassesSingleViolationThrough(t *testing.T) {
	var empty Result
	if empty.HasBlocking() || empty.Err() != nil {
		t.Fatalf("empty result should pass")
	}

	warn := Result{Violations: []Violation{{Rule: "age_order", Severity: SeverityWarn, Message: "late"}}}
	if warn.HasBlocking() || warn.Err() != nil {
		t.Fatalf("warnings must not block")
	}
	if len(warn.Warnings()) != 1 {
		t.Fatalf("expected one warning")
	}

	field := NewFieldError(EntityVisit, "previous_visit", CodeVisitOrder, "3", "visit precedes its previous visit")
	single := Result{Violations: []Violation{{Rule: "visit_chain", Severity: SeverityBlock, Err: field}}}
	if err := single.Err(); err != field {
		t.Fatalf("single structured violation should be returned as is, got %v", err)
	}

	var merged Result
	merged.Merge(single)
	merged.Merge(Result{Violations: []Violation{{Rule: "patient_identity", Severity: SeverityBlock, Message: "cid equals id"}}})
	err := merged.Err()
	if !ErrValidation.Has(err) {
		t.Fatalf("expected validation class, got %v", err)
	}
	fe, ok := AsFieldError(err)
	if !ok || fe.Code != CodeVisitOrder {
		t.Fatalf("expected wrapped field error, got %v", err)
	}

	plain := Result{Violations: []Violation{{Rule: "r", Severity: SeverityBlock, Message: "bad"}}}
	if err := plain.Err(); !ErrValidation.Has(err) || errors.Is(err, field) {
		t.Fatalf("unexpected error %v", err)
	}
}

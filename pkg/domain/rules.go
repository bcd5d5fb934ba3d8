package domain

import (
	"fmt"
	"strings"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine whether a write may proceed.
const (
	// SeverityBlock rejects the write.
	SeverityBlock Severity = "block"
	// SeverityWarn is reported but allows the write.
	SeverityWarn Severity = "warn"
)

// Violation is a single rule finding.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
	// Err carries the structured field error for blocking violations.
	Err error
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Warnings returns the non-blocking violations.
func (r Result) Warnings() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity != SeverityBlock {
			out = append(out, v)
		}
	}
	return out
}

// Err converts blocking violations into a validation error. The first
// violation carrying a structured error is wrapped so errors.As finds it.
func (r Result) Err() error {
	var blocking []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			blocking = append(blocking, v)
		}
	}
	if len(blocking) == 0 {
		return nil
	}
	if len(blocking) == 1 && blocking[0].Err != nil {
		return blocking[0].Err
	}
	msgs := make([]string, 0, len(blocking))
	var first error
	for _, v := range blocking {
		msgs = append(msgs, fmt.Sprintf("%s: %s", v.Rule, v.Message))
		if first == nil && v.Err != nil {
			first = v.Err
		}
	}
	if first != nil {
		return fmt.Errorf("%s: %w", strings.Join(msgs, "; "), first)
	}
	return ErrValidation.New("%s", strings.Join(msgs, "; "))
}

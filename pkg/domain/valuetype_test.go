package domain

import (
	"errors"
	"testing"
)

func TestValueTypeCast(t *testing.T) {
	cases := []struct {
		vt   ValueType
		raw  string
		want any
	}{
		{ValueBool, "Yes", true},
		{ValueBool, "TRUE", true},
		{ValueBool, "no", false},
		{ValueBool, "False", false},
		{ValueBool, "1", true},
		{ValueBool, "0", false},
		{ValueInt, "42", int64(42)},
		{ValueInt, " 7 ", int64(7)},
		{ValueInt, "3.0", int64(3)},
		{ValueFloat, "36.6", 36.6},
		{ValueFloat, "1e3", 1000.0},
		{ValueStr, "Anything", "Anything"},
	}
	for _, tc := range cases {
		got, err := tc.vt.Cast(tc.raw)
		if err != nil {
			t.Fatalf("%s cast %q: %v", tc.vt, tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("%s cast %q: got %#v want %#v", tc.vt, tc.raw, got, tc.want)
		}
	}
}

func TestValueTypeCastFailuresAreValidationErrors(t *testing.T) {
	cases := []struct {
		vt  ValueType
		raw string
	}{
		{ValueBool, "maybe"},
		{ValueInt, "3.5"},
		{ValueInt, "seven"},
		{ValueInt, "1e20"},
		{ValueInt, "-1e20"},
		{ValueInt, "9.3e18"},
		{ValueFloat, "NaN"},
		{ValueFloat, "warm"},
		{ValueType("DATE"), "2020-01-01"},
	}
	for _, tc := range cases {
		_, err := tc.vt.Cast(tc.raw)
		if err == nil {
			t.Fatalf("%s cast %q: expected error", tc.vt, tc.raw)
		}
		if !ErrValidation.Has(err) {
			t.Fatalf("%s cast %q: expected validation class, got %v", tc.vt, tc.raw, err)
		}
		var fe *FieldError
		if !errors.As(err, &fe) {
			t.Fatalf("expected FieldError in chain: %v", err)
		}
	}
}

func TestCanonicalRoundTrip(t *testing.T) {
	for _, vt := range []ValueType{ValueBool, ValueInt, ValueFloat, ValueStr} {
		for _, raw := range map[ValueType][]string{
			ValueBool:  {"yes", "false"},
			ValueInt:   {"12", "-3"},
			ValueFloat: {"0.25", "100"},
			ValueStr:   {"abc"},
		}[vt] {
			v, err := vt.Cast(raw)
			if err != nil {
				t.Fatalf("cast: %v", err)
			}
			again, err := vt.Cast(vt.Canonical(v))
			if err != nil {
				t.Fatalf("recast %q: %v", vt.Canonical(v), err)
			}
			if again != v {
				t.Fatalf("canonical form of %q not stable: %v vs %v", raw, again, v)
			}
		}
	}
}

func TestNormalizeChoice(t *testing.T) {
	equal := [][2]string{
		{"patient_info", "Patient-Info"},
		{"PATIENT_INFO_II", "patient-info-ii"},
		{" vitals ", "VITALS"},
	}
	for _, pair := range equal {
		if NormalizeChoice(pair[0]) != NormalizeChoice(pair[1]) {
			t.Fatalf("expected %q and %q to normalize equally", pair[0], pair[1])
		}
	}
	if NormalizeChoice("patient info") == NormalizeChoice("patient_info") {
		t.Fatalf("spaces must not fold into underscores")
	}
}

func TestParseCategoryAndValueType(t *testing.T) {
	c, err := ParseCategory("Patient-Preexisting")
	if err != nil || c != CategoryPatientPreexisting {
		t.Fatalf("ParseCategory: %v %v", c, err)
	}
	if _, err := ParseCategory("astrology"); !ErrValidation.Has(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	vt, err := ParseValueType("float")
	if err != nil || vt != ValueFloat {
		t.Fatalf("ParseValueType: %v %v", vt, err)
	}
	if _, err := ParseValueType("decimal"); err == nil {
		t.Fatalf("expected unknown value type error")
	}
}

package registry

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"biodb/internal/artifact"
	"biodb/pkg/domain"
)

var builtinValidators = map[string]Validator{
	"non_negative": ValidatorFunc(validateNonNegative),
	"percentage":   ValidatorFunc(validatePercentage),
	"uuid":         ValidatorFunc(validateUUID),
}

var builtinAnnotators = map[string]Annotator{
	"sum":           AnnotatorFunc(domain.ValueFloat, sumIntensity),
	"mean":          AnnotatorFunc(domain.ValueFloat, meanIntensity),
	"max_intensity": AnnotatorFunc(domain.ValueFloat, maxIntensity),
	"peak_position": AnnotatorFunc(domain.ValueFloat, peakPosition),
	"n_points":      AnnotatorFunc(domain.ValueInt, countPoints),
	"monotonic_x":   AnnotatorFunc(domain.ValueBool, monotonicX),
}

func parseNumber(value string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(f) {
		return 0, invalid(value, "%q is not a number", value)
	}
	return f, nil
}

func invalid(value, format string, args ...any) error {
	return domain.ErrValidation.Wrap(&domain.FieldError{
		Entity:  domain.EntityObservation,
		Field:   "value",
		Code:    domain.CodeInvalidValue,
		Value:   value,
		Message: fmt.Sprintf(format, args...),
	})
}

func validateNonNegative(value string) error {
	f, err := parseNumber(value)
	if err != nil {
		return err
	}
	if f < 0 {
		return invalid(value, "%s must not be negative", value)
	}
	return nil
}

func validatePercentage(value string) error {
	f, err := parseNumber(value)
	if err != nil {
		return err
	}
	if f < 0 || f > 100 {
		return invalid(value, "%s is outside 0-100", value)
	}
	return nil
}

func validateUUID(value string) error {
	if _, err := uuid.Parse(strings.TrimSpace(value)); err != nil {
		return invalid(value, "%q is not a valid UUID", value)
	}
	return nil
}

func requirePoints(d artifact.Data) error {
	if len(d.Y) == 0 {
		return fmt.Errorf("artifact holds no data points")
	}
	return nil
}

func sumIntensity(d artifact.Data) (any, error) {
	var s float64
	for _, y := range d.Y {
		s += y
	}
	return s, nil
}

func meanIntensity(d artifact.Data) (any, error) {
	if err := requirePoints(d); err != nil {
		return nil, err
	}
	s, _ := sumIntensity(d)
	return s.(float64) / float64(len(d.Y)), nil
}

func argMax(y []float64) int {
	best := 0
	for i, v := range y {
		if v > y[best] {
			best = i
		}
	}
	return best
}

func maxIntensity(d artifact.Data) (any, error) {
	if err := requirePoints(d); err != nil {
		return nil, err
	}
	return d.Y[argMax(d.Y)], nil
}

func peakPosition(d artifact.Data) (any, error) {
	if err := requirePoints(d); err != nil {
		return nil, err
	}
	i := argMax(d.Y)
	if i >= len(d.X) {
		return nil, fmt.Errorf("peak index %d outside x range %d", i, len(d.X))
	}
	return d.X[i], nil
}

func countPoints(d artifact.Data) (any, error) {
	return int64(d.Len()), nil
}

// monotonicX reports whether x is strictly increasing or strictly decreasing.
func monotonicX(d artifact.Data) (any, error) {
	if len(d.X) < 2 {
		return true, nil
	}
	inc, dec := true, true
	for i := 1; i < len(d.X); i++ {
		if d.X[i] <= d.X[i-1] {
			inc = false
		}
		if d.X[i] >= d.X[i-1] {
			dec = false
		}
	}
	return inc || dec, nil
}

// Package index computes the StableYield Index value from weighted
// risk-adjusted yield components.
package index

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/stableyield-index/internal/model"
)

// MethodologyVersion identifies the calculation methodology embedded in
// every published result.
const MethodologyVersion = "1.0.0"

// dateLayout is the calendar date format required for as_of_date.
const dateLayout = "2006-01-02"

// ValidationError reports a malformed payload. It is never retried and the
// payload is never partially applied.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid SYI payload: " + e.Reason
}

func validationErrorf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Calculator validates payloads and computes the weighted index value.
type Calculator struct{}

// NewCalculator creates an index calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Calculate validates the payload, normalizes weights, and computes the
// weighted index value. All validation failures surface as *ValidationError.
//
// Summation is plain left-to-right float64 accumulation: constituent counts
// are single digits, so the rounding error is far below the published
// precision and compensated summation is not worth the opacity.
func (c *Calculator) Calculate(payload model.SYIPayload) (model.SYIResult, error) {
	if err := validate(payload); err != nil {
		return model.SYIResult{}, err
	}

	weightDiv := unitDivisor(payload.WeightUnits)
	rayDiv := unitDivisor(payload.RAYUnits)

	var weightSum float64
	for _, comp := range payload.Components {
		weightSum += comp.Weight / weightDiv
	}
	if weightSum <= 0 {
		return model.SYIResult{}, validationErrorf("sum of weights must be positive, got %g", weightSum)
	}

	normalized := make([]model.SYIComponent, len(payload.Components))
	var syi float64
	for i, comp := range payload.Components {
		w := comp.Weight / weightDiv / weightSum
		ray := comp.RAY / rayDiv
		syi += w * ray
		normalized[i] = model.SYIComponent{Symbol: comp.Symbol, Weight: w, RAY: ray}
	}

	result := model.SYIResult{
		AsOfDate:           payload.AsOfDate,
		SYIDecimal:         syi,
		SYIPercent:         syi * 100,
		MethodologyVersion: MethodologyVersion,
		ComponentsCount:    len(payload.Components),
		Components:         normalized,
		CalculatedAt:       time.Now().UTC(),
	}

	logrus.WithFields(logrus.Fields{
		"as_of_date":  result.AsOfDate,
		"syi_percent": result.SYIPercent,
		"components":  result.ComponentsCount,
	}).Info("SYI calculated")

	return result, nil
}

// validate fails fast on the first malformed aspect of the payload.
func validate(payload model.SYIPayload) error {
	if len(payload.Components) == 0 {
		return validationErrorf("components must not be empty")
	}

	seen := make(map[string]struct{}, len(payload.Components))
	for i, comp := range payload.Components {
		if comp.Symbol == "" {
			return validationErrorf("component %d has an empty symbol", i)
		}
		if !model.IsFinite(comp.Weight) || comp.Weight <= 0 {
			return validationErrorf("component %s has non-positive weight %g", comp.Symbol, comp.Weight)
		}
		if !model.IsFinite(comp.RAY) {
			return validationErrorf("component %s has a non-finite RAY", comp.Symbol)
		}
		if comp.RAY < 0 {
			return validationErrorf("component %s has negative RAY %g", comp.Symbol, comp.RAY)
		}
		if _, dup := seen[comp.Symbol]; dup {
			return validationErrorf("duplicate symbol %s", comp.Symbol)
		}
		seen[comp.Symbol] = struct{}{}
	}

	if _, err := time.Parse(dateLayout, payload.AsOfDate); err != nil {
		return validationErrorf("as_of_date %q is not a valid %s date", payload.AsOfDate, dateLayout)
	}

	return nil
}

// unitDivisor returns the factor that converts a tagged value to decimal.
// Untagged fields default to percent, matching how yields are reported.
func unitDivisor(units model.Units) float64 {
	if units == model.UnitsDecimal {
		return 1
	}
	return 100
}

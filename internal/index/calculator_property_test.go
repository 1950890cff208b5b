package index

import (
	"fmt"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/yourorg/stableyield-index/internal/model"
)

func genComponents() gopter.Gen {
	component := gopter.CombineGens(
		gen.Float64Range(0.01, 100),
		gen.Float64Range(0, 50),
	)
	return gen.SliceOfN(6, component).Map(func(raw [][]interface{}) []model.SYIComponent {
		components := make([]model.SYIComponent, len(raw))
		for i, vals := range raw {
			components[i] = model.SYIComponent{
				Symbol: fmt.Sprintf("COIN%d", i),
				Weight: vals[0].(float64),
				RAY:    vals[1].(float64),
			}
		}
		return components
	})
}

func TestCalculate_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	c := NewCalculator()

	properties.Property("normalized weights sum to 1", prop.ForAll(
		func(components []model.SYIComponent) bool {
			result, err := c.Calculate(model.SYIPayload{
				AsOfDate:    "2025-01-15",
				Components:  components,
				WeightUnits: model.UnitsPercent,
				RAYUnits:    model.UnitsPercent,
			})
			if err != nil {
				return false
			}
			var sum float64
			for _, comp := range result.Components {
				sum += comp.Weight
			}
			return math.Abs(sum-1.0) < 1e-9
		},
		genComponents(),
	))

	properties.Property("syi_percent is exactly 100x syi_decimal", prop.ForAll(
		func(components []model.SYIComponent) bool {
			result, err := c.Calculate(model.SYIPayload{
				AsOfDate:    "2025-01-15",
				Components:  components,
				WeightUnits: model.UnitsPercent,
				RAYUnits:    model.UnitsPercent,
			})
			if err != nil {
				return false
			}
			return result.SYIPercent == result.SYIDecimal*100
		},
		genComponents(),
	))

	properties.Property("index stays within the RAY envelope", prop.ForAll(
		func(components []model.SYIComponent) bool {
			result, err := c.Calculate(model.SYIPayload{
				AsOfDate:    "2025-01-15",
				Components:  components,
				WeightUnits: model.UnitsPercent,
				RAYUnits:    model.UnitsPercent,
			})
			if err != nil {
				return false
			}
			lo, hi := math.Inf(1), math.Inf(-1)
			for _, comp := range components {
				ray := comp.RAY / 100
				lo = math.Min(lo, ray)
				hi = math.Max(hi, ray)
			}
			const eps = 1e-9
			return result.SYIDecimal >= lo-eps && result.SYIDecimal <= hi+eps
		},
		genComponents(),
	))

	properties.Property("scaling all weights leaves the index unchanged", prop.ForAll(
		func(components []model.SYIComponent, scale float64) bool {
			base, err := c.Calculate(model.SYIPayload{
				AsOfDate:    "2025-01-15",
				Components:  components,
				WeightUnits: model.UnitsPercent,
				RAYUnits:    model.UnitsPercent,
			})
			if err != nil {
				return false
			}

			scaled := make([]model.SYIComponent, len(components))
			for i, comp := range components {
				scaled[i] = model.SYIComponent{Symbol: comp.Symbol, Weight: comp.Weight * scale, RAY: comp.RAY}
			}
			rescaled, err := c.Calculate(model.SYIPayload{
				AsOfDate:    "2025-01-15",
				Components:  scaled,
				WeightUnits: model.UnitsPercent,
				RAYUnits:    model.UnitsPercent,
			})
			if err != nil {
				return false
			}
			return math.Abs(base.SYIDecimal-rescaled.SYIDecimal) < 1e-9
		},
		genComponents(),
		gen.Float64Range(0.5, 20),
	))

	properties.TestingRun(t)
}

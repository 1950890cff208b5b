package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yourorg/stableyield-index/internal/model"
)

func TestTotalPenalty_CompoundFormula(t *testing.T) {
	a := NewAdjuster(DefaultPenaltyWeights())

	// reference case: 4.2% CeFi yield with $50M TVL
	factors := model.RiskFactors{
		PegStability:       0.92,
		LiquidityScore:     0.60 + 0.40*40.0/90.0,
		CounterpartyScore:  0.70,
		ProtocolReputation: 0.75,
		TemporalStability:  0.85,
	}

	// reproduce the compound retention bit-for-bit
	retained := (1 - (1-factors.PegStability)*0.50) *
		(1 - (1-factors.LiquidityScore)*0.40) *
		(1 - (1-factors.CounterpartyScore)*0.60) *
		(1 - (1-factors.ProtocolReputation)*0.35) *
		(1 - (1-factors.TemporalStability)*0.25)
	wantPenalty := 1 - retained

	got := a.TotalPenalty(factors)
	assert.Equal(t, wantPenalty, got)

	result := a.Adjust(model.YieldObservation{Symbol: "USDT", SourceType: model.SourceCeFi}, 4.2, factors)
	assert.Equal(t, 4.2*(1-wantPenalty), result.RAY)
	assert.Equal(t, wantPenalty, result.TotalPenalty)
}

func TestTotalPenalty_Bounds(t *testing.T) {
	a := NewAdjuster(DefaultPenaltyWeights())

	tests := []struct {
		name    string
		factors model.RiskFactors
	}{
		{
			name:    "perfect scores mean zero penalty",
			factors: model.RiskFactors{PegStability: 1, LiquidityScore: 1, CounterpartyScore: 1, ProtocolReputation: 1, TemporalStability: 1},
		},
		{
			name:    "worst scores stay below full penalty",
			factors: model.RiskFactors{},
		},
		{
			name:    "mixed scores",
			factors: model.RiskFactors{PegStability: 0.5, LiquidityScore: 0.1, CounterpartyScore: 0.9, ProtocolReputation: 0.3, TemporalStability: 0.7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			penalty := a.TotalPenalty(tt.factors)
			assert.GreaterOrEqual(t, penalty, 0.0)
			assert.Less(t, penalty, 1.0, "multiplicative compounding can never reach 100%")
		})
	}
}

func TestAdjust_RAYNeverExceedsBaseAPY(t *testing.T) {
	a := NewAdjuster(DefaultPenaltyWeights())

	for _, apy := range []float64{0, 0.5, 4.2, 25, 120} {
		for _, f := range []model.RiskFactors{
			{PegStability: 1, LiquidityScore: 1, CounterpartyScore: 1, ProtocolReputation: 1, TemporalStability: 1},
			{PegStability: 0.2, LiquidityScore: 0.8, CounterpartyScore: 0.5, ProtocolReputation: 0.1, TemporalStability: 0.9},
			{},
		} {
			result := a.Adjust(model.YieldObservation{Symbol: "T"}, apy, f)
			assert.LessOrEqual(t, result.RAY, apy)
			assert.GreaterOrEqual(t, result.RAY, 0.0)
		}
	}
}

package risk

import (
	"github.com/yourorg/stableyield-index/internal/model"
)

// PenaltyWeights caps the maximum penalty each risk dimension may contribute.
type PenaltyWeights struct {
	Peg          float64 `yaml:"peg"`
	Liquidity    float64 `yaml:"liquidity"`
	Counterparty float64 `yaml:"counterparty"`
	Protocol     float64 `yaml:"protocol"`
	Temporal     float64 `yaml:"temporal"`
}

// DefaultPenaltyWeights returns the standard maximum-penalty weights.
func DefaultPenaltyWeights() PenaltyWeights {
	return PenaltyWeights{
		Peg:          0.50,
		Liquidity:    0.40,
		Counterparty: 0.60,
		Protocol:     0.35,
		Temporal:     0.25,
	}
}

// Adjuster derives risk-adjusted yields by compounding per-factor penalties.
type Adjuster struct {
	weights PenaltyWeights
}

// NewAdjuster creates an adjuster with the given penalty weights.
func NewAdjuster(weights PenaltyWeights) *Adjuster {
	return &Adjuster{weights: weights}
}

// TotalPenalty compounds the five factor penalties multiplicatively.
// Each penalty is (1-factor)*maxWeight; retention multiplies so independent
// risk dimensions can never sum past a 100% penalty, which keeps the RAY
// non-negative for any non-negative base APY.
func (a *Adjuster) TotalPenalty(f model.RiskFactors) float64 {
	retained := 1.0
	retained *= 1 - (1-f.PegStability)*a.weights.Peg
	retained *= 1 - (1-f.LiquidityScore)*a.weights.Liquidity
	retained *= 1 - (1-f.CounterpartyScore)*a.weights.Counterparty
	retained *= 1 - (1-f.ProtocolReputation)*a.weights.Protocol
	retained *= 1 - (1-f.TemporalStability)*a.weights.Temporal
	return 1 - retained
}

// Adjust computes the RAY result for one observation and its risk factors.
// baseAPY is the sanitized yield in percent.
func (a *Adjuster) Adjust(obs model.YieldObservation, baseAPY float64, factors model.RiskFactors) model.RAYResult {
	penalty := a.TotalPenalty(factors)
	return model.RAYResult{
		Symbol:       obs.Symbol,
		Source:       obs.Source,
		BaseAPY:      baseAPY,
		TotalPenalty: penalty,
		RAY:          baseAPY * (1 - penalty),
		RiskFactors:  factors,
		TVLUSD:       obs.TVLUSD,
	}
}

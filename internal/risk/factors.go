// Package risk converts raw yield observations into risk-adjusted yields.
// Five independent sub-scores are derived from static reference tables and
// the observation itself, then compounded into a single penalty.
package risk

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/stableyield-index/internal/model"
)

// ReferenceTables holds the static lookup data behind the risk sub-scores.
// Deployments may override them from a YAML file; anything missing keeps its
// built-in default.
type ReferenceTables struct {
	// PegStability maps symbols to base peg confidence in [0,1]
	PegStability map[string]float64 `yaml:"peg_stability"`

	// DefaultPegStability applies to symbols absent from the table
	DefaultPegStability float64 `yaml:"default_peg_stability"`

	// DeepLiquidityVenues and ShallowLiquidityVenues are substring patterns
	// matched case-insensitively against the observation source
	DeepLiquidityVenues    []string `yaml:"deep_liquidity_venues"`
	ShallowLiquidityVenues []string `yaml:"shallow_liquidity_venues"`

	// DefaultProtocolReputation applies when the observation carries none
	DefaultProtocolReputation float64 `yaml:"default_protocol_reputation"`
}

// DefaultTables returns the built-in reference data.
func DefaultTables() ReferenceTables {
	return ReferenceTables{
		PegStability: map[string]float64{
			"USDC": 0.96,
			"USDT": 0.92,
			"DAI":  0.88,
		},
		DefaultPegStability:       0.75,
		DeepLiquidityVenues:       []string{"binance", "coinbase", "kraken", "curve", "aave"},
		ShallowLiquidityVenues:    []string{"sushiswap", "pancakeswap", "quickswap"},
		DefaultProtocolReputation: 0.75,
	}
}

// LoadTables reads reference table overrides from a YAML file, merged over
// the defaults. An empty path returns the defaults unchanged.
func LoadTables(path string) (ReferenceTables, error) {
	tables := DefaultTables()
	if path == "" {
		return tables, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return tables, fmt.Errorf("reading risk tables %s: %w", path, err)
	}

	var override ReferenceTables
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return tables, fmt.Errorf("parsing risk tables %s: %w", path, err)
	}

	if len(override.PegStability) > 0 {
		for k, v := range override.PegStability {
			tables.PegStability[strings.ToUpper(k)] = v
		}
	}
	if override.DefaultPegStability > 0 {
		tables.DefaultPegStability = override.DefaultPegStability
	}
	if len(override.DeepLiquidityVenues) > 0 {
		tables.DeepLiquidityVenues = override.DeepLiquidityVenues
	}
	if len(override.ShallowLiquidityVenues) > 0 {
		tables.ShallowLiquidityVenues = override.ShallowLiquidityVenues
	}
	if override.DefaultProtocolReputation > 0 {
		tables.DefaultProtocolReputation = override.DefaultProtocolReputation
	}

	logrus.WithField("path", path).Info("Risk reference tables loaded")
	return tables, nil
}

// Scorer computes the five risk sub-scores for one observation. All scoring
// functions are pure lookups over the reference tables.
type Scorer struct {
	tables ReferenceTables
}

// NewScorer creates a scorer over the given tables.
func NewScorer(tables ReferenceTables) *Scorer {
	return &Scorer{tables: tables}
}

// Score derives all five factors from the observation. The sanitized APY is
// passed separately because temporal stability must reflect the yield that
// actually enters the index, not the raw reading.
func (s *Scorer) Score(obs model.YieldObservation, sanitizedAPY float64) model.RiskFactors {
	return model.RiskFactors{
		PegStability:       s.pegStability(obs.Symbol, obs.Source),
		LiquidityScore:     liquidityScore(obs.TVLUSD),
		CounterpartyScore:  counterpartyScore(obs.SourceType),
		ProtocolReputation: s.protocolReputation(obs.ProtocolReputation),
		TemporalStability:  temporalStability(sanitizedAPY),
	}
}

// pegStability looks up the symbol's base confidence and applies a small
// venue adjustment: deep-liquidity venues tighten the peg, shallow ones
// loosen it.
func (s *Scorer) pegStability(symbol, source string) float64 {
	score, ok := s.tables.PegStability[strings.ToUpper(symbol)]
	if !ok {
		score = s.tables.DefaultPegStability
	}

	lowered := strings.ToLower(source)
	for _, pattern := range s.tables.DeepLiquidityVenues {
		if strings.Contains(lowered, pattern) {
			score += 0.03
			break
		}
	}
	for _, pattern := range s.tables.ShallowLiquidityVenues {
		if strings.Contains(lowered, pattern) {
			score -= 0.02
			break
		}
	}

	return clamp01(score)
}

// liquidityScore is a piecewise function of TVL in USD.
func liquidityScore(tvl float64) float64 {
	const (
		deep    = 100_000_000.0
		shallow = 10_000_000.0
	)
	switch {
	case tvl >= deep:
		return 1.0
	case tvl >= shallow:
		return 0.60 + 0.40*(tvl-shallow)/(deep-shallow)
	case tvl > 0:
		return 0.30 + 0.30*(tvl/shallow)
	default:
		// unknown or zero TVL is the riskiest assumption
		return 0.10
	}
}

// counterpartyScore is a fixed custody-risk prior per source type.
func counterpartyScore(sourceType model.SourceType) float64 {
	switch sourceType {
	case model.SourceDeFi:
		return 0.85
	case model.SourceCeFi:
		return 0.70
	default:
		return 0.75
	}
}

func (s *Scorer) protocolReputation(reported *float64) float64 {
	if reported == nil {
		return s.tables.DefaultProtocolReputation
	}
	return clamp01(*reported)
}

// temporalStability assumes higher yields are less likely to persist.
// Brackets are half-open; a value on a boundary falls into the higher
// bracket.
func temporalStability(apy float64) float64 {
	switch {
	case apy >= 50:
		return 0.30
	case apy >= 25:
		return 0.50
	case apy >= 15:
		return 0.70
	default:
		return 0.85
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

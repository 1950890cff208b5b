package risk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/stableyield-index/internal/model"
)

func TestPegStability(t *testing.T) {
	scorer := NewScorer(DefaultTables())

	tests := []struct {
		name   string
		symbol string
		source string
		want   float64
	}{
		{name: "known symbol", symbol: "USDC", source: "venue-x", want: 0.96},
		{name: "lowercase symbol lookup", symbol: "usdt", source: "venue-x", want: 0.92},
		{name: "unknown symbol default", symbol: "XUSD", source: "venue-x", want: 0.75},
		{name: "deep liquidity venue bonus", symbol: "DAI", source: "curve-3pool", want: 0.91},
		{name: "shallow liquidity venue penalty", symbol: "DAI", source: "sushiswap-v2", want: 0.86},
		{name: "bonus clamped at 1", symbol: "USDC", source: "binance", want: 0.99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factors := scorer.Score(model.YieldObservation{Symbol: tt.symbol, Source: tt.source}, 4.0)
			assert.InDelta(t, tt.want, factors.PegStability, 1e-9)
		})
	}
}

func TestLiquidityScore(t *testing.T) {
	tests := []struct {
		name string
		tvl  float64
		want float64
	}{
		{name: "deep liquidity", tvl: 100_000_000, want: 1.0},
		{name: "above deep threshold", tvl: 250_000_000, want: 1.0},
		{name: "mid band at 50M", tvl: 50_000_000, want: 0.60 + 0.40*40.0/90.0},
		{name: "mid band lower edge", tvl: 10_000_000, want: 0.60},
		{name: "small pool at 5M", tvl: 5_000_000, want: 0.45},
		{name: "zero TVL", tvl: 0, want: 0.10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, liquidityScore(tt.tvl), 1e-9)
		})
	}
}

func TestCounterpartyScore(t *testing.T) {
	assert.Equal(t, 0.85, counterpartyScore(model.SourceDeFi))
	assert.Equal(t, 0.70, counterpartyScore(model.SourceCeFi))
	assert.Equal(t, 0.75, counterpartyScore(model.SourceUnknown))
	assert.Equal(t, 0.75, counterpartyScore(model.SourceType("")))
}

func TestTemporalStability(t *testing.T) {
	tests := []struct {
		name string
		apy  float64
		want float64
	}{
		{name: "moderate yield", apy: 4.2, want: 0.85},
		{name: "boundary 15 joins higher bracket", apy: 15, want: 0.70},
		{name: "inside 15-25", apy: 20, want: 0.70},
		{name: "boundary 25", apy: 25, want: 0.50},
		{name: "boundary 50", apy: 50, want: 0.30},
		{name: "extreme yield", apy: 120, want: 0.30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, temporalStability(tt.apy))
		})
	}
}

func TestProtocolReputation(t *testing.T) {
	scorer := NewScorer(DefaultTables())

	reported := 0.9
	factors := scorer.Score(model.YieldObservation{Symbol: "USDC", ProtocolReputation: &reported}, 4.0)
	assert.Equal(t, 0.9, factors.ProtocolReputation)

	factors = scorer.Score(model.YieldObservation{Symbol: "USDC"}, 4.0)
	assert.Equal(t, 0.75, factors.ProtocolReputation)

	outOfRange := 1.7
	factors = scorer.Score(model.YieldObservation{Symbol: "USDC", ProtocolReputation: &outOfRange}, 4.0)
	assert.Equal(t, 1.0, factors.ProtocolReputation)
}

func TestLoadTables_Overrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tables.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
peg_stability:
  usde: 0.80
default_peg_stability: 0.70
deep_liquidity_venues: ["megadex"]
`), 0o644))

	tables, err := LoadTables(path)
	require.NoError(t, err)

	assert.Equal(t, 0.80, tables.PegStability["USDE"])
	assert.Equal(t, 0.96, tables.PegStability["USDC"], "defaults survive a partial override")
	assert.Equal(t, 0.70, tables.DefaultPegStability)
	assert.Equal(t, []string{"megadex"}, tables.DeepLiquidityVenues)
	assert.Equal(t, 0.75, tables.DefaultProtocolReputation)
}

func TestLoadTables_MissingFileKeepsDefaults(t *testing.T) {
	tables, err := LoadTables("/nonexistent/tables.yaml")
	assert.Error(t, err)
	assert.Equal(t, DefaultTables().PegStability["USDC"], tables.PegStability["USDC"])
}

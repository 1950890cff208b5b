// Package model defines the core data structures for the StableYield Index engine.
package model

import (
	"math"
	"time"
)

// SourceType classifies where a yield observation comes from.
type SourceType string

// Supported source types
const (
	SourceCeFi    SourceType = "cefi"
	SourceDeFi    SourceType = "defi"
	SourceUnknown SourceType = "unknown"
)

// Units tags a numeric field as being expressed in percent or decimal form.
type Units string

// Supported unit tags
const (
	UnitsPercent Units = "percent"
	UnitsDecimal Units = "decimal"
)

// YieldObservation is one raw yield reading from a single venue or protocol.
// Observations are immutable once created; the Audit field is the only slot
// written later, by the aggregator, and holds a new record per pass.
type YieldObservation struct {
	// Symbol is the stablecoin ticker, e.g. USDC
	Symbol string `json:"symbol"`

	// Source is the protocol or venue name that reported the yield
	Source string `json:"source"`

	// SourceType distinguishes CeFi from DeFi custody models
	SourceType SourceType `json:"source_type"`

	// BaseAPY is the raw annualized yield in percent, e.g. 4.2 for 4.2%
	BaseAPY float64 `json:"base_apy"`

	// TVLUSD is the total value locked backing this yield, 0 when unknown
	TVLUSD float64 `json:"tvl_usd,omitempty"`

	// ProtocolReputation is an optional externally supplied score in [0,1];
	// nil means no opinion and a default applies downstream
	ProtocolReputation *float64 `json:"protocol_reputation,omitempty"`

	// CollectedAt is the Unix timestamp when this reading was taken
	CollectedAt int64 `json:"collected_at"`

	// Audit carries the sanitization result attached by the aggregator
	Audit *SanitizationResult `json:"audit,omitempty"`
}

// NewObservation creates an observation with the current timestamp.
func NewObservation(symbol, source string, sourceType SourceType, baseAPY float64) YieldObservation {
	return YieldObservation{
		Symbol:      symbol,
		Source:      source,
		SourceType:  sourceType,
		BaseAPY:     baseAPY,
		CollectedAt: time.Now().Unix(),
	}
}

// SanitizeAction is the decision taken for one observation.
type SanitizeAction string

// Sanitization actions, in increasing order of severity
const (
	ActionAccept SanitizeAction = "accept"
	ActionFlag   SanitizeAction = "flag"
	ActionCap    SanitizeAction = "cap"
	ActionReject SanitizeAction = "reject"
)

// SanitizationResult is the auditable outcome of sanitizing one observation.
// A rejected observation must be excluded from aggregation entirely, not
// carried forward with a zeroed yield.
type SanitizationResult struct {
	OriginalAPY  float64        `json:"original_apy"`
	SanitizedAPY float64        `json:"sanitized_apy"`
	Action       SanitizeAction `json:"action_taken"`

	// Confidence is in [0,1] and decreases with the outlier score
	Confidence float64 `json:"confidence_score"`

	// OutlierScore is method-dependent and unbounded above zero
	OutlierScore float64 `json:"outlier_score"`

	// Warnings records every non-accept decision in human-readable form
	Warnings []string `json:"warnings,omitempty"`

	// Method is the outlier detection method that produced the score
	Method string `json:"method,omitempty"`

	// ContextSize is how many comparable yields the score was based on
	ContextSize int `json:"context_size"`
}

// Rejected reports whether the observation must be dropped downstream.
func (r SanitizationResult) Rejected() bool {
	return r.Action == ActionReject
}

// RiskFactors holds the five independent risk sub-scores, each in [0,1]
// where 1 means no penalty. Recomputed from scratch every cycle.
type RiskFactors struct {
	PegStability       float64 `json:"peg_stability"`
	LiquidityScore     float64 `json:"liquidity_score"`
	CounterpartyScore  float64 `json:"counterparty_score"`
	ProtocolReputation float64 `json:"protocol_reputation"`
	TemporalStability  float64 `json:"temporal_stability"`
}

// RAYResult is a risk-adjusted yield for one surviving observation.
type RAYResult struct {
	Symbol       string      `json:"symbol"`
	Source       string      `json:"source"`
	BaseAPY      float64     `json:"base_apy"`
	TotalPenalty float64     `json:"total_penalty"`
	RAY          float64     `json:"ray"`
	RiskFactors  RiskFactors `json:"risk_factors"`
	TVLUSD       float64     `json:"tvl_usd,omitempty"`
}

// SYIComponent is one constituent of an index payload.
type SYIComponent struct {
	Symbol string  `json:"symbol"`
	Weight float64 `json:"weight"`
	RAY    float64 `json:"ray"`
}

// SYIPayload is the input to an index calculation. WeightUnits and RAYUnits
// are converted independently; a percent-tagged field is divided by 100
// before any arithmetic.
type SYIPayload struct {
	AsOfDate    string         `json:"as_of_date"`
	Components  []SYIComponent `json:"components"`
	WeightUnits Units          `json:"weight_units,omitempty"`
	RAYUnits    Units          `json:"ray_units,omitempty"`
}

// SYIResult is an immutable snapshot of one successful index calculation.
// Components are stored decimal-normalized so the value can be replayed.
type SYIResult struct {
	AsOfDate           string         `json:"as_of_date"`
	SYIDecimal         float64        `json:"syi_decimal"`
	SYIPercent         float64        `json:"syi_percent"`
	MethodologyVersion string         `json:"methodology_version"`
	ComponentsCount    int            `json:"components_count"`
	Components         []SYIComponent `json:"components"`
	CalculatedAt       time.Time      `json:"calculated_at"`
}

// IsZero reports whether the result is the zero snapshot (no calculation yet).
func (r SYIResult) IsZero() bool {
	return r.AsOfDate == "" && r.ComponentsCount == 0
}

// IsFinite reports whether a float is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

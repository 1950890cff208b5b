// Package sanitize decides what to do with a yield observation before it may
// enter the index: accept it, flag it, cap it to the market band, or reject
// it outright. Every decision is recorded in an auditable result.
package sanitize

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/stableyield-index/internal/model"
	"github.com/yourorg/stableyield-index/internal/outlier"
)

// Policy holds the severity thresholds applied to outlier scores. The
// multipliers are policy, not contract: deployments tune them per method.
type Policy struct {
	// Method selects the outlier detection technique
	Method outlier.Method `json:"method"`

	// Threshold is the base severity threshold T
	Threshold float64 `json:"threshold"`

	// FlagMultiplier, CapMultiplier and RejectMultiplier place the action
	// boundaries at multiples of T (defaults 1, 2 and 4)
	FlagMultiplier   float64 `json:"flag_multiplier"`
	CapMultiplier    float64 `json:"cap_multiplier"`
	RejectMultiplier float64 `json:"reject_multiplier"`
}

// DefaultPolicy returns the standard MAD-based policy.
func DefaultPolicy() Policy {
	return Policy{
		Method:           outlier.MethodMAD,
		Threshold:        2.5,
		FlagMultiplier:   1,
		CapMultiplier:    2,
		RejectMultiplier: 4,
	}
}

// Sanitizer applies a policy to observations. It is stateless and safe for
// concurrent use.
type Sanitizer struct {
	policy   Policy
	detector outlier.Detector
}

// New creates a sanitizer for the given policy.
func New(policy Policy) *Sanitizer {
	if policy.Threshold <= 0 {
		policy.Threshold = DefaultPolicy().Threshold
	}
	if policy.FlagMultiplier <= 0 {
		policy.FlagMultiplier = 1
	}
	if policy.CapMultiplier <= 0 {
		policy.CapMultiplier = 2
	}
	if policy.RejectMultiplier <= 0 {
		policy.RejectMultiplier = 4
	}
	return &Sanitizer{
		policy:   policy,
		detector: outlier.NewDetector(policy.Method),
	}
}

// Policy returns the active policy snapshot.
func (s *Sanitizer) Policy() Policy {
	return s.policy
}

// Sanitize scores apy against the market context and returns the decision.
// The function is deterministic for identical inputs; reruns produce a new
// result record rather than mutating an old one. A context of fewer than two
// comparables cannot support an outlier verdict and always accepts.
func (s *Sanitizer) Sanitize(apy float64, source string, context []float64) model.SanitizationResult {
	result := model.SanitizationResult{
		OriginalAPY:  apy,
		SanitizedAPY: apy,
		Action:       model.ActionAccept,
		Confidence:   1.0,
		Method:       string(s.policy.Method),
		ContextSize:  len(context),
	}

	if len(context) < 2 {
		return result
	}

	score := s.detector.Score(apy, context)
	result.OutlierScore = score

	t := s.policy.Threshold
	flagAt := t * s.policy.FlagMultiplier
	capAt := t * s.policy.CapMultiplier
	rejectAt := t * s.policy.RejectMultiplier

	result.Confidence = confidence(score, rejectAt)

	switch {
	case score < flagAt:
		// accept, value passes through untouched

	case score < capAt:
		result.Action = model.ActionFlag
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("yield %.4f from %s flagged as suspicious (outlier score %.2f >= %.2f)",
				apy, source, score, flagAt))

	case score < rejectAt:
		med := outlier.Median(context)
		scale := s.detector.Dispersion(context)
		capped := clamp(apy, med-t*scale, med+t*scale)
		result.Action = model.ActionCap
		result.SanitizedAPY = capped
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("yield %.4f from %s capped to %.4f (outlier score %.2f >= %.2f)",
				apy, source, capped, score, capAt))

	default:
		result.Action = model.ActionReject
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("yield %.4f from %s rejected (outlier score %.2f >= %.2f)",
				apy, source, score, rejectAt))
	}

	if result.Action != model.ActionAccept {
		logrus.WithFields(logrus.Fields{
			"source":        source,
			"apy":           apy,
			"outlier_score": score,
			"action":        result.Action,
		}).Debug("Sanitization intervened")
	}

	return result
}

// SanitizeObservation is a convenience wrapper taking the observation struct.
func (s *Sanitizer) SanitizeObservation(obs model.YieldObservation, context []float64) model.SanitizationResult {
	return s.Sanitize(obs.BaseAPY, obs.Source, context)
}

// confidence maps an outlier score into [0,1], hitting 0 at the reject
// boundary and staying there beyond it.
func confidence(score, rejectAt float64) float64 {
	if rejectAt <= 0 {
		return 1
	}
	c := 1 - score/rejectAt
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

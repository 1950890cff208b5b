// Package aggregate merges raw per-source yield observations into one
// canonical list of risk-adjusted yields. Each observation is sanitized
// against its market context, rejected readings are dropped, and survivors
// are run through the risk model.
package aggregate

import (
	"github.com/sirupsen/logrus"

	"github.com/yourorg/stableyield-index/internal/model"
	"github.com/yourorg/stableyield-index/internal/risk"
	"github.com/yourorg/stableyield-index/internal/sanitize"
)

// Aggregator owns the sanitize → risk-adjust stage of the pipeline.
type Aggregator struct {
	sanitizer *sanitize.Sanitizer
	scorer    *risk.Scorer
	adjuster  *risk.Adjuster
}

// New creates an aggregator from its collaborators.
func New(sanitizer *sanitize.Sanitizer, scorer *risk.Scorer, adjuster *risk.Adjuster) *Aggregator {
	return &Aggregator{
		sanitizer: sanitizer,
		scorer:    scorer,
		adjuster:  adjuster,
	}
}

// Aggregate converts observations into RAY results, one per surviving
// observation. Duplicates by (symbol, source) keep the most recent reading.
// The returned audited slice is the deduplicated snapshot with each
// observation's Audit field populated for downstream statistics consumers;
// rejected observations are excluded from the results entirely rather than
// zeroed, but remain in the audited snapshot.
func (a *Aggregator) Aggregate(observations []model.YieldObservation) ([]model.RAYResult, []model.YieldObservation) {
	deduped := Dedupe(observations)
	results := make([]model.RAYResult, 0, len(deduped))

	rejected := 0
	for i := range deduped {
		obs := &deduped[i]

		context := marketContext(deduped, i)
		audit := a.sanitizer.SanitizeObservation(*obs, context)
		obs.Audit = &audit

		if audit.Rejected() {
			rejected++
			logrus.WithFields(logrus.Fields{
				"symbol":        obs.Symbol,
				"source":        obs.Source,
				"apy":           obs.BaseAPY,
				"outlier_score": audit.OutlierScore,
			}).Info("Observation rejected by sanitizer")
			continue
		}

		factors := a.scorer.Score(*obs, audit.SanitizedAPY)
		results = append(results, a.adjuster.Adjust(*obs, audit.SanitizedAPY, factors))
	}

	logrus.WithFields(logrus.Fields{
		"observations": len(observations),
		"deduped":      len(deduped),
		"rejected":     rejected,
		"survivors":    len(results),
	}).Debug("Aggregation pass complete")

	return results, deduped
}

// Dedupe collapses observations sharing (symbol, source), keeping the most
// recent timestamp. Output order follows first appearance of each key.
func Dedupe(observations []model.YieldObservation) []model.YieldObservation {
	type key struct {
		symbol string
		source string
	}

	index := make(map[key]int, len(observations))
	out := make([]model.YieldObservation, 0, len(observations))

	for _, obs := range observations {
		k := key{obs.Symbol, obs.Source}
		if pos, seen := index[k]; seen {
			if obs.CollectedAt > out[pos].CollectedAt {
				out[pos] = obs
			}
			continue
		}
		index[k] = len(out)
		out = append(out, obs)
	}

	return out
}

// marketContext builds the comparable-yield set for the observation at idx:
// base APYs of all other observations of the same symbol, falling back to
// the full cross-symbol set when the symbol has no peers. The candidate
// itself is always excluded.
func marketContext(observations []model.YieldObservation, idx int) []float64 {
	samesSymbol := make([]float64, 0, len(observations))
	all := make([]float64, 0, len(observations))

	for i, obs := range observations {
		if i == idx {
			continue
		}
		all = append(all, obs.BaseAPY)
		if obs.Symbol == observations[idx].Symbol {
			samesSymbol = append(samesSymbol, obs.BaseAPY)
		}
	}

	if len(samesSymbol) >= 2 {
		return samesSymbol
	}
	return all
}

package aggregate

import (
	"sort"

	"github.com/yourorg/stableyield-index/internal/model"
)

// CollapseBySymbol merges per-source RAY results into one canonical entry
// per stablecoin. Sources with known TVL contribute TVL-weighted; when no
// source for a symbol carries TVL the collapse is a plain mean. Output is
// sorted by symbol for deterministic downstream payloads.
func CollapseBySymbol(results []model.RAYResult) []model.RAYResult {
	grouped := make(map[string][]model.RAYResult, len(results))
	for _, r := range results {
		grouped[r.Symbol] = append(grouped[r.Symbol], r)
	}

	out := make([]model.RAYResult, 0, len(grouped))
	for symbol, group := range grouped {
		out = append(out, collapseGroup(symbol, group))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func collapseGroup(symbol string, group []model.RAYResult) model.RAYResult {
	var totalTVL float64
	for _, r := range group {
		totalTVL += r.TVLUSD
	}

	var ray, baseAPY, penalty float64
	if totalTVL > 0 {
		for _, r := range group {
			w := r.TVLUSD / totalTVL
			ray += r.RAY * w
			baseAPY += r.BaseAPY * w
			penalty += r.TotalPenalty * w
		}
	} else {
		n := float64(len(group))
		for _, r := range group {
			ray += r.RAY / n
			baseAPY += r.BaseAPY / n
			penalty += r.TotalPenalty / n
		}
	}

	return model.RAYResult{
		Symbol:       symbol,
		Source:       "aggregated",
		BaseAPY:      baseAPY,
		TotalPenalty: penalty,
		RAY:          ray,
		TVLUSD:       totalTVL,
	}
}

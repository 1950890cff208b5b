package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/stableyield-index/internal/aggregate"
	"github.com/yourorg/stableyield-index/internal/fetch"
	"github.com/yourorg/stableyield-index/internal/index"
	"github.com/yourorg/stableyield-index/internal/model"
	"github.com/yourorg/stableyield-index/internal/otel"
	"github.com/yourorg/stableyield-index/internal/storage"
)

// ErrNoObservations is returned when a cycle fetched successfully but no
// observation survived to form an index component. It is a calculation
// failure: the scheduler retries it under the normal budget.
var ErrNoObservations = errors.New("no usable yield observations")

// Signer is the optional integrity collaborator wrapping results before
// persistence.
type Signer interface {
	Sign(result model.SYIResult) (storage.Record, error)
}

// Pipeline is the full per-cycle computation: snapshot the observation
// sources, sanitize and risk-adjust, derive weights, and calculate the
// index value for today.
type Pipeline struct {
	sources    []fetch.Source
	symbols    []string
	timeout    time.Duration
	aggregator *aggregate.Aggregator
	calculator *index.Calculator
	signer     Signer
}

// NewPipeline wires the cycle computation. signer may be nil, in which case
// records are stored unsigned.
func NewPipeline(sources []fetch.Source, symbols []string, timeout time.Duration,
	aggregator *aggregate.Aggregator, calculator *index.Calculator, signer Signer) *Pipeline {
	registerMetrics()
	return &Pipeline{
		sources:    sources,
		symbols:    symbols,
		timeout:    timeout,
		aggregator: aggregator,
		calculator: calculator,
		signer:     signer,
	}
}

// Run implements Calculation. The snapshot is consistent: every source has
// completed or timed out before aggregation begins; late sources wait for
// the next cycle.
func (p *Pipeline) Run(ctx context.Context) (storage.Record, error) {
	ctx, span := otel.Tracer().Start(ctx, "calculation_cycle")
	defer span.End()

	observations, err := fetch.Snapshot(ctx, p.sources, p.symbols, p.timeout)
	if err != nil {
		otel.RecordError(ctx, err)
		return storage.Record{}, err
	}

	rays, audited := p.aggregator.Aggregate(observations)
	canonical := aggregate.CollapseBySymbol(rays)
	logAuditSummary(audited)

	if len(canonical) == 0 {
		err := fmt.Errorf("%w: %d fetched, none survived", ErrNoObservations, len(observations))
		otel.RecordError(ctx, err)
		return storage.Record{}, err
	}

	payload := buildPayload(canonical)
	result, err := p.calculator.Calculate(payload)
	if err != nil {
		otel.RecordError(ctx, err)
		return storage.Record{}, err
	}

	if p.signer == nil {
		return storage.Record{Result: result}, nil
	}
	return p.signer.Sign(result)
}

// logAuditSummary reports the per-action sanitization counts for the cycle.
func logAuditSummary(audited []model.YieldObservation) {
	counts := make(map[model.SanitizeAction]int)
	for _, obs := range audited {
		if obs.Audit != nil {
			counts[obs.Audit.Action]++
			sanitizeCounter.WithLabelValues(string(obs.Audit.Action)).Inc()
		}
	}
	logrus.WithFields(logrus.Fields{
		"accepted": counts[model.ActionAccept],
		"flagged":  counts[model.ActionFlag],
		"capped":   counts[model.ActionCap],
		"rejected": counts[model.ActionReject],
	}).Info("Sanitization summary for cycle")
}

// noTVLShare is the fraction of an equal split granted to a symbol whose
// observations carry no TVL while its peers do.
const noTVLShare = 0.1

// buildPayload derives component weights from per-symbol TVL share. When no
// observation carries TVL the components fall back to equal weights.
func buildPayload(canonical []model.RAYResult) model.SYIPayload {
	var totalTVL float64
	for _, r := range canonical {
		totalTVL += r.TVLUSD
	}

	components := make([]model.SYIComponent, 0, len(canonical))
	for _, r := range canonical {
		weight := 1.0
		if totalTVL > 0 && r.TVLUSD > 0 {
			weight = r.TVLUSD / totalTVL
		} else if totalTVL > 0 {
			// a symbol without TVL data must not dominate an equal split
			weight = noTVLShare / float64(len(canonical))
		}
		components = append(components, model.SYIComponent{
			Symbol: r.Symbol,
			Weight: weight,
			RAY:    r.RAY,
		})
	}

	logrus.WithFields(logrus.Fields{
		"components": len(components),
		"total_tvl":  totalTVL,
	}).Debug("Cycle payload built")

	return model.SYIPayload{
		AsOfDate:    time.Now().UTC().Format("2006-01-02"),
		Components:  components,
		WeightUnits: model.UnitsDecimal,
		RAYUnits:    model.UnitsPercent,
	}
}

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/stableyield-index/internal/aggregate"
	"github.com/yourorg/stableyield-index/internal/fetch"
	"github.com/yourorg/stableyield-index/internal/index"
	"github.com/yourorg/stableyield-index/internal/model"
	"github.com/yourorg/stableyield-index/internal/risk"
	"github.com/yourorg/stableyield-index/internal/sanitize"
	"github.com/yourorg/stableyield-index/internal/storage"
)

// fakeCalculation returns canned records or errors and counts invocations.
type fakeCalculation struct {
	calls  int32
	record storage.Record
	err    error
}

func (f *fakeCalculation) Run(ctx context.Context) (storage.Record, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return storage.Record{}, f.err
	}
	return f.record, nil
}

func testRecord(date string) storage.Record {
	return storage.Record{
		Result: model.SYIResult{
			AsOfDate:           date,
			SYIDecimal:         0.0447,
			SYIPercent:         4.47,
			MethodologyVersion: index.MethodologyVersion,
			ComponentsCount:    6,
			CalculatedAt:       time.Now().UTC(),
		},
	}
}

func fastOptions() Options {
	return Options{
		Interval:   time.Hour,
		MaxRetries: 3,
		RetryDelay: 10 * time.Millisecond,
	}
}

func TestForceCalculation_Success(t *testing.T) {
	store := storage.NewMemoryStore()
	calc := &fakeCalculation{record: testRecord("2025-01-15")}
	s := New(fastOptions(), calc, store, nil)

	result, err := s.ForceCalculation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025-01-15", result.AsOfDate)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calc.calls))

	stored, err := store.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025-01-15", stored.Result.AsOfDate)

	last, ok := s.LastResult()
	require.True(t, ok)
	assert.Equal(t, "2025-01-15", last.AsOfDate)
	assert.False(t, s.Status().LastRunTime.IsZero())
}

func TestRunCycle_StorageFailureRetriedThenSucceeds(t *testing.T) {
	store := storage.NewMemoryStore()
	store.FailSaves = 2 // first two attempts fail at the store step
	calc := &fakeCalculation{record: testRecord("2025-01-15")}
	s := New(fastOptions(), calc, store, nil)

	result, err := s.ForceCalculation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025-01-15", result.AsOfDate)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calc.calls), "storage failures consume the same retry budget")
}

func TestRunCycle_RetryExhaustion(t *testing.T) {
	store := storage.NewMemoryStore()
	store.FailSaves = 10 // more failures than the budget allows
	calc := &fakeCalculation{record: testRecord("2025-01-15")}
	s := New(fastOptions(), calc, store, nil)

	_, err := s.ForceCalculation(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "abandoned after 3 attempts")

	// the cycle must end in Idle, not stuck Running
	assert.False(t, s.Running())

	_, ok := s.LastResult()
	assert.False(t, ok, "no result after an abandoned cycle")
	_, latestErr := store.Latest(context.Background())
	assert.ErrorIs(t, latestErr, storage.ErrNoResult)
}

func TestRunCycle_ValidationErrorNotRetried(t *testing.T) {
	store := storage.NewMemoryStore()
	calc := &fakeCalculation{err: &index.ValidationError{Reason: "duplicate symbol USDT"}}
	s := New(fastOptions(), calc, store, nil)

	_, err := s.ForceCalculation(context.Background())
	require.Error(t, err)

	var vErr *index.ValidationError
	assert.True(t, errors.As(err, &vErr))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calc.calls), "validation errors are never retried")
}

func TestRunCycle_CancellationAbortsRetryWait(t *testing.T) {
	store := storage.NewMemoryStore()
	store.FailSaves = 10
	calc := &fakeCalculation{record: testRecord("2025-01-15")}
	s := New(Options{Interval: time.Hour, MaxRetries: 3, RetryDelay: 10 * time.Second}, calc, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := s.ForceCalculation(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second, "retry wait must abort promptly on cancellation")
	assert.False(t, s.Running())
}

func TestTick_OverlapIsDropped(t *testing.T) {
	store := storage.NewMemoryStore()

	release := make(chan struct{})
	started := make(chan struct{})
	calc := &blockingCalculation{record: testRecord("2025-01-15"), started: started, release: release}
	s := New(fastOptions(), calc, store, nil)
	s.ctx = context.Background()

	go s.tick()
	<-started

	// a tick firing while the first cycle runs must be a no-op
	s.tick()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calc.calls))

	close(release)
}

// blockingCalculation holds its first Run until released.
type blockingCalculation struct {
	calls   int32
	record  storage.Record
	started chan struct{}
	release chan struct{}
}

func (b *blockingCalculation) Run(ctx context.Context) (storage.Record, error) {
	if atomic.AddInt32(&b.calls, 1) == 1 {
		close(b.started)
		<-b.release
	}
	return b.record, nil
}

func TestStatus(t *testing.T) {
	s := New(fastOptions(), &fakeCalculation{record: testRecord("2025-01-15")}, storage.NewMemoryStore(), nil)

	status := s.Status()
	assert.False(t, status.Running)
	assert.Equal(t, "1h0m0s", status.Interval)
	assert.True(t, status.NextRunTime.IsZero(), "no next run before Start")
	assert.True(t, status.LastRunTime.IsZero(), "no last run before the first cycle")
}

// emptySource fetches successfully but never yields observations.
type emptySource struct {
	calls int32
}

func (e *emptySource) Name() string { return "empty" }

func (e *emptySource) Fetch(ctx context.Context, symbols []string) ([]model.YieldObservation, error) {
	atomic.AddInt32(&e.calls, 1)
	return nil, nil
}

func TestRunCycle_EmptySnapshotIsRetried(t *testing.T) {
	src := &emptySource{}
	pipeline := NewPipeline(
		[]fetch.Source{src},
		[]string{"USDT"},
		time.Second,
		aggregate.New(
			sanitize.New(sanitize.DefaultPolicy()),
			risk.NewScorer(risk.DefaultTables()),
			risk.NewAdjuster(risk.DefaultPenaltyWeights()),
		),
		index.NewCalculator(),
		nil,
	)
	s := New(fastOptions(), pipeline, storage.NewMemoryStore(), nil)

	_, err := s.ForceCalculation(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoObservations)

	// a cycle with no data is a calculation failure, not a payload defect
	var vErr *index.ValidationError
	assert.False(t, errors.As(err, &vErr))
	assert.Equal(t, int32(3), atomic.LoadInt32(&src.calls), "empty cycles consume the full retry budget")
}

func TestBuildPayload_TVLShareWeights(t *testing.T) {
	canonical := []model.RAYResult{
		{Symbol: "USDC", RAY: 4.5, TVLUSD: 300_000_000},
		{Symbol: "USDT", RAY: 4.2, TVLUSD: 100_000_000},
		{Symbol: "TUSD", RAY: 9.0},
	}

	payload := buildPayload(canonical)
	require.Len(t, payload.Components, 3)
	assert.Equal(t, model.UnitsDecimal, payload.WeightUnits)
	assert.Equal(t, model.UnitsPercent, payload.RAYUnits)

	assert.InDelta(t, 0.75, payload.Components[0].Weight, 1e-9)
	assert.InDelta(t, 0.25, payload.Components[1].Weight, 1e-9)
	assert.InDelta(t, noTVLShare/3, payload.Components[2].Weight, 1e-9,
		"a TVL-less symbol gets a reduced share of an equal split")
}

func TestBuildPayload_EqualWeightsWithoutTVL(t *testing.T) {
	canonical := []model.RAYResult{
		{Symbol: "USDC", RAY: 4.5},
		{Symbol: "USDT", RAY: 4.2},
	}

	payload := buildPayload(canonical)
	require.Len(t, payload.Components, 2)
	assert.Equal(t, payload.Components[0].Weight, payload.Components[1].Weight)
}

func TestStartAndStop(t *testing.T) {
	store := storage.NewMemoryStore()
	s := New(fastOptions(), &fakeCalculation{record: testRecord("2025-01-15")}, store, nil)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	status := s.Status()
	assert.False(t, status.NextRunTime.IsZero())
	assert.WithinDuration(t, time.Now().Add(time.Hour), status.NextRunTime, time.Minute)
}

// Package scheduler drives the index calculation pipeline on a fixed
// interval, with a retry budget per cycle, strict overlap prevention, and an
// on-demand force-run that serializes behind any in-flight cycle.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/stableyield-index/internal/index"
	"github.com/yourorg/stableyield-index/internal/model"
	"github.com/yourorg/stableyield-index/internal/storage"
)

// Calculation produces one complete, ready-to-persist snapshot.
type Calculation interface {
	Run(ctx context.Context) (storage.Record, error)
}

// Options configures the scheduler.
type Options struct {
	// Interval between scheduled calculation cycles
	Interval time.Duration

	// MaxRetries is the attempt budget per cycle (default 3)
	MaxRetries int

	// RetryDelay is the fixed wait between attempts (default 30s)
	RetryDelay time.Duration
}

// Status is the externally visible scheduler state.
type Status struct {
	Running     bool      `json:"running"`
	NextRunTime time.Time `json:"next_run_time"`
	LastRunTime time.Time `json:"last_run_time"`
	Interval    string    `json:"interval"`
}

var (
	metricsOnce sync.Once

	cycleCounter    *prometheus.CounterVec
	attemptGauge    prometheus.Gauge
	lastSYIGauge    prometheus.Gauge
	componentsGauge prometheus.Gauge
	sanitizeCounter *prometheus.CounterVec
)

func registerMetrics() {
	metricsOnce.Do(func() {
		cycleCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syi_cycles_total",
				Help: "Calculation cycles by outcome",
			},
			[]string{"outcome"},
		)
		attemptGauge = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "syi_cycle_attempts",
				Help: "Attempts consumed by the most recent cycle",
			},
		)
		lastSYIGauge = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "syi_last_value_percent",
				Help: "Most recently published SYI value in percent",
			},
		)
		componentsGauge = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "syi_components",
				Help: "Constituent count of the most recent index value",
			},
		)
		sanitizeCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syi_sanitize_actions_total",
				Help: "Sanitization decisions by action",
			},
			[]string{"action"},
		)
		prometheus.MustRegister(cycleCounter, attemptGauge, lastSYIGauge, componentsGauge, sanitizeCounter)
	})
}

// Scheduler owns the periodic trigger and the per-cycle retry loop. A cycle
// is strictly serialized: a tick that fires while one is in flight is a
// no-op, never queued.
type Scheduler struct {
	opts  Options
	calc  Calculation
	store storage.Store
	cache *storage.RedisCache

	cron    *cron.Cron
	entryID cron.EntryID

	// runMu serializes cycles; the scheduled tick only try-locks it while
	// ForceCalculation blocks on it
	runMu   sync.Mutex
	running bool
	stateMu sync.RWMutex

	lastResult *model.SYIResult
	lastRunAt  time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. Zero option fields get the documented defaults.
func New(opts Options, calc Calculation, store storage.Store, cache *storage.RedisCache) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 30 * time.Second
	}
	registerMetrics()
	return &Scheduler{
		opts:  opts,
		calc:  calc,
		store: store,
		cache: cache,
	}
}

// Start initializes storage and begins the periodic trigger. The passed
// context is the cancellation token for the run loop: cancelling it aborts
// any in-flight retry wait promptly.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.store.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	s.cron = cron.New()
	entryID, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.opts.Interval), s.tick)
	if err != nil {
		return fmt.Errorf("registering cron entry: %w", err)
	}
	s.entryID = entryID
	s.cron.Start()

	logrus.WithFields(logrus.Fields{
		"interval":    s.opts.Interval,
		"max_retries": s.opts.MaxRetries,
		"retry_delay": s.opts.RetryDelay,
	}).Info("Scheduler started")
	return nil
}

// Stop halts the trigger and cancels any in-flight retry wait.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	logrus.Info("Scheduler stopped")
}

// tick is the scheduled entrypoint. Overlap prevention: if the previous
// cycle's retry loop is still in flight the lock is held and this tick is
// dropped.
func (s *Scheduler) tick() {
	if !s.runMu.TryLock() {
		logrus.Warn("Previous calculation cycle still running, skipping tick")
		cycleCounter.WithLabelValues("skipped_overlap").Inc()
		return
	}
	defer s.runMu.Unlock()

	if _, err := s.runCycle(s.ctx); err != nil {
		// the next scheduled tick is the recovery mechanism
		logrus.WithError(err).Error("Calculation cycle abandoned")
	}
}

// ForceCalculation runs one cycle on demand through the identical retry
// path. It serializes: if a scheduled cycle is in flight this call blocks
// until it completes, then runs.
func (s *Scheduler) ForceCalculation(ctx context.Context) (model.SYIResult, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.runCycle(ctx)
}

// runCycle attempts the calculation up to the retry budget. Callers must
// hold runMu. Storage failure counts as a calculation failure and is retried
// under the same budget; a ValidationError is never retried. After
// exhaustion the cycle is abandoned without escalating past the caller.
func (s *Scheduler) runCycle(ctx context.Context) (model.SYIResult, error) {
	s.setRunning(true)
	defer s.setRunning(false)

	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxRetries; attempt++ {
		attemptGauge.Set(float64(attempt))

		record, err := s.attempt(ctx)
		if err == nil {
			s.recordSuccess(record)
			cycleCounter.WithLabelValues("success").Inc()
			return record.Result, nil
		}

		var vErr *index.ValidationError
		if errors.As(err, &vErr) {
			cycleCounter.WithLabelValues("validation_error").Inc()
			return model.SYIResult{}, err
		}

		lastErr = err
		logrus.WithFields(logrus.Fields{
			"attempt":     attempt,
			"max_retries": s.opts.MaxRetries,
			"error":       err,
		}).Warn("Calculation attempt failed")

		if attempt == s.opts.MaxRetries {
			break
		}

		// the cancellation token is honored at the top of each retry wait
		select {
		case <-ctx.Done():
			cycleCounter.WithLabelValues("cancelled").Inc()
			return model.SYIResult{}, ctx.Err()
		case <-time.After(s.opts.RetryDelay):
		}
	}

	cycleCounter.WithLabelValues("exhausted").Inc()
	return model.SYIResult{}, fmt.Errorf("cycle abandoned after %d attempts: %w", s.opts.MaxRetries, lastErr)
}

// attempt runs the pipeline once and persists the snapshot all-or-nothing:
// a result only becomes visible after the durable store accepted it.
func (s *Scheduler) attempt(ctx context.Context) (storage.Record, error) {
	record, err := s.calc.Run(ctx)
	if err != nil {
		return storage.Record{}, err
	}

	if err := s.store.Save(ctx, record); err != nil {
		return storage.Record{}, fmt.Errorf("storing result: %w", err)
	}
	return record, nil
}

func (s *Scheduler) recordSuccess(record storage.Record) {
	s.stateMu.Lock()
	result := record.Result
	s.lastResult = &result
	s.lastRunAt = time.Now()
	s.stateMu.Unlock()

	lastSYIGauge.Set(record.Result.SYIPercent)
	componentsGauge.Set(float64(record.Result.ComponentsCount))

	// cache refresh is best-effort: the DB row is already durable
	if s.cache != nil {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.cache.SetLatest(cacheCtx, record); err != nil {
			logrus.WithError(err).Warn("Failed to refresh latest-result cache")
		}
	}

	logrus.WithFields(logrus.Fields{
		"as_of_date":  record.Result.AsOfDate,
		"syi_percent": record.Result.SYIPercent,
		"components":  record.Result.ComponentsCount,
	}).Info("Calculation cycle stored")
}

func (s *Scheduler) setRunning(v bool) {
	s.stateMu.Lock()
	s.running = v
	s.stateMu.Unlock()
}

// Running reports whether a cycle is currently in flight.
func (s *Scheduler) Running() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.running
}

// LastResult returns the most recent successful result, if any.
func (s *Scheduler) LastResult() (model.SYIResult, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.lastResult == nil {
		return model.SYIResult{}, false
	}
	return *s.lastResult, true
}

// Interval returns the configured cycle interval.
func (s *Scheduler) Interval() time.Duration {
	return s.opts.Interval
}

// Status returns the externally visible scheduler state.
func (s *Scheduler) Status() Status {
	s.stateMu.RLock()
	lastRunAt := s.lastRunAt
	running := s.running
	s.stateMu.RUnlock()

	status := Status{
		Running:     running,
		LastRunTime: lastRunAt,
		Interval:    s.opts.Interval.String(),
	}
	if s.cron != nil {
		status.NextRunTime = s.cron.Entry(s.entryID).Next
	}
	return status
}

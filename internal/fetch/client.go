// Package fetch provides source-specific clients for retrieving stablecoin
// yield observations and the snapshot fan-in that feeds each calculation
// cycle.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/stableyield-index/internal/model"
)

// Source is any provider of yield observations for a set of tracked symbols.
type Source interface {
	// Name identifies the source in logs and audit records
	Name() string

	// Fetch retrieves current observations for the given symbols
	Fetch(ctx context.Context, symbols []string) ([]model.YieldObservation, error)
}

// ErrAllSourcesFailed is returned when no source delivered any observations
// for a cycle. A single failing source is routine and only excluded.
var ErrAllSourcesFailed = errors.New("all observation sources failed")

// newRetryClient creates an HTTP client with retry capabilities for
// transient source failures.
func newRetryClient(timeout time.Duration) *http.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.HTTPClient.Timeout = timeout
	c.Logger = nil
	return c.StandardClient()
}

// Snapshot fetches from all sources concurrently and returns the combined
// observation set for one cycle. Every source either completes or times out
// before the snapshot is returned; a failed source is logged and excluded.
// Only when zero sources succeed does the snapshot itself fail.
func Snapshot(ctx context.Context, sources []Source, symbols []string, perSourceTimeout time.Duration) ([]model.YieldObservation, error) {
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		observations []model.YieldObservation
		succeeded    int
		errs         []error
	)

	for _, source := range sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()

			fetchCtx, cancel := context.WithTimeout(ctx, perSourceTimeout)
			defer cancel()

			obs, err := src.Fetch(fetchCtx, symbols)
			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
				logrus.WithFields(logrus.Fields{
					"source": src.Name(),
					"error":  err,
				}).Warn("Source excluded from cycle")
				return
			}

			observations = append(observations, obs...)
			succeeded++
		}(source)
	}

	wg.Wait()

	if succeeded == 0 {
		if len(errs) > 0 {
			return nil, fmt.Errorf("%w: %v", ErrAllSourcesFailed, errs[0])
		}
		return nil, ErrAllSourcesFailed
	}

	logrus.WithFields(logrus.Fields{
		"sources":      len(sources),
		"succeeded":    succeeded,
		"observations": len(observations),
	}).Debug("Observation snapshot complete")

	return observations, nil
}

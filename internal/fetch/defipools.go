package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/stableyield-index/internal/model"
)

// DefiPoolsClient pulls stablecoin pool yields from a DefiLlama-compatible
// pools API.
type DefiPoolsClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewDefiPoolsClient creates a client for the given pools API base URL.
func NewDefiPoolsClient(baseURL string, timeout time.Duration) *DefiPoolsClient {
	return &DefiPoolsClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newRetryClient(timeout),
	}
}

// Name implements Source.
func (c *DefiPoolsClient) Name() string { return "defi-pools" }

// Fetch retrieves pool yields and keeps only pools denominated in a tracked
// stablecoin.
func (c *DefiPoolsClient) Fetch(ctx context.Context, symbols []string) ([]model.YieldObservation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/pools", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching defi pools: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("defi pools API status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Data []struct {
			Symbol  string  `json:"symbol"`
			Project string  `json:"project"`
			APY     float64 `json:"apy"`
			TVLUSD  float64 `json:"tvlUsd"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decoding defi pools response: %w", err)
	}

	tracked := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		tracked[strings.ToUpper(s)] = struct{}{}
	}

	now := time.Now().Unix()
	var observations []model.YieldObservation
	for _, pool := range response.Data {
		symbol := strings.ToUpper(pool.Symbol)
		if _, ok := tracked[symbol]; !ok {
			continue
		}
		observations = append(observations, model.YieldObservation{
			Symbol:      symbol,
			Source:      pool.Project,
			SourceType:  model.SourceDeFi,
			BaseAPY:     pool.APY,
			TVLUSD:      pool.TVLUSD,
			CollectedAt: now,
		})
	}

	logrus.WithField("count", len(observations)).Debug("Fetched defi pool observations")
	return observations, nil
}

package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/stableyield-index/internal/model"
)

// CeFiEarnClient pulls advertised earn rates from a centralized-exchange
// rates API.
type CeFiEarnClient struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
}

// NewCeFiEarnClient creates a client for the given earn API base URL. The
// API key may be empty for public endpoints.
func NewCeFiEarnClient(baseURL, apiKey string, timeout time.Duration) *CeFiEarnClient {
	return &CeFiEarnClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newRetryClient(timeout),
		apiKey:     apiKey,
	}
}

// Name implements Source.
func (c *CeFiEarnClient) Name() string { return "cefi-earn" }

// Fetch retrieves earn rates for the tracked symbols.
func (c *CeFiEarnClient) Fetch(ctx context.Context, symbols []string) ([]model.YieldObservation, error) {
	endpoint := c.baseURL + "/rates?symbols=" + url.QueryEscape(strings.Join(symbols, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching cefi earn rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("cefi earn API status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Rates []struct {
			Symbol     string   `json:"symbol"`
			Venue      string   `json:"venue"`
			APY        float64  `json:"apy"`
			Reputation *float64 `json:"reputation,omitempty"`
			UpdatedAt  int64    `json:"updated_at"`
		} `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decoding cefi earn response: %w", err)
	}

	if len(response.Rates) == 0 {
		return nil, fmt.Errorf("no earn rates returned")
	}

	observations := make([]model.YieldObservation, 0, len(response.Rates))
	for _, rate := range response.Rates {
		collected := rate.UpdatedAt
		if collected == 0 {
			collected = time.Now().Unix()
		}
		observations = append(observations, model.YieldObservation{
			Symbol:             strings.ToUpper(rate.Symbol),
			Source:             rate.Venue,
			SourceType:         model.SourceCeFi,
			BaseAPY:            rate.APY,
			ProtocolReputation: rate.Reputation,
			CollectedAt:        collected,
		})
	}

	logrus.WithField("count", len(observations)).Debug("Fetched cefi earn observations")
	return observations, nil
}

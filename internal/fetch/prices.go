package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// PriceClient reads USD spot prices for reward tokens from a simple-price
// style endpoint. One request covers every token of a batch.
type PriceClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewPriceClient creates a new reward token price client
func NewPriceClient(baseURL string, timeout time.Duration) *PriceClient {
	return &PriceClient{
		baseURL:    baseURL,
		httpClient: StandardClient(newRetryClient(timeout)),
	}
}

// Fetch retrieves USD prices for the given symbol->priceID map. Every
// requested token must come back priced; a missing quote is an error because
// the engine would otherwise fail the whole batch asset by asset.
func (c *PriceClient) Fetch(ctx context.Context, priceIDs map[string]string) (map[string]float64, error) {
	if len(priceIDs) == 0 {
		return map[string]float64{}, nil
	}

	ids := make([]string, 0, len(priceIDs))
	for _, id := range priceIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	endpoint := fmt.Sprintf("%s?ids=%s&vs_currencies=usd", c.baseURL, url.QueryEscape(strings.Join(ids, ",")))
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	logrus.Debugf("Fetching %d token prices", len(ids))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("price provider error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var quotes map[string]struct {
		USD float64 `json:"usd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&quotes); err != nil {
		return nil, fmt.Errorf("error decoding response: %w", err)
	}

	prices := make(map[string]float64, len(priceIDs))
	for symbol, id := range priceIDs {
		quote, ok := quotes[id]
		if !ok {
			return nil, fmt.Errorf("no quote returned for %s (%s)", symbol, id)
		}
		prices[symbol] = quote.USD
	}

	return prices, nil
}

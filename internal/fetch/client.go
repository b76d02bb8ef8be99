// Package fetch provides clients for retrieving reserve state, incentive
// reward stats, and reward token prices from upstream data providers.
package fetch

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/yourorg/lendyield-api/internal/model"
	"github.com/yourorg/lendyield-api/internal/rewards"
)

// ReserveProvider retrieves reserve snapshots for a set of reserve addresses.
// Partial results are allowed: addresses that could not be read come back in
// the error map instead of failing the whole call.
type ReserveProvider interface {
	Fetch(ctx context.Context, addresses map[string]string) (map[string]model.ReserveSnapshot, map[string]error, error)
}

// RewardProvider retrieves externally reported incentive programs per asset.
// Absence of programs is a normal outcome, not an error.
type RewardProvider interface {
	Fetch(ctx context.Context) (map[string][]rewards.Program, error)
}

// PriceProvider retrieves USD prices for reward tokens.
type PriceProvider interface {
	Fetch(ctx context.Context, priceIDs map[string]string) (map[string]float64, error)
}

// newRetryClient creates a new HTTP client with retry capabilities
func newRetryClient(timeout time.Duration) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.HTTPClient.Timeout = timeout
	c.Logger = nil
	return c
}

// StandardClient converts a retryablehttp.Client to a standard http.Client
func StandardClient(retryClient *retryablehttp.Client) *http.Client {
	return retryClient.StandardClient()
}

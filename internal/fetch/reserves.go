package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/lendyield-api/internal/model"
)

var wadScale = decimal.New(1, 18)

// roundWadToUint converts a 1e18-scaled decimal string to the nearest whole
// token amount. Values that do not fit a uint64 are an overflow, never a
// silent wrap.
func roundWadToUint(s string) (uint64, error) {
	if s == "" {
		return 0, model.ErrMissingData
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid scaled amount %q: %w", s, err)
	}
	rounded := d.Div(wadScale).Round(0)
	if rounded.IsNegative() || !rounded.BigInt().IsUint64() {
		return 0, fmt.Errorf("amount %s out of range: %w", s, model.ErrPrecisionOverflow)
	}
	return rounded.BigInt().Uint64(), nil
}

// ReserveClient reads lending reserve accounts from the chain data provider.
// All addresses of a batch go out in one request so every snapshot reflects
// the same slot.
type ReserveClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewReserveClient creates a new reserve state client
func NewReserveClient(baseURL string, timeout time.Duration) *ReserveClient {
	return &ReserveClient{
		baseURL:    baseURL,
		httpClient: StandardClient(newRetryClient(timeout)),
	}
}

type reserveAccount struct {
	Address   string `json:"address"`
	Liquidity struct {
		AvailableAmount    uint64 `json:"availableAmount"`
		BorrowedAmountWads string `json:"borrowedAmountWads"`
		MarketPrice        string `json:"marketPrice"`
		MintDecimals       uint8  `json:"mintDecimals"`
	} `json:"liquidity"`
	Config struct {
		OptimalUtilizationRate uint8 `json:"optimalUtilizationRate"`
		OptimalBorrowRate      uint8 `json:"optimalBorrowRate"`
		MinBorrowRate          uint8 `json:"minBorrowRate"`
		MaxBorrowRate          uint8 `json:"maxBorrowRate"`
	} `json:"config"`
}

// Fetch retrieves the reserve accounts for the given symbol->address map in a
// single request. Addresses the provider could not serve are reported
// per-asset; the call itself fails only when the request or decode fails.
func (c *ReserveClient) Fetch(ctx context.Context, addresses map[string]string) (map[string]model.ReserveSnapshot, map[string]error, error) {
	ordered := make([]string, 0, len(addresses))
	symbolOf := make(map[string]string, len(addresses))
	for symbol, addr := range addresses {
		ordered = append(ordered, addr)
		symbolOf[addr] = symbol
	}

	payload, err := json.Marshal(map[string]any{"addresses": ordered})
	if err != nil {
		return nil, nil, fmt.Errorf("error encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/reserves", bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	logrus.Debugf("Fetching %d reserve accounts from %s", len(ordered), c.baseURL)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("error fetching reserves: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, nil, fmt.Errorf("reserve provider error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Reserves []*reserveAccount `json:"reserves"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, nil, fmt.Errorf("error decoding response: %w", err)
	}

	found := make(map[string]*reserveAccount, len(response.Reserves))
	for _, acc := range response.Reserves {
		found[acc.Address] = acc
	}

	snapshots := make(map[string]model.ReserveSnapshot)
	failed := make(map[string]error)
	for addr, symbol := range symbolOf {
		acc, ok := found[addr]
		if !ok {
			failed[symbol] = fmt.Errorf("reserve account %s not returned: %w", addr, model.ErrMissingData)
			continue
		}

		borrowed, err := roundWadToUint(acc.Liquidity.BorrowedAmountWads)
		if err != nil {
			failed[symbol] = fmt.Errorf("borrowed amount for %s: %w", symbol, err)
			continue
		}

		snapshots[symbol] = model.ReserveSnapshot{
			AvailableAmount: acc.Liquidity.AvailableAmount,
			BorrowedAmount:  borrowed,
			MarketPrice:     acc.Liquidity.MarketPrice,
			MintDecimals:    acc.Liquidity.MintDecimals,
			Curve: model.CurveParams{
				OptimalUtilizationRate: acc.Config.OptimalUtilizationRate,
				OptimalBorrowRate:      acc.Config.OptimalBorrowRate,
				MinBorrowRate:          acc.Config.MinBorrowRate,
				MaxBorrowRate:          acc.Config.MaxBorrowRate,
			},
		}
	}

	logrus.Debugf("Decoded %d reserve snapshots, %d failed", len(snapshots), len(failed))
	return snapshots, failed, nil
}

// Package model defines the core data structures for the lending yield service.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RewardComponent is a single incentive contribution for one reward token,
// expressed as an annualized yield on the pool's USD value.
type RewardComponent struct {
	// Token is the reward token identifier (mint address or symbol)
	Token string `json:"token"`

	// APY is the annualized contribution, expressed as a decimal
	// e.g., 0.05 for 5% APY
	APY float64 `json:"apy"`
}

// AssetYield represents the computed yield record for one asset.
// This is the core data structure that flows through the entire application.
type AssetYield struct {
	// Asset is the asset symbol this record was computed for
	Asset string `json:"asset"`

	// Price is the asset's USD market price at computation time
	Price float64 `json:"price"`

	// Supply is the net supply APY: base curve rate plus supply incentives,
	// expressed as a decimal, e.g., 0.05 for 5%
	Supply float64 `json:"supply"`

	// Borrow is the net borrow APY: base curve rate minus borrow incentives.
	// May legitimately be negative under large incentive programs.
	Borrow float64 `json:"borrow"`

	// SupplyRewards lists the incentive components added to Supply.
	// Empty when no supply-side program is active (never a zero entry).
	SupplyRewards []RewardComponent `json:"supply_rewards,omitempty"`

	// BorrowRewards lists the incentive components subtracted from Borrow.
	BorrowRewards []RewardComponent `json:"borrow_rewards,omitempty"`

	// BorrowNegative flags records where incentives pushed the net borrow
	// APY below zero, so presentation layers can render them distinctly.
	BorrowNegative bool `json:"borrow_negative,omitempty"`

	// Any error message associated with this record
	Error string `json:"error,omitempty"`
}

// Granularity identifies the collection cadence a batch was recorded at.
type Granularity string

// Supported collection cadences
const (
	GranularityMinute Granularity = "MINUTE"
	GranularityHour   Granularity = "HOUR"
	GranularityDay    Granularity = "DAY"
	GranularityWeek   Granularity = "WEEK"
)

// ParseGranularity converts a string to a Granularity, case-insensitively.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToUpper(s) {
	case "MINUTE":
		return GranularityMinute, nil
	case "HOUR":
		return GranularityHour, nil
	case "DAY":
		return GranularityDay, nil
	case "WEEK":
		return GranularityWeek, nil
	default:
		return "", fmt.Errorf("%q is not a valid granularity", s)
	}
}

// YieldBatch is one scheduled collection run: the yield records for every
// tracked asset, computed from a single consistent snapshot and price set.
// Batches are immutable after creation and persisted append-only.
type YieldBatch struct {
	CollectedAt time.Time    `json:"collected_at"`
	Granularity Granularity  `json:"granularity"`
	Assets      []AssetYield `json:"assets"`
}

// SeriesPoint is one (bucket start, average value) pair of an aggregated
// series. It marshals as a two-element array for charting.
type SeriesPoint struct {
	Time  time.Time
	Value float64
}

// MarshalJSON encodes the point as [unix_timestamp, value].
func (p SeriesPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{float64(p.Time.Unix()), p.Value})
}

// UnmarshalJSON decodes the [unix_timestamp, value] pair form.
func (p *SeriesPoint) UnmarshalJSON(data []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	p.Time = time.Unix(int64(pair[0]), 0).UTC()
	p.Value = pair[1]
	return nil
}

// AggregatedSeries holds per-asset, time-bucketed average series produced by
// the downsampler. Computed on demand for a lookback window; not persisted.
type AggregatedSeries struct {
	Name   string        `json:"name"`
	Supply []SeriesPoint `json:"supply"`
	Borrow []SeriesPoint `json:"borrow"`
	Price  []SeriesPoint `json:"price,omitempty"`
}

// CurveParams holds the protocol-configured rate curve parameters of a
// reserve, as integer percentages (0-100).
type CurveParams struct {
	OptimalUtilizationRate uint8 `json:"optimal_utilization_rate"`
	OptimalBorrowRate      uint8 `json:"optimal_borrow_rate"`
	MinBorrowRate          uint8 `json:"min_borrow_rate"`
	MaxBorrowRate          uint8 `json:"max_borrow_rate"`
}

// Validate checks the curve parameters for configuration errors. Values
// outside the 0-100 percentage domain or an inverted min/optimal/max ordering
// are configuration bugs and must be rejected before any computation starts.
func (c CurveParams) Validate() error {
	if c.OptimalUtilizationRate == 0 || c.OptimalUtilizationRate > 100 {
		return &ConfigurationError{Field: "optimal_utilization_rate", Reason: fmt.Sprintf("must be in (0,100], got %d", c.OptimalUtilizationRate)}
	}
	if c.OptimalBorrowRate > 100 {
		return &ConfigurationError{Field: "optimal_borrow_rate", Reason: fmt.Sprintf("must be at most 100, got %d", c.OptimalBorrowRate)}
	}
	if c.MinBorrowRate > 100 {
		return &ConfigurationError{Field: "min_borrow_rate", Reason: fmt.Sprintf("must be at most 100, got %d", c.MinBorrowRate)}
	}
	if c.MaxBorrowRate > 100 {
		return &ConfigurationError{Field: "max_borrow_rate", Reason: fmt.Sprintf("must be at most 100, got %d", c.MaxBorrowRate)}
	}
	if c.MinBorrowRate > c.OptimalBorrowRate || c.OptimalBorrowRate > c.MaxBorrowRate {
		return &ConfigurationError{Field: "borrow_rates", Reason: fmt.Sprintf("expected min <= optimal <= max, got %d/%d/%d", c.MinBorrowRate, c.OptimalBorrowRate, c.MaxBorrowRate)}
	}
	return nil
}

// ReserveSnapshot is the decoded on-chain pool state for one asset, as
// produced by the chain-state collaborator.
type ReserveSnapshot struct {
	// AvailableAmount is the raw, undecimalized liquidity in the reserve
	AvailableAmount uint64 `json:"available_amount"`

	// BorrowedAmount is the raw borrowed liquidity, rounded from the
	// higher-precision on-chain accumulator
	BorrowedAmount uint64 `json:"borrowed_amount"`

	// MarketPrice is the 1e18-scaled token price as a decimal-digit string
	MarketPrice string `json:"market_price"`

	// MintDecimals is the token mint's decimal count
	MintDecimals uint8 `json:"mint_decimals"`

	// Curve holds the reserve's configured rate curve parameters
	Curve CurveParams `json:"curve"`
}

// Package rewards computes annualized incentive-program contributions layered
// on top of the base curve rates.
package rewards

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/yourorg/lendyield-api/internal/model"
)

// Side identifies which side of the pool a program pays.
type Side string

// Program sides
const (
	SideSupply Side = "supply"
	SideBorrow Side = "borrow"
)

// Mode selects how a program's reward rate is sourced.
type Mode string

// Reward-rate sourcing modes
const (
	// ModeWeighted splits a fixed market-wide annual emission between
	// reserves proportionally to configured integer weights.
	ModeWeighted Mode = "weighted"

	// ModeReported uses a raw per-tick emission rate reported by an
	// external source for this reserve and side.
	ModeReported Mode = "reported"
)

// Program describes one active incentive program on a reserve.
type Program struct {
	Side        Side
	RewardToken string

	Mode Mode

	// RawRate is the double 1e18-scaled per-tick rate as a decimal-digit
	// string (reported mode only).
	RawRate string

	// Decimals is the reward token's decimal count
	Decimals uint8

	// Weight is the reserve's share weight (weighted mode only)
	Weight *uint8
}

// Emission describes the market-wide annual incentive budget split between
// reserves in weighted mode. Emission amounts are denominated in reward
// tokens per year; the USD conversion happens against the reward-token price
// fetched once per batch.
type Emission struct {
	RewardToken       string
	SupplyPerYear     float64
	BorrowPerYear     float64
	SupplyWeightTotal int
	BorrowWeightTotal int
}

// ExtraIncentive is a weight-independent supply-side program for one
// designated asset, funded from a separate incentive budget. It is reported
// as its own component, never merged into the weighted contribution.
type ExtraIncentive struct {
	Asset       string
	RewardToken string
	RatePerTick float64
}

// PoolTotals carries the USD-valued pool sides of one reserve.
type PoolTotals struct {
	// SupplyUSD is available + borrowed liquidity, in USD
	SupplyUSD float64

	// BorrowUSD is the borrowed liquidity alone, in USD
	BorrowUSD float64

	// MintDecimals is carried through for reported-rate normalization
	MintDecimals uint8
}

// sideUSD returns the pool total the given side's yield is measured against.
func (p PoolTotals) sideUSD(side Side) float64 {
	if side == SideBorrow {
		return p.BorrowUSD
	}
	return p.SupplyUSD
}

// Overlay converts program descriptors into annualized per-dollar yield
// contributions. TicksPerYear is the count of protocol time-ticks in a
// calendar year at the nominal tick interval; it is deployment configuration,
// not a constant, because tick cadence can change.
type Overlay struct {
	TicksPerYear float64
}

// DefaultTicksPerYear assumes two ticks per second, the cadence the tracked
// chain targets.
const DefaultTicksPerYear = 63_072_000

// PoolTotalsFromSnapshot converts a reserve snapshot's raw amounts into USD
// pool totals using the snapshot's own 1e18-scaled market price.
func PoolTotalsFromSnapshot(s model.ReserveSnapshot) (PoolTotals, error) {
	price, err := ParseWad(s.MarketPrice)
	if err != nil {
		return PoolTotals{}, fmt.Errorf("market price: %w", err)
	}

	scale := math.Pow10(int(s.MintDecimals))
	availableUSD := float64(s.AvailableAmount) * price / scale
	borrowedUSD := float64(s.BorrowedAmount) * price / scale

	return PoolTotals{
		SupplyUSD:    availableUSD + borrowedUSD,
		BorrowUSD:    borrowedUSD,
		MintDecimals: s.MintDecimals,
	}, nil
}

// Contribution computes the APY contribution of one program. rewardPrice is
// the reward token's USD price, fetched once per batch and shared across all
// assets in that batch.
func (o Overlay) Contribution(p Program, pool PoolTotals, rewardPrice float64, em Emission) (model.RewardComponent, error) {
	switch p.Mode {
	case ModeWeighted:
		return o.weighted(p, pool, rewardPrice, em)
	case ModeReported:
		return o.reported(p, pool, rewardPrice)
	default:
		return model.RewardComponent{}, fmt.Errorf("unknown program mode %q", p.Mode)
	}
}

// ValidateProgram checks a program's configuration against the emission
// schedule. A weighted program without a weight, or whose side has a zero
// weight total, is a configuration bug rather than a data problem.
func ValidateProgram(p Program, em Emission) error {
	if p.Mode != ModeWeighted {
		return nil
	}
	if p.Weight == nil {
		return &model.ConfigurationError{Field: "weight", Reason: "weighted program without a weight"}
	}
	total := em.SupplyWeightTotal
	if p.Side == SideBorrow {
		total = em.BorrowWeightTotal
	}
	if total == 0 {
		return &model.ConfigurationError{Field: "weights", Reason: "weighted program with zero total side weight"}
	}
	return nil
}

// weighted derives the program's share of the market-wide annual emission
// from its weight, then expresses the USD value of that share as a fraction
// of the pool's USD total.
func (o Overlay) weighted(p Program, pool PoolTotals, rewardPrice float64, em Emission) (model.RewardComponent, error) {
	if err := ValidateProgram(p, em); err != nil {
		return model.RewardComponent{}, err
	}

	var perYear float64
	var weightTotal int
	if p.Side == SideBorrow {
		perYear = em.BorrowPerYear
		weightTotal = em.BorrowWeightTotal
	} else {
		perYear = em.SupplyPerYear
		weightTotal = em.SupplyWeightTotal
	}

	poolUSD := pool.sideUSD(p.Side)
	if poolUSD == 0 {
		return model.RewardComponent{}, model.ErrDivisionByZero
	}

	share := float64(*p.Weight) / float64(weightTotal)
	apy := perYear * share * rewardPrice / poolUSD
	if err := checkFinite(apy); err != nil {
		return model.RewardComponent{}, err
	}

	return model.RewardComponent{Token: p.RewardToken, APY: apy}, nil
}

// reported normalizes the externally reported per-tick rate and annualizes it
// against the pool's USD total. The raw rate carries a double 1e18 scaling
// from the rate source, and the per-dollar conversion re-applies the mint's
// decimal scale.
func (o Overlay) reported(p Program, pool PoolTotals, rewardPrice float64) (model.RewardComponent, error) {
	poolUSD := pool.sideUSD(p.Side)
	if poolUSD == 0 {
		return model.RewardComponent{}, model.ErrDivisionByZero
	}

	rate, err := ParseRawRate(p.RawRate)
	if err != nil {
		return model.RewardComponent{}, fmt.Errorf("reward rate for %s: %w", p.RewardToken, err)
	}

	apyDec := rate.
		Mul(decimal.NewFromFloat(o.TicksPerYear)).
		Mul(decimal.NewFromFloat(rewardPrice)).
		Div(decimal.NewFromFloat(poolUSD)).
		Mul(decimal.New(1, int32(pool.MintDecimals)))

	apy := apyDec.InexactFloat64()
	if err := checkFinite(apy); err != nil {
		return model.RewardComponent{}, err
	}

	return model.RewardComponent{Token: p.RewardToken, APY: apy}, nil
}

// ExtraSupply computes the designated asset's weight-independent supply-side
// contribution: ratePerTick * ticksPerYear * rewardPrice / poolUSD.
func (o Overlay) ExtraSupply(x ExtraIncentive, pool PoolTotals, rewardPrice float64) (model.RewardComponent, error) {
	if pool.SupplyUSD == 0 {
		return model.RewardComponent{}, model.ErrDivisionByZero
	}

	apy := x.RatePerTick * o.TicksPerYear * rewardPrice / pool.SupplyUSD
	if err := checkFinite(apy); err != nil {
		return model.RewardComponent{}, err
	}

	return model.RewardComponent{Token: x.RewardToken, APY: apy}, nil
}

// checkFinite guards the decimal-to-float boundary: a NaN or infinity must
// surface as ErrPrecisionOverflow, never propagate into a yield record.
func checkFinite(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return model.ErrPrecisionOverflow
	}
	return nil
}

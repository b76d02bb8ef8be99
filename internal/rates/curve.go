// Package rates implements the kinked two-segment interest rate curve used by
// the lending market.
package rates

import (
	"github.com/yourorg/lendyield-api/internal/model"
)

// Utilization returns borrowed / (available + borrowed), clamped to [0, 1].
// An empty pool has no defined utilization and returns ErrDivisionByZero.
// The sum is taken in float64 because two raw u64 amounts can overflow a
// u64 total.
func Utilization(available, borrowed uint64) (float64, error) {
	if available == 0 && borrowed == 0 {
		return 0, model.ErrDivisionByZero
	}

	u := float64(borrowed) / (float64(available) + float64(borrowed))
	if u < 0 {
		u = 0
	}
	if u > 1 {
		u = 1
	}
	return u, nil
}

// BorrowRate evaluates the kinked curve at the given utilization. All rate
// arguments are decimals (0.10 for 10%). Below the optimal utilization the
// rate rises linearly from minRate to optimalRate; above it, from optimalRate
// to maxRate at utilization 1.
func BorrowRate(utilization, optimalUtilization, minRate, optimalRate, maxRate float64) float64 {
	if optimalUtilization == 1.0 || utilization < optimalUtilization {
		normalized := utilization / optimalUtilization
		return normalized*(optimalRate-minRate) + minRate
	}

	normalized := (utilization - optimalUtilization) / (1.0 - optimalUtilization)
	return normalized*(maxRate-optimalRate) + optimalRate
}

// SupplyRate derives the supply rate from utilization and the borrow rate.
// Suppliers earn only the fraction of interest generated by the borrowed
// portion of the pool.
func SupplyRate(utilization, borrowRate float64) float64 {
	return utilization * borrowRate
}

// FromSnapshot computes the base borrow and supply rates plus the utilization
// for a reserve snapshot. Curve parameters are stored as integer percentages
// and divided by 100 before use.
func FromSnapshot(s model.ReserveSnapshot) (borrow, supply, utilization float64, err error) {
	utilization, err = Utilization(s.AvailableAmount, s.BorrowedAmount)
	if err != nil {
		return 0, 0, 0, err
	}

	borrow = BorrowRate(
		utilization,
		float64(s.Curve.OptimalUtilizationRate)/100,
		float64(s.Curve.MinBorrowRate)/100,
		float64(s.Curve.OptimalBorrowRate)/100,
		float64(s.Curve.MaxBorrowRate)/100,
	)
	supply = SupplyRate(utilization, borrow)
	return borrow, supply, utilization, nil
}

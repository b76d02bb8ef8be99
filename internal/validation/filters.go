// Package validation provides filtering and validation mechanisms for
// computed yield records before they are persisted or served.
package validation

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/lendyield-api/internal/model"
)

// Options holds configuration for the validation process
type Options struct {
	// MaxAPY defines the maximum plausible APY magnitude, as a decimal
	MaxAPY float64

	// MaxPrice defines the maximum plausible USD price for any tracked asset
	MaxPrice float64

	// AllowErrorRecords keeps per-asset error records in the batch; when
	// false they are filtered out before serving
	AllowErrorRecords bool
}

// DefaultOptions returns sensible defaults for validation
func DefaultOptions() Options {
	return Options{
		MaxAPY:            10.0, // 1000% as decimal
		MaxPrice:          10_000_000,
		AllowErrorRecords: true,
	}
}

// FilterInvalid removes yield records that fail basic validation criteria.
// This is the main entrypoint for the validation package.
func FilterInvalid(yields []model.AssetYield) []model.AssetYield {
	return FilterInvalidWithOptions(yields, DefaultOptions())
}

// FilterInvalidWithOptions removes yield records with custom validation options.
func FilterInvalidWithOptions(yields []model.AssetYield, opts Options) []model.AssetYield {
	valid := make([]model.AssetYield, 0, len(yields))
	for _, y := range yields {
		if isValidYield(y, opts) {
			valid = append(valid, y)
		} else {
			logrus.WithFields(logrus.Fields{
				"asset":  y.Asset,
				"supply": y.Supply,
				"borrow": y.Borrow,
				"price":  y.Price,
			}).Debug("Filtered invalid yield record")
		}
	}
	return valid
}

// isValidYield checks if a single yield record meets all validation criteria
func isValidYield(y model.AssetYield, opts Options) bool {
	if y.Asset == "" {
		return false
	}

	// Error records carry no numeric payload to validate.
	if y.Error != "" {
		return opts.AllowErrorRecords
	}

	// Every number in the record must be finite; NaN or Inf means an
	// upstream overflow slipped through.
	for _, v := range []float64{y.Price, y.Supply, y.Borrow} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	for _, r := range append(append([]model.RewardComponent{}, y.SupplyRewards...), y.BorrowRewards...) {
		if math.IsNaN(r.APY) || math.IsInf(r.APY, 0) {
			return false
		}
	}

	if y.Price < 0 || y.Price > opts.MaxPrice {
		return false
	}

	// Supply yield cannot go negative; borrow yield legitimately can under
	// large incentive programs, so only its magnitude is bounded.
	if y.Supply < 0 || y.Supply > opts.MaxAPY {
		return false
	}
	if math.Abs(y.Borrow) > opts.MaxAPY {
		return false
	}

	// The flag must agree with the value it describes.
	if y.BorrowNegative != (y.Borrow < 0) {
		return false
	}

	return true
}

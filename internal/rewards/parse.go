package rewards

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/yourorg/lendyield-api/internal/model"
)

var wadScale = decimal.New(1, 18) // 1e18

// ParseRawRate converts a decimal-digit string carrying a double 1e18 scaling
// into a per-tick rate. The digits accumulate as an exact integer and the
// combined 1e36 scale comes off in a single exact exponent shift. Dividing per
// digit would round at decimal's division precision, and float-parsing these
// values would lose precision at 18-decimal scale.
func ParseRawRate(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty reward rate: %w", model.ErrMissingData)
	}

	ten := decimal.NewFromInt(10)
	result := decimal.Zero
	for _, c := range s {
		if c < '0' || c > '9' {
			return decimal.Zero, fmt.Errorf("invalid digit %q in reward rate %q", c, s)
		}
		result = result.Mul(ten).Add(decimal.NewFromInt(int64(c - '0')))
	}

	return result.Shift(-36), nil
}

// ParseWad converts a 1e18-scaled decimal-digit string (e.g., an on-chain
// market price) to a float64 USD value. The unscaling happens in fixed-point;
// only the final value crosses the float boundary.
func ParseWad(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty scaled value: %w", model.ErrMissingData)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid scaled value %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("negative scaled value %q", s)
	}

	v := d.Div(wadScale).InexactFloat64()
	if err := checkFinite(v); err != nil {
		return 0, err
	}
	return v, nil
}

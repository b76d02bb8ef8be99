package rewards

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/lendyield-api/internal/model"
)

func uint8Ptr(v uint8) *uint8 { return &v }

func TestWeightedSplit(t *testing.T) {
	// Two reserves with weights 3 and 7 split a fixed annual emission 30/70
	// regardless of how different their pool sizes are.
	overlay := Overlay{TicksPerYear: 63_072_000}
	em := Emission{
		RewardToken:       "SLND",
		SupplyPerYear:     1_000_000,
		SupplyWeightTotal: 10,
	}

	small := PoolTotals{SupplyUSD: 50_000}
	large := PoolTotals{SupplyUSD: 9_000_000}

	a, err := overlay.Contribution(Program{
		Side: SideSupply, RewardToken: "SLND", Mode: ModeWeighted, Weight: uint8Ptr(3),
	}, small, 2.0, em)
	require.NoError(t, err)

	b, err := overlay.Contribution(Program{
		Side: SideSupply, RewardToken: "SLND", Mode: ModeWeighted, Weight: uint8Ptr(7),
	}, large, 2.0, em)
	require.NoError(t, err)

	// Undo the per-pool normalization to recover the USD emission split.
	usdA := a.APY * small.SupplyUSD
	usdB := b.APY * large.SupplyUSD
	assert.InDelta(t, 3.0/7.0, usdA/usdB, 1e-9, "emission must split by weight, not pool size")
	assert.InDelta(t, 2_000_000, usdA+usdB, 1e-6, "full annual USD emission must be distributed")
}

func TestWeightedZeroPool(t *testing.T) {
	overlay := Overlay{TicksPerYear: 63_072_000}
	em := Emission{SupplyPerYear: 1000, SupplyWeightTotal: 1}

	_, err := overlay.Contribution(Program{
		Side: SideSupply, RewardToken: "SLND", Mode: ModeWeighted, Weight: uint8Ptr(1),
	}, PoolTotals{}, 1.0, em)
	assert.ErrorIs(t, err, model.ErrDivisionByZero)
}

func TestWeightedMissingWeight(t *testing.T) {
	overlay := Overlay{TicksPerYear: 63_072_000}
	_, err := overlay.Contribution(Program{
		Side: SideSupply, RewardToken: "SLND", Mode: ModeWeighted,
	}, PoolTotals{SupplyUSD: 100}, 1.0, Emission{SupplyWeightTotal: 1})
	assert.True(t, model.IsConfigurationError(err))
}

func TestReportedRate(t *testing.T) {
	overlay := Overlay{TicksPerYear: 100}

	// Raw rate 5e36 normalizes to 5 per tick. With price 2, pool 1000 USD and
	// 0 mint decimals: 5 * 100 * 2 / 1000 = 1.0 (100% APY).
	raw := "5" + string(make36Zeros())
	got, err := overlay.Contribution(Program{
		Side:        SideBorrow,
		RewardToken: "SLND",
		Mode:        ModeReported,
		RawRate:     raw,
	}, PoolTotals{SupplyUSD: 5000, BorrowUSD: 1000, MintDecimals: 0}, 2.0, Emission{})
	require.NoError(t, err)
	assert.Equal(t, "SLND", got.Token)
	assert.InDelta(t, 1.0, got.APY, 1e-12)
}

func make36Zeros() []rune {
	zeros := make([]rune, 36)
	for i := range zeros {
		zeros[i] = '0'
	}
	return zeros
}

func TestReportedRateUsesMintDecimals(t *testing.T) {
	overlay := Overlay{TicksPerYear: 100}
	raw := "5" + string(make36Zeros())

	pool := PoolTotals{SupplyUSD: 5000, BorrowUSD: 1000, MintDecimals: 2}
	got, err := overlay.Contribution(Program{
		Side: SideBorrow, RewardToken: "SLND", Mode: ModeReported, RawRate: raw,
	}, pool, 2.0, Emission{})
	require.NoError(t, err)
	assert.InDelta(t, 100.0, got.APY, 1e-9)
}

func TestReportedZeroPool(t *testing.T) {
	overlay := Overlay{TicksPerYear: 100}
	_, err := overlay.Contribution(Program{
		Side: SideSupply, RewardToken: "SLND", Mode: ModeReported, RawRate: "1",
	}, PoolTotals{}, 1.0, Emission{})
	assert.ErrorIs(t, err, model.ErrDivisionByZero)

	// The zero pool must never leak a NaN into a component.
	var zero model.RewardComponent
	comp, _ := overlay.Contribution(Program{
		Side: SideSupply, RewardToken: "SLND", Mode: ModeReported, RawRate: "1",
	}, PoolTotals{}, 1.0, Emission{})
	assert.Equal(t, zero, comp)
}

func TestExtraSupply(t *testing.T) {
	overlay := Overlay{TicksPerYear: 1000}
	extra := ExtraIncentive{Asset: "mSOL", RewardToken: "MNDE", RatePerTick: 0.5}

	got, err := overlay.ExtraSupply(extra, PoolTotals{SupplyUSD: 10_000}, 4.0)
	require.NoError(t, err)
	assert.Equal(t, "MNDE", got.Token)
	assert.InDelta(t, 0.5*1000*4.0/10_000, got.APY, 1e-12)

	_, err = overlay.ExtraSupply(extra, PoolTotals{}, 4.0)
	assert.ErrorIs(t, err, model.ErrDivisionByZero)
}

func TestParseRawRate(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    decimal.Decimal
		wantErr bool
	}{
		{
			name: "single digit",
			raw:  "7",
			want: decimal.New(7, -36),
		},
		{
			name: "double wad scale",
			raw:  "1" + string(make36Zeros()),
			want: decimal.NewFromInt(1),
		},
		{
			name: "large value beyond float precision",
			raw:  "123456789012345678901234567890123456789",
			want: decimal.RequireFromString("123456789012345678901234567890123456789").Shift(-36),
		},
		{name: "empty", raw: "", wantErr: true},
		{name: "non digit", raw: "12a4", wantErr: true},
		{name: "negative sign rejected", raw: "-5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRawRate(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %s, want %s", got, tt.want)
		})
	}
}

func TestParseWad(t *testing.T) {
	// 40000e18: a BTC-sized price that overflows uint64 as a scaled integer.
	price, err := ParseWad("40000" + string(make18Zeros()))
	require.NoError(t, err)
	assert.InDelta(t, 40000.0, price, 1e-6)

	_, err = ParseWad("")
	assert.ErrorIs(t, err, model.ErrMissingData)

	_, err = ParseWad("not a number")
	assert.Error(t, err)
}

func make18Zeros() []rune {
	zeros := make([]rune, 18)
	for i := range zeros {
		zeros[i] = '0'
	}
	return zeros
}

func TestPoolTotalsFromSnapshot(t *testing.T) {
	// available=60, borrowed=40 at price 2.0 with 2 decimals:
	// supply USD = (60+40) * 2 / 100 = 2.0, borrow USD = 40 * 2 / 100 = 0.8
	snap := model.ReserveSnapshot{
		AvailableAmount: 60,
		BorrowedAmount:  40,
		MarketPrice:     "2" + string(make18Zeros()),
		MintDecimals:    2,
	}

	pool, err := PoolTotalsFromSnapshot(snap)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, pool.SupplyUSD, 1e-12)
	assert.InDelta(t, 0.8, pool.BorrowUSD, 1e-12)
	assert.Equal(t, uint8(2), pool.MintDecimals)
}

func TestReportedRateOverflow(t *testing.T) {
	// A rate so large that the annualized float exceeds the representable
	// range must surface as ErrPrecisionOverflow, never as +Inf in a record.
	overlay := Overlay{TicksPerYear: 63_072_000}
	digits := make([]rune, 360)
	for i := range digits {
		digits[i] = '9'
	}

	got, err := overlay.Contribution(Program{
		Side: SideSupply, RewardToken: "SLND", Mode: ModeReported, RawRate: string(digits),
	}, PoolTotals{SupplyUSD: 1}, 1.0, Emission{})
	require.ErrorIs(t, err, model.ErrPrecisionOverflow)
	assert.False(t, math.IsInf(got.APY, 0), "overflow must not leak into the component")
}

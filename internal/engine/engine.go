// Package engine combines the rate curve and incentive overlay into per-asset
// yield records and computes whole batches from one consistent input set.
package engine

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/lendyield-api/internal/model"
	"github.com/yourorg/lendyield-api/internal/rates"
	"github.com/yourorg/lendyield-api/internal/rewards"
)

// Inputs is the complete, already-fetched input set for one batch
// computation. Every asset in the batch sees the same snapshots and the same
// price map; the engine never re-fetches anything.
type Inputs struct {
	// Snapshots maps asset symbol to its decoded reserve state
	Snapshots map[string]model.ReserveSnapshot

	// Programs maps asset symbol to its active incentive programs.
	// A missing key means no incentive for that asset, which is not an error.
	Programs map[string][]rewards.Program

	// Prices maps reward-token identifier to its USD price
	Prices map[string]float64
}

// BatchResult carries the outcome of a batch computation: successful records
// in input order plus a per-asset error map for partial failures.
type BatchResult struct {
	Yields []model.AssetYield
	Failed map[string]error
}

// Engine is a pure computation unit: every call is a function over its
// arguments plus the immutable incentive configuration captured at
// construction. Safe for concurrent use.
type Engine struct {
	overlay  rewards.Overlay
	emission rewards.Emission
	extra    *rewards.ExtraIncentive
}

// New creates an engine with the given annualization and market-wide
// incentive configuration.
func New(overlay rewards.Overlay, emission rewards.Emission, extra *rewards.ExtraIncentive) *Engine {
	return &Engine{
		overlay:  overlay,
		emission: emission,
		extra:    extra,
	}
}

// Compute produces the yield record for a single asset.
func (e *Engine) Compute(asset string, in Inputs) (model.AssetYield, error) {
	snapshot, ok := in.Snapshots[asset]
	if !ok {
		return model.AssetYield{}, fmt.Errorf("no reserve snapshot for %s: %w", asset, model.ErrMissingData)
	}
	if err := snapshot.Curve.Validate(); err != nil {
		return model.AssetYield{}, err
	}

	baseBorrow, baseSupply, _, err := rates.FromSnapshot(snapshot)
	if err != nil {
		return model.AssetYield{}, err
	}

	price, err := rewards.ParseWad(snapshot.MarketPrice)
	if err != nil {
		return model.AssetYield{}, err
	}

	pool, err := rewards.PoolTotalsFromSnapshot(snapshot)
	if err != nil {
		return model.AssetYield{}, err
	}

	result := model.AssetYield{
		Asset:  asset,
		Price:  price,
		Supply: baseSupply,
		Borrow: baseBorrow,
	}

	for _, program := range in.Programs[asset] {
		rewardPrice, ok := in.Prices[program.RewardToken]
		if !ok {
			return model.AssetYield{}, fmt.Errorf("no price for reward token %s: %w", program.RewardToken, model.ErrMissingData)
		}

		component, err := e.overlay.Contribution(program, pool, rewardPrice, e.emission)
		if err != nil {
			return model.AssetYield{}, fmt.Errorf("program %s/%s: %w", program.RewardToken, program.Side, err)
		}

		// Supply rewards raise the supply yield; borrow rewards lower the
		// effective borrowing cost.
		if program.Side == rewards.SideBorrow {
			result.BorrowRewards = append(result.BorrowRewards, component)
			result.Borrow -= component.APY
		} else {
			result.SupplyRewards = append(result.SupplyRewards, component)
			result.Supply += component.APY
		}
	}

	if e.extra != nil && e.extra.Asset == asset {
		rewardPrice, ok := in.Prices[e.extra.RewardToken]
		if !ok {
			return model.AssetYield{}, fmt.Errorf("no price for reward token %s: %w", e.extra.RewardToken, model.ErrMissingData)
		}

		component, err := e.overlay.ExtraSupply(*e.extra, pool, rewardPrice)
		if err != nil {
			return model.AssetYield{}, fmt.Errorf("extra incentive %s: %w", e.extra.RewardToken, err)
		}
		result.SupplyRewards = append(result.SupplyRewards, component)
		result.Supply += component.APY
	}

	// Large borrow incentives can push the net borrow APY below zero. The
	// arithmetic is preserved as-is; the flag lets presentation layers
	// render the value distinctly.
	result.BorrowNegative = result.Borrow < 0

	return result, nil
}

// ComputeBatch computes every asset from the shared input set. Configuration
// errors, whether in a present snapshot's curve or in a program's weight
// setup, abort the whole batch before any asset is computed; per-asset data
// problems are collected in Failed while sibling computations proceed.
func (e *Engine) ComputeBatch(assets []string, in Inputs) (BatchResult, error) {
	for _, asset := range assets {
		for _, program := range in.Programs[asset] {
			if err := rewards.ValidateProgram(program, e.emission); err != nil {
				return BatchResult{}, fmt.Errorf("program %s for %s: %w", program.RewardToken, asset, err)
			}
		}

		snapshot, ok := in.Snapshots[asset]
		if !ok {
			continue
		}
		if err := snapshot.Curve.Validate(); err != nil {
			return BatchResult{}, fmt.Errorf("reserve %s: %w", asset, err)
		}
	}

	result := BatchResult{Failed: make(map[string]error)}
	for _, asset := range assets {
		yield, err := e.Compute(asset, in)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"asset": asset,
				"error": err,
			}).Warn("Asset yield computation failed")
			result.Failed[asset] = err
			continue
		}
		result.Yields = append(result.Yields, yield)
	}

	return result, nil
}

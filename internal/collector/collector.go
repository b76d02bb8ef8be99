// Package collector runs one scheduled collection cycle: fetch everything,
// compute the batch, record failures.
package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/lendyield-api/internal/engine"
	"github.com/yourorg/lendyield-api/internal/fetch"
	"github.com/yourorg/lendyield-api/internal/model"
	"github.com/yourorg/lendyield-api/internal/rewards"
)

// Collector gathers one consistent input set per cycle and turns it into a
// yield batch. Fetching happens exactly once per cycle; every asset is
// computed from the same snapshots and prices.
type Collector struct {
	engine   *engine.Engine
	reserves fetch.ReserveProvider
	rewards  fetch.RewardProvider
	prices   fetch.PriceProvider

	symbols   []string
	addresses map[string]string
	priceIDs  map[string]string

	// static holds the weight-based programs from the protocol
	// configuration; reported programs from the feed are merged on top.
	static map[string][]rewards.Program

	now func() time.Time
}

// New creates a collector for the given asset universe.
func New(
	eng *engine.Engine,
	reserves fetch.ReserveProvider,
	rewardStats fetch.RewardProvider,
	prices fetch.PriceProvider,
	symbols []string,
	addresses map[string]string,
	priceIDs map[string]string,
	static map[string][]rewards.Program,
) *Collector {
	return &Collector{
		engine:    eng,
		reserves:  reserves,
		rewards:   rewardStats,
		prices:    prices,
		symbols:   symbols,
		addresses: addresses,
		priceIDs:  priceIDs,
		static:    static,
		now:       time.Now,
	}
}

// Collect runs one full cycle and returns the batch for the given
// granularity. Assets that failed fetching or computing appear as error
// records so the batch always accounts for the whole universe.
func (c *Collector) Collect(ctx context.Context, granularity model.Granularity) (model.YieldBatch, error) {
	snapshots, fetchFailed, err := c.reserves.Fetch(ctx, c.addresses)
	if err != nil {
		return model.YieldBatch{}, fmt.Errorf("fetch reserves: %w", err)
	}

	// Reported-rate incentives are additive: losing the feed degrades the
	// batch to base rates plus weighted programs instead of failing it.
	programs, err := c.rewards.Fetch(ctx)
	if err != nil {
		logrus.WithField("error", err).Warn("Reward stats unavailable, continuing without reported programs")
		programs = nil
	}

	prices, err := c.prices.Fetch(ctx, c.priceIDs)
	if err != nil {
		return model.YieldBatch{}, fmt.Errorf("fetch prices: %w", err)
	}

	merged := make(map[string][]rewards.Program, len(c.static)+len(programs))
	for symbol, ps := range c.static {
		merged[symbol] = append(merged[symbol], ps...)
	}
	for symbol, ps := range programs {
		merged[symbol] = append(merged[symbol], ps...)
	}

	in := engine.Inputs{
		Snapshots: snapshots,
		Programs:  merged,
		Prices:    prices,
	}

	result, err := c.engine.ComputeBatch(c.symbols, in)
	if err != nil {
		return model.YieldBatch{}, err
	}

	batch := model.YieldBatch{
		CollectedAt: c.now().UTC(),
		Granularity: granularity,
		Assets:      result.Yields,
	}

	for _, symbol := range c.symbols {
		var reason error
		if ferr, ok := fetchFailed[symbol]; ok {
			reason = ferr
		} else if cerr, ok := result.Failed[symbol]; ok {
			reason = cerr
		}
		if reason != nil {
			batch.Assets = append(batch.Assets, model.AssetYield{
				Asset: symbol,
				Error: reason.Error(),
			})
		}
	}

	logrus.WithFields(logrus.Fields{
		"granularity": granularity,
		"assets":      len(result.Yields),
		"failed":      len(batch.Assets) - len(result.Yields),
	}).Info("Collection cycle complete")

	return batch, nil
}

package config

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/yourorg/lendyield-api/internal/model"
	"github.com/yourorg/lendyield-api/internal/rewards"
)

//go:embed production.json
var productionJSON []byte

// Protocol is the embedded description of the lending market this service
// tracks: which reserves exist, where to read them, and how the incentive
// program distributes its emissions.
type Protocol struct {
	Markets []struct {
		Name     string `json:"name"`
		Address  string `json:"address"`
		Reserves []struct {
			Asset   string `json:"asset"`
			Address string `json:"address"`
		} `json:"reserves"`
	} `json:"markets"`

	Incentives struct {
		TicksPerYear  float64 `json:"ticksPerYear"`
		RewardToken   string  `json:"rewardToken"`
		RewardPriceID string  `json:"rewardPriceId"`
		SupplyPerYear float64 `json:"supplyPerYear"`
		BorrowPerYear float64 `json:"borrowPerYear"`

		Weights map[string]struct {
			Supply *uint8 `json:"supply,omitempty"`
			Borrow *uint8 `json:"borrow,omitempty"`
		} `json:"weights"`

		Extra *struct {
			Asset       string  `json:"asset"`
			RewardToken string  `json:"rewardToken"`
			PriceID     string  `json:"priceId"`
			RatePerTick float64 `json:"ratePerTick"`
		} `json:"extra,omitempty"`
	} `json:"incentives"`
}

// LoadProtocol parses and validates the embedded production protocol.
func LoadProtocol() (*Protocol, error) {
	var p Protocol
	if err := json.Unmarshal(productionJSON, &p); err != nil {
		return nil, fmt.Errorf("parse protocol config: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the structural invariants the engine depends on.
func (p *Protocol) Validate() error {
	if len(p.Markets) == 0 {
		return &model.ConfigurationError{Field: "markets", Reason: "at least one market is required"}
	}
	if len(p.Markets[0].Reserves) == 0 {
		return &model.ConfigurationError{Field: "markets[0].reserves", Reason: "at least one reserve is required"}
	}

	seen := make(map[string]bool)
	for _, r := range p.Markets[0].Reserves {
		if r.Asset == "" || r.Address == "" {
			return &model.ConfigurationError{Field: "reserves", Reason: "reserve entries need both asset and address"}
		}
		if seen[r.Asset] {
			return &model.ConfigurationError{Field: "reserves", Reason: fmt.Sprintf("duplicate reserve for %s", r.Asset)}
		}
		seen[r.Asset] = true
	}

	for asset := range p.Incentives.Weights {
		if !seen[asset] {
			return &model.ConfigurationError{Field: "incentives.weights", Reason: fmt.Sprintf("weight for unknown asset %s", asset)}
		}
	}
	if p.Incentives.TicksPerYear < 0 {
		return &model.ConfigurationError{Field: "incentives.ticksPerYear", Reason: "must not be negative"}
	}

	return nil
}

// Symbols lists the assets of the primary market in configuration order.
func (p *Protocol) Symbols() []string {
	out := make([]string, 0, len(p.Markets[0].Reserves))
	for _, r := range p.Markets[0].Reserves {
		out = append(out, r.Asset)
	}
	return out
}

// ReserveAddress resolves an asset symbol to its reserve account address.
func (p *Protocol) ReserveAddress(symbol string) (string, bool) {
	for _, r := range p.Markets[0].Reserves {
		if r.Asset == symbol {
			return r.Address, true
		}
	}
	return "", false
}

// Emission summarizes the market-wide weighted emission schedule.
func (p *Protocol) Emission() rewards.Emission {
	em := rewards.Emission{
		RewardToken:   p.Incentives.RewardToken,
		SupplyPerYear: p.Incentives.SupplyPerYear,
		BorrowPerYear: p.Incentives.BorrowPerYear,
	}
	for _, w := range p.Incentives.Weights {
		if w.Supply != nil {
			em.SupplyWeightTotal += int(*w.Supply)
		}
		if w.Borrow != nil {
			em.BorrowWeightTotal += int(*w.Borrow)
		}
	}
	return em
}

// WeightedPrograms returns the weight-based incentive programs configured for
// an asset. Assets without weights get none.
func (p *Protocol) WeightedPrograms(symbol string) []rewards.Program {
	w, ok := p.Incentives.Weights[symbol]
	if !ok {
		return nil
	}

	var programs []rewards.Program
	if w.Supply != nil {
		programs = append(programs, rewards.Program{
			Side:        rewards.SideSupply,
			RewardToken: p.Incentives.RewardToken,
			Mode:        rewards.ModeWeighted,
			Weight:      w.Supply,
		})
	}
	if w.Borrow != nil {
		programs = append(programs, rewards.Program{
			Side:        rewards.SideBorrow,
			RewardToken: p.Incentives.RewardToken,
			Mode:        rewards.ModeWeighted,
			Weight:      w.Borrow,
		})
	}
	return programs
}

// Extra returns the weight-independent supply incentive, or nil.
func (p *Protocol) Extra() *rewards.ExtraIncentive {
	if p.Incentives.Extra == nil {
		return nil
	}
	return &rewards.ExtraIncentive{
		Asset:       p.Incentives.Extra.Asset,
		RewardToken: p.Incentives.Extra.RewardToken,
		RatePerTick: p.Incentives.Extra.RatePerTick,
	}
}

// Overlay builds the annualization configuration, preferring a non-zero
// override (from Config.TicksPerYear) over the protocol value.
func (p *Protocol) Overlay(ticksOverride float64) rewards.Overlay {
	ticks := p.Incentives.TicksPerYear
	if ticksOverride > 0 {
		ticks = ticksOverride
	}
	if ticks == 0 {
		ticks = rewards.DefaultTicksPerYear
	}
	return rewards.Overlay{TicksPerYear: ticks}
}

// PriceIDs maps reward token symbols to their price-feed identifiers.
func (p *Protocol) PriceIDs() map[string]string {
	ids := make(map[string]string)
	if p.Incentives.RewardToken != "" && p.Incentives.RewardPriceID != "" {
		ids[p.Incentives.RewardToken] = p.Incentives.RewardPriceID
	}
	if p.Incentives.Extra != nil && p.Incentives.Extra.PriceID != "" {
		ids[p.Incentives.Extra.RewardToken] = p.Incentives.Extra.PriceID
	}
	return ids
}

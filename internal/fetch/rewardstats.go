package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/lendyield-api/internal/rewards"
)

// RewardStatsClient reads the liquidity-mining reward stats feed. The feed
// reports per-reserve reward rates in raw double-scaled fixed point; rates
// are parsed downstream so a bad value fails the one program, not the fetch.
type RewardStatsClient struct {
	baseURL    string
	httpClient *http.Client

	// symbolOf maps reserve address to asset symbol
	symbolOf map[string]string
}

// NewRewardStatsClient creates a new reward stats client. addresses maps
// asset symbol to reserve address, mirroring the protocol configuration.
func NewRewardStatsClient(baseURL string, timeout time.Duration, addresses map[string]string) *RewardStatsClient {
	symbolOf := make(map[string]string, len(addresses))
	for symbol, addr := range addresses {
		symbolOf[addr] = symbol
	}
	return &RewardStatsClient{
		baseURL:    baseURL,
		httpClient: StandardClient(newRetryClient(timeout)),
		symbolOf:   symbolOf,
	}
}

type rewardStat struct {
	Supply *rewardSide `json:"supply"`
	Borrow *rewardSide `json:"borrow"`
}

type rewardSide struct {
	TokenMint   string       `json:"tokenMint"`
	TokenSymbol string       `json:"tokenSymbol"`
	RewardRates []rewardRate `json:"rewardRates"`
}

type rewardRate struct {
	BeginningSlot uint64          `json:"beginningSlot"`
	RewardRate    json.RawMessage `json:"rewardRate"`
	Name          string          `json:"name,omitempty"`
}

// Fetch retrieves the current reward programs keyed by asset symbol. Reserves
// absent from the feed simply have no incentive right now.
func (c *RewardStatsClient) Fetch(ctx context.Context) (map[string][]rewards.Program, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	logrus.Debugf("Fetching reward stats from %s", c.baseURL)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching reward stats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("reward stats error: status %d, body: %s", resp.StatusCode, string(body))
	}

	// Keyed by reserve address.
	var stats map[string]rewardStat
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("error decoding response: %w", err)
	}

	programs := make(map[string][]rewards.Program)
	for address, stat := range stats {
		symbol, ok := c.symbolOf[address]
		if !ok {
			continue
		}
		if p, ok := programFromSide(rewards.SideSupply, stat.Supply); ok {
			programs[symbol] = append(programs[symbol], p)
		}
		if p, ok := programFromSide(rewards.SideBorrow, stat.Borrow); ok {
			programs[symbol] = append(programs[symbol], p)
		}
	}

	logrus.Debugf("Received reward programs for %d assets", len(programs))
	return programs, nil
}

// programFromSide picks the currently effective rate: the entry with the
// highest beginning slot supersedes the older schedule.
func programFromSide(side rewards.Side, s *rewardSide) (rewards.Program, bool) {
	if s == nil || len(s.RewardRates) == 0 {
		return rewards.Program{}, false
	}

	current := s.RewardRates[0]
	for _, r := range s.RewardRates[1:] {
		if r.BeginningSlot > current.BeginningSlot {
			current = r
		}
	}

	raw := rawRateString(current.RewardRate)
	if raw == "" || raw == "0" {
		return rewards.Program{}, false
	}

	token := s.TokenSymbol
	if token == "" {
		token = s.TokenMint
	}

	return rewards.Program{
		Side:        side,
		RewardToken: token,
		Mode:        rewards.ModeReported,
		RawRate:     raw,
	}, true
}

// rawRateString normalizes the feed's rate field, which arrives either as a
// JSON string or as a bare number.
func rawRateString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

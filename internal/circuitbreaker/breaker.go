// Package circuitbreaker provides a defensive mechanism to protect against
// extreme market conditions and erroneous data in the yield service.
package circuitbreaker

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/lendyield-api/internal/model"
)

// State represents the current state of the circuit breaker
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, batches are rejected
	StateHalfOpen              // Testing if the data source has recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Thresholds defines the limits that will trigger the circuit breaker
type Thresholds struct {
	// Maximum plausible APY magnitude (e.g., 10.0 for 1000%)
	MaxAPY float64 `json:"max_apy"`

	// Maximum allowed relative price change per asset between consecutive
	// batches (e.g., 0.5 for 50%)
	MaxPriceChange float64 `json:"max_price_change"`

	// Minimum number of successfully computed assets per batch
	MinAssets int `json:"min_assets"`
}

// CircuitBreaker guards the persistence and serving path: a batch that looks
// like corrupted upstream data trips the circuit, and the last known good
// batch keeps serving until the source recovers.
type CircuitBreaker struct {
	thresholds Thresholds

	state    State
	lastTrip time.Time

	// Duration before auto-reset attempt
	resetDelay time.Duration

	mu sync.RWMutex

	// Last batch that passed every check, kept as fallback
	lastGood *model.YieldBatch

	// Count of consecutive successful checks in HalfOpen state
	successCount int

	// Number of successful checks required to close the circuit
	successThreshold int

	// Event callback for monitoring/alerting
	onTripCallback func(reason string, batch model.YieldBatch)
}

// New creates a new CircuitBreaker with the provided thresholds
func New(t Thresholds) *CircuitBreaker {
	return &CircuitBreaker{
		thresholds:       t,
		state:            StateClosed,
		resetDelay:       5 * time.Minute,
		successThreshold: 3,
	}
}

// WithResetDelay sets a custom reset delay and returns the circuit breaker
func (cb *CircuitBreaker) WithResetDelay(delay time.Duration) *CircuitBreaker {
	cb.resetDelay = delay
	return cb
}

// WithSuccessThreshold sets the number of successful checks needed to close the circuit
func (cb *CircuitBreaker) WithSuccessThreshold(threshold int) *CircuitBreaker {
	cb.successThreshold = threshold
	return cb
}

// WithTripCallback sets a callback function that is called when the circuit trips
func (cb *CircuitBreaker) WithTripCallback(callback func(reason string, batch model.YieldBatch)) *CircuitBreaker {
	cb.onTripCallback = callback
	return cb
}

// Check evaluates a batch against the thresholds. When the circuit is open
// the batch is rejected outright; threshold violations trip the circuit.
func (cb *CircuitBreaker) Check(batch model.YieldBatch) error {
	cb.mu.RLock()
	state := cb.state
	lastTripTime := cb.lastTrip
	cb.mu.RUnlock()

	if state == StateOpen {
		if time.Since(lastTripTime) > cb.resetDelay {
			cb.transitionToHalfOpen()
		} else {
			return errors.New("circuit breaker open: system protection engaged")
		}
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	computed := make([]model.AssetYield, 0, len(batch.Assets))
	for _, y := range batch.Assets {
		if y.Error == "" {
			computed = append(computed, y)
		}
	}

	if len(computed) < cb.thresholds.MinAssets {
		reason := fmt.Sprintf("insufficient asset count: got %d, need %d",
			len(computed), cb.thresholds.MinAssets)
		cb.trip(reason, batch)
		return errors.New(reason)
	}

	for _, y := range computed {
		if math.Abs(y.Supply) > cb.thresholds.MaxAPY || math.Abs(y.Borrow) > cb.thresholds.MaxAPY {
			reason := fmt.Sprintf("%s APY exceeds maximum threshold: supply=%f borrow=%f max=%f",
				y.Asset, y.Supply, y.Borrow, cb.thresholds.MaxAPY)
			cb.trip(reason, batch)
			return errors.New(reason)
		}
	}

	// Compare prices against the last good batch: a tracked asset whose
	// price jumps beyond the threshold between consecutive collections is
	// treated as a bad feed, not a market move.
	if cb.lastGood != nil && cb.thresholds.MaxPriceChange > 0 {
		previous := make(map[string]float64, len(cb.lastGood.Assets))
		for _, y := range cb.lastGood.Assets {
			if y.Error == "" && y.Price > 1.0 {
				previous[y.Asset] = y.Price
			}
		}
		for _, y := range computed {
			last, ok := previous[y.Asset]
			if !ok {
				continue
			}
			changeRatio := math.Abs(y.Price-last) / last
			if changeRatio > cb.thresholds.MaxPriceChange {
				reason := fmt.Sprintf("%s price change too drastic: %.2f%% (threshold: %.2f%%)",
					y.Asset, changeRatio*100, cb.thresholds.MaxPriceChange*100)
				cb.trip(reason, batch)
				return errors.New(reason)
			}
		}
	}

	logrus.Debug("Circuit breaker checks passed")

	good := batch
	cb.lastGood = &good

	if cb.state == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = StateClosed
			cb.successCount = 0
			logrus.Info("Circuit breaker closed: system has recovered")
		}
	}

	return nil
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forcibly resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.successCount = 0
	logrus.Info("Circuit breaker manually reset to closed state")
}

// LastGoodBatch returns the most recent batch that passed all checks, for
// serving while the circuit is open.
func (cb *CircuitBreaker) LastGoodBatch() (model.YieldBatch, bool) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.lastGood == nil {
		return model.YieldBatch{}, false
	}
	return *cb.lastGood, true
}

// transitionToHalfOpen changes the circuit state to half-open for testing recovery
func (cb *CircuitBreaker) transitionToHalfOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen {
		cb.state = StateHalfOpen
		cb.successCount = 0
		logrus.Info("Circuit breaker half-open: testing system recovery")
	}
}

// trip sets the circuit breaker to open state with the current time
func (cb *CircuitBreaker) trip(reason string, batch model.YieldBatch) {
	cb.state = StateOpen
	cb.lastTrip = time.Now()
	logrus.Warnf("Circuit breaker tripped: %s", reason)

	if cb.onTripCallback != nil {
		go cb.onTripCallback(reason, batch)
	}
}

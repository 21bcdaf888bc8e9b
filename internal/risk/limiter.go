// Package risk enforces per-user stake limits.
//
// Binary options concentrate loss: the whole stake is at risk on every
// trade. The limiter caps how much a user can put at risk per instrument
// and in aggregate per day, checked before any funds move.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrPerInstrumentLimitExceeded is returned when a stake would push a
	// single instrument's staked total past the per-instrument maximum.
	ErrPerInstrumentLimitExceeded = errors.New("risk: per-instrument stake limit exceeded")

	// ErrDailyLimitExceeded is returned when a stake would push the
	// user's aggregate staked total for the day past the daily maximum.
	ErrDailyLimitExceeded = errors.New("risk: daily stake limit exceeded")
)

// StakeLimiter enforces stake limits against a user's staking history.
type StakeLimiter struct {
	// MaxPerInstrument is the maximum total staked on one instrument per day.
	MaxPerInstrument decimal.Decimal

	// MaxDaily is the maximum aggregate staked across all instruments per day.
	MaxDaily decimal.Decimal
}

// NewStakeLimiter creates a limiter with the given per-instrument and
// daily caps.
func NewStakeLimiter(maxPerInstrument, maxDaily decimal.Decimal) *StakeLimiter {
	return &StakeLimiter{
		MaxPerInstrument: maxPerInstrument,
		MaxDaily:         maxDaily,
	}
}

// Check validates whether a stake respects the limits.
//
// Parameters:
//   - symbol: instrument being traded
//   - stake: the stake about to be placed
//   - todayStakes: map of symbol → total already staked today by this user
//
// Returns nil if the stake is within limits, or an error naming the
// violated limit. Staking exactly up to a limit is allowed.
func (l *StakeLimiter) Check(symbol string, stake decimal.Decimal, todayStakes map[string]decimal.Decimal) error {
	newOnInstrument := todayStakes[symbol].Add(stake)
	if newOnInstrument.GreaterThan(l.MaxPerInstrument) {
		return ErrPerInstrumentLimitExceeded
	}

	total := stake
	for _, staked := range todayStakes {
		total = total.Add(staked)
	}
	if total.GreaterThan(l.MaxDaily) {
		return ErrDailyLimitExceeded
	}

	return nil
}

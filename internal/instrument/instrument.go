// Package instrument handles venue symbol parsing, validation, and the
// seed catalog of simulated instruments.
package instrument

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/optx/venue-engine/internal/model"
)

// symbolRegex matches {BASE}/{QUOTE} pairs, e.g. EUR/USD, BTC/USDT.
var symbolRegex = regexp.MustCompile(`^[A-Z0-9]{2,6}/[A-Z0-9]{2,6}$`)

var (
	ErrInvalidSymbol = errors.New("instrument: invalid symbol format")
)

// Pair is a parsed instrument symbol.
type Pair struct {
	Symbol string `json:"symbol"`
	Base   string `json:"base"`
	Quote  string `json:"quote"`
}

// ParseSymbol parses and validates an instrument symbol.
// Format: {BASE}/{QUOTE}, both uppercase alphanumeric codes.
func ParseSymbol(symbol string) (*Pair, error) {
	if !symbolRegex.MatchString(symbol) {
		return nil, fmt.Errorf("%w: %s (expected BASE/QUOTE, e.g. EUR/USD)", ErrInvalidSymbol, symbol)
	}
	parts := strings.SplitN(symbol, "/", 2)
	return &Pair{Symbol: symbol, Base: parts[0], Quote: parts[1]}, nil
}

// DefaultCatalog returns the seed instruments for a fresh venue.
// Base prices are indicative only; the simulator owns the live series.
func DefaultCatalog() []model.Instrument {
	mk := func(symbol string, base float64, vol float64) model.Instrument {
		return model.Instrument{
			Symbol:     symbol,
			BasePrice:  decimal.NewFromFloat(base),
			Volatility: decimal.NewFromFloat(vol),
		}
	}
	return []model.Instrument{
		mk("EUR/USD", 1.0850, 0.01),
		mk("GBP/USD", 1.2700, 0.01),
		mk("USD/JPY", 149.50, 0.01),
		mk("BTC/USDT", 64250.00, 0.01),
		mk("ETH/USDT", 3180.00, 0.01),
		mk("XAU/USD", 2345.00, 0.01),
	}
}

package cost

import (
	"math"

	"github.com/quantforge/tickpipe/internal/market"
)

// Side of the hypothetical entry trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// SlippageFn models market impact in basis points for a given trade size
// and realized volatility.
type SlippageFn func(size, volatility float64) float64

// SpreadFn models the half-spread cost in basis points for a venue.
type SpreadFn func(venue string) float64

// Model is a pure, stateless transaction-cost model: fee plus spread plus
// impact, quoted as a round-trip cost in basis points. Venue-specific fees
// override the default.
type Model struct {
	FeeBps      float64
	VenueFeeBps map[string]float64
	Slippage    SlippageFn
	Spread      SpreadFn
}

// NewModel builds a cost model with square-root impact and a flat spread,
// the usual defaults when no venue calibration is available.
func NewModel(feeBps, spreadBps, impactCoeff float64) (*Model, error) {
	if feeBps < 0 {
		return nil, &market.ConfigError{Field: "fee_bps", Reason: "must be non-negative"}
	}
	if spreadBps < 0 {
		return nil, &market.ConfigError{Field: "spread_bps", Reason: "must be non-negative"}
	}
	if impactCoeff < 0 {
		return nil, &market.ConfigError{Field: "impact_coeff", Reason: "must be non-negative"}
	}
	return &Model{
		FeeBps:   feeBps,
		Slippage: SqrtImpact(impactCoeff),
		Spread:   FlatSpread(spreadBps),
	}, nil
}

// SqrtImpact is the square-root market impact law: cost grows with
// volatility and the square root of size.
func SqrtImpact(coeff float64) SlippageFn {
	return func(size, volatility float64) float64 {
		if size <= 0 {
			return 0
		}
		return coeff * volatility * math.Sqrt(size)
	}
}

// FlatSpread charges the same half-spread on every venue.
func FlatSpread(bps float64) SpreadFn {
	return func(string) float64 { return bps }
}

// RoundTripBps evaluates the full round-trip cost in basis points: fees on
// entry and exit, spread crossed twice, plus impact. Side is accepted for
// models that price asymmetrically; the defaults are symmetric.
func (m *Model) RoundTripBps(venue string, _ Side, size, volatility float64) float64 {
	fee := m.FeeBps
	if v, ok := m.VenueFeeBps[venue]; ok {
		fee = v
	}
	total := 2 * fee
	if m.Spread != nil {
		total += 2 * m.Spread(venue)
	}
	if m.Slippage != nil {
		total += m.Slippage(size, volatility)
	}
	return total
}

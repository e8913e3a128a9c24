package features

import (
	"fmt"
	"math"

	"github.com/quantforge/tickpipe/internal/market"
)

// Built-in extractor library. Every extractor is a pure function over the
// window it is handed; anything windowed computes only from those bars.

// LogReturn is the one-bar log return of closes, in basis points.
// Needs a two-bar window.
type LogReturn struct{}

func (LogReturn) Name() string { return "log_return" }

func (LogReturn) Extract(window []market.Bar) (float64, error) {
	if len(window) < 2 {
		return 0, fmt.Errorf("log_return: need 2 bars, got %d", len(window))
	}
	prev, cur := window[len(window)-2], window[len(window)-1]
	if prev.Close <= 0 || cur.Close <= 0 {
		return 0, fmt.Errorf("log_return: non-positive close")
	}
	return 1e4 * math.Log(cur.Close/prev.Close), nil
}

// RollingVolatility is the sample standard deviation of one-bar log returns
// across the window, in basis points.
type RollingVolatility struct{}

func (RollingVolatility) Name() string { return "rolling_volatility" }

func (RollingVolatility) Extract(window []market.Bar) (float64, error) {
	returns, err := windowReturns(window)
	if err != nil {
		return 0, fmt.Errorf("rolling_volatility: %w", err)
	}
	var stats OnlineStats
	for _, r := range returns {
		stats.Update(r)
	}
	return stats.StdDev(), nil
}

// ReturnZScore standardizes the window's latest log return against the
// window's own return distribution.
type ReturnZScore struct{}

func (ReturnZScore) Name() string { return "return_zscore" }

func (ReturnZScore) Extract(window []market.Bar) (float64, error) {
	returns, err := windowReturns(window)
	if err != nil {
		return 0, fmt.Errorf("return_zscore: %w", err)
	}
	var stats OnlineStats
	for _, r := range returns {
		stats.Update(r)
	}
	return stats.ZScore(returns[len(returns)-1]), nil
}

// VWAPDeviation is how far the latest close sits from its bar's VWAP,
// in basis points. A close above VWAP suggests buy pressure into the close.
type VWAPDeviation struct{}

func (VWAPDeviation) Name() string { return "vwap_deviation" }

func (VWAPDeviation) Extract(window []market.Bar) (float64, error) {
	b := window[len(window)-1]
	if b.VWAP <= 0 {
		return 0, fmt.Errorf("vwap_deviation: non-positive vwap")
	}
	return 1e4 * (b.Close - b.VWAP) / b.VWAP, nil
}

// VolumeZScore standardizes the latest bar's volume against the window's
// volume distribution.
type VolumeZScore struct{}

func (VolumeZScore) Name() string { return "volume_zscore" }

func (VolumeZScore) Extract(window []market.Bar) (float64, error) {
	if len(window) < 2 {
		return 0, fmt.Errorf("volume_zscore: need 2 bars, got %d", len(window))
	}
	var stats OnlineStats
	for i := range window {
		stats.Update(window[i].Volume)
	}
	return stats.ZScore(window[len(window)-1].Volume), nil
}

// HighLowRange is the latest bar's high-low range relative to its close,
// in basis points — a cheap realized-volatility proxy.
type HighLowRange struct{}

func (HighLowRange) Name() string { return "high_low_range" }

func (HighLowRange) Extract(window []market.Bar) (float64, error) {
	b := window[len(window)-1]
	if b.Close <= 0 {
		return 0, fmt.Errorf("high_low_range: non-positive close")
	}
	return 1e4 * (b.High - b.Low) / b.Close, nil
}

// CloseLocation places the latest close inside its bar's range, in [-1, 1]:
// +1 closed on the high, -1 on the low, 0 mid-range or on a flat bar.
type CloseLocation struct{}

func (CloseLocation) Name() string { return "close_location" }

func (CloseLocation) Extract(window []market.Bar) (float64, error) {
	b := window[len(window)-1]
	span := b.High - b.Low
	if span <= 0 {
		return 0, nil
	}
	return 2*(b.Close-b.Low)/span - 1, nil
}

// NewExtractor resolves a feature name from configuration to its
// implementation. The set is closed: presets enumerate from here.
func NewExtractor(name string) (Extractor, error) {
	switch name {
	case "log_return":
		return LogReturn{}, nil
	case "rolling_volatility":
		return RollingVolatility{}, nil
	case "return_zscore":
		return ReturnZScore{}, nil
	case "vwap_deviation":
		return VWAPDeviation{}, nil
	case "volume_zscore":
		return VolumeZScore{}, nil
	case "high_low_range":
		return HighLowRange{}, nil
	case "close_location":
		return CloseLocation{}, nil
	}
	return nil, &market.ConfigError{Field: "feature", Reason: "unknown extractor " + name}
}

func windowReturns(window []market.Bar) ([]float64, error) {
	if len(window) < 3 {
		return nil, fmt.Errorf("need at least 3 bars, got %d", len(window))
	}
	out := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		if window[i-1].Close <= 0 || window[i].Close <= 0 {
			return nil, fmt.Errorf("non-positive close at window index %d", i)
		}
		out = append(out, 1e4*math.Log(window[i].Close/window[i-1].Close))
	}
	return out, nil
}

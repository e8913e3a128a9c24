package labels

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantforge/tickpipe/internal/cost"
	"github.com/quantforge/tickpipe/internal/market"
)

// ModeKind selects the labeling target type.
type ModeKind string

const (
	ModeClassification ModeKind = "classification"
	ModeRegression     ModeKind = "regression"
)

// Mode is the closed set of labeling modes.
type Mode struct {
	Kind ModeKind

	// Classification: base threshold in bps. The effective threshold per bar
	// is ThresholdBps + that bar's cost, so higher cost always means more
	// HOLD labels.
	ThresholdBps float64

	// Regression: symmetric clip percentiles of the cost-adjusted return
	// distribution.
	ClipLowPct  float64
	ClipHighPct float64
}

// Classification labels each bar -1/0/+1 against a cost-scaled threshold.
func Classification(thresholdBps float64) Mode {
	return Mode{Kind: ModeClassification, ThresholdBps: thresholdBps}
}

// Regression labels each bar with its cost-adjusted forward return, clipped
// at the given percentiles of the adjusted distribution.
func Regression(clipLowPct, clipHighPct float64) Mode {
	return Mode{Kind: ModeRegression, ClipLowPct: clipLowPct, ClipHighPct: clipHighPct}
}

func (m Mode) validate() error {
	switch m.Kind {
	case ModeClassification:
		if m.ThresholdBps < 0 {
			return &market.ConfigError{Field: "threshold_bps", Reason: "must be non-negative"}
		}
	case ModeRegression:
		if m.ClipLowPct < 0 || m.ClipHighPct > 100 || m.ClipLowPct >= m.ClipHighPct {
			return &market.ConfigError{Field: "clip_pct", Reason: "need 0 <= low < high <= 100"}
		}
	default:
		return &market.ConfigError{Field: "mode", Reason: "unknown label mode " + string(m.Kind)}
	}
	return nil
}

// Generator produces labels aligned 1:1 with bars. It holds no cross-call
// state, so independent instruments can label in parallel on independent
// instances.
type Generator struct {
	horizon time.Duration
	model   *cost.Model
	mode    Mode
	venue   string
}

// NewGenerator validates everything up front; Generate never fails on
// configuration.
func NewGenerator(horizon time.Duration, model *cost.Model, mode Mode, venue string) (*Generator, error) {
	if horizon <= 0 {
		return nil, &market.ConfigError{Field: "horizon", Reason: "must be positive"}
	}
	if model == nil {
		return nil, &market.ConfigError{Field: "cost_model", Reason: "required"}
	}
	if err := mode.validate(); err != nil {
		return nil, err
	}
	return &Generator{horizon: horizon, model: model, mode: mode, venue: venue}, nil
}

// Generate labels every bar. For bar i the forward reference is the first
// bar j with start_time_j >= end_time_i + horizon, found with a monotonic
// forward pointer rather than a nested scan. The pointer relies on both
// start and end times being non-decreasing, so bars violating either
// ordering are rejected. Bars whose horizon falls past the series tail come
// back with IsValid=false, never an error.
func (g *Generator) Generate(bars []market.Bar) ([]market.Label, error) {
	out := make([]market.Label, len(bars))
	j := 0
	for i := range bars {
		if i > 0 && bars[i].StartTime.Before(bars[i-1].StartTime) {
			return nil, &market.OrderingError{Prev: bars[i-1].StartTime, Cur: bars[i].StartTime}
		}
		if i > 0 && bars[i].EndTime.Before(bars[i-1].EndTime) {
			return nil, &market.OrderingError{Prev: bars[i-1].EndTime, Cur: bars[i].EndTime}
		}

		lbl := market.Label{BarID: bars[i].ID, Horizon: g.horizon}
		target := bars[i].EndTime.Add(g.horizon)
		for j < len(bars) && bars[j].StartTime.Before(target) {
			j++
		}
		if j >= len(bars) || bars[i].Close <= 0 {
			out[i] = lbl // IsValid stays false
			continue
		}

		raw := 1e4 * (bars[j].Close - bars[i].Close) / bars[i].Close
		costBps := g.model.RoundTripBps(g.venue, sideOf(raw), bars[i].Volume, rangeVol(bars[i]))
		adjusted := adjust(raw, costBps)

		lbl.RawReturnBps = raw
		lbl.CostBps = costBps
		lbl.AdjustedReturnBps = adjusted
		lbl.IsValid = true

		if g.mode.Kind == ModeClassification {
			lbl.Class = classify(adjusted, g.mode.ThresholdBps+costBps)
		}
		out[i] = lbl
	}

	if g.mode.Kind == ModeRegression {
		clipRegression(out, g.mode.ClipLowPct, g.mode.ClipHighPct)
	}

	valid := 0
	for i := range out {
		if out[i].IsValid {
			valid++
		}
	}
	log.Debug().
		Str("mode", string(g.mode.Kind)).
		Dur("horizon", g.horizon).
		Int("bars", len(bars)).
		Int("valid", valid).
		Msg("label generation complete")
	return out, nil
}

// adjust subtracts cost from the raw return without letting cost flip the
// sign past zero.
func adjust(rawBps, costBps float64) float64 {
	switch {
	case rawBps > 0:
		return math.Max(0, rawBps-costBps)
	case rawBps < 0:
		return math.Min(0, rawBps+costBps)
	}
	return 0
}

func classify(adjustedBps, thresholdBps float64) market.LabelClass {
	switch {
	case adjustedBps > thresholdBps:
		return market.ClassLong
	case adjustedBps < -thresholdBps:
		return market.ClassShort
	}
	return market.ClassHold
}

// clipRegression clips every valid adjusted return at the configured
// percentiles of the valid adjusted distribution.
func clipRegression(out []market.Label, lowPct, highPct float64) {
	values := make([]float64, 0, len(out))
	for i := range out {
		if out[i].IsValid {
			values = append(values, out[i].AdjustedReturnBps)
		}
	}
	if len(values) == 0 {
		return
	}
	sort.Float64s(values)
	lo := percentile(values, lowPct)
	hi := percentile(values, highPct)
	for i := range out {
		if !out[i].IsValid {
			continue
		}
		out[i].ClippedReturn = math.Min(hi, math.Max(lo, out[i].AdjustedReturnBps))
	}
}

// percentile interpolates linearly over a sorted slice, p in [0, 100].
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p / 100 * float64(len(sorted)-1)
	i := int(pos)
	if i >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(i)
	return sorted[i]*(1-frac) + sorted[i+1]*frac
}

// rangeVol is the bar's high-low range relative to its close, the implied
// volatility input to the cost model.
func rangeVol(b market.Bar) float64 {
	if b.Close <= 0 {
		return 0
	}
	return (b.High - b.Low) / b.Close
}

func sideOf(rawBps float64) cost.Side {
	if rawBps < 0 {
		return cost.SideSell
	}
	return cost.SideBuy
}

package bars

import (
	"time"

	"github.com/quantforge/tickpipe/internal/market"
)

// Rule is the closed set of bar-closing disciplines. Construct one through
// the helpers below; Validate runs at builder construction so a bad
// threshold never survives to the first tick.
type Rule struct {
	Kind market.BarKind

	// Exactly one of these is meaningful, matching Kind.
	Interval  time.Duration // time bars
	Count     int           // tick bars
	Threshold float64       // volume / dollar bars
	Theta     float64       // imbalance bars
	NumRuns   int           // run bars
}

// TimeRule closes a bar each time a fixed wall-clock interval elapses.
// Empty buckets are dropped, not emitted.
func TimeRule(interval time.Duration) Rule {
	return Rule{Kind: market.KindTime, Interval: interval}
}

// TickRule closes a bar after count ticks accumulate.
func TickRule(count int) Rule {
	return Rule{Kind: market.KindTick, Count: count}
}

// VolumeRule closes a bar once cumulative quantity reaches threshold.
// The crossing tick belongs to the bar it closes.
func VolumeRule(threshold float64) Rule {
	return Rule{Kind: market.KindVolume, Threshold: threshold}
}

// DollarRule closes a bar once cumulative price*quantity reaches threshold,
// normalizing bar frequency across instruments and price levels.
func DollarRule(threshold float64) Rule {
	return Rule{Kind: market.KindDollar, Threshold: threshold}
}

// ImbalanceRule closes a bar once |running signed volume| reaches theta.
// A tick's sign is the direction of its price change versus the prior tick;
// flat ticks contribute zero.
func ImbalanceRule(theta float64) Rule {
	return Rule{Kind: market.KindImbalance, Theta: theta}
}

// RunRule closes a bar after numRuns maximal same-signed price runs
// complete. A run ends when the price-move sign flips.
func RunRule(numRuns int) Rule {
	return Rule{Kind: market.KindRun, NumRuns: numRuns}
}

// Validate rejects non-positive thresholds and unknown kinds.
func (r Rule) Validate() error {
	switch r.Kind {
	case market.KindTime:
		if r.Interval <= 0 {
			return &market.ConfigError{Field: "interval", Reason: "must be positive"}
		}
	case market.KindTick:
		if r.Count <= 0 {
			return &market.ConfigError{Field: "count", Reason: "must be positive"}
		}
	case market.KindVolume, market.KindDollar:
		if r.Threshold <= 0 {
			return &market.ConfigError{Field: "threshold", Reason: "must be positive"}
		}
	case market.KindImbalance:
		if r.Theta <= 0 {
			return &market.ConfigError{Field: "theta", Reason: "must be positive"}
		}
	case market.KindRun:
		if r.NumRuns <= 0 {
			return &market.ConfigError{Field: "num_runs", Reason: "must be positive"}
		}
	default:
		return &market.ConfigError{Field: "rule", Reason: "unknown bar kind " + string(r.Kind)}
	}
	return nil
}

// Param reports the rule's scalar parameter, recorded on every emitted bar.
func (r Rule) Param() float64 {
	switch r.Kind {
	case market.KindTime:
		return r.Interval.Seconds()
	case market.KindTick:
		return float64(r.Count)
	case market.KindVolume, market.KindDollar:
		return r.Threshold
	case market.KindImbalance:
		return r.Theta
	case market.KindRun:
		return float64(r.NumRuns)
	}
	return 0
}

package market

import (
	"fmt"
	"time"
)

// BarKind identifies the closing rule that produced a bar
type BarKind string

const (
	KindTime      BarKind = "time"
	KindTick      BarKind = "tick"
	KindVolume    BarKind = "volume"
	KindDollar    BarKind = "dollar"
	KindImbalance BarKind = "imbalance"
	KindRun       BarKind = "run"
)

// Tick is one cleaned trade record from the upstream tick source.
// Timestamps are UTC with microsecond resolution, non-decreasing, with
// ties broken by arrival order. Bid/Ask are zero when no quote was attached.
type Tick struct {
	Timestamp time.Time `json:"ts"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"qty"`
	Venue     string    `json:"venue"`
	Bid       float64   `json:"bid,omitempty"`
	Ask       float64   `json:"ask,omitempty"`
	BidSize   float64   `json:"bid_size,omitempty"`
	AskSize   float64   `json:"ask_size,omitempty"`
}

// Bar is an immutable OHLCV aggregate over a tick window. Bars are created
// only by a closing rule firing; ID is the zero-based emission sequence
// within one builder run.
type Bar struct {
	ID         int64     `json:"bar_id"`
	Symbol     string    `json:"symbol,omitempty"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	VWAP       float64   `json:"vwap"`
	TradeCount int       `json:"trade_count"`
	Kind       BarKind   `json:"bar_kind"`
	KindParam  float64   `json:"kind_parameter"`
}

// LabelClass is the classification target: -1 short, 0 hold, +1 long.
type LabelClass int

const (
	ClassShort LabelClass = -1
	ClassHold  LabelClass = 0
	ClassLong  LabelClass = 1
)

func (c LabelClass) String() string {
	switch c {
	case ClassShort:
		return "short"
	case ClassLong:
		return "long"
	}
	return "hold"
}

// Label is the supervised-learning target for one bar. Class is populated in
// classification mode, ClippedReturn in regression mode. Labels near the
// series tail whose horizon is unobservable carry IsValid=false.
type Label struct {
	BarID             int64         `json:"bar_id"`
	Horizon           time.Duration `json:"horizon"`
	RawReturnBps      float64       `json:"raw_return_bps"`
	CostBps           float64       `json:"cost_bps"`
	AdjustedReturnBps float64       `json:"adjusted_return_bps"`
	Class             LabelClass    `json:"class,omitempty"`
	ClippedReturn     float64       `json:"clipped_return,omitempty"`
	IsValid           bool          `json:"is_valid"`
}

// FeatureVector is the published feature row for one bar. Values hold the
// computed value per feature name; Valid marks which of them may be consumed.
// AsOfBarID is the newest bar index any contained value may depend on, so a
// vector never references data later than AsOfBarID.
type FeatureVector struct {
	BarID   int64              `json:"bar_id"`
	AsOfBar int64              `json:"as_of_bar_id"`
	Values  map[string]float64 `json:"values"`
	Valid   map[string]bool    `json:"valid"`
}

// Validate checks the bar invariants that every closing rule must preserve.
func (b Bar) Validate() error {
	if !b.EndTime.After(b.StartTime) {
		return fmt.Errorf("bar %d: end_time must be after start_time", b.ID)
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar %d: negative volume %f", b.ID, b.Volume)
	}
	if b.High < b.Open || b.High < b.Close {
		return fmt.Errorf("bar %d: high %f below open/close", b.ID, b.High)
	}
	if b.Low > b.Open || b.Low > b.Close {
		return fmt.Errorf("bar %d: low %f above open/close", b.ID, b.Low)
	}
	if b.VWAP < b.Low || b.VWAP > b.High {
		return fmt.Errorf("bar %d: vwap %f outside [low, high]", b.ID, b.VWAP)
	}
	return nil
}

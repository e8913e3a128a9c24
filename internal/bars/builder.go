package bars

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantforge/tickpipe/internal/market"
)

// Builder turns an ordered tick stream into bars under one closing rule.
// State between emissions is O(1); each tick is seen exactly once. A builder
// serves one instrument — run independent instruments on independent
// instances. Not safe for concurrent use.
type Builder struct {
	rule   Rule
	symbol string

	acc    accumulator
	nextID int64

	prevTS  time.Time
	prevSet bool

	// Sign state shared by imbalance and run rules. prevPrice is the prior
	// tick's price across bar boundaries; the per-bar counters reset on emit.
	prevPrice    float64
	prevPriceSet bool
	signedVolume float64
	runSign      int
	runsDone     int

	bucketStart time.Time // time rule: start of the open bucket
}

// accumulator is the current open bar. Owned exclusively by one Builder;
// zeroed on every emission.
type accumulator struct {
	open, high, low, close float64
	volume, notional       float64
	trades                 int
	start, end             time.Time
	active                 bool
}

// NewBuilder validates the rule up front so a bad configuration fails at
// construction, never on the first tick.
func NewBuilder(rule Rule, symbol string) (*Builder, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return &Builder{rule: rule, symbol: symbol}, nil
}

// Build streams ticks once through a fresh builder and returns the closed
// bars. A trailing partial bucket/threshold/run is dropped, never emitted
// as a truncated bar.
func Build(ticks []market.Tick, rule Rule, symbol string) ([]market.Bar, error) {
	b, err := NewBuilder(rule, symbol)
	if err != nil {
		return nil, err
	}
	out := make([]market.Bar, 0, len(ticks)/16+1)
	for i := range ticks {
		bar, err := b.Push(ticks[i])
		if err != nil {
			return nil, err
		}
		if bar != nil {
			out = append(out, *bar)
		}
	}
	log.Debug().
		Str("symbol", symbol).
		Str("rule", string(rule.Kind)).
		Int("ticks", len(ticks)).
		Int("bars", len(out)).
		Msg("bar build complete")
	return out, nil
}

// Push consumes one tick and returns the bar it closed, if any. At most one
// bar closes per tick: each rule is independent and mutually exclusive per
// builder instance.
func (b *Builder) Push(t market.Tick) (*market.Bar, error) {
	if b.prevSet && t.Timestamp.Before(b.prevTS) {
		return nil, &market.OrderingError{Prev: b.prevTS, Cur: t.Timestamp}
	}
	b.prevTS = t.Timestamp
	b.prevSet = true

	switch b.rule.Kind {
	case market.KindTime:
		return b.pushTime(t), nil
	case market.KindRun:
		return b.pushRun(t), nil
	default:
		return b.pushEvent(t), nil
	}
}

// pushTime closes the open bucket when a tick from a later bucket arrives.
// The incoming tick belongs to the new bucket, so the emitted bar excludes
// it; empty intermediate buckets produce no bars.
func (b *Builder) pushTime(t market.Tick) *market.Bar {
	bucket := t.Timestamp.Truncate(b.rule.Interval)

	var closed *market.Bar
	if b.acc.active && bucket.After(b.bucketStart) {
		closed = b.emit(b.bucketStart, b.bucketStart.Add(b.rule.Interval))
	}
	if !b.acc.active {
		b.bucketStart = bucket
	}
	b.accumulate(t)
	return closed
}

// pushEvent handles the tick, volume, dollar and imbalance rules: the
// crossing tick is included in the bar it closes.
func (b *Builder) pushEvent(t market.Tick) *market.Bar {
	sign := b.tickSign(t.Price)
	b.accumulate(t)

	fire := false
	switch b.rule.Kind {
	case market.KindTick:
		fire = b.acc.trades >= b.rule.Count
	case market.KindVolume:
		fire = b.acc.volume >= b.rule.Threshold
	case market.KindDollar:
		fire = b.acc.notional >= b.rule.Threshold
	case market.KindImbalance:
		b.signedVolume += float64(sign) * t.Quantity
		if abs(b.signedVolume) >= b.rule.Theta {
			fire = true
		}
	}
	if !fire {
		return nil
	}
	return b.emit(b.acc.start, b.acc.end)
}

// pushRun closes the bar when the configured number of maximal same-signed
// price runs completes. The sign-flipping tick starts the next run, so it
// opens the next bar rather than extending the closed one.
func (b *Builder) pushRun(t market.Tick) *market.Bar {
	sign := b.tickSign(t.Price)

	var closed *market.Bar
	if sign != 0 {
		if b.runSign == 0 {
			b.runSign = sign
		} else if sign != b.runSign {
			b.runsDone++
			b.runSign = sign
			if b.runsDone >= b.rule.NumRuns {
				closed = b.emit(b.acc.start, b.acc.end)
				b.runSign = sign // flip tick seeds the next bar's first run
			}
		}
	}
	b.accumulate(t)
	return closed
}

// tickSign is the direction of the price change versus the prior tick.
// The first tick of the stream and flat ticks carry sign 0.
func (b *Builder) tickSign(price float64) int {
	sign := 0
	if b.prevPriceSet {
		switch {
		case price > b.prevPrice:
			sign = 1
		case price < b.prevPrice:
			sign = -1
		}
	}
	b.prevPrice = price
	b.prevPriceSet = true
	return sign
}

func (b *Builder) accumulate(t market.Tick) {
	if !b.acc.active {
		b.acc = accumulator{
			open: t.Price, high: t.Price, low: t.Price, close: t.Price,
			start: t.Timestamp, end: t.Timestamp,
			active: true,
		}
	} else {
		if t.Price > b.acc.high {
			b.acc.high = t.Price
		}
		if t.Price < b.acc.low {
			b.acc.low = t.Price
		}
		b.acc.close = t.Price
		b.acc.end = t.Timestamp
	}
	b.acc.volume += t.Quantity
	b.acc.notional += t.Price * t.Quantity
	b.acc.trades++
}

// emit seals the accumulator into an immutable bar and resets all per-bar
// state. Timestamps carry microsecond resolution; a bar whose ticks share
// one timestamp is stretched by 1µs to keep end_time strictly after
// start_time.
func (b *Builder) emit(start, end time.Time) *market.Bar {
	if !end.After(start) {
		end = start.Add(time.Microsecond)
	}
	vwap := b.acc.close
	if b.acc.volume > 0 {
		vwap = b.acc.notional / b.acc.volume
	}
	bar := &market.Bar{
		ID:         b.nextID,
		Symbol:     b.symbol,
		StartTime:  start,
		EndTime:    end,
		Open:       b.acc.open,
		High:       b.acc.high,
		Low:        b.acc.low,
		Close:      b.acc.close,
		Volume:     b.acc.volume,
		VWAP:       vwap,
		TradeCount: b.acc.trades,
		Kind:       b.rule.Kind,
		KindParam:  b.rule.Param(),
	}
	b.nextID++
	b.acc = accumulator{}
	b.signedVolume = 0
	b.runSign = 0
	b.runsDone = 0
	return bar
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

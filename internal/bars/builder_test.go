package bars

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantforge/tickpipe/internal/market"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// genTicks produces a deterministic random-walk tick series starting at t0
// with a fixed spacing, roughly EURUSD-shaped.
func genTicks(n int, step time.Duration, seed int64) []market.Tick {
	rng := rand.New(rand.NewSource(seed))
	ticks := make([]market.Tick, n)
	price := 1.1000
	for i := 0; i < n; i++ {
		price += (rng.Float64() - 0.5) * 0.0004
		ticks[i] = market.Tick{
			Timestamp: t0.Add(time.Duration(i) * step),
			Price:     price,
			Quantity:  0.5 + rng.Float64()*2.0,
			Venue:     "ebs",
		}
	}
	return ticks
}

func TestTimeBars_OneHourFiveMinute(t *testing.T) {
	// 3000 ticks spaced 1.2s cover [t0, t0+1h); one extra tick past the hour
	// closes the final bucket.
	ticks := genTicks(3000, 1200*time.Millisecond, 42)
	ticks = append(ticks, market.Tick{
		Timestamp: t0.Add(time.Hour + 5*time.Minute),
		Price:     1.1000, Quantity: 1, Venue: "ebs",
	})

	out, err := Build(ticks, TimeRule(5*time.Minute), "EURUSD")
	require.NoError(t, err)
	require.Len(t, out, 12)

	for i, b := range out {
		assert.NoError(t, b.Validate())
		assert.Equal(t, 5*time.Minute, b.EndTime.Sub(b.StartTime))
		assert.Equal(t, t0.Add(time.Duration(i)*5*time.Minute), b.StartTime)
		assert.Equal(t, market.KindTime, b.Kind)
		assert.Equal(t, int64(i), b.ID)
	}
}

func TestTimeBars_EmptyBucketsDropped(t *testing.T) {
	// Ticks only in bucket 0 and bucket 5: buckets 1-4 must not appear, and
	// bucket 5 is a trailing partial so it is dropped too.
	ticks := []market.Tick{
		{Timestamp: t0, Price: 1.1, Quantity: 1},
		{Timestamp: t0.Add(time.Minute), Price: 1.101, Quantity: 1},
		{Timestamp: t0.Add(26 * time.Minute), Price: 1.102, Quantity: 1},
	}
	out, err := Build(ticks, TimeRule(5*time.Minute), "EURUSD")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, t0, out[0].StartTime)
	assert.Equal(t, 2, out[0].TradeCount)
}

func TestTickBars_CountAndTrailingPartial(t *testing.T) {
	ticks := genTicks(3000, time.Second, 7)
	out, err := Build(ticks, TickRule(500), "EURUSD")
	require.NoError(t, err)
	require.Len(t, out, 6)
	for _, b := range out {
		assert.Equal(t, 500, b.TradeCount)
		assert.NoError(t, b.Validate())
	}

	// 1234 ticks at 500/bar: the 234-tick remainder never becomes a bar.
	out, err = Build(ticks[:1234], TickRule(500), "EURUSD")
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestVolumeBars_ThresholdCrossing(t *testing.T) {
	ticks := genTicks(2000, time.Second, 11)
	const threshold = 100.0
	out, err := Build(ticks, VolumeRule(threshold), "EURUSD")
	require.NoError(t, err)
	require.NotEmpty(t, out)

	for _, b := range out {
		assert.GreaterOrEqual(t, b.Volume, threshold)
		// The crossing tick belongs to the bar it closes, so overshoot is
		// bounded by one tick's quantity (max 2.5 in genTicks).
		assert.Less(t, b.Volume, threshold+2.5)
		assert.NoError(t, b.Validate())
	}
}

func TestDollarBars_NotionalWithinOneTick(t *testing.T) {
	ticks := genTicks(2000, time.Second, 13)
	const threshold = 250.0
	maxTickNotional := 0.0
	for _, tk := range ticks {
		if n := tk.Price * tk.Quantity; n > maxTickNotional {
			maxTickNotional = n
		}
	}

	out, err := Build(ticks, DollarRule(threshold), "EURUSD")
	require.NoError(t, err)
	require.NotEmpty(t, out)

	for _, b := range out {
		notional := b.VWAP * b.Volume
		assert.GreaterOrEqual(t, notional, threshold-1e-9)
		assert.Less(t, notional, threshold+maxTickNotional)
	}
}

func TestImbalanceBars_SignedVolumeAtClose(t *testing.T) {
	// Strictly rising prices: every tick after the first carries sign +1 and
	// quantity 1, so signed volume advances by exactly 1 per tick.
	n := 100
	ticks := make([]market.Tick, n)
	for i := 0; i < n; i++ {
		ticks[i] = market.Tick{
			Timestamp: t0.Add(time.Duration(i) * time.Second),
			Price:     1.1 + float64(i)*0.0001,
			Quantity:  1,
		}
	}
	out, err := Build(ticks, ImbalanceRule(10), "EURUSD")
	require.NoError(t, err)

	// First bar needs 11 ticks (first tick is flat), the rest 10 each.
	require.Len(t, out, 9)
	assert.Equal(t, 11, out[0].TradeCount)
	for _, b := range out[1:] {
		assert.Equal(t, 10, b.TradeCount)
	}
}

func TestRunBars_ZigZag(t *testing.T) {
	prices := []float64{1.10, 1.11, 1.10, 1.11, 1.10}
	ticks := make([]market.Tick, len(prices))
	for i, p := range prices {
		ticks[i] = market.Tick{Timestamp: t0.Add(time.Duration(i) * time.Second), Price: p, Quantity: 1}
	}

	out, err := Build(ticks, RunRule(1), "EURUSD")
	require.NoError(t, err)

	// Every flip completes a run; the flipping tick opens the next bar and
	// the final one-tick run never completes.
	require.Len(t, out, 3)
	assert.Equal(t, 2, out[0].TradeCount)
	assert.Equal(t, 1, out[1].TradeCount)
	assert.Equal(t, 1, out[2].TradeCount)
}

func TestBarInvariants_AllRules(t *testing.T) {
	ticks := genTicks(5000, 700*time.Millisecond, 99)
	rules := []Rule{
		TimeRule(time.Minute),
		TickRule(137),
		VolumeRule(75),
		DollarRule(200),
		ImbalanceRule(8),
		RunRule(5),
	}
	for _, rule := range rules {
		out, err := Build(ticks, rule, "EURUSD")
		require.NoError(t, err, "rule %s", rule.Kind)
		require.NotEmpty(t, out, "rule %s", rule.Kind)
		for _, b := range out {
			require.NoError(t, b.Validate(), "rule %s bar %d", rule.Kind, b.ID)
			assert.GreaterOrEqual(t, b.High, b.Open)
			assert.GreaterOrEqual(t, b.High, b.Close)
			assert.LessOrEqual(t, b.Low, b.Open)
			assert.LessOrEqual(t, b.Low, b.Close)
			assert.True(t, b.EndTime.After(b.StartTime))
		}
	}
}

func TestBuild_Deterministic(t *testing.T) {
	ticks := genTicks(4000, time.Second, 5)
	for _, rule := range []Rule{TickRule(250), DollarRule(300), RunRule(3)} {
		a, err := Build(ticks, rule, "EURUSD")
		require.NoError(t, err)
		b, err := Build(ticks, rule, "EURUSD")
		require.NoError(t, err)
		require.Equal(t, a, b)
	}
}

func TestNewBuilder_RejectsBadConfig(t *testing.T) {
	cases := []Rule{
		TimeRule(0),
		TimeRule(-time.Second),
		TickRule(0),
		VolumeRule(-1),
		DollarRule(0),
		ImbalanceRule(0),
		RunRule(-2),
		{Kind: market.BarKind("fibonacci")},
	}
	for _, rule := range cases {
		_, err := NewBuilder(rule, "EURUSD")
		require.Error(t, err)
		var cfgErr *market.ConfigError
		assert.ErrorAs(t, err, &cfgErr)
	}
}

func TestPush_RejectsNonMonotonicTimestamps(t *testing.T) {
	b, err := NewBuilder(TickRule(10), "EURUSD")
	require.NoError(t, err)

	_, err = b.Push(market.Tick{Timestamp: t0.Add(time.Second), Price: 1.1, Quantity: 1})
	require.NoError(t, err)

	_, err = b.Push(market.Tick{Timestamp: t0, Price: 1.1, Quantity: 1})
	require.Error(t, err)
	var ordErr *market.OrderingError
	assert.ErrorAs(t, err, &ordErr)
}

func TestPush_EqualTimestampsAllowed(t *testing.T) {
	b, err := NewBuilder(TickRule(2), "EURUSD")
	require.NoError(t, err)

	_, err = b.Push(market.Tick{Timestamp: t0, Price: 1.1, Quantity: 1})
	require.NoError(t, err)
	bar, err := b.Push(market.Tick{Timestamp: t0, Price: 1.1002, Quantity: 1})
	require.NoError(t, err)

	// Ties broken by arrival order close the bar; end_time is stretched by
	// one microsecond to stay strictly after start_time.
	require.NotNil(t, bar)
	assert.True(t, bar.EndTime.After(bar.StartTime))
}

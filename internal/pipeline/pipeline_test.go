package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantforge/tickpipe/internal/config"
	"github.com/quantforge/tickpipe/internal/market"
	"github.com/quantforge/tickpipe/internal/metrics"
)

func testConfig() *config.Config {
	return &config.Config{
		Symbol: "EURUSD",
		Venue:  "ebs",
		Bar:    config.BarConfig{Kind: "time", Interval: "1m"},
		Label:  config.LabelConfig{Horizon: "2m", Mode: "classification", ThresholdBps: 5},
		Cost:   config.CostConfig{FeeBps: 1, SpreadBps: 0.5, ImpactCoeff: 0.1},
		Preset: "test",
		Presets: map[string]config.PresetConfig{
			"test": {Features: []config.FeatureConfig{
				{Name: "log_return", Lag: 1, WarmUpBars: 2},
				{Name: "rolling_volatility", Lag: 1, WarmUpBars: 5},
			}},
		},
	}
}

func writeTickFixture(t *testing.T, n int) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("ts_us,price,qty,venue\n")
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	price := 1.1000
	for i := 0; i < n; i++ {
		ts := base.Add(time.Duration(i) * 3 * time.Second)
		price += 0.0001 * float64((i%5)-2)
		fmt.Fprintf(&sb, "%d,%.5f,%d,ebs\n", ts.UnixMicro(), price, 1+i%3)
	}
	path := filepath.Join(t.TempDir(), "ticks.csv")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

type recordingSink struct {
	bars   int
	labels int
	fail   bool
}

func (s *recordingSink) InsertBars(_ context.Context, _ string, bs []market.Bar) error {
	if s.fail {
		return fmt.Errorf("sink unavailable")
	}
	s.bars = len(bs)
	return nil
}

func (s *recordingSink) InsertLabels(_ context.Context, _ string, ls []market.Label) error {
	s.labels = len(ls)
	return nil
}

func TestPipeline_Run(t *testing.T) {
	reg := metrics.NewRegistry()
	sink := &recordingSink{}
	p, err := New(testConfig(), reg, sink)
	require.NoError(t, err)

	ticksPath := writeTickFixture(t, 1200) // one hour of ticks, 1m bars
	outPath := filepath.Join(t.TempDir(), "dataset.parquet")

	res, err := p.Run(context.Background(), ticksPath, outPath)
	require.NoError(t, err)

	assert.Equal(t, 1200, res.Ticks)
	// The trailing partial minute never closes.
	assert.Equal(t, 59, res.Bars)
	// The last bars cannot see 2m ahead.
	assert.Less(t, res.Valid, res.Bars)
	assert.Greater(t, res.Valid, 50)

	assert.Equal(t, res.Bars, sink.bars)
	assert.Equal(t, res.Bars, sink.labels)

	require.NotNil(t, res.Manifest)
	assert.Equal(t, res.Bars, res.Manifest.Rows)
	assert.Equal(t, []string{"log_return", "rolling_volatility"}, res.Manifest.Features)

	info, err := os.Stat(outPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
	_, err = os.Stat(outPath + ".manifest.json")
	require.NoError(t, err)
}

func TestPipeline_RunWithoutSink(t *testing.T) {
	p, err := New(testConfig(), metrics.NewRegistry(), nil)
	require.NoError(t, err)

	res, err := p.Run(context.Background(),
		writeTickFixture(t, 300), filepath.Join(t.TempDir(), "out.parquet"))
	require.NoError(t, err)
	assert.Equal(t, 14, res.Bars)
}

func TestPipeline_SinkFailure(t *testing.T) {
	p, err := New(testConfig(), metrics.NewRegistry(), &recordingSink{fail: true})
	require.NoError(t, err)

	_, err = p.Run(context.Background(),
		writeTickFixture(t, 300), filepath.Join(t.TempDir(), "out.parquet"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bar persistence failed")
}

func TestPipeline_MissingTickFile(t *testing.T) {
	p, err := New(testConfig(), metrics.NewRegistry(), nil)
	require.NoError(t, err)

	_, err = p.Run(context.Background(),
		filepath.Join(t.TempDir(), "absent.csv"), filepath.Join(t.TempDir(), "out.parquet"))
	require.Error(t, err)
}

func TestPipeline_BuildDatasetDeterministic(t *testing.T) {
	p, err := New(testConfig(), metrics.NewRegistry(), nil)
	require.NoError(t, err)

	ticks := make([]market.Tick, 0, 600)
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	price := 1.2
	for i := 0; i < 600; i++ {
		price += 0.0001 * float64((i%7)-3)
		ticks = append(ticks, market.Tick{
			Timestamp: base.Add(time.Duration(i) * 5 * time.Second),
			Price:     price,
			Quantity:  1,
			Venue:     "ebs",
		})
	}

	first, err := p.BuildDataset(ticks)
	require.NoError(t, err)
	second, err := p.BuildDataset(ticks)
	require.NoError(t, err)

	assert.Equal(t, first.Bars, second.Bars)
	assert.Equal(t, first.Labels, second.Labels)
	assert.Equal(t, first.Vectors, second.Vectors)
}

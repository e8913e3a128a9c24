package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantforge/tickpipe/internal/bars"
	"github.com/quantforge/tickpipe/internal/config"
	"github.com/quantforge/tickpipe/internal/features"
	"github.com/quantforge/tickpipe/internal/ingest"
	"github.com/quantforge/tickpipe/internal/labels"
	"github.com/quantforge/tickpipe/internal/market"
	"github.com/quantforge/tickpipe/internal/metrics"
	"github.com/quantforge/tickpipe/internal/persistence"
)

// BarSink receives the finished dataset rows, typically a Postgres repo.
// Nil sink means parquet only.
type BarSink interface {
	InsertBars(ctx context.Context, symbol string, bs []market.Bar) error
	InsertLabels(ctx context.Context, symbol string, ls []market.Label) error
}

// Pipeline is the batch path: a tick file in, an aligned bar/label/feature
// dataset out. All components are constructed once from validated config.
type Pipeline struct {
	cfg     *config.Config
	rule    bars.Rule
	gen     *labels.Generator
	store   *features.Store
	metrics *metrics.Registry
	sink    BarSink
}

// Result summarizes one completed run.
type Result struct {
	Manifest *persistence.Manifest
	Ticks    int
	Bars     int
	Valid    int
	Elapsed  time.Duration
}

// New assembles a pipeline from validated configuration. reg must not be
// nil; sink may be.
func New(cfg *config.Config, reg *metrics.Registry, sink BarSink) (*Pipeline, error) {
	rule, err := cfg.Rule()
	if err != nil {
		return nil, err
	}
	model, err := cfg.CostModel()
	if err != nil {
		return nil, err
	}
	mode, err := cfg.LabelMode()
	if err != nil {
		return nil, err
	}
	horizon, err := cfg.Horizon()
	if err != nil {
		return nil, err
	}
	gen, err := labels.NewGenerator(horizon, model, mode, cfg.Venue)
	if err != nil {
		return nil, err
	}
	store, err := cfg.BuildStore()
	if err != nil {
		return nil, err
	}
	store.OnExtractError(func(feature string, _ int64) {
		reg.ExtractErrors.WithLabelValues(feature).Inc()
	})
	return &Pipeline{cfg: cfg, rule: rule, gen: gen, store: store, metrics: reg, sink: sink}, nil
}

// BuildDataset runs ticks through the bar builder, labeler and feature
// store and returns the aligned dataset. The feature store is consumed in
// batch mode, so repeated calls see identical state.
func (p *Pipeline) BuildDataset(ticks []market.Tick) (*persistence.Dataset, error) {
	p.metrics.TicksConsumed.Add(float64(len(ticks)))

	bs, err := bars.Build(ticks, p.rule, p.cfg.Symbol)
	if err != nil {
		return nil, fmt.Errorf("bar construction failed: %w", err)
	}
	p.metrics.BarsEmitted.WithLabelValues(string(p.rule.Kind)).Add(float64(len(bs)))

	ls, err := p.gen.Generate(bs)
	if err != nil {
		return nil, fmt.Errorf("label generation failed: %w", err)
	}
	for i := range ls {
		if ls[i].IsValid {
			p.metrics.LabelsGenerated.WithLabelValues(ls[i].Class.String()).Inc()
		}
	}

	vs, err := p.store.ExtractAll(bs)
	if err != nil {
		return nil, fmt.Errorf("feature extraction failed: %w", err)
	}

	return &persistence.Dataset{
		Symbol:       p.cfg.Symbol,
		Rule:         p.rule.Kind,
		Bars:         bs,
		Labels:       ls,
		Vectors:      vs,
		FeatureNames: p.store.FeatureNames(),
	}, nil
}

// Run loads the tick file, builds the dataset, writes parquet plus its
// manifest and, when a sink is configured, pushes rows there too.
func (p *Pipeline) Run(ctx context.Context, ticksPath, outPath string) (*Result, error) {
	started := time.Now()

	ticks, err := ingest.ReadTicksCSV(ticksPath)
	if err != nil {
		return nil, err
	}
	ds, err := p.BuildDataset(ticks)
	if err != nil {
		return nil, err
	}

	manifest, err := persistence.WriteParquet(outPath, ds)
	if err != nil {
		return nil, err
	}

	if p.sink != nil {
		if err := p.sink.InsertBars(ctx, ds.Symbol, ds.Bars); err != nil {
			return nil, fmt.Errorf("bar persistence failed: %w", err)
		}
		if err := p.sink.InsertLabels(ctx, ds.Symbol, ds.Labels); err != nil {
			return nil, fmt.Errorf("label persistence failed: %w", err)
		}
	}

	valid := 0
	for i := range ds.Labels {
		if ds.Labels[i].IsValid {
			valid++
		}
	}
	res := &Result{
		Manifest: manifest,
		Ticks:    len(ticks),
		Bars:     len(ds.Bars),
		Valid:    valid,
		Elapsed:  time.Since(started),
	}
	log.Info().
		Str("symbol", p.cfg.Symbol).
		Str("rule", string(p.rule.Kind)).
		Int("ticks", res.Ticks).
		Int("bars", res.Bars).
		Int("valid_labels", res.Valid).
		Dur("elapsed", res.Elapsed).
		Msg("pipeline run complete")
	return res, nil
}

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quantforge/tickpipe/internal/bars"
	"github.com/quantforge/tickpipe/internal/cost"
	"github.com/quantforge/tickpipe/internal/features"
	"github.com/quantforge/tickpipe/internal/labels"
	"github.com/quantforge/tickpipe/internal/market"
)

// Config is the full pipeline configuration, loaded once and passed
// explicitly at construction — there is no ambient or global config state.
type Config struct {
	Symbol string `yaml:"symbol"`
	Venue  string `yaml:"venue"`

	Bar     BarConfig               `yaml:"bar"`
	Label   LabelConfig             `yaml:"label"`
	Cost    CostConfig              `yaml:"cost"`
	Preset  string                  `yaml:"feature_preset"`
	Presets map[string]PresetConfig `yaml:"presets"`
}

// BarConfig selects the closing rule. Kind decides which parameter applies.
type BarConfig struct {
	Kind      string  `yaml:"kind"`
	Interval  string  `yaml:"interval"`
	Count     int     `yaml:"count"`
	Threshold float64 `yaml:"threshold"`
	Theta     float64 `yaml:"theta"`
	NumRuns   int     `yaml:"num_runs"`
}

// LabelConfig selects the labeling mode and horizon.
type LabelConfig struct {
	Horizon      string  `yaml:"horizon"`
	Mode         string  `yaml:"mode"`
	ThresholdBps float64 `yaml:"threshold_bps"`
	ClipLowPct   float64 `yaml:"clip_low_pct"`
	ClipHighPct  float64 `yaml:"clip_high_pct"`
}

// CostConfig parameterizes the transaction-cost model, with per-venue fee
// overrides.
type CostConfig struct {
	FeeBps      float64            `yaml:"fee_bps"`
	SpreadBps   float64            `yaml:"spread_bps"`
	ImpactCoeff float64            `yaml:"impact_coeff"`
	VenueFees   map[string]float64 `yaml:"venue_fees"`
}

// PresetConfig is one named, enumerated extractor bundle.
type PresetConfig struct {
	Features []FeatureConfig `yaml:"features"`
}

// FeatureConfig binds one extractor name to its lag and warm-up.
type FeatureConfig struct {
	Name       string `yaml:"name"`
	Lag        int    `yaml:"lag"`
	WarmUpBars int    `yaml:"warm_up_bars"`
}

// Load reads and validates a pipeline configuration file. Everything that
// can fail does so here, before any tick is touched.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate exercises every derived constructor so a bad value surfaces at
// load time with its field name attached.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return &market.ConfigError{Field: "symbol", Reason: "required"}
	}
	if _, err := c.Rule(); err != nil {
		return err
	}
	if _, err := c.CostModel(); err != nil {
		return err
	}
	if _, err := c.LabelMode(); err != nil {
		return err
	}
	if _, err := c.Horizon(); err != nil {
		return err
	}
	if _, err := c.BuildStore(); err != nil {
		return err
	}
	return nil
}

// Rule resolves the bar-closing rule from configuration.
func (c *Config) Rule() (bars.Rule, error) {
	var rule bars.Rule
	switch market.BarKind(c.Bar.Kind) {
	case market.KindTime:
		interval, err := time.ParseDuration(c.Bar.Interval)
		if err != nil {
			return rule, &market.ConfigError{Field: "bar.interval", Reason: err.Error()}
		}
		rule = bars.TimeRule(interval)
	case market.KindTick:
		rule = bars.TickRule(c.Bar.Count)
	case market.KindVolume:
		rule = bars.VolumeRule(c.Bar.Threshold)
	case market.KindDollar:
		rule = bars.DollarRule(c.Bar.Threshold)
	case market.KindImbalance:
		rule = bars.ImbalanceRule(c.Bar.Theta)
	case market.KindRun:
		rule = bars.RunRule(c.Bar.NumRuns)
	default:
		return rule, &market.ConfigError{Field: "bar.kind", Reason: "unknown rule " + c.Bar.Kind}
	}
	return rule, rule.Validate()
}

// CostModel builds the configured cost model.
func (c *Config) CostModel() (*cost.Model, error) {
	m, err := cost.NewModel(c.Cost.FeeBps, c.Cost.SpreadBps, c.Cost.ImpactCoeff)
	if err != nil {
		return nil, err
	}
	if len(c.Cost.VenueFees) > 0 {
		m.VenueFeeBps = c.Cost.VenueFees
	}
	return m, nil
}

// LabelMode resolves the labeling mode from configuration.
func (c *Config) LabelMode() (labels.Mode, error) {
	switch labels.ModeKind(c.Label.Mode) {
	case labels.ModeClassification:
		return labels.Classification(c.Label.ThresholdBps), nil
	case labels.ModeRegression:
		return labels.Regression(c.Label.ClipLowPct, c.Label.ClipHighPct), nil
	}
	return labels.Mode{}, &market.ConfigError{Field: "label.mode", Reason: "unknown mode " + c.Label.Mode}
}

// Horizon parses the label horizon.
func (c *Config) Horizon() (time.Duration, error) {
	d, err := time.ParseDuration(c.Label.Horizon)
	if err != nil {
		return 0, &market.ConfigError{Field: "label.horizon", Reason: err.Error()}
	}
	return d, nil
}

// BuildStore assembles a feature store from the selected preset. Presets
// are enumerated in the config file; an unknown name or extractor fails
// here.
func (c *Config) BuildStore() (*features.Store, error) {
	preset, ok := c.Presets[c.Preset]
	if !ok {
		return nil, &market.ConfigError{Field: "feature_preset", Reason: "unknown preset " + c.Preset}
	}
	if len(preset.Features) == 0 {
		return nil, &market.ConfigError{Field: "presets." + c.Preset, Reason: "no features configured"}
	}
	store := features.NewStore()
	for _, fc := range preset.Features {
		extractor, err := features.NewExtractor(fc.Name)
		if err != nil {
			return nil, err
		}
		if err := store.Register(extractor, fc.Lag, fc.WarmUpBars); err != nil {
			return nil, err
		}
	}
	return store, nil
}

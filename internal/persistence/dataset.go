package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog/log"

	"github.com/quantforge/tickpipe/internal/market"
)

// Dataset is one aligned run of bars, labels and feature vectors, ready to
// persist. Labels and Vectors are 1:1 with Bars by index.
type Dataset struct {
	Symbol       string
	Rule         market.BarKind
	Bars         []market.Bar
	Labels       []market.Label
	Vectors      []market.FeatureVector
	FeatureNames []string
}

// Manifest records provenance for one persisted dataset.
type Manifest struct {
	RunID     uuid.UUID      `json:"run_id"`
	CreatedAt time.Time      `json:"created_at"`
	Symbol    string         `json:"symbol"`
	Rule      market.BarKind `json:"rule"`
	Rows      int            `json:"rows"`
	Features  []string       `json:"features"`
}

// WriteParquet persists the dataset as one columnar file keyed by bar_id:
// fixed bar and label columns plus one feature_<name> column per feature,
// nullable wherever the underlying record is invalid. A JSON manifest with
// a fresh run ID is written next to it.
func WriteParquet(path string, ds *Dataset) (*Manifest, error) {
	if len(ds.Labels) != len(ds.Bars) || len(ds.Vectors) != len(ds.Bars) {
		return nil, fmt.Errorf("misaligned dataset: %d bars, %d labels, %d vectors",
			len(ds.Bars), len(ds.Labels), len(ds.Vectors))
	}

	schema := datasetSchema(ds.FeatureNames)
	rows := make([]map[string]any, len(ds.Bars))
	for i := range ds.Bars {
		rows[i] = datasetRow(ds.Bars[i], ds.Labels[i], ds.Vectors[i], ds.FeatureNames)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create dataset file: %w", err)
	}
	defer f.Close()

	w := parquet.NewGenericWriter[map[string]any](f, schema)
	if _, err := w.Write(rows); err != nil {
		return nil, fmt.Errorf("failed to write dataset rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close dataset writer: %w", err)
	}

	manifest := &Manifest{
		RunID:     uuid.New(),
		CreatedAt: time.Now().UTC(),
		Symbol:    ds.Symbol,
		Rule:      ds.Rule,
		Rows:      len(rows),
		Features:  ds.FeatureNames,
	}
	if err := writeManifest(path+".manifest.json", manifest); err != nil {
		return nil, err
	}

	log.Info().
		Str("run_id", manifest.RunID.String()).
		Str("path", path).
		Int("rows", manifest.Rows).
		Int("features", len(manifest.Features)).
		Msg("dataset written")
	return manifest, nil
}

func datasetSchema(featureNames []string) *parquet.Schema {
	group := parquet.Group{
		"bar_id":              parquet.Leaf(parquet.Int64Type),
		"start_time_us":       parquet.Leaf(parquet.Int64Type),
		"end_time_us":         parquet.Leaf(parquet.Int64Type),
		"open":                parquet.Leaf(parquet.DoubleType),
		"high":                parquet.Leaf(parquet.DoubleType),
		"low":                 parquet.Leaf(parquet.DoubleType),
		"close":               parquet.Leaf(parquet.DoubleType),
		"volume":              parquet.Leaf(parquet.DoubleType),
		"vwap":                parquet.Leaf(parquet.DoubleType),
		"trade_count":         parquet.Leaf(parquet.Int64Type),
		"bar_kind":            parquet.String(),
		"kind_parameter":      parquet.Leaf(parquet.DoubleType),
		"raw_return_bps":      parquet.Optional(parquet.Leaf(parquet.DoubleType)),
		"cost_bps":            parquet.Optional(parquet.Leaf(parquet.DoubleType)),
		"adjusted_return_bps": parquet.Optional(parquet.Leaf(parquet.DoubleType)),
		"class":               parquet.Optional(parquet.Leaf(parquet.Int64Type)),
		"clipped_return":      parquet.Optional(parquet.Leaf(parquet.DoubleType)),
		"as_of_bar_id":        parquet.Leaf(parquet.Int64Type),
	}
	for _, name := range featureNames {
		group["feature_"+name] = parquet.Optional(parquet.Leaf(parquet.DoubleType))
	}
	return parquet.NewSchema("tickpipe_dataset", group)
}

func datasetRow(b market.Bar, l market.Label, v market.FeatureVector, featureNames []string) map[string]any {
	row := map[string]any{
		"bar_id":         b.ID,
		"start_time_us":  b.StartTime.UnixMicro(),
		"end_time_us":    b.EndTime.UnixMicro(),
		"open":           b.Open,
		"high":           b.High,
		"low":            b.Low,
		"close":          b.Close,
		"volume":         b.Volume,
		"vwap":           b.VWAP,
		"trade_count":    int64(b.TradeCount),
		"bar_kind":       string(b.Kind),
		"kind_parameter": b.KindParam,
		"as_of_bar_id":   v.AsOfBar,
	}
	if l.IsValid {
		row["raw_return_bps"] = l.RawReturnBps
		row["cost_bps"] = l.CostBps
		row["adjusted_return_bps"] = l.AdjustedReturnBps
		row["class"] = int64(l.Class)
		row["clipped_return"] = l.ClippedReturn
	}
	for _, name := range featureNames {
		if v.Valid[name] {
			row["feature_"+name] = v.Values[name]
		}
	}
	return row
}

func writeManifest(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

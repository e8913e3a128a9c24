package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantforge/tickpipe/internal/config"
	"github.com/quantforge/tickpipe/internal/features"
	"github.com/quantforge/tickpipe/internal/ingest"
	"github.com/quantforge/tickpipe/internal/metrics"
	"github.com/quantforge/tickpipe/internal/pipeline"
)

func runLeakage(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	ticksPath, _ := cmd.Flags().GetString("ticks")
	asJSON, _ := cmd.Flags().GetBool("json")

	if ticksPath == "" {
		return fmt.Errorf("--ticks is required")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	p, err := pipeline.New(cfg, metrics.NewRegistry(), nil)
	if err != nil {
		return err
	}

	ticks, err := ingest.ReadTicksCSV(ticksPath)
	if err != nil {
		return err
	}
	ds, err := p.BuildDataset(ticks)
	if err != nil {
		return err
	}

	// The post-cutoff reference series is each bar's realized forward
	// return; bars without an observable horizon contribute zero.
	future := make([]float64, len(ds.Labels))
	for i := range ds.Labels {
		if ds.Labels[i].IsValid {
			future[i] = ds.Labels[i].RawReturnBps
		}
	}

	clean, report, err := features.ValidateNoLeakage(ds.Vectors, future)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	}

	if clean {
		log.Info().Int("features", report.Checked).Msg("no leakage detected")
		return nil
	}
	for _, f := range report.Findings {
		log.Error().
			Str("feature", f.Feature).
			Float64("future_corr", f.FutureCorr).
			Float64("past_corr", f.PastCorr).
			Msg("possible look-ahead leakage")
	}
	return fmt.Errorf("leakage validation flagged %d of %d features", len(report.Findings), report.Checked)
}

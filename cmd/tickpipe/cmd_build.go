package main

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantforge/tickpipe/internal/config"
	"github.com/quantforge/tickpipe/internal/metrics"
	"github.com/quantforge/tickpipe/internal/persistence/postgres"
	"github.com/quantforge/tickpipe/internal/pipeline"
)

func runBuild(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	ticksPath, _ := cmd.Flags().GetString("ticks")
	outPath, _ := cmd.Flags().GetString("out")
	dsn, _ := cmd.Flags().GetString("postgres")

	if ticksPath == "" {
		return fmt.Errorf("--ticks is required")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	var sink pipeline.BarSink
	if dsn != "" {
		db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
		if err != nil {
			return fmt.Errorf("postgres connect failed: %w", err)
		}
		defer db.Close()
		repo := postgres.NewRepo(db, 30*time.Second)
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		sink = repo
	}

	p, err := pipeline.New(cfg, metrics.NewRegistry(), sink)
	if err != nil {
		return err
	}
	res, err := p.Run(ctx, ticksPath, outPath)
	if err != nil {
		return err
	}

	log.Info().
		Str("run_id", res.Manifest.RunID.String()).
		Str("out", outPath).
		Int("bars", res.Bars).
		Int("valid_labels", res.Valid).
		Msg("dataset build complete")
	return nil
}

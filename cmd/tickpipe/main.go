package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "tickpipe"
	version = "v1.3.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Tick-to-dataset pipeline for supervised market models",
		Version: version,
		Long: `tickpipe turns raw trade ticks into training datasets: information-driven
bars, cost-aware labels and leakage-safe feature vectors.

  tickpipe build   --config config/pipeline.yaml --ticks ticks.csv --out ds.parquet
  tickpipe stream  --config config/pipeline.yaml --url wss://feed/ws
  tickpipe leakage --config config/pipeline.yaml --ticks ticks.csv`,
	}

	rootCmd.PersistentFlags().String("config", "config/pipeline.yaml", "Pipeline configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace|debug|info|warn|error)")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		levelName, _ := cmd.Flags().GetString("log-level")
		level, err := zerolog.ParseLevel(levelName)
		if err != nil {
			return fmt.Errorf("bad log level %q: %w", levelName, err)
		}
		zerolog.SetGlobalLevel(level)
		return nil
	}

	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Build a dataset from a tick file",
		Long:  "Reads a tick CSV, builds bars, labels and features, and writes a parquet dataset with a run manifest",
		RunE:  runBuild,
	}
	buildCmd.Flags().String("ticks", "", "Tick CSV file (required)")
	buildCmd.Flags().String("out", "dataset.parquet", "Output parquet path")
	buildCmd.Flags().String("postgres", "", "Optional Postgres DSN; bars and labels are also inserted there")

	streamCmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream live ticks into bars and features",
		Long:  "Subscribes to a WebSocket trade feed, closes bars incrementally, publishes the latest feature vector to Redis and serves health and metrics over HTTP",
		RunE:  runStream,
	}
	streamCmd.Flags().String("url", "", "WebSocket feed URL (required)")
	streamCmd.Flags().String("listen", ":8080", "HTTP listen address for /health, /metrics, /features")
	streamCmd.Flags().String("redis", "", "Optional Redis address for the latest-feature cache")
	streamCmd.Flags().Duration("cache-ttl", 10*time.Minute, "Feature cache TTL")

	leakageCmd := &cobra.Command{
		Use:   "leakage",
		Short: "Validate the configured features for look-ahead leakage",
		Long:  "Rebuilds the dataset from a tick file and checks every feature's correlation structure against future returns; exits non-zero when a feature is flagged",
		RunE:  runLeakage,
	}
	leakageCmd.Flags().String("ticks", "", "Tick CSV file (required)")
	leakageCmd.Flags().Bool("json", false, "Emit the report as JSON on stdout")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(leakageCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

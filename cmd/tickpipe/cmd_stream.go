package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantforge/tickpipe/internal/bars"
	"github.com/quantforge/tickpipe/internal/config"
	"github.com/quantforge/tickpipe/internal/ingest"
	httpserver "github.com/quantforge/tickpipe/internal/interfaces/http"
	"github.com/quantforge/tickpipe/internal/metrics"
	"github.com/quantforge/tickpipe/internal/persistence/rediscache"
)

func runStream(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	url, _ := cmd.Flags().GetString("url")
	listen, _ := cmd.Flags().GetString("listen")
	redisAddr, _ := cmd.Flags().GetString("redis")
	cacheTTL, _ := cmd.Flags().GetDuration("cache-ttl")

	if url == "" {
		return fmt.Errorf("--url is required")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	rule, err := cfg.Rule()
	if err != nil {
		return err
	}
	builder, err := bars.NewBuilder(rule, cfg.Symbol)
	if err != nil {
		return err
	}
	store, err := cfg.BuildStore()
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	store.OnExtractError(func(feature string, _ int64) {
		reg.ExtractErrors.WithLabelValues(feature).Inc()
	})

	var cache *rediscache.Cache
	if redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		cache = rediscache.New(client, cacheTTL)
		defer client.Close()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The cache doubles as the HTTP read model; without Redis the
	// endpoint just 404s.
	var vectors httpserver.VectorReader
	if cache != nil {
		vectors = cache
	}
	srv := httpserver.NewServer(listen, reg, vectors)
	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("http server failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	client := ingest.NewWSClient(ingest.WSConfig{
		URL:    url,
		Symbol: cfg.Symbol,
		Venue:  cfg.Venue,
	})
	go func() {
		if err := client.Run(ctx); err != nil {
			log.Error().Err(err).Msg("tick feed terminated")
		}
	}()

	log.Info().
		Str("symbol", cfg.Symbol).
		Str("rule", string(rule.Kind)).
		Str("listen", listen).
		Msg("streaming pipeline started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			return nil
		case tick, ok := <-client.Ticks():
			if !ok {
				return nil
			}
			reg.TicksConsumed.Inc()
			bar, err := builder.Push(tick)
			if err != nil {
				log.Warn().Err(err).Msg("tick rejected")
				continue
			}
			if bar == nil {
				continue
			}
			reg.BarsEmitted.WithLabelValues(string(rule.Kind)).Inc()
			reg.LastBarTime.Set(float64(bar.EndTime.Unix()))

			started := time.Now()
			vec, err := store.AddBar(*bar)
			if err != nil {
				log.Warn().Err(err).Int64("bar_id", bar.ID).Msg("feature extraction failed")
				continue
			}
			reg.ExtractDuration.Observe(time.Since(started).Seconds())

			if cache != nil {
				if err := cache.SetLatest(ctx, cfg.Symbol, vec); err != nil {
					log.Warn().Err(err).Msg("feature cache write failed")
				} else {
					reg.CacheWrites.Inc()
				}
			}
		}
	}
}

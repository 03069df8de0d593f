package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/heat-surveillance-etl/internal/adapter/csvfile"
	httpadapter "github.com/couchcryptid/heat-surveillance-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/heat-surveillance-etl/internal/adapter/kafka"
	"github.com/couchcryptid/heat-surveillance-etl/internal/config"
	"github.com/couchcryptid/heat-surveillance-etl/internal/domain"
	"github.com/couchcryptid/heat-surveillance-etl/internal/observability"
	"github.com/couchcryptid/heat-surveillance-etl/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	survCfg, err := surveillanceConfig(cfg, logger)
	if err != nil {
		logger.Error("failed to prepare surveillance", "error", err)
		os.Exit(1)
	}
	surveillance, err := pipeline.NewSurveillance(survCfg, logger, metrics)
	if err != nil {
		logger.Error("invalid surveillance configuration", "error", err)
		os.Exit(1)
	}

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	transformer := pipeline.NewTransformer(logger)

	p := pipeline.New(reader, transformer, surveillance, writer, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, nil, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	srvDone := make(chan struct{})
	go func() {
		defer close(srvDone)
		if err := srv.Run(ctx, cfg.ShutdownTimeout); err != nil {
			logger.Error("http server error", "error", err)
		}
	}()

	// Rebuild the rolling window, then start the ETL pipeline.
	go func() {
		if err := restoreState(ctx, cfg, transformer, surveillance, logger); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("state restore failed", "error", err)
			stop()
			return
		}
		if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	<-srvDone

	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}

// restoreState replays the retained source topic into the surveillance state
// so a restart resumes with the same windows and counts. Messages redelivered
// afterwards by the consumer group are recognized by their position.
func restoreState(ctx context.Context, cfg *config.Config, t pipeline.Transformer, s *pipeline.Surveillance, logger *slog.Logger) error {
	replayer, err := kafkaadapter.NewReplayer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := replayer.Close(); err != nil {
			logger.Warn("replay close error", "error", err)
		}
	}()

	_, err = pipeline.Warm(ctx, replayer, t, s, cfg.BatchSize, logger)
	return err
}

// surveillanceConfig loads the profile and, when a history file is configured,
// builds the corridor baseline from it.
func surveillanceConfig(cfg *config.Config, logger *slog.Logger) (pipeline.SurveillanceConfig, error) {
	sc := pipeline.SurveillanceConfig{
		Scheme:        cfg.AlertScheme,
		RetentionDays: cfg.RetentionDays,
		Filter:        domain.AggregateFilter{Band: domain.BandEightyPlus},
	}
	if cfg.ProfilePath == "" {
		logger.Info("no surveillance profile, corridor disabled", "scheme", cfg.AlertScheme)
		return sc, nil
	}

	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		return sc, err
	}
	sc.Filter = profile.Filter()
	sc.Populations = profile.Populations

	if !cfg.CorridorEnabled() {
		logger.Info("no history file, corridor disabled", "scheme", cfg.AlertScheme)
		return sc, nil
	}

	corridor, err := profile.Corridor(cfg.AlertMultiplier)
	if err != nil {
		return sc, err
	}
	history, faults, err := csvfile.LoadDailyCounts(cfg.HistoryPath)
	if err != nil {
		return sc, err
	}
	for _, f := range faults {
		logger.Warn("history record rejected", "ref", f.Ref, "error", f.Err)
	}

	baseline, faults := domain.BuildBaseline(history, profile.Populations, profile.ExcludedSeasons)
	for _, f := range faults {
		logger.Warn("history record not pooled", "date", domain.FormatDate(f.Date), "error", f.Err)
	}
	if baseline.Len() == 0 {
		return sc, errors.New("history file produced an empty baseline")
	}

	sc.Baseline = &baseline
	sc.Corridor = corridor
	logger.Info("corridor enabled",
		"history", cfg.HistoryPath,
		"season_days", baseline.Len(),
		"width_computable", baseline.WidthComputable(),
		"alert_multiplier", corridor.AlertMultiplier,
		"age_band", profile.AgeBand,
	)
	return sc, nil
}

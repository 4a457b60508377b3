package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"poolEngine/internal/aggregate"
	"poolEngine/internal/config"
	"poolEngine/internal/service"
	"poolEngine/internal/storage/kv"
	"poolEngine/internal/storage/postgres"
)

func newAggregateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Aggregate operation history into window stats",
		RunE:  runAggregate,
	}
	cmd.Flags().String("in", "", "input operation history JSONL, defaults to --history-out")
	cmd.Flags().String("window", "5m", "aggregation window (e.g. 1m, 5m, 1h)")
	cmd.Flags().Int("batch-size", 1000, "batch size for DB writes")
	cmd.Flags().String("state-file", "", "optional local state file for progress tracking")
	cmd.Flags().String("recompute-from", "", "recompute from timestamp (unix seconds or RFC3339)")
	return cmd
}

func runAggregate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadAggregate(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Input == "" {
		return fmt.Errorf("input path is required")
	}
	windowSeconds, err := cfg.WindowSeconds()
	if err != nil {
		return err
	}
	recomputeFrom, err := config.ParseTimestamp(cfg.RecomputeFrom)
	if err != nil {
		return fmt.Errorf("parse recompute-from: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pools := loadPoolMeta(ctx, cfg.DataDir, logger)

	var (
		writer     aggregate.Writer
		stateStore aggregate.StateStore
		stateName  = fmt.Sprintf("aggregator:%d", windowSeconds)
	)
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN, postgres.Options{
			ConnectRetries: cfg.ConnectRetries,
			RetryDelay:     cfg.RetryBackoff,
		})
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		writer = store
		stateStore = &aggregate.DBStateStore{Store: store, Name: stateName}
	} else {
		writer = aggregate.NewJSONWriter(cmd.OutOrStdout())
	}
	if cfg.StateFile != "" {
		stateStore = &aggregate.FileStateStore{Path: cfg.StateFile, Name: stateName}
	}

	agg := aggregate.NewAggregator(aggregate.Config{
		WindowSeconds: windowSeconds,
		BatchSize:     cfg.BatchSize,
		RecomputeFrom: recomputeFrom,
		StateStore:    stateStore,
	}, writer, pools, logger)

	logger.Info("aggregate start",
		zap.String("input", cfg.Input),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.Uint64("window_seconds", windowSeconds),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Uint64("recompute_from", recomputeFrom),
	)

	return agg.Run(ctx, cfg.Input)
}

// loadPoolMeta reads pool decimals from the state store. A store held by a
// running server cannot be opened; amounts are then left unscaled.
func loadPoolMeta(ctx context.Context, dir string, logger *zap.Logger) *aggregate.PoolMetaCache {
	store, err := kv.Open(dir)
	if err != nil {
		logger.Warn("pool metadata unavailable", zap.Error(err))
		return aggregate.NewPoolMetaCache()
	}
	defer store.Close()

	svc, err := service.Open(ctx, store, service.Options{Logger: logger})
	if err != nil {
		logger.Warn("pool metadata unavailable", zap.Error(err))
		return aggregate.NewPoolMetaCache()
	}
	return svc.PoolMeta()
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"poolEngine/internal/config"
	"poolEngine/internal/engine"
	"poolEngine/internal/service"
	"poolEngine/internal/storage"
	"poolEngine/internal/storage/kv"
	"poolEngine/internal/storage/postgres"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "poolctl",
		Short:        "Liquidity pool engine",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file path")
	flags.String("data-dir", "./data/state", "pool state directory")
	flags.String("pg-dsn", "", "Postgres DSN for operation history (optional)")
	flags.String("history-out", "./data/operations.jsonl", "operation history JSONL path, empty to disable")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		newActivateCmd(),
		newPutCmd(),
		newGetCmd(),
		newPutOneCmd(),
		newGetOneCmd(),
		newQuoteCmd(),
		newRefreshKLpCmd(),
		newSetAmpCmd(),
		newDisableSingleCmd(),
		newShowCmd(),
		newHistoryCmd(),
		newBackfillCmd(),
		newAggregateCmd(),
		newServeCmd(),
	)
	return root
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	return config.Load(cfgFile, cmd.Flags())
}

// runtime bundles what a command needs to operate on pools.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	store  *kv.Store
	pg     *postgres.Store
	svc    *service.Service
}

// openRuntime opens the state store, the configured history sinks and the
// pool service. Extra observers are attached to every engine.
func openRuntime(ctx context.Context, cfg config.Config, observers ...engine.Observer) (*runtime, error) {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger}

	rt.store, err = kv.Open(cfg.DataDir)
	if err != nil {
		rt.Close()
		return nil, err
	}

	var sinks []storage.Sink
	if cfg.HistoryOut != "" {
		sinks = append(sinks, storage.NewJsonlSink(cfg.HistoryOut))
	}
	if cfg.PGDSN != "" {
		rt.pg, err = postgres.NewStore(ctx, cfg.PGDSN, postgres.Options{
			ConnectRetries: cfg.ConnectRetries,
			RetryDelay:     cfg.RetryBackoff,
		})
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := rt.pg.Migrate(ctx); err != nil {
			rt.Close()
			return nil, err
		}
		sinks = append(sinks, rt.pg)
	}

	rt.svc, err = service.Open(ctx, rt.store, service.Options{
		Logger:    logger,
		Sinks:     sinks,
		Observers: observers,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}

	logger.Debug("runtime open",
		zap.String("data_dir", cfg.DataDir),
		zap.String("history_out", cfg.HistoryOut),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
	)
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.svc != nil {
		if err := rt.svc.Close(); err != nil {
			rt.logger.Warn("close history sinks", zap.Error(err))
		}
	}
	if rt.pg != nil {
		rt.pg.Close()
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Warn("close state store", zap.Error(err))
		}
	}
	_ = rt.logger.Sync()
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

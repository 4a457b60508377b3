package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"poolEngine/internal/api"
	"poolEngine/internal/config"
	"poolEngine/internal/metrics"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and websocket API",
		RunE:  runServe,
	}
	cmd.Flags().String("listen", ":8080", "listen address")
	cmd.Flags().Duration("shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadServe(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := metrics.New()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	hub := api.NewHub(logger)

	rt, err := openRuntime(ctx, cfg.Config, m, hub)
	if err != nil {
		return err
	}
	defer rt.Close()

	for _, st := range rt.svc.Pools() {
		m.Observe(st.ID, st.ReserveA, st.ReserveB, st.ShareSupply, st.PriceLast)
	}

	srv := api.NewServer(rt.svc, hub, m.Registry(), cfg.Listen, rt.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		rt.logger.Info("api shutting down")
		return srv.Stop(shutdownCtx)
	})

	rt.logger.Info("serve start",
		zap.String("listen", cfg.Listen),
		zap.Int("pools", len(rt.svc.Pools())),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
	)
	return g.Wait()
}

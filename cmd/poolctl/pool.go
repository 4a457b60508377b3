package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"poolEngine/internal/config"
	"poolEngine/internal/model"
	"poolEngine/internal/pool"
)

var errBackfillNeedsPG = errors.New("backfill requires --pg-dsn")

func addEnvFlags(cmd *cobra.Command) {
	cmd.Flags().String("caller", "", "calling account")
	cmd.Flags().String("tx", "", "transaction id, derived when empty")
	cmd.Flags().Uint64("height", 0, "ledger height of the invocation")
	cmd.Flags().String("ts", "", "ledger timestamp (unix seconds or RFC3339)")
}

func envFrom(cmd *cobra.Command) (model.Env, error) {
	caller, _ := cmd.Flags().GetString("caller")
	tx, _ := cmd.Flags().GetString("tx")
	height, _ := cmd.Flags().GetUint64("height")
	rawTs, _ := cmd.Flags().GetString("ts")
	ts, err := config.ParseTimestamp(rawTs)
	if err != nil {
		return model.Env{}, fmt.Errorf("parse ts: %w", err)
	}
	return model.Env{Caller: caller, TxID: tx, Height: height, Timestamp: ts}, nil
}

// withRuntime loads config, opens the runtime and runs fn under a signal-aware context.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func newActivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Activate a new pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, _ := cmd.Flags().GetString("id")
			assetA, _ := cmd.Flags().GetString("asset-a")
			assetB, _ := cmd.Flags().GetString("asset-b")
			decA, _ := cmd.Flags().GetUint8("decimals-a")
			decB, _ := cmd.Flags().GetUint8("decimals-b")
			share, _ := cmd.Flags().GetString("share-asset")

			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				rate, scale := rt.cfg.PoolDefaults()
				st, err := rt.svc.Activate(ctx, pool.Config{
					ID:            id,
					AssetA:        model.Asset{ID: assetA, Decimals: decA},
					AssetB:        model.Asset{ID: assetB, Decimals: decB},
					ShareAsset:    share,
					FeeRate:       rate,
					FeeScale:      scale,
					Amplification: rt.cfg.Amplification,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
	cmd.Flags().String("id", "", "pool id")
	cmd.Flags().String("asset-a", "", "asset A id")
	cmd.Flags().Uint8("decimals-a", 8, "asset A decimals")
	cmd.Flags().String("asset-b", "", "asset B id")
	cmd.Flags().Uint8("decimals-b", 8, "asset B decimals")
	cmd.Flags().String("share-asset", "", "share asset id, defaults to <id>LP")
	cmd.Flags().Int64("fee-rate", -1, "fee rate in fee-scale units, -1 for 0.1%")
	cmd.Flags().Int64("fee-scale", pool.DefaultFeeScale, "fee scale")
	cmd.Flags().Bool("legacy-fee", false, "express fees per mille")
	cmd.Flags().Uint64("amplification", 0, "amplification coefficient, >0 selects the stable curve")
	return cmd
}

func newDisableSingleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disable-single",
		Short: "Toggle the single-asset operations flag of a pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, _ := cmd.Flags().GetString("id")
			disabled, _ := cmd.Flags().GetBool("disabled")
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				return rt.svc.SetSingleAssetDisabled(ctx, id, disabled)
			})
		},
	}
	cmd.Flags().String("id", "", "pool id")
	cmd.Flags().Bool("disabled", true, "false re-enables single-asset operations")
	return cmd
}

func newSetAmpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-amp",
		Short: "Update the amplification of a stable pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, _ := cmd.Flags().GetString("id")
			amp, _ := cmd.Flags().GetUint64("amp")
			env, err := envFrom(cmd)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				eng, err := rt.svc.Engine(id)
				if err != nil {
					return err
				}
				if err := eng.SetAmplification(ctx, env, amp); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), eng.State())
			})
		},
	}
	cmd.Flags().String("id", "", "pool id")
	cmd.Flags().Uint64("amp", 0, "new amplification coefficient")
	addEnvFlags(cmd)
	return cmd
}

func newRefreshKLpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh-klp",
		Short: "Recompute the cached invariant per share",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, _ := cmd.Flags().GetString("id")
			env, err := envFrom(cmd)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				eng, err := rt.svc.Engine(id)
				if err != nil {
					return err
				}
				k, err := eng.RefreshKLp(ctx, env)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"pool": id, "k_lp": k.String(), "height": env.Height})
			})
		},
	}
	cmd.Flags().String("id", "", "pool id")
	addEnvFlags(cmd)
	return cmd
}

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print pool state, all pools when --id is empty",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, _ := cmd.Flags().GetString("id")
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				if id == "" {
					return printJSON(cmd.OutOrStdout(), rt.svc.Pools())
				}
				eng, err := rt.svc.Engine(id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), eng.State())
			})
		},
	}
	cmd.Flags().String("id", "", "pool id")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print position or price history of a pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, _ := cmd.Flags().GetString("id")
			user, _ := cmd.Flags().GetString("user")
			prices, _ := cmd.Flags().GetBool("prices")
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				eng, err := rt.svc.Engine(id)
				if err != nil {
					return err
				}
				st := eng.State()
				if prices {
					return printJSON(cmd.OutOrStdout(), st.PriceHistory)
				}
				out := make([]model.Position, 0, len(st.Positions))
				for _, key := range st.PositionKeys() {
					if p := st.Positions[key]; user == "" || p.User == user {
						out = append(out, p)
					}
				}
				rt.logger.Debug("history", zap.String("pool", id), zap.Int("positions", len(out)))
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().String("id", "", "pool id")
	cmd.Flags().String("user", "", "only positions of this user")
	cmd.Flags().Bool("prices", false, "print price history instead of positions")
	return cmd
}

func newBackfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Write pool metadata and full price histories to Postgres",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				if rt.pg == nil {
					return errBackfillNeedsPG
				}
				n, err := rt.svc.Backfill(ctx, rt.pg)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]int{"prices": n})
			})
		},
	}
}

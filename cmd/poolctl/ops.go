package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"poolEngine/internal/curve"
	"poolEngine/internal/engine"
	"poolEngine/internal/model"
)

// parsePayments reads ASSET=AMOUNT pairs.
func parsePayments(items []string) ([]model.Payment, error) {
	out := make([]model.Payment, 0, len(items))
	for _, item := range items {
		asset, raw, ok := strings.Cut(strings.TrimSpace(item), "=")
		if !ok || asset == "" {
			return nil, fmt.Errorf("payment %q must be ASSET=AMOUNT", item)
		}
		amount, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("payment %q: %w", item, err)
		}
		out = append(out, model.Payment{AssetID: asset, Amount: amount})
	}
	return out, nil
}

// opFunc runs one entry operation on a resolved engine.
type opFunc func(ctx context.Context, eng *engine.Engine, env model.Env, payments []model.Payment) (engine.Result, error)

func newOpCmd(use, short string, run opFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, _ := cmd.Flags().GetString("id")
			rawPay, _ := cmd.Flags().GetStringSlice("pay")
			payments, err := parsePayments(rawPay)
			if err != nil {
				return err
			}
			env, err := envFrom(cmd)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				eng, err := rt.svc.Engine(id)
				if err != nil {
					return err
				}
				res, err := run(ctx, eng, env, payments)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().String("id", "", "pool id")
	cmd.Flags().StringSlice("pay", nil, "attached payments as ASSET=AMOUNT (repeatable)")
	addEnvFlags(cmd)
	return cmd
}

func newPutCmd() *cobra.Command {
	var p engine.PutParams
	cmd := newOpCmd("put", "Deposit both assets",
		func(ctx context.Context, eng *engine.Engine, env model.Env, payments []model.Payment) (engine.Result, error) {
			return eng.Put(ctx, env, payments, p)
		})
	cmd.Flags().Int64Var(&p.MinSharesOut, "min-shares", 0, "minimum shares to mint")
	cmd.Flags().Int64Var(&p.SlippageToleranceBp, "slippage-bp", 0, "tolerated ratio deviation in basis points, 0 rejects beyond dust")
	cmd.Flags().BoolVar(&p.AutoStake, "auto-stake", false, "stake minted shares for the caller")
	return cmd
}

func newGetCmd() *cobra.Command {
	var p engine.GetParams
	cmd := newOpCmd("get", "Burn shares for both assets",
		func(ctx context.Context, eng *engine.Engine, env model.Env, payments []model.Payment) (engine.Result, error) {
			return eng.Get(ctx, env, payments, p)
		})
	cmd.Flags().Int64Var(&p.MinAmountA, "min-a", 0, "minimum amount of asset A")
	cmd.Flags().Int64Var(&p.MinAmountB, "min-b", 0, "minimum amount of asset B")
	return cmd
}

func isStable(eng *engine.Engine) bool {
	return eng.Curve().Kind == curve.Stable
}

func newPutOneCmd() *cobra.Command {
	var p engine.PutOneParams
	cmd := newOpCmd("put-one", "Deposit a single asset",
		func(ctx context.Context, eng *engine.Engine, env model.Env, payments []model.Payment) (engine.Result, error) {
			if isStable(eng) {
				return eng.PutOneTknV2(ctx, env, payments, p)
			}
			return eng.PutOneTkn(ctx, env, payments, p)
		})
	cmd.Flags().Int64Var(&p.MinSharesOut, "min-shares", 0, "minimum shares to mint")
	cmd.Flags().BoolVar(&p.AutoStake, "auto-stake", false, "stake minted shares for the caller")
	return cmd
}

func newGetOneCmd() *cobra.Command {
	var p engine.GetOneParams
	cmd := newOpCmd("get-one", "Burn shares for a single asset",
		func(ctx context.Context, eng *engine.Engine, env model.Env, payments []model.Payment) (engine.Result, error) {
			if isStable(eng) {
				return eng.GetOneTknV2(ctx, env, payments, p)
			}
			return eng.GetOneTkn(ctx, env, payments, p)
		})
	cmd.Flags().StringVar(&p.AssetOut, "asset-out", "", "asset to withdraw")
	cmd.Flags().Int64Var(&p.MinAmountOut, "min-out", 0, "minimum amount out")
	return cmd
}

func newQuoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quote <put|get|put-one|get-one>",
		Short: "Evaluate an operation without committing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			amountA, _ := cmd.Flags().GetInt64("amount-a")
			amountB, _ := cmd.Flags().GetInt64("amount-b")
			shares, _ := cmd.Flags().GetInt64("shares")
			asset, _ := cmd.Flags().GetString("asset")
			amount, _ := cmd.Flags().GetInt64("amount")
			noFee, _ := cmd.Flags().GetBool("no-fee")
			kind := args[0]

			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				eng, err := rt.svc.Engine(id)
				if err != nil {
					return err
				}
				var q any
				switch kind {
				case "put":
					q, err = eng.EstimatePut(ctx, amountA, amountB, rt.cfg.SlippageBp)
				case "get":
					q, err = eng.EstimateGet(ctx, shares)
				case "put-one":
					q, err = eng.QuotePutOne(ctx, asset, amount, !noFee)
				case "get-one":
					q, err = eng.QuoteGetOne(ctx, asset, shares)
				default:
					return fmt.Errorf("unknown quote %q", kind)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), q)
			})
		},
	}
	cmd.Flags().String("id", "", "pool id")
	cmd.Flags().Int64("amount-a", 0, "asset A amount (put)")
	cmd.Flags().Int64("amount-b", 0, "asset B amount (put)")
	cmd.Flags().Int64("slippage-bp", 0, "tolerated ratio deviation in basis points (put)")
	cmd.Flags().Int64("shares", 0, "shares to burn (get, get-one)")
	cmd.Flags().String("asset", "", "asset in or out (put-one, get-one)")
	cmd.Flags().Int64("amount", 0, "amount in (put-one)")
	cmd.Flags().Bool("no-fee", false, "size the deposit on the gross amount (put-one)")
	return cmd
}

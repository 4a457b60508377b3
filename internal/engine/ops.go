package engine

import (
	"context"
	"fmt"

	"poolEngine/internal/curve"
	"poolEngine/internal/gateway"
	"poolEngine/internal/model"
	"poolEngine/internal/pool"
)

// PutParams are the options of a symmetric deposit.
type PutParams struct {
	MinSharesOut int64
	// SlippageToleranceBp of 0 rejects anything beyond dust.
	SlippageToleranceBp int64
	AutoStake           bool
}

// GetParams are the options of a symmetric withdrawal.
type GetParams struct {
	MinAmountA int64
	MinAmountB int64
}

// PutOneParams are the options of a single-asset deposit.
type PutOneParams struct {
	MinSharesOut int64
	AutoStake    bool
}

// GetOneParams are the options of a single-asset withdrawal.
type GetOneParams struct {
	AssetOut     string
	MinAmountOut int64
}

var (
	constantProduct = curve.ConstantProduct
	stable          = curve.Stable
)

// Put deposits both assets and mints shares. The first deposit seeds the pool.
func (e *Engine) Put(ctx context.Context, env model.Env, payments []model.Payment, p PutParams) (Result, error) {
	desc := opSpec{name: model.OpPut, tag: model.TagPut}
	return e.run(ctx, env, desc, func(ctx context.Context, next *pool.State, sess gateway.Session) (Result, error) {
		amountA, amountB, err := pairPayments(next, payments)
		if err != nil {
			return Result{}, err
		}
		if p.MinSharesOut < 0 || p.SlippageToleranceBp < 0 {
			return Result{}, fmt.Errorf("%w: negative parameter", ErrInvalidPayment)
		}
		m, err := e.curve.MintSymmetric(next, amountA, amountB, p.SlippageToleranceBp)
		if err != nil {
			return Result{}, err
		}
		if m.Shares < p.MinSharesOut {
			return Result{}, fmt.Errorf("%w: %d shares < %d", ErrBelowMinOut, m.Shares, p.MinSharesOut)
		}
		m.Apply(next)

		res := Result{
			Shares:  m.Shares,
			AmountA: m.ReserveA,
			AmountB: m.ReserveB,
			ExcessA: m.EscrowA,
			ExcessB: m.EscrowB,
		}
		if m.EscrowA > 0 {
			if err := sess.DepositSlippage(ctx, next.AssetA.ID, m.EscrowA); err != nil {
				return Result{}, external(gateway.CallDepositSlippage, err)
			}
		}
		if m.EscrowB > 0 {
			if err := sess.DepositSlippage(ctx, next.AssetB.ID, m.EscrowB); err != nil {
				return Result{}, external(gateway.CallDepositSlippage, err)
			}
		}
		if err := e.deliverShares(ctx, sess, next, env, p.AutoStake, &res); err != nil {
			return Result{}, err
		}
		return res, nil
	})
}

// Get burns shares and returns both assets proportionally, without fee.
func (e *Engine) Get(ctx context.Context, env model.Env, payments []model.Payment, p GetParams) (Result, error) {
	desc := opSpec{name: model.OpGet, tag: model.TagGet}
	return e.run(ctx, env, desc, func(ctx context.Context, next *pool.State, sess gateway.Session) (Result, error) {
		shares, err := sharePayment(next, payments)
		if err != nil {
			return Result{}, err
		}
		b, err := e.curve.BurnSymmetric(next, shares)
		if err != nil {
			return Result{}, err
		}
		if b.AmountA < p.MinAmountA || b.AmountB < p.MinAmountB {
			return Result{}, fmt.Errorf("%w: got %d/%d, want %d/%d",
				ErrBelowMinOut, b.AmountA, b.AmountB, p.MinAmountA, p.MinAmountB)
		}
		b.Apply(next)

		if err := sess.BurnShare(ctx, next.ID, shares); err != nil {
			return Result{}, external(gateway.CallBurnShare, err)
		}
		res := Result{Shares: shares, AmountA: b.AmountA, AmountB: b.AmountB}
		res.Transfers = appendTransfer(res.Transfers, env.Caller, next.AssetA.ID, b.AmountA)
		res.Transfers = appendTransfer(res.Transfers, env.Caller, next.AssetB.ID, b.AmountB)
		return res, nil
	})
}

// PutOneTkn is the single-asset deposit of a constant-product pool.
func (e *Engine) PutOneTkn(ctx context.Context, env model.Env, payments []model.Payment, p PutOneParams) (Result, error) {
	return e.putOne(ctx, env, payments, p, opSpec{name: model.OpPutOneTkn, tag: model.TagPut, single: true, kind: &constantProduct})
}

// PutOneTknV2 is the single-asset deposit of a stable pool.
func (e *Engine) PutOneTknV2(ctx context.Context, env model.Env, payments []model.Payment, p PutOneParams) (Result, error) {
	return e.putOne(ctx, env, payments, p, opSpec{name: model.OpPutOneTknV2, tag: model.TagPut, single: true, kind: &stable})
}

// GetOneTkn is the single-asset withdrawal of a constant-product pool.
func (e *Engine) GetOneTkn(ctx context.Context, env model.Env, payments []model.Payment, p GetOneParams) (Result, error) {
	return e.getOne(ctx, env, payments, p, opSpec{name: model.OpGetOneTkn, tag: model.TagGet, single: true, kind: &constantProduct})
}

// GetOneTknV2 is the single-asset withdrawal of a stable pool.
func (e *Engine) GetOneTknV2(ctx context.Context, env model.Env, payments []model.Payment, p GetOneParams) (Result, error) {
	return e.getOne(ctx, env, payments, p, opSpec{name: model.OpGetOneTknV2, tag: model.TagGet, single: true, kind: &stable})
}

func (e *Engine) putOne(ctx context.Context, env model.Env, payments []model.Payment, p PutOneParams, desc opSpec) (Result, error) {
	return e.run(ctx, env, desc, func(ctx context.Context, next *pool.State, sess gateway.Session) (Result, error) {
		if len(payments) != 1 {
			return Result{}, fmt.Errorf("%w: expected one payment, got %d", ErrInvalidPayment, len(payments))
		}
		pay := payments[0]
		index, ok := next.AssetIndex(pay.AssetID)
		if !ok {
			return Result{}, fmt.Errorf("%w: asset %s not in pool", ErrInvalidPayment, pay.AssetID)
		}
		if pay.Amount <= 0 || p.MinSharesOut < 0 {
			return Result{}, fmt.Errorf("%w: amount %d", ErrInvalidPayment, pay.Amount)
		}
		m, err := e.curve.MintSingle(next, index, pay.Amount, true)
		if err != nil {
			return Result{}, err
		}
		if m.Shares < p.MinSharesOut {
			return Result{}, fmt.Errorf("%w: %d shares < %d", ErrBelowMinOut, m.Shares, p.MinSharesOut)
		}
		m.Apply(next)

		res := Result{Shares: m.Shares, Fee: m.Fee}
		if index == 0 {
			res.AmountA = pay.Amount
		} else {
			res.AmountB = pay.Amount
		}
		if m.Fee > 0 {
			if err := sess.CollectFee(ctx, pay.AssetID, m.Fee); err != nil {
				return Result{}, external(gateway.CallCollectFee, err)
			}
		}
		if err := e.deliverShares(ctx, sess, next, env, p.AutoStake, &res); err != nil {
			return Result{}, err
		}
		return res, nil
	})
}

func (e *Engine) getOne(ctx context.Context, env model.Env, payments []model.Payment, p GetOneParams, desc opSpec) (Result, error) {
	return e.run(ctx, env, desc, func(ctx context.Context, next *pool.State, sess gateway.Session) (Result, error) {
		shares, err := sharePayment(next, payments)
		if err != nil {
			return Result{}, err
		}
		index, ok := next.AssetIndex(p.AssetOut)
		if !ok {
			return Result{}, fmt.Errorf("%w: asset %s not in pool", ErrInvalidPayment, p.AssetOut)
		}
		b, err := e.curve.BurnSingle(next, shares, index)
		if err != nil {
			return Result{}, err
		}
		if b.Amount < p.MinAmountOut {
			return Result{}, fmt.Errorf("%w: %d < %d", ErrBelowMinOut, b.Amount, p.MinAmountOut)
		}
		b.Apply(next)

		if err := sess.BurnShare(ctx, next.ID, shares); err != nil {
			return Result{}, external(gateway.CallBurnShare, err)
		}
		if b.Fee > 0 {
			if err := sess.CollectFee(ctx, p.AssetOut, b.Fee); err != nil {
				return Result{}, external(gateway.CallCollectFee, err)
			}
		}
		res := Result{Shares: shares, Fee: b.Fee}
		if index == 0 {
			res.AmountA = b.Amount
		} else {
			res.AmountB = b.Amount
		}
		res.Transfers = appendTransfer(res.Transfers, env.Caller, p.AssetOut, b.Amount)
		return res, nil
	})
}

// deliverShares mints res.Shares and either stakes them for the caller or
// transfers them out.
func (e *Engine) deliverShares(ctx context.Context, sess gateway.Session, next *pool.State, env model.Env, autoStake bool, res *Result) error {
	if err := sess.MintShare(ctx, next.ID, res.Shares); err != nil {
		return external(gateway.CallMintShare, err)
	}
	if autoStake {
		if err := sess.Stake(ctx, next.ID, res.Shares, env.Caller); err != nil {
			return external(gateway.CallStake, err)
		}
		res.Staked = true
		return nil
	}
	res.Transfers = appendTransfer(res.Transfers, env.Caller, next.ShareAsset, res.Shares)
	return nil
}

// pairPayments extracts the amount of each pool asset, in any order. A side
// with no payment counts as 0.
func pairPayments(st *pool.State, payments []model.Payment) (int64, int64, error) {
	if len(payments) == 0 || len(payments) > 2 {
		return 0, 0, fmt.Errorf("%w: expected one or two payments, got %d", ErrInvalidPayment, len(payments))
	}
	var amounts [2]int64
	var seen [2]bool
	for _, pay := range payments {
		index, ok := st.AssetIndex(pay.AssetID)
		if !ok {
			return 0, 0, fmt.Errorf("%w: asset %s not in pool", ErrInvalidPayment, pay.AssetID)
		}
		if seen[index] {
			return 0, 0, fmt.Errorf("%w: duplicate payment of %s", ErrInvalidPayment, pay.AssetID)
		}
		if pay.Amount < 0 {
			return 0, 0, fmt.Errorf("%w: negative amount of %s", ErrInvalidPayment, pay.AssetID)
		}
		seen[index] = true
		amounts[index] = pay.Amount
	}
	if amounts[0] == 0 && amounts[1] == 0 {
		return 0, 0, fmt.Errorf("%w: both amounts are zero", ErrInvalidPayment)
	}
	return amounts[0], amounts[1], nil
}

// sharePayment extracts the share amount attached to a withdrawal.
func sharePayment(st *pool.State, payments []model.Payment) (int64, error) {
	if len(payments) != 1 {
		return 0, fmt.Errorf("%w: expected one share payment, got %d", ErrInvalidPayment, len(payments))
	}
	pay := payments[0]
	if pay.AssetID != st.ShareAsset {
		return 0, fmt.Errorf("%w: expected %s, got %s", ErrInvalidPayment, st.ShareAsset, pay.AssetID)
	}
	if pay.Amount <= 0 {
		return 0, fmt.Errorf("%w: share amount %d", ErrInvalidPayment, pay.Amount)
	}
	return pay.Amount, nil
}

func appendTransfer(transfers []model.Transfer, to, assetID string, amount int64) []model.Transfer {
	if amount <= 0 {
		return transfers
	}
	return append(transfers, model.Transfer{Recipient: to, AssetID: assetID, Amount: amount})
}

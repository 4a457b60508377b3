package engine

import (
	"context"
	"fmt"

	"poolEngine/internal/curve"
)

// PutQuote is the outcome of a symmetric deposit without committing it.
type PutQuote struct {
	Shares  int64 `json:"shares"`
	AmountA int64 `json:"amount_a"`
	AmountB int64 `json:"amount_b"`
	ExcessA int64 `json:"excess_a"`
	ExcessB int64 `json:"excess_b"`
}

// GetQuote is the outcome of a symmetric withdrawal without committing it.
type GetQuote struct {
	AmountA int64 `json:"amount_a"`
	AmountB int64 `json:"amount_b"`
}

// PutOneQuote is the outcome of a single-asset deposit.
type PutOneQuote struct {
	Shares int64 `json:"shares"`
	Fee    int64 `json:"fee"`
	Bonus  int64 `json:"bonus"`
}

// GetOneQuote is the outcome of a single-asset withdrawal.
type GetOneQuote struct {
	Amount int64 `json:"amount"`
	Fee    int64 `json:"fee"`
	Loss   int64 `json:"loss"`
}

// readonly runs fn under the pool lock on a private copy of the state.
func (e *Engine) readonly(ctx context.Context, fn func(c curve.Curve) error) error {
	if _, err := e.enter(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.st.Activated {
		return ErrNotActivated
	}
	return classify(fn(e.curve))
}

// EstimatePut quotes a symmetric deposit.
func (e *Engine) EstimatePut(ctx context.Context, amountA, amountB, tolBp int64) (PutQuote, error) {
	var q PutQuote
	err := e.readonly(ctx, func(c curve.Curve) error {
		m, err := c.MintSymmetric(e.st, amountA, amountB, tolBp)
		if err != nil {
			return err
		}
		q = PutQuote{Shares: m.Shares, AmountA: m.ReserveA, AmountB: m.ReserveB, ExcessA: m.EscrowA, ExcessB: m.EscrowB}
		return nil
	})
	return q, err
}

// EstimateGet quotes a symmetric withdrawal.
func (e *Engine) EstimateGet(ctx context.Context, shares int64) (GetQuote, error) {
	var q GetQuote
	err := e.readonly(ctx, func(c curve.Curve) error {
		b, err := c.BurnSymmetric(e.st, shares)
		if err != nil {
			return err
		}
		q = GetQuote{AmountA: b.AmountA, AmountB: b.AmountB}
		return nil
	})
	return q, err
}

// QuotePutOne quotes a single-asset deposit on either curve. With takeFee
// false the fee is reported but the mint is sized on the gross amount.
func (e *Engine) QuotePutOne(ctx context.Context, assetIn string, amount int64, takeFee bool) (PutOneQuote, error) {
	var q PutOneQuote
	err := e.readonly(ctx, func(c curve.Curve) error {
		index, ok := e.st.AssetIndex(assetIn)
		if !ok {
			return fmt.Errorf("%w: asset %s not in pool", ErrInvalidPayment, assetIn)
		}
		m, err := c.MintSingle(e.st, index, amount, takeFee)
		if err != nil {
			return err
		}
		q = PutOneQuote{Shares: m.Shares, Fee: m.Fee, Bonus: m.Bonus}
		return nil
	})
	return q, err
}

// QuoteGetOne quotes a single-asset withdrawal on either curve.
func (e *Engine) QuoteGetOne(ctx context.Context, assetOut string, shares int64) (GetOneQuote, error) {
	var q GetOneQuote
	err := e.readonly(ctx, func(c curve.Curve) error {
		index, ok := e.st.AssetIndex(assetOut)
		if !ok {
			return fmt.Errorf("%w: asset %s not in pool", ErrInvalidPayment, assetOut)
		}
		b, err := c.BurnSingle(e.st, shares, index)
		if err != nil {
			return err
		}
		q = GetOneQuote{Amount: b.Amount, Fee: b.Fee, Loss: b.Loss}
		return nil
	})
	return q, err
}

// GetOneTknV2READONLY quotes GetOneTknV2 on a stable pool.
func (e *Engine) GetOneTknV2READONLY(ctx context.Context, assetOut string, shares int64) (GetOneQuote, error) {
	if c := e.Curve(); c.Kind != curve.Stable {
		return GetOneQuote{}, fmt.Errorf("%w: getOneTknV2READONLY on %s pool", ErrVariantMismatch, c)
	}
	return e.QuoteGetOne(ctx, assetOut, shares)
}

// PutOneTknV2WithoutTakeFeeREADONLY quotes PutOneTknV2 on a stable pool
// sized on the gross amount.
func (e *Engine) PutOneTknV2WithoutTakeFeeREADONLY(ctx context.Context, assetIn string, amount int64) (PutOneQuote, error) {
	if c := e.Curve(); c.Kind != curve.Stable {
		return PutOneQuote{}, fmt.Errorf("%w: putOneTknV2WithoutTakeFeeREADONLY on %s pool", ErrVariantMismatch, c)
	}
	return e.QuotePutOne(ctx, assetIn, amount, false)
}

package gateway

import (
	"context"
	"errors"
)

// Call names, used for failure injection and hooks.
const (
	CallMintShare       = "mint_share"
	CallBurnShare       = "burn_share"
	CallStake           = "stake"
	CallDepositSlippage = "deposit_slippage"
	CallCollectFee      = "collect_fee"
	CallCommit          = "commit"
	CallDisabled        = "is_single_asset_disabled"
)

var (
	ErrSessionClosed     = errors.New("gateway session already closed")
	ErrInsufficientShare = errors.New("share burn exceeds outstanding supply")
	ErrInvalidAmount     = errors.New("gateway amount must be positive")
)

// Gateway is the capability surface of the factory, staking module,
// slippage escrow and fee collector.
type Gateway interface {
	Begin(ctx context.Context) (Session, error)
	IsSingleAssetDisabled(ctx context.Context, poolID string) (bool, error)
}

// Session stages external effects of one operation. Nothing is visible to
// other sessions until Commit; Rollback discards everything staged.
type Session interface {
	MintShare(ctx context.Context, poolID string, amount int64) error
	BurnShare(ctx context.Context, poolID string, amount int64) error
	Stake(ctx context.Context, poolID string, amount int64, onBehalfOf string) error
	DepositSlippage(ctx context.Context, assetID string, amount int64) error
	CollectFee(ctx context.Context, assetID string, amount int64) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

package model

// Pool represents pool metadata for the history store.
type Pool struct {
	ID              string `json:"id"`
	AssetA          string `json:"asset_a"`
	AssetB          string `json:"asset_b"`
	DecimalsA       uint8  `json:"decimals_a"`
	DecimalsB       uint8  `json:"decimals_b"`
	ShareAsset      string `json:"share_asset"`
	FeeRate         int64  `json:"fee_rate"`
	FeeScale        int64  `json:"fee_scale"`
	Amplification   uint64 `json:"amplification"`
	FirstSeenHeight uint64 `json:"first_seen_height"`
}

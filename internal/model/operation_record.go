package model

// OperationRecord is the flattened, export-friendly form of a completed operation.
type OperationRecord struct {
	PoolID      string `json:"pool_id"`
	AssetA      string `json:"asset_a"`
	AssetB      string `json:"asset_b"`
	Tag         Tag    `json:"tag"`
	Op          string `json:"op"`
	User        string `json:"user"`
	TxID        string `json:"tx_id"`
	AmountA     int64  `json:"amount_a"`
	AmountB     int64  `json:"amount_b"`
	Shares      int64  `json:"shares"`
	Fee         int64  `json:"fee"`
	Price       int64  `json:"price"`
	ReserveA    int64  `json:"reserve_a"`
	ReserveB    int64  `json:"reserve_b"`
	ShareSupply int64  `json:"share_supply"`
	Height      uint64 `json:"height"`
	Timestamp   uint64 `json:"timestamp"`
}

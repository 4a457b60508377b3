package model

import "fmt"

const (
	// ShareDecimals is the precision of every pool share token.
	ShareDecimals uint8 = 8
	// PriceScale is the fixed-point scale of recorded prices (1e8 = 1.0).
	PriceScale int64 = 100_000_000
)

// Asset identifies a ledger asset and its decimal precision.
type Asset struct {
	ID       string `json:"id"`
	Decimals uint8  `json:"decimals"`
}

// Validate checks the asset id and decimals.
func (a Asset) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("asset id is required")
	}
	if a.Decimals > 18 {
		return fmt.Errorf("asset %s: decimals %d out of range", a.ID, a.Decimals)
	}
	return nil
}

// Payment is an attached transfer into the pool.
type Payment struct {
	AssetID string `json:"asset_id"`
	Amount  int64  `json:"amount"`
}

// Transfer is an outgoing balance change the ledger layer must apply.
type Transfer struct {
	Recipient string `json:"recipient"`
	AssetID   string `json:"asset_id"`
	Amount    int64  `json:"amount"`
}

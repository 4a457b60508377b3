package model

import "fmt"

// Tag marks the direction of a position record.
type Tag string

const (
	TagPut Tag = "P"
	TagGet Tag = "G"
)

// Operation names as exposed to callers.
const (
	OpPut         = "put"
	OpGet         = "get"
	OpPutOneTkn   = "putOneTkn"
	OpGetOneTkn   = "getOneTkn"
	OpPutOneTknV2 = "putOneTknV2"
	OpGetOneTknV2 = "getOneTknV2"
)

// Position is the immutable history entry written by every completed operation.
type Position struct {
	Tag       Tag    `json:"tag"`
	Op        string `json:"op"`
	User      string `json:"user"`
	TxID      string `json:"tx_id"`
	AmountA   int64  `json:"amount_a"`
	AmountB   int64  `json:"amount_b"`
	Shares    int64  `json:"shares"`
	Fee       int64  `json:"fee"`
	Price     int64  `json:"price"`
	Height    uint64 `json:"height"`
	Timestamp uint64 `json:"timestamp"`
}

// Key returns the (user, tx) key of the record.
func (p Position) Key() string {
	return PositionKey(p.User, p.TxID)
}

// PositionKey builds the storage key of a position record. The user is
// length-prefixed so that no (user, tx) pair can produce another pair's key.
func PositionKey(user, txID string) string {
	return fmt.Sprintf("%d:%s/%s", len(user), user, txID)
}

// PricePoint is one entry of the price history.
type PricePoint struct {
	Height    uint64 `json:"height"`
	Timestamp uint64 `json:"timestamp"`
	Price     int64  `json:"price"`
}

// Less orders price points by (height, timestamp).
func (p PricePoint) Less(other PricePoint) bool {
	if p.Height != other.Height {
		return p.Height < other.Height
	}
	return p.Timestamp < other.Timestamp
}

// SameKey reports whether both points share the (height, timestamp) key.
func (p PricePoint) SameKey(other PricePoint) bool {
	return p.Height == other.Height && p.Timestamp == other.Timestamp
}

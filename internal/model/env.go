package model

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// Env carries the invocation context supplied by the host ledger.
// The engine never reads the wall clock; Height and Timestamp come from here.
type Env struct {
	Caller    string `json:"caller"`
	TxID      string `json:"tx_id"`
	Height    uint64 `json:"height"`
	Timestamp uint64 `json:"timestamp"`
}

// Validate checks that the caller and tx id are present.
func (e Env) Validate() error {
	if e.Caller == "" {
		return fmt.Errorf("caller is required")
	}
	if e.TxID == "" {
		return fmt.Errorf("tx id is required")
	}
	return nil
}

// OperationID derives a deterministic tx id for callers that do not supply one.
func OperationID(poolID, caller, op string, height, timestamp uint64, nonce uint64) string {
	payload := fmt.Sprintf("%s|%s|%s|%d|%d|%d", poolID, caller, op, height, timestamp, nonce)
	return crypto.Keccak256Hash([]byte(payload)).Hex()
}

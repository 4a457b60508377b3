package pool

import (
	"errors"
	"fmt"
	"math/big"
)

// ErrInvariantDecreased means an operation lowered the invariant per share.
var ErrInvariantDecreased = errors.New("invariant per share decreased")

// stableTolerance absorbs the ±1 precision of the D solver on both sides.
var stableTolerance = big.NewInt(2)

// CheckMonotonic verifies that after does not hold less invariant per share
// than before. Constant product compares rA·rB·S² exactly; stable compares
// D·S with the solver tolerance. Empty pools on either side are skipped.
func CheckMonotonic(before, after *State) error {
	if err := after.CheckShape(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvariantDecreased, err)
	}
	if before.ShareSupply == 0 || after.ShareSupply == 0 {
		return nil
	}
	sBefore := big.NewInt(before.ShareSupply)
	sAfter := big.NewInt(after.ShareSupply)

	if !before.IsStable() {
		aB, bB := before.ReservesX18()
		aA, bA := after.ReservesX18()
		lhs := new(big.Int).Mul(aA, bA)
		lhs.Mul(lhs, sBefore)
		lhs.Mul(lhs, sBefore)
		rhs := new(big.Int).Mul(aB, bB)
		rhs.Mul(rhs, sAfter)
		rhs.Mul(rhs, sAfter)
		if lhs.Cmp(rhs) < 0 {
			return fmt.Errorf("%w: k·S² %s < %s", ErrInvariantDecreased, lhs, rhs)
		}
		return nil
	}

	dBefore, err := before.Invariant()
	if err != nil {
		return err
	}
	dAfter, err := after.Invariant()
	if err != nil {
		return err
	}
	lhs := new(big.Int).Add(dAfter, stableTolerance)
	lhs.Mul(lhs, sBefore)
	rhs := new(big.Int).Mul(dBefore, sAfter)
	if lhs.Cmp(rhs) < 0 {
		return fmt.Errorf("%w: D·S %s < %s", ErrInvariantDecreased, lhs, rhs)
	}
	return nil
}

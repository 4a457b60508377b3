package curve

import (
	"fmt"
	"math/big"

	"poolEngine/internal/fixedpoint"
	"poolEngine/internal/pool"
)

// balancesX18 returns the reserves grown by addA and addB at 18 decimals.
// The sums are taken after lifting so they cannot wrap.
func balancesX18(st *pool.State, addA, addB int64) ([]*big.Int, error) {
	a, err := liftedSum(st.ReserveA, addA, st.AssetA.Decimals)
	if err != nil {
		return nil, err
	}
	b, err := liftedSum(st.ReserveB, addB, st.AssetB.Decimals)
	if err != nil {
		return nil, err
	}
	return []*big.Int{a, b}, nil
}

func liftedSum(reserve, add int64, decimals uint8) (*big.Int, error) {
	r, err := fixedpoint.ToX18(reserve, decimals)
	if err != nil {
		return nil, err
	}
	a, err := fixedpoint.ToX18(add, decimals)
	if err != nil {
		return nil, err
	}
	return r.Add(r, a), nil
}

// stableMintOf returns floor(S·(D1-D0)/D0) and D1 for the grown balances.
func stableMintOf(st *pool.State, amp uint64, addA, addB int64) (*big.Int, *big.Int, error) {
	xp0, err := balancesX18(st, 0, 0)
	if err != nil {
		return nil, nil, err
	}
	d0, err := fixedpoint.SolveInvariant(xp0, amp)
	if err != nil {
		return nil, nil, fmt.Errorf("solve D0: %w", err)
	}
	xp1, err := balancesX18(st, addA, addB)
	if err != nil {
		return nil, nil, err
	}
	d1, err := fixedpoint.SolveInvariant(xp1, amp)
	if err != nil {
		return nil, nil, fmt.Errorf("solve D1: %w", err)
	}
	if d0.Sign() == 0 || d1.Cmp(d0) <= 0 {
		return new(big.Int), d1, nil
	}
	minted := fixedpoint.MulDiv(big.NewInt(st.ShareSupply), new(big.Int).Sub(d1, d0), d0, false)
	return minted, d1, nil
}

func stableSymmetricShares(st *pool.State, amp uint64, addA, addB int64) (*big.Int, error) {
	minted, _, err := stableMintOf(st, amp, addA, addB)
	return minted, err
}

func stableMintSingle(st *pool.State, amp uint64, index int, net int64) (SingleMint, error) {
	addA, addB := net, int64(0)
	if index == 1 {
		addA, addB = 0, net
	}
	minted, d1, err := stableMintOf(st, amp, addA, addB)
	if err != nil {
		return SingleMint{}, err
	}
	if minted.Sign() <= 0 {
		return SingleMint{}, ErrNothingMinted
	}
	if !minted.IsInt64() {
		return SingleMint{}, ErrOverflow
	}

	// at the peg one unit of D is one unit of either asset
	_, asset := st.Reserve(index)
	supplyNext := new(big.Int).Add(big.NewInt(st.ShareSupply), minted)
	value18 := fixedpoint.MulDiv(d1, minted, supplyNext, false)
	value, err := fixedpoint.FromX18(value18, asset.Decimals)
	if err != nil {
		return SingleMint{}, err
	}
	if !value.IsInt64() {
		return SingleMint{}, ErrOverflow
	}
	return SingleMint{Index: index, Net: net, Shares: minted.Int64(), Bonus: value.Int64()}, nil
}

// stableBurnSingle lowers D by the burned fraction and solves the remaining
// balance of asset index.
func stableBurnSingle(st *pool.State, amp uint64, shares int64, index int) (SingleBurn, error) {
	xp, err := balancesX18(st, 0, 0)
	if err != nil {
		return SingleBurn{}, err
	}
	d0, err := fixedpoint.SolveInvariant(xp, amp)
	if err != nil {
		return SingleBurn{}, fmt.Errorf("solve D0: %w", err)
	}
	burned := fixedpoint.MulDiv(big.NewInt(shares), d0, big.NewInt(st.ShareSupply), false)
	d1 := new(big.Int).Sub(d0, burned)

	y, err := fixedpoint.SolveOutputGivenInvariant(xp, amp, d1, index)
	if err != nil {
		return SingleBurn{}, fmt.Errorf("solve y: %w", err)
	}
	dy := new(big.Int).Sub(xp[index], y)
	dy.Sub(dy, big.NewInt(1))
	if dy.Sign() <= 0 {
		return SingleBurn{}, ErrNothingReturned
	}

	_, asset := st.Reserve(index)
	withdrawn, err := fixedpoint.FromX18(dy, asset.Decimals)
	if err != nil {
		return SingleBurn{}, err
	}
	fair, err := fixedpoint.FromX18(burned, asset.Decimals)
	if err != nil {
		return SingleBurn{}, err
	}
	loss := new(big.Int).Sub(fair, withdrawn)
	if !withdrawn.IsInt64() || !loss.IsInt64() {
		return SingleBurn{}, ErrOverflow
	}
	return SingleBurn{Index: index, Shares: shares, Withdrawn: withdrawn.Int64(), Loss: loss.Int64()}, nil
}

package curve

import (
	"math/big"

	"poolEngine/internal/fixedpoint"
	"poolEngine/internal/pool"
)

var two = big.NewInt(2)

// cpSymmetricShares mints min(S·a/rA, S·b/rB) over the amounts joining reserves.
func cpSymmetricShares(st *pool.State, split SymmetricMint) *big.Int {
	supply := big.NewInt(st.ShareSupply)
	byA := fixedpoint.MulDiv(supply, big.NewInt(split.ReserveA), big.NewInt(st.ReserveA), false)
	byB := fixedpoint.MulDiv(supply, big.NewInt(split.ReserveB), big.NewInt(st.ReserveB), false)
	return fixedpoint.Min(byA, byB)
}

// cpMintSingle mints sqrt(S²·(R+net)/R) - S for net added to reserve index.
func cpMintSingle(st *pool.State, index int, net int64) (SingleMint, error) {
	reserve, _ := st.Reserve(index)
	r := big.NewInt(reserve)
	rNext := new(big.Int).Add(r, big.NewInt(net))
	supply := big.NewInt(st.ShareSupply)

	sq := new(big.Int).Mul(supply, supply)
	sqNext := fixedpoint.MulDiv(sq, rNext, r, false)
	minted := new(big.Int).Sub(fixedpoint.ISqrt(sqNext), supply)
	if minted.Sign() <= 0 {
		return SingleMint{}, ErrNothingMinted
	}
	if !minted.IsInt64() {
		return SingleMint{}, ErrOverflow
	}

	// shares valued at twice their slice of the grown reserve
	supplyNext := new(big.Int).Add(supply, minted)
	value := fixedpoint.MulDiv(new(big.Int).Mul(two, rNext), minted, supplyNext, false)
	if !value.IsInt64() {
		return SingleMint{}, ErrOverflow
	}
	return SingleMint{Index: index, Net: net, Shares: minted.Int64(), Bonus: value.Int64()}, nil
}

// cpBurnSingle withdraws R·s·(2S-s)/S² from reserve index.
func cpBurnSingle(st *pool.State, shares int64, index int) (SingleBurn, error) {
	reserve, _ := st.Reserve(index)
	r := big.NewInt(reserve)
	s := big.NewInt(shares)
	supply := big.NewInt(st.ShareSupply)

	twoSMinusS := new(big.Int).Sub(new(big.Int).Mul(two, supply), s)
	num := new(big.Int).Mul(r, s)
	num.Mul(num, twoSMinusS)
	withdrawn := num.Quo(num, new(big.Int).Mul(supply, supply))

	fair := fixedpoint.MulDiv(new(big.Int).Mul(two, r), s, supply, false)
	loss := new(big.Int).Sub(fair, withdrawn)
	if !withdrawn.IsInt64() || !loss.IsInt64() {
		return SingleBurn{}, ErrOverflow
	}
	return SingleBurn{Index: index, Shares: shares, Withdrawn: withdrawn.Int64(), Loss: loss.Int64()}, nil
}

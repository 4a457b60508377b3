package curve

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"poolEngine/internal/fixedpoint"
	"poolEngine/internal/pool"
)

var (
	ErrSlippageExceeded = errors.New("deposit ratio deviates from pool ratio")
	ErrNothingMinted    = errors.New("operation mints no shares")
	ErrNothingReturned  = errors.New("operation returns nothing")
	ErrInvalidShares    = errors.New("invalid share amount")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrOverflow         = errors.New("amount overflows int64")
)

const (
	// DeviationScale is the unit of ratio deviation (parts per 1e8).
	DeviationScale int64 = 100_000_000
	// BasisPoint converts a basis-point tolerance into DeviationScale units.
	BasisPoint int64 = 10_000
	// DustDeviation is the mismatch allowed when no tolerance is configured.
	DustDeviation int64 = 1_000
)

// Kind selects the invariant.
type Kind uint8

const (
	ConstantProduct Kind = iota
	Stable
)

func (k Kind) String() string {
	switch k {
	case ConstantProduct:
		return "constant_product"
	case Stable:
		return "stable"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Curve is resolved once per pool from its amplification setting.
type Curve struct {
	Kind          Kind
	Amplification uint64
}

// For resolves the curve variant of a pool.
func For(st *pool.State) Curve {
	if st.IsStable() {
		return Curve{Kind: Stable, Amplification: st.Amplification}
	}
	return Curve{Kind: ConstantProduct}
}

func (c Curve) String() string {
	if c.Kind == Stable {
		return fmt.Sprintf("%s(A=%d)", c.Kind, c.Amplification)
	}
	return c.Kind.String()
}

// SymmetricMint is the outcome of a two-asset deposit.
type SymmetricMint struct {
	Shares   int64
	Seeded   bool
	ReserveA int64 // joins reserve A
	ReserveB int64 // joins reserve B
	EscrowA  int64 // diverted to the slippage escrow
	EscrowB  int64
	// Deviation of the supplied ratio in DeviationScale units.
	Deviation int64
}

// Apply credits reserves and supply.
func (m SymmetricMint) Apply(st *pool.State) {
	st.ReserveA += m.ReserveA
	st.ReserveB += m.ReserveB
	st.ShareSupply += m.Shares
}

// SymmetricBurn is the outcome of a proportional withdrawal.
type SymmetricBurn struct {
	Shares  int64
	AmountA int64
	AmountB int64
}

// Apply debits reserves and supply.
func (b SymmetricBurn) Apply(st *pool.State) {
	st.ReserveA -= b.AmountA
	st.ReserveB -= b.AmountB
	st.ShareSupply -= b.Shares
}

// SingleMint is the outcome of a one-asset deposit.
type SingleMint struct {
	Index  int
	Amount int64
	Fee    int64
	Net    int64 // joins the reserve
	Shares int64
	// Bonus is the value of the minted shares minus the amount paid,
	// in units of the deposited asset. Negative values are a loss.
	Bonus int64
}

// Apply credits the reserve and supply.
func (m SingleMint) Apply(st *pool.State) {
	st.AddReserve(m.Index, m.Net)
	st.ShareSupply += m.Shares
}

// SingleBurn is the outcome of a one-asset withdrawal.
type SingleBurn struct {
	Index     int
	Shares    int64
	Withdrawn int64 // leaves the reserve
	Fee       int64
	Amount    int64 // paid to the caller
	// Loss is the proportional value of the burned shares minus Withdrawn.
	Loss int64
}

// Apply debits the reserve and supply.
func (b SingleBurn) Apply(st *pool.State) {
	st.AddReserve(b.Index, -b.Withdrawn)
	st.ShareSupply -= b.Shares
}

// MintSymmetric sizes a two-asset deposit. tolBp is the slippage tolerance in
// basis points; 0 means no tolerance is configured.
func (c Curve) MintSymmetric(st *pool.State, amountA, amountB, tolBp int64) (SymmetricMint, error) {
	if amountA < 0 || amountB < 0 || tolBp < 0 {
		return SymmetricMint{}, ErrInvalidAmount
	}
	if !st.Seeded() {
		seed := st.Stage()
		shares, err := seed.Seed(amountA, amountB)
		if err != nil {
			return SymmetricMint{}, err
		}
		return SymmetricMint{Shares: shares, Seeded: true, ReserveA: amountA, ReserveB: amountB}, nil
	}

	split, err := splitDeposit(st, amountA, amountB, tolBp)
	if err != nil {
		return SymmetricMint{}, err
	}
	if !fits(st.ReserveA, split.ReserveA) || !fits(st.ReserveB, split.ReserveB) {
		return SymmetricMint{}, fmt.Errorf("%w: reserves %d/%d plus %d/%d",
			ErrOverflow, st.ReserveA, st.ReserveB, split.ReserveA, split.ReserveB)
	}

	var shares *big.Int
	switch c.Kind {
	case Stable:
		shares, err = stableSymmetricShares(st, c.Amplification, split.ReserveA, split.ReserveB)
		if err != nil {
			return SymmetricMint{}, err
		}
	default:
		shares = cpSymmetricShares(st, split)
	}
	if shares.Sign() <= 0 {
		return SymmetricMint{}, ErrNothingMinted
	}
	if !shares.IsInt64() || !fits(st.ShareSupply, shares.Int64()) {
		return SymmetricMint{}, fmt.Errorf("%w: supply %d plus %s", ErrOverflow, st.ShareSupply, shares)
	}
	split.Shares = shares.Int64()
	return split, nil
}

// BurnSymmetric returns reserves proportionally; identical for both curves.
func (c Curve) BurnSymmetric(st *pool.State, shares int64) (SymmetricBurn, error) {
	if !st.Seeded() {
		return SymmetricBurn{}, pool.ErrNotSeeded
	}
	if shares <= 0 || shares > st.ShareSupply {
		return SymmetricBurn{}, fmt.Errorf("%w: %d of supply %d", ErrInvalidShares, shares, st.ShareSupply)
	}
	s := big.NewInt(shares)
	supply := big.NewInt(st.ShareSupply)
	outA := fixedpoint.MulDiv(big.NewInt(st.ReserveA), s, supply, false)
	outB := fixedpoint.MulDiv(big.NewInt(st.ReserveB), s, supply, false)
	if outA.Sign() == 0 && outB.Sign() == 0 {
		return SymmetricBurn{}, ErrNothingReturned
	}
	return SymmetricBurn{Shares: shares, AmountA: outA.Int64(), AmountB: outB.Int64()}, nil
}

// MintSingle sizes a one-asset deposit. takeFee=false evaluates the mint on
// the gross amount while still reporting the fee that would apply.
func (c Curve) MintSingle(st *pool.State, index int, amountIn int64, takeFee bool) (SingleMint, error) {
	if !st.Seeded() {
		return SingleMint{}, pool.ErrNotSeeded
	}
	if amountIn <= 0 {
		return SingleMint{}, ErrInvalidAmount
	}
	fee := feeOf(st, amountIn)
	net := amountIn
	if takeFee {
		net = amountIn - fee
	}
	if net <= 0 {
		return SingleMint{}, ErrNothingMinted
	}
	if reserve, _ := st.Reserve(index); !fits(reserve, net) {
		return SingleMint{}, fmt.Errorf("%w: reserve %d plus %d", ErrOverflow, reserve, net)
	}

	var m SingleMint
	var err error
	switch c.Kind {
	case Stable:
		m, err = stableMintSingle(st, c.Amplification, index, net)
	default:
		m, err = cpMintSingle(st, index, net)
	}
	if err != nil {
		return SingleMint{}, err
	}
	if !fits(st.ShareSupply, m.Shares) {
		return SingleMint{}, fmt.Errorf("%w: supply %d plus %d", ErrOverflow, st.ShareSupply, m.Shares)
	}
	m.Amount = amountIn
	m.Fee = fee
	m.Bonus -= amountIn
	return m, nil
}

// BurnSingle sizes a one-asset withdrawal, fee taken from the withdrawn amount.
func (c Curve) BurnSingle(st *pool.State, shares int64, index int) (SingleBurn, error) {
	if !st.Seeded() {
		return SingleBurn{}, pool.ErrNotSeeded
	}
	// burning the whole supply through one side would leave the other reserve orphaned
	if shares <= 0 || shares >= st.ShareSupply {
		return SingleBurn{}, fmt.Errorf("%w: %d of supply %d", ErrInvalidShares, shares, st.ShareSupply)
	}

	var b SingleBurn
	var err error
	switch c.Kind {
	case Stable:
		b, err = stableBurnSingle(st, c.Amplification, shares, index)
	default:
		b, err = cpBurnSingle(st, shares, index)
	}
	if err != nil {
		return SingleBurn{}, err
	}
	reserve, _ := st.Reserve(index)
	if b.Withdrawn <= 0 || b.Withdrawn >= reserve {
		return SingleBurn{}, fmt.Errorf("%w: withdrawn %d of reserve %d", ErrNothingReturned, b.Withdrawn, reserve)
	}
	b.Fee = feeOf(st, b.Withdrawn)
	b.Amount = b.Withdrawn - b.Fee
	if b.Amount <= 0 {
		return SingleBurn{}, ErrNothingReturned
	}
	return b, nil
}

// fits reports whether a+b stays within int64 for non-negative a and b.
func fits(a, b int64) bool {
	return b <= math.MaxInt64-a
}

// toleranceLimit converts a basis-point tolerance to DeviationScale units,
// saturating at MaxInt64.
func toleranceLimit(tolBp int64) int64 {
	if tolBp > math.MaxInt64/BasisPoint {
		return math.MaxInt64
	}
	return tolBp * BasisPoint
}

// feeOf returns floor(amount·feeRate/feeScale).
func feeOf(st *pool.State, amount int64) int64 {
	if st.FeeRate == 0 || st.FeeScale == 0 {
		return 0
	}
	return fixedpoint.MulDiv(big.NewInt(amount), big.NewInt(st.FeeRate), big.NewInt(st.FeeScale), false).Int64()
}

// splitDeposit decides which side limits the deposit and where the excess goes.
func splitDeposit(st *pool.State, amountA, amountB, tolBp int64) (SymmetricMint, error) {
	rA := big.NewInt(st.ReserveA)
	rB := big.NewInt(st.ReserveB)
	a := big.NewInt(amountA)
	b := big.NewInt(amountB)

	out := SymmetricMint{ReserveA: amountA, ReserveB: amountB}

	// A limits when a/rA <= b/rB
	aLimits := new(big.Int).Mul(a, rB).Cmp(new(big.Int).Mul(b, rA)) <= 0
	var supplied, used int64
	if aLimits {
		usedB := fixedpoint.MulDiv(a, rB, rA, true)
		supplied, used = amountB, usedB.Int64()
	} else {
		usedA := fixedpoint.MulDiv(b, rA, rB, true)
		supplied, used = amountA, usedA.Int64()
	}
	excess := supplied - used

	switch {
	case excess == 0:
		out.Deviation = 0
	case used == 0:
		out.Deviation = -1
	default:
		d := fixedpoint.MulDiv(big.NewInt(excess), big.NewInt(DeviationScale), big.NewInt(used), false)
		if d.IsInt64() {
			out.Deviation = d.Int64()
		} else {
			out.Deviation = -1
		}
	}
	exceeds := func(limit int64) bool {
		return out.Deviation < 0 || out.Deviation > limit
	}

	if tolBp == 0 {
		if excess > 0 && exceeds(DustDeviation) {
			return SymmetricMint{}, fmt.Errorf("%w: deviation %d", ErrSlippageExceeded, out.Deviation)
		}
		return out, nil
	}
	if excess > 0 && exceeds(toleranceLimit(tolBp)) {
		if aLimits {
			out.ReserveB = used
			out.EscrowB = excess
		} else {
			out.ReserveA = used
			out.EscrowA = excess
		}
	}
	return out, nil
}

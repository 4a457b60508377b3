package fixedpoint

import (
	"errors"
	"math/big"
)

// Scale18 is the internal normalisation precision (18 decimals).
const Scale18 = 18

// MaxIterations bounds both invariant solvers.
const MaxIterations = 255

var (
	// ErrNoConvergence is returned when the balance solver meets a
	// non-positive denominator.
	ErrNoConvergence = errors.New("invariant solver did not converge")
	// ErrNonPositiveBalance is returned when a solver sees a zero or negative balance.
	ErrNonPositiveBalance = errors.New("balance must be positive")
	// ErrIndexOutOfRange is returned for an invalid asset index.
	ErrIndexOutOfRange = errors.New("asset index out of range")
	// ErrDecimals is returned for decimals above Scale18.
	ErrDecimals = errors.New("decimals must be in [0, 18]")
)

var (
	zero = big.NewInt(0)
	one  = big.NewInt(1)
	two  = big.NewInt(2)

	// 10^0..10^18
	pow10 [Scale18 + 1]*big.Int
)

func init() {
	pow10[0] = big.NewInt(1)
	for i := 1; i < len(pow10); i++ {
		pow10[i] = new(big.Int).Mul(pow10[i-1], big.NewInt(10))
	}
}

// Pow10 returns 10^n. The result must not be modified.
func Pow10(n uint8) *big.Int {
	if int(n) < len(pow10) {
		return pow10[n]
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// MulDiv returns a*b/denom computed on the exact product, rounded toward zero
// unless roundUp is set. Operands are expected to be non-negative.
func MulDiv(a, b, denom *big.Int, roundUp bool) *big.Int {
	if denom.Sign() == 0 {
		panic("fixedpoint: division by zero")
	}
	product := new(big.Int).Mul(a, b)
	quo, rem := new(big.Int).QuoRem(product, denom, new(big.Int))
	if roundUp && rem.Sign() != 0 {
		quo.Add(quo, one)
	}
	return quo
}

// ISqrt returns floor(sqrt(n)) for n >= 0.
func ISqrt(n *big.Int) *big.Int {
	if n.Sign() <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Sqrt(n)
}

// ToX18 lifts an amount with the given decimals to 18 decimals.
func ToX18(amount int64, decimals uint8) (*big.Int, error) {
	if decimals > Scale18 {
		return nil, ErrDecimals
	}
	v := big.NewInt(amount)
	return v.Mul(v, Pow10(Scale18-decimals)), nil
}

// FromX18 converts an 18-decimal value back to the given decimals, flooring.
func FromX18(v *big.Int, decimals uint8) (*big.Int, error) {
	if decimals > Scale18 {
		return nil, ErrDecimals
	}
	return new(big.Int).Quo(v, Pow10(Scale18-decimals)), nil
}

// FromX18Up converts an 18-decimal value back to the given decimals, rounding up.
func FromX18Up(v *big.Int, decimals uint8) (*big.Int, error) {
	if decimals > Scale18 {
		return nil, ErrDecimals
	}
	return MulDiv(v, one, Pow10(Scale18-decimals), true), nil
}

// Min returns the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

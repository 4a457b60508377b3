package fixedpoint

import "math/big"

// SolveInvariant computes the stable-swap invariant D for the balances xp
// (all in the same precision) and amplification amp:
//
//	A·n^n·Σx + D = A·n^n·D + D^(n+1) / (n^n·Πx)
//
// Iteration starts at Σx and stops once two estimates differ by at most 1.
// Floor rounding can trap the estimate in a two-value cycle; the lower value
// is taken then. After MaxIterations the last estimate is returned.
func SolveInvariant(xp []*big.Int, amp uint64) (*big.Int, error) {
	n := big.NewInt(int64(len(xp)))
	sum := new(big.Int)
	for _, x := range xp {
		if x.Sign() < 0 {
			return nil, ErrNonPositiveBalance
		}
		sum.Add(sum, x)
	}
	if sum.Sign() == 0 {
		return new(big.Int), nil
	}
	for _, x := range xp {
		if x.Sign() == 0 {
			return nil, ErrNonPositiveBalance
		}
	}

	ann := new(big.Int).Mul(new(big.Int).SetUint64(amp), n)
	annMinusOne := new(big.Int).Sub(ann, one)
	nPlusOne := new(big.Int).Add(n, one)

	d := new(big.Int).Set(sum)
	prev := new(big.Int)
	var before *big.Int
	for i := 0; i < MaxIterations; i++ {
		dp := new(big.Int).Set(d)
		for _, x := range xp {
			dp = MulDiv(dp, d, new(big.Int).Mul(x, n), false)
		}
		prev.Set(d)

		// D = (Ann·S + D_P·n)·D / ((Ann-1)·D + (n+1)·D_P)
		num := new(big.Int).Mul(ann, sum)
		num.Add(num, new(big.Int).Mul(dp, n))
		den := new(big.Int).Mul(annMinusOne, d)
		den.Add(den, new(big.Int).Mul(nPlusOne, dp))
		d = MulDiv(num, d, den, false)

		if absDiff(d, prev).Cmp(one) <= 0 {
			return d, nil
		}
		if before != nil && d.Cmp(before) == 0 {
			return lower(d, prev), nil
		}
		before = new(big.Int).Set(prev)
	}
	return d, nil
}

// SolveOutputGivenInvariant returns the balance of xp[index] that restores
// the invariant d while every other balance stays as given. It stops like
// SolveInvariant except that a cycle settles on the higher value.
//
//	y² + y·(S' + D/Ann - D) = D^(n+1) / (n^n·Πx'·Ann)
func SolveOutputGivenInvariant(xp []*big.Int, amp uint64, d *big.Int, index int) (*big.Int, error) {
	if index < 0 || index >= len(xp) {
		return nil, ErrIndexOutOfRange
	}
	n := big.NewInt(int64(len(xp)))
	ann := new(big.Int).Mul(new(big.Int).SetUint64(amp), n)

	c := new(big.Int).Set(d)
	sum := new(big.Int)
	for k, x := range xp {
		if k == index {
			continue
		}
		if x.Sign() <= 0 {
			return nil, ErrNonPositiveBalance
		}
		sum.Add(sum, x)
		c = MulDiv(c, d, new(big.Int).Mul(x, n), false)
	}
	c = MulDiv(c, d, new(big.Int).Mul(ann, n), false)
	b := new(big.Int).Add(sum, new(big.Int).Quo(d, ann))

	y := new(big.Int).Set(d)
	prev := new(big.Int)
	var before *big.Int
	for i := 0; i < MaxIterations; i++ {
		prev.Set(y)
		num := new(big.Int).Mul(y, y)
		num.Add(num, c)
		den := new(big.Int).Mul(y, two)
		den.Add(den, b)
		den.Sub(den, d)
		if den.Sign() <= 0 {
			return nil, ErrNoConvergence
		}
		y = num.Quo(num, den)
		if absDiff(y, prev).Cmp(one) <= 0 {
			return y, nil
		}
		// the higher balance pays out less
		if before != nil && y.Cmp(before) == 0 {
			return higher(y, prev), nil
		}
		before = new(big.Int).Set(prev)
	}
	return y, nil
}

func lower(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

func absDiff(a, b *big.Int) *big.Int {
	d := new(big.Int).Sub(a, b)
	return d.Abs(d)
}

// IsZero reports whether v is nil or zero.
func IsZero(v *big.Int) bool {
	return v == nil || v.Cmp(zero) == 0
}

func higher(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

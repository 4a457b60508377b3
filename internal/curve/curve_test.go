package curve

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"poolEngine/internal/model"
	"poolEngine/internal/pool"
)

func seededProduct(t *testing.T) *pool.State {
	t.Helper()
	st, err := pool.New(pool.Config{
		ID:      "POOL",
		AssetA:  model.Asset{ID: "AAA", Decimals: 2},
		AssetB:  model.Asset{ID: "BBB", Decimals: 6},
		FeeRate: pool.DefaultFeeRate,
	})
	require.NoError(t, err)
	shares, err := st.Seed(1000, 10_000_000)
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000_000), shares)
	return st
}

func seededStable(t *testing.T) *pool.State {
	t.Helper()
	st, err := pool.New(pool.Config{
		ID:            "STBL",
		AssetA:        model.Asset{ID: "USDA", Decimals: 6},
		AssetB:        model.Asset{ID: "USDB", Decimals: 6},
		FeeRate:       pool.DefaultFeeRate,
		Amplification: 100,
	})
	require.NoError(t, err)
	shares, err := st.Seed(1_000_000_000, 1_000_000_000)
	require.NoError(t, err)
	require.Equal(t, int64(200_000_000_000), shares)
	return st
}

func TestForResolvesKind(t *testing.T) {
	require.Equal(t, ConstantProduct, For(seededProduct(t)).Kind)
	c := For(seededStable(t))
	require.Equal(t, Stable, c.Kind)
	require.Equal(t, uint64(100), c.Amplification)
	require.Equal(t, "stable(A=100)", c.String())
}

func TestMintSymmetricSeedsEmptyPool(t *testing.T) {
	st, err := pool.New(pool.Config{
		ID:     "POOL",
		AssetA: model.Asset{ID: "AAA", Decimals: 2},
		AssetB: model.Asset{ID: "BBB", Decimals: 6},
	})
	require.NoError(t, err)

	m, err := For(st).MintSymmetric(st, 1000, 10_000_000, 0)
	require.NoError(t, err)
	require.True(t, m.Seeded)
	require.Equal(t, int64(1_000_000_000), m.Shares)
	require.Zero(t, st.ShareSupply, "sizing must not mutate state")

	m.Apply(st)
	require.Equal(t, int64(100_000_000), st.CurrentPrice())
}

func TestMintSymmetricProportional(t *testing.T) {
	st := seededProduct(t)
	m, err := For(st).MintSymmetric(st, 10, 100_000, 0)
	require.NoError(t, err)
	require.Equal(t, int64(10_000_000), m.Shares)
	require.Zero(t, m.EscrowA+m.EscrowB)

	before := st.Clone()
	m.Apply(st)
	require.NoError(t, pool.CheckMonotonic(before, st))
}

func TestMintSymmetricSlippage(t *testing.T) {
	cases := []struct {
		name    string
		amountB int64
		tolBp   int64
		wantErr error
		escrowB int64
		joinB   int64
	}{
		{name: "dust at limit", amountB: 100_001, joinB: 100_001},
		{name: "beyond dust without tolerance", amountB: 100_005, wantErr: ErrSlippageExceeded},
		{name: "beyond tolerance escrows excess", amountB: 100_500, tolBp: 10, escrowB: 500, joinB: 100_000},
		{name: "within tolerance joins reserves", amountB: 100_500, tolBp: 100, joinB: 100_500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := seededProduct(t)
			m, err := For(st).MintSymmetric(st, 10, tc.amountB, tc.tolBp)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, int64(10_000_000), m.Shares)
			require.Equal(t, tc.escrowB, m.EscrowB)
			require.Equal(t, tc.joinB, m.ReserveB)
			require.Equal(t, int64(10), m.ReserveA)
		})
	}
}

func TestToleranceSaturates(t *testing.T) {
	st := seededProduct(t)
	m, err := For(st).MintSymmetric(st, 10, 100_500, math.MaxInt64)
	require.NoError(t, err)
	require.Equal(t, int64(100_500), m.ReserveB)
	require.Zero(t, m.EscrowB)

	m, err = For(st).MintSymmetric(st, 10, 100_500, math.MaxInt64/BasisPoint)
	require.NoError(t, err)
	require.Zero(t, m.EscrowB)
}

func TestMintOverflowRejected(t *testing.T) {
	st, err := pool.New(pool.Config{
		ID:      "WIDE",
		AssetA:  model.Asset{ID: "X", Decimals: 18},
		AssetB:  model.Asset{ID: "Y", Decimals: 18},
		FeeRate: pool.DefaultFeeRate,
	})
	require.NoError(t, err)
	_, err = st.Seed(4e18, 4e18)
	require.NoError(t, err)

	_, err = For(st).MintSymmetric(st, 6e18, 6e18, 0)
	require.ErrorIs(t, err, ErrOverflow)
	_, err = For(st).MintSingle(st, 0, 6e18, true)
	require.ErrorIs(t, err, ErrOverflow)
	_, err = For(st).MintSingle(st, 1, 53e17, false)
	require.ErrorIs(t, err, ErrOverflow)

	m, err := For(st).MintSymmetric(st, 1e18, 1e18, 0)
	require.NoError(t, err)
	require.Equal(t, int64(100_000_000), m.Shares)
}

func TestMintSymmetricOneSidedRejected(t *testing.T) {
	st := seededProduct(t)
	_, err := For(st).MintSymmetric(st, 0, 100_000, 0)
	require.ErrorIs(t, err, ErrSlippageExceeded)

	_, err = For(st).MintSymmetric(st, 0, 100_000, 50)
	require.ErrorIs(t, err, ErrNothingMinted)
}

func TestBurnSymmetric(t *testing.T) {
	st := seededProduct(t)
	b, err := For(st).BurnSymmetric(st, 100_000_000)
	require.NoError(t, err)
	require.Equal(t, int64(100), b.AmountA)
	require.Equal(t, int64(1_000_000), b.AmountB)

	_, err = For(st).BurnSymmetric(st, st.ShareSupply+1)
	require.ErrorIs(t, err, ErrInvalidShares)

	all, err := For(st).BurnSymmetric(st, st.ShareSupply)
	require.NoError(t, err)
	all.Apply(st)
	require.NoError(t, st.CheckShape())
	require.False(t, st.Seeded())
}

func TestProductMintSingle(t *testing.T) {
	st := seededProduct(t)
	m, err := For(st).MintSingle(st, 0, 10_000, true)
	require.NoError(t, err)
	require.Equal(t, int64(10), m.Fee)
	require.Equal(t, int64(9_990), m.Net)
	require.Equal(t, int64(2_315_116_890), m.Shares)
	require.Equal(t, int64(5_349), m.Bonus)

	before := st.Clone()
	m.Apply(st)
	require.NoError(t, pool.CheckMonotonic(before, st))
}

func TestProductMintSingleWithoutFee(t *testing.T) {
	st := seededProduct(t)
	m, err := For(st).MintSingle(st, 0, 100, false)
	require.NoError(t, err)
	require.Equal(t, int64(100), m.Net)
	require.Equal(t, int64(48_808_848), m.Shares)
	require.Equal(t, int64(2), m.Bonus)
}

func TestProductBurnSingle(t *testing.T) {
	st := seededProduct(t)
	b, err := For(st).BurnSingle(st, 100_000_000, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1_900_000), b.Withdrawn)
	require.Equal(t, int64(1_900), b.Fee)
	require.Equal(t, int64(1_898_100), b.Amount)
	require.Equal(t, int64(100_000), b.Loss)

	before := st.Clone()
	b.Apply(st)
	require.NoError(t, pool.CheckMonotonic(before, st))

	_, err = For(st).BurnSingle(st, st.ShareSupply, 0)
	require.ErrorIs(t, err, ErrInvalidShares)
}

func TestStableMintSingle(t *testing.T) {
	st := seededStable(t)
	m, err := For(st).MintSingle(st, 0, 1_000_000, true)
	require.NoError(t, err)
	require.Equal(t, int64(1_000), m.Fee)
	require.Equal(t, int64(99_899_753), m.Shares)
	require.Equal(t, int64(998_997-1_000_000), m.Bonus)

	before := st.Clone()
	m.Apply(st)
	require.NoError(t, pool.CheckMonotonic(before, st))
}

func TestStableBurnSingle(t *testing.T) {
	st := seededStable(t)
	b, err := For(st).BurnSingle(st, 100_000_000, 1)
	require.NoError(t, err)
	require.Equal(t, int64(999_997), b.Withdrawn)
	require.Equal(t, int64(999), b.Fee)
	require.Equal(t, int64(998_998), b.Amount)
	require.Equal(t, int64(3), b.Loss)

	before := st.Clone()
	b.Apply(st)
	require.NoError(t, pool.CheckMonotonic(before, st))
}

func TestStableRoundTripNeverProfits(t *testing.T) {
	st := seededStable(t)
	c := For(st)
	m, err := c.MintSingle(st, 0, 5_000_000, true)
	require.NoError(t, err)
	m.Apply(st)

	b, err := c.BurnSingle(st, m.Shares, 0)
	require.NoError(t, err)
	require.Less(t, b.Amount, m.Amount)
}

func TestSingleOpsRequireSeed(t *testing.T) {
	st, err := pool.New(pool.Config{
		ID:     "POOL",
		AssetA: model.Asset{ID: "AAA", Decimals: 8},
		AssetB: model.Asset{ID: "BBB", Decimals: 8},
	})
	require.NoError(t, err)
	_, err = For(st).MintSingle(st, 0, 10, true)
	require.True(t, errors.Is(err, pool.ErrNotSeeded))
	_, err = For(st).BurnSingle(st, 10, 0)
	require.True(t, errors.Is(err, pool.ErrNotSeeded))
}

package pool

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"poolEngine/internal/model"
)

func newCP(t *testing.T) *State {
	t.Helper()
	st, err := New(Config{
		ID:      "AB",
		AssetA:  model.Asset{ID: "AAA", Decimals: 2},
		AssetB:  model.Asset{ID: "BBB", Decimals: 6},
		FeeRate: DefaultFeeRate,
	})
	require.NoError(t, err)
	return st
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing id", Config{AssetA: model.Asset{ID: "A"}, AssetB: model.Asset{ID: "B"}}},
		{"same assets", Config{ID: "P", AssetA: model.Asset{ID: "A"}, AssetB: model.Asset{ID: "A"}}},
		{"bad decimals", Config{ID: "P", AssetA: model.Asset{ID: "A", Decimals: 19}, AssetB: model.Asset{ID: "B"}}},
		{"fee at scale", Config{ID: "P", AssetA: model.Asset{ID: "A"}, AssetB: model.Asset{ID: "B"}, FeeRate: 1000, FeeScale: LegacyFeeScale}},
		{"negative fee", Config{ID: "P", AssetA: model.Asset{ID: "A"}, AssetB: model.Asset{ID: "B"}, FeeRate: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	st := newCP(t)
	require.Equal(t, DefaultFeeScale, st.FeeScale)
	require.Equal(t, "ABLP", st.ShareAsset)
	require.True(t, st.Activated)
	require.False(t, st.IsStable())
}

func TestSeedFixture(t *testing.T) {
	st := newCP(t)
	minted, err := st.Seed(1000, 10_000_000)
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000_000), minted)
	require.Equal(t, int64(100_000_000), st.CurrentPrice())

	_, err = st.Seed(1, 1)
	require.ErrorIs(t, err, ErrAlreadySeeded)

	k, err := st.CurrentKLp()
	require.NoError(t, err)
	require.Equal(t, "1000000000000000000", k.String())
}

func TestSeedRejectsZero(t *testing.T) {
	st := newCP(t)
	_, err := st.Seed(0, 10)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestStableSeed(t *testing.T) {
	st, err := New(Config{
		ID:            "S",
		AssetA:        model.Asset{ID: "USDA", Decimals: 6},
		AssetB:        model.Asset{ID: "USDB", Decimals: 6},
		Amplification: 100,
	})
	require.NoError(t, err)
	require.True(t, st.IsStable())
	minted, err := st.Seed(1_000_000_000, 1_000_000_000)
	require.NoError(t, err)
	require.Equal(t, int64(200_000_000_000), minted)
}

func TestRecordPriceUpserts(t *testing.T) {
	st := newCP(t)
	_, err := st.Seed(1000, 10_000_000)
	require.NoError(t, err)

	st.RecordPrice(2, 20)
	st.RecordPrice(1, 10)
	st.ReserveB = 20_000_000
	p := st.RecordPrice(2, 20)

	require.Equal(t, int64(200_000_000), p.Price)
	require.Equal(t, p.Price, st.PriceLast)
	require.Len(t, st.PriceHistory, 2)
	require.Equal(t, uint64(1), st.PriceHistory[0].Height)
	require.Equal(t, int64(200_000_000), st.PriceHistory[1].Price)
}

func TestCloneIsDeep(t *testing.T) {
	st := newCP(t)
	st.AddPosition(model.Position{User: "u", TxID: "t"})
	st.RecordPrice(1, 1)
	st.KLp = big.NewInt(5)

	c := st.Clone()
	c.AddPosition(model.Position{User: "u", TxID: "t2"})
	c.PriceHistory[0].Price = 99
	c.KLp.SetInt64(6)

	require.Len(t, st.Positions, 1)
	require.Zero(t, st.PriceHistory[0].Price)
	require.Equal(t, int64(5), st.KLp.Int64())
	require.True(t, c.HasPosition("u", "t2"))
	require.Equal(t, []string{model.PositionKey("u", "t"), model.PositionKey("u", "t2")}, c.PositionKeys())
}

func TestStageDefersRecordsUntilApply(t *testing.T) {
	st := newCP(t)
	_, err := st.Seed(1000, 10_000_000)
	require.NoError(t, err)
	st.RecordPrice(1, 10)
	st.KLp = big.NewInt(5)

	next := st.Stage()
	next.ReserveB = 20_000_000
	next.KLp.SetInt64(6)
	point := next.MarkPrice(2, 20)
	require.Equal(t, int64(200_000_000), next.PriceLast)
	require.Len(t, next.PriceHistory, 1)
	require.Equal(t, int64(100_000_000), st.PriceLast)
	require.Equal(t, int64(5), st.KLp.Int64())

	_, ok := next.PriceAt(2, 20)
	require.False(t, ok)
	next.Apply(Change{Price: point, Position: model.Position{User: "u", TxID: "t"}})
	got, ok := next.PriceAt(2, 20)
	require.True(t, ok)
	require.Equal(t, point, got)
	require.Len(t, next.PriceHistory, 2)
	require.Len(t, st.PriceHistory, 1)
	require.True(t, next.HasPosition("u", "t"))
}

func TestCheckMonotonic(t *testing.T) {
	before := newCP(t)
	_, err := before.Seed(1000, 10_000_000)
	require.NoError(t, err)

	grown := before.Clone()
	grown.ReserveA += 10
	require.NoError(t, CheckMonotonic(before, grown))

	shrunk := before.Clone()
	shrunk.ReserveA--
	require.ErrorIs(t, CheckMonotonic(before, shrunk), ErrInvariantDecreased)

	broken := before.Clone()
	broken.ReserveA, broken.ReserveB = 0, 0
	require.ErrorIs(t, CheckMonotonic(before, broken), ErrInvariantDecreased)
}

func TestCheckDrift(t *testing.T) {
	st := newCP(t)
	_, err := st.Seed(1000, 10_000_000)
	require.NoError(t, err)
	_, err = st.RefreshKLp(7)
	require.NoError(t, err)
	require.Equal(t, uint64(7), st.KLpRefreshedHeight)
	require.NoError(t, st.CheckDrift())

	st.ReserveA = 900
	require.ErrorIs(t, st.CheckDrift(), ErrStateDrift)
}

func TestAssetIndex(t *testing.T) {
	st := newCP(t)
	i, ok := st.AssetIndex("BBB")
	require.True(t, ok)
	require.Equal(t, 1, i)
	_, ok = st.AssetIndex("ZZZ")
	require.False(t, ok)

	st.AddReserve(i, 5)
	r, asset := st.Reserve(i)
	require.Equal(t, int64(5), r)
	require.Equal(t, "BBB", asset.ID)
}

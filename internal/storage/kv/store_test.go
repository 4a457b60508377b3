package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"poolEngine/internal/model"
	"poolEngine/internal/pool"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seededPool(t *testing.T, id string) *pool.State {
	t.Helper()
	st, err := pool.New(pool.Config{
		ID:      id,
		AssetA:  model.Asset{ID: "AAA", Decimals: 2},
		AssetB:  model.Asset{ID: "BBB", Decimals: 6},
		FeeRate: pool.DefaultFeeRate,
	})
	require.NoError(t, err)
	_, err = st.Seed(1000, 10_000_000)
	require.NoError(t, err)
	st.RecordPrice(10, 1_700_000_000)
	st.RecordPrice(9, 1_700_000_500)
	_, err = st.RefreshKLp(10)
	require.NoError(t, err)
	st.AddPosition(model.Position{Tag: model.TagPut, Op: model.OpPut, User: "lp", TxID: "t1", Shares: st.ShareSupply})
	return st
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	st := seededPool(t, "POOL")
	require.NoError(t, s.SavePool(ctx, st))

	got, err := s.LoadPool(ctx, "POOL")
	require.NoError(t, err)
	require.Equal(t, st.AssetA, got.AssetA)
	require.Equal(t, st.ShareAsset, got.ShareAsset)
	require.Equal(t, st.ReserveA, got.ReserveA)
	require.Equal(t, st.ReserveB, got.ReserveB)
	require.Equal(t, st.ShareSupply, got.ShareSupply)
	require.Equal(t, st.FeeRate, got.FeeRate)
	require.Equal(t, st.FeeScale, got.FeeScale)
	require.Equal(t, st.PriceLast, got.PriceLast)
	require.Equal(t, st.PriceHistory, got.PriceHistory)
	require.Equal(t, uint64(9), got.PriceHistory[0].Height)
	require.Equal(t, st.Positions, got.Positions)
	require.Zero(t, st.KLp.Cmp(got.KLp))
	require.Equal(t, uint64(10), got.KLpRefreshedHeight)
	require.True(t, got.Activated)
}

func TestSaveReplacesStaleKeys(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	st := seededPool(t, "POOL")
	require.NoError(t, s.SavePool(ctx, st))

	older := st.Clone()
	st.AddPosition(model.Position{Tag: model.TagGet, User: "lp", TxID: "t2"})
	st.RecordPrice(11, 1_700_000_600)
	require.NoError(t, s.SavePool(ctx, st))
	require.NoError(t, s.SavePool(ctx, older))

	got, err := s.LoadPool(ctx, "POOL")
	require.NoError(t, err)
	require.Len(t, got.Positions, 1)
	require.Len(t, got.PriceHistory, 2)
}

func TestPositionKeysDoNotCollide(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	st := seededPool(t, "POOL")
	for _, p := range []model.Position{
		{User: "a__b", TxID: "c"},
		{User: "a", TxID: "b__c"},
		{User: "a/b", TxID: "c"},
		{User: "a", TxID: "b/c"},
	} {
		require.False(t, st.HasPosition(p.User, p.TxID))
		st.AddPosition(p)
	}
	require.Len(t, st.Positions, 5)
	require.NoError(t, s.SavePool(ctx, st))

	got, err := s.LoadPool(ctx, "POOL")
	require.NoError(t, err)
	require.Equal(t, st.Positions, got.Positions)
}

func TestSaveChangeWritesOnlyNewRecords(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	st := seededPool(t, "POOL")
	require.NoError(t, s.SavePool(ctx, st))

	next := st.Stage()
	next.ReserveA += 10
	next.ShareSupply += 5
	ch := pool.Change{
		Price:    next.MarkPrice(12, 1_700_000_700),
		Position: model.Position{Tag: model.TagPut, Op: model.OpPutOneTkn, User: "bob", TxID: "t2", Shares: 5},
	}
	require.NoError(t, s.SaveChange(ctx, next, &ch))
	require.Len(t, st.PriceHistory, 2)
	require.Len(t, st.Positions, 1)
	next.Apply(ch)

	got, err := s.LoadPool(ctx, "POOL")
	require.NoError(t, err)
	require.Equal(t, next.ReserveA, got.ReserveA)
	require.Equal(t, next.ShareSupply, got.ShareSupply)
	require.Equal(t, next.PriceLast, got.PriceLast)
	require.Equal(t, next.PriceHistory, got.PriceHistory)
	require.Equal(t, next.Positions, got.Positions)
}

func TestRevertChange(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	st := seededPool(t, "POOL")
	require.NoError(t, s.SavePool(ctx, st))

	for _, point := range []model.PricePoint{
		{Height: 12, Timestamp: 1_700_000_700, Price: 1},
		// same key as an existing entry, which must come back
		{Height: 10, Timestamp: 1_700_000_000, Price: 1},
	} {
		next := st.Stage()
		next.ReserveB -= 7
		ch := pool.Change{Price: point, Position: model.Position{User: "bob", TxID: "t9"}}
		require.NoError(t, s.SaveChange(ctx, next, &ch))
		require.NoError(t, s.RevertChange(ctx, st, ch))

		got, err := s.LoadPool(ctx, "POOL")
		require.NoError(t, err)
		require.Equal(t, st.ReserveB, got.ReserveB)
		require.Equal(t, st.PriceHistory, got.PriceHistory)
		require.Equal(t, st.Positions, got.Positions)
	}
}

func TestListPoolsAndIsolation(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	require.NoError(t, s.SavePool(ctx, seededPool(t, "ZED")))
	require.NoError(t, s.SavePool(ctx, seededPool(t, "ABC")))
	require.NoError(t, s.SavePool(ctx, seededPool(t, "ABCD")))
	require.NoError(t, s.SaveGateway(ctx, []byte(`{"shares":{}}`)))

	ids, err := s.ListPools(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"ABC", "ABCD", "ZED"}, ids)

	got, err := s.LoadPool(ctx, "ABC")
	require.NoError(t, err)
	require.Len(t, got.Positions, 1)

	_, err = s.LoadPool(ctx, "NOPE")
	require.ErrorIs(t, err, ErrPoolNotFound)
}

func TestGatewaySnapshot(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	snap, err := s.LoadGateway(ctx)
	require.NoError(t, err)
	require.Nil(t, snap)

	require.NoError(t, s.SaveGateway(ctx, []byte(`{"fees":{"AAA":3}}`)))
	snap, err = s.LoadGateway(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `{"fees":{"AAA":3}}`, string(snap))
}

func TestValidateID(t *testing.T) {
	require.NoError(t, ValidateID("POOL1"))
	for _, id := range []string{"", "A__B", "A_", "gateway"} {
		require.ErrorIs(t, ValidateID(id), ErrInvalidID, id)
	}
}

func TestClosedStore(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.ErrorIs(t, s.SavePool(context.Background(), seededPool(t, "P")), ErrDBClosed)
	require.ErrorIs(t, s.SaveChange(context.Background(), seededPool(t, "P"), nil), ErrDBClosed)
}

package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"poolEngine/internal/engine"
	"poolEngine/internal/model"
	"poolEngine/internal/pool"
	"poolEngine/internal/storage"
	"poolEngine/internal/storage/kv"
)

var poolCfg = pool.Config{
	ID:      "AB",
	AssetA:  model.Asset{ID: "AAA", Decimals: 2},
	AssetB:  model.Asset{ID: "BBB", Decimals: 6},
	FeeRate: pool.DefaultFeeRate,
}

func TestActivatePutAndReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	history := filepath.Join(t.TempDir(), "ops.jsonl")

	store, err := kv.Open(dir)
	require.NoError(t, err)
	svc, err := Open(ctx, store, Options{Sinks: []storage.Sink{storage.NewJsonlSink(history)}})
	require.NoError(t, err)

	_, err = svc.Activate(ctx, poolCfg)
	require.NoError(t, err)
	_, err = svc.Activate(ctx, poolCfg)
	require.ErrorIs(t, err, ErrPoolExists)

	eng, err := svc.Engine("AB")
	require.NoError(t, err)
	res, err := eng.Put(ctx, model.Env{Caller: "alice", Height: 1, Timestamp: 10}, []model.Payment{
		{AssetID: "AAA", Amount: 1000},
		{AssetID: "BBB", Amount: 10_000_000},
	}, engine.PutParams{})
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000_000), res.Shares)
	require.NotEmpty(t, res.TxID)

	require.NoError(t, svc.SetSingleAssetDisabled(ctx, "AB", true))
	require.NoError(t, svc.Close())
	require.NoError(t, store.Close())

	var records []model.OperationRecord
	require.NoError(t, storage.ReadOperations(history, func(r model.OperationRecord) error {
		records = append(records, r)
		return nil
	}))
	require.Len(t, records, 1)
	require.Equal(t, res.TxID, records[0].TxID)

	store, err = kv.Open(dir)
	require.NoError(t, err)
	defer store.Close()
	svc, err = Open(ctx, store, Options{})
	require.NoError(t, err)

	pools := svc.Pools()
	require.Len(t, pools, 1)
	require.Equal(t, int64(1000), pools[0].ReserveA)
	require.Equal(t, int64(1_000_000_000), pools[0].ShareSupply)
	require.True(t, pools[0].HasPosition("alice", res.TxID))

	require.Equal(t, int64(1_000_000_000), svc.Gateway().Shares("AB"))
	disabled, err := svc.Gateway().IsSingleAssetDisabled(ctx, "AB")
	require.NoError(t, err)
	require.True(t, disabled)

	meta, ok := svc.PoolMeta().Get("AB")
	require.True(t, ok)
	require.Equal(t, uint8(6), meta.DecimalsB)
	require.Equal(t, uint64(1), meta.FirstSeenHeight)
}

func TestActivateRejectsBadIDs(t *testing.T) {
	ctx := context.Background()
	store, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	svc, err := Open(ctx, store, Options{})
	require.NoError(t, err)

	cfg := poolCfg
	cfg.ID = "A__B"
	_, err = svc.Activate(ctx, cfg)
	require.ErrorIs(t, err, kv.ErrInvalidID)

	_, err = svc.Engine("missing")
	require.ErrorIs(t, err, ErrUnknownPool)
	require.ErrorIs(t, svc.SetSingleAssetDisabled(ctx, "missing", true), ErrUnknownPool)
}

type memHistory struct {
	pools  []model.Pool
	prices map[string][]model.PricePoint
}

func (w *memHistory) UpsertPools(_ context.Context, pools []model.Pool) error {
	w.pools = append(w.pools, pools...)
	return nil
}

func (w *memHistory) UpsertPrices(_ context.Context, poolID string, points []model.PricePoint) error {
	if w.prices == nil {
		w.prices = make(map[string][]model.PricePoint)
	}
	w.prices[poolID] = append(w.prices[poolID], points...)
	return nil
}

func TestBackfillWritesPriceHistory(t *testing.T) {
	ctx := context.Background()
	store, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	svc, err := Open(ctx, store, Options{})
	require.NoError(t, err)
	defer svc.Close()

	_, err = svc.Activate(ctx, poolCfg)
	require.NoError(t, err)
	idle := poolCfg
	idle.ID = "CD"
	_, err = svc.Activate(ctx, idle)
	require.NoError(t, err)

	eng, err := svc.Engine("AB")
	require.NoError(t, err)
	pays := []model.Payment{{AssetID: "AAA", Amount: 1000}, {AssetID: "BBB", Amount: 10_000_000}}
	for i := uint64(1); i <= 3; i++ {
		_, err := eng.Put(ctx, model.Env{Caller: "alice", Height: i, Timestamp: 10 * i}, pays, engine.PutParams{})
		require.NoError(t, err)
	}

	w := &memHistory{}
	n, err := svc.Backfill(ctx, w)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Len(t, w.pools, 2)
	require.Equal(t, "AB", w.pools[0].ID)
	require.Equal(t, uint64(1), w.pools[0].FirstSeenHeight)
	require.Len(t, w.prices["AB"], 3)
	require.Equal(t, uint64(30), w.prices["AB"][2].Timestamp)
	require.Empty(t, w.prices["CD"])
}

func TestCommitsSurviveClosedHistory(t *testing.T) {
	ctx := context.Background()
	store, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	history := filepath.Join(t.TempDir(), "ops.jsonl")
	svc, err := Open(ctx, store, Options{Sinks: []storage.Sink{storage.NewJsonlSink(history)}})
	require.NoError(t, err)
	_, err = svc.Activate(ctx, poolCfg)
	require.NoError(t, err)
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())

	eng, err := svc.Engine("AB")
	require.NoError(t, err)
	_, err = eng.Put(ctx, model.Env{Caller: "alice", Height: 1, Timestamp: 10}, []model.Payment{
		{AssetID: "AAA", Amount: 1000},
		{AssetID: "BBB", Amount: 10_000_000},
	}, engine.PutParams{})
	require.NoError(t, err)

	lines := 0
	require.NoError(t, storage.ReadOperations(history, func(model.OperationRecord) error {
		lines++
		return nil
	}))
	require.Zero(t, lines)
}

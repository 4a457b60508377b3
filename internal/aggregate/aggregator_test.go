package aggregate

import (
	"bytes"
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"poolEngine/internal/model"
	"poolEngine/internal/storage"
)

type memWriter struct {
	pools []model.Pool
	stats []model.PoolWindowStats
}

func (w *memWriter) UpsertPools(_ context.Context, pools []model.Pool) error {
	w.pools = append(w.pools, pools...)
	return nil
}

func (w *memWriter) UpsertWindowStats(_ context.Context, stats []model.PoolWindowStats) error {
	w.stats = append(w.stats, stats...)
	return nil
}

const hour = 3600

func writeHistory(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ops.jsonl")
	base := model.OperationRecord{PoolID: "POOL", AssetA: "AAA", AssetB: "BBB"}
	recs := []model.OperationRecord{
		{Tag: model.TagPut, Op: model.OpPut, AmountA: 1000, AmountB: 10_000_000, Shares: 1_000_000_000,
			Price: 100_000_000, ReserveA: 1000, ReserveB: 10_000_000, ShareSupply: 1_000_000_000, Height: 1, Timestamp: 10*hour + 5},
		{Tag: model.TagPut, Op: model.OpPutOneTkn, AmountA: 10_000, Shares: 2_315_116_890, Fee: 10,
			Price: 9_099_181, ReserveA: 10_990, ReserveB: 10_000_000, ShareSupply: 3_315_116_890, Height: 2, Timestamp: 10*hour + 100},
		{Tag: model.TagGet, Op: model.OpGetOneTkn, AmountB: 1_898_100, Shares: 100_000_000, Fee: 1_900,
			Price: 7_560_236, ReserveA: 10_990, ReserveB: 8_308_870, ShareSupply: 3_215_116_890, Height: 3, Timestamp: 11*hour + 1},
	}
	var out []model.OperationRecord
	for _, r := range recs {
		r.PoolID, r.AssetA, r.AssetB = base.PoolID, base.AssetA, base.AssetB
		out = append(out, r)
	}
	require.NoError(t, storage.NewJsonlSink(path).PutOperations(out))
	return path
}

func TestAggregatorWindows(t *testing.T) {
	path := writeHistory(t)
	cache := NewPoolMetaCache()
	cache.Set(model.Pool{ID: "POOL", AssetA: "AAA", AssetB: "BBB", DecimalsA: 2, DecimalsB: 6})
	writer := &memWriter{}
	statePath := filepath.Join(t.TempDir(), "state.json")
	state := &FileStateStore{Path: statePath, Name: "POOL-3600"}

	agg := NewAggregator(Config{WindowSeconds: hour, StateStore: state}, writer, cache, nil)
	require.NoError(t, agg.Run(context.Background(), path))

	require.Len(t, writer.stats, 2)
	first := writer.stats[0]
	require.Equal(t, uint64(2), first.PutCount)
	require.Equal(t, "110.00", first.VolumeAIn)
	require.Equal(t, "10.000000", first.VolumeBIn)
	require.Equal(t, "0.10", first.FeeA)
	require.Equal(t, "33.15116890", first.SharesMinted)
	require.Equal(t, int64(9_099_181), first.LastPrice)
	require.Equal(t, "109.90", *first.ReserveA)
	require.NotNil(t, first.FeeRateA)
	require.Nil(t, first.FeeRateB)
	require.NotNil(t, first.APR)
	require.Equal(t, tvlMethodReserves, first.TVLMethod)
	require.Equal(t, int64(10*hour), first.WindowStart.Unix())

	second := writer.stats[1]
	require.Equal(t, uint64(1), second.GetCount)
	require.Equal(t, "1.898100", second.VolumeBOut)
	require.Equal(t, "0.001900", second.FeeB)

	require.Len(t, writer.pools, 1)
	require.Equal(t, uint64(1), writer.pools[0].FirstSeenHeight)

	last, ok, err := state.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(11*hour+1), last)

	// a rerun resumes after the checkpoint and emits nothing new
	writer2 := &memWriter{}
	agg2 := NewAggregator(Config{WindowSeconds: hour, StateStore: state}, writer2, cache, nil)
	require.NoError(t, agg2.Run(context.Background(), path))
	require.Empty(t, writer2.stats)
}

func TestAggregatorRequiresWindow(t *testing.T) {
	agg := NewAggregator(Config{}, &memWriter{}, nil, nil)
	require.Error(t, agg.Run(context.Background(), "unused"))
}

func TestFileStateStoreKeepsNamesApart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	a := &FileStateStore{Path: path, Name: "a"}
	b := &FileStateStore{Path: path, Name: "b"}
	require.NoError(t, a.Save(ctx, 10))
	require.NoError(t, b.Save(ctx, 20))

	got, ok, err := a.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(10), got)

	_, ok, err = (&FileStateStore{Path: path, Name: "c"}).Load(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestComputeAPRAveragesBothSides(t *testing.T) {
	rate := "0.001"
	single := computeAPR(&rate, nil, 365*24*hour)
	require.NotNil(t, single)
	require.Equal(t, "0.001000000000000000", *single)

	both := computeAPR(&rate, &rate, 365*24*hour)
	require.Equal(t, "0.001000000000000000", *both)
	require.Nil(t, computeAPR(nil, nil, hour))
}

func TestFormatTokenAmount(t *testing.T) {
	require.Equal(t, "-1.50", formatTokenAmount(big.NewInt(-150), 2))
	require.Equal(t, "7", formatTokenAmount(big.NewInt(7), 0))
}

func TestJSONWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONWriter(&buf)
	require.NoError(t, w.UpsertWindowStats(context.Background(), []model.PoolWindowStats{{PoolID: "P"}}))
	require.Contains(t, buf.String(), `"PoolID":"P"`)
}

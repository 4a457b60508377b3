package metrics

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"poolEngine/internal/engine"
	"poolEngine/internal/model"
)

func TestCommittedUpdatesCountersAndGauges(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	m.Committed(model.OperationRecord{
		PoolID: "P", Tag: model.TagPut, Op: model.OpPutOneTkn,
		Shares: 100, Fee: 10, ReserveA: 1000, ReserveB: 2000, ShareSupply: 500, Price: 42, Height: 7,
	})
	m.Committed(model.OperationRecord{PoolID: "P", Tag: model.TagGet, Op: model.OpGet, Shares: 40})

	require.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("P", model.OpPutOneTkn)))
	require.Equal(t, 100.0, testutil.ToFloat64(m.shares.WithLabelValues("P", "P")))
	require.Equal(t, 40.0, testutil.ToFloat64(m.shares.WithLabelValues("P", "G")))
	require.Equal(t, 10.0, testutil.ToFloat64(m.fees.WithLabelValues("P", model.OpPutOneTkn)))
	require.Equal(t, 7.0, testutil.ToFloat64(m.height.WithLabelValues("P")))
	// the second record carries zero reserves
	require.Equal(t, 0.0, testutil.ToFloat64(m.reserveA.WithLabelValues("P")))
}

func TestFailedLabelsReason(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	m.Failed("P", model.OpPut, fmt.Errorf("wrapped: %w", engine.ErrSlippageExceeded))
	m.Failed("P", model.OpPut, engine.ErrNotSeeded)
	m.Failed("P", model.OpPut, engine.ErrNotSeeded)

	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("P", model.OpPut, "slippage")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.failures.WithLabelValues("P", model.OpPut, "not_seeded")))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestObserveSetsGauges(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	m.Observe("Q", 1, 2, 3, 4)
	require.Equal(t, 2.0, testutil.ToFloat64(m.reserveB.WithLabelValues("Q")))
	require.Equal(t, 4.0, testutil.ToFloat64(m.price.WithLabelValues("Q")))
}

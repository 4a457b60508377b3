package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"poolEngine/internal/model"
)

// gatedSink blocks every write until release is closed.
type gatedSink struct {
	release chan struct{}
	mu      sync.Mutex
	got     []string
	err     error
}

func (s *gatedSink) PutOperations(records []model.OperationRecord) error {
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.got = append(s.got, r.TxID)
	}
	return s.err
}

func TestAsyncSinkDoesNotWaitForWriter(t *testing.T) {
	inner := &gatedSink{release: make(chan struct{})}
	sink := NewAsyncSink(inner, 16, nil)

	var want []string
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("tx-%d", i)
		want = append(want, id)
		require.NoError(t, sink.PutOperations([]model.OperationRecord{{PoolID: "POOL", TxID: id}}))
	}
	close(inner.release)
	require.NoError(t, sink.Close())
	require.Equal(t, want, inner.got)

	require.ErrorIs(t, sink.PutOperations([]model.OperationRecord{{TxID: "late"}}), ErrSinkClosed)
	require.NoError(t, sink.Close())
}

func TestAsyncSinkReportsFailures(t *testing.T) {
	boom := errors.New("db down")
	inner := &gatedSink{release: make(chan struct{}), err: boom}
	close(inner.release)

	var mu sync.Mutex
	var failed []string
	var errs []error
	sink := NewAsyncSink(inner, 4, func(records []model.OperationRecord, err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err)
		for _, r := range records {
			failed = append(failed, r.TxID)
		}
	})
	require.NoError(t, sink.PutOperations([]model.OperationRecord{{TxID: "a"}, {TxID: "b"}}))
	require.NoError(t, sink.Close())
	require.Equal(t, []string{"a", "b"}, failed)
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], boom)
}

func TestAsyncSinkOverJsonl(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.jsonl")
	sink := NewAsyncSink(NewJsonlSink(path), 2, nil)

	records := []model.OperationRecord{
		{PoolID: "POOL", Op: model.OpPut, TxID: "a"},
		{PoolID: "POOL", Op: model.OpGet, TxID: "b"},
	}
	require.NoError(t, sink.PutOperations(records))
	records[0].TxID = "mutated"
	require.NoError(t, sink.PutOperations([]model.OperationRecord{{PoolID: "POOL", Op: model.OpPut, TxID: "c"}}))
	require.NoError(t, sink.Close())

	var got []string
	require.NoError(t, ReadOperations(path, func(rec model.OperationRecord) error {
		got = append(got, rec.TxID)
		return nil
	}))
	require.Equal(t, []string{"a", "b", "c"}, got)
}

package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvValidate(t *testing.T) {
	require.NoError(t, Env{Caller: "a", TxID: "t"}.Validate())
	require.Error(t, Env{TxID: "t"}.Validate())
	require.Error(t, Env{Caller: "a"}.Validate())
}

func TestOperationIDIsDeterministic(t *testing.T) {
	a := OperationID("P", "alice", OpPut, 1, 10, 0)
	require.Equal(t, a, OperationID("P", "alice", OpPut, 1, 10, 0))
	require.NotEqual(t, a, OperationID("P", "alice", OpPut, 1, 10, 1))
	require.Len(t, a, 66)
	require.Equal(t, "0x", a[:2])
}

func TestAssetValidate(t *testing.T) {
	require.NoError(t, Asset{ID: "A", Decimals: 18}.Validate())
	require.Error(t, Asset{Decimals: 2}.Validate())
	require.Error(t, Asset{ID: "A", Decimals: 19}.Validate())
}

func TestPositionKeyIsUnambiguous(t *testing.T) {
	require.Equal(t, "5:alice/tx-1", PositionKey("alice", "tx-1"))
	seen := make(map[string]bool)
	for _, pair := range [][2]string{
		{"a/b", "c"}, {"a", "b/c"}, {"a__b", "c"}, {"a", "b__c"}, {"1:a", "b"}, {"", "3:a/b"},
	} {
		key := PositionKey(pair[0], pair[1])
		require.False(t, seen[key], key)
		seen[key] = true
	}
}

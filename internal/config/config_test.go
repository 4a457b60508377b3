package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"poolEngine/internal/pool"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Equal(t, "./data/state", cfg.DataDir)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, 500*time.Millisecond, cfg.RetryBackoff)

	rate, scale := cfg.PoolDefaults()
	require.Equal(t, pool.DefaultFeeRate, rate)
	require.Equal(t, pool.DefaultFeeScale, scale)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "poolctl.yaml")
	require.NoError(t, os.WriteFile(file, []byte("data-dir: /from/file\nlog-level: warn\nfee-rate: 300000\n"), 0o644))
	t.Setenv("POOLCTL_LOG_LEVEL", "debug")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("data-dir", "", "")
	require.NoError(t, flags.Parse([]string{"--data-dir", "/from/flag"}))

	cfg, err := Load(file, flags)
	require.NoError(t, err)
	require.Equal(t, "/from/flag", cfg.DataDir)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, int64(300_000), cfg.FeeRate)
}

func TestPoolDefaultsLegacy(t *testing.T) {
	cfg := Config{FeeRate: -1, LegacyFee: true}
	rate, scale := cfg.PoolDefaults()
	require.Equal(t, pool.LegacyFeeScale, scale)
	require.Equal(t, int64(1), rate)

	cfg = Config{FeeRate: 3, LegacyFee: true}
	rate, _ = cfg.PoolDefaults()
	require.Equal(t, int64(3), rate)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
}

func TestLoadServeAndAggregate(t *testing.T) {
	t.Setenv("POOLCTL_LISTEN", ":9999")
	t.Setenv("POOLCTL_HISTORY_OUT", "/tmp/ops.jsonl")

	serve, err := LoadServe("", nil)
	require.NoError(t, err)
	require.Equal(t, ":9999", serve.Listen)
	require.Equal(t, 10*time.Second, serve.ShutdownTimeout)

	agg, err := LoadAggregate("", nil)
	require.NoError(t, err)
	require.Equal(t, "/tmp/ops.jsonl", agg.Input)
	secs, err := agg.WindowSeconds()
	require.NoError(t, err)
	require.Equal(t, uint64(300), secs)

	agg.Window = "1500ms"
	_, err = agg.WindowSeconds()
	require.Error(t, err)
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("1700000000")
	require.NoError(t, err)
	require.Equal(t, uint64(1_700_000_000), ts)

	ts, err = ParseTimestamp("2023-11-14T22:13:20Z")
	require.NoError(t, err)
	require.Equal(t, uint64(1_700_000_000), ts)

	ts, err = ParseTimestamp(" ")
	require.NoError(t, err)
	require.Zero(t, ts)

	_, err = ParseTimestamp("yesterday")
	require.Error(t, err)
}

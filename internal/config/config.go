package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"poolEngine/internal/pool"
)

const envPrefix = "POOLCTL"

// Config holds the settings shared by every command.
type Config struct {
	DataDir        string
	PGDSN          string
	HistoryOut     string
	LogLevel       string
	ConnectRetries int
	RetryBackoff   time.Duration

	// activation defaults
	FeeRate       int64
	FeeScale      int64
	Amplification uint64
	LegacyFee     bool

	SlippageBp int64
}

// PoolDefaults returns the fee scale and rate new pools are activated with.
func (c Config) PoolDefaults() (rate, scale int64) {
	scale = c.FeeScale
	if c.LegacyFee {
		scale = pool.LegacyFeeScale
	}
	if scale == 0 {
		scale = pool.DefaultFeeScale
	}
	rate = c.FeeRate
	if rate < 0 {
		// scale the default 0.1% to the chosen scale
		rate = pool.DefaultFeeRate * scale / pool.DefaultFeeScale
	}
	return rate, scale
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return Config{}, err
	}
	return fromViper(v), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data-dir", "./data/state")
	v.SetDefault("history-out", "./data/operations.jsonl")
	v.SetDefault("log-level", "info")
	v.SetDefault("connect-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("fee-rate", int64(-1))
	v.SetDefault("fee-scale", pool.DefaultFeeScale)
	v.SetDefault("amplification", uint64(0))
	v.SetDefault("legacy-fee", false)
	v.SetDefault("slippage-bp", int64(0))
	v.SetDefault("listen", ":8080")
	v.SetDefault("shutdown-timeout", 10*time.Second)
	v.SetDefault("window", "5m")
	v.SetDefault("batch-size", 1000)
}

// newViper builds a viper instance with defaults, POOLCTL_ env, bound flags
// and an optional config file (./config.* when cfgFile is empty).
func newViper(cfgFile string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func fromViper(v *viper.Viper) Config {
	return Config{
		DataDir:        v.GetString("data-dir"),
		PGDSN:          v.GetString("pg-dsn"),
		HistoryOut:     v.GetString("history-out"),
		LogLevel:       v.GetString("log-level"),
		ConnectRetries: v.GetInt("connect-retries"),
		RetryBackoff:   v.GetDuration("retry-backoff"),
		FeeRate:        v.GetInt64("fee-rate"),
		FeeScale:       v.GetInt64("fee-scale"),
		Amplification:  v.GetUint64("amplification"),
		LegacyFee:      v.GetBool("legacy-fee"),
		SlippageBp:     v.GetInt64("slippage-bp"),
	}
}

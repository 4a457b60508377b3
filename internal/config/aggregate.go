package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// AggregateConfig holds configuration for aggregation.
type AggregateConfig struct {
	Config
	Input         string
	Window        string
	BatchSize     int
	StateFile     string
	RecomputeFrom string
}

// LoadAggregate merges config file, environment variables, and flags into AggregateConfig.
// The input defaults to the operation history written by the engine.
func LoadAggregate(cfgFile string, flags *pflag.FlagSet) (AggregateConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return AggregateConfig{}, err
	}
	base := fromViper(v)
	input := v.GetString("in")
	if input == "" {
		input = base.HistoryOut
	}
	return AggregateConfig{
		Config:        base,
		Input:         input,
		Window:        v.GetString("window"),
		BatchSize:     v.GetInt("batch-size"),
		StateFile:     v.GetString("state-file"),
		RecomputeFrom: v.GetString("recompute-from"),
	}, nil
}

// WindowSeconds parses the window duration into whole seconds.
func (c AggregateConfig) WindowSeconds() (uint64, error) {
	d, err := time.ParseDuration(c.Window)
	if err != nil {
		return 0, fmt.Errorf("invalid window %q: %w", c.Window, err)
	}
	if d < time.Second || d%time.Second != 0 {
		return 0, fmt.Errorf("window %q must be a positive whole number of seconds", c.Window)
	}
	return uint64(d / time.Second), nil
}

// ParseTimestamp parses a timestamp value (unix seconds or RFC3339).
func ParseTimestamp(input string) (uint64, error) {
	if strings.TrimSpace(input) == "" {
		return 0, nil
	}

	if isNumeric(input) {
		val, err := strconv.ParseUint(input, 10, 64)
		if err != nil {
			return 0, err
		}
		return val, nil
	}

	tm, err := time.Parse(time.RFC3339, input)
	if err != nil {
		return 0, err
	}
	return uint64(tm.Unix()), nil
}

func isNumeric(input string) bool {
	for _, r := range input {
		if r < '0' || r > '9' {
			return false
		}
	}
	return input != ""
}

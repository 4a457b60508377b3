package config

import (
	"time"

	"github.com/spf13/pflag"
)

// ServeConfig holds configuration for the API server.
type ServeConfig struct {
	Config
	Listen          string
	ShutdownTimeout time.Duration
}

// LoadServe merges config file, environment variables, and flags into ServeConfig.
func LoadServe(cfgFile string, flags *pflag.FlagSet) (ServeConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return ServeConfig{}, err
	}
	return ServeConfig{
		Config:          fromViper(v),
		Listen:          v.GetString("listen"),
		ShutdownTimeout: v.GetDuration("shutdown-timeout"),
	}, nil
}

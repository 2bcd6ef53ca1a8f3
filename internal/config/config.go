package config

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"
)

type Config interface {
	EnvConfig
	BackendConfig
	SessionConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetDataFolder() string
	GetEnv() string
	GetLogLevel() string
}

type mainConfig struct {
	EnvVars
	Backend
	Session
}

// Load reads the configuration from the process environment.
func Load(ctx context.Context) (Config, error) {
	return LoadWithLookuper(ctx, envconfig.OsLookuper())
}

// LoadWithLookuper reads the configuration from the given lookuper, which lets
// tests supply values without touching the process environment.
func LoadWithLookuper(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var c mainConfig
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &c,
		Lookuper: lookuper,
	}); err != nil {
		return nil, errors.Wrap(err, "[config.Load] envconfig.Process")
	}
	if err := c.Backend.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

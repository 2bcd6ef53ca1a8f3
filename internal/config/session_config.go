package config

import "time"

type SessionConfig interface {
	GetMainBootstrapTimeout() time.Duration
	GetExpiryBuffer() time.Duration
	GetAutoRefreshInterval() time.Duration
}

type Session struct {
	MainBootstrapTimeout time.Duration `env:"MAIN_BOOTSTRAP_TIMEOUT,default=3s"`
	ExpiryBuffer         time.Duration `env:"TOKEN_EXPIRY_BUFFER,default=60s"`
	AutoRefreshInterval  time.Duration `env:"AUTO_REFRESH_INTERVAL,default=30s"`
}

var _ SessionConfig = Session{}

// GetMainBootstrapTimeout bounds the buyer session bootstrap so guests never wait on auth.
func (s Session) GetMainBootstrapTimeout() time.Duration {
	return s.MainBootstrapTimeout
}

func (s Session) GetExpiryBuffer() time.Duration {
	return s.ExpiryBuffer
}

func (s Session) GetAutoRefreshInterval() time.Duration {
	return s.AutoRefreshInterval
}

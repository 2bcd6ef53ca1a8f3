package config

import (
	"net/url"
	"time"

	"github.com/pkg/errors"
)

type BackendConfig interface {
	GetBackendURL() string
	GetPublicKey() string
	GetHTTPTimeout() time.Duration
}

// Backend describes the hosted auth + REST backend shared by every session.
type Backend struct {
	URL         string        `env:"BACKEND_URL,required"`
	AnonKey     string        `env:"BACKEND_ANON_KEY,required"`
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT,default=10s"`
}

var _ BackendConfig = Backend{}

// GetBackendURL returns the backend base URL without a trailing slash
// (e.g., "https://abcd.supabase.co")
func (b Backend) GetBackendURL() string {
	u := b.URL
	for len(u) > 0 && u[len(u)-1] == '/' {
		u = u[:len(u)-1]
	}
	return u
}

// GetPublicKey returns the anonymous key sent as `apikey` on every request.
func (b Backend) GetPublicKey() string {
	return b.AnonKey
}

func (b Backend) GetHTTPTimeout() time.Duration {
	return b.HTTPTimeout
}

func (b Backend) validate() error {
	u, err := url.Parse(b.URL)
	if err != nil {
		return errors.Wrap(err, "[config] invalid BACKEND_URL")
	}
	if u.Scheme == "" || u.Host == "" {
		return errors.Errorf("[config] BACKEND_URL must be absolute, got %q", b.URL)
	}
	return nil
}

package auth

import (
	"fmt"
	"time"

	"github.com/jrsteele09/go-storefront-auth/internal/config"
	apperrors "github.com/jrsteele09/go-storefront-auth/internal/errors"
	"github.com/jrsteele09/go-storefront-auth/sessions"
)

// DefaultMainBootstrapTimeout bounds the buyer session bootstrap.
const DefaultMainBootstrapTimeout = 3 * time.Second

// AuthConfig parameterises one SessionManager. The three session types differ
// only in these fields.
type AuthConfig struct {
	SessionType      sessions.SessionType
	ExposeSignIn     bool          // In-context sign-in (seller/admin consoles)
	BootstrapTimeout time.Duration // Zero waits for the backend however long it takes
}

// MainConfig is the buyer session: no in-context sign-in (it is a full-page
// flow) and a bounded bootstrap so guests are never stuck on a loading screen.
func MainConfig() AuthConfig {
	return AuthConfig{
		SessionType:      sessions.Main,
		BootstrapTimeout: DefaultMainBootstrapTimeout,
	}
}

// SellerConfig is the seller console session.
func SellerConfig() AuthConfig {
	return AuthConfig{
		SessionType:  sessions.Seller,
		ExposeSignIn: true,
	}
}

// AdminConfig is the admin console session.
func AdminConfig() AuthConfig {
	return AuthConfig{
		SessionType:  sessions.Admin,
		ExposeSignIn: true,
	}
}

// DefaultConfigs returns the three presets, taking the buyer bootstrap timeout
// from configuration when it is set.
func DefaultConfigs(c config.SessionConfig) []AuthConfig {
	buyer := MainConfig()
	if c != nil && c.GetMainBootstrapTimeout() > 0 {
		buyer.BootstrapTimeout = c.GetMainBootstrapTimeout()
	}
	return []AuthConfig{buyer, SellerConfig(), AdminConfig()}
}

func (c AuthConfig) validate() error {
	if !c.SessionType.Valid() {
		return apperrors.Wrapf(apperrors.ErrUnknownSessionType, "%q", c.SessionType)
	}
	if c.BootstrapTimeout < 0 {
		return fmt.Errorf("negative bootstrap timeout for %s", c.SessionType)
	}
	return nil
}

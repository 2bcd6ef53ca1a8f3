package token

import (
	"encoding/json"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/go-storefront-auth/internal/errors"
	"github.com/jrsteele09/go-storefront-auth/sessions"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// Bundle is the token set persisted under a session's storage key. The JSON
// layout matches what the backend auth client writes.
type Bundle struct {
	AccessToken  string         `json:"access_token"`            // JWT bearer token
	TokenType    string         `json:"token_type,omitempty"`    // Usually "bearer"
	ExpiresIn    int64          `json:"expires_in,omitempty"`    // Lifetime in seconds at issue time
	ExpiresAt    int64          `json:"expires_at,omitempty"`    // Unix seconds, mirrors the JWT exp claim
	RefreshToken string         `json:"refresh_token,omitempty"` // Opaque refresh token
	User         *sessions.User `json:"user,omitempty"`
}

// envelope accepts the older layouts where the bundle sits under a nested key.
type envelope struct {
	Bundle
	Session        *Bundle `json:"session,omitempty"`
	CurrentSession *Bundle `json:"currentSession,omitempty"`
}

// ParseBundle decodes a persisted bundle. A bundle without an access token is invalid.
func ParseBundle(data []byte) (*Bundle, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "[ParseBundle] json.Unmarshal")
	}

	b := env.Bundle
	if strings.TrimSpace(b.AccessToken) == "" {
		switch {
		case env.Session != nil:
			b = *env.Session
		case env.CurrentSession != nil:
			b = *env.CurrentSession
		}
	}
	if strings.TrimSpace(b.AccessToken) == "" {
		return nil, errors.Wrap(apperrors.ErrInvalidToken, "[ParseBundle] missing access_token")
	}
	return &b, nil
}

func (b *Bundle) Marshal() ([]byte, error) {
	return json.Marshal(b)
}

// Expiry returns expires_at as a time, zero when unknown.
func (b *Bundle) Expiry() time.Time {
	if b == nil || b.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(b.ExpiresAt, 0)
}

// OAuth2Token converts the bundle for use with golang.org/x/oauth2 clients.
func (b *Bundle) OAuth2Token() *oauth2.Token {
	if b == nil {
		return nil
	}
	tokenType := b.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}
	return &oauth2.Token{
		AccessToken:  b.AccessToken,
		TokenType:    tokenType,
		RefreshToken: b.RefreshToken,
		Expiry:       b.Expiry(),
	}
}

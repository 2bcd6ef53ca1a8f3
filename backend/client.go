package backend

import (
	"context"

	"github.com/jrsteele09/go-storefront-auth/sessions"
	"github.com/jrsteele09/go-storefront-auth/token"
	"github.com/jrsteele09/go-storefront-auth/token/jwt"
)

// Client is one session type's auth client instance. Each instance persists its
// bundle under its own storage key and notifies only its own listeners.
type Client interface {
	// SignInWithPassword verifies credentials and persists the issued bundle
	SignInWithPassword(ctx context.Context, email, password string) (*token.Bundle, error)

	// SignOut revokes the session remotely and always clears the local bundle
	SignOut(ctx context.Context) error

	// GetSession restores the persisted bundle and validates it against the
	// backend, refreshing it first when expired. Returns nil, nil when no bundle is stored.
	GetSession(ctx context.Context) (*token.Bundle, error)

	// RefreshSession exchanges the persisted refresh token for a new bundle
	RefreshSession(ctx context.Context) (*token.Bundle, error)

	// CurrentBundle reads the persisted bundle without any network call
	CurrentBundle() (*token.Bundle, error)

	// OnAuthStateChange registers listener until the returned subscription is released
	OnAuthStateChange(listener Listener) Subscription
}

// UserFromBundle derives the identity carried by a bundle, preferring the
// user object the backend returned and falling back to the token's claims.
func UserFromBundle(b *token.Bundle) *sessions.User {
	if b == nil || b.AccessToken == "" {
		return nil
	}
	if b.User != nil && b.User.ID != "" {
		u := *b.User
		return &u
	}
	claims, err := jwt.Decode(b.AccessToken)
	if err != nil || claims.Subject == "" {
		return nil
	}
	return &sessions.User{ID: claims.Subject, Email: claims.Email}
}

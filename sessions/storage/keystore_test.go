package storage_test

import (
	"testing"

	apperrors "github.com/jrsteele09/go-storefront-auth/internal/errors"
	"github.com/jrsteele09/go-storefront-auth/sessions"
	"github.com/jrsteele09/go-storefront-auth/sessions/storage"
	"github.com/jrsteele09/go-storefront-auth/sessions/storage/memory"
	"github.com/jrsteele09/go-storefront-auth/token"
	"github.com/stretchr/testify/require"
)

func TestKeyStoreRoundTrip(t *testing.T) {
	repo := memory.New()
	ks := storage.Bind(repo, sessions.StorageKey("abcd", sessions.Seller))
	require.Equal(t, "sb-abcd-auth-token-seller", ks.Key())

	b, err := ks.Load()
	require.NoError(t, err)
	require.Nil(t, b)

	in := &token.Bundle{
		AccessToken:  "a.b.c",
		RefreshToken: "rt",
		ExpiresAt:    1700000000,
		User:         &sessions.User{ID: "u1", Email: "u1@example.com"},
	}
	require.NoError(t, ks.Save(in))

	out, err := ks.Load()
	require.NoError(t, err)
	require.Equal(t, in, out)

	require.NoError(t, ks.Save(nil))
	_, ok, err := repo.GetItem(ks.Key())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestKeyStoresDoNotShareEntries(t *testing.T) {
	repo := memory.New()
	seller := storage.Bind(repo, sessions.StorageKey("abcd", sessions.Seller))
	admin := storage.Bind(repo, sessions.StorageKey("abcd", sessions.Admin))

	require.NoError(t, seller.Save(&token.Bundle{AccessToken: "seller-token"}))
	require.NoError(t, admin.Save(&token.Bundle{AccessToken: "admin-token"}))
	require.NoError(t, seller.Clear())

	b, err := admin.Load()
	require.NoError(t, err)
	require.Equal(t, "admin-token", b.AccessToken)
	require.Equal(t, []string{"sb-abcd-auth-token-admin"}, repo.Keys())
}

func TestKeyStoreLoadLegacyLayout(t *testing.T) {
	repo := memory.New()
	ks := storage.Bind(repo, "k")

	require.NoError(t, repo.SetItem("k", `{"currentSession":{"access_token":"nested","refresh_token":"rt"}}`))
	b, err := ks.Load()
	require.NoError(t, err)
	require.Equal(t, "nested", b.AccessToken)

	require.NoError(t, repo.SetItem("k", `{"refresh_token":"rt"}`))
	_, err = ks.Load()
	require.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

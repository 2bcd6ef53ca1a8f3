package gotrue_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-storefront-auth/backend"
	"github.com/jrsteele09/go-storefront-auth/backend/gotrue"
	apperrors "github.com/jrsteele09/go-storefront-auth/internal/errors"
	"github.com/jrsteele09/go-storefront-auth/sessions"
	"github.com/jrsteele09/go-storefront-auth/sessions/storage"
	"github.com/jrsteele09/go-storefront-auth/sessions/storage/memory"
	"github.com/jrsteele09/go-storefront-auth/token"
	"github.com/jrsteele09/go-storefront-auth/token/jwt"
	"github.com/jrsteele09/go-storefront-auth/token/keys"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testAPIKey   = "anon-key"
	testUserID   = "7d0f5a5e-3c55-4a43-9f0e-8d3cb1f0d6a1"
	testEmail    = "sam@seller.example.com"
	testPassword = "Seller-Password-1"
)

// fakeAuthServer answers the /auth/v1 endpoints the client uses.
type fakeAuthServer struct {
	t      *testing.T
	signer keys.Signer
	srv    *httptest.Server

	lock          sync.Mutex
	refreshTokens map[string]bool
	tokenTTL      time.Duration
	logoutStatus  int
	refreshDelay  time.Duration

	refreshHits atomic.Int32
	logoutHits  atomic.Int32
	userHits    atomic.Int32
}

func newFakeAuthServer(t *testing.T) *fakeAuthServer {
	t.Helper()

	f := &fakeAuthServer{
		t:             t,
		signer:        keys.NewHMACSigner("test", []byte("test-secret")),
		refreshTokens: make(map[string]bool),
		tokenTTL:      time.Hour,
		logoutStatus:  http.StatusNoContent,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", f.handleToken)
	mux.HandleFunc("POST /auth/v1/logout", f.handleLogout)
	mux.HandleFunc("GET /auth/v1/user", f.handleUser)
	f.srv = httptest.NewServer(f.requireAPIKey(mux))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAuthServer) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != testAPIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "No API key found in request"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *fakeAuthServer) handleToken(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	switch r.URL.Query().Get("grant_type") {
	case "password":
		if body["email"] != testEmail || body["password"] != testPassword {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":             "invalid_grant",
				"error_description": "Invalid login credentials",
			})
			return
		}
	case "refresh_token":
		f.refreshHits.Add(1)
		f.lock.Lock()
		delay := f.refreshDelay
		f.lock.Unlock()
		time.Sleep(delay)
		f.lock.Lock()
		ok := f.refreshTokens[body["refresh_token"]]
		delete(f.refreshTokens, body["refresh_token"])
		f.lock.Unlock()
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error_code": "refresh_token_not_found",
				"msg":        "Invalid Refresh Token: Refresh Token Not Found",
			})
			return
		}
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	writeJSON(w, http.StatusOK, f.issue(f.tokenTTL, false))
}

func (f *fakeAuthServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	f.logoutHits.Add(1)
	if r.URL.Query().Get("scope") != "local" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"msg": "unexpected scope"})
		return
	}

	f.lock.Lock()
	status := f.logoutStatus
	f.lock.Unlock()
	if status >= 300 {
		writeJSON(w, status, map[string]string{"message": "upstream failure"})
		return
	}
	w.WriteHeader(status)
}

func (f *fakeAuthServer) handleUser(w http.ResponseWriter, r *http.Request) {
	f.userHits.Add(1)
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	parsed, err := jwtlib.Parse(raw, f.signer.GetVerificationKey)
	if err != nil || !parsed.Valid {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "invalid JWT"})
		return
	}
	writeJSON(w, http.StatusOK, sessions.User{ID: testUserID, Email: testEmail})
}

// issue mints a token bundle; withExpiresAt controls whether expires_at is sent.
func (f *fakeAuthServer) issue(ttl time.Duration, withExpiresAt bool) *token.Bundle {
	f.t.Helper()

	now := time.Now()
	access, err := f.signer.Sign(jwtlib.MapClaims{
		"sub":   testUserID,
		"email": testEmail,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
		"jti":   now.Format(time.RFC3339Nano),
	})
	require.NoError(f.t, err)

	refreshToken := "rt-" + now.Format(time.RFC3339Nano)
	f.lock.Lock()
	f.refreshTokens[refreshToken] = true
	f.lock.Unlock()

	b := &token.Bundle{
		AccessToken:  access,
		TokenType:    "bearer",
		ExpiresIn:    int64(ttl.Seconds()),
		RefreshToken: refreshToken,
		User:         &sessions.User{ID: testUserID, Email: testEmail},
	}
	if withExpiresAt {
		b.ExpiresAt = now.Add(ttl).Unix()
	}
	return b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type clientFixture struct {
	server *fakeAuthServer
	repo   *memory.Store
	store  *storage.KeyStore
	client *gotrue.Client
	events chan backend.Event
}

func setupClient(t *testing.T) *clientFixture {
	t.Helper()

	server := newFakeAuthServer(t)
	repo := memory.New()
	store := storage.Bind(repo, sessions.StorageKey("abcd", sessions.Seller))
	client, err := gotrue.NewClient(server.srv.URL+"/", testAPIKey, store)
	require.NoError(t, err)

	events := make(chan backend.Event, 16)
	sub := client.OnAuthStateChange(func(e backend.Event) { events <- e })
	t.Cleanup(sub.Unsubscribe)

	return &clientFixture{server: server, repo: repo, store: store, client: client, events: events}
}

func (f *clientFixture) nextEvent(t *testing.T) backend.Event {
	t.Helper()

	select {
	case e := <-f.events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no auth event")
		return backend.Event{}
	}
}

func TestNewClientValidation(t *testing.T) {
	_, err := gotrue.NewClient("", testAPIKey, storage.Bind(memory.New(), "k"))
	require.Error(t, err)

	_, err = gotrue.NewClient("http://localhost", testAPIKey, nil)
	require.Error(t, err)
}

func TestSignInWithPassword(t *testing.T) {
	f := setupClient(t)

	b, err := f.client.SignInWithPassword(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	require.Equal(t, testUserID, b.User.ID)
	require.NotZero(t, b.ExpiresAt, "expires_at derived from expires_in")

	stored, err := f.store.Load()
	require.NoError(t, err)
	require.Equal(t, b.AccessToken, stored.AccessToken)

	e := f.nextEvent(t)
	require.Equal(t, backend.SignedIn, e.Type)
	require.Equal(t, b.AccessToken, e.Bundle.AccessToken)
}

func TestSignInWithBadPassword(t *testing.T) {
	f := setupClient(t)

	_, err := f.client.SignInWithPassword(context.Background(), testEmail, "nope")
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	var apiErr *gotrue.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadRequest, apiErr.Status)
	require.Equal(t, "invalid_grant", apiErr.Code)
	require.Equal(t, "Invalid login credentials", apiErr.Message)

	stored, err := f.store.Load()
	require.NoError(t, err)
	require.Nil(t, stored)
}

func TestWrongAPIKeyIsAConfigurationError(t *testing.T) {
	server := newFakeAuthServer(t)
	client, err := gotrue.NewClient(server.srv.URL, "other-key", storage.Bind(memory.New(), "k"))
	require.NoError(t, err)

	_, err = client.SignInWithPassword(context.Background(), testEmail, testPassword)
	require.ErrorIs(t, err, apperrors.ErrBackendConfig)
	require.NotErrorIs(t, err, apperrors.ErrInvalidCredentials)

	var apiErr *gotrue.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestGetSessionHonoursExpiryBuffer(t *testing.T) {
	tests := []struct {
		name    string
		left    time.Duration
		refresh bool
	}{
		{name: "59s left is refreshed", left: 59 * time.Second, refresh: true},
		{name: "exactly 60s left is refreshed", left: 60 * time.Second, refresh: true},
		{name: "61s left is validated", left: 61 * time.Second, refresh: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newFakeAuthServer(t)
			seeded := server.issue(time.Hour, true)
			exp, err := jwt.Expiry(seeded.AccessToken)
			require.NoError(t, err)
			now := exp.Add(-tt.left)

			store := storage.Bind(memory.New(), sessions.StorageKey("abcd", sessions.Seller))
			require.NoError(t, store.Save(seeded))
			client, err := gotrue.NewClient(server.srv.URL, testAPIKey, store,
				gotrue.WithNowFunc(func() time.Time { return now }))
			require.NoError(t, err)

			b, err := client.GetSession(context.Background())
			require.NoError(t, err)
			if tt.refresh {
				require.Equal(t, int32(1), server.refreshHits.Load())
				require.Zero(t, server.userHits.Load())
				require.NotEqual(t, seeded.AccessToken, b.AccessToken)
			} else {
				require.Zero(t, server.refreshHits.Load())
				require.Equal(t, int32(1), server.userHits.Load())
				require.Equal(t, seeded.AccessToken, b.AccessToken)
			}
		})
	}
}

// failingRemoveRepo is a memory store whose RemoveItem always fails.
type failingRemoveRepo struct {
	*memory.Store
}

func (r failingRemoveRepo) RemoveItem(string) error {
	return errors.New("disk full")
}

func TestFailedClearIsLogged(t *testing.T) {
	server := newFakeAuthServer(t)
	var logs bytes.Buffer
	store := storage.Bind(failingRemoveRepo{memory.New()}, sessions.StorageKey("abcd", sessions.Seller))
	require.NoError(t, store.Save(&token.Bundle{AccessToken: "a.b.c", RefreshToken: "unknown"}))
	client, err := gotrue.NewClient(server.srv.URL, testAPIKey, store, gotrue.WithLogger(zerolog.New(&logs)))
	require.NoError(t, err)

	_, err = client.RefreshSession(context.Background())
	require.ErrorIs(t, err, apperrors.ErrInvalidRefreshToken)
	require.Contains(t, logs.String(), `"level":"warn"`)
	require.Contains(t, logs.String(), "disk full")
	require.Contains(t, logs.String(), `"reason":"revoked refresh token"`)
}

func TestGetSession(t *testing.T) {
	t.Run("nothing stored", func(t *testing.T) {
		f := setupClient(t)
		b, err := f.client.GetSession(context.Background())
		require.NoError(t, err)
		require.Nil(t, b)
		require.Zero(t, f.server.userHits.Load())
	})

	t.Run("valid token is checked with the backend", func(t *testing.T) {
		f := setupClient(t)
		seeded := f.server.issue(time.Hour, true)
		seeded.User = nil
		require.NoError(t, f.store.Save(seeded))

		b, err := f.client.GetSession(context.Background())
		require.NoError(t, err)
		require.Equal(t, seeded.AccessToken, b.AccessToken)
		require.Equal(t, testUserID, b.User.ID)
		require.Equal(t, int32(1), f.server.userHits.Load())
		require.Zero(t, f.server.refreshHits.Load())
	})

	t.Run("rejected token is cleared", func(t *testing.T) {
		f := setupClient(t)
		forged, err := keys.NewHMACSigner("x", []byte("other")).Sign(jwtlib.MapClaims{
			"sub": testUserID,
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		require.NoError(t, err)
		require.NoError(t, f.store.Save(&token.Bundle{AccessToken: forged, RefreshToken: "rt"}))

		_, err = f.client.GetSession(context.Background())
		require.ErrorIs(t, err, apperrors.ErrInvalidToken)
		_, ok, _ := f.repo.GetItem(f.store.Key())
		require.False(t, ok)
	})

	t.Run("expired token is refreshed first", func(t *testing.T) {
		f := setupClient(t)
		require.NoError(t, f.store.Save(f.server.issue(30*time.Second, true)))

		b, err := f.client.GetSession(context.Background())
		require.NoError(t, err)
		require.Equal(t, int32(1), f.server.refreshHits.Load())
		require.Zero(t, f.server.userHits.Load())
		require.Equal(t, backend.TokenRefreshed, f.nextEvent(t).Type)

		stored, err := f.store.Load()
		require.NoError(t, err)
		require.Equal(t, b.AccessToken, stored.AccessToken)
	})

	t.Run("unreadable entry is cleared", func(t *testing.T) {
		f := setupClient(t)
		require.NoError(t, f.repo.SetItem(f.store.Key(), "{not json"))

		_, err := f.client.GetSession(context.Background())
		require.Error(t, err)
		_, ok, _ := f.repo.GetItem(f.store.Key())
		require.False(t, ok)
	})
}

func TestRefreshSessionCollapsesConcurrentCalls(t *testing.T) {
	f := setupClient(t)
	f.server.lock.Lock()
	f.server.refreshDelay = 100 * time.Millisecond
	f.server.lock.Unlock()
	require.NoError(t, f.store.Save(f.server.issue(10*time.Second, true)))

	const callers = 5
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := f.client.RefreshSession(context.Background())
			errs[i] = err
			if b != nil {
				tokens[i] = b.AccessToken
			}
		}()
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		require.Equal(t, tokens[0], tokens[i])
	}
	require.Equal(t, int32(1), f.server.refreshHits.Load())
}

func TestRefreshWithRevokedTokenSignsOut(t *testing.T) {
	f := setupClient(t)
	require.NoError(t, f.store.Save(&token.Bundle{AccessToken: "a.b.c", RefreshToken: "unknown"}))

	_, err := f.client.RefreshSession(context.Background())
	require.ErrorIs(t, err, apperrors.ErrInvalidRefreshToken)
	require.Equal(t, backend.SignedOut, f.nextEvent(t).Type)

	stored, err := f.store.Load()
	require.NoError(t, err)
	require.Nil(t, stored)
}

func TestRefreshWithoutSession(t *testing.T) {
	f := setupClient(t)

	_, err := f.client.RefreshSession(context.Background())
	require.ErrorIs(t, err, apperrors.ErrNoSession)
	require.Zero(t, f.server.refreshHits.Load())
}

func TestSignOutClearsLocallyWhenRevocationFails(t *testing.T) {
	f := setupClient(t)
	_, err := f.client.SignInWithPassword(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	require.Equal(t, backend.SignedIn, f.nextEvent(t).Type)

	f.server.lock.Lock()
	f.server.logoutStatus = http.StatusBadGateway
	f.server.lock.Unlock()
	err = f.client.SignOut(context.Background())
	require.ErrorIs(t, err, apperrors.ErrBackendUnavailable)
	require.Equal(t, int32(1), f.server.logoutHits.Load())
	require.Equal(t, backend.SignedOut, f.nextEvent(t).Type)

	stored, err := f.store.Load()
	require.NoError(t, err)
	require.Nil(t, stored)
}

func TestSignOutWithoutSessionSkipsRevocation(t *testing.T) {
	f := setupClient(t)

	require.NoError(t, f.client.SignOut(context.Background()))
	require.Zero(t, f.server.logoutHits.Load())
	require.Equal(t, backend.SignedOut, f.nextEvent(t).Type)
}

func TestClientsOnSharedStoreAreIsolated(t *testing.T) {
	server := newFakeAuthServer(t)
	repo := memory.New()
	factory := gotrue.NewFactory(server.srv.URL, testAPIKey)

	seller, err := factory(sessions.Seller, storage.Bind(repo, sessions.StorageKey("abcd", sessions.Seller)))
	require.NoError(t, err)
	admin, err := factory(sessions.Admin, storage.Bind(repo, sessions.StorageKey("abcd", sessions.Admin)))
	require.NoError(t, err)

	var adminEvents atomic.Int32
	sub := admin.OnAuthStateChange(func(backend.Event) { adminEvents.Add(1) })
	defer sub.Unsubscribe()

	_, err = seller.SignInWithPassword(context.Background(), testEmail, testPassword)
	require.NoError(t, err)

	adminBundle, err := admin.CurrentBundle()
	require.NoError(t, err)
	require.Nil(t, adminBundle)
	require.Zero(t, adminEvents.Load())
	require.ElementsMatch(t, []string{"sb-abcd-auth-token-seller"}, repo.Keys())
}

func TestAutoRefreshRenewsExpiringToken(t *testing.T) {
	f := setupClient(t)
	require.NoError(t, f.store.Save(f.server.issue(time.Second, true)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.client.StartAutoRefresh(ctx, 500*time.Millisecond)

	require.Eventually(t, func() bool {
		return f.server.refreshHits.Load() >= 1
	}, 3*time.Second, 50*time.Millisecond)
	require.Equal(t, backend.TokenRefreshed, f.nextEvent(t).Type)
}

package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/go-storefront-auth/backend"
	apperrors "github.com/jrsteele09/go-storefront-auth/internal/errors"
	"github.com/jrsteele09/go-storefront-auth/sessions"
	"github.com/jrsteele09/go-storefront-auth/sessions/storage"
	"github.com/jrsteele09/go-storefront-auth/token"
	"github.com/jrsteele09/go-storefront-auth/token/jwt"
	"github.com/jrsteele09/go-storefront-auth/token/refresh"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	tokenPath  = "/auth/v1/token"
	logoutPath = "/auth/v1/logout"
	userPath   = "/auth/v1/user"

	// autoRefreshTickThreshold is how many ticks ahead of expiry the background
	// cycle refreshes a token.
	autoRefreshTickThreshold = 3
)

var _ backend.Client = (*Client)(nil)

// Client talks to the backend's auth endpoints on behalf of exactly one
// session type. It reads and writes only the KeyStore it was built with.
type Client struct {
	baseURL      string
	apiKey       string
	store        *storage.KeyStore
	httpClient   *http.Client
	events       *backend.Broadcaster[backend.Event]
	refresher    *refresh.Coordinator
	expiryBuffer time.Duration
	nowFunc      func() time.Time
	logger       zerolog.Logger
}

// ClientOption defines a function type to modify the Client instance.
type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithExpiryBuffer sets how long before exp a restored token is refreshed instead of used
func WithExpiryBuffer(d time.Duration) ClientOption {
	return func(cl *Client) {
		cl.expiryBuffer = d
	}
}

// WithNowFunc sets the clock (primarily for testing)
func WithNowFunc(now func() time.Time) ClientOption {
	return func(cl *Client) {
		cl.nowFunc = now
	}
}

func WithLogger(l zerolog.Logger) ClientOption {
	return func(cl *Client) {
		cl.logger = l
	}
}

func NewClient(baseURL, apiKey string, store *storage.KeyStore, options ...ClientOption) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("[gotrue.NewClient] baseURL is required")
	}
	if store == nil {
		return nil, errors.New("[gotrue.NewClient] store is required")
	}

	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		store:        store,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		events:       backend.NewBroadcaster[backend.Event](),
		refresher:    refresh.NewCoordinator(),
		expiryBuffer: jwt.DefaultExpiryBuffer,
		nowFunc:      time.Now,
		logger:       log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}
	c.logger = c.logger.With().Str("storage_key", store.Key()).Logger()
	return c, nil
}

// NewFactory returns a constructor producing one Client per session type, each
// bound to the KeyStore it is given.
func NewFactory(baseURL, apiKey string, options ...ClientOption) func(sessions.SessionType, *storage.KeyStore) (backend.Client, error) {
	return func(t sessions.SessionType, store *storage.KeyStore) (backend.Client, error) {
		opts := append([]ClientOption{}, options...)
		opts = append(opts, func(c *Client) {
			c.logger = c.logger.With().Str("session", t.String()).Logger()
		})
		return NewClient(baseURL, apiKey, store, opts...)
	}
}

func (c *Client) OnAuthStateChange(listener backend.Listener) backend.Subscription {
	return c.events.Subscribe(listener)
}

func (c *Client) CurrentBundle() (*token.Bundle, error) {
	return c.store.Load()
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*token.Bundle, error) {
	body := map[string]string{"email": email, "password": password}

	b, err := c.tokenRequest(ctx, "password", body, apperrors.ErrInvalidCredentials)
	if err != nil {
		return nil, errors.Wrap(err, "[SignInWithPassword]")
	}
	if err := c.store.Save(b); err != nil {
		return nil, errors.Wrap(err, "[SignInWithPassword] persist")
	}

	c.events.Emit(backend.Event{Type: backend.SignedIn, Bundle: b})
	return b, nil
}

// SignOut revokes this session's refresh token (scope=local leaves the user's
// other sessions alone) and clears the local bundle whatever the outcome.
func (c *Client) SignOut(ctx context.Context) error {
	current, loadErr := c.store.Load()

	var revokeErr error
	if current != nil {
		revokeErr = c.logout(ctx, current.AccessToken)
	}

	c.clear("sign-out")
	c.refresher.Forget(c.store.Key())
	c.events.Emit(backend.Event{Type: backend.SignedOut})

	if revokeErr != nil {
		return errors.Wrap(revokeErr, "[SignOut] revoke")
	}
	if loadErr != nil {
		return errors.Wrap(loadErr, "[SignOut] load")
	}
	return nil
}

func (c *Client) GetSession(ctx context.Context) (*token.Bundle, error) {
	b, err := c.store.Load()
	if err != nil {
		// An unreadable entry can never become valid again.
		c.clear("unreadable persisted session")
		return nil, errors.Wrap(err, "[GetSession] load")
	}
	if b == nil {
		return nil, nil
	}

	if jwt.IsExpired(b.AccessToken, c.nowFunc(), c.expiryBuffer) {
		return c.RefreshSession(ctx)
	}

	user, err := c.fetchUser(ctx, b.AccessToken)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidToken) {
			c.clear("rejected persisted session")
		}
		return nil, errors.Wrap(err, "[GetSession] validate")
	}

	b.User = user
	if err := c.store.Save(b); err != nil {
		c.logger.Warn().Err(err).Msg("persist validated session")
	}
	return b, nil
}

func (c *Client) clear(reason string) {
	if err := c.store.Clear(); err != nil {
		c.logger.Warn().Err(err).Str("reason", reason).Msg("clear persisted session")
	}
}

func (c *Client) RefreshSession(ctx context.Context) (*token.Bundle, error) {
	return c.refresher.Do(ctx, c.store.Key(), c.refreshSession)
}

func (c *Client) refreshSession(ctx context.Context) (*token.Bundle, error) {
	current, err := c.store.Load()
	if err != nil {
		return nil, errors.Wrap(err, "[RefreshSession] load")
	}
	if current == nil || current.RefreshToken == "" {
		return nil, errors.Wrap(apperrors.ErrNoSession, "[RefreshSession]")
	}

	b, err := c.tokenRequest(ctx, "refresh_token", map[string]string{"refresh_token": current.RefreshToken}, apperrors.ErrInvalidRefreshToken)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidRefreshToken) {
			c.clear("revoked refresh token")
			c.events.Emit(backend.Event{Type: backend.SignedOut})
		}
		return nil, errors.Wrap(err, "[RefreshSession]")
	}
	if b.User == nil {
		b.User = current.User
	}
	if err := c.store.Save(b); err != nil {
		return nil, errors.Wrap(err, "[RefreshSession] persist")
	}

	c.events.Emit(backend.Event{Type: backend.TokenRefreshed, Bundle: b})
	return b, nil
}

// StartAutoRefresh runs the client's own refresh cycle until ctx is done:
// every interval it refreshes a persisted token that expires within three ticks.
func (c *Client) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.autoRefreshTick(ctx, interval)
			}
		}
	}()
}

func (c *Client) autoRefreshTick(ctx context.Context, interval time.Duration) {
	b, err := c.store.Load()
	if err != nil || b == nil {
		return
	}
	if !jwt.IsExpired(b.AccessToken, c.nowFunc(), autoRefreshTickThreshold*interval) {
		return
	}
	if _, err := c.RefreshSession(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("background token refresh failed")
	}
}

func (c *Client) tokenRequest(ctx context.Context, grantType string, body map[string]string, rejected error) (*token.Bundle, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal body")
	}

	endpoint := fmt.Sprintf("%s%s?grant_type=%s", c.baseURL, tokenPath, grantType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")

	respBody, err := c.do(req, rejected)
	if err != nil {
		return nil, err
	}

	var b token.Bundle
	if err := json.Unmarshal(respBody, &b); err != nil {
		return nil, errors.Wrap(err, "decode token response")
	}
	if b.AccessToken == "" {
		return nil, errors.Wrap(apperrors.ErrInvalidToken, "token response without access_token")
	}
	if b.ExpiresAt == 0 && b.ExpiresIn > 0 {
		b.ExpiresAt = c.nowFunc().Add(time.Duration(b.ExpiresIn) * time.Second).Unix()
	}
	return &b, nil
}

func (c *Client) fetchUser(ctx context.Context, accessToken string) (*sessions.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+userPath, nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	respBody, err := c.do(req, apperrors.ErrInvalidToken)
	if err != nil {
		return nil, err
	}

	var u sessions.User
	if err := json.Unmarshal(respBody, &u); err != nil {
		return nil, errors.Wrap(err, "decode user")
	}
	if u.ID == "" {
		return nil, errors.Wrap(apperrors.ErrInvalidToken, "user response without id")
	}
	return &u, nil
}

func (c *Client) logout(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+logoutPath+"?scope=local", nil)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	_, err = c.do(req, apperrors.ErrInvalidToken)
	return err
}

// do sends req with the apikey header and returns the body of a 2xx response.
// A 400 is reported as rejected, and so are 401/403 except on the token
// endpoint, where they mean the apikey itself was refused. 5xx responses are
// ErrBackendUnavailable.
func (c *Client) do(req *http.Request, rejected error) ([]byte, error) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, req.URL.Path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return body, nil
	}

	apiErr := parseAPIError(resp.StatusCode, body)
	tokenEndpoint := strings.HasSuffix(req.URL.Path, tokenPath)
	switch {
	case resp.StatusCode == http.StatusBadRequest:
		apiErr.kind = rejected
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		if tokenEndpoint {
			apiErr.kind = apperrors.ErrBackendConfig
		} else {
			apiErr.kind = rejected
		}
	case resp.StatusCode == http.StatusNotFound && strings.HasSuffix(req.URL.Path, userPath):
		apiErr.kind = rejected
	case resp.StatusCode >= 500:
		apiErr.kind = apperrors.ErrBackendUnavailable
	}
	return nil, apiErr
}

package backendfake

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-storefront-auth/backend"
	apperrors "github.com/jrsteele09/go-storefront-auth/internal/errors"
	"github.com/jrsteele09/go-storefront-auth/sessions"
	"github.com/jrsteele09/go-storefront-auth/sessions/storage"
	"github.com/jrsteele09/go-storefront-auth/token"
	"github.com/jrsteele09/go-storefront-auth/token/jwt"
	"github.com/jrsteele09/go-storefront-auth/token/keys"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

type account struct {
	id           string
	email        string
	passwordHash string
}

// Directory is the fake backend shared by every FakeClient: user accounts,
// issued refresh tokens and the signing key.
type Directory struct {
	accounts      map[string]*account // email -> account
	refreshTokens map[string]string   // refresh token -> user id
	signer        keys.Signer
	tokenTTL      time.Duration
	nowFunc       func() time.Time
	lock          sync.RWMutex
}

type DirectoryOption func(*Directory)

func WithTokenTTL(ttl time.Duration) DirectoryOption {
	return func(d *Directory) {
		d.tokenTTL = ttl
	}
}

func WithNowFunc(now func() time.Time) DirectoryOption {
	return func(d *Directory) {
		d.nowFunc = now
	}
}

func NewDirectory(options ...DirectoryOption) *Directory {
	d := &Directory{
		accounts:      make(map[string]*account),
		refreshTokens: make(map[string]string),
		signer:        keys.NewHMACSigner("fake", []byte("fake-backend-secret")),
		tokenTTL:      time.Hour,
		nowFunc:       time.Now,
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

// AddUser registers an account and returns its id.
func (d *Directory) AddUser(email, password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return "", err
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	id := uuid.New().String()
	d.accounts[email] = &account{id: id, email: email, passwordHash: string(hash)}
	return id, nil
}

// RemoveUser deletes an account; its tokens stop validating.
func (d *Directory) RemoveUser(email string) {
	d.lock.Lock()
	defer d.lock.Unlock()

	delete(d.accounts, email)
}

// MintBundle issues a bundle for an existing user whose access token expires after ttl.
func (d *Directory) MintBundle(email string, ttl time.Duration) (*token.Bundle, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	acc, ok := d.accounts[email]
	if !ok {
		return nil, apperrors.ErrInvalidCredentials
	}
	return d.issue(acc, ttl)
}

func (d *Directory) issue(acc *account, ttl time.Duration) (*token.Bundle, error) {
	now := d.nowFunc()
	exp := now.Add(ttl)
	access, err := d.signer.Sign(jwtlib.MapClaims{
		"sub":   acc.id,
		"email": acc.email,
		"role":  "authenticated",
		"iat":   now.Unix(),
		"exp":   exp.Unix(),
	})
	if err != nil {
		return nil, err
	}

	rb := make([]byte, 16)
	if _, err := rand.Read(rb); err != nil {
		return nil, err
	}
	refreshToken := hex.EncodeToString(rb)
	d.refreshTokens[refreshToken] = acc.id

	return &token.Bundle{
		AccessToken:  access,
		TokenType:    "bearer",
		ExpiresIn:    int64(ttl.Seconds()),
		ExpiresAt:    exp.Unix(),
		RefreshToken: refreshToken,
		User:         &sessions.User{ID: acc.id, Email: acc.email},
	}, nil
}

func (d *Directory) signIn(email, password string) (*token.Bundle, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	acc, ok := d.accounts[email]
	if !ok || bcrypt.CompareHashAndPassword([]byte(acc.passwordHash), []byte(password)) != nil {
		return nil, apperrors.ErrInvalidCredentials
	}
	return d.issue(acc, d.tokenTTL)
}

// rotate exchanges a refresh token for a new bundle; the old token is spent.
func (d *Directory) rotate(refreshToken string) (*token.Bundle, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	userID, ok := d.refreshTokens[refreshToken]
	if !ok {
		return nil, apperrors.ErrInvalidRefreshToken
	}
	delete(d.refreshTokens, refreshToken)

	for _, acc := range d.accounts {
		if acc.id == userID {
			return d.issue(acc, d.tokenTTL)
		}
	}
	return nil, apperrors.ErrInvalidRefreshToken
}

func (d *Directory) revoke(refreshToken string) {
	d.lock.Lock()
	defer d.lock.Unlock()

	delete(d.refreshTokens, refreshToken)
}

func (d *Directory) validate(accessToken string) (*sessions.User, error) {
	parsed, err := jwtlib.Parse(accessToken, d.signer.GetVerificationKey, jwtlib.WithTimeFunc(d.nowFunc))
	if err != nil || !parsed.Valid {
		return nil, apperrors.ErrInvalidToken
	}
	sub, _ := parsed.Claims.GetSubject()

	d.lock.RLock()
	defer d.lock.RUnlock()
	for _, acc := range d.accounts {
		if acc.id == sub {
			return &sessions.User{ID: acc.id, Email: acc.email}, nil
		}
	}
	return nil, apperrors.ErrInvalidToken
}

var _ backend.Client = (*FakeClient)(nil)

// FakeClient is one session type's client against a Directory. Hooks let tests
// stall GetSession or fail sign-out and refresh.
type FakeClient struct {
	dir          *Directory
	store        *storage.KeyStore
	events       *backend.Broadcaster[backend.Event]
	expiryBuffer time.Duration

	lock         sync.Mutex
	getGate      chan struct{}
	signOutErr   error
	refreshErr   error
	refreshCalls int
	signOutCalls int
}

// NewClient builds a FakeClient bound to store.
func (d *Directory) NewClient(store *storage.KeyStore) *FakeClient {
	return &FakeClient{
		dir:          d,
		store:        store,
		events:       backend.NewBroadcaster[backend.Event](),
		expiryBuffer: jwt.DefaultExpiryBuffer,
	}
}

// Factory adapts NewClient to the registry's client constructor signature.
func (d *Directory) Factory() func(sessions.SessionType, *storage.KeyStore) (backend.Client, error) {
	return func(_ sessions.SessionType, store *storage.KeyStore) (backend.Client, error) {
		return d.NewClient(store), nil
	}
}

// HangGetSession makes GetSession block until the returned release func is
// called or its context ends.
func (c *FakeClient) HangGetSession() (release func()) {
	gate := make(chan struct{})
	c.lock.Lock()
	c.getGate = gate
	c.lock.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (c *FakeClient) SetSignOutErr(err error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.signOutErr = err
}

func (c *FakeClient) SetRefreshErr(err error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.refreshErr = err
}

func (c *FakeClient) RefreshCalls() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.refreshCalls
}

func (c *FakeClient) SignOutCalls() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.signOutCalls
}

// Emit pushes an auth-state event as if it came from the backend.
func (c *FakeClient) Emit(e backend.Event) {
	c.events.Emit(e)
}

func (c *FakeClient) Listeners() int {
	return c.events.Len()
}

func (c *FakeClient) OnAuthStateChange(listener backend.Listener) backend.Subscription {
	return c.events.Subscribe(listener)
}

func (c *FakeClient) CurrentBundle() (*token.Bundle, error) {
	return c.store.Load()
}

func (c *FakeClient) SignInWithPassword(_ context.Context, email, password string) (*token.Bundle, error) {
	b, err := c.dir.signIn(email, password)
	if err != nil {
		return nil, err
	}
	if err := c.store.Save(b); err != nil {
		return nil, err
	}
	c.events.Emit(backend.Event{Type: backend.SignedIn, Bundle: b})
	return b, nil
}

func (c *FakeClient) SignOut(_ context.Context) error {
	c.lock.Lock()
	c.signOutCalls++
	signOutErr := c.signOutErr
	c.lock.Unlock()

	current, _ := c.store.Load()
	if signOutErr == nil && current != nil {
		c.dir.revoke(current.RefreshToken)
	}
	c.clear("sign-out")
	c.events.Emit(backend.Event{Type: backend.SignedOut})
	return signOutErr
}

func (c *FakeClient) clear(reason string) {
	if err := c.store.Clear(); err != nil {
		log.Warn().Err(err).Str("storage_key", c.store.Key()).Str("reason", reason).Msg("clear persisted session")
	}
}

func (c *FakeClient) GetSession(ctx context.Context) (*token.Bundle, error) {
	c.lock.Lock()
	gate := c.getGate
	c.lock.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b, err := c.store.Load()
	if err != nil || b == nil {
		return nil, err
	}
	if jwt.IsExpired(b.AccessToken, c.dir.nowFunc(), c.expiryBuffer) {
		return c.RefreshSession(ctx)
	}
	user, err := c.dir.validate(b.AccessToken)
	if err != nil {
		c.clear("rejected persisted session")
		return nil, err
	}
	b.User = user
	return b, nil
}

func (c *FakeClient) RefreshSession(_ context.Context) (*token.Bundle, error) {
	c.lock.Lock()
	c.refreshCalls++
	refreshErr := c.refreshErr
	c.lock.Unlock()

	if refreshErr != nil {
		return nil, refreshErr
	}

	current, err := c.store.Load()
	if err != nil {
		return nil, err
	}
	if current == nil || current.RefreshToken == "" {
		return nil, apperrors.ErrNoSession
	}
	b, err := c.dir.rotate(current.RefreshToken)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidRefreshToken) {
			c.clear("revoked refresh token")
			c.events.Emit(backend.Event{Type: backend.SignedOut})
		}
		return nil, err
	}
	if err := c.store.Save(b); err != nil {
		return nil, err
	}
	c.events.Emit(backend.Event{Type: backend.TokenRefreshed, Bundle: b})
	return b, nil
}

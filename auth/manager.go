package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jrsteele09/go-storefront-auth/backend"
	apperrors "github.com/jrsteele09/go-storefront-auth/internal/errors"
	"github.com/jrsteele09/go-storefront-auth/profiles"
	"github.com/jrsteele09/go-storefront-auth/sessions"
	"github.com/jrsteele09/go-storefront-auth/token"
	"github.com/jrsteele09/go-storefront-auth/token/jwt"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var errBootstrapTimeout = errors.New("bootstrap timed out")

// SessionManager holds one session type's view of "current user + profile".
// All backend failures are logged and collapsed into an anonymous or
// profile-less state; nothing here panics or blocks the consumer on an error.
type SessionManager struct {
	config       AuthConfig
	client       backend.Client
	profiles     profiles.Repo
	publicKey    string
	logger       zerolog.Logger
	metrics      *Metrics
	nowFunc      func() time.Time
	expiryBuffer time.Duration

	ctx    context.Context // Lifetime of the consumer, cancelled by Close
	cancel context.CancelFunc

	lock         sync.RWMutex
	state        sessions.State
	user         *sessions.User
	profile      *profiles.Profile
	generation   uint64 // Bumped whenever the user changes; stale profile results are dropped
	bootstrapped bool
	authSub      backend.Subscription

	ready     chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once
	signingIn  atomic.Int32 // In-flight SignIn calls; they apply their own SIGNED_IN
	signingOut atomic.Int32 // In-flight SignOut calls; they apply their own SIGNED_OUT
	watchers  *backend.Broadcaster[sessions.Snapshot]
}

// ManagerOption defines a function type to modify the SessionManager instance.
type ManagerOption func(*SessionManager)

func WithLogger(l zerolog.Logger) ManagerOption {
	return func(m *SessionManager) {
		m.logger = l
	}
}

func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *SessionManager) {
		m.metrics = metrics
	}
}

// WithPublicKey sets the anonymous key used as bearer when no user token is available
func WithPublicKey(key string) ManagerOption {
	return func(m *SessionManager) {
		m.publicKey = key
	}
}

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *SessionManager) {
		m.nowFunc = now
	}
}

func WithExpiryBuffer(d time.Duration) ManagerOption {
	return func(m *SessionManager) {
		m.expiryBuffer = d
	}
}

// NewSessionManager builds the manager for cfg.SessionType around its own client.
func NewSessionManager(cfg AuthConfig, client backend.Client, profileRepo profiles.Repo, options ...ManagerOption) (*SessionManager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.New("[NewSessionManager] client is required")
	}
	if profileRepo == nil {
		return nil, errors.New("[NewSessionManager] profile repo is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &SessionManager{
		config:       cfg,
		client:       client,
		profiles:     profileRepo,
		logger:       log.Logger,
		nowFunc:      time.Now,
		expiryBuffer: jwt.DefaultExpiryBuffer,
		ctx:          ctx,
		cancel:       cancel,
		state:        sessions.Uninitialized,
		ready:        make(chan struct{}),
		watchers:     backend.NewBroadcaster[sessions.Snapshot](),
	}
	for _, opt := range options {
		opt(m)
	}
	m.logger = m.logger.With().Str("session", cfg.SessionType.String()).Logger()
	return m, nil
}

func (m *SessionManager) Type() sessions.SessionType {
	return m.config.SessionType
}

func (m *SessionManager) Config() AuthConfig {
	return m.config
}

// Bootstrap restores the persisted session once per manager. For a
// configuration with a BootstrapTimeout the backend check races a timer and a
// late answer is discarded; the profile read gets what is left of the same
// budget and, when it runs over, is applied after Loading has ended. Whatever
// happens, Loading ends exactly once and the manager starts following the
// client's auth-state changes.
func (m *SessionManager) Bootstrap(ctx context.Context) (sessions.Snapshot, error) {
	m.lock.Lock()
	if m.bootstrapped {
		m.lock.Unlock()
		return m.Snapshot(), apperrors.ErrAlreadyBootstrapped
	}
	m.bootstrapped = true
	m.state = sessions.Loading
	m.lock.Unlock()
	m.notify()

	start := time.Now()
	bundle, err := m.restore(ctx)
	var user *sessions.User
	switch {
	case errors.Is(err, errBootstrapTimeout):
		m.logger.Info().Dur("timeout", m.config.BootstrapTimeout).Msg("session check timed out, continuing as guest")
		m.metrics.bootstrap(m.config.SessionType, "timeout")
	case err != nil:
		m.logger.Warn().Err(err).Msg("session bootstrap failed, continuing anonymous")
		m.metrics.bootstrap(m.config.SessionType, "error")
	default:
		user = backend.UserFromBundle(bundle)
		if user != nil {
			m.metrics.bootstrap(m.config.SessionType, "authenticated")
		} else {
			m.metrics.bootstrap(m.config.SessionType, "anonymous")
		}
	}

	m.lock.Lock()
	gen := m.setUserLocked(user)
	m.lock.Unlock()

	if user != nil {
		m.loadBootstrapProfile(ctx, user.ID, gen, start)
	}
	m.finishLoading()

	sub := m.client.OnAuthStateChange(m.handleAuthEvent)
	m.lock.Lock()
	closed := m.ctx.Err() != nil
	if !closed {
		m.authSub = sub
	}
	m.lock.Unlock()
	if closed {
		sub.Unsubscribe()
	}

	return m.Snapshot(), nil
}

// restore runs GetSession, bounded by the configured timeout. The call's
// context is cancelled once a winner is known so a losing request stops early.
func (m *SessionManager) restore(ctx context.Context) (*token.Bundle, error) {
	type result struct {
		bundle *token.Bundle
		err    error
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan result, 1)
	go func() {
		b, err := m.client.GetSession(callCtx)
		results <- result{bundle: b, err: err}
	}()

	var timeout <-chan time.Time
	if m.config.BootstrapTimeout > 0 {
		timer := time.NewTimer(m.config.BootstrapTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-results:
		return r.bundle, r.err
	case <-timeout:
		return nil, errBootstrapTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *SessionManager) loadBootstrapProfile(ctx context.Context, userID string, gen uint64, start time.Time) {
	if m.config.BootstrapTimeout <= 0 {
		m.loadProfile(ctx, userID, gen)
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.loadProfile(m.ctx, userID, gen)
	}()

	timer := time.NewTimer(m.config.BootstrapTimeout - time.Since(start))
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		m.logger.Info().Str("user_id", userID).Msg("profile read still pending at the bootstrap deadline")
	case <-ctx.Done():
	}
}

func (m *SessionManager) finishLoading() {
	m.readyOnce.Do(func() {
		m.lock.Lock()
		if m.user != nil {
			m.state = sessions.Authenticated
		} else {
			m.state = sessions.Anonymous
		}
		m.lock.Unlock()
		close(m.ready)
	})
	m.notify()
}

// Ready is closed once Loading has ended.
func (m *SessionManager) Ready() <-chan struct{} {
	return m.ready
}

// FetchProfile reads the profile row for userID with this session's bearer
// token, or the public key when no token is available. Not found, non-2xx and
// network failures all yield nil.
func (m *SessionManager) FetchProfile(ctx context.Context, userID string) *profiles.Profile {
	bearer := m.GetValidToken(ctx)
	if bearer == "" {
		bearer = m.publicKey
	}

	p, err := m.profiles.GetByID(ctx, userID, bearer)
	switch {
	case errors.Is(err, profiles.ErrProfileNotFound):
		m.logger.Warn().Str("user_id", userID).Msg("no profile row for user")
		m.metrics.profileFetch(m.config.SessionType, "not_found")
		return nil
	case err != nil:
		m.logger.Warn().Err(err).Str("user_id", userID).Msg("profile fetch failed")
		m.metrics.profileFetch(m.config.SessionType, "error")
		return nil
	}
	m.metrics.profileFetch(m.config.SessionType, "ok")
	return p
}

// SignIn authenticates this session only. On success the user is set and the
// profile fetched before returning, so the caller can read both immediately.
func (m *SessionManager) SignIn(ctx context.Context, email, password string) error {
	if !m.config.ExposeSignIn {
		return apperrors.ErrSignInNotExposed
	}

	m.signingIn.Add(1)
	defer m.signingIn.Add(-1)

	b, err := m.client.SignInWithPassword(ctx, email, password)
	if err != nil {
		m.logger.Warn().Err(err).Str("email", email).Msg("sign-in failed")
		m.metrics.signIn(m.config.SessionType, "error")
		return err
	}

	user := backend.UserFromBundle(b)
	if user == nil {
		m.metrics.signIn(m.config.SessionType, "error")
		return apperrors.Wrapf(apperrors.ErrInvalidToken, "sign-in returned no user")
	}

	// The persisted bundle is read under the lock so a SIGNED_OUT handled
	// before this point is never overwritten by the new user.
	m.lock.Lock()
	current, err := m.client.CurrentBundle()
	if err != nil || !sameUser(backend.UserFromBundle(current), user) {
		m.lock.Unlock()
		m.logger.Warn().Err(err).Str("user_id", user.ID).Msg("session ended before sign-in completed")
		m.metrics.signIn(m.config.SessionType, "error")
		return apperrors.Wrapf(apperrors.ErrNoSession, "sign-in superseded")
	}
	gen := m.setUserLocked(user)
	m.lock.Unlock()
	m.notify()

	m.loadProfile(ctx, user.ID, gen)
	m.metrics.signIn(m.config.SessionType, "ok")
	return nil
}

// SignOut revokes this session remotely and clears it locally. The local
// clear happens even when revocation fails.
func (m *SessionManager) SignOut(ctx context.Context) {
	m.signingOut.Add(1)
	defer m.signingOut.Add(-1)

	if err := m.client.SignOut(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("remote sign-out failed, clearing local session anyway")
		m.metrics.signOut(m.config.SessionType, "revoke_failed")
	} else {
		m.metrics.signOut(m.config.SessionType, "ok")
	}

	m.lock.Lock()
	m.setUserLocked(nil)
	m.lock.Unlock()
	m.notify()
}

// RefreshProfile re-reads the current user's profile; no-op when anonymous.
func (m *SessionManager) RefreshProfile(ctx context.Context) {
	m.lock.RLock()
	user, gen := m.user, m.generation
	m.lock.RUnlock()

	if user == nil {
		return
	}
	m.loadProfile(ctx, user.ID, gen)
}

// loadProfile applies a fetched profile only if the user it was fetched for is
// still the current one.
func (m *SessionManager) loadProfile(ctx context.Context, userID string, gen uint64) {
	p := m.FetchProfile(ctx, userID)

	m.lock.Lock()
	if m.generation != gen || m.user == nil || m.user.ID != userID {
		m.lock.Unlock()
		m.logger.Debug().Str("user_id", userID).Msg("discarding profile for a user no longer signed in")
		return
	}
	m.profile = p
	m.lock.Unlock()
	m.notify()
}

// setUserLocked replaces the user and returns the current generation. A change
// of identity clears the profile. Callers must hold m.lock.
func (m *SessionManager) setUserLocked(user *sessions.User) uint64 {
	if !sameUser(m.user, user) {
		m.generation++
		m.profile = nil
	}
	m.user = user

	if m.state != sessions.Loading && m.state != sessions.Uninitialized {
		if user != nil {
			m.state = sessions.Authenticated
		} else {
			m.state = sessions.Anonymous
		}
	}
	return m.generation
}

func sameUser(a, b *sessions.User) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID
}

// handleAuthEvent follows pushes from the client. A SIGNED_OUT always ends
// the session; only the one raised by this manager's own SignOut is left to
// that call. SIGNED_IN during this manager's SignIn is applied by SignIn. A
// token refresh is only applied to the user it belongs to, so a refresh
// finishing after sign-out cannot bring the session back.
func (m *SessionManager) handleAuthEvent(e backend.Event) {
	if m.ctx.Err() != nil {
		return
	}

	switch e.Type {
	case backend.SignedOut:
		if m.signingOut.Load() > 0 {
			return
		}
		m.logger.Info().Msg("signed out by backend")
		m.lock.Lock()
		m.setUserLocked(nil)
		m.lock.Unlock()
		m.notify()

	case backend.SignedIn, backend.InitialSession:
		if m.signingIn.Load() > 0 {
			return
		}
		user := backend.UserFromBundle(e.Bundle)
		if user == nil {
			return
		}
		m.lock.Lock()
		changed := m.user == nil || m.user.ID != user.ID
		gen := m.setUserLocked(user)
		m.lock.Unlock()
		m.notify()

		if changed {
			go m.loadProfile(m.ctx, user.ID, gen)
		}

	case backend.TokenRefreshed:
		user := backend.UserFromBundle(e.Bundle)
		m.lock.Lock()
		if user == nil || m.user == nil || m.user.ID != user.ID {
			m.lock.Unlock()
			m.logger.Debug().Msg("ignoring token refresh for a user no longer signed in")
			return
		}
		m.user = user
		m.lock.Unlock()
		m.notify()
	}
}

// Snapshot returns a copy of the current state.
func (m *SessionManager) Snapshot() sessions.Snapshot {
	m.lock.RLock()
	defer m.lock.RUnlock()

	s := sessions.Snapshot{
		Type:    m.config.SessionType,
		State:   m.state,
		Loading: m.state == sessions.Uninitialized || m.state == sessions.Loading,
	}
	if m.user != nil {
		u := *m.user
		s.User = &u
	}
	if m.profile != nil && m.user != nil {
		p := *m.profile
		s.Profile = &p
	}
	return s
}

// Subscribe registers fn for every state change until the subscription is released.
func (m *SessionManager) Subscribe(fn func(sessions.Snapshot)) backend.Subscription {
	return m.watchers.Subscribe(fn)
}

func (m *SessionManager) notify() {
	m.watchers.Emit(m.Snapshot())
}

// Close stops following the client's auth-state changes. It is safe to call
// more than once.
func (m *SessionManager) Close() {
	m.closeOnce.Do(func() {
		m.lock.Lock()
		m.cancel()
		sub := m.authSub
		m.authSub = nil
		m.lock.Unlock()

		if sub != nil {
			sub.Unsubscribe()
		}
	})
}

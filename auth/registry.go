package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/jrsteele09/go-storefront-auth/backend"
	apperrors "github.com/jrsteele09/go-storefront-auth/internal/errors"
	"github.com/jrsteele09/go-storefront-auth/profiles"
	"github.com/jrsteele09/go-storefront-auth/sessions"
	"github.com/jrsteele09/go-storefront-auth/sessions/storage"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ClientFactory builds the long-lived client for one session type. The client
// receives a KeyStore bound to that type's storage key and nothing else.
type ClientFactory func(t sessions.SessionType, store *storage.KeyStore) (backend.Client, error)

type registryEntry struct {
	key     string
	client  backend.Client
	manager *SessionManager
}

// Registry owns one client and one manager per configured session type. It is
// built once at startup and read-only afterwards.
type Registry struct {
	projectID string
	entries   map[sessions.SessionType]*registryEntry
}

func NewRegistry(
	projectID string,
	repo storage.Repo,
	factory ClientFactory,
	profileRepo profiles.Repo,
	configs []AuthConfig,
	options ...ManagerOption,
) (*Registry, error) {
	if projectID == "" {
		return nil, errors.New("[NewRegistry] projectID is required")
	}
	if repo == nil {
		return nil, errors.New("[NewRegistry] storage repo is required")
	}
	if factory == nil {
		return nil, errors.New("[NewRegistry] client factory is required")
	}

	r := &Registry{
		projectID: projectID,
		entries:   make(map[sessions.SessionType]*registryEntry, len(configs)),
	}
	for _, cfg := range configs {
		if _, dup := r.entries[cfg.SessionType]; dup {
			return nil, fmt.Errorf("[NewRegistry] duplicate session type %s", cfg.SessionType)
		}

		key := sessions.StorageKey(projectID, cfg.SessionType)
		client, err := factory(cfg.SessionType, storage.Bind(repo, key))
		if err != nil {
			return nil, errors.Wrapf(err, "[NewRegistry] client for %s", cfg.SessionType)
		}
		manager, err := NewSessionManager(cfg, client, profileRepo, options...)
		if err != nil {
			return nil, errors.Wrapf(err, "[NewRegistry] manager for %s", cfg.SessionType)
		}
		r.entries[cfg.SessionType] = &registryEntry{key: key, client: client, manager: manager}
	}
	return r, nil
}

func (r *Registry) entry(t sessions.SessionType) (*registryEntry, error) {
	e, ok := r.entries[t]
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrUnknownSessionType, "%q not registered", t)
	}
	return e, nil
}

func (r *Registry) Get(t sessions.SessionType) (*SessionManager, error) {
	e, err := r.entry(t)
	if err != nil {
		return nil, err
	}
	return e.manager, nil
}

// Client returns the session type's client, e.g. for the buyer site's
// full-page sign-in flow.
func (r *Registry) Client(t sessions.SessionType) (backend.Client, error) {
	e, err := r.entry(t)
	if err != nil {
		return nil, err
	}
	return e.client, nil
}

func (r *Registry) StorageKey(t sessions.SessionType) (string, error) {
	e, err := r.entry(t)
	if err != nil {
		return "", err
	}
	return e.key, nil
}

// GetValidToken returns a usable bearer token for t, or "" when the session is
// anonymous or its refresh failed.
func (r *Registry) GetValidToken(ctx context.Context, t sessions.SessionType) string {
	e, err := r.entry(t)
	if err != nil {
		return ""
	}
	return e.manager.GetValidToken(ctx)
}

// BootstrapAll bootstraps every registered session concurrently and returns
// their snapshots. Sessions that were already bootstrapped keep their state.
func (r *Registry) BootstrapAll(ctx context.Context) (map[sessions.SessionType]sessions.Snapshot, error) {
	var lock sync.Mutex
	snaps := make(map[sessions.SessionType]sessions.Snapshot, len(r.entries))

	g, gctx := errgroup.WithContext(ctx)
	for t, e := range r.entries {
		g.Go(func() error {
			snap, err := e.manager.Bootstrap(gctx)
			if err != nil && !errors.Is(err, apperrors.ErrAlreadyBootstrapped) {
				return errors.Wrapf(err, "[BootstrapAll] %s", t)
			}
			lock.Lock()
			snaps[t] = snap
			lock.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snaps, nil
}

// Types lists the registered session types in a stable order.
func (r *Registry) Types() []sessions.SessionType {
	types := make([]sessions.SessionType, 0, len(r.entries))
	for _, t := range sessions.AllTypes {
		if _, ok := r.entries[t]; ok {
			types = append(types, t)
		}
	}
	return types
}

// Close tears down every manager.
func (r *Registry) Close() {
	for _, e := range r.entries {
		e.manager.Close()
	}
}

package main

import (
	"context"
	"net/http"
	"sync"

	"github.com/jrsteele09/go-storefront-auth/auth"
	"github.com/jrsteele09/go-storefront-auth/backend"
	"github.com/jrsteele09/go-storefront-auth/backend/gotrue"
	"github.com/jrsteele09/go-storefront-auth/internal/config"
	"github.com/jrsteele09/go-storefront-auth/internal/logging"
	"github.com/jrsteele09/go-storefront-auth/profiles"
	"github.com/jrsteele09/go-storefront-auth/sessions"
	"github.com/jrsteele09/go-storefront-auth/sessions/storage"
	"github.com/jrsteele09/go-storefront-auth/sessions/storage/filestore"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

// app is everything one CLI invocation needs, wired from the environment.
type app struct {
	config   config.Config
	logger   zerolog.Logger
	registry *auth.Registry
	metrics  *prometheus.Registry
	store    *filestore.Store

	lock    sync.Mutex
	clients []*gotrue.Client
}

func newApp(ctx context.Context) (*app, error) {
	// A missing .env is fine; the real environment still applies.
	_ = godotenv.Load()

	c, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}
	logger := logging.Setup(c.GetEnv(), c.GetLogLevel())

	store, err := filestore.New(c.GetDataFolder())
	if err != nil {
		return nil, err
	}
	projectID, err := sessions.ProjectIDFromURL(c.GetBackendURL())
	if err != nil {
		return nil, errors.Wrap(err, "[newApp] project id")
	}

	a := &app{
		config:  c,
		logger:  logger,
		metrics: prometheus.NewRegistry(),
		store:   store,
	}
	a.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	httpClient := &http.Client{Timeout: c.GetHTTPTimeout()}
	newClient := gotrue.NewFactory(c.GetBackendURL(), c.GetPublicKey(),
		gotrue.WithHTTPClient(httpClient),
		gotrue.WithExpiryBuffer(c.GetExpiryBuffer()),
		gotrue.WithLogger(logger),
	)
	factory := func(t sessions.SessionType, ks *storage.KeyStore) (backend.Client, error) {
		client, err := newClient(t, ks)
		if err != nil {
			return nil, err
		}
		if gc, ok := client.(*gotrue.Client); ok {
			a.lock.Lock()
			a.clients = append(a.clients, gc)
			a.lock.Unlock()
		}
		return client, nil
	}

	profileRepo := profiles.NewRESTRepo(c.GetBackendURL(), c.GetPublicKey(), profiles.WithHTTPClient(httpClient))

	a.registry, err = auth.NewRegistry(projectID, store, factory, profileRepo, auth.DefaultConfigs(c),
		auth.WithPublicKey(c.GetPublicKey()),
		auth.WithExpiryBuffer(c.GetExpiryBuffer()),
		auth.WithMetrics(auth.NewMetrics(a.metrics)),
		auth.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// startAutoRefresh runs every client's background refresh cycle until ctx ends.
func (a *app) startAutoRefresh(ctx context.Context) {
	a.lock.Lock()
	defer a.lock.Unlock()

	for _, c := range a.clients {
		c.StartAutoRefresh(ctx, a.config.GetAutoRefreshInterval())
	}
}

func (a *app) Close() {
	a.registry.Close()
}

package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) initRoutes() {
	s.RegisterRouteFunc(http.MethodGet, RouteHealth, s.HealthHandler())
	s.RegisterRouteHandler(http.MethodGet, RouteMetrics, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.RegisterRouteFunc(http.MethodGet, RouteSessionList, ChainMiddleware(s.SessionListHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc(http.MethodGet, RouteSession, ChainMiddleware(s.SessionHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc(http.MethodPost, RouteSessionSignIn, ChainMiddleware(s.SignInHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc(http.MethodPost, RouteSessionSignOut, ChainMiddleware(s.SignOutHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc(http.MethodGet, RouteSessionToken, ChainMiddleware(s.TokenHandler(), s.APIMiddleware(s.NoStoreMiddleware)...))
	s.RegisterRouteFunc(http.MethodPost, RouteSessionProfile, ChainMiddleware(s.RefreshProfileHandler(), s.APIMiddleware()...))
}

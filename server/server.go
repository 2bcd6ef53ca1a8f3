package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jrsteele09/go-storefront-auth/auth"
	"github.com/prometheus/client_golang/prometheus"
)

// Server is the local session inspector: a small JSON surface over the
// session registry for development and smoke testing.
type Server struct {
	env      string // Environment (e.g., "DEV", "PROD")
	router   chi.Router
	routes   []string
	registry *auth.Registry
	gatherer prometheus.Gatherer
}

// New builds the inspector. gatherer backs /metrics; nil uses the default registry.
func New(env string, registry *auth.Registry, gatherer prometheus.Gatherer) (*Server, error) {
	if registry == nil {
		return nil, errors.New("[server.New] registry is required")
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		env:      strings.ToUpper(env),
		router:   chi.NewRouter(),
		registry: registry,
		gatherer: gatherer,
	}
	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(method, pattern string, handler http.Handler) {
	s.routes = append(s.routes, method+" "+pattern)
	s.router.Method(method, pattern, handler)
}

func (s *Server) RegisterRouteFunc(method, pattern string, handler http.HandlerFunc) {
	s.RegisterRouteHandler(method, pattern, handler)
}

// Routes lists the registered "METHOD pattern" pairs in registration order.
func (s *Server) Routes() []string {
	return append([]string(nil), s.routes...)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		logRoute(parts[0], parts[1])
	}
}

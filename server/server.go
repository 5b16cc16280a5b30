// Package server exposes the identity gateway over HTTP: credential
// endpoints under /v1/auth, bearer middleware for protected routes, and
// the operational endpoints (/healthz, /metrics).
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rankforge/go-identity-server/gateway"
	"github.com/rankforge/go-identity-server/internal/config"
)

type Server struct {
	env     string
	mux     *http.ServeMux
	routes  []string
	config  config.Config
	gateway *gateway.Gateway
	logger  zerolog.Logger
	health  func() error
}

type Option func(*Server)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHealthCheck sets the probe behind /healthz, typically a cache
// ping.
func WithHealthCheck(check func() error) Option {
	return func(s *Server) {
		if check != nil {
			s.health = check
		}
	}
}

func New(cfg config.Config, gw *gateway.Gateway, registry *prometheus.Registry, options ...Option) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		config:  cfg,
		gateway: gw,
		logger:  zerolog.Nop(),
		health:  func() error { return nil },
	}
	s.env = cfg.GetEnv()
	for _, opt := range options {
		opt(s)
	}

	s.initRoutes(registry)
	s.logRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) initRoutes(registry *prometheus.Registry) {
	api := s.APIMiddleware()

	s.RegisterRouteFunc("POST /v1/auth/login", ChainMiddleware(s.LoginHandler(), api...))
	s.RegisterRouteFunc("POST /v1/auth/refresh", ChainMiddleware(s.RefreshHandler(), api...))
	s.RegisterRouteFunc("POST /v1/auth/logout", ChainMiddleware(s.LogoutHandler(), api...))
	s.RegisterRouteFunc("POST /v1/auth/logout-all", ChainMiddleware(s.LogoutAllHandler(),
		append(api, s.RequireAuth())...))
	s.RegisterRouteFunc("GET /v1/auth/me", ChainMiddleware(s.MeHandler(),
		append(api, s.RequireAuth())...))

	s.RegisterRouteFunc("GET /healthz", s.HealthHandler())
	if registry != nil {
		s.RegisterRouteHandler("GET /metrics",
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		s.logger.Debug().Str("route", route).Msg("registered")
	}
}

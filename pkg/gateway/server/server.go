// Package server assembles the HTTP surface: routes, middleware chain,
// and the process drain flag used by readiness.
package server

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/detect"
	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/gateway/config"
	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/gateway/handlers"
	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/gateway/live/sessions"
	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/gateway/mw"
	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/store"
)

// Deps carries the collaborators main constructs once per process.
type Deps struct {
	Primary  detect.Detector
	Fallback detect.Detector
	Store    store.Store
	Registry *sessions.Registry
}

type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	deps     Deps
	mux      *http.ServeMux
	draining atomic.Bool
}

func New(cfg *config.Config, logger *slog.Logger, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		deps:   deps,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("GET /healthz", handlers.HealthHandler())
	s.mux.Handle("GET /readyz", handlers.ReadyHandler(s.draining.Load, s.deps.Registry.Count))
	s.mux.Handle("GET /v1/session", handlers.SessionHandler(handlers.SessionDeps{
		Logger:   s.logger,
		Cfg:      s.cfg,
		Registry: s.deps.Registry,
		Primary:  s.deps.Primary,
		Fallback: s.deps.Fallback,
		Store:    s.deps.Store,
		Draining: s.draining.Load,
	}))
}

// Handler returns the mux behind the middleware chain.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.AccessLog(s.logger)(h)
	h = mw.RequestID(h)
	h = mw.Recover(s.logger)(h)
	return h
}

// SetDraining flips readiness during graceful shutdown.
func (s *Server) SetDraining(v bool) {
	s.draining.Store(v)
}

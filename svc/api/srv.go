package api

import (
	"context"
	"net/http"
	"pastelite/cfg"
	"pastelite/svc/db"
	"pastelite/svc/lim"
	"pastelite/svc/util"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
)

// LiveCounter reports how many pastes are held; used by /ready.
type LiveCounter interface {
	Live() int
}

type Server struct {
	router     *chi.Mux
	live       LiveCounter
	cfg        *cfg.Cfg
	rdb        *db.Redis
	httpServer *http.Server
}

// Service is what the server needs from the paste layer.
type Service interface {
	PasteService
	LiveCounter
}

// NewServer wires the router. rdb may be nil when redis is not configured.
func NewServer(c *cfg.Cfg, p Service, l *lim.Limiter, rdb *db.Redis) *Server {
	s := &Server{
		live: p,
		cfg:  c,
		rdb:  rdb,
	}
	r := chi.NewRouter()
	mw := NewMw(l, c)
	r.Use(mw.Recoverer)
	r.Use(mw.CORS)
	r.Get("/health", s.Health)
	r.Get("/ready", s.Ready)
	r.Handle("/metrics", mw.BasicAuthMetrics(promhttp.Handler()))
	if c.PprofEnabled {
		r.Mount("/debug", middleware.Profiler())
	}

	r.Group(func(r chi.Router) {
		r.Use(mw.RequestID)
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("path", routePath(req)).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Str("request_id", util.GetRequestID(req.Context())).
				Msg("http request")
		}))
		if len(c.TrustedProxies) > 0 {
			r.Use(middleware.RealIP)
		}
		r.Use(mw.Observe)
		r.Use(mw.ContextTimeout)
		r.Use(mw.SecurityHeaders)
		hdl := NewHdl(p, c)
		r.With(mw.RateLimit("create")).Post("/api/pastes", hdl.CreatePaste)
		r.With(mw.RateLimit("view")).Get("/api/pastes/{id}", hdl.GetPaste)
	})
	s.router = r
	s.httpServer = &http.Server{
		Addr:              ":" + c.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    256 * 1024,
	}
	return s
}

// routePath logs the route pattern rather than the raw URL, which contains
// the paste id.
func routePath(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return "unmatched"
}
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
func (s *Server) Start() error {
	util.Info().Str("port", s.cfg.Port).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("port", s.cfg.Port).Msg("server failed to start")
		return err
	}
	return nil
}
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

package api

import (
	"context"
	"net/http"
	"pastelite/svc/util"
	"time"

	"github.com/go-chi/render"
)

type HealthResponse struct {
	Status string `json:"status"`
}
type ReadyResponse struct {
	Ready      bool   `json:"ready"`
	Degraded   bool   `json:"degraded"`
	Store      string `json:"store"`
	LivePastes int    `json:"live_pastes"`
	Cache      string `json:"cache"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, HealthResponse{Status: "ok"})
}

// Ready reports the in-memory store as always up. A redis outage only
// degrades the service, since rate limiting falls back to local buckets.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{
		Ready:      true,
		Store:      "up",
		LivePastes: s.live.Live(),
		Cache:      "unavailable",
	}
	if s.rdb != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := s.rdb.Ping(ctx); err != nil {
			util.Error().Err(err).Msg("cache health check failed")
			resp.Cache = "down"
			resp.Degraded = true
		} else {
			resp.Cache = "up"
		}
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

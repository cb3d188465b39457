package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Version is reported by the health endpoint.
var Version = "dev"

// HealthHandler handles GET /v1/sys/health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	code := http.StatusOK
	storeOK := true
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("health check: store unreachable")
			code = http.StatusServiceUnavailable
			storeOK = false
		}
	}
	writeJSON(w, code, map[string]any{
		"store":   storeOK,
		"version": Version,
	})
}

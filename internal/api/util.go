package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/org/integrationbroker/internal/crypto"
	"github.com/org/integrationbroker/internal/integration"
	"github.com/org/integrationbroker/internal/oauth"
	"github.com/org/integrationbroker/internal/storage"
	"github.com/org/integrationbroker/internal/token"
	"github.com/rs/zerolog/log"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"errors": []string{msg}})
}

// writeServiceError maps lifecycle errors to responses. Client errors carry
// only the error kind; dependency failures are logged with their cause.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, token.ErrInvalidToken):
		writeError(w, http.StatusBadRequest, token.ErrInvalidToken.Error())
	case errors.Is(err, integration.ErrInvalidAuthorization):
		writeError(w, http.StatusForbidden, integration.ErrInvalidAuthorization.Error())
	case errors.Is(err, integration.ErrAuthenticationFailed):
		writeError(w, http.StatusUnauthorized, integration.ErrAuthenticationFailed.Error())
	case errors.Is(err, crypto.ErrSecurity):
		writeError(w, http.StatusConflict, crypto.ErrSecurity.Error())
	case errors.Is(err, oauth.ErrExchange):
		writeError(w, http.StatusBadGateway, oauth.ErrExchange.Error())
	case errors.Is(err, storage.ErrConnection):
		writeError(w, http.StatusServiceUnavailable, "backing store unavailable")
	default:
		log.Error().Err(err).Str("route", routePattern(r)).Msg("unhandled error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

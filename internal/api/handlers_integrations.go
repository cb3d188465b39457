package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type authorizeParams struct {
	Code  string `validate:"required,max=2048"`
	State string `validate:"required,max=512"`
}

// CreateIntegrationHandler handles POST /v1/integrations
func (s *Server) CreateIntegrationHandler(w http.ResponseWriter, r *http.Request) {
	d, err := s.integrations.CreateIntegration(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"authorization_url": d.AuthorizationURL,
		"client_id":         d.ClientID,
		"scope":             d.Scope,
		"state":             d.State,
		"redirect_uri":      d.RedirectURI,
		"url":               d.URL(),
	})
}

// AuthorizeHandler handles GET /v1/integrations/authorize/{token}, the
// redirect target of the downstream authorization server.
func (s *Server) AuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		writeError(w, http.StatusBadRequest, "authorization denied: "+e)
		return
	}
	params := authorizeParams{Code: q.Get("code"), State: q.Get("state")}
	if err := s.validate.Struct(params); err != nil {
		writeError(w, http.StatusBadRequest, "code and state are required")
		return
	}

	compact, err := s.integrations.Authorize(r.Context(), chi.URLParam(r, "token"), params.Code, params.State)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": compact})
}

// AuthenticateHandler handles GET /v1/integrations/credential
func (s *Server) AuthenticateHandler(w http.ResponseWriter, r *http.Request) {
	compact, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	cred, err := s.integrations.Authenticate(r.Context(), compact)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]any{"credential": cred})
}

// RevokeHandler handles DELETE /v1/integrations
func (s *Server) RevokeHandler(w http.ResponseWriter, r *http.Request) {
	compact, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	if err := s.integrations.Revoke(r.Context(), compact); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

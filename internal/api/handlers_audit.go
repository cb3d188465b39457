package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/org/integrationbroker/internal/storage"
	"github.com/org/integrationbroker/pkg/models"
)

type auditParams struct {
	Kind   string `validate:"omitempty,oneof=authorization integration"`
	Event  string `validate:"omitempty,oneof=created authorized rejected authenticated revoked"`
	Limit  int    `validate:"min=1,max=1000"`
	Offset int    `validate:"min=0"`
}

// AuditLogHandler handles GET /v1/sys/audit-log
func (s *Server) AuditLogHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := auditParams{Kind: q.Get("kind"), Event: q.Get("event"), Limit: 100}

	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		params.Limit = n
	}
	if o := q.Get("offset"); o != "" {
		n, err := strconv.Atoi(o)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		params.Offset = n
	}
	if err := s.validate.Struct(params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid audit query")
		return
	}

	filter := storage.AuditFilter{
		Kind:   models.Kind(params.Kind),
		Event:  params.Event,
		Limit:  params.Limit,
		Offset: params.Offset,
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = &t
	}

	entries, err := s.auditor.Query(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*models.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": entries})
}

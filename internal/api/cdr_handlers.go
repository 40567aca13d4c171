package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/routecore/routecore/internal/database/models"
)

// cdrResponse is the JSON response for a single call detail record. CDRs
// are written through the proxy callback only, so this surface is
// read-only.
type cdrResponse struct {
	ID         int64   `json:"id"`
	TenantID   int64   `json:"tenant_id"`
	SourceIP   string  `json:"source_ip"`
	SourcePort int     `json:"source_port"`
	FromURI    string  `json:"from_uri"`
	ToURI      string  `json:"to_uri"`
	CallID     string  `json:"call_id"`
	CallStart  *string `json:"call_start"`
	Duration   *int    `json:"duration"`
	CreatedAt  string  `json:"created_at"`
}

func toCDRResponse(c *models.CDR) cdrResponse {
	resp := cdrResponse{
		ID:         c.ID,
		TenantID:   c.TenantID,
		SourceIP:   c.SourceIP,
		SourcePort: c.SourcePort,
		FromURI:    c.FromURI,
		ToURI:      c.ToURI,
		CallID:     c.CallID,
		Duration:   c.Duration,
		CreatedAt:  c.CreatedAt.Format(time.RFC3339),
	}
	if c.CallStart != nil {
		start := c.CallStart.Format(time.RFC3339)
		resp.CallStart = &start
	}
	return resp
}

// handleListCDRs returns call records within the caller's tenant scope.
func (s *Server) handleListCDRs(w http.ResponseWriter, r *http.Request) {
	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("list cdrs: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	cdrs, total, err := s.cdrs.List(r.Context(), scope, pg.Offset, pg.Limit)
	if err != nil {
		slog.Error("list cdrs: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]cdrResponse, len(cdrs))
	for i := range cdrs {
		items[i] = toCDRResponse(&cdrs[i])
	}
	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items: items, Total: total, Limit: pg.Limit, Offset: pg.Offset,
	})
}

// handleGetCDR returns a single call record by ID.
func (s *Server) handleGetCDR(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cdr id")
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("get cdr: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	record, err := s.cdrs.GetByID(r.Context(), id, scope)
	if err != nil {
		slog.Error("get cdr: failed to query", "error", err, "cdr_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "cdr not found")
		return
	}
	writeJSON(w, http.StatusOK, toCDRResponse(record))
}

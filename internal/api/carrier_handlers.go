package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/routecore/routecore/internal/database/models"
)

// carrierRequest is the JSON request body for creating/updating a carrier.
type carrierRequest struct {
	TenantID int64  `json:"tenant_id"`
	Name     string `json:"name"`
}

// carrierResponse is the JSON response for a single carrier.
type carrierResponse struct {
	ID        int64  `json:"id"`
	TenantID  int64  `json:"tenant_id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toCarrierResponse(c *models.Carrier) carrierResponse {
	return carrierResponse{
		ID:        c.ID,
		TenantID:  c.TenantID,
		Name:      c.Name,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
		UpdatedAt: c.UpdatedAt.Format(time.RFC3339),
	}
}

func validateCarrierRequest(req carrierRequest) string {
	if req.TenantID < 1 {
		return "tenant_id is required"
	}
	return validateRequiredStringLen("name", req.Name, maxNameLen)
}

// handleListCarriers returns carriers within the caller's tenant scope.
func (s *Server) handleListCarriers(w http.ResponseWriter, r *http.Request) {
	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("list carriers: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	carriers, err := s.carriers.List(r.Context(), scope, pg.Offset, pg.Limit)
	if err != nil {
		slog.Error("list carriers: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]carrierResponse, len(carriers))
	for i := range carriers {
		items[i] = toCarrierResponse(&carriers[i])
	}
	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items: items, Total: len(items), Limit: pg.Limit, Offset: pg.Offset,
	})
}

// handleCreateCarrier creates a new upstream carrier.
func (s *Server) handleCreateCarrier(w http.ResponseWriter, r *http.Request) {
	var req carrierRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateCarrierRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("create carrier: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	tenant, err := s.tenants.GetByID(r.Context(), req.TenantID)
	if err != nil {
		slog.Error("create carrier: failed to query tenant", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if tenant == nil || !scope.Contains(tenant.ID) {
		writeError(w, http.StatusBadRequest, "tenant does not exist")
		return
	}

	carrier := &models.Carrier{TenantID: req.TenantID, Name: req.Name}
	if err := s.carriers.Create(r.Context(), carrier); err != nil {
		if isConflict(err) {
			writeError(w, http.StatusConflict, "carrier already exists for this tenant")
			return
		}
		slog.Error("create carrier: failed to insert", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	created, err := s.carriers.GetByID(r.Context(), carrier.ID, scope)
	if err != nil || created == nil {
		slog.Error("create carrier: failed to re-fetch", "error", err, "carrier_id", carrier.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("carrier created", "carrier_id", created.ID, "tenant_id", created.TenantID, "name", created.Name)
	writeJSON(w, http.StatusCreated, toCarrierResponse(created))
}

// handleGetCarrier returns a single carrier by ID.
func (s *Server) handleGetCarrier(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid carrier id")
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("get carrier: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	carrier, err := s.carriers.GetByID(r.Context(), id, scope)
	if err != nil {
		slog.Error("get carrier: failed to query", "error", err, "carrier_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if carrier == nil {
		writeError(w, http.StatusNotFound, "carrier not found")
		return
	}
	writeJSON(w, http.StatusOK, toCarrierResponse(carrier))
}

// handleUpdateCarrier renames a carrier. Moving a carrier between tenants
// is not supported.
func (s *Server) handleUpdateCarrier(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid carrier id")
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("update carrier: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var req carrierRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateRequiredStringLen("name", req.Name, maxNameLen); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	carrier, err := s.carriers.GetByID(r.Context(), id, scope)
	if err != nil {
		slog.Error("update carrier: failed to query", "error", err, "carrier_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if carrier == nil {
		writeError(w, http.StatusNotFound, "carrier not found")
		return
	}
	if req.TenantID != 0 && req.TenantID != carrier.TenantID {
		writeError(w, http.StatusBadRequest, "carrier cannot move between tenants")
		return
	}

	carrier.Name = req.Name
	if err := s.carriers.Update(r.Context(), carrier); err != nil {
		if isConflict(err) {
			writeError(w, http.StatusConflict, "carrier already exists for this tenant")
			return
		}
		slog.Error("update carrier: failed to update", "error", err, "carrier_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	updated, err := s.carriers.GetByID(r.Context(), id, scope)
	if err != nil || updated == nil {
		slog.Error("update carrier: failed to re-fetch", "error", err, "carrier_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toCarrierResponse(updated))
}

// handleDeleteCarrier removes a carrier. Its trunks cascade, which can
// orphan routing entries, so the tenant's index partition is rebuilt.
func (s *Server) handleDeleteCarrier(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid carrier id")
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("delete carrier: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	carrier, err := s.carriers.GetByID(r.Context(), id, scope)
	if err != nil {
		slog.Error("delete carrier: failed to query", "error", err, "carrier_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if carrier == nil {
		writeError(w, http.StatusNotFound, "carrier not found")
		return
	}

	if err := s.carriers.Delete(r.Context(), id); err != nil {
		slog.Error("delete carrier: failed to delete", "error", err, "carrier_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := s.index.ReloadTenant(r.Context(), carrier.TenantID); err != nil {
		slog.Error("delete carrier: failed to reload index", "error", err, "tenant_id", carrier.TenantID)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

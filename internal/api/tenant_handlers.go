package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/routecore/routecore/internal/database/models"
)

// tenantRequest is the JSON request body for creating/updating a tenant.
type tenantRequest struct {
	Name string `json:"name"`
	UUID string `json:"uuid"`
}

// tenantResponse is the JSON response for a single tenant.
type tenantResponse struct {
	ID        int64  `json:"id"`
	UUID      string `json:"uuid"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toTenantResponse(t *models.Tenant) tenantResponse {
	return tenantResponse{
		ID:        t.ID,
		UUID:      t.UUID,
		Name:      t.Name,
		CreatedAt: t.CreatedAt.Format(time.RFC3339),
		UpdatedAt: t.UpdatedAt.Format(time.RFC3339),
	}
}

// handleListTenants returns tenants with pagination. Scoped principals only
// see their own tenants.
func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("list tenants: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	tenants, err := s.tenants.List(r.Context(), pg.Offset, pg.Limit)
	if err != nil {
		slog.Error("list tenants: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]tenantResponse, 0, len(tenants))
	for i := range tenants {
		if !scope.Contains(tenants[i].ID) {
			continue
		}
		items = append(items, toTenantResponse(&tenants[i]))
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  items,
		Total:  len(items),
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
}

// handleCreateTenant creates a new tenant. The UUID may be supplied for
// provisioning from an external inventory; otherwise one is assigned.
func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req tenantRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateRequiredStringLen("name", req.Name, maxNameLen); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if req.UUID == "" {
		req.UUID = uuid.NewString()
	} else {
		if errMsg := validateUUID("uuid", req.UUID); errMsg != "" {
			writeError(w, http.StatusBadRequest, errMsg)
			return
		}
		req.UUID = strings.ToLower(req.UUID)
	}

	tenant := &models.Tenant{UUID: req.UUID, Name: req.Name}
	if err := s.tenants.Create(r.Context(), tenant); err != nil {
		if isConflict(err) {
			writeError(w, http.StatusConflict, "tenant name or uuid already exists")
			return
		}
		slog.Error("create tenant: failed to insert", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	created, err := s.tenants.GetByID(r.Context(), tenant.ID)
	if err != nil || created == nil {
		slog.Error("create tenant: failed to re-fetch", "error", err, "tenant_id", tenant.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("tenant created", "tenant_id", created.ID, "uuid", created.UUID, "name", created.Name)
	writeJSON(w, http.StatusCreated, toTenantResponse(created))
}

// handleGetTenant returns a single tenant by ID.
func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("get tenant: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	tenant, err := s.tenants.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("get tenant: failed to query", "error", err, "tenant_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if tenant == nil || !scope.Contains(tenant.ID) {
		writeError(w, http.StatusNotFound, "tenant not found")
		return
	}

	writeJSON(w, http.StatusOK, toTenantResponse(tenant))
}

// handleUpdateTenant renames a tenant. The UUID is immutable.
func (s *Server) handleUpdateTenant(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("update tenant: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var req tenantRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateRequiredStringLen("name", req.Name, maxNameLen); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	tenant, err := s.tenants.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("update tenant: failed to query", "error", err, "tenant_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if tenant == nil || !scope.Contains(tenant.ID) {
		writeError(w, http.StatusNotFound, "tenant not found")
		return
	}

	tenant.Name = req.Name
	if err := s.tenants.Update(r.Context(), tenant); err != nil {
		if isConflict(err) {
			writeError(w, http.StatusConflict, "tenant name already exists")
			return
		}
		slog.Error("update tenant: failed to update", "error", err, "tenant_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	updated, err := s.tenants.GetByID(r.Context(), id)
	if err != nil || updated == nil {
		slog.Error("update tenant: failed to re-fetch", "error", err, "tenant_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, toTenantResponse(updated))
}

// handleDeleteTenant removes a tenant. Every owned entity cascades, and the
// tenant's routing index partition is dropped.
func (s *Server) handleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("delete tenant: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	tenant, err := s.tenants.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("delete tenant: failed to query", "error", err, "tenant_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if tenant == nil || !scope.Contains(tenant.ID) {
		writeError(w, http.StatusNotFound, "tenant not found")
		return
	}

	if err := s.tenants.Delete(r.Context(), id); err != nil {
		slog.Error("delete tenant: failed to delete", "error", err, "tenant_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.index.DropTenant(id)

	slog.Info("tenant deleted", "tenant_id", id, "name", tenant.Name)
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/routecore/routecore/internal/database/models"
)

// domainRequest is the JSON request body for creating/updating a domain.
type domainRequest struct {
	TenantID int64  `json:"tenant_id"`
	Domain   string `json:"domain"`
}

// domainResponse is the JSON response for a single domain.
type domainResponse struct {
	ID        int64  `json:"id"`
	TenantID  int64  `json:"tenant_id"`
	Domain    string `json:"domain"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toDomainResponse(d *models.Domain) domainResponse {
	return domainResponse{
		ID:        d.ID,
		TenantID:  d.TenantID,
		Domain:    d.Domain,
		CreatedAt: d.CreatedAt.Format(time.RFC3339),
		UpdatedAt: d.UpdatedAt.Format(time.RFC3339),
	}
}

func validateDomainRequest(req domainRequest) string {
	if req.TenantID < 1 {
		return "tenant_id is required"
	}
	return validateRequiredStringLen("domain", req.Domain, maxHostLen)
}

// handleListDomains returns domains within the caller's tenant scope.
func (s *Server) handleListDomains(w http.ResponseWriter, r *http.Request) {
	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("list domains: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	domains, err := s.domains.List(r.Context(), scope, pg.Offset, pg.Limit)
	if err != nil {
		slog.Error("list domains: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]domainResponse, len(domains))
	for i := range domains {
		items[i] = toDomainResponse(&domains[i])
	}
	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items: items, Total: len(items), Limit: pg.Limit, Offset: pg.Offset,
	})
}

// handleCreateDomain creates a new SIP domain under a tenant.
func (s *Server) handleCreateDomain(w http.ResponseWriter, r *http.Request) {
	var req domainRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateDomainRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("create domain: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	tenant, err := s.tenants.GetByID(r.Context(), req.TenantID)
	if err != nil {
		slog.Error("create domain: failed to query tenant", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if tenant == nil || !scope.Contains(tenant.ID) {
		writeError(w, http.StatusBadRequest, "tenant does not exist")
		return
	}

	domain := &models.Domain{TenantID: req.TenantID, Domain: req.Domain}
	if err := s.domains.Create(r.Context(), domain); err != nil {
		if isConflict(err) {
			writeError(w, http.StatusConflict, "domain already exists for this tenant")
			return
		}
		slog.Error("create domain: failed to insert", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	created, err := s.domains.GetByID(r.Context(), domain.ID, scope)
	if err != nil || created == nil {
		slog.Error("create domain: failed to re-fetch", "error", err, "domain_id", domain.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("domain created", "domain_id", created.ID, "tenant_id", created.TenantID, "domain", created.Domain)
	writeJSON(w, http.StatusCreated, toDomainResponse(created))
}

// handleGetDomain returns a single domain by ID.
func (s *Server) handleGetDomain(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid domain id")
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("get domain: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	domain, err := s.domains.GetByID(r.Context(), id, scope)
	if err != nil {
		slog.Error("get domain: failed to query", "error", err, "domain_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if domain == nil {
		writeError(w, http.StatusNotFound, "domain not found")
		return
	}
	writeJSON(w, http.StatusOK, toDomainResponse(domain))
}

// handleUpdateDomain renames a domain. Moving a domain between tenants is
// not supported; the tenant_id in the body must match the stored one.
func (s *Server) handleUpdateDomain(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid domain id")
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("update domain: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var req domainRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateRequiredStringLen("domain", req.Domain, maxHostLen); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	domain, err := s.domains.GetByID(r.Context(), id, scope)
	if err != nil {
		slog.Error("update domain: failed to query", "error", err, "domain_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if domain == nil {
		writeError(w, http.StatusNotFound, "domain not found")
		return
	}
	if req.TenantID != 0 && req.TenantID != domain.TenantID {
		writeError(w, http.StatusBadRequest, "domain cannot move between tenants")
		return
	}

	domain.Domain = req.Domain
	if err := s.domains.Update(r.Context(), domain); err != nil {
		if isConflict(err) {
			writeError(w, http.StatusConflict, "domain already exists for this tenant")
			return
		}
		slog.Error("update domain: failed to update", "error", err, "domain_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	updated, err := s.domains.GetByID(r.Context(), id, scope)
	if err != nil || updated == nil {
		slog.Error("update domain: failed to re-fetch", "error", err, "domain_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toDomainResponse(updated))
}

// handleDeleteDomain removes a domain; endpoints under it cascade.
func (s *Server) handleDeleteDomain(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid domain id")
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("delete domain: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	domain, err := s.domains.GetByID(r.Context(), id, scope)
	if err != nil {
		slog.Error("delete domain: failed to query", "error", err, "domain_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if domain == nil {
		writeError(w, http.StatusNotFound, "domain not found")
		return
	}

	if err := s.domains.Delete(r.Context(), id); err != nil {
		slog.Error("delete domain: failed to delete", "error", err, "domain_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Endpoints under the domain cascade, which can orphan index entries.
	if err := s.index.ReloadTenant(r.Context(), domain.TenantID); err != nil {
		slog.Error("delete domain: failed to reload index", "error", err, "tenant_id", domain.TenantID)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

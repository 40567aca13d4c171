package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/routecore/routecore/internal/database"
	"github.com/routecore/routecore/internal/database/models"
)

// ipbxRequest is the JSON request body for creating/updating an IPBX
// endpoint. Password, when supplied, is hashed before storage and its HA1
// digest is derived from (username, domain, password).
type ipbxRequest struct {
	TenantID   int64  `json:"tenant_id"`
	DomainID   int64  `json:"domain_id"`
	Customer   *int64 `json:"customer"`
	IPFqdn     string `json:"ip_fqdn"`
	Port       int    `json:"port"`
	IPAddress  string `json:"ip_address"`
	Registered bool   `json:"registered"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

// ipbxResponse is the JSON response for a single IPBX. Credentials are
// never returned.
type ipbxResponse struct {
	ID         int64   `json:"id"`
	TenantID   int64   `json:"tenant_id"`
	DomainID   int64   `json:"domain_id"`
	Customer   *int64  `json:"customer"`
	IPFqdn     string  `json:"ip_fqdn"`
	Port       int     `json:"port"`
	IPAddress  *string `json:"ip_address"`
	Registered bool    `json:"registered"`
	Username   *string `json:"username"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
}

func toIPBXResponse(p *models.IPBX) ipbxResponse {
	return ipbxResponse{
		ID:         p.ID,
		TenantID:   p.TenantID,
		DomainID:   p.DomainID,
		Customer:   p.Customer,
		IPFqdn:     p.IPFqdn,
		Port:       p.Port,
		IPAddress:  p.IPAddress,
		Registered: p.Registered,
		Username:   p.Username,
		CreatedAt:  p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  p.UpdatedAt.Format(time.RFC3339),
	}
}

func validateIPBXRequest(req ipbxRequest) string {
	if req.TenantID < 1 {
		return "tenant_id is required"
	}
	if req.DomainID < 1 {
		return "domain_id is required"
	}
	if errMsg := validateHost("ip_fqdn", req.IPFqdn); errMsg != "" {
		return errMsg
	}
	if errMsg := validatePort("port", req.Port); errMsg != "" {
		return errMsg
	}
	if errMsg := validateOptionalIP("ip_address", req.IPAddress); errMsg != "" {
		return errMsg
	}
	if errMsg := validateStringLen("username", req.Username, maxNameLen); errMsg != "" {
		return errMsg
	}
	if errMsg := validateStringLen("password", req.Password, maxPasswordLen); errMsg != "" {
		return errMsg
	}
	if req.Password != "" && req.Username == "" {
		return "username is required when a password is set"
	}
	return ""
}

// applyIPBXCredentials fills the stored credential fields from the request.
// The plaintext password never reaches the store: the Argon2id hash and the
// HA1 digest (keyed on the domain name as realm) are written instead.
func applyIPBXCredentials(pbx *models.IPBX, req ipbxRequest, domainName string) error {
	if req.Username != "" {
		pbx.Username = &req.Username
	} else {
		pbx.Username = nil
		pbx.Password = nil
		pbx.PasswordHA1 = nil
		return nil
	}
	if req.Password == "" {
		return nil
	}

	hashed, err := database.HashPassword(req.Password)
	if err != nil {
		return err
	}
	ha1 := database.HashHA1(req.Username, domainName, req.Password)
	pbx.Password = &hashed
	pbx.PasswordHA1 = &ha1
	return nil
}

// handleListIPBX returns endpoints within the caller's tenant scope.
func (s *Server) handleListIPBX(w http.ResponseWriter, r *http.Request) {
	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("list ipbx: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	pbxes, err := s.ipbxes.List(r.Context(), scope, pg.Offset, pg.Limit)
	if err != nil {
		slog.Error("list ipbx: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]ipbxResponse, len(pbxes))
	for i := range pbxes {
		items[i] = toIPBXResponse(&pbxes[i])
	}
	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items: items, Total: len(items), Limit: pg.Limit, Offset: pg.Offset,
	})
}

// handleCreateIPBX creates a new endpoint.
func (s *Server) handleCreateIPBX(w http.ResponseWriter, r *http.Request) {
	var req ipbxRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateIPBXRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("create ipbx: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	domain, err := s.domains.GetByID(r.Context(), req.DomainID, scope)
	if err != nil {
		slog.Error("create ipbx: failed to query domain", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if domain == nil || domain.TenantID != req.TenantID {
		writeError(w, http.StatusBadRequest, "domain does not exist under this tenant")
		return
	}

	pbx := &models.IPBX{
		TenantID:   req.TenantID,
		DomainID:   req.DomainID,
		Customer:   req.Customer,
		IPFqdn:     req.IPFqdn,
		Port:       req.Port,
		Registered: req.Registered,
	}
	if pbx.Port == 0 {
		pbx.Port = 5060
	}
	if req.IPAddress != "" {
		pbx.IPAddress = &req.IPAddress
	}
	if err := applyIPBXCredentials(pbx, req, domain.Domain); err != nil {
		slog.Error("create ipbx: failed to hash credentials", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := s.ipbxes.Create(r.Context(), pbx); err != nil {
		slog.Error("create ipbx: failed to insert", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	created, err := s.ipbxes.GetByID(r.Context(), pbx.ID, scope)
	if err != nil || created == nil {
		slog.Error("create ipbx: failed to re-fetch", "error", err, "ipbx_id", pbx.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("ipbx created", "ipbx_id", created.ID, "tenant_id", created.TenantID)
	writeJSON(w, http.StatusCreated, toIPBXResponse(created))
}

// handleGetIPBX returns a single endpoint by ID.
func (s *Server) handleGetIPBX(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ipbx id")
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("get ipbx: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	pbx, err := s.ipbxes.GetByID(r.Context(), id, scope)
	if err != nil {
		slog.Error("get ipbx: failed to query", "error", err, "ipbx_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if pbx == nil {
		writeError(w, http.StatusNotFound, "ipbx not found")
		return
	}
	writeJSON(w, http.StatusOK, toIPBXResponse(pbx))
}

// handleUpdateIPBX modifies an endpoint. An empty password leaves the
// stored credentials untouched.
func (s *Server) handleUpdateIPBX(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ipbx id")
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("update ipbx: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var req ipbxRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateIPBXRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	pbx, err := s.ipbxes.GetByID(r.Context(), id, scope)
	if err != nil {
		slog.Error("update ipbx: failed to query", "error", err, "ipbx_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if pbx == nil {
		writeError(w, http.StatusNotFound, "ipbx not found")
		return
	}

	domain, err := s.domains.GetByID(r.Context(), req.DomainID, scope)
	if err != nil {
		slog.Error("update ipbx: failed to query domain", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if domain == nil || domain.TenantID != req.TenantID {
		writeError(w, http.StatusBadRequest, "domain does not exist under this tenant")
		return
	}

	keepPassword := pbx.Password
	keepHA1 := pbx.PasswordHA1

	pbx.TenantID = req.TenantID
	pbx.DomainID = req.DomainID
	pbx.Customer = req.Customer
	pbx.IPFqdn = req.IPFqdn
	pbx.Port = req.Port
	if pbx.Port == 0 {
		pbx.Port = 5060
	}
	pbx.Registered = req.Registered
	if req.IPAddress != "" {
		pbx.IPAddress = &req.IPAddress
	} else {
		pbx.IPAddress = nil
	}
	if err := applyIPBXCredentials(pbx, req, domain.Domain); err != nil {
		slog.Error("update ipbx: failed to hash credentials", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if req.Username != "" && req.Password == "" {
		pbx.Password = keepPassword
		pbx.PasswordHA1 = keepHA1
	}

	if err := s.ipbxes.Update(r.Context(), pbx); err != nil {
		slog.Error("update ipbx: failed to update", "error", err, "ipbx_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	updated, err := s.ipbxes.GetByID(r.Context(), id, scope)
	if err != nil || updated == nil {
		slog.Error("update ipbx: failed to re-fetch", "error", err, "ipbx_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toIPBXResponse(updated))
}

// handleDeleteIPBX removes an endpoint. Routing rules and DIDs pointing at
// it cascade, so the owning tenant's index partition is rebuilt.
func (s *Server) handleDeleteIPBX(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ipbx id")
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("delete ipbx: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	pbx, err := s.ipbxes.GetByID(r.Context(), id, scope)
	if err != nil {
		slog.Error("delete ipbx: failed to query", "error", err, "ipbx_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if pbx == nil {
		writeError(w, http.StatusNotFound, "ipbx not found")
		return
	}

	if err := s.ipbxes.Delete(r.Context(), id); err != nil {
		slog.Error("delete ipbx: failed to delete", "error", err, "ipbx_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := s.index.ReloadTenant(r.Context(), pbx.TenantID); err != nil {
		slog.Error("delete ipbx: failed to reload index", "error", err, "tenant_id", pbx.TenantID)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

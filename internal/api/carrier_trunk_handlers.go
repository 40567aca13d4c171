package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/routecore/routecore/internal/database/models"
)

// carrierTrunkRequest is the JSON request body for creating/updating a
// carrier trunk. AuthPassword is stored verbatim because the proxy needs
// the plaintext for its own outbound registration; it is never returned.
type carrierTrunkRequest struct {
	CarrierID      int64  `json:"carrier_id"`
	Name           string `json:"name"`
	SIPProxy       string `json:"sip_proxy"`
	SIPProxyPort   int    `json:"sip_proxy_port"`
	IPAddress      string `json:"ip_address"`
	Registered     bool   `json:"registered"`
	AuthUsername   string `json:"auth_username"`
	AuthPassword   string `json:"auth_password"`
	Realm          string `json:"realm"`
	RegistrarProxy string `json:"registrar_proxy"`
	FromDomain     string `json:"from_domain"`
	ExpireSeconds  int    `json:"expire_seconds"`
	RetrySeconds   int    `json:"retry_seconds"`
}

// carrierTrunkResponse is the JSON response for a single trunk. The auth
// password is never included.
type carrierTrunkResponse struct {
	ID             int64   `json:"id"`
	CarrierID      int64   `json:"carrier_id"`
	Name           string  `json:"name"`
	SIPProxy       string  `json:"sip_proxy"`
	SIPProxyPort   int     `json:"sip_proxy_port"`
	IPAddress      *string `json:"ip_address"`
	Registered     bool    `json:"registered"`
	AuthUsername   *string `json:"auth_username"`
	Realm          *string `json:"realm"`
	RegistrarProxy *string `json:"registrar_proxy"`
	FromDomain     *string `json:"from_domain"`
	ExpireSeconds  int     `json:"expire_seconds"`
	RetrySeconds   int     `json:"retry_seconds"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

func toCarrierTrunkResponse(t *models.CarrierTrunk) carrierTrunkResponse {
	return carrierTrunkResponse{
		ID:             t.ID,
		CarrierID:      t.CarrierID,
		Name:           t.Name,
		SIPProxy:       t.SIPProxy,
		SIPProxyPort:   t.SIPProxyPort,
		IPAddress:      t.IPAddress,
		Registered:     t.Registered,
		AuthUsername:   t.AuthUsername,
		Realm:          t.Realm,
		RegistrarProxy: t.RegistrarProxy,
		FromDomain:     t.FromDomain,
		ExpireSeconds:  t.ExpireSeconds,
		RetrySeconds:   t.RetrySeconds,
		CreatedAt:      t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      t.UpdatedAt.Format(time.RFC3339),
	}
}

func validateCarrierTrunkRequest(req carrierTrunkRequest) string {
	if req.CarrierID < 1 {
		return "carrier_id is required"
	}
	if errMsg := validateRequiredStringLen("name", req.Name, maxNameLen); errMsg != "" {
		return errMsg
	}
	if errMsg := validateHost("sip_proxy", req.SIPProxy); errMsg != "" {
		return errMsg
	}
	if errMsg := validatePort("sip_proxy_port", req.SIPProxyPort); errMsg != "" {
		return errMsg
	}
	if errMsg := validateOptionalIP("ip_address", req.IPAddress); errMsg != "" {
		return errMsg
	}
	if errMsg := validateStringLen("auth_username", req.AuthUsername, maxNameLen); errMsg != "" {
		return errMsg
	}
	if errMsg := validateStringLen("auth_password", req.AuthPassword, maxPasswordLen); errMsg != "" {
		return errMsg
	}
	if errMsg := validateStringLen("realm", req.Realm, maxHostLen); errMsg != "" {
		return errMsg
	}
	if errMsg := validateStringLen("registrar_proxy", req.RegistrarProxy, maxHostLen); errMsg != "" {
		return errMsg
	}
	if errMsg := validateStringLen("from_domain", req.FromDomain, maxHostLen); errMsg != "" {
		return errMsg
	}
	if req.ExpireSeconds < 0 || req.RetrySeconds < 0 {
		return "expire_seconds and retry_seconds must be non-negative"
	}
	return ""
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// applyTrunkRequest copies the request fields onto the model, filling
// registration defaults for zero values.
func applyTrunkRequest(trunk *models.CarrierTrunk, req carrierTrunkRequest) {
	trunk.CarrierID = req.CarrierID
	trunk.Name = req.Name
	trunk.SIPProxy = req.SIPProxy
	trunk.SIPProxyPort = req.SIPProxyPort
	if trunk.SIPProxyPort == 0 {
		trunk.SIPProxyPort = 5060
	}
	trunk.IPAddress = optString(req.IPAddress)
	trunk.Registered = req.Registered
	trunk.AuthUsername = optString(req.AuthUsername)
	trunk.Realm = optString(req.Realm)
	trunk.RegistrarProxy = optString(req.RegistrarProxy)
	trunk.FromDomain = optString(req.FromDomain)
	trunk.ExpireSeconds = req.ExpireSeconds
	if trunk.ExpireSeconds == 0 {
		trunk.ExpireSeconds = 3600
	}
	trunk.RetrySeconds = req.RetrySeconds
	if trunk.RetrySeconds == 0 {
		trunk.RetrySeconds = 30
	}
}

// handleListCarrierTrunks returns trunks within the caller's tenant scope.
func (s *Server) handleListCarrierTrunks(w http.ResponseWriter, r *http.Request) {
	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("list carrier trunks: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	trunks, err := s.trunks.List(r.Context(), scope, pg.Offset, pg.Limit)
	if err != nil {
		slog.Error("list carrier trunks: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]carrierTrunkResponse, len(trunks))
	for i := range trunks {
		items[i] = toCarrierTrunkResponse(&trunks[i])
	}
	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items: items, Total: len(items), Limit: pg.Limit, Offset: pg.Offset,
	})
}

// handleCreateCarrierTrunk creates a new carrier trunk.
func (s *Server) handleCreateCarrierTrunk(w http.ResponseWriter, r *http.Request) {
	var req carrierTrunkRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateCarrierTrunkRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("create carrier trunk: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	carrier, err := s.carriers.GetByID(r.Context(), req.CarrierID, scope)
	if err != nil {
		slog.Error("create carrier trunk: failed to query carrier", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if carrier == nil {
		writeError(w, http.StatusBadRequest, "carrier does not exist")
		return
	}

	trunk := &models.CarrierTrunk{}
	applyTrunkRequest(trunk, req)
	trunk.AuthPassword = optString(req.AuthPassword)

	if err := s.trunks.Create(r.Context(), trunk); err != nil {
		if isConflict(err) {
			writeError(w, http.StatusConflict, "carrier trunk name already exists")
			return
		}
		slog.Error("create carrier trunk: failed to insert", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	created, err := s.trunks.GetByID(r.Context(), trunk.ID, scope)
	if err != nil || created == nil {
		slog.Error("create carrier trunk: failed to re-fetch", "error", err, "trunk_id", trunk.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("carrier trunk created", "trunk_id", created.ID, "carrier_id", created.CarrierID, "name", created.Name)
	writeJSON(w, http.StatusCreated, toCarrierTrunkResponse(created))
}

// handleGetCarrierTrunk returns a single trunk by ID.
func (s *Server) handleGetCarrierTrunk(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid carrier trunk id")
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("get carrier trunk: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	trunk, err := s.trunks.GetByID(r.Context(), id, scope)
	if err != nil {
		slog.Error("get carrier trunk: failed to query", "error", err, "trunk_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if trunk == nil {
		writeError(w, http.StatusNotFound, "carrier trunk not found")
		return
	}
	writeJSON(w, http.StatusOK, toCarrierTrunkResponse(trunk))
}

// handleUpdateCarrierTrunk modifies a trunk. An empty auth_password keeps
// the stored one.
func (s *Server) handleUpdateCarrierTrunk(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid carrier trunk id")
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("update carrier trunk: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var req carrierTrunkRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateCarrierTrunkRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	trunk, err := s.trunks.GetByID(r.Context(), id, scope)
	if err != nil {
		slog.Error("update carrier trunk: failed to query", "error", err, "trunk_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if trunk == nil {
		writeError(w, http.StatusNotFound, "carrier trunk not found")
		return
	}

	carrier, err := s.carriers.GetByID(r.Context(), req.CarrierID, scope)
	if err != nil {
		slog.Error("update carrier trunk: failed to query carrier", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if carrier == nil {
		writeError(w, http.StatusBadRequest, "carrier does not exist")
		return
	}

	applyTrunkRequest(trunk, req)
	if req.AuthPassword != "" {
		trunk.AuthPassword = optString(req.AuthPassword)
	}

	if err := s.trunks.Update(r.Context(), trunk); err != nil {
		if isConflict(err) {
			writeError(w, http.StatusConflict, "carrier trunk name already exists")
			return
		}
		slog.Error("update carrier trunk: failed to update", "error", err, "trunk_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	updated, err := s.trunks.GetByID(r.Context(), id, scope)
	if err != nil || updated == nil {
		slog.Error("update carrier trunk: failed to re-fetch", "error", err, "trunk_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toCarrierTrunkResponse(updated))
}

// handleDeleteCarrierTrunk removes a trunk. Routing rules and DIDs pointing
// at it cascade, so the owning tenant's index partition is rebuilt.
func (s *Server) handleDeleteCarrierTrunk(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid carrier trunk id")
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("delete carrier trunk: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	trunk, err := s.trunks.GetByID(r.Context(), id, scope)
	if err != nil {
		slog.Error("delete carrier trunk: failed to query", "error", err, "trunk_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if trunk == nil {
		writeError(w, http.StatusNotFound, "carrier trunk not found")
		return
	}

	tenantID, err := s.trunks.TenantID(r.Context(), id)
	if err != nil {
		slog.Error("delete carrier trunk: failed to resolve tenant", "error", err, "trunk_id", id)
	}

	if err := s.trunks.Delete(r.Context(), id); err != nil {
		slog.Error("delete carrier trunk: failed to delete", "error", err, "trunk_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if tenantID > 0 {
		if err := s.index.ReloadTenant(r.Context(), tenantID); err != nil {
			slog.Error("delete carrier trunk: failed to reload index", "error", err, "tenant_id", tenantID)
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

package api

import (
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/routecore/routecore/internal/database"
	"github.com/routecore/routecore/internal/database/models"
	"github.com/routecore/routecore/internal/routing"
)

// didRequest is the JSON request body for creating/updating a DID. Exactly
// one of carrier_trunk_id and ipbx_id must be set as the destination.
type didRequest struct {
	TenantUUID     string `json:"tenant_uuid"`
	DIDRegex       string `json:"did_regex"`
	CarrierTrunkID *int64 `json:"carrier_trunk_id"`
	IPBXID         *int64 `json:"ipbx_id"`
}

// didResponse is the JSON response for a single DID. The prefix is derived
// from did_regex at write time and exposed read-only.
type didResponse struct {
	ID             int64   `json:"id"`
	TenantUUID     string  `json:"tenant_uuid"`
	DIDRegex       *string `json:"did_regex"`
	DIDPrefix      string  `json:"did_prefix"`
	CarrierTrunkID *int64  `json:"carrier_trunk_id"`
	IPBXID         *int64  `json:"ipbx_id"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

func toDIDResponse(d *models.DID) didResponse {
	return didResponse{
		ID:             d.ID,
		TenantUUID:     d.TenantUUID,
		DIDRegex:       d.DIDRegex,
		DIDPrefix:      d.DIDPrefix,
		CarrierTrunkID: d.CarrierTrunkID,
		IPBXID:         d.IPBXID,
		CreatedAt:      d.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      d.UpdatedAt.Format(time.RFC3339),
	}
}

func validateDIDRequest(req didRequest) string {
	if errMsg := validateUUID("tenant_uuid", req.TenantUUID); errMsg != "" {
		return errMsg
	}
	hasTrunk := req.CarrierTrunkID != nil && *req.CarrierTrunkID > 0
	hasIPBX := req.IPBXID != nil && *req.IPBXID > 0
	if hasTrunk == hasIPBX {
		return "exactly one of carrier_trunk_id and ipbx_id must be set"
	}
	if errMsg := validateStringLen("did_regex", req.DIDRegex, maxPatternLen); errMsg != "" {
		return errMsg
	}
	if req.DIDRegex != "" {
		if _, err := regexp.Compile(req.DIDRegex); err != nil {
			return "did_regex is not a valid regular expression"
		}
	}
	return ""
}

// didTenant resolves and scope-checks the tenant named by the request UUID.
func (s *Server) didTenant(r *http.Request, tenantUUID string, scope database.TenantScope) (*models.Tenant, error) {
	tenant, err := s.tenants.GetByUUID(r.Context(), strings.ToLower(tenantUUID))
	if err != nil {
		return nil, err
	}
	if tenant == nil || !scope.Contains(tenant.ID) {
		return nil, nil
	}
	return tenant, nil
}

// handleListDIDs returns DIDs within the caller's tenant scope.
func (s *Server) handleListDIDs(w http.ResponseWriter, r *http.Request) {
	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("list dids: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	dids, err := s.dids.List(r.Context(), scope, pg.Offset, pg.Limit)
	if err != nil {
		slog.Error("list dids: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]didResponse, len(dids))
	for i := range dids {
		items[i] = toDIDResponse(&dids[i])
	}
	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items: items, Total: len(items), Limit: pg.Limit, Offset: pg.Offset,
	})
}

// handleCreateDID creates a DID and derives its prefix from the pattern.
func (s *Server) handleCreateDID(w http.ResponseWriter, r *http.Request) {
	var req didRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateDIDRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("create did: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	tenant, err := s.didTenant(r, req.TenantUUID, scope)
	if err != nil {
		slog.Error("create did: failed to query tenant", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if tenant == nil {
		writeError(w, http.StatusBadRequest, "tenant does not exist")
		return
	}

	did := &models.DID{
		TenantUUID:     tenant.UUID,
		DIDRegex:       optString(req.DIDRegex),
		DIDPrefix:      routing.DerivePrefix(req.DIDRegex),
		CarrierTrunkID: req.CarrierTrunkID,
		IPBXID:         req.IPBXID,
	}

	if err := s.dids.Create(r.Context(), did); err != nil {
		slog.Error("create did: failed to insert", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := s.index.ReloadTenant(r.Context(), tenant.ID); err != nil {
		slog.Error("create did: failed to reload index", "error", err, "tenant_id", tenant.ID)
	}

	created, err := s.dids.GetByID(r.Context(), did.ID, scope)
	if err != nil || created == nil {
		slog.Error("create did: failed to re-fetch", "error", err, "did_id", did.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("did created", "did_id", created.ID, "tenant_uuid", created.TenantUUID, "prefix", created.DIDPrefix)
	writeJSON(w, http.StatusCreated, toDIDResponse(created))
}

// handleGetDID returns a single DID by ID.
func (s *Server) handleGetDID(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid did id")
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("get did: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	did, err := s.dids.GetByID(r.Context(), id, scope)
	if err != nil {
		slog.Error("get did: failed to query", "error", err, "did_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if did == nil {
		writeError(w, http.StatusNotFound, "did not found")
		return
	}
	writeJSON(w, http.StatusOK, toDIDResponse(did))
}

// handleUpdateDID modifies a DID and re-derives its prefix.
func (s *Server) handleUpdateDID(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid did id")
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("update did: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var req didRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateDIDRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	did, err := s.dids.GetByID(r.Context(), id, scope)
	if err != nil {
		slog.Error("update did: failed to query", "error", err, "did_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if did == nil {
		writeError(w, http.StatusNotFound, "did not found")
		return
	}
	if !strings.EqualFold(req.TenantUUID, did.TenantUUID) {
		writeError(w, http.StatusBadRequest, "did cannot move between tenants")
		return
	}

	tenant, err := s.didTenant(r, did.TenantUUID, scope)
	if err != nil {
		slog.Error("update did: failed to query tenant", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if tenant == nil {
		writeError(w, http.StatusBadRequest, "tenant does not exist")
		return
	}

	did.DIDRegex = optString(req.DIDRegex)
	did.DIDPrefix = routing.DerivePrefix(req.DIDRegex)
	did.CarrierTrunkID = req.CarrierTrunkID
	did.IPBXID = req.IPBXID

	if err := s.dids.Update(r.Context(), did); err != nil {
		slog.Error("update did: failed to update", "error", err, "did_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := s.index.ReloadTenant(r.Context(), tenant.ID); err != nil {
		slog.Error("update did: failed to reload index", "error", err, "tenant_id", tenant.ID)
	}

	updated, err := s.dids.GetByID(r.Context(), id, scope)
	if err != nil || updated == nil {
		slog.Error("update did: failed to re-fetch", "error", err, "did_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toDIDResponse(updated))
}

// handleDeleteDID removes a DID and rebuilds the owning tenant's index
// partition.
func (s *Server) handleDeleteDID(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid did id")
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("delete did: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	did, err := s.dids.GetByID(r.Context(), id, scope)
	if err != nil {
		slog.Error("delete did: failed to query", "error", err, "did_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if did == nil {
		writeError(w, http.StatusNotFound, "did not found")
		return
	}

	tenant, err := s.tenants.GetByUUID(r.Context(), did.TenantUUID)
	if err != nil {
		slog.Error("delete did: failed to query tenant", "error", err, "did_id", id)
	}

	if err := s.dids.Delete(r.Context(), id); err != nil {
		slog.Error("delete did: failed to delete", "error", err, "did_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if tenant != nil {
		if err := s.index.ReloadTenant(r.Context(), tenant.ID); err != nil {
			slog.Error("delete did: failed to reload index", "error", err, "tenant_id", tenant.ID)
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

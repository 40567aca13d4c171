package api

import (
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/routecore/routecore/internal/database"
	"github.com/routecore/routecore/internal/database/models"
	"github.com/routecore/routecore/internal/routing"
)

// routingRuleRequest is the JSON request body for creating/updating a
// routing rule. Exactly one of carrier_trunk_id and ipbx_id must be set.
type routingRuleRequest struct {
	CarrierTrunkID *int64 `json:"carrier_trunk_id"`
	IPBXID         *int64 `json:"ipbx_id"`
	DIDRegex       string `json:"did_regex"`
	RouteType      string `json:"route_type"`
}

// routingRuleResponse is the JSON response for a single rule. Prefix is
// derived from did_regex at write time and exposed read-only.
type routingRuleResponse struct {
	ID             int64   `json:"id"`
	Prefix         string  `json:"prefix"`
	CarrierTrunkID *int64  `json:"carrier_trunk_id"`
	IPBXID         *int64  `json:"ipbx_id"`
	DIDRegex       *string `json:"did_regex"`
	RouteType      string  `json:"route_type"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

func toRoutingRuleResponse(rule *models.RoutingRule) routingRuleResponse {
	return routingRuleResponse{
		ID:             rule.ID,
		Prefix:         rule.Prefix,
		CarrierTrunkID: rule.CarrierTrunkID,
		IPBXID:         rule.IPBXID,
		DIDRegex:       rule.DIDRegex,
		RouteType:      rule.RouteType,
		CreatedAt:      rule.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      rule.UpdatedAt.Format(time.RFC3339),
	}
}

func validateRoutingRuleRequest(req routingRuleRequest) string {
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
	switch req.RouteType {
	case routing.RouteTypePSTN, routing.RouteTypeInternal:
	default:
		return "route_type must be pstn or internal"
	}
	return ""
}

// checkRuleDestination verifies the referenced trunk or endpoint exists
// within the caller's scope. Returns an error message for the client, or
// empty on success.
func (s *Server) checkRuleDestination(r *http.Request, req routingRuleRequest, scope database.TenantScope) (string, error) {
	if req.CarrierTrunkID != nil && *req.CarrierTrunkID > 0 {
		trunk, err := s.trunks.GetByID(r.Context(), *req.CarrierTrunkID, nil)
		if err != nil {
			return "", err
		}
		if trunk == nil {
			return "carrier trunk does not exist", nil
		}
		tenantID, err := s.trunks.TenantID(r.Context(), trunk.ID)
		if err != nil {
			return "", err
		}
		if !scope.Contains(tenantID) {
			return "carrier trunk does not exist", nil
		}
		return "", nil
	}

	pbx, err := s.ipbxes.GetByID(r.Context(), *req.IPBXID, nil)
	if err != nil {
		return "", err
	}
	if pbx == nil || !scope.Contains(pbx.TenantID) {
		return "ipbx does not exist", nil
	}
	return "", nil
}

// reloadRuleTenant rebuilds the index partition of the tenant owning the
// given rule destination.
func (s *Server) reloadRuleTenant(r *http.Request, ruleID int64) {
	tenantID, err := s.rules.TenantID(r.Context(), ruleID)
	if err != nil {
		slog.Error("routing rule: failed to resolve tenant", "error", err, "rule_id", ruleID)
		return
	}
	if tenantID == 0 {
		return
	}
	if err := s.index.ReloadTenant(r.Context(), tenantID); err != nil {
		slog.Error("routing rule: failed to reload index", "error", err, "tenant_id", tenantID)
	}
}

// handleListRoutingRules returns rules whose destination is within the
// caller's tenant scope.
func (s *Server) handleListRoutingRules(w http.ResponseWriter, r *http.Request) {
	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("list routing rules: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	rules, err := s.rules.List(r.Context(), scope, pg.Offset, pg.Limit)
	if err != nil {
		slog.Error("list routing rules: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]routingRuleResponse, len(rules))
	for i := range rules {
		items[i] = toRoutingRuleResponse(&rules[i])
	}
	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items: items, Total: len(items), Limit: pg.Limit, Offset: pg.Offset,
	})
}

// handleCreateRoutingRule creates a rule and derives its prefix from the
// dialed-number pattern.
func (s *Server) handleCreateRoutingRule(w http.ResponseWriter, r *http.Request) {
	var req routingRuleRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateRoutingRuleRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("create routing rule: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	clientMsg, err := s.checkRuleDestination(r, req, scope)
	if err != nil {
		slog.Error("create routing rule: failed to query destination", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if clientMsg != "" {
		writeError(w, http.StatusBadRequest, clientMsg)
		return
	}

	rule := &models.RoutingRule{
		CarrierTrunkID: req.CarrierTrunkID,
		IPBXID:         req.IPBXID,
		DIDRegex:       optString(req.DIDRegex),
		RouteType:      req.RouteType,
		Prefix:         routing.DerivePrefix(req.DIDRegex),
	}

	if err := s.rules.Create(r.Context(), rule); err != nil {
		slog.Error("create routing rule: failed to insert", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.reloadRuleTenant(r, rule.ID)

	created, err := s.rules.GetByID(r.Context(), rule.ID, scope)
	if err != nil || created == nil {
		slog.Error("create routing rule: failed to re-fetch", "error", err, "rule_id", rule.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("routing rule created", "rule_id", created.ID, "prefix", created.Prefix, "route_type", created.RouteType)
	writeJSON(w, http.StatusCreated, toRoutingRuleResponse(created))
}

// handleGetRoutingRule returns a single rule by ID.
func (s *Server) handleGetRoutingRule(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid routing rule id")
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("get routing rule: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	rule, err := s.rules.GetByID(r.Context(), id, scope)
	if err != nil {
		slog.Error("get routing rule: failed to query", "error", err, "rule_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rule == nil {
		writeError(w, http.StatusNotFound, "routing rule not found")
		return
	}
	writeJSON(w, http.StatusOK, toRoutingRuleResponse(rule))
}

// handleUpdateRoutingRule modifies a rule. The prefix is re-derived from
// the updated pattern.
func (s *Server) handleUpdateRoutingRule(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid routing rule id")
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("update routing rule: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var req routingRuleRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateRoutingRuleRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	rule, err := s.rules.GetByID(r.Context(), id, scope)
	if err != nil {
		slog.Error("update routing rule: failed to query", "error", err, "rule_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rule == nil {
		writeError(w, http.StatusNotFound, "routing rule not found")
		return
	}

	clientMsg, err := s.checkRuleDestination(r, req, scope)
	if err != nil {
		slog.Error("update routing rule: failed to query destination", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if clientMsg != "" {
		writeError(w, http.StatusBadRequest, clientMsg)
		return
	}

	// The destination may move between tenants, so rebuild the old owner's
	// partition too.
	oldTenantID, err := s.rules.TenantID(r.Context(), id)
	if err != nil {
		slog.Error("update routing rule: failed to resolve tenant", "error", err, "rule_id", id)
	}

	rule.CarrierTrunkID = req.CarrierTrunkID
	rule.IPBXID = req.IPBXID
	rule.DIDRegex = optString(req.DIDRegex)
	rule.RouteType = req.RouteType
	rule.Prefix = routing.DerivePrefix(req.DIDRegex)

	if err := s.rules.Update(r.Context(), rule); err != nil {
		slog.Error("update routing rule: failed to update", "error", err, "rule_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.reloadRuleTenant(r, id)
	if oldTenantID > 0 {
		newTenantID, _ := s.rules.TenantID(r.Context(), id)
		if newTenantID != oldTenantID {
			if err := s.index.ReloadTenant(r.Context(), oldTenantID); err != nil {
				slog.Error("update routing rule: failed to reload index", "error", err, "tenant_id", oldTenantID)
			}
		}
	}

	updated, err := s.rules.GetByID(r.Context(), id, scope)
	if err != nil || updated == nil {
		slog.Error("update routing rule: failed to re-fetch", "error", err, "rule_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toRoutingRuleResponse(updated))
}

// handleDeleteRoutingRule removes a rule and rebuilds the owning tenant's
// index partition.
func (s *Server) handleDeleteRoutingRule(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid routing rule id")
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("delete routing rule: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	rule, err := s.rules.GetByID(r.Context(), id, scope)
	if err != nil {
		slog.Error("delete routing rule: failed to query", "error", err, "rule_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rule == nil {
		writeError(w, http.StatusNotFound, "routing rule not found")
		return
	}

	// Resolve ownership before the row disappears.
	tenantID, err := s.rules.TenantID(r.Context(), id)
	if err != nil {
		slog.Error("delete routing rule: failed to resolve tenant", "error", err, "rule_id", id)
	}

	if err := s.rules.Delete(r.Context(), id); err != nil {
		slog.Error("delete routing rule: failed to delete", "error", err, "rule_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if tenantID > 0 {
		if err := s.index.ReloadTenant(r.Context(), tenantID); err != nil {
			slog.Error("delete routing rule: failed to reload index", "error", err, "tenant_id", tenantID)
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

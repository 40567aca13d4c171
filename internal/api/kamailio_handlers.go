package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/routecore/routecore/internal/auth"
	"github.com/routecore/routecore/internal/cdr"
)

// kamailioAuthRequest is the proxy's credential check payload. Fields are
// already extracted from the SIP message by the proxy.
type kamailioAuthRequest struct {
	SourceIP   string `json:"source_ip"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	Domain     string `json:"domain"`
	AuthHeader string `json:"auth_header"`
	Method     string `json:"method"`
}

// kamailioAuthResponse mirrors the matcher result. Every identity field is
// null when success is false.
type kamailioAuthResponse struct {
	Success        bool    `json:"success"`
	TenantID       *int64  `json:"tenant_id"`
	CarrierTrunkID *int64  `json:"carrier_trunk_id"`
	IPBXID         *int64  `json:"ipbx_id"`
	Domain         *string `json:"domain"`
	Username       *string `json:"username"`
	PasswordHA1    *string `json:"password_ha1"`
}

// handleKamailioAuth answers the proxy's authentication callback. Absence
// of a match is a normal outcome, so the response is always 200 with the
// verdict in the body.
func (s *Server) handleKamailioAuth(w http.ResponseWriter, r *http.Request) {
	var req kamailioAuthRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateIP("source_ip", req.SourceIP); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("kamailio auth: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	result, err := s.matcher.Match(r.Context(), auth.Request{
		SourceIP:   req.SourceIP,
		Username:   req.Username,
		Password:   req.Password,
		Domain:     req.Domain,
		AuthHeader: req.AuthHeader,
		Method:     req.Method,
	}, scope)
	if err != nil {
		slog.Error("kamailio auth: matcher failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, kamailioAuthResponse{
		Success:        result.Success,
		TenantID:       result.TenantID,
		CarrierTrunkID: result.CarrierTrunkID,
		IPBXID:         result.IPBXID,
		Domain:         result.Domain,
		Username:       result.Username,
		PasswordHA1:    result.PasswordHA1,
	})
}

// kamailioRoutingRequest is the proxy's routing decision payload.
type kamailioRoutingRequest struct {
	FromURI string `json:"from_uri"`
	ToURI   string `json:"to_uri"`
	CallID  string `json:"call_id"`
}

// kamailioRoutingResponse carries the resolved destination, or
// success=false when no route matched.
type kamailioRoutingResponse struct {
	Success        bool    `json:"success"`
	CarrierTrunkID *int64  `json:"carrier_trunk_id"`
	IPBXID         *int64  `json:"ipbx_id"`
	RouteType      *string `json:"route_type"`
}

// userPart extracts the user portion of a SIP URI: the text between the
// scheme and the "@", with any user parameters after ";" stripped. A URI
// with no user part yields an empty string.
func userPart(uri string) string {
	s := uri
	if i := strings.IndexByte(s, ':'); i >= 0 && (strings.HasPrefix(s, "sip:") || strings.HasPrefix(s, "sips:") || strings.HasPrefix(s, "tel:")) {
		s = s[i+1:]
	}
	at := strings.IndexByte(s, '@')
	if at < 0 {
		// tel: URIs carry the number with no host part.
		if strings.HasPrefix(uri, "tel:") {
			if i := strings.IndexByte(s, ';'); i >= 0 {
				return s[:i]
			}
			return s
		}
		return ""
	}
	s = s[:at]
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	return s
}

// handleKamailioRouting answers the proxy's routing callback. NoMatch is a
// normal outcome reported in the body, never a transport error.
func (s *Server) handleKamailioRouting(w http.ResponseWriter, r *http.Request) {
	var req kamailioRoutingRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateRequiredStringLen("to_uri", req.ToURI, maxURILen); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateStringLen("from_uri", req.FromURI, maxURILen); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("kamailio routing: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	dialed := userPart(req.ToURI)
	if dialed == "" {
		writeJSON(w, http.StatusOK, kamailioRoutingResponse{Success: false})
		return
	}

	route, err := s.resolver.ResolveDestination(r.Context(), dialed, scope)
	if err != nil {
		slog.Error("kamailio routing: resolution failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if route == nil {
		writeJSON(w, http.StatusOK, kamailioRoutingResponse{Success: false})
		return
	}

	writeJSON(w, http.StatusOK, kamailioRoutingResponse{
		Success:        true,
		CarrierTrunkID: route.CarrierTrunkID,
		IPBXID:         route.IPBXID,
		RouteType:      &route.RouteType,
	})
}

// kamailioCDRRequest is the proxy's call teardown payload.
type kamailioCDRRequest struct {
	SourceIP   string `json:"source_ip"`
	SourcePort int    `json:"source_port"`
	FromURI    string `json:"from_uri"`
	ToURI      string `json:"to_uri"`
	CallID     string `json:"call_id"`
	CallStart  string `json:"call_start"`
	Duration   *int   `json:"duration"`
}

// kamailioCDRResponse acknowledges a recorded call, or reports
// success=false when the call's source matched no known identity.
type kamailioCDRResponse struct {
	Success bool   `json:"success"`
	CDRID   *int64 `json:"cdr_id"`
}

// handleKamailioCDR records a call detail record at teardown. The tenant is
// resolved from the call's source identity through the credential matcher,
// never trusted from the wire. An unidentifiable source is acknowledged
// without recording.
func (s *Server) handleKamailioCDR(w http.ResponseWriter, r *http.Request) {
	var req kamailioCDRRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateIP("source_ip", req.SourceIP); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateRequiredStringLen("call_id", req.CallID, maxNameLen); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateStringLen("from_uri", req.FromURI, maxURILen); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateStringLen("to_uri", req.ToURI, maxURILen); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		slog.Error("kamailio cdr: failed to resolve scope", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Identity comes from the source address alone: the from URI user part
	// is a caller number, not an account name.
	identity, err := s.matcher.Match(r.Context(), auth.Request{SourceIP: req.SourceIP}, scope)
	if err != nil {
		slog.Error("kamailio cdr: identity match failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !identity.Success || identity.TenantID == nil {
		slog.Warn("kamailio cdr: call source matched no identity, not recording",
			"source_ip", req.SourceIP, "call_id", req.CallID)
		writeJSON(w, http.StatusOK, kamailioCDRResponse{Success: false})
		return
	}

	event := cdr.Event{
		TenantID:   *identity.TenantID,
		SourceIP:   req.SourceIP,
		SourcePort: req.SourcePort,
		FromURI:    req.FromURI,
		ToURI:      req.ToURI,
		CallID:     req.CallID,
		Duration:   req.Duration,
	}
	if event.SourcePort == 0 {
		event.SourcePort = 5060
	}
	if req.CallStart != "" {
		start, err := time.Parse(time.RFC3339, req.CallStart)
		if err != nil {
			writeError(w, http.StatusBadRequest, "call_start must be RFC 3339")
			return
		}
		event.CallStart = &start
	}

	record, err := s.recorder.Record(r.Context(), event)
	if err != nil {
		slog.Error("kamailio cdr: failed to record", "error", err, "call_id", req.CallID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, kamailioCDRResponse{Success: true, CDRID: &record.ID})
}

// Package auth implements credential matching for SIP endpoints and carrier
// trunks. It answers the proxy's "who is this request from" callback and
// never speaks SIP itself.
package auth

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/icholy/digest"

	"github.com/routecore/routecore/internal/database"
)

// Request carries the identity material forwarded by the proxy for one
// authentication decision. Username, Password, and Domain are optional.
// AuthHeader, when present, is the raw digest Authorization header of the
// SIP request and is verified against the stored HA1 instead of Password.
type Request struct {
	SourceIP   string
	Username   string
	Password   string
	Domain     string
	AuthHeader string
	Method     string
}

// Result is the outcome of a match. All identity fields are nil when
// Success is false; absence of a match is a normal answer, not an error.
type Result struct {
	Success        bool
	TenantID       *int64
	CarrierTrunkID *int64
	IPBXID         *int64
	Domain         *string
	Username       *string
	PasswordHA1    *string
}

// Matcher resolves inbound identities against registered endpoints and
// trunks. Strategies run in a fixed order and the first hit wins.
type Matcher struct {
	ipbxes database.IPBXRepository
	trunks database.CarrierTrunkRepository
	logger *slog.Logger

	granted atomic.Uint64
	denied  atomic.Uint64
}

// NewMatcher creates a credential matcher over the given repositories.
func NewMatcher(ipbxes database.IPBXRepository, trunks database.CarrierTrunkRepository, logger *slog.Logger) *Matcher {
	return &Matcher{
		ipbxes: ipbxes,
		trunks: trunks,
		logger: logger.With("subsystem", "auth"),
	}
}

// Match runs the authentication strategies in order:
//
//  1. With no username, exactly one non-registered endpoint bound to the
//     source address authenticates without a password check.
//  2. With a username, an endpoint matching the username that is either
//     bound to the source address or registered dynamically. A supplied
//     domain must equal the endpoint's domain exactly, and supplied
//     credentials must verify against the stored digest.
//  3. A carrier trunk bound to the source address.
//
// No strategy matching yields a failed Result with a nil error.
func (m *Matcher) Match(ctx context.Context, req Request, scope database.TenantScope) (Result, error) {
	if req.Username == "" {
		result, err := m.matchByIP(ctx, req, scope)
		if err != nil {
			return Result{}, err
		}
		if result.Success {
			m.granted.Add(1)
			return result, nil
		}
	} else {
		result, err := m.matchByUsername(ctx, req, scope)
		if err != nil {
			return Result{}, err
		}
		if result.Success {
			m.granted.Add(1)
			return result, nil
		}
	}

	result, err := m.matchTrunk(ctx, req, scope)
	if err != nil {
		return Result{}, err
	}
	if result.Success {
		m.granted.Add(1)
		return result, nil
	}

	m.denied.Add(1)
	m.logger.Debug("no credential match", "source_ip", req.SourceIP, "username", req.Username)
	return Result{}, nil
}

// matchByIP authenticates a static endpoint by source address alone. The
// match must be unambiguous: more than one endpoint on the address means no
// trust can be established.
func (m *Matcher) matchByIP(ctx context.Context, req Request, scope database.TenantScope) (Result, error) {
	candidates, err := m.ipbxes.ListUnregisteredByIP(ctx, req.SourceIP, scope)
	if err != nil {
		return Result{}, fmt.Errorf("listing endpoints by ip: %w", err)
	}
	if len(candidates) != 1 {
		return Result{}, nil
	}
	return endpointResult(candidates[0]), nil
}

// matchByUsername authenticates an endpoint by username, constrained to the
// source address unless the endpoint registers dynamically.
func (m *Matcher) matchByUsername(ctx context.Context, req Request, scope database.TenantScope) (Result, error) {
	candidates, err := m.ipbxes.ListAuthCandidates(ctx, req.Username, req.SourceIP, scope)
	if err != nil {
		return Result{}, fmt.Errorf("listing auth candidates: %w", err)
	}

	for _, c := range candidates {
		if req.Domain != "" && c.DomainName != req.Domain {
			continue
		}
		if !m.verifyCredentials(req, c) {
			continue
		}
		return endpointResult(c), nil
	}
	return Result{}, nil
}

// verifyCredentials checks the supplied proof against the endpoint's stored
// digest. The HA1 digest is authoritative; the hashed password is a fallback
// for rows provisioned before an HA1 existed. A request carrying no proof at
// all passes, matching proxies that authenticate on address and username
// only.
func (m *Matcher) verifyCredentials(req Request, c database.IPBXAuthCandidate) bool {
	if req.AuthHeader != "" {
		return m.verifyDigestHeader(req, c)
	}
	if req.Password == "" {
		return true
	}

	username := ""
	if c.Username != nil {
		username = *c.Username
	}

	if c.PasswordHA1 != nil && *c.PasswordHA1 != "" {
		computed := database.HashHA1(username, c.DomainName, req.Password)
		return database.CompareHA1(computed, *c.PasswordHA1)
	}
	if c.Password != nil && *c.Password != "" {
		ok, err := database.CheckPassword(req.Password, *c.Password)
		if err != nil {
			m.logger.Warn("stored password hash unreadable", "ipbx_id", c.ID, "error", err)
			return false
		}
		return ok
	}
	// No stored credential to verify against.
	return false
}

// verifyDigestHeader validates a forwarded digest Authorization header
// against the endpoint's stored HA1.
func (m *Matcher) verifyDigestHeader(req Request, c database.IPBXAuthCandidate) bool {
	if c.PasswordHA1 == nil || *c.PasswordHA1 == "" {
		return false
	}

	cred, err := digest.ParseCredentials(req.AuthHeader)
	if err != nil {
		m.logger.Warn("failed to parse authorization header", "source_ip", req.SourceIP, "error", err)
		return false
	}
	if cred.Username != req.Username {
		return false
	}

	method := req.Method
	if method == "" {
		method = "REGISTER"
	}

	expected := digestResponse(*c.PasswordHA1, method, cred)
	return database.CompareHA1(expected, cred.Response)
}

// digestResponse computes the expected digest response from a precomputed
// HA1, per RFC 2617, with and without qop.
func digestResponse(ha1, method string, cred *digest.Credentials) string {
	ha2 := md5hex(method + ":" + cred.URI)
	if cred.QOP == "" {
		return md5hex(ha1 + ":" + cred.Nonce + ":" + ha2)
	}
	nc := fmt.Sprintf("%08x", cred.Nc)
	return md5hex(ha1 + ":" + cred.Nonce + ":" + nc + ":" + cred.Cnonce + ":" + cred.QOP + ":" + ha2)
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// matchTrunk authenticates a carrier trunk by its static source address.
func (m *Matcher) matchTrunk(ctx context.Context, req Request, scope database.TenantScope) (Result, error) {
	trunks, err := m.trunks.ListByIPAddress(ctx, req.SourceIP, scope)
	if err != nil {
		return Result{}, fmt.Errorf("listing trunks by ip: %w", err)
	}
	if len(trunks) == 0 {
		return Result{}, nil
	}

	trunk := trunks[0]
	tenantID, err := m.trunks.TenantID(ctx, trunk.ID)
	if err != nil {
		return Result{}, err
	}

	id := trunk.ID
	result := Result{
		Success:        true,
		TenantID:       &tenantID,
		CarrierTrunkID: &id,
		Username:       trunk.AuthUsername,
	}
	return result, nil
}

// endpointResult builds a successful Result from an endpoint candidate.
func endpointResult(c database.IPBXAuthCandidate) Result {
	id := c.ID
	tenantID := c.TenantID
	domain := c.DomainName
	return Result{
		Success:     true,
		TenantID:    &tenantID,
		IPBXID:      &id,
		Domain:      &domain,
		Username:    c.Username,
		PasswordHA1: c.PasswordHA1,
	}
}

// GrantedCount returns the number of successful matches.
func (m *Matcher) GrantedCount() uint64 { return m.granted.Load() }

// DeniedCount returns the number of failed matches.
func (m *Matcher) DeniedCount() uint64 { return m.denied.Load() }

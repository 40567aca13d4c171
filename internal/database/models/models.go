package models

import "time"

// Tenant is the root ownership entity. Every other entity belongs to a
// tenant, directly or through its parent. The UUID is the stable external
// identifier handed to calling systems and is immutable once assigned.
type Tenant struct {
	ID        int64
	UUID      string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Domain is a SIP domain owned by a tenant. The (tenant_id, domain) pair is
// unique, and (tenant_id, id) is unique as well so that child rows can
// enforce tenant-scoped foreign keys.
type Domain struct {
	ID        int64
	TenantID  int64
	Domain    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IPBX is an internal telephony endpoint (a customer PBX). When Registered
// is false the endpoint is bound by its static IPAddress; otherwise it is
// expected to register dynamically and is matched by username.
type IPBX struct {
	ID          int64
	TenantID    int64
	DomainID    int64
	Customer    *int64
	IPFqdn      string
	Port        int
	IPAddress   *string
	Registered  bool
	Username    *string
	Password    *string // hashed at rest, never plaintext
	PasswordHA1 *string // md5(username:realm:password), authoritative for digest auth
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Carrier is an upstream telephony provider owned by a tenant.
type Carrier struct {
	ID        int64
	TenantID  int64
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CarrierTrunk is one SIP trunk connection of a carrier.
type CarrierTrunk struct {
	ID             int64
	CarrierID      int64
	Name           string
	SIPProxy       string
	SIPProxyPort   int
	IPAddress      *string
	Registered     bool
	AuthUsername   *string
	AuthPassword   *string // hashed at rest
	Realm          *string
	RegistrarProxy *string
	FromDomain     *string
	ExpireSeconds  int
	RetrySeconds   int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RoutingRule maps a dialed-number pattern to a destination. Prefix is the
// literal leading digits derived from DIDRegex at write time and is used by
// the in-memory index for candidate narrowing, never as a substitute for the
// full regex match.
type RoutingRule struct {
	ID             int64
	Prefix         string
	CarrierTrunkID *int64
	IPBXID         *int64
	DIDRegex       *string
	RouteType      string // "pstn" or "internal"
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DID is a direct inward dial pattern routing inbound calls to a
// destination. DIDPrefix is recomputed whenever DIDRegex changes.
type DID struct {
	ID             int64
	TenantUUID     string
	DIDRegex       *string
	DIDPrefix      string
	CarrierTrunkID *int64
	IPBXID         *int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CDR is an append-only call detail record. CallStart and Duration may be
// filled in by a later completion event for the same CallID.
type CDR struct {
	ID         int64
	TenantID   int64
	SourceIP   string
	SourcePort int
	FromURI    string
	ToURI      string
	CallID     string
	CallStart  *time.Time
	Duration   *int
	CreatedAt  time.Time
}

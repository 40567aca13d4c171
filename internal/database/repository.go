package database

import (
	"context"
	"strings"

	"github.com/routecore/routecore/internal/database/models"
)

// TenantScope restricts a query to a set of tenant ids. A nil scope means
// the caller is system-level and sees every tenant.
type TenantScope []int64

// Contains reports whether the scope permits the given tenant id.
// A nil scope permits everything.
func (s TenantScope) Contains(tenantID int64) bool {
	if s == nil {
		return true
	}
	for _, id := range s {
		if id == tenantID {
			return true
		}
	}
	return false
}

// scopeClause renders "AND <column> IN (?, ...)" for a non-nil scope and
// appends the ids to args. An empty non-nil scope matches nothing.
func scopeClause(s TenantScope, column string, args []any) (string, []any) {
	if s == nil {
		return "", args
	}
	if len(s) == 0 {
		return " AND 1=0", args
	}
	placeholders := make([]string, len(s))
	for i, id := range s {
		placeholders[i] = "?"
		args = append(args, id)
	}
	return " AND " + column + " IN (" + strings.Join(placeholders, ", ") + ")", args
}

// TenantRepository manages tenants.
type TenantRepository interface {
	Create(ctx context.Context, tenant *models.Tenant) error
	GetByID(ctx context.Context, id int64) (*models.Tenant, error)
	GetByUUID(ctx context.Context, uuid string) (*models.Tenant, error)
	GetByName(ctx context.Context, name string) (*models.Tenant, error)
	List(ctx context.Context, offset, limit int) ([]models.Tenant, error)
	ListIDs(ctx context.Context) ([]int64, error)
	IDsForUUIDs(ctx context.Context, uuids []string) ([]int64, error)
	Update(ctx context.Context, tenant *models.Tenant) error
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int64, error)
}

// DomainRepository manages SIP domains.
type DomainRepository interface {
	Create(ctx context.Context, domain *models.Domain) error
	GetByID(ctx context.Context, id int64, scope TenantScope) (*models.Domain, error)
	GetByName(ctx context.Context, tenantID int64, name string) (*models.Domain, error)
	List(ctx context.Context, scope TenantScope, offset, limit int) ([]models.Domain, error)
	Update(ctx context.Context, domain *models.Domain) error
	Delete(ctx context.Context, id int64) error
}

// IPBXAuthCandidate is an IPBX row joined with its domain name, as needed by
// the credential matcher.
type IPBXAuthCandidate struct {
	models.IPBX
	DomainName string
}

// IPBXRepository manages internal endpoints.
type IPBXRepository interface {
	Create(ctx context.Context, ipbx *models.IPBX) error
	GetByID(ctx context.Context, id int64, scope TenantScope) (*models.IPBX, error)
	List(ctx context.Context, scope TenantScope, offset, limit int) ([]models.IPBX, error)
	Update(ctx context.Context, ipbx *models.IPBX) error
	Delete(ctx context.Context, id int64) error

	// ListUnregisteredByIP returns non-registered endpoints bound to the
	// given static source address.
	ListUnregisteredByIP(ctx context.Context, ip string, scope TenantScope) ([]IPBXAuthCandidate, error)
	// ListAuthCandidates returns endpoints matching the username that are
	// either bound to the source address or registered dynamically.
	ListAuthCandidates(ctx context.Context, username, sourceIP string, scope TenantScope) ([]IPBXAuthCandidate, error)
}

// CarrierRepository manages upstream providers.
type CarrierRepository interface {
	Create(ctx context.Context, carrier *models.Carrier) error
	GetByID(ctx context.Context, id int64, scope TenantScope) (*models.Carrier, error)
	GetByName(ctx context.Context, tenantID int64, name string) (*models.Carrier, error)
	List(ctx context.Context, scope TenantScope, offset, limit int) ([]models.Carrier, error)
	Update(ctx context.Context, carrier *models.Carrier) error
	Delete(ctx context.Context, id int64) error
}

// CarrierTrunkRepository manages carrier trunk connections.
type CarrierTrunkRepository interface {
	Create(ctx context.Context, trunk *models.CarrierTrunk) error
	GetByID(ctx context.Context, id int64, scope TenantScope) (*models.CarrierTrunk, error)
	GetByName(ctx context.Context, name string) (*models.CarrierTrunk, error)
	List(ctx context.Context, scope TenantScope, offset, limit int) ([]models.CarrierTrunk, error)
	Update(ctx context.Context, trunk *models.CarrierTrunk) error
	Delete(ctx context.Context, id int64) error

	// ListByIPAddress returns trunks bound to the given static source
	// address, used for trunk-identity matching on inbound requests.
	ListByIPAddress(ctx context.Context, ip string, scope TenantScope) ([]models.CarrierTrunk, error)
	// TenantID resolves the owning tenant through the trunk's carrier.
	TenantID(ctx context.Context, trunkID int64) (int64, error)
}

// IndexedRule is a routing rule with the tenant id resolved through its
// destination (IPBX tenant, or the trunk's carrier tenant).
type IndexedRule struct {
	models.RoutingRule
	TenantID int64
}

// RoutingRuleRepository manages dialed-number routing rules.
type RoutingRuleRepository interface {
	Create(ctx context.Context, rule *models.RoutingRule) error
	GetByID(ctx context.Context, id int64, scope TenantScope) (*models.RoutingRule, error)
	List(ctx context.Context, scope TenantScope, offset, limit int) ([]models.RoutingRule, error)
	Update(ctx context.Context, rule *models.RoutingRule) error
	Delete(ctx context.Context, id int64) error

	// TenantID resolves the rule's owning tenant, or 0 when the rule has
	// no resolvable destination.
	TenantID(ctx context.Context, ruleID int64) (int64, error)
	// ListForTenant returns all rules owned by the tenant, for index
	// rebuilds.
	ListForTenant(ctx context.Context, tenantID int64) ([]IndexedRule, error)
}

// IndexedDID is a DID with its tenant's numeric id resolved.
type IndexedDID struct {
	models.DID
	TenantID int64
}

// DIDRepository manages direct inward dial patterns.
type DIDRepository interface {
	Create(ctx context.Context, did *models.DID) error
	GetByID(ctx context.Context, id int64, scope TenantScope) (*models.DID, error)
	List(ctx context.Context, scope TenantScope, offset, limit int) ([]models.DID, error)
	Update(ctx context.Context, did *models.DID) error
	Delete(ctx context.Context, id int64) error

	// ListForTenant returns all DIDs owned by the tenant, for index
	// rebuilds.
	ListForTenant(ctx context.Context, tenantID int64) ([]IndexedDID, error)
}

// CDRRepository manages call detail records.
type CDRRepository interface {
	Create(ctx context.Context, cdr *models.CDR) error
	GetByID(ctx context.Context, id int64, scope TenantScope) (*models.CDR, error)
	// GetByCallID returns the tenant's CDR for a SIP Call-ID. Call-IDs are
	// only unique per tenant; an unscoped lookup would let one tenant's
	// event merge into another's record.
	GetByCallID(ctx context.Context, callID string, tenantID int64) (*models.CDR, error)
	// UpdateCallDetails overwrites call_start and duration for an existing
	// record (last-write-wins merge for a repeated call_id).
	UpdateCallDetails(ctx context.Context, id int64, cdr *models.CDR) error
	List(ctx context.Context, scope TenantScope, offset, limit int) ([]models.CDR, int, error)
	Count(ctx context.Context) (int64, error)
}

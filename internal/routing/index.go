package routing

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/routecore/routecore/internal/database"
)

// EntryKind distinguishes the two pattern sources held by the index.
type EntryKind int

const (
	KindRule EntryKind = iota
	KindDID
)

func (k EntryKind) String() string {
	if k == KindDID {
		return "did"
	}
	return "rule"
}

// Entry is one indexed pattern: a routing rule or a DID, reduced to what a
// resolution needs. Regex is nil when the source row carries no pattern, in
// which case the literal prefix alone decides the match.
type Entry struct {
	Kind           EntryKind
	ID             int64
	TenantID       int64
	Prefix         string
	Regex          *regexp.Regexp
	CarrierTrunkID *int64
	IPBXID         *int64
	RouteType      string
}

// partition holds one tenant's entries. Entries are immutable after a
// rebuild; the slice is swapped as a whole under the partition lock.
type partition struct {
	mu      sync.RWMutex
	entries []Entry
}

// Index is the in-memory candidate-narrowing structure over rule and DID
// prefixes. Lookups take shared locks only; a mutation rebuilds the affected
// tenant's partition from the store, never touching other tenants.
type Index struct {
	mu         sync.RWMutex
	partitions map[int64]*partition

	tenants database.TenantRepository
	rules   database.RoutingRuleRepository
	dids    database.DIDRepository
	logger  *slog.Logger
}

// NewIndex creates an empty index backed by the given repositories. Call
// ReloadAll before serving resolutions.
func NewIndex(tenants database.TenantRepository, rules database.RoutingRuleRepository, dids database.DIDRepository, logger *slog.Logger) *Index {
	return &Index{
		partitions: make(map[int64]*partition),
		tenants:    tenants,
		rules:      rules,
		dids:       dids,
		logger:     logger.With("subsystem", "routing-index"),
	}
}

// ReloadAll rebuilds every tenant partition from the store and drops
// partitions of tenants that no longer exist.
func (ix *Index) ReloadAll(ctx context.Context) error {
	ids, err := ix.tenants.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing tenants: %w", err)
	}

	for _, id := range ids {
		if err := ix.ReloadTenant(ctx, id); err != nil {
			return err
		}
	}

	live := make(map[int64]bool, len(ids))
	for _, id := range ids {
		live[id] = true
	}

	ix.mu.Lock()
	for id := range ix.partitions {
		if !live[id] {
			delete(ix.partitions, id)
		}
	}
	ix.mu.Unlock()

	ix.logger.Info("index rebuilt", "tenants", len(ids))
	return nil
}

// ReloadTenant rebuilds a single tenant's partition from the store. Callers
// invoke it after every rule or DID mutation so the next resolution sees the
// committed state.
func (ix *Index) ReloadTenant(ctx context.Context, tenantID int64) error {
	rules, err := ix.rules.ListForTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("loading rules for tenant %d: %w", tenantID, err)
	}
	dids, err := ix.dids.ListForTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("loading dids for tenant %d: %w", tenantID, err)
	}

	entries := make([]Entry, 0, len(rules)+len(dids))
	for _, r := range rules {
		e := Entry{
			Kind:           KindRule,
			ID:             r.ID,
			TenantID:       r.TenantID,
			Prefix:         r.Prefix,
			CarrierTrunkID: r.CarrierTrunkID,
			IPBXID:         r.IPBXID,
			RouteType:      r.RouteType,
		}
		if e.Regex, err = compilePattern(r.DIDRegex); err != nil {
			// Validation rejects bad patterns at write time; a row that
			// slipped through is skipped rather than poisoning the tenant.
			ix.logger.Warn("skipping rule with invalid pattern", "rule_id", r.ID, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	for _, d := range dids {
		e := Entry{
			Kind:           KindDID,
			ID:             d.ID,
			TenantID:       d.TenantID,
			Prefix:         d.DIDPrefix,
			CarrierTrunkID: d.CarrierTrunkID,
			IPBXID:         d.IPBXID,
			RouteType:      RouteTypeDID,
		}
		if e.Regex, err = compilePattern(d.DIDRegex); err != nil {
			ix.logger.Warn("skipping did with invalid pattern", "did_id", d.ID, "error", err)
			continue
		}
		entries = append(entries, e)
	}

	ix.mu.Lock()
	p, ok := ix.partitions[tenantID]
	if !ok {
		p = &partition{}
		ix.partitions[tenantID] = p
	}
	ix.mu.Unlock()

	p.mu.Lock()
	p.entries = entries
	p.mu.Unlock()
	return nil
}

// DropTenant removes a tenant's partition entirely. Used when the tenant is
// deleted.
func (ix *Index) DropTenant(tenantID int64) {
	ix.mu.Lock()
	delete(ix.partitions, tenantID)
	ix.mu.Unlock()
}

// Candidates returns the entries whose literal prefix is a prefix of the
// dialed number, limited to the given tenant scope. A nil scope searches
// every tenant. The result is a candidate list only; callers must still
// evaluate each entry's full pattern.
func (ix *Index) Candidates(number string, scope database.TenantScope) []Entry {
	ix.mu.RLock()
	parts := make([]*partition, 0, len(ix.partitions))
	for tenantID, p := range ix.partitions {
		if scope.Contains(tenantID) {
			parts = append(parts, p)
		}
	}
	ix.mu.RUnlock()

	var out []Entry
	for _, p := range parts {
		p.mu.RLock()
		for _, e := range p.entries {
			if strings.HasPrefix(number, e.Prefix) {
				out = append(out, e)
			}
		}
		p.mu.RUnlock()
	}
	return out
}

// compilePattern compiles an anchored-as-written pattern, or returns nil for
// an absent one.
func compilePattern(pattern *string) (*regexp.Regexp, error) {
	if pattern == nil || *pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(*pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling pattern %q: %w", *pattern, err)
	}
	return re, nil
}

package routing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/routecore/routecore/internal/database"
)

// Route types returned by a resolution.
const (
	RouteTypePSTN     = "pstn"
	RouteTypeInternal = "internal"
	RouteTypeDID      = "did"
)

// Route is a resolved destination. Exactly one of CarrierTrunkID and IPBXID
// is set.
type Route struct {
	CarrierTrunkID *int64
	IPBXID         *int64
	RouteType      string
}

// Resolver answers "where does this dialed number go". A nil Route with a
// nil error means no route exists, which is a normal outcome for callers,
// not a fault.
type Resolver struct {
	index  *Index
	trunks database.CarrierTrunkRepository
	ipbxes database.IPBXRepository
	logger *slog.Logger

	resolved atomic.Uint64
	noMatch  atomic.Uint64
	dangling atomic.Uint64
}

// NewResolver creates a resolver over the given index and destination
// repositories.
func NewResolver(index *Index, trunks database.CarrierTrunkRepository, ipbxes database.IPBXRepository, logger *slog.Logger) *Resolver {
	return &Resolver{
		index:  index,
		trunks: trunks,
		ipbxes: ipbxes,
		logger: logger.With("subsystem", "resolver"),
	}
}

// NormalizeNumber reduces a dialed number to the form patterns and prefixes
// are written against. International access markers are stripped; deeper
// numbering-plan policy belongs to the proxy, not here.
func NormalizeNumber(number string) string {
	return strings.TrimPrefix(number, "+")
}

// ResolveDestination finds the destination for a dialed number within the
// tenant scope. Candidates come from the prefix index, then each candidate's
// full pattern is evaluated against the number. Among matches the longest
// literal prefix wins; equal-length ties prefer DIDs over rules, then the
// lowest id. A winning entry whose destination row no longer exists is
// skipped and counted, and resolution falls through to the next match.
func (r *Resolver) ResolveDestination(ctx context.Context, dialed string, scope database.TenantScope) (*Route, error) {
	number := NormalizeNumber(dialed)

	candidates := r.index.Candidates(number, scope)

	matched := candidates[:0:0]
	for _, e := range candidates {
		if e.Regex != nil && !e.Regex.MatchString(number) {
			continue
		}
		matched = append(matched, e)
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if len(a.Prefix) != len(b.Prefix) {
			return len(a.Prefix) > len(b.Prefix)
		}
		if a.Kind != b.Kind {
			return a.Kind == KindDID
		}
		return a.ID < b.ID
	})

	for _, e := range matched {
		route, err := r.destination(ctx, e)
		if err != nil {
			return nil, err
		}
		if route == nil {
			r.dangling.Add(1)
			r.logger.Warn("skipping entry with dangling destination",
				"kind", e.Kind.String(), "id", e.ID, "tenant_id", e.TenantID)
			continue
		}
		r.resolved.Add(1)
		return route, nil
	}

	r.noMatch.Add(1)
	return nil, nil
}

// destination verifies the entry's destination still exists and builds the
// route. Returns nil when the destination row is gone.
func (r *Resolver) destination(ctx context.Context, e Entry) (*Route, error) {
	switch {
	case e.CarrierTrunkID != nil:
		trunk, err := r.trunks.GetByID(ctx, *e.CarrierTrunkID, nil)
		if err != nil {
			return nil, fmt.Errorf("loading trunk %d: %w", *e.CarrierTrunkID, err)
		}
		if trunk == nil {
			return nil, nil
		}
		id := trunk.ID
		return &Route{CarrierTrunkID: &id, RouteType: e.RouteType}, nil
	case e.IPBXID != nil:
		pbx, err := r.ipbxes.GetByID(ctx, *e.IPBXID, nil)
		if err != nil {
			return nil, fmt.Errorf("loading ipbx %d: %w", *e.IPBXID, err)
		}
		if pbx == nil {
			return nil, nil
		}
		id := pbx.ID
		return &Route{IPBXID: &id, RouteType: e.RouteType}, nil
	default:
		return nil, nil
	}
}

// ResolvedCount returns the number of resolutions that produced a route.
func (r *Resolver) ResolvedCount() uint64 { return r.resolved.Load() }

// NoMatchCount returns the number of resolutions with no matching route.
func (r *Resolver) NoMatchCount() uint64 { return r.noMatch.Load() }

// DanglingCount returns how many index entries were skipped because their
// destination row had disappeared.
func (r *Resolver) DanglingCount() uint64 { return r.dangling.Load() }

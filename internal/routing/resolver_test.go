package routing

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/routecore/routecore/internal/database"
	"github.com/routecore/routecore/internal/database/models"
)

type fixture struct {
	db       *database.DB
	tenants  database.TenantRepository
	domains  database.DomainRepository
	ipbxes   database.IPBXRepository
	carriers database.CarrierRepository
	trunks   database.CarrierTrunkRepository
	rules    database.RoutingRuleRepository
	dids     database.DIDRepository
	index    *Index
	resolver *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{
		db:       db,
		tenants:  database.NewTenantRepository(db),
		domains:  database.NewDomainRepository(db),
		ipbxes:   database.NewIPBXRepository(db),
		carriers: database.NewCarrierRepository(db),
		trunks:   database.NewCarrierTrunkRepository(db),
		rules:    database.NewRoutingRuleRepository(db),
		dids:     database.NewDIDRepository(db),
	}
	f.index = NewIndex(f.tenants, f.rules, f.dids, logger)
	f.resolver = NewResolver(f.index, f.trunks, f.ipbxes, logger)
	return f
}

func (f *fixture) tenant(t *testing.T, uuid, name string) *models.Tenant {
	t.Helper()
	tenant := &models.Tenant{UUID: uuid, Name: name}
	if err := f.tenants.Create(context.Background(), tenant); err != nil {
		t.Fatalf("creating tenant: %v", err)
	}
	return tenant
}

func (f *fixture) trunk(t *testing.T, tenantID int64, name string) *models.CarrierTrunk {
	t.Helper()
	ctx := context.Background()
	carrier := &models.Carrier{TenantID: tenantID, Name: name + "-carrier"}
	if err := f.carriers.Create(ctx, carrier); err != nil {
		t.Fatalf("creating carrier: %v", err)
	}
	trunk := &models.CarrierTrunk{
		CarrierID: carrier.ID, Name: name, SIPProxy: "proxy.example.net",
		SIPProxyPort: 5060, ExpireSeconds: 3600, RetrySeconds: 30,
	}
	if err := f.trunks.Create(ctx, trunk); err != nil {
		t.Fatalf("creating trunk: %v", err)
	}
	return trunk
}

func (f *fixture) rule(t *testing.T, regex string, trunkID, ipbxID *int64, routeType string) *models.RoutingRule {
	t.Helper()
	rule := &models.RoutingRule{
		Prefix: DerivePrefix(regex), CarrierTrunkID: trunkID, IPBXID: ipbxID,
		DIDRegex: &regex, RouteType: routeType,
	}
	if err := f.rules.Create(context.Background(), rule); err != nil {
		t.Fatalf("creating rule: %v", err)
	}
	return rule
}

func (f *fixture) did(t *testing.T, tenantUUID, regex string, trunkID, ipbxID *int64) *models.DID {
	t.Helper()
	did := &models.DID{
		TenantUUID: tenantUUID, DIDRegex: &regex, DIDPrefix: DerivePrefix(regex),
		CarrierTrunkID: trunkID, IPBXID: ipbxID,
	}
	if err := f.dids.Create(context.Background(), did); err != nil {
		t.Fatalf("creating did: %v", err)
	}
	return did
}

func (f *fixture) reload(t *testing.T) {
	t.Helper()
	if err := f.index.ReloadAll(context.Background()); err != nil {
		t.Fatalf("reloading index: %v", err)
	}
}

func TestResolveLongestPrefixWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenant := f.tenant(t, "11111111-1111-1111-1111-111111111111", "one")

	short := f.trunk(t, tenant.ID, "trunk-short")
	long := f.trunk(t, tenant.ID, "trunk-long")
	f.rule(t, `^39\d+$`, &short.ID, nil, RouteTypePSTN)
	f.rule(t, `^3906\d+$`, &long.ID, nil, RouteTypePSTN)
	f.reload(t)

	route, err := f.resolver.ResolveDestination(ctx, "390612345", nil)
	if err != nil {
		t.Fatalf("ResolveDestination: %v", err)
	}
	if route == nil || route.CarrierTrunkID == nil || *route.CarrierTrunkID != long.ID {
		t.Fatalf("route = %+v, want trunk %d", route, long.ID)
	}
	if route.RouteType != RouteTypePSTN {
		t.Errorf("route type = %s, want pstn", route.RouteType)
	}

	// A number outside the longer prefix falls back to the shorter rule.
	route, err = f.resolver.ResolveDestination(ctx, "391112345", nil)
	if err != nil {
		t.Fatalf("ResolveDestination: %v", err)
	}
	if route == nil || route.CarrierTrunkID == nil || *route.CarrierTrunkID != short.ID {
		t.Fatalf("route = %+v, want trunk %d", route, short.ID)
	}
}

func TestResolveFullRegexIsMandatory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenant := f.tenant(t, "11111111-1111-1111-1111-111111111111", "one")

	trunk := f.trunk(t, tenant.ID, "trunk")
	// Prefix 39 matches, but the full pattern requires exactly 9 digits.
	f.rule(t, `^39\d{7}$`, &trunk.ID, nil, RouteTypePSTN)
	f.reload(t)

	route, err := f.resolver.ResolveDestination(ctx, "39123", nil)
	if err != nil {
		t.Fatalf("ResolveDestination: %v", err)
	}
	if route != nil {
		t.Fatalf("expected no route when full pattern rejects, got %+v", route)
	}
	if f.resolver.NoMatchCount() != 1 {
		t.Errorf("NoMatchCount = %d, want 1", f.resolver.NoMatchCount())
	}
}

func TestResolveEmptyPrefixPattern(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenant := f.tenant(t, "11111111-1111-1111-1111-111111111111", "one")

	trunk := f.trunk(t, tenant.ID, "tollfree")
	// North American toll-free pattern: leading optional group, so the
	// derived prefix is empty and narrowing happens via the regex alone.
	pattern := `^(\+?1)?(8(00|44|55|66|77|88)[2-9]\d{6})$`
	rule := f.rule(t, pattern, &trunk.ID, nil, RouteTypePSTN)
	if rule.Prefix != "" {
		t.Fatalf("derived prefix = %q, want empty", rule.Prefix)
	}
	f.reload(t)

	route, err := f.resolver.ResolveDestination(ctx, "18005551234", nil)
	if err != nil {
		t.Fatalf("ResolveDestination: %v", err)
	}
	if route == nil || route.CarrierTrunkID == nil || *route.CarrierTrunkID != trunk.ID {
		t.Fatalf("route = %+v, want trunk %d", route, trunk.ID)
	}

	route, err = f.resolver.ResolveDestination(ctx, "19005551234", nil)
	if err != nil {
		t.Fatalf("ResolveDestination: %v", err)
	}
	if route != nil {
		t.Fatalf("expected no route for non toll-free number, got %+v", route)
	}
}

func TestResolveNormalizesLeadingPlus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenant := f.tenant(t, "11111111-1111-1111-1111-111111111111", "one")

	trunk := f.trunk(t, tenant.ID, "trunk")
	f.rule(t, `^39\d+$`, &trunk.ID, nil, RouteTypePSTN)
	f.reload(t)

	route, err := f.resolver.ResolveDestination(ctx, "+390612345", nil)
	if err != nil {
		t.Fatalf("ResolveDestination: %v", err)
	}
	if route == nil {
		t.Fatal("expected +-prefixed number to resolve after normalization")
	}
}

func TestResolveDIDBeatsRuleOnEqualPrefix(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenant := f.tenant(t, "11111111-1111-1111-1111-111111111111", "one")

	dom := &models.Domain{TenantID: tenant.ID, Domain: "one.example.com"}
	if err := f.domains.Create(ctx, dom); err != nil {
		t.Fatalf("creating domain: %v", err)
	}
	pbx := &models.IPBX{TenantID: tenant.ID, DomainID: dom.ID, IPFqdn: "pbx.one.example.com", Port: 5060, Registered: true}
	if err := f.ipbxes.Create(ctx, pbx); err != nil {
		t.Fatalf("creating ipbx: %v", err)
	}
	trunk := f.trunk(t, tenant.ID, "trunk")

	f.rule(t, `^390612\d*$`, &trunk.ID, nil, RouteTypePSTN)
	f.did(t, tenant.UUID, `^390612\d*$`, nil, &pbx.ID)
	f.reload(t)

	route, err := f.resolver.ResolveDestination(ctx, "39061299", nil)
	if err != nil {
		t.Fatalf("ResolveDestination: %v", err)
	}
	if route == nil || route.IPBXID == nil || *route.IPBXID != pbx.ID {
		t.Fatalf("route = %+v, want did destination ipbx %d", route, pbx.ID)
	}
	if route.RouteType != RouteTypeDID {
		t.Errorf("route type = %s, want did", route.RouteType)
	}
}

func TestResolveLowestIDBreaksFinalTie(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenant := f.tenant(t, "11111111-1111-1111-1111-111111111111", "one")

	first := f.trunk(t, tenant.ID, "first")
	second := f.trunk(t, tenant.ID, "second")
	r1 := f.rule(t, `^39\d+$`, &first.ID, nil, RouteTypePSTN)
	f.rule(t, `^39\d+$`, &second.ID, nil, RouteTypePSTN)
	f.reload(t)

	for i := 0; i < 3; i++ {
		route, err := f.resolver.ResolveDestination(ctx, "390612345", nil)
		if err != nil {
			t.Fatalf("ResolveDestination: %v", err)
		}
		if route == nil || route.CarrierTrunkID == nil || *route.CarrierTrunkID != first.ID {
			t.Fatalf("route = %+v, want rule %d's trunk %d", route, r1.ID, first.ID)
		}
	}
}

func TestResolveTenantIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t1 := f.tenant(t, "11111111-1111-1111-1111-111111111111", "one")
	t2 := f.tenant(t, "22222222-2222-2222-2222-222222222222", "two")

	trunk1 := f.trunk(t, t1.ID, "one-trunk")
	f.rule(t, `^39\d+$`, &trunk1.ID, nil, RouteTypePSTN)
	f.reload(t)

	// Tenant two sees nothing even though tenant one's pattern matches.
	route, err := f.resolver.ResolveDestination(ctx, "390612345", database.TenantScope{t2.ID})
	if err != nil {
		t.Fatalf("ResolveDestination: %v", err)
	}
	if route != nil {
		t.Fatalf("expected tenant isolation to block the route, got %+v", route)
	}

	route, err = f.resolver.ResolveDestination(ctx, "390612345", database.TenantScope{t1.ID})
	if err != nil {
		t.Fatalf("ResolveDestination: %v", err)
	}
	if route == nil {
		t.Fatal("expected owning tenant to resolve its own route")
	}
}

func TestResolveSkipsDanglingDestination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenant := f.tenant(t, "11111111-1111-1111-1111-111111111111", "one")

	gone := f.trunk(t, tenant.ID, "gone")
	alive := f.trunk(t, tenant.ID, "alive")
	f.rule(t, `^3906\d+$`, &gone.ID, nil, RouteTypePSTN)
	f.rule(t, `^39\d+$`, &alive.ID, nil, RouteTypePSTN)
	f.reload(t)

	// Delete the preferred trunk after the index snapshot so its entry
	// dangles until the next reload. The cascade also removes its rule from
	// the store, but the stale index entry must be skipped, not served.
	if err := f.trunks.Delete(ctx, gone.ID); err != nil {
		t.Fatalf("deleting trunk: %v", err)
	}

	route, err := f.resolver.ResolveDestination(ctx, "390612345", nil)
	if err != nil {
		t.Fatalf("ResolveDestination: %v", err)
	}
	if route == nil || route.CarrierTrunkID == nil || *route.CarrierTrunkID != alive.ID {
		t.Fatalf("route = %+v, want fallback to trunk %d", route, alive.ID)
	}
	if f.resolver.DanglingCount() != 1 {
		t.Errorf("DanglingCount = %d, want 1", f.resolver.DanglingCount())
	}
}

func TestReloadTenantSeesNewRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenant := f.tenant(t, "11111111-1111-1111-1111-111111111111", "one")
	f.reload(t)

	route, err := f.resolver.ResolveDestination(ctx, "390612345", nil)
	if err != nil {
		t.Fatalf("ResolveDestination: %v", err)
	}
	if route != nil {
		t.Fatalf("expected no route before the rule exists, got %+v", route)
	}

	trunk := f.trunk(t, tenant.ID, "trunk")
	f.rule(t, `^39\d+$`, &trunk.ID, nil, RouteTypePSTN)
	if err := f.index.ReloadTenant(ctx, tenant.ID); err != nil {
		t.Fatalf("ReloadTenant: %v", err)
	}

	route, err = f.resolver.ResolveDestination(ctx, "390612345", nil)
	if err != nil {
		t.Fatalf("ResolveDestination: %v", err)
	}
	if route == nil {
		t.Fatal("expected the rule to be visible after reload")
	}
}

func TestCandidatesPrefixNarrowing(t *testing.T) {
	f := newFixture(t)
	tenant := f.tenant(t, "11111111-1111-1111-1111-111111111111", "one")

	trunk := f.trunk(t, tenant.ID, "trunk")
	f.rule(t, `^39\d+$`, &trunk.ID, nil, RouteTypePSTN)
	f.rule(t, `^44\d+$`, &trunk.ID, nil, RouteTypePSTN)
	f.reload(t)

	cands := f.index.Candidates("390612345", nil)
	if len(cands) != 1 || cands[0].Prefix != "39" {
		t.Fatalf("Candidates = %+v, want only the 39 entry", cands)
	}

	if got := f.index.Candidates("55123", nil); len(got) != 0 {
		t.Fatalf("Candidates for unrelated number = %+v, want none", got)
	}
}

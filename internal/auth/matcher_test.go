package auth

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
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
	matcher  *Matcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		db:       db,
		tenants:  database.NewTenantRepository(db),
		domains:  database.NewDomainRepository(db),
		ipbxes:   database.NewIPBXRepository(db),
		carriers: database.NewCarrierRepository(db),
		trunks:   database.NewCarrierTrunkRepository(db),
	}
	f.matcher = NewMatcher(f.ipbxes, f.trunks,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

// endpoint provisions a tenant, domain, and IPBX with credentials for
// username/password, mirroring how the management API stores them.
func (f *fixture) endpoint(t *testing.T, domainName, username, password string, registered bool, ip *string) (*models.Tenant, *models.IPBX) {
	t.Helper()
	ctx := context.Background()

	tenant := &models.Tenant{
		UUID: "11111111-1111-1111-1111-111111111111", Name: "tenant-" + domainName,
	}
	if err := f.tenants.Create(ctx, tenant); err != nil {
		t.Fatalf("creating tenant: %v", err)
	}
	dom := &models.Domain{TenantID: tenant.ID, Domain: domainName}
	if err := f.domains.Create(ctx, dom); err != nil {
		t.Fatalf("creating domain: %v", err)
	}

	pbx := &models.IPBX{
		TenantID: tenant.ID, DomainID: dom.ID, IPFqdn: "mypbx.com",
		Port: 5060, Registered: registered, IPAddress: ip,
	}
	if username != "" {
		hashed, err := database.HashPassword(password)
		if err != nil {
			t.Fatalf("hashing password: %v", err)
		}
		ha1 := database.HashHA1(username, domainName, password)
		pbx.Username = &username
		pbx.Password = &hashed
		pbx.PasswordHA1 = &ha1
	}
	if err := f.ipbxes.Create(ctx, pbx); err != nil {
		t.Fatalf("creating ipbx: %v", err)
	}
	return tenant, pbx
}

func TestMatchUsername(t *testing.T) {
	f := newFixture(t)
	tenant, pbx := f.endpoint(t, "testdomain.com", "user", "password", true, nil)

	res, err := f.matcher.Match(context.Background(), Request{
		SourceIP: "10.0.0.1", Username: "user",
	}, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if !res.Success {
		t.Fatal("expected success")
	}
	if res.TenantID == nil || *res.TenantID != tenant.ID {
		t.Errorf("TenantID = %v, want %d", res.TenantID, tenant.ID)
	}
	if res.IPBXID == nil || *res.IPBXID != pbx.ID {
		t.Errorf("IPBXID = %v, want %d", res.IPBXID, pbx.ID)
	}
	if res.CarrierTrunkID != nil {
		t.Errorf("CarrierTrunkID = %v, want nil", res.CarrierTrunkID)
	}
	if res.Domain == nil || *res.Domain != "testdomain.com" {
		t.Errorf("Domain = %v", res.Domain)
	}
	if res.Username == nil || *res.Username != "user" {
		t.Errorf("Username = %v", res.Username)
	}
	if res.PasswordHA1 == nil || *res.PasswordHA1 != *pbx.PasswordHA1 {
		t.Errorf("PasswordHA1 = %v, want stored digest", res.PasswordHA1)
	}
}

func TestMatchUsernamePassword(t *testing.T) {
	f := newFixture(t)
	f.endpoint(t, "testdomain.com", "user", "password", true, nil)
	ctx := context.Background()

	res, err := f.matcher.Match(ctx, Request{
		SourceIP: "10.0.0.1", Username: "user", Password: "password",
	}, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if !res.Success {
		t.Fatal("expected matching password to authenticate")
	}

	res, err = f.matcher.Match(ctx, Request{
		SourceIP: "10.0.0.1", Username: "user", Password: "wrong",
	}, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if res.Success {
		t.Fatal("expected wrong password to fail")
	}
	if res.TenantID != nil || res.IPBXID != nil || res.Domain != nil {
		t.Errorf("failed result must carry no identity fields: %+v", res)
	}
}

func TestMatchUsernameDomain(t *testing.T) {
	f := newFixture(t)
	f.endpoint(t, "testdomain.com", "user", "password", true, nil)
	ctx := context.Background()

	res, err := f.matcher.Match(ctx, Request{
		SourceIP: "10.0.0.1", Username: "user", Domain: "testdomain.com",
	}, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if !res.Success {
		t.Fatal("expected matching domain to authenticate")
	}

	// A supplied domain must equal the endpoint's domain exactly, even when
	// username and address would otherwise match.
	res, err = f.matcher.Match(ctx, Request{
		SourceIP: "10.0.0.1", Username: "user", Domain: "otherdomain.com",
	}, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if res.Success {
		t.Fatal("expected mismatched domain to fail")
	}
}

func TestMatchUnknownUsername(t *testing.T) {
	f := newFixture(t)
	f.endpoint(t, "testdomain.com", "user", "password", true, nil)

	res, err := f.matcher.Match(context.Background(), Request{
		SourceIP: "10.0.0.1", Username: "nobody",
	}, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if res.Success {
		t.Fatal("expected unknown username to fail")
	}
	if f.matcher.DeniedCount() != 1 {
		t.Errorf("DeniedCount = %d, want 1", f.matcher.DeniedCount())
	}
}

func TestMatchByIPOnly(t *testing.T) {
	f := newFixture(t)
	ip := "203.0.113.10"
	tenant, pbx := f.endpoint(t, "testdomain.com", "", "", false, &ip)

	// No username and a single static endpoint on the address: trusted
	// without any password check.
	res, err := f.matcher.Match(context.Background(), Request{SourceIP: ip}, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if !res.Success {
		t.Fatal("expected ip-only match")
	}
	if res.IPBXID == nil || *res.IPBXID != pbx.ID {
		t.Errorf("IPBXID = %v, want %d", res.IPBXID, pbx.ID)
	}
	if res.TenantID == nil || *res.TenantID != tenant.ID {
		t.Errorf("TenantID = %v, want %d", res.TenantID, tenant.ID)
	}

	res, err = f.matcher.Match(context.Background(), Request{SourceIP: "198.51.100.9"}, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if res.Success {
		t.Fatal("expected unknown address to fail")
	}
}

func TestMatchByIPAmbiguous(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ip := "203.0.113.10"
	tenant, _ := f.endpoint(t, "testdomain.com", "", "", false, &ip)

	dom := &models.Domain{TenantID: tenant.ID, Domain: "second.example.com"}
	if err := f.domains.Create(ctx, dom); err != nil {
		t.Fatalf("creating domain: %v", err)
	}
	second := &models.IPBX{
		TenantID: tenant.ID, DomainID: dom.ID, IPFqdn: "pbx2.example.com",
		Port: 5060, IPAddress: &ip,
	}
	if err := f.ipbxes.Create(ctx, second); err != nil {
		t.Fatalf("creating second ipbx: %v", err)
	}

	// Two endpoints behind one address: no unambiguous identity exists.
	res, err := f.matcher.Match(ctx, Request{SourceIP: ip}, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if res.Success {
		t.Fatal("expected ambiguous address to fail")
	}
}

func TestMatchCarrierTrunkByIP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tenant := &models.Tenant{UUID: "22222222-2222-2222-2222-222222222222", Name: "carrier-tenant"}
	if err := f.tenants.Create(ctx, tenant); err != nil {
		t.Fatalf("creating tenant: %v", err)
	}
	carrier := &models.Carrier{TenantID: tenant.ID, Name: "upstream"}
	if err := f.carriers.Create(ctx, carrier); err != nil {
		t.Fatalf("creating carrier: %v", err)
	}
	ip := "198.51.100.77"
	user := "trunkuser"
	trunk := &models.CarrierTrunk{
		CarrierID: carrier.ID, Name: "upstream-1", SIPProxy: "proxy.upstream.net",
		SIPProxyPort: 5060, IPAddress: &ip, AuthUsername: &user,
		ExpireSeconds: 3600, RetrySeconds: 30,
	}
	if err := f.trunks.Create(ctx, trunk); err != nil {
		t.Fatalf("creating trunk: %v", err)
	}

	res, err := f.matcher.Match(ctx, Request{SourceIP: ip}, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if !res.Success {
		t.Fatal("expected trunk match by address")
	}
	if res.CarrierTrunkID == nil || *res.CarrierTrunkID != trunk.ID {
		t.Errorf("CarrierTrunkID = %v, want %d", res.CarrierTrunkID, trunk.ID)
	}
	if res.TenantID == nil || *res.TenantID != tenant.ID {
		t.Errorf("TenantID = %v, want %d", res.TenantID, tenant.ID)
	}
	if res.IPBXID != nil {
		t.Errorf("IPBXID = %v, want nil", res.IPBXID)
	}
}

func TestMatchTenantScope(t *testing.T) {
	f := newFixture(t)
	tenant, _ := f.endpoint(t, "testdomain.com", "user", "password", true, nil)

	// In scope: match succeeds.
	res, err := f.matcher.Match(context.Background(), Request{
		SourceIP: "10.0.0.1", Username: "user",
	}, database.TenantScope{tenant.ID})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if !res.Success {
		t.Fatal("expected in-scope match")
	}

	// Out of scope: the endpoint is invisible.
	res, err = f.matcher.Match(context.Background(), Request{
		SourceIP: "10.0.0.1", Username: "user",
	}, database.TenantScope{tenant.ID + 100})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if res.Success {
		t.Fatal("expected out-of-scope match to fail")
	}
}

func TestMatchDigestHeader(t *testing.T) {
	f := newFixture(t)
	_, pbx := f.endpoint(t, "testdomain.com", "user", "password", true, nil)
	ctx := context.Background()

	nonce := "abc123nonce"
	uri := "sip:testdomain.com"
	method := "REGISTER"
	ha2 := md5hexTest(method + ":" + uri)
	response := md5hexTest(*pbx.PasswordHA1 + ":" + nonce + ":" + ha2)
	header := fmt.Sprintf(
		`Digest username="user", realm="testdomain.com", nonce="%s", uri="%s", response="%s", algorithm=MD5`,
		nonce, uri, response,
	)

	res, err := f.matcher.Match(ctx, Request{
		SourceIP: "10.0.0.1", Username: "user", AuthHeader: header, Method: method,
	}, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if !res.Success {
		t.Fatal("expected valid digest header to authenticate")
	}

	// A response computed from the wrong password must fail.
	badHA1 := database.HashHA1("user", "testdomain.com", "wrong")
	badResponse := md5hexTest(badHA1 + ":" + nonce + ":" + ha2)
	badHeader := fmt.Sprintf(
		`Digest username="user", realm="testdomain.com", nonce="%s", uri="%s", response="%s", algorithm=MD5`,
		nonce, uri, badResponse,
	)
	res, err = f.matcher.Match(ctx, Request{
		SourceIP: "10.0.0.1", Username: "user", AuthHeader: badHeader, Method: method,
	}, nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if res.Success {
		t.Fatal("expected invalid digest response to fail")
	}
}

func md5hexTest(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

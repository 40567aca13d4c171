package api

import (
	"fmt"
	"net/http"
	"testing"
)

func TestRoutingRuleValidation(t *testing.T) {
	f := newFixture(t)
	tenant := f.createTenant("acme")
	trunk := provisionTrunk(f, tenant.ID, "carrier", "trunk-main")

	tests := []struct {
		name string
		req  routingRuleRequest
	}{
		{"no destination", routingRuleRequest{DIDRegex: `^33`, RouteType: "pstn"}},
		{"both destinations", routingRuleRequest{CarrierTrunkID: &trunk.ID, IPBXID: &trunk.ID, RouteType: "pstn"}},
		{"invalid regex", routingRuleRequest{CarrierTrunkID: &trunk.ID, DIDRegex: `^33(`, RouteType: "pstn"}},
		{"bad route type", routingRuleRequest{CarrierTrunkID: &trunk.ID, DIDRegex: `^33`, RouteType: "space"}},
	}
	for _, tt := range tests {
		rec := f.do(http.MethodPost, "/api/v1/routing-rules", f.token(), tt.req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400 (body %q)", tt.name, rec.Code, rec.Body.String())
		}
	}
}

func TestRoutingRuleUnknownDestination(t *testing.T) {
	f := newFixture(t)
	f.createTenant("acme")

	missing := int64(9999)
	rec := f.do(http.MethodPost, "/api/v1/routing-rules", f.token(), routingRuleRequest{
		CarrierTrunkID: &missing,
		DIDRegex:       `^33`,
		RouteType:      "pstn",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown trunk = %d, want 400", rec.Code)
	}
}

func TestRoutingRuleUpdateRederivesPrefix(t *testing.T) {
	f := newFixture(t)
	tenant := f.createTenant("acme")
	trunk := provisionTrunk(f, tenant.ID, "carrier", "trunk-main")

	rec := f.do(http.MethodPost, "/api/v1/routing-rules", f.token(), routingRuleRequest{
		CarrierTrunkID: &trunk.ID,
		DIDRegex:       `^33\d+`,
		RouteType:      "pstn",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d, body %q", rec.Code, rec.Body.String())
	}
	var rule routingRuleResponse
	f.decode(rec, &rule)

	rec = f.do(http.MethodPut, fmt.Sprintf("/api/v1/routing-rules/%d", rule.ID), f.token(), routingRuleRequest{
		CarrierTrunkID: &trunk.ID,
		DIDRegex:       `^4455\d+`,
		RouteType:      "pstn",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update = %d, body %q", rec.Code, rec.Body.String())
	}
	var updated routingRuleResponse
	f.decode(rec, &updated)
	if updated.Prefix != "4455" {
		t.Fatalf("prefix = %q, want 4455 re-derived from the new pattern", updated.Prefix)
	}

	// The old prefix no longer routes, the new one does.
	var resp kamailioRoutingResponse
	rec = f.do(http.MethodPost, "/kamailio/routing", "", kamailioRoutingRequest{
		FromURI: "sip:100@a.example", ToURI: "sip:3312345678@proxy.example.com",
	})
	f.decode(rec, &resp)
	if resp.Success {
		t.Fatal("stale pattern still routes after update")
	}
	rec = f.do(http.MethodPost, "/kamailio/routing", "", kamailioRoutingRequest{
		FromURI: "sip:100@a.example", ToURI: "sip:44551234@proxy.example.com",
	})
	f.decode(rec, &resp)
	if !resp.Success {
		t.Fatal("updated pattern does not route")
	}
}

func TestDIDValidation(t *testing.T) {
	f := newFixture(t)
	tenant := f.createTenant("acme")
	trunk := provisionTrunk(f, tenant.ID, "carrier", "trunk-main")

	rec := f.do(http.MethodPost, "/api/v1/dids", f.token(), didRequest{
		TenantUUID: "00000000-0000-0000-0000-000000000000",
		DIDRegex:   `^33`,
		CarrierTrunkID: &trunk.ID,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown tenant uuid = %d, want 400", rec.Code)
	}

	rec = f.do(http.MethodPost, "/api/v1/dids", f.token(), didRequest{
		TenantUUID: tenant.UUID,
		DIDRegex:   `^33`,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("no destination = %d, want 400", rec.Code)
	}
}

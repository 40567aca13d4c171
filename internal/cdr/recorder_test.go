package cdr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/routecore/routecore/internal/database"
	"github.com/routecore/routecore/internal/database/models"
)

func newTestRecorder(t *testing.T, archive Archiver) (*Recorder, database.CDRRepository, int64) {
	t.Helper()
	db, err := database.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tenant := &models.Tenant{UUID: "11111111-1111-1111-1111-111111111111", Name: "one"}
	if err := database.NewTenantRepository(db).Create(context.Background(), tenant); err != nil {
		t.Fatalf("creating tenant: %v", err)
	}

	cdrs := database.NewCDRRepository(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRecorder(cdrs, archive, logger), cdrs, tenant.ID
}

func TestRecordAppends(t *testing.T) {
	rec, cdrs, tenantID := newTestRecorder(t, nil)
	ctx := context.Background()

	got, err := rec.Record(ctx, Event{
		TenantID: tenantID, SourceIP: "203.0.113.10", SourcePort: 5060,
		FromURI: "sip:alice@one.example.com", ToURI: "sip:390612345@one.example.com",
		CallID: "call-1@host",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if got.ID == 0 {
		t.Fatal("expected stored row id")
	}

	stored, err := cdrs.GetByCallID(ctx, "call-1@host", tenantID)
	if err != nil {
		t.Fatalf("GetByCallID: %v", err)
	}
	if stored == nil || stored.TenantID != tenantID {
		t.Fatalf("stored = %+v", stored)
	}
	if rec.RecordedCount() != 1 {
		t.Errorf("RecordedCount = %d, want 1", rec.RecordedCount())
	}
}

func TestRecordDuplicateCallIDLastWriteWins(t *testing.T) {
	rec, cdrs, tenantID := newTestRecorder(t, nil)
	ctx := context.Background()

	base := Event{
		TenantID: tenantID, SourceIP: "203.0.113.10", SourcePort: 5060,
		FromURI: "sip:alice@one.example.com", ToURI: "sip:390612345@one.example.com",
		CallID: "call-1@host",
	}
	if _, err := rec.Record(ctx, base); err != nil {
		t.Fatalf("Record: %v", err)
	}

	start := time.Date(2026, 8, 28, 9, 30, 0, 0, time.UTC)
	dur := 120
	withDetails := base
	withDetails.CallStart = &start
	withDetails.Duration = &dur
	if _, err := rec.Record(ctx, withDetails); err != nil {
		t.Fatalf("second Record: %v", err)
	}

	// Still one row, carrying the later event's details.
	_, total, err := cdrs.List(ctx, nil, 0, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 {
		t.Fatalf("total rows = %d, want 1", total)
	}
	stored, err := cdrs.GetByCallID(ctx, "call-1@host", tenantID)
	if err != nil {
		t.Fatalf("GetByCallID: %v", err)
	}
	if stored.Duration == nil || *stored.Duration != 120 {
		t.Errorf("Duration = %v, want 120", stored.Duration)
	}
	if stored.CallStart == nil || !stored.CallStart.Equal(start) {
		t.Errorf("CallStart = %v, want %v", stored.CallStart, start)
	}
}

func TestRecordSameCallIDDifferentTenantsStaysSeparate(t *testing.T) {
	db, err := database.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	tenants := database.NewTenantRepository(db)
	one := &models.Tenant{UUID: "11111111-1111-1111-1111-111111111111", Name: "one"}
	two := &models.Tenant{UUID: "22222222-2222-2222-2222-222222222222", Name: "two"}
	for _, tenant := range []*models.Tenant{one, two} {
		if err := tenants.Create(ctx, tenant); err != nil {
			t.Fatalf("creating tenant: %v", err)
		}
	}

	cdrs := database.NewCDRRepository(db)
	rec := NewRecorder(cdrs, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	durOne := 30
	first, err := rec.Record(ctx, Event{
		TenantID: one.ID, SourceIP: "203.0.113.10", SourcePort: 5060,
		FromURI: "sip:alice@one.example.com", ToURI: "sip:390612345@one.example.com",
		CallID: "shared@host", Duration: &durOne,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	// A colliding call_id from another tenant is a distinct call: it must
	// append its own row, not merge into the first tenant's record.
	durTwo := 99
	second, err := rec.Record(ctx, Event{
		TenantID: two.ID, SourceIP: "198.51.100.7", SourcePort: 5060,
		FromURI: "sip:bob@two.example.com", ToURI: "sip:441234567@two.example.com",
		CallID: "shared@host", Duration: &durTwo,
	})
	if err != nil {
		t.Fatalf("second Record: %v", err)
	}
	if second.ID == first.ID || second.TenantID != two.ID {
		t.Fatalf("second record = id %d tenant %d, want a new row for tenant %d",
			second.ID, second.TenantID, two.ID)
	}

	_, total, err := cdrs.List(ctx, nil, 0, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 {
		t.Fatalf("total rows = %d, want 2", total)
	}

	stored, err := cdrs.GetByCallID(ctx, "shared@host", one.ID)
	if err != nil {
		t.Fatalf("GetByCallID: %v", err)
	}
	if stored == nil || stored.Duration == nil || *stored.Duration != 30 {
		t.Errorf("first tenant's record = %+v, want duration 30 untouched", stored)
	}
}

type failingArchive struct{ calls int }

func (f *failingArchive) Archive(ctx context.Context, cdr *models.CDR) error {
	f.calls++
	return errors.New("archive down")
}

func TestRecordArchiveFailureDoesNotFailRecord(t *testing.T) {
	archive := &failingArchive{}
	rec, _, tenantID := newTestRecorder(t, archive)

	_, err := rec.Record(context.Background(), Event{
		TenantID: tenantID, SourceIP: "203.0.113.10", SourcePort: 5060,
		FromURI: "sip:a@x", ToURI: "sip:b@x", CallID: "call-2@host",
	})
	if err != nil {
		t.Fatalf("Record must not fail on archive errors: %v", err)
	}
	if archive.calls != 1 {
		t.Errorf("archive calls = %d, want 1 (no retries)", archive.calls)
	}
}

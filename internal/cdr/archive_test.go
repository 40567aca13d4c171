package cdr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/routecore/routecore/internal/database/models"
)

func TestPGArchiveUpsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("creating mock pool: %v", err)
	}
	defer mock.Close()

	start := time.Date(2026, 8, 28, 9, 30, 0, 0, time.UTC)
	dur := 60
	cdr := &models.CDR{
		TenantID: 7, SourceIP: "203.0.113.10", SourcePort: 5060,
		FromURI: "sip:a@x", ToURI: "sip:b@x", CallID: "call-1@host",
		CallStart: &start, Duration: &dur,
	}

	mock.ExpectExec(`INSERT INTO cdr_archive`).
		WithArgs(int64(7), "203.0.113.10", 5060, "sip:a@x", "sip:b@x",
			"call-1@host", &start, &dur).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	archive := NewPGArchiveWithPool(mock, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := archive.Archive(context.Background(), cdr); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPGArchiveError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("creating mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO cdr_archive`).
		WillReturnError(errors.New("connection refused"))

	archive := NewPGArchiveWithPool(mock, slog.New(slog.NewTextHandler(io.Discard, nil)))
	err = archive.Archive(context.Background(), &models.CDR{CallID: "call-1@host"})
	if err == nil {
		t.Fatal("expected error to surface to the recorder")
	}
}

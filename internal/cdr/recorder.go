// Package cdr records call detail events reported by the proxy at call
// teardown, and optionally mirrors them to a Postgres archive.
package cdr

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/routecore/routecore/internal/database"
	"github.com/routecore/routecore/internal/database/models"
)

// Event is one call detail report. TenantID comes from the call's matched
// identity, never from wire input. CallStart and Duration are absent when
// the proxy reports before call completion.
type Event struct {
	TenantID   int64
	SourceIP   string
	SourcePort int
	FromURI    string
	ToURI      string
	CallID     string
	CallStart  *time.Time
	Duration   *int
}

// Archiver mirrors recorded CDRs to secondary storage.
type Archiver interface {
	Archive(ctx context.Context, cdr *models.CDR) error
}

// Recorder appends call detail records. A repeated call_id within a tenant
// does not append a second row: the later event overwrites call_start and
// duration on the existing one. The same call_id seen from two tenants is
// two distinct calls.
type Recorder struct {
	cdrs    database.CDRRepository
	archive Archiver
	logger  *slog.Logger

	recorded atomic.Uint64
}

// NewRecorder creates a recorder. archive may be nil when no secondary
// store is configured.
func NewRecorder(cdrs database.CDRRepository, archive Archiver, logger *slog.Logger) *Recorder {
	return &Recorder{
		cdrs:    cdrs,
		archive: archive,
		logger:  logger.With("subsystem", "cdr"),
	}
}

// Record stores the event and returns the resulting row. Archive failures
// are logged and never fail the call; the proxy has already torn the call
// down and cannot retry meaningfully.
func (r *Recorder) Record(ctx context.Context, event Event) (*models.CDR, error) {
	existing, err := r.cdrs.GetByCallID(ctx, event.CallID, event.TenantID)
	if err != nil {
		return nil, fmt.Errorf("looking up cdr by call id: %w", err)
	}

	var cdr *models.CDR
	if existing != nil {
		existing.CallStart = event.CallStart
		existing.Duration = event.Duration
		if err := r.cdrs.UpdateCallDetails(ctx, existing.ID, existing); err != nil {
			return nil, fmt.Errorf("updating cdr: %w", err)
		}
		cdr = existing
	} else {
		cdr = &models.CDR{
			TenantID:   event.TenantID,
			SourceIP:   event.SourceIP,
			SourcePort: event.SourcePort,
			FromURI:    event.FromURI,
			ToURI:      event.ToURI,
			CallID:     event.CallID,
			CallStart:  event.CallStart,
			Duration:   event.Duration,
		}
		if err := r.cdrs.Create(ctx, cdr); err != nil {
			return nil, fmt.Errorf("creating cdr: %w", err)
		}
	}

	r.recorded.Add(1)

	if r.archive != nil {
		if err := r.archive.Archive(ctx, cdr); err != nil {
			r.logger.Error("cdr archive write failed", "call_id", cdr.CallID, "error", err)
		}
	}

	return cdr, nil
}

// RecordedCount returns the number of events recorded since start.
func (r *Recorder) RecordedCount() uint64 { return r.recorded.Load() }

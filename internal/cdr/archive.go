package cdr

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/routecore/routecore/internal/database/models"
)

// ArchivePool is the subset of a pgx pool the archive writer needs.
type ArchivePool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGArchive mirrors CDRs into a Postgres table for long-term retention and
// reporting. Writes are best effort: a failed insert is the caller's to log,
// and is never retried here, so a row is applied at most once.
type PGArchive struct {
	pool   ArchivePool
	closer func()
	logger *slog.Logger
}

const archiveSchema = `CREATE TABLE IF NOT EXISTS cdr_archive (
	id          BIGSERIAL PRIMARY KEY,
	tenant_id   BIGINT NOT NULL,
	source_ip   TEXT NOT NULL,
	source_port INTEGER NOT NULL,
	from_uri    TEXT NOT NULL,
	to_uri      TEXT NOT NULL,
	call_id     TEXT NOT NULL UNIQUE,
	call_start  TIMESTAMPTZ,
	duration    INTEGER,
	archived_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// NewPGArchive connects to Postgres and ensures the archive table exists.
func NewPGArchive(ctx context.Context, dsn string, logger *slog.Logger) (*PGArchive, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	a := &PGArchive{pool: pool, closer: pool.Close, logger: logger.With("subsystem", "cdr-archive")}
	if _, err := pool.Exec(ctx, archiveSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating archive table: %w", err)
	}

	a.logger.Info("cdr archive connected")
	return a, nil
}

// NewPGArchiveWithPool wraps an existing pool.
func NewPGArchiveWithPool(pool ArchivePool, logger *slog.Logger) *PGArchive {
	return &PGArchive{pool: pool, logger: logger.With("subsystem", "cdr-archive")}
}

// Archive upserts the CDR by call_id. A repeated call keeps a single
// archive row with the latest call_start and duration, matching the primary
// store's merge behavior.
func (a *PGArchive) Archive(ctx context.Context, cdr *models.CDR) error {
	_, err := a.pool.Exec(ctx,
		`INSERT INTO cdr_archive (tenant_id, source_ip, source_port, from_uri,
		 to_uri, call_id, call_start, duration)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (call_id) DO UPDATE
		 SET call_start = EXCLUDED.call_start, duration = EXCLUDED.duration`,
		cdr.TenantID, cdr.SourceIP, cdr.SourcePort, cdr.FromURI, cdr.ToURI,
		cdr.CallID, cdr.CallStart, cdr.Duration,
	)
	if err != nil {
		return fmt.Errorf("archiving cdr: %w", err)
	}
	return nil
}

// Close releases the pool.
func (a *PGArchive) Close() {
	if a.closer != nil {
		a.closer()
	}
}

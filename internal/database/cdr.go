package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/routecore/routecore/internal/database/models"
)

// cdrRepo implements CDRRepository.
type cdrRepo struct {
	db *DB
}

// NewCDRRepository creates a new CDRRepository.
func NewCDRRepository(db *DB) CDRRepository {
	return &cdrRepo{db: db}
}

// Create inserts a new call detail record.
func (r *cdrRepo) Create(ctx context.Context, cdr *models.CDR) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO cdrs (tenant_id, source_ip, source_port, from_uri, to_uri,
		 call_id, call_start, duration, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))`,
		cdr.TenantID, cdr.SourceIP, cdr.SourcePort, cdr.FromURI, cdr.ToURI,
		cdr.CallID, cdr.CallStart, cdr.Duration,
	)
	if err != nil {
		return fmt.Errorf("inserting cdr: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	cdr.ID = id
	return nil
}

// GetByID returns a CDR by ID within the tenant scope.
func (r *cdrRepo) GetByID(ctx context.Context, id int64, scope TenantScope) (*models.CDR, error) {
	query := `SELECT id, tenant_id, source_ip, source_port, from_uri, to_uri,
		 call_id, call_start, duration, created_at
		 FROM cdrs WHERE id = ?`
	args := []any{id}
	clause, args := scopeClause(scope, "tenant_id", args)
	return r.scanOne(r.db.QueryRowContext(ctx, query+clause, args...))
}

// GetByCallID returns the tenant's CDR for a SIP Call-ID, or nil when none
// exists. The lookup is tenant-scoped: the same Call-ID arriving from two
// tenants names two distinct calls.
func (r *cdrRepo) GetByCallID(ctx context.Context, callID string, tenantID int64) (*models.CDR, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, source_ip, source_port, from_uri, to_uri,
		 call_id, call_start, duration, created_at
		 FROM cdrs WHERE call_id = ? AND tenant_id = ?`, callID, tenantID,
	))
}

// UpdateCallDetails overwrites call_start and duration for an existing
// record. This is the only mutation CDRs ever receive: a later completion
// event for the same call_id wins.
func (r *cdrRepo) UpdateCallDetails(ctx context.Context, id int64, cdr *models.CDR) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE cdrs SET call_start = ?, duration = ? WHERE id = ?`,
		cdr.CallStart, cdr.Duration, id,
	)
	if err != nil {
		return fmt.Errorf("updating cdr call details: %w", err)
	}
	return nil
}

// List returns CDRs within the tenant scope, newest first, with the total
// matching count.
func (r *cdrRepo) List(ctx context.Context, scope TenantScope, offset, limit int) ([]models.CDR, int, error) {
	countQuery := `SELECT COUNT(*) FROM cdrs WHERE 1=1`
	args := []any{}
	clause, args := scopeClause(scope, "tenant_id", args)

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting cdrs: %w", err)
	}

	query := `SELECT id, tenant_id, source_ip, source_port, from_uri, to_uri,
		 call_id, call_start, duration, created_at
		 FROM cdrs WHERE 1=1` + clause + ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing cdrs: %w", err)
	}
	defer rows.Close()

	var cdrs []models.CDR
	for rows.Next() {
		var c models.CDR
		if err := rows.Scan(&c.ID, &c.TenantID, &c.SourceIP, &c.SourcePort,
			&c.FromURI, &c.ToURI, &c.CallID, &c.CallStart, &c.Duration,
			&c.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning cdr row: %w", err)
		}
		cdrs = append(cdrs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating cdr rows: %w", err)
	}

	return cdrs, total, nil
}

// Count returns the total number of CDRs.
func (r *cdrRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cdrs`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting cdrs: %w", err)
	}
	return count, nil
}

func (r *cdrRepo) scanOne(row *sql.Row) (*models.CDR, error) {
	var c models.CDR
	err := row.Scan(&c.ID, &c.TenantID, &c.SourceIP, &c.SourcePort, &c.FromURI,
		&c.ToURI, &c.CallID, &c.CallStart, &c.Duration, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning cdr: %w", err)
	}
	return &c, nil
}

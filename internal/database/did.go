package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/routecore/routecore/internal/database/models"
)

// didColumns is the shared select list for DID queries.
const didColumns = `d.id, d.tenant_uuid, d.did_regex, d.did_prefix,
	 d.carrier_trunk_id, d.ipbx_id, d.created_at, d.updated_at`

// didRepo implements DIDRepository.
type didRepo struct {
	db *DB
}

// NewDIDRepository creates a new DIDRepository.
func NewDIDRepository(db *DB) DIDRepository {
	return &didRepo{db: db}
}

// Create inserts a new DID. DIDPrefix must already be derived from DIDRegex
// by the caller (write-time derivation).
func (r *didRepo) Create(ctx context.Context, did *models.DID) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO dids (tenant_uuid, did_regex, did_prefix, carrier_trunk_id,
		 ipbx_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, datetime('now'), datetime('now'))`,
		did.TenantUUID, did.DIDRegex, did.DIDPrefix, did.CarrierTrunkID, did.IPBXID,
	)
	if err != nil {
		return fmt.Errorf("inserting did: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	did.ID = id
	return nil
}

// GetByID returns a DID by ID within the tenant scope.
func (r *didRepo) GetByID(ctx context.Context, id int64, scope TenantScope) (*models.DID, error) {
	query := `SELECT ` + didColumns + `
		 FROM dids d
		 JOIN tenants t ON t.uuid = d.tenant_uuid
		 WHERE d.id = ?`
	args := []any{id}
	clause, args := scopeClause(scope, "t.id", args)
	return r.scanOne(r.db.QueryRowContext(ctx, query+clause, args...))
}

// List returns DIDs within the tenant scope ordered by id.
func (r *didRepo) List(ctx context.Context, scope TenantScope, offset, limit int) ([]models.DID, error) {
	query := `SELECT ` + didColumns + `
		 FROM dids d
		 JOIN tenants t ON t.uuid = d.tenant_uuid
		 WHERE 1=1`
	args := []any{}
	clause, args := scopeClause(scope, "t.id", args)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query+clause+` ORDER BY d.id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying dids: %w", err)
	}
	defer rows.Close()

	var dids []models.DID
	for rows.Next() {
		var d models.DID
		if err := scanDID(rows.Scan, &d); err != nil {
			return nil, fmt.Errorf("scanning did row: %w", err)
		}
		dids = append(dids, d)
	}
	return dids, rows.Err()
}

// Update modifies an existing DID.
func (r *didRepo) Update(ctx context.Context, did *models.DID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE dids SET tenant_uuid = ?, did_regex = ?, did_prefix = ?,
		 carrier_trunk_id = ?, ipbx_id = ?, updated_at = datetime('now')
		 WHERE id = ?`,
		did.TenantUUID, did.DIDRegex, did.DIDPrefix, did.CarrierTrunkID,
		did.IPBXID, did.ID,
	)
	if err != nil {
		return fmt.Errorf("updating did: %w", err)
	}
	return nil
}

// Delete removes a DID by ID.
func (r *didRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM dids WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting did: %w", err)
	}
	return nil
}

// ListForTenant returns all DIDs owned by the tenant, for index rebuilds.
func (r *didRepo) ListForTenant(ctx context.Context, tenantID int64) ([]IndexedDID, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+didColumns+`, t.id
		 FROM dids d
		 JOIN tenants t ON t.uuid = d.tenant_uuid
		 WHERE t.id = ?
		 ORDER BY d.id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying dids for tenant: %w", err)
	}
	defer rows.Close()

	var dids []IndexedDID
	for rows.Next() {
		var d IndexedDID
		if err := rows.Scan(&d.ID, &d.TenantUUID, &d.DIDRegex, &d.DIDPrefix,
			&d.CarrierTrunkID, &d.IPBXID, &d.CreatedAt, &d.UpdatedAt,
			&d.TenantID); err != nil {
			return nil, fmt.Errorf("scanning indexed did: %w", err)
		}
		dids = append(dids, d)
	}
	return dids, rows.Err()
}

func scanDID(scan func(...any) error, d *models.DID) error {
	return scan(&d.ID, &d.TenantUUID, &d.DIDRegex, &d.DIDPrefix,
		&d.CarrierTrunkID, &d.IPBXID, &d.CreatedAt, &d.UpdatedAt)
}

func (r *didRepo) scanOne(row *sql.Row) (*models.DID, error) {
	var d models.DID
	err := scanDID(row.Scan, &d)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning did: %w", err)
	}
	return &d, nil
}

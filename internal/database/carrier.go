package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/routecore/routecore/internal/database/models"
)

// carrierRepo implements CarrierRepository.
type carrierRepo struct {
	db *DB
}

// NewCarrierRepository creates a new CarrierRepository.
func NewCarrierRepository(db *DB) CarrierRepository {
	return &carrierRepo{db: db}
}

// Create inserts a new carrier.
func (r *carrierRepo) Create(ctx context.Context, carrier *models.Carrier) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO carriers (tenant_id, name, created_at, updated_at)
		 VALUES (?, ?, datetime('now'), datetime('now'))`,
		carrier.TenantID, carrier.Name,
	)
	if err != nil {
		return fmt.Errorf("inserting carrier: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	carrier.ID = id
	return nil
}

// GetByID returns a carrier by ID within the tenant scope.
func (r *carrierRepo) GetByID(ctx context.Context, id int64, scope TenantScope) (*models.Carrier, error) {
	query := `SELECT id, tenant_id, name, created_at, updated_at FROM carriers WHERE id = ?`
	args := []any{id}
	clause, args := scopeClause(scope, "tenant_id", args)
	return r.scanOne(r.db.QueryRowContext(ctx, query+clause, args...))
}

// GetByName returns a carrier by name within a tenant.
func (r *carrierRepo) GetByName(ctx context.Context, tenantID int64, name string) (*models.Carrier, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, created_at, updated_at
		 FROM carriers WHERE tenant_id = ? AND name = ?`, tenantID, name,
	))
}

// List returns carriers within the tenant scope ordered by id.
func (r *carrierRepo) List(ctx context.Context, scope TenantScope, offset, limit int) ([]models.Carrier, error) {
	query := `SELECT id, tenant_id, name, created_at, updated_at FROM carriers WHERE 1=1`
	args := []any{}
	clause, args := scopeClause(scope, "tenant_id", args)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query+clause+` ORDER BY id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying carriers: %w", err)
	}
	defer rows.Close()

	var carriers []models.Carrier
	for rows.Next() {
		var c models.Carrier
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning carrier row: %w", err)
		}
		carriers = append(carriers, c)
	}
	return carriers, rows.Err()
}

// Update modifies an existing carrier.
func (r *carrierRepo) Update(ctx context.Context, carrier *models.Carrier) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE carriers SET name = ?, updated_at = datetime('now') WHERE id = ?`,
		carrier.Name, carrier.ID,
	)
	if err != nil {
		return fmt.Errorf("updating carrier: %w", err)
	}
	return nil
}

// Delete removes a carrier by ID. Its trunks cascade.
func (r *carrierRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM carriers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting carrier: %w", err)
	}
	return nil
}

func (r *carrierRepo) scanOne(row *sql.Row) (*models.Carrier, error) {
	var c models.Carrier
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning carrier: %w", err)
	}
	return &c, nil
}

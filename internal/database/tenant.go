package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/routecore/routecore/internal/database/models"
)

// tenantRepo implements TenantRepository.
type tenantRepo struct {
	db *DB
}

// NewTenantRepository creates a new TenantRepository.
func NewTenantRepository(db *DB) TenantRepository {
	return &tenantRepo{db: db}
}

// Create inserts a new tenant.
func (r *tenantRepo) Create(ctx context.Context, tenant *models.Tenant) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO tenants (uuid, name, created_at, updated_at)
		 VALUES (?, ?, datetime('now'), datetime('now'))`,
		tenant.UUID, tenant.Name,
	)
	if err != nil {
		return fmt.Errorf("inserting tenant: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	tenant.ID = id
	return nil
}

// GetByID returns a tenant by ID.
func (r *tenantRepo) GetByID(ctx context.Context, id int64) (*models.Tenant, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, uuid, name, created_at, updated_at FROM tenants WHERE id = ?`, id,
	))
}

// GetByUUID returns a tenant by its external UUID.
func (r *tenantRepo) GetByUUID(ctx context.Context, uuid string) (*models.Tenant, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, uuid, name, created_at, updated_at FROM tenants WHERE uuid = ?`, uuid,
	))
}

// GetByName returns a tenant by its unique name.
func (r *tenantRepo) GetByName(ctx context.Context, name string) (*models.Tenant, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, uuid, name, created_at, updated_at FROM tenants WHERE name = ?`, name,
	))
}

// List returns tenants ordered by id with offset/limit pagination.
func (r *tenantRepo) List(ctx context.Context, offset, limit int) ([]models.Tenant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, uuid, name, created_at, updated_at
		 FROM tenants ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying tenants: %w", err)
	}
	defer rows.Close()

	var tenants []models.Tenant
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.ID, &t.UUID, &t.Name, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning tenant row: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// ListIDs returns all tenant ids, used for full index rebuilds.
func (r *tenantRepo) ListIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM tenants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying tenant ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning tenant id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IDsForUUIDs resolves tenant UUIDs to numeric ids. Unknown UUIDs are
// silently dropped so a stale principal cannot widen its scope.
func (r *tenantRepo) IDsForUUIDs(ctx context.Context, uuids []string) ([]int64, error) {
	ids := make([]int64, 0, len(uuids))
	for _, u := range uuids {
		var id int64
		err := r.db.QueryRowContext(ctx, `SELECT id FROM tenants WHERE uuid = ?`, u).Scan(&id)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolving tenant uuid %s: %w", u, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Update modifies an existing tenant. The UUID is immutable and never
// written after creation.
func (r *tenantRepo) Update(ctx context.Context, tenant *models.Tenant) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tenants SET name = ?, updated_at = datetime('now') WHERE id = ?`,
		tenant.Name, tenant.ID,
	)
	if err != nil {
		return fmt.Errorf("updating tenant: %w", err)
	}
	return nil
}

// Delete removes a tenant by ID. Owned domains, endpoints, carriers,
// trunks, rules, DIDs and CDRs cascade.
func (r *tenantRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting tenant: %w", err)
	}
	return nil
}

// Count returns the number of tenants.
func (r *tenantRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tenants`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting tenants: %w", err)
	}
	return count, nil
}

func (r *tenantRepo) scanOne(row *sql.Row) (*models.Tenant, error) {
	var t models.Tenant
	err := row.Scan(&t.ID, &t.UUID, &t.Name, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning tenant: %w", err)
	}
	return &t, nil
}

package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/routecore/routecore/internal/database/models"
)

// domainRepo implements DomainRepository.
type domainRepo struct {
	db *DB
}

// NewDomainRepository creates a new DomainRepository.
func NewDomainRepository(db *DB) DomainRepository {
	return &domainRepo{db: db}
}

// Create inserts a new domain.
func (r *domainRepo) Create(ctx context.Context, domain *models.Domain) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO domains (tenant_id, domain, created_at, updated_at)
		 VALUES (?, ?, datetime('now'), datetime('now'))`,
		domain.TenantID, domain.Domain,
	)
	if err != nil {
		return fmt.Errorf("inserting domain: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	domain.ID = id
	return nil
}

// GetByID returns a domain by ID within the tenant scope.
func (r *domainRepo) GetByID(ctx context.Context, id int64, scope TenantScope) (*models.Domain, error) {
	query := `SELECT id, tenant_id, domain, created_at, updated_at FROM domains WHERE id = ?`
	args := []any{id}
	clause, args := scopeClause(scope, "tenant_id", args)
	return r.scanOne(r.db.QueryRowContext(ctx, query+clause, args...))
}

// GetByName returns a domain by name within a tenant.
func (r *domainRepo) GetByName(ctx context.Context, tenantID int64, name string) (*models.Domain, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, domain, created_at, updated_at
		 FROM domains WHERE tenant_id = ? AND domain = ?`, tenantID, name,
	))
}

// List returns domains within the tenant scope ordered by id.
func (r *domainRepo) List(ctx context.Context, scope TenantScope, offset, limit int) ([]models.Domain, error) {
	query := `SELECT id, tenant_id, domain, created_at, updated_at FROM domains WHERE 1=1`
	args := []any{}
	clause, args := scopeClause(scope, "tenant_id", args)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query+clause+` ORDER BY id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying domains: %w", err)
	}
	defer rows.Close()

	var domains []models.Domain
	for rows.Next() {
		var d models.Domain
		if err := rows.Scan(&d.ID, &d.TenantID, &d.Domain, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning domain row: %w", err)
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

// Update modifies an existing domain.
func (r *domainRepo) Update(ctx context.Context, domain *models.Domain) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE domains SET domain = ?, updated_at = datetime('now') WHERE id = ?`,
		domain.Domain, domain.ID,
	)
	if err != nil {
		return fmt.Errorf("updating domain: %w", err)
	}
	return nil
}

// Delete removes a domain by ID.
func (r *domainRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM domains WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting domain: %w", err)
	}
	return nil
}

func (r *domainRepo) scanOne(row *sql.Row) (*models.Domain, error) {
	var d models.Domain
	err := row.Scan(&d.ID, &d.TenantID, &d.Domain, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning domain: %w", err)
	}
	return &d, nil
}

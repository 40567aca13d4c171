package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/routecore/routecore/internal/database/models"
)

// ipbxColumns is the shared select list for IPBX queries.
const ipbxColumns = `id, tenant_id, domain_id, customer, ip_fqdn, port, ip_address,
	 registered, username, password, password_ha1, created_at, updated_at`

// ipbxRepo implements IPBXRepository.
type ipbxRepo struct {
	db *DB
}

// NewIPBXRepository creates a new IPBXRepository.
func NewIPBXRepository(db *DB) IPBXRepository {
	return &ipbxRepo{db: db}
}

// Create inserts a new IPBX endpoint.
func (r *ipbxRepo) Create(ctx context.Context, ipbx *models.IPBX) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO ipbx (tenant_id, domain_id, customer, ip_fqdn, port, ip_address,
		 registered, username, password, password_ha1, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))`,
		ipbx.TenantID, ipbx.DomainID, ipbx.Customer, ipbx.IPFqdn, ipbx.Port,
		ipbx.IPAddress, ipbx.Registered, ipbx.Username, ipbx.Password, ipbx.PasswordHA1,
	)
	if err != nil {
		return fmt.Errorf("inserting ipbx: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	ipbx.ID = id
	return nil
}

// GetByID returns an IPBX by ID within the tenant scope.
func (r *ipbxRepo) GetByID(ctx context.Context, id int64, scope TenantScope) (*models.IPBX, error) {
	query := `SELECT ` + ipbxColumns + ` FROM ipbx WHERE id = ?`
	args := []any{id}
	clause, args := scopeClause(scope, "tenant_id", args)
	return r.scanOne(r.db.QueryRowContext(ctx, query+clause, args...))
}

// List returns IPBX endpoints within the tenant scope ordered by id.
func (r *ipbxRepo) List(ctx context.Context, scope TenantScope, offset, limit int) ([]models.IPBX, error) {
	query := `SELECT ` + ipbxColumns + ` FROM ipbx WHERE 1=1`
	args := []any{}
	clause, args := scopeClause(scope, "tenant_id", args)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query+clause+` ORDER BY id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying ipbx: %w", err)
	}
	defer rows.Close()

	var list []models.IPBX
	for rows.Next() {
		var p models.IPBX
		if err := scanIPBX(rows.Scan, &p); err != nil {
			return nil, fmt.Errorf("scanning ipbx row: %w", err)
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// Update modifies an existing IPBX endpoint.
func (r *ipbxRepo) Update(ctx context.Context, ipbx *models.IPBX) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE ipbx SET tenant_id = ?, domain_id = ?, customer = ?, ip_fqdn = ?,
		 port = ?, ip_address = ?, registered = ?, username = ?, password = ?,
		 password_ha1 = ?, updated_at = datetime('now')
		 WHERE id = ?`,
		ipbx.TenantID, ipbx.DomainID, ipbx.Customer, ipbx.IPFqdn, ipbx.Port,
		ipbx.IPAddress, ipbx.Registered, ipbx.Username, ipbx.Password,
		ipbx.PasswordHA1, ipbx.ID,
	)
	if err != nil {
		return fmt.Errorf("updating ipbx: %w", err)
	}
	return nil
}

// Delete removes an IPBX endpoint by ID. Routing rules and DIDs pointing at
// it cascade.
func (r *ipbxRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM ipbx WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting ipbx: %w", err)
	}
	return nil
}

// ListUnregisteredByIP returns non-registered endpoints whose static binding
// matches the source address, joined with their domain name.
func (r *ipbxRepo) ListUnregisteredByIP(ctx context.Context, ip string, scope TenantScope) ([]IPBXAuthCandidate, error) {
	query := `SELECT i.id, i.tenant_id, i.domain_id, i.customer, i.ip_fqdn, i.port,
		 i.ip_address, i.registered, i.username, i.password, i.password_ha1,
		 i.created_at, i.updated_at, d.domain
		 FROM ipbx i
		 JOIN domains d ON d.id = i.domain_id
		 WHERE i.registered = 0 AND i.ip_address = ?`
	args := []any{ip}
	clause, args := scopeClause(scope, "i.tenant_id", args)

	rows, err := r.db.QueryContext(ctx, query+clause+` ORDER BY i.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying ipbx by ip: %w", err)
	}
	defer rows.Close()

	return scanAuthCandidates(rows)
}

// ListAuthCandidates returns endpoints matching the username that are either
// bound to the source address or registered dynamically.
func (r *ipbxRepo) ListAuthCandidates(ctx context.Context, username, sourceIP string, scope TenantScope) ([]IPBXAuthCandidate, error) {
	query := `SELECT i.id, i.tenant_id, i.domain_id, i.customer, i.ip_fqdn, i.port,
		 i.ip_address, i.registered, i.username, i.password, i.password_ha1,
		 i.created_at, i.updated_at, d.domain
		 FROM ipbx i
		 JOIN domains d ON d.id = i.domain_id
		 WHERE i.username = ? AND (i.ip_address = ? OR i.registered = 1)`
	args := []any{username, sourceIP}
	clause, args := scopeClause(scope, "i.tenant_id", args)

	rows, err := r.db.QueryContext(ctx, query+clause+` ORDER BY i.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying ipbx auth candidates: %w", err)
	}
	defer rows.Close()

	return scanAuthCandidates(rows)
}

func scanAuthCandidates(rows *sql.Rows) ([]IPBXAuthCandidate, error) {
	var candidates []IPBXAuthCandidate
	for rows.Next() {
		var c IPBXAuthCandidate
		if err := rows.Scan(&c.ID, &c.TenantID, &c.DomainID, &c.Customer, &c.IPFqdn,
			&c.Port, &c.IPAddress, &c.Registered, &c.Username, &c.Password,
			&c.PasswordHA1, &c.CreatedAt, &c.UpdatedAt, &c.DomainName); err != nil {
			return nil, fmt.Errorf("scanning ipbx auth candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

func scanIPBX(scan func(...any) error, p *models.IPBX) error {
	return scan(&p.ID, &p.TenantID, &p.DomainID, &p.Customer, &p.IPFqdn, &p.Port,
		&p.IPAddress, &p.Registered, &p.Username, &p.Password, &p.PasswordHA1,
		&p.CreatedAt, &p.UpdatedAt)
}

func (r *ipbxRepo) scanOne(row *sql.Row) (*models.IPBX, error) {
	var p models.IPBX
	err := scanIPBX(row.Scan, &p)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning ipbx: %w", err)
	}
	return &p, nil
}

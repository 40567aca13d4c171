package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/routecore/routecore/internal/database/models"
)

// trunkColumns is the shared select list for carrier trunk queries.
const trunkColumns = `ct.id, ct.carrier_id, ct.name, ct.sip_proxy, ct.sip_proxy_port,
	 ct.ip_address, ct.registered, ct.auth_username, ct.auth_password, ct.realm,
	 ct.registrar_proxy, ct.from_domain, ct.expire_seconds, ct.retry_seconds,
	 ct.created_at, ct.updated_at`

// carrierTrunkRepo implements CarrierTrunkRepository.
type carrierTrunkRepo struct {
	db *DB
}

// NewCarrierTrunkRepository creates a new CarrierTrunkRepository.
func NewCarrierTrunkRepository(db *DB) CarrierTrunkRepository {
	return &carrierTrunkRepo{db: db}
}

// Create inserts a new carrier trunk.
func (r *carrierTrunkRepo) Create(ctx context.Context, trunk *models.CarrierTrunk) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO carrier_trunks (carrier_id, name, sip_proxy, sip_proxy_port,
		 ip_address, registered, auth_username, auth_password, realm,
		 registrar_proxy, from_domain, expire_seconds, retry_seconds,
		 created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))`,
		trunk.CarrierID, trunk.Name, trunk.SIPProxy, trunk.SIPProxyPort,
		trunk.IPAddress, trunk.Registered, trunk.AuthUsername, trunk.AuthPassword,
		trunk.Realm, trunk.RegistrarProxy, trunk.FromDomain,
		trunk.ExpireSeconds, trunk.RetrySeconds,
	)
	if err != nil {
		return fmt.Errorf("inserting carrier trunk: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	trunk.ID = id
	return nil
}

// GetByID returns a carrier trunk by ID within the tenant scope. Scoping
// goes through the owning carrier.
func (r *carrierTrunkRepo) GetByID(ctx context.Context, id int64, scope TenantScope) (*models.CarrierTrunk, error) {
	query := `SELECT ` + trunkColumns + `
		 FROM carrier_trunks ct
		 JOIN carriers c ON c.id = ct.carrier_id
		 WHERE ct.id = ?`
	args := []any{id}
	clause, args := scopeClause(scope, "c.tenant_id", args)
	return r.scanOne(r.db.QueryRowContext(ctx, query+clause, args...))
}

// GetByName returns a carrier trunk by its globally unique name.
func (r *carrierTrunkRepo) GetByName(ctx context.Context, name string) (*models.CarrierTrunk, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+trunkColumns+` FROM carrier_trunks ct WHERE ct.name = ?`, name,
	))
}

// List returns carrier trunks within the tenant scope ordered by id.
func (r *carrierTrunkRepo) List(ctx context.Context, scope TenantScope, offset, limit int) ([]models.CarrierTrunk, error) {
	query := `SELECT ` + trunkColumns + `
		 FROM carrier_trunks ct
		 JOIN carriers c ON c.id = ct.carrier_id
		 WHERE 1=1`
	args := []any{}
	clause, args := scopeClause(scope, "c.tenant_id", args)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query+clause+` ORDER BY ct.id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying carrier trunks: %w", err)
	}
	defer rows.Close()

	return r.scanMany(rows)
}

// Update modifies an existing carrier trunk.
func (r *carrierTrunkRepo) Update(ctx context.Context, trunk *models.CarrierTrunk) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE carrier_trunks SET carrier_id = ?, name = ?, sip_proxy = ?,
		 sip_proxy_port = ?, ip_address = ?, registered = ?, auth_username = ?,
		 auth_password = ?, realm = ?, registrar_proxy = ?, from_domain = ?,
		 expire_seconds = ?, retry_seconds = ?, updated_at = datetime('now')
		 WHERE id = ?`,
		trunk.CarrierID, trunk.Name, trunk.SIPProxy, trunk.SIPProxyPort,
		trunk.IPAddress, trunk.Registered, trunk.AuthUsername, trunk.AuthPassword,
		trunk.Realm, trunk.RegistrarProxy, trunk.FromDomain,
		trunk.ExpireSeconds, trunk.RetrySeconds, trunk.ID,
	)
	if err != nil {
		return fmt.Errorf("updating carrier trunk: %w", err)
	}
	return nil
}

// Delete removes a carrier trunk by ID. Routing rules and DIDs pointing at
// it cascade.
func (r *carrierTrunkRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM carrier_trunks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting carrier trunk: %w", err)
	}
	return nil
}

// ListByIPAddress returns trunks bound to the given static source address.
func (r *carrierTrunkRepo) ListByIPAddress(ctx context.Context, ip string, scope TenantScope) ([]models.CarrierTrunk, error) {
	query := `SELECT ` + trunkColumns + `
		 FROM carrier_trunks ct
		 JOIN carriers c ON c.id = ct.carrier_id
		 WHERE ct.ip_address = ?`
	args := []any{ip}
	clause, args := scopeClause(scope, "c.tenant_id", args)

	rows, err := r.db.QueryContext(ctx, query+clause+` ORDER BY ct.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying carrier trunks by ip: %w", err)
	}
	defer rows.Close()

	return r.scanMany(rows)
}

// TenantID resolves the owning tenant through the trunk's carrier.
func (r *carrierTrunkRepo) TenantID(ctx context.Context, trunkID int64) (int64, error) {
	var tenantID int64
	err := r.db.QueryRowContext(ctx,
		`SELECT c.tenant_id FROM carrier_trunks ct
		 JOIN carriers c ON c.id = ct.carrier_id
		 WHERE ct.id = ?`, trunkID).Scan(&tenantID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("resolving trunk tenant: %w", err)
	}
	return tenantID, nil
}

func scanCarrierTrunk(scan func(...any) error, t *models.CarrierTrunk) error {
	return scan(&t.ID, &t.CarrierID, &t.Name, &t.SIPProxy, &t.SIPProxyPort,
		&t.IPAddress, &t.Registered, &t.AuthUsername, &t.AuthPassword, &t.Realm,
		&t.RegistrarProxy, &t.FromDomain, &t.ExpireSeconds, &t.RetrySeconds,
		&t.CreatedAt, &t.UpdatedAt)
}

func (r *carrierTrunkRepo) scanOne(row *sql.Row) (*models.CarrierTrunk, error) {
	var t models.CarrierTrunk
	err := scanCarrierTrunk(row.Scan, &t)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning carrier trunk: %w", err)
	}
	return &t, nil
}

func (r *carrierTrunkRepo) scanMany(rows *sql.Rows) ([]models.CarrierTrunk, error) {
	var trunks []models.CarrierTrunk
	for rows.Next() {
		var t models.CarrierTrunk
		if err := scanCarrierTrunk(rows.Scan, &t); err != nil {
			return nil, fmt.Errorf("scanning carrier trunk row: %w", err)
		}
		trunks = append(trunks, t)
	}
	return trunks, rows.Err()
}

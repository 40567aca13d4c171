package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/routecore/routecore/internal/database/models"
)

// ruleColumns is the shared select list for routing rule queries.
const ruleColumns = `r.id, r.prefix, r.carrier_trunk_id, r.ipbx_id, r.did_regex,
	 r.route_type, r.created_at, r.updated_at`

// ruleTenantExpr resolves a rule's owning tenant through its IPBX, or
// through the trunk's carrier when no IPBX is set.
const ruleTenantExpr = `COALESCE(i.tenant_id, c.tenant_id)`

// ruleJoins attaches the tables needed to resolve the owning tenant.
const ruleJoins = ` FROM routing_rules r
	 LEFT JOIN ipbx i ON i.id = r.ipbx_id
	 LEFT JOIN carrier_trunks ct ON ct.id = r.carrier_trunk_id
	 LEFT JOIN carriers c ON c.id = ct.carrier_id`

// routingRuleRepo implements RoutingRuleRepository.
type routingRuleRepo struct {
	db *DB
}

// NewRoutingRuleRepository creates a new RoutingRuleRepository.
func NewRoutingRuleRepository(db *DB) RoutingRuleRepository {
	return &routingRuleRepo{db: db}
}

// Create inserts a new routing rule.
func (r *routingRuleRepo) Create(ctx context.Context, rule *models.RoutingRule) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO routing_rules (prefix, carrier_trunk_id, ipbx_id, did_regex,
		 route_type, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, datetime('now'), datetime('now'))`,
		rule.Prefix, rule.CarrierTrunkID, rule.IPBXID, rule.DIDRegex, rule.RouteType,
	)
	if err != nil {
		return fmt.Errorf("inserting routing rule: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	rule.ID = id
	return nil
}

// GetByID returns a routing rule by ID within the tenant scope.
func (r *routingRuleRepo) GetByID(ctx context.Context, id int64, scope TenantScope) (*models.RoutingRule, error) {
	query := `SELECT ` + ruleColumns + ruleJoins + ` WHERE r.id = ?`
	args := []any{id}
	clause, args := scopeClause(scope, ruleTenantExpr, args)
	return r.scanOne(r.db.QueryRowContext(ctx, query+clause, args...))
}

// List returns routing rules within the tenant scope ordered by id.
func (r *routingRuleRepo) List(ctx context.Context, scope TenantScope, offset, limit int) ([]models.RoutingRule, error) {
	query := `SELECT ` + ruleColumns + ruleJoins + ` WHERE 1=1`
	args := []any{}
	clause, args := scopeClause(scope, ruleTenantExpr, args)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query+clause+` ORDER BY r.id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying routing rules: %w", err)
	}
	defer rows.Close()

	var rules []models.RoutingRule
	for rows.Next() {
		var rule models.RoutingRule
		if err := scanRoutingRule(rows.Scan, &rule); err != nil {
			return nil, fmt.Errorf("scanning routing rule row: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// Update modifies an existing routing rule.
func (r *routingRuleRepo) Update(ctx context.Context, rule *models.RoutingRule) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE routing_rules SET prefix = ?, carrier_trunk_id = ?, ipbx_id = ?,
		 did_regex = ?, route_type = ?, updated_at = datetime('now')
		 WHERE id = ?`,
		rule.Prefix, rule.CarrierTrunkID, rule.IPBXID, rule.DIDRegex,
		rule.RouteType, rule.ID,
	)
	if err != nil {
		return fmt.Errorf("updating routing rule: %w", err)
	}
	return nil
}

// Delete removes a routing rule by ID.
func (r *routingRuleRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM routing_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting routing rule: %w", err)
	}
	return nil
}

// TenantID resolves the rule's owning tenant, or 0 when the rule has no
// resolvable destination.
func (r *routingRuleRepo) TenantID(ctx context.Context, ruleID int64) (int64, error) {
	var tenantID sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT `+ruleTenantExpr+ruleJoins+` WHERE r.id = ?`, ruleID).Scan(&tenantID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("resolving rule tenant: %w", err)
	}
	return tenantID.Int64, nil
}

// ListForTenant returns all rules owned by the tenant, for index rebuilds.
func (r *routingRuleRepo) ListForTenant(ctx context.Context, tenantID int64) ([]IndexedRule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ruleColumns+`, `+ruleTenantExpr+ruleJoins+`
		 WHERE `+ruleTenantExpr+` = ?
		 ORDER BY r.id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying rules for tenant: %w", err)
	}
	defer rows.Close()

	var rules []IndexedRule
	for rows.Next() {
		var rule IndexedRule
		if err := rows.Scan(&rule.ID, &rule.Prefix, &rule.CarrierTrunkID,
			&rule.IPBXID, &rule.DIDRegex, &rule.RouteType,
			&rule.CreatedAt, &rule.UpdatedAt, &rule.TenantID); err != nil {
			return nil, fmt.Errorf("scanning indexed rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func scanRoutingRule(scan func(...any) error, rule *models.RoutingRule) error {
	return scan(&rule.ID, &rule.Prefix, &rule.CarrierTrunkID, &rule.IPBXID,
		&rule.DIDRegex, &rule.RouteType, &rule.CreatedAt, &rule.UpdatedAt)
}

func (r *routingRuleRepo) scanOne(row *sql.Row) (*models.RoutingRule, error) {
	var rule models.RoutingRule
	err := scanRoutingRule(row.Scan, &rule)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning routing rule: %w", err)
	}
	return &rule, nil
}

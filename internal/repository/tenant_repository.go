package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/callsight/callsight-api/internal/models"
)

type TenantRepository interface {
	Create(ctx context.Context, name string) (models.Tenant, error)
	Get(ctx context.Context, id string) (models.Tenant, error)
	SetStatus(ctx context.Context, id string, status models.TenantStatus) error
	SetCustomKeywords(ctx context.Context, id string, keywords []string) error
}

type tenantRepository struct {
	db *sql.DB
}

func NewTenantRepository(db *sql.DB) TenantRepository {
	return &tenantRepository{db: db}
}

func (r *tenantRepository) Create(ctx context.Context, name string) (models.Tenant, error) {
	const query = `
		INSERT INTO callsight.tenants (name, status)
		VALUES ($1, 'active')
		RETURNING id, name, status, custom_keywords, created_at, updated_at
	`
	tenant, err := scanTenant(r.db.QueryRowContext(ctx, query, name))
	if isUniqueViolation(err) {
		return tenant, ErrDuplicate
	}
	return tenant, err
}

func (r *tenantRepository) Get(ctx context.Context, id string) (models.Tenant, error) {
	const query = `
		SELECT id, name, status, custom_keywords, created_at, updated_at
		FROM callsight.tenants
		WHERE id = $1
	`
	tenant, err := scanTenant(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return tenant, ErrNotFound
	}
	return tenant, err
}

func (r *tenantRepository) SetStatus(ctx context.Context, id string, status models.TenantStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE callsight.tenants SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *tenantRepository) SetCustomKeywords(ctx context.Context, id string, keywords []string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE callsight.tenants SET custom_keywords = $2, updated_at = now() WHERE id = $1`,
		id, pq.Array(keywords))
	return err
}

func scanTenant(row rowScanner) (models.Tenant, error) {
	var tenant models.Tenant
	err := row.Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.Status,
		pq.Array(&tenant.CustomKeywords),
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)
	return tenant, err
}

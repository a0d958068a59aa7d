package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"docflow/internal/platform/postgres"
	"docflow/internal/tenant/models"
	id "docflow/pkg/domain"
	"docflow/pkg/platform/sentinel"
	txcontext "docflow/pkg/platform/tx"

	"github.com/google/uuid"
)

// Postgres persists tenants. Slug uniqueness is enforced by the
// uniq_tenant_slug index, not by application logic.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) q(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Postgres) CreateIfSlugAvailable(ctx context.Context, tenant *models.Tenant) error {
	query := `
		INSERT INTO tenants (id, name, slug, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(tenant.ID),
		tenant.Name,
		models.NormalizeSlug(tenant.Slug),
		tenant.Active,
		tenant.CreatedAt,
		tenant.UpdatedAt,
	)
	if postgres.IsUniqueViolation(err, "uniq_tenant_slug") {
		return sentinel.ErrAlreadyUsed
	}
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	query := `
		SELECT id, name, slug, active, created_at, updated_at
		FROM tenants WHERE id = $1
	`
	return s.scanOne(s.q(ctx).QueryRowContext(ctx, query, uuid.UUID(tenantID)))
}

func (s *Postgres) FindBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	query := `
		SELECT id, name, slug, active, created_at, updated_at
		FROM tenants WHERE slug = $1
	`
	return s.scanOne(s.q(ctx).QueryRowContext(ctx, query, models.NormalizeSlug(slug)))
}

func (s *Postgres) ListActive(ctx context.Context) ([]*models.Tenant, error) {
	query := `
		SELECT id, name, slug, active, created_at, updated_at
		FROM tenants WHERE active ORDER BY name
	`
	rows, err := s.q(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}
	defer rows.Close()

	var out []*models.Tenant
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tenant)
	}
	return out, rows.Err()
}

func (s *Postgres) Update(ctx context.Context, tenant *models.Tenant) error {
	query := `
		UPDATE tenants SET name = $2, active = $3, updated_at = $4
		WHERE id = $1
	`
	res, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(tenant.ID),
		tenant.Name,
		tenant.Active,
		tenant.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Postgres) scanOne(row rowScanner) (*models.Tenant, error) {
	tenant, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tenant, nil
}

func scanTenant(row rowScanner) (*models.Tenant, error) {
	var (
		tenant models.Tenant
		rawID  uuid.UUID
	)
	if err := row.Scan(&rawID, &tenant.Name, &tenant.Slug, &tenant.Active, &tenant.CreatedAt, &tenant.UpdatedAt); err != nil {
		return nil, err
	}
	tenant.ID = id.TenantID(rawID)
	return &tenant, nil
}

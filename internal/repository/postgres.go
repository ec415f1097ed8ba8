package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcpgrid/mcpgrid-auth/internal/domain"
)

// Compile-time interface assertions.
var (
	_ TenantRepository  = (*PostgresTenantRepo)(nil)
	_ ClientRepository  = (*PostgresClientRepo)(nil)
	_ UserRepository    = (*PostgresUserRepo)(nil)
	_ CodeRepository    = (*PostgresCodeRepo)(nil)
	_ TokenRepository   = (*PostgresTokenRepo)(nil)
	_ ConsentRepository = (*PostgresConsentRepo)(nil)
	_ KeyRepository     = (*PostgresKeyRepo)(nil)
)

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

// PostgresTenantRepo implements TenantRepository.
type PostgresTenantRepo struct {
	db *pgxpool.Pool
}

func NewPostgresTenantRepo(db *pgxpool.Pool) *PostgresTenantRepo {
	return &PostgresTenantRepo{db: db}
}

const selectTenantSQL = `SELECT id, slug, name, issuer_url, supported_scopes, default_scope,
access_token_ttl_seconds, refresh_token_ttl_seconds, enabled, auth_methods, created_at, updated_at
FROM tenants`

func (r *PostgresTenantRepo) GetBySlug(ctx context.Context, slug string) (domain.Tenant, error) {
	row := r.db.QueryRow(ctx, selectTenantSQL+` WHERE slug = $1`, slug)
	tenant, err := scanTenant(row)
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("get tenant by slug: %w", mapNoRows(err))
	}
	return tenant, nil
}

func (r *PostgresTenantRepo) GetByID(ctx context.Context, tenantID int64) (domain.Tenant, error) {
	row := r.db.QueryRow(ctx, selectTenantSQL+` WHERE id = $1`, tenantID)
	tenant, err := scanTenant(row)
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("get tenant: %w", mapNoRows(err))
	}
	return tenant, nil
}

func scanTenant(row pgx.Row) (domain.Tenant, error) {
	var (
		t          domain.Tenant
		accessTTL  int64
		refreshTTL int64
	)
	if err := row.Scan(
		&t.ID,
		&t.Slug,
		&t.Name,
		&t.IssuerURL,
		&t.SupportedScopes,
		&t.DefaultScope,
		&accessTTL,
		&refreshTTL,
		&t.Enabled,
		&t.AuthMethods,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return domain.Tenant{}, err
	}
	t.AccessTokenTTL = time.Duration(accessTTL) * time.Second
	t.RefreshTokenTTL = time.Duration(refreshTTL) * time.Second
	return t, nil
}

// PostgresKeyRepo implements KeyRepository.
type PostgresKeyRepo struct {
	db *pgxpool.Pool
}

func NewPostgresKeyRepo(db *pgxpool.Pool) *PostgresKeyRepo {
	return &PostgresKeyRepo{db: db}
}

func (r *PostgresKeyRepo) GetActive(ctx context.Context, tenantID int64) (domain.SessionKey, error) {
	row := r.db.QueryRow(ctx, `SELECT id, tenant_id, kid, secret, algorithm, active, created_at, rotated_at
FROM session_keys WHERE tenant_id = $1 AND active ORDER BY created_at DESC LIMIT 1`, tenantID)

	var key domain.SessionKey
	if err := row.Scan(&key.ID, &key.TenantID, &key.KID, &key.Secret, &key.Algorithm, &key.Active, &key.CreatedAt, &key.RotatedAt); err != nil {
		return domain.SessionKey{}, fmt.Errorf("get session key: %w", mapNoRows(err))
	}
	return key, nil
}

func (r *PostgresKeyRepo) Create(ctx context.Context, key domain.SessionKey) (domain.SessionKey, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO session_keys (tenant_id, kid, secret, algorithm, active)
VALUES ($1, $2, $3, $4, true)
RETURNING id, created_at`, key.TenantID, key.KID, key.Secret, key.Algorithm)

	if err := row.Scan(&key.ID, &key.CreatedAt); err != nil {
		return domain.SessionKey{}, fmt.Errorf("insert session key: %w", err)
	}
	key.Active = true
	return key, nil
}

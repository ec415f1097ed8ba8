package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcpgrid/mcpgrid-auth/internal/domain"
)

// PostgresClientRepo implements ClientRepository.
type PostgresClientRepo struct {
	db *pgxpool.Pool
}

func NewPostgresClientRepo(db *pgxpool.Pool) *PostgresClientRepo {
	return &PostgresClientRepo{db: db}
}

const clientColumns = `id, tenant_id, client_id, client_secret_hash, client_name,
redirect_uris, grant_types, token_endpoint_auth_method, status, created_at, updated_at`

func (r *PostgresClientRepo) Create(ctx context.Context, client domain.OAuthClient) (domain.OAuthClient, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO oauth_clients
(tenant_id, client_id, client_secret_hash, client_name, redirect_uris, grant_types, token_endpoint_auth_method, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+clientColumns,
		client.TenantID,
		client.ClientID,
		client.SecretHash,
		client.Name,
		client.RedirectURIs,
		client.GrantTypes,
		client.AuthMethod,
		client.Status,
	)
	created, err := scanClient(row)
	if err != nil {
		return domain.OAuthClient{}, fmt.Errorf("insert client: %w", err)
	}
	return created, nil
}

func (r *PostgresClientRepo) Get(ctx context.Context, tenantID int64, clientID string) (domain.OAuthClient, error) {
	row := r.db.QueryRow(ctx, `SELECT `+clientColumns+`
FROM oauth_clients WHERE tenant_id = $1 AND client_id = $2`, tenantID, clientID)
	client, err := scanClient(row)
	if err != nil {
		return domain.OAuthClient{}, fmt.Errorf("get client: %w", mapNoRows(err))
	}
	return client, nil
}

func (r *PostgresClientRepo) Update(ctx context.Context, client domain.OAuthClient) (domain.OAuthClient, error) {
	row := r.db.QueryRow(ctx, `UPDATE oauth_clients
SET client_name = $3, redirect_uris = $4, grant_types = $5, token_endpoint_auth_method = $6, updated_at = now()
WHERE tenant_id = $1 AND client_id = $2
RETURNING `+clientColumns,
		client.TenantID,
		client.ClientID,
		client.Name,
		client.RedirectURIs,
		client.GrantTypes,
		client.AuthMethod,
	)
	updated, err := scanClient(row)
	if err != nil {
		return domain.OAuthClient{}, fmt.Errorf("update client: %w", mapNoRows(err))
	}
	return updated, nil
}

func (r *PostgresClientRepo) SetStatus(ctx context.Context, tenantID int64, clientID, status string) (domain.OAuthClient, error) {
	row := r.db.QueryRow(ctx, `UPDATE oauth_clients
SET status = $3, updated_at = now()
WHERE tenant_id = $1 AND client_id = $2
RETURNING `+clientColumns, tenantID, clientID, status)
	updated, err := scanClient(row)
	if err != nil {
		return domain.OAuthClient{}, fmt.Errorf("set client status: %w", mapNoRows(err))
	}
	return updated, nil
}

func scanClient(row pgx.Row) (domain.OAuthClient, error) {
	var c domain.OAuthClient
	if err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.ClientID,
		&c.SecretHash,
		&c.Name,
		&c.RedirectURIs,
		&c.GrantTypes,
		&c.AuthMethod,
		&c.Status,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return domain.OAuthClient{}, err
	}
	return c, nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcpgrid/mcpgrid-auth/internal/domain"
)

// PostgresTokenRepo implements TokenRepository.
type PostgresTokenRepo struct {
	db *pgxpool.Pool
}

func NewPostgresTokenRepo(db *pgxpool.Pool) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: db}
}

const tokenColumns = `id, tenant_id, client_id, user_id, access_token, refresh_token, scope, resource,
access_expires_at, refresh_expires_at, revoked_at, created_at`

const insertTokenSQL = `INSERT INTO oauth_tokens
(tenant_id, client_id, user_id, access_token, refresh_token, scope, resource, access_expires_at, refresh_expires_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)
RETURNING ` + tokenColumns

func (r *PostgresTokenRepo) Create(ctx context.Context, token domain.OAuthToken) (domain.OAuthToken, error) {
	row := r.db.QueryRow(ctx, insertTokenSQL,
		token.TenantID,
		token.ClientID,
		token.UserID,
		token.AccessToken,
		token.RefreshToken,
		token.Scope,
		token.Resource,
		token.AccessExpiresAt,
		token.RefreshExpiresAt,
	)
	created, err := scanToken(row)
	if err != nil {
		return domain.OAuthToken{}, fmt.Errorf("insert token: %w", err)
	}
	return created, nil
}

func (r *PostgresTokenRepo) GetByAccessToken(ctx context.Context, tenantID int64, accessToken string) (domain.OAuthToken, error) {
	row := r.db.QueryRow(ctx, `SELECT `+tokenColumns+`
FROM oauth_tokens WHERE tenant_id = $1 AND access_token = $2`, tenantID, accessToken)
	token, err := scanToken(row)
	if err != nil {
		return domain.OAuthToken{}, fmt.Errorf("get token by access token: %w", mapNoRows(err))
	}
	return token, nil
}

func (r *PostgresTokenRepo) GetByRefreshToken(ctx context.Context, tenantID int64, refreshToken string) (domain.OAuthToken, error) {
	row := r.db.QueryRow(ctx, `SELECT `+tokenColumns+`
FROM oauth_tokens WHERE tenant_id = $1 AND refresh_token = $2`, tenantID, refreshToken)
	token, err := scanToken(row)
	if err != nil {
		return domain.OAuthToken{}, fmt.Errorf("get token by refresh token: %w", mapNoRows(err))
	}
	return token, nil
}

func (r *PostgresTokenRepo) Revoke(ctx context.Context, tenantID int64, tokenID int64) error {
	if _, err := r.db.Exec(ctx, `UPDATE oauth_tokens SET revoked_at = now()
WHERE tenant_id = $1 AND id = $2 AND revoked_at IS NULL`, tenantID, tokenID); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// Rotate revokes the prior token row and inserts its replacement inside one
// transaction. The conditional revoke guarantees that two concurrent
// rotations of the same refresh token produce exactly one new token family.
func (r *PostgresTokenRepo) Rotate(ctx context.Context, oldTokenID int64, next domain.OAuthToken) (domain.OAuthToken, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.OAuthToken{}, fmt.Errorf("begin rotation: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `UPDATE oauth_tokens SET revoked_at = now()
WHERE tenant_id = $1 AND id = $2 AND revoked_at IS NULL`, next.TenantID, oldTokenID)
	if err != nil {
		return domain.OAuthToken{}, fmt.Errorf("revoke rotated token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.OAuthToken{}, domain.ErrTokenRevoked
	}

	row := tx.QueryRow(ctx, insertTokenSQL,
		next.TenantID,
		next.ClientID,
		next.UserID,
		next.AccessToken,
		next.RefreshToken,
		next.Scope,
		next.Resource,
		next.AccessExpiresAt,
		next.RefreshExpiresAt,
	)
	created, err := scanToken(row)
	if err != nil {
		return domain.OAuthToken{}, fmt.Errorf("insert rotated token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.OAuthToken{}, fmt.Errorf("commit rotation: %w", err)
	}
	return created, nil
}

func scanToken(row pgx.Row) (domain.OAuthToken, error) {
	var (
		t       domain.OAuthToken
		refresh *string
	)
	if err := row.Scan(
		&t.ID,
		&t.TenantID,
		&t.ClientID,
		&t.UserID,
		&t.AccessToken,
		&refresh,
		&t.Scope,
		&t.Resource,
		&t.AccessExpiresAt,
		&t.RefreshExpiresAt,
		&t.RevokedAt,
		&t.CreatedAt,
	); err != nil {
		return domain.OAuthToken{}, err
	}
	if refresh != nil {
		t.RefreshToken = *refresh
	}
	return t, nil
}

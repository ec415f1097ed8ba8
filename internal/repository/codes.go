package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcpgrid/mcpgrid-auth/internal/domain"
)

// PostgresCodeRepo implements CodeRepository.
type PostgresCodeRepo struct {
	db *pgxpool.Pool
}

func NewPostgresCodeRepo(db *pgxpool.Pool) *PostgresCodeRepo {
	return &PostgresCodeRepo{db: db}
}

func (r *PostgresCodeRepo) Create(ctx context.Context, code domain.OAuthCode) error {
	_, err := r.db.Exec(ctx, `INSERT INTO oauth_codes
(tenant_id, client_id, user_id, code, redirect_uri, scope, state, code_challenge, code_challenge_method, resource, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		code.TenantID,
		code.ClientID,
		code.UserID,
		code.Code,
		code.RedirectURI,
		code.Scope,
		code.State,
		code.CodeChallenge,
		code.CodeChallengeMethod,
		code.Resource,
		code.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert code: %w", err)
	}
	return nil
}

func (r *PostgresCodeRepo) Get(ctx context.Context, tenantID int64, code string) (domain.OAuthCode, error) {
	row := r.db.QueryRow(ctx, `SELECT id, tenant_id, client_id, user_id, code, redirect_uri, scope, state,
code_challenge, code_challenge_method, resource, expires_at, used_at, created_at
FROM oauth_codes WHERE tenant_id = $1 AND code = $2`, tenantID, code)

	c, err := scanCode(row)
	if err != nil {
		return domain.OAuthCode{}, fmt.Errorf("get code: %w", mapNoRows(err))
	}
	return c, nil
}

// Consume sets used_at with a conditional update so that exactly one of any
// number of concurrent redemption attempts succeeds.
func (r *PostgresCodeRepo) Consume(ctx context.Context, tenantID int64, code string) error {
	tag, err := r.db.Exec(ctx, `UPDATE oauth_codes SET used_at = now()
WHERE tenant_id = $1 AND code = $2 AND used_at IS NULL AND expires_at > now()`, tenantID, code)
	if err != nil {
		return fmt.Errorf("consume code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCodeConsumed
	}
	return nil
}

func scanCode(row pgx.Row) (domain.OAuthCode, error) {
	var c domain.OAuthCode
	if err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.ClientID,
		&c.UserID,
		&c.Code,
		&c.RedirectURI,
		&c.Scope,
		&c.State,
		&c.CodeChallenge,
		&c.CodeChallengeMethod,
		&c.Resource,
		&c.ExpiresAt,
		&c.UsedAt,
		&c.CreatedAt,
	); err != nil {
		return domain.OAuthCode{}, err
	}
	return c, nil
}

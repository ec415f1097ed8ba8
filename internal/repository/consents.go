package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcpgrid/mcpgrid-auth/internal/domain"
)

// PostgresConsentRepo implements ConsentRepository.
type PostgresConsentRepo struct {
	db *pgxpool.Pool
}

func NewPostgresConsentRepo(db *pgxpool.Pool) *PostgresConsentRepo {
	return &PostgresConsentRepo{db: db}
}

const consentColumns = `id, tenant_id, user_id, client_id, scope, granted, expires_at, created_at, updated_at`

func (r *PostgresConsentRepo) Get(ctx context.Context, tenantID, userID int64, clientID string) (domain.Consent, error) {
	row := r.db.QueryRow(ctx, `SELECT `+consentColumns+`
FROM consents WHERE tenant_id = $1 AND user_id = $2 AND client_id = $3`, tenantID, userID, clientID)
	consent, err := scanConsent(row)
	if err != nil {
		return domain.Consent{}, fmt.Errorf("get consent: %w", mapNoRows(err))
	}
	return consent, nil
}

// Upsert keeps one active row per (tenant, user, client); a re-consent
// overwrites the previous decision.
func (r *PostgresConsentRepo) Upsert(ctx context.Context, consent domain.Consent) (domain.Consent, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO consents (tenant_id, user_id, client_id, scope, granted, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (tenant_id, user_id, client_id) DO UPDATE SET
	scope = EXCLUDED.scope,
	granted = EXCLUDED.granted,
	expires_at = EXCLUDED.expires_at,
	updated_at = now()
RETURNING `+consentColumns,
		consent.TenantID,
		consent.UserID,
		consent.ClientID,
		consent.Scope,
		consent.Granted,
		consent.ExpiresAt,
	)
	saved, err := scanConsent(row)
	if err != nil {
		return domain.Consent{}, fmt.Errorf("upsert consent: %w", err)
	}
	return saved, nil
}

func (r *PostgresConsentRepo) Delete(ctx context.Context, tenantID, userID int64, clientID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM consents
WHERE tenant_id = $1 AND user_id = $2 AND client_id = $3`, tenantID, userID, clientID); err != nil {
		return fmt.Errorf("delete consent: %w", err)
	}
	return nil
}

func scanConsent(row pgx.Row) (domain.Consent, error) {
	var c domain.Consent
	if err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.UserID,
		&c.ClientID,
		&c.Scope,
		&c.Granted,
		&c.ExpiresAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return domain.Consent{}, err
	}
	return c, nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcpgrid/mcpgrid-auth/internal/domain"
)

// PostgresUserRepo implements UserRepository.
type PostgresUserRepo struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepo(db *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, tenant_id, email, email_verified, password_hash, name, avatar_url, created_at, updated_at`

func (r *PostgresUserRepo) GetByID(ctx context.Context, tenantID, userID int64) (domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+`
FROM users WHERE tenant_id = $1 AND id = $2`, tenantID, userID)
	user, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user by id: %w", mapNoRows(err))
	}
	return user, nil
}

func (r *PostgresUserRepo) GetByEmail(ctx context.Context, tenantID int64, email string) (domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+`
FROM users WHERE tenant_id = $1 AND email = $2`, tenantID, email)
	user, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user by email: %w", mapNoRows(err))
	}
	return user, nil
}

func (r *PostgresUserRepo) GetByIdentity(ctx context.Context, tenantID int64, provider, subject string) (domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+prefixedUserColumns("u")+`
FROM users u
JOIN user_identities i ON i.user_id = u.id AND i.tenant_id = u.tenant_id
WHERE i.tenant_id = $1 AND i.provider = $2 AND i.subject = $3`, tenantID, provider, subject)
	user, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user by identity: %w", mapNoRows(err))
	}
	return user, nil
}

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO users (tenant_id, email, email_verified, password_hash, name, avatar_url)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+userColumns,
		user.TenantID,
		user.Email,
		user.EmailVerified,
		user.PasswordHash,
		user.Name,
		user.AvatarURL,
	)
	created, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, user domain.User) error {
	if _, err := r.db.Exec(ctx, `UPDATE users
SET name = $3, avatar_url = $4, email_verified = $5, updated_at = now()
WHERE tenant_id = $1 AND id = $2`,
		user.TenantID, user.ID, user.Name, user.AvatarURL, user.EmailVerified); err != nil {
		return fmt.Errorf("update user profile: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) LinkIdentity(ctx context.Context, identity domain.UserIdentity) error {
	if _, err := r.db.Exec(ctx, `INSERT INTO user_identities (tenant_id, user_id, provider, subject)
VALUES ($1, $2, $3, $4)
ON CONFLICT (tenant_id, provider, subject) DO NOTHING`,
		identity.TenantID, identity.UserID, identity.Provider, identity.Subject); err != nil {
		return fmt.Errorf("link identity: %w", err)
	}
	return nil
}

func prefixedUserColumns(alias string) string {
	return alias + `.id, ` + alias + `.tenant_id, ` + alias + `.email, ` + alias + `.email_verified, ` +
		alias + `.password_hash, ` + alias + `.name, ` + alias + `.avatar_url, ` + alias + `.created_at, ` + alias + `.updated_at`
}

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	if err := row.Scan(
		&u.ID,
		&u.TenantID,
		&u.Email,
		&u.EmailVerified,
		&u.PasswordHash,
		&u.Name,
		&u.AvatarURL,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

package repository

import (
	"context"

	"github.com/mcpgrid/mcpgrid-auth/internal/domain"
)

// TenantRepository loads tenant issuer configuration.
type TenantRepository interface {
	GetBySlug(ctx context.Context, slug string) (domain.Tenant, error)
	GetByID(ctx context.Context, tenantID int64) (domain.Tenant, error)
}

// ClientRepository stores dynamically registered OAuth clients.
type ClientRepository interface {
	Create(ctx context.Context, client domain.OAuthClient) (domain.OAuthClient, error)
	Get(ctx context.Context, tenantID int64, clientID string) (domain.OAuthClient, error)
	Update(ctx context.Context, client domain.OAuthClient) (domain.OAuthClient, error)
	SetStatus(ctx context.Context, tenantID int64, clientID, status string) (domain.OAuthClient, error)
}

// UserRepository stores tenant end users and their upstream identities.
type UserRepository interface {
	GetByID(ctx context.Context, tenantID, userID int64) (domain.User, error)
	GetByEmail(ctx context.Context, tenantID int64, email string) (domain.User, error)
	GetByIdentity(ctx context.Context, tenantID int64, provider, subject string) (domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
	UpdateProfile(ctx context.Context, user domain.User) error
	LinkIdentity(ctx context.Context, identity domain.UserIdentity) error
}

// CodeRepository stores single-use authorization codes.
type CodeRepository interface {
	Create(ctx context.Context, code domain.OAuthCode) error
	Get(ctx context.Context, tenantID int64, code string) (domain.OAuthCode, error)
	// Consume marks a code used. It succeeds for exactly one caller per code:
	// a consumed or expired code yields domain.ErrCodeConsumed.
	Consume(ctx context.Context, tenantID int64, code string) error
}

// TokenRepository stores opaque access/refresh token pairs.
type TokenRepository interface {
	Create(ctx context.Context, token domain.OAuthToken) (domain.OAuthToken, error)
	GetByAccessToken(ctx context.Context, tenantID int64, accessToken string) (domain.OAuthToken, error)
	GetByRefreshToken(ctx context.Context, tenantID int64, refreshToken string) (domain.OAuthToken, error)
	Revoke(ctx context.Context, tenantID int64, tokenID int64) error
	// Rotate revokes the old token row and inserts the replacement in one
	// transaction. When the old row was already revoked it returns
	// domain.ErrTokenRevoked and inserts nothing.
	Rotate(ctx context.Context, oldTokenID int64, next domain.OAuthToken) (domain.OAuthToken, error)
}

// ConsentRepository stores per-(tenant, user, client) scope grants.
type ConsentRepository interface {
	Get(ctx context.Context, tenantID, userID int64, clientID string) (domain.Consent, error)
	Upsert(ctx context.Context, consent domain.Consent) (domain.Consent, error)
	Delete(ctx context.Context, tenantID, userID int64, clientID string) error
}

// KeyRepository stores per-tenant session signing keys.
type KeyRepository interface {
	GetActive(ctx context.Context, tenantID int64) (domain.SessionKey, error)
	Create(ctx context.Context, key domain.SessionKey) (domain.SessionKey, error)
}

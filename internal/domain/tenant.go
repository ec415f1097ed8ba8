package domain

import "time"

// Tenant is an isolated OAuth issuer configuration. Every other entity in the
// system hangs off a tenant and must never be visible across tenant
// boundaries.
type Tenant struct {
	ID              int64
	Slug            string
	Name            string
	IssuerURL       string
	SupportedScopes []string
	DefaultScope    string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Enabled         bool
	AuthMethods     []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SupportsScope reports whether a single scope value is part of the tenant's
// supported scope set.
func (t Tenant) SupportsScope(scope string) bool {
	for _, s := range t.SupportedScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// SessionKey is a per-tenant HMAC signing key for end-user login sessions.
// OAuth access and refresh tokens are opaque and never signed with these.
type SessionKey struct {
	ID        int64
	TenantID  int64
	KID       string
	Secret    []byte
	Algorithm string
	Active    bool
	CreatedAt time.Time
	RotatedAt *time.Time
}

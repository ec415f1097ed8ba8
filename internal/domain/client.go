package domain

import "time"

// Token endpoint authentication methods accepted at registration time.
const (
	AuthMethodBasic = "client_secret_basic"
	AuthMethodPost  = "client_secret_post"
	AuthMethodNone  = "none"
)

// Grant types a registered client may be allowed to use.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
)

// Client statuses. Clients are never hard-deleted; revocation flips the
// status so historical codes and tokens keep their referential integrity
// while failing every subsequent validation.
const (
	ClientStatusActive   = "active"
	ClientStatusDisabled = "disabled"
)

// OAuthClient is a dynamically registered OAuth client scoped to one tenant.
// SecretHash holds a bcrypt hash of the client secret; the plaintext secret
// exists only in the registration response.
type OAuthClient struct {
	ID           int64
	TenantID     int64
	ClientID     string
	SecretHash   string
	Name         string
	RedirectURIs []string
	GrantTypes   []string
	AuthMethod   string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Public reports whether the client authenticates with no credentials.
func (c OAuthClient) Public() bool {
	return c.AuthMethod == AuthMethodNone
}

// Active reports whether the client may still be used in any flow.
func (c OAuthClient) Active() bool {
	return c.Status == ClientStatusActive
}

// SupportsGrant reports whether the client registered for a grant type.
func (c OAuthClient) SupportsGrant(grant string) bool {
	for _, g := range c.GrantTypes {
		if g == grant {
			return true
		}
	}
	return false
}

// HasRedirectURI requires an exact string match against the registered set;
// prefix or pattern matching is deliberately not supported.
func (c OAuthClient) HasRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

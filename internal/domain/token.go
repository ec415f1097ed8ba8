package domain

import "time"

// OAuthCode is a single-use authorization code bound to a PKCE challenge.
// used_at is set exactly once via a conditional update; two concurrent
// redemptions see exactly one winner.
type OAuthCode struct {
	ID                  int64
	TenantID            int64
	ClientID            string
	UserID              int64
	Code                string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Resource            string
	ExpiresAt           time.Time
	UsedAt              *time.Time
	CreatedAt           time.Time
}

// Expired reports whether the code is past its expiry at the given instant.
func (c OAuthCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// OAuthToken is an opaque access/refresh token pair. Rows are immutable after
// insert except for revoked_at; refresh rotation inserts a new row and
// revokes the old one in the same transaction.
type OAuthToken struct {
	ID               int64
	TenantID         int64
	ClientID         string
	UserID           *int64
	AccessToken      string
	RefreshToken     string
	Scope            string
	Resource         string
	AccessExpiresAt  time.Time
	RefreshExpiresAt *time.Time
	RevokedAt        *time.Time
	CreatedAt        time.Time
}

// AccessValid reports whether the access token is usable at the given
// instant.
func (t OAuthToken) AccessValid(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.AccessExpiresAt)
}

// RefreshValid reports whether the refresh token is usable at the given
// instant.
func (t OAuthToken) RefreshValid(now time.Time) bool {
	if t.RefreshToken == "" || t.RevokedAt != nil {
		return false
	}
	return t.RefreshExpiresAt == nil || now.Before(*t.RefreshExpiresAt)
}

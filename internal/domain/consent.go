package domain

import (
	"strings"
	"time"
)

// Consent records a user's decision to grant a client a set of scopes within
// one tenant. One active row per (tenant, user, client); re-consent
// overwrites. A nil expiry means the grant holds until explicitly revoked.
type Consent struct {
	ID        int64
	TenantID  int64
	UserID    int64
	ClientID  string
	Scope     string
	Granted   bool
	ExpiresAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Covers reports whether this consent is still in force and the requested
// scope is a subset of what was granted.
func (c Consent) Covers(requestedScope string, now time.Time) bool {
	if !c.Granted {
		return false
	}
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return false
	}
	granted := make(map[string]struct{})
	for _, s := range strings.Fields(c.Scope) {
		granted[s] = struct{}{}
	}
	for _, s := range strings.Fields(requestedScope) {
		if _, ok := granted[s]; !ok {
			return false
		}
	}
	return true
}

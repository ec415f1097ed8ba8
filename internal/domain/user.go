package domain

import "time"

// User is an end user of a tenant's protected resources, distinct from
// dashboard operators. Users may carry a password hash, upstream identities,
// or both.
type User struct {
	ID            int64
	TenantID      int64
	Email         string
	EmailVerified bool
	PasswordHash  string
	Name          string
	AvatarURL     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UserIdentity links a user to an upstream identity provider subject.
// (tenant, provider, subject) is unique.
type UserIdentity struct {
	ID        int64
	TenantID  int64
	UserID    int64
	Provider  string
	Subject   string
	CreatedAt time.Time
}

package domain

import "errors"

// Sentinel errors shared by repositories and services. Handlers translate
// these into RFC 6749 error responses.
var (
	ErrNotFound        = errors.New("not found")
	ErrTenantDisabled  = errors.New("tenant disabled")
	ErrClientDisabled  = errors.New("client disabled")
	ErrCodeConsumed    = errors.New("authorization code already used")
	ErrTokenRevoked    = errors.New("token revoked")
	ErrInvalidMetadata = errors.New("invalid client metadata")
)

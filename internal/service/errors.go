package service

import "net/http"

// RFC 6749 / 7591 error codes used across the OAuth endpoints.
const (
	ErrCodeInvalidRequest          = "invalid_request"
	ErrCodeInvalidGrant            = "invalid_grant"
	ErrCodeInvalidClient           = "invalid_client"
	ErrCodeInvalidScope            = "invalid_scope"
	ErrCodeUnauthorizedClient      = "unauthorized_client"
	ErrCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrCodeUnsupportedResponseType = "unsupported_response_type"
	ErrCodeAccessDenied            = "access_denied"
	ErrCodeInvalidClientMetadata   = "invalid_client_metadata"
	ErrCodeServerError             = "server_error"
)

// OAuthError carries an RFC 6749 error code plus the HTTP status the
// endpoint should answer with.
type OAuthError struct {
	Code        string
	Description string
	Status      int
}

func (e *OAuthError) Error() string {
	return e.Code + ": " + e.Description
}

func newOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{Code: code, Description: description, Status: status}
}

func errInvalidRequest(description string) *OAuthError {
	return newOAuthError(ErrCodeInvalidRequest, description, http.StatusBadRequest)
}

func errInvalidGrant(description string) *OAuthError {
	return newOAuthError(ErrCodeInvalidGrant, description, http.StatusBadRequest)
}

func errInvalidClient(description string) *OAuthError {
	return newOAuthError(ErrCodeInvalidClient, description, http.StatusUnauthorized)
}

func errInvalidScope(description string) *OAuthError {
	return newOAuthError(ErrCodeInvalidScope, description, http.StatusBadRequest)
}

func errUnauthorizedClient(description string) *OAuthError {
	return newOAuthError(ErrCodeUnauthorizedClient, description, http.StatusBadRequest)
}

func errInvalidClientMetadata(description string) *OAuthError {
	return newOAuthError(ErrCodeInvalidClientMetadata, description, http.StatusBadRequest)
}

func errServerError(description string) *OAuthError {
	return newOAuthError(ErrCodeServerError, description, http.StatusInternalServerError)
}

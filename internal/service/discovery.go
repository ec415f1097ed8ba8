package service

import (
	"github.com/mcpgrid/mcpgrid-auth/internal/domain"
)

// ServerMetadata is the RFC 8414 authorization server metadata document.
type ServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	ResourceIndicatorsSupported       bool     `json:"resource_indicators_supported"`
}

// ResourceMetadata is the RFC 9728 protected resource metadata document.
type ResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	ScopesSupported        []string `json:"scopes_supported"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
}

// DiscoveryService renders per-tenant discovery documents.
type DiscoveryService struct{}

// NewDiscoveryService creates the discovery service.
func NewDiscoveryService() *DiscoveryService {
	return &DiscoveryService{}
}

// ServerMetadata builds the RFC 8414 document for a tenant issuer.
func (s *DiscoveryService) ServerMetadata(tenant domain.Tenant, issuer string) *ServerMetadata {
	authMethods := tenant.AuthMethods
	if len(authMethods) == 0 {
		authMethods = []string{domain.AuthMethodBasic, domain.AuthMethodPost, domain.AuthMethodNone}
	}
	return &ServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + "/oauth/authorize",
		TokenEndpoint:                     issuer + "/oauth/token",
		RegistrationEndpoint:              issuer + "/oauth/register",
		IntrospectionEndpoint:             issuer + "/oauth/introspect",
		RevocationEndpoint:                issuer + "/oauth/revoke",
		ScopesSupported:                   tenant.SupportedScopes,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{domain.GrantAuthorizationCode, domain.GrantRefreshToken},
		TokenEndpointAuthMethodsSupported: authMethods,
		CodeChallengeMethodsSupported:     []string{"S256"},
		ResourceIndicatorsSupported:       true,
	}
}

// ResourceMetadata builds the RFC 9728 document pointing resource servers at
// the tenant issuer.
func (s *DiscoveryService) ResourceMetadata(tenant domain.Tenant, issuer string) *ResourceMetadata {
	return &ResourceMetadata{
		Resource:               issuer,
		AuthorizationServers:   []string{issuer},
		ScopesSupported:        tenant.SupportedScopes,
		BearerMethodsSupported: []string{"header"},
	}
}

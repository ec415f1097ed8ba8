package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mcpgrid/mcpgrid-auth/internal/config"
	"github.com/mcpgrid/mcpgrid-auth/internal/domain"
	"github.com/mcpgrid/mcpgrid-auth/internal/repository"
)

// RegistrationRequest carries RFC 7591 client metadata. The same shape is
// used for updates, where zero-valued fields keep their current value.
type RegistrationRequest struct {
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// ClientResponse is the RFC 7591-shaped client object. ClientSecret is set
// only in the response to the registration call itself.
type ClientResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// RegistryService implements dynamic client registration and management.
type RegistryService struct {
	clients repository.ClientRepository
	cfg     config.Config
	logger  *zap.Logger
}

// NewRegistryService wires the client registry.
func NewRegistryService(clients repository.ClientRepository, cfg config.Config, logger *zap.Logger) *RegistryService {
	return &RegistryService{clients: clients, cfg: cfg, logger: logger}
}

var knownGrantTypes = map[string]struct{}{
	domain.GrantAuthorizationCode: {},
	domain.GrantRefreshToken:      {},
	domain.GrantClientCredentials: {},
}

var knownAuthMethods = map[string]struct{}{
	domain.AuthMethodBasic: {},
	domain.AuthMethodPost:  {},
	domain.AuthMethodNone:  {},
}

// Register validates the metadata, generates credentials, and stores the
// client under the tenant. The plaintext secret is returned exactly once.
func (s *RegistryService) Register(ctx context.Context, tenant domain.Tenant, req RegistrationRequest) (*ClientResponse, error) {
	ctx, span := startSpan(ctx, "RegistryService.Register")
	defer span.End()

	name := strings.TrimSpace(req.ClientName)
	if name == "" {
		return nil, errInvalidClientMetadata("client_name is required.")
	}

	if err := s.validateRedirectURIs(req.RedirectURIs); err != nil {
		return nil, err
	}

	grants := req.GrantTypes
	if len(grants) == 0 {
		grants = []string{domain.GrantAuthorizationCode, domain.GrantRefreshToken}
	}
	for _, g := range grants {
		if _, ok := knownGrantTypes[g]; !ok {
			return nil, errInvalidClientMetadata(fmt.Sprintf("Unsupported grant type %q.", g))
		}
	}

	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = domain.AuthMethodBasic
	}
	if _, ok := knownAuthMethods[authMethod]; !ok {
		return nil, errInvalidClientMetadata(fmt.Sprintf("Unsupported token_endpoint_auth_method %q.", authMethod))
	}

	client := domain.OAuthClient{
		TenantID:     tenant.ID,
		ClientID:     "mcp_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Name:         name,
		RedirectURIs: req.RedirectURIs,
		GrantTypes:   grants,
		AuthMethod:   authMethod,
		Status:       domain.ClientStatusActive,
	}

	var secret string
	if authMethod != domain.AuthMethodNone {
		var err error
		secret, err = secureRandomString(32)
		if err != nil {
			return nil, fmt.Errorf("generate client secret: %w", err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash client secret: %w", err)
		}
		client.SecretHash = string(hash)
	}

	created, err := s.clients.Create(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("store client: %w", err)
	}

	s.log().Info("client registered",
		zap.Int64("tenant_id", tenant.ID),
		zap.String("client_id", created.ClientID),
		zap.String("auth_method", created.AuthMethod),
	)

	resp := clientResponse(created)
	resp.ClientSecret = secret
	return resp, nil
}

// Get returns client metadata without the secret.
func (s *RegistryService) Get(ctx context.Context, tenantID int64, clientID string) (*ClientResponse, error) {
	ctx, span := startSpan(ctx, "RegistryService.Get")
	defer span.End()

	client, err := s.clients.Get(ctx, tenantID, clientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load client: %w", err)
	}
	return clientResponse(client), nil
}

// Update mutates client-owned metadata. Credentials are never rotated here.
func (s *RegistryService) Update(ctx context.Context, tenantID int64, clientID string, req RegistrationRequest) (*ClientResponse, error) {
	ctx, span := startSpan(ctx, "RegistryService.Update")
	defer span.End()

	client, err := s.clients.Get(ctx, tenantID, clientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load client: %w", err)
	}

	if name := strings.TrimSpace(req.ClientName); name != "" {
		client.Name = name
	}
	if len(req.RedirectURIs) > 0 {
		if err := s.validateRedirectURIs(req.RedirectURIs); err != nil {
			return nil, err
		}
		client.RedirectURIs = req.RedirectURIs
	}
	if len(req.GrantTypes) > 0 {
		for _, g := range req.GrantTypes {
			if _, ok := knownGrantTypes[g]; !ok {
				return nil, errInvalidClientMetadata(fmt.Sprintf("Unsupported grant type %q.", g))
			}
		}
		client.GrantTypes = req.GrantTypes
	}

	updated, err := s.clients.Update(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("update client: %w", err)
	}
	return clientResponse(updated), nil
}

// Revoke disables the client. Historical codes and tokens stay in place and
// fail later validation through the status check.
func (s *RegistryService) Revoke(ctx context.Context, tenantID int64, clientID string) (*ClientResponse, error) {
	ctx, span := startSpan(ctx, "RegistryService.Revoke")
	defer span.End()

	client, err := s.clients.SetStatus(ctx, tenantID, clientID, domain.ClientStatusDisabled)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("disable client: %w", err)
	}

	s.log().Info("client disabled", zap.Int64("tenant_id", tenantID), zap.String("client_id", clientID))
	return clientResponse(client), nil
}

func (s *RegistryService) validateRedirectURIs(uris []string) error {
	if len(uris) == 0 {
		return errInvalidClientMetadata("At least one redirect_uri is required.")
	}
	for _, raw := range uris {
		parsed, err := url.Parse(raw)
		if err != nil || !parsed.IsAbs() || parsed.Host == "" {
			return errInvalidClientMetadata(fmt.Sprintf("redirect_uri %q must be an absolute URL.", raw))
		}
		if parsed.Fragment != "" {
			return errInvalidClientMetadata(fmt.Sprintf("redirect_uri %q must not contain a fragment.", raw))
		}
		switch parsed.Scheme {
		case "https":
		case "http":
			if s.cfg.Production() && !isLoopback(parsed.Hostname()) {
				return errInvalidClientMetadata(fmt.Sprintf("redirect_uri %q must use https.", raw))
			}
		default:
			return errInvalidClientMetadata(fmt.Sprintf("redirect_uri %q has an unsupported scheme.", raw))
		}
	}
	return nil
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

func clientResponse(client domain.OAuthClient) *ClientResponse {
	return &ClientResponse{
		ClientID:                client.ClientID,
		ClientIDIssuedAt:        client.CreatedAt.Unix(),
		ClientName:              client.Name,
		RedirectURIs:            client.RedirectURIs,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: client.AuthMethod,
	}
}

func (s *RegistryService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}

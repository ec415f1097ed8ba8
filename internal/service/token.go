package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mcpgrid/mcpgrid-auth/internal/config"
	"github.com/mcpgrid/mcpgrid-auth/internal/domain"
	"github.com/mcpgrid/mcpgrid-auth/internal/repository"
)

// TokenRequest is the parsed form body of POST /oauth/token. Client
// credentials may arrive here (client_secret_post) or via the Authorization
// header; the handler merges both into ClientID/ClientSecret before calling
// Exchange.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	Scope        string
	Resource     string
	ClientID     string
	ClientSecret string
	// BasicAuth is true when credentials came from the Authorization header.
	BasicAuth bool
}

// TokenResponse is the RFC 6749 token endpoint success body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
	// Audience echoes the RFC 8707 resource indicator the token was bound to.
	Audience string `json:"audience,omitempty"`
}

// TokenService implements the token, revocation, and rotation semantics.
type TokenService struct {
	clients repository.ClientRepository
	codes   repository.CodeRepository
	tokens  repository.TokenRepository
	cfg     config.Config
	logger  *zap.Logger
	now     func() time.Time
}

// NewTokenService wires the token engine.
func NewTokenService(
	clients repository.ClientRepository,
	codes repository.CodeRepository,
	tokens repository.TokenRepository,
	cfg config.Config,
	logger *zap.Logger,
) *TokenService {
	return &TokenService{
		clients: clients,
		codes:   codes,
		tokens:  tokens,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Exchange dispatches a token request on grant_type.
func (s *TokenService) Exchange(ctx context.Context, tenant domain.Tenant, req TokenRequest) (*TokenResponse, error) {
	ctx, span := startSpan(ctx, "TokenService.Exchange")
	defer span.End()

	client, err := s.authenticateClient(ctx, tenant, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	switch req.GrantType {
	case domain.GrantAuthorizationCode:
		return s.exchangeCode(ctx, tenant, client, req)
	case domain.GrantRefreshToken:
		return s.refresh(ctx, tenant, client, req)
	case domain.GrantClientCredentials:
		return s.clientCredentials(ctx, tenant, client, req)
	case "":
		return nil, errInvalidRequest("grant_type is required.")
	default:
		return nil, newOAuthError(ErrCodeUnsupportedGrantType, fmt.Sprintf("Grant type %q is not supported.", req.GrantType), http.StatusBadRequest)
	}
}

// AuthenticateClient verifies caller credentials for protocol endpoints that
// require client authentication outside a grant exchange, such as
// introspection.
func (s *TokenService) AuthenticateClient(ctx context.Context, tenant domain.Tenant, req TokenRequest) (domain.OAuthClient, error) {
	ctx, span := startSpan(ctx, "TokenService.AuthenticateClient")
	defer span.End()

	return s.authenticateClient(ctx, tenant, req)
}

// authenticateClient verifies the client's identity without revealing which
// factor failed. Public clients present only a client_id.
func (s *TokenService) authenticateClient(ctx context.Context, tenant domain.Tenant, req TokenRequest) (domain.OAuthClient, error) {
	if req.ClientID == "" {
		return domain.OAuthClient{}, errInvalidClient("Client authentication failed.")
	}

	client, err := s.clients.Get(ctx, tenant.ID, req.ClientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.OAuthClient{}, errInvalidClient("Client authentication failed.")
		}
		return domain.OAuthClient{}, fmt.Errorf("load client: %w", err)
	}
	if !client.Active() {
		return domain.OAuthClient{}, errInvalidClient("Client authentication failed.")
	}

	if client.Public() {
		if req.ClientSecret != "" {
			return domain.OAuthClient{}, errInvalidClient("Client authentication failed.")
		}
		return client, nil
	}

	switch client.AuthMethod {
	case domain.AuthMethodBasic:
		if !req.BasicAuth {
			return domain.OAuthClient{}, errInvalidClient("Client authentication failed.")
		}
	case domain.AuthMethodPost:
		if req.BasicAuth {
			return domain.OAuthClient{}, errInvalidClient("Client authentication failed.")
		}
	}
	if req.ClientSecret == "" {
		return domain.OAuthClient{}, errInvalidClient("Client authentication failed.")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(req.ClientSecret)); err != nil {
		return domain.OAuthClient{}, errInvalidClient("Client authentication failed.")
	}
	return client, nil
}

// exchangeCode redeems an authorization code. The PKCE verifier and binding
// checks run before consumption so a failed attempt leaves the code
// redeemable, while two concurrent valid redemptions still see exactly one
// winner.
func (s *TokenService) exchangeCode(ctx context.Context, tenant domain.Tenant, client domain.OAuthClient, req TokenRequest) (*TokenResponse, error) {
	if !client.SupportsGrant(domain.GrantAuthorizationCode) {
		return nil, errUnauthorizedClient("Client is not allowed to use the authorization code grant.")
	}
	if req.Code == "" {
		return nil, errInvalidRequest("code is required.")
	}
	if req.CodeVerifier == "" {
		return nil, errInvalidRequest("code_verifier is required.")
	}

	code, err := s.codes.Get(ctx, tenant.ID, req.Code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, errInvalidGrant("Authorization code is invalid.")
		}
		return nil, fmt.Errorf("load code: %w", err)
	}

	if code.ClientID != client.ClientID {
		return nil, errInvalidGrant("Authorization code was issued to another client.")
	}
	if code.UsedAt != nil || code.Expired(s.now()) {
		return nil, errInvalidGrant("Authorization code is expired or already used.")
	}
	if req.RedirectURI == "" || subtle.ConstantTimeCompare([]byte(req.RedirectURI), []byte(code.RedirectURI)) != 1 {
		return nil, errInvalidGrant("redirect_uri does not match the authorization request.")
	}
	if pkceChallenge(req.CodeVerifier) != code.CodeChallenge {
		return nil, errInvalidGrant("PKCE verification failed.")
	}

	if err := s.codes.Consume(ctx, tenant.ID, code.Code); err != nil {
		if errors.Is(err, domain.ErrCodeConsumed) {
			return nil, errInvalidGrant("Authorization code is expired or already used.")
		}
		return nil, fmt.Errorf("consume code: %w", err)
	}

	token, err := s.mint(ctx, tenant, mintParams{
		clientID:     client.ClientID,
		userID:       &code.UserID,
		scope:        code.Scope,
		resource:     code.Resource,
		withRefresh:  client.SupportsGrant(domain.GrantRefreshToken),
		rotateFromID: 0,
	})
	if err != nil {
		return nil, err
	}

	s.log().Info("authorization code exchanged",
		zap.Int64("tenant_id", tenant.ID),
		zap.String("client_id", client.ClientID),
		zap.Int64("user_id", code.UserID),
	)
	return s.response(tenant, token), nil
}

// refresh rotates a refresh token. Rotation is atomic: the presented token
// is revoked and the replacement inserted in one transaction, so a replayed
// refresh token always loses.
func (s *TokenService) refresh(ctx context.Context, tenant domain.Tenant, client domain.OAuthClient, req TokenRequest) (*TokenResponse, error) {
	if !client.SupportsGrant(domain.GrantRefreshToken) {
		return nil, errUnauthorizedClient("Client is not allowed to use the refresh token grant.")
	}
	if req.RefreshToken == "" {
		return nil, errInvalidRequest("refresh_token is required.")
	}

	old, err := s.tokens.GetByRefreshToken(ctx, tenant.ID, req.RefreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, errInvalidGrant("Refresh token is invalid.")
		}
		return nil, fmt.Errorf("load refresh token: %w", err)
	}
	if old.ClientID != client.ClientID {
		return nil, errInvalidGrant("Refresh token was issued to another client.")
	}
	if !old.RefreshValid(s.now()) {
		return nil, errInvalidGrant("Refresh token is expired or revoked.")
	}

	scope := old.Scope
	if req.Scope != "" {
		if !scopeSubset(req.Scope, old.Scope) {
			return nil, errInvalidScope("Requested scope exceeds the original grant.")
		}
		scope = req.Scope
	}

	token, err := s.mint(ctx, tenant, mintParams{
		clientID:     client.ClientID,
		userID:       old.UserID,
		scope:        scope,
		resource:     old.Resource,
		withRefresh:  true,
		rotateFromID: old.ID,
	})
	if err != nil {
		if errors.Is(err, domain.ErrTokenRevoked) {
			return nil, errInvalidGrant("Refresh token is expired or revoked.")
		}
		return nil, err
	}

	s.log().Info("refresh token rotated",
		zap.Int64("tenant_id", tenant.ID),
		zap.String("client_id", client.ClientID),
	)
	return s.response(tenant, token), nil
}

// clientCredentials issues a machine token with no user and no refresh
// token.
func (s *TokenService) clientCredentials(ctx context.Context, tenant domain.Tenant, client domain.OAuthClient, req TokenRequest) (*TokenResponse, error) {
	if client.Public() {
		return nil, errUnauthorizedClient("Public clients may not use the client credentials grant.")
	}
	if !client.SupportsGrant(domain.GrantClientCredentials) {
		return nil, errUnauthorizedClient("Client is not allowed to use the client credentials grant.")
	}

	scope := tenant.DefaultScope
	if req.Scope != "" {
		for _, sc := range scopeFields(req.Scope) {
			if !tenant.SupportsScope(sc) {
				return nil, errInvalidScope(fmt.Sprintf("Scope %q is not supported.", sc))
			}
		}
		scope = req.Scope
	}

	token, err := s.mint(ctx, tenant, mintParams{
		clientID:    client.ClientID,
		scope:       scope,
		resource:    req.Resource,
		withRefresh: false,
	})
	if err != nil {
		return nil, err
	}

	s.log().Info("client credentials token issued",
		zap.Int64("tenant_id", tenant.ID),
		zap.String("client_id", client.ClientID),
	)
	return s.response(tenant, token), nil
}

type mintParams struct {
	clientID     string
	userID       *int64
	scope        string
	resource     string
	withRefresh  bool
	rotateFromID int64
}

func (s *TokenService) mint(ctx context.Context, tenant domain.Tenant, p mintParams) (domain.OAuthToken, error) {
	access, err := secureRandomString(s.cfg.TokenBytes)
	if err != nil {
		return domain.OAuthToken{}, fmt.Errorf("generate access token: %w", err)
	}

	now := s.now()
	token := domain.OAuthToken{
		TenantID:        tenant.ID,
		ClientID:        p.clientID,
		UserID:          p.userID,
		AccessToken:     accessTokenPrefix + access,
		Scope:           p.scope,
		Resource:        p.resource,
		AccessExpiresAt: now.Add(s.accessTTL(tenant)),
	}

	if p.withRefresh {
		refresh, err := secureRandomString(s.cfg.TokenBytes)
		if err != nil {
			return domain.OAuthToken{}, fmt.Errorf("generate refresh token: %w", err)
		}
		token.RefreshToken = refreshTokenPrefix + refresh
		exp := now.Add(s.refreshTTL(tenant))
		token.RefreshExpiresAt = &exp
	}

	if p.rotateFromID != 0 {
		rotated, err := s.tokens.Rotate(ctx, p.rotateFromID, token)
		if err != nil {
			if errors.Is(err, domain.ErrTokenRevoked) {
				return domain.OAuthToken{}, err
			}
			return domain.OAuthToken{}, fmt.Errorf("rotate token: %w", err)
		}
		return rotated, nil
	}

	created, err := s.tokens.Create(ctx, token)
	if err != nil {
		return domain.OAuthToken{}, fmt.Errorf("store token: %w", err)
	}
	return created, nil
}

// Revoke implements RFC 7009: it succeeds whether or not the token exists,
// and revoking an access token also ends its refresh token and vice versa
// because both live on one row.
func (s *TokenService) Revoke(ctx context.Context, tenant domain.Tenant, req TokenRequest, token, hint string) error {
	ctx, span := startSpan(ctx, "TokenService.Revoke")
	defer span.End()

	client, err := s.authenticateClient(ctx, tenant, req)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if token == "" {
		return nil
	}

	row, ok := s.lookup(ctx, tenant.ID, token, hint)
	if !ok {
		return nil
	}
	// A client may only revoke its own tokens; foreign tokens are treated as
	// unknown.
	if row.ClientID != client.ClientID {
		return nil
	}
	if row.RevokedAt != nil {
		return nil
	}

	if err := s.tokens.Revoke(ctx, tenant.ID, row.ID); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	s.log().Info("token revoked",
		zap.Int64("tenant_id", tenant.ID),
		zap.String("client_id", client.ClientID),
	)
	return nil
}

// lookup resolves a presented token string to its row, honoring the RFC 7009
// token_type_hint but falling back to the other interpretation.
func (s *TokenService) lookup(ctx context.Context, tenantID int64, token, hint string) (domain.OAuthToken, bool) {
	order := []func(context.Context, int64, string) (domain.OAuthToken, error){
		s.tokens.GetByAccessToken,
		s.tokens.GetByRefreshToken,
	}
	if hint == "refresh_token" {
		order[0], order[1] = order[1], order[0]
	}
	for _, get := range order {
		row, err := get(ctx, tenantID, token)
		if err == nil {
			return row, true
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.log().Warn("token lookup failed", zap.Error(err))
			return domain.OAuthToken{}, false
		}
	}
	return domain.OAuthToken{}, false
}

func (s *TokenService) accessTTL(tenant domain.Tenant) time.Duration {
	if tenant.AccessTokenTTL > 0 {
		return tenant.AccessTokenTTL
	}
	return s.cfg.AccessTokenTTL
}

func (s *TokenService) refreshTTL(tenant domain.Tenant) time.Duration {
	if tenant.RefreshTokenTTL > 0 {
		return tenant.RefreshTokenTTL
	}
	return s.cfg.RefreshTokenTTL
}

func (s *TokenService) response(tenant domain.Tenant, token domain.OAuthToken) *TokenResponse {
	return &TokenResponse{
		AccessToken:  token.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(token.AccessExpiresAt.Sub(s.now()).Seconds()),
		RefreshToken: token.RefreshToken,
		Scope:        token.Scope,
		Audience:     token.Resource,
	}
}

func (s *TokenService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mcpgrid/mcpgrid-auth/internal/domain"
	"github.com/mcpgrid/mcpgrid-auth/internal/repository"
)

// IntrospectionResponse is the RFC 7662 response body. Every field except
// Active is omitted when the token is not active.
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Sub       string `json:"sub,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	Aud       string `json:"aud,omitempty"`
	Iss       string `json:"iss,omitempty"`
}

// IntrospectService answers token validity questions for resource servers.
type IntrospectService struct {
	tokens  repository.TokenRepository
	clients repository.ClientRepository
	logger  *zap.Logger
	now     func() time.Time
}

// NewIntrospectService wires the introspection service.
func NewIntrospectService(tokens repository.TokenRepository, clients repository.ClientRepository, logger *zap.Logger) *IntrospectService {
	return &IntrospectService{tokens: tokens, clients: clients, logger: logger, now: time.Now}
}

// Validate resolves an access token to its live row. It returns
// domain.ErrNotFound for any token that is unknown, expired, or revoked.
func (s *IntrospectService) Validate(ctx context.Context, tenant domain.Tenant, accessToken string) (domain.OAuthToken, error) {
	ctx, span := startSpan(ctx, "IntrospectService.Validate")
	defer span.End()

	if accessToken == "" {
		return domain.OAuthToken{}, domain.ErrNotFound
	}
	token, err := s.tokens.GetByAccessToken(ctx, tenant.ID, accessToken)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.OAuthToken{}, domain.ErrNotFound
		}
		return domain.OAuthToken{}, fmt.Errorf("load token: %w", err)
	}
	if !token.AccessValid(s.now()) {
		return domain.OAuthToken{}, domain.ErrNotFound
	}

	client, err := s.clients.Get(ctx, tenant.ID, token.ClientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.OAuthToken{}, domain.ErrNotFound
		}
		return domain.OAuthToken{}, fmt.Errorf("load client: %w", err)
	}
	if !client.Active() {
		return domain.OAuthToken{}, domain.ErrNotFound
	}
	return token, nil
}

// Introspect implements RFC 7662. It never errors toward the caller: any
// failure collapses to {active:false} so the endpoint cannot be used to
// probe the token store.
func (s *IntrospectService) Introspect(ctx context.Context, tenant domain.Tenant, token, hint string) *IntrospectionResponse {
	ctx, span := startSpan(ctx, "IntrospectService.Introspect")
	defer span.End()

	if token == "" {
		return &IntrospectionResponse{Active: false}
	}

	row, ok := s.lookup(ctx, tenant.ID, token, hint)
	if !ok {
		return &IntrospectionResponse{Active: false}
	}

	now := s.now()
	var tokenType string
	var exp time.Time
	switch {
	case row.AccessToken == token && row.AccessValid(now):
		tokenType = "access_token"
		exp = row.AccessExpiresAt
	case row.RefreshToken == token && row.RefreshValid(now):
		tokenType = "refresh_token"
		if row.RefreshExpiresAt != nil {
			exp = *row.RefreshExpiresAt
		}
	default:
		return &IntrospectionResponse{Active: false}
	}

	if client, err := s.clients.Get(ctx, tenant.ID, row.ClientID); err != nil || !client.Active() {
		return &IntrospectionResponse{Active: false}
	}

	resp := &IntrospectionResponse{
		Active:    true,
		Scope:     row.Scope,
		ClientID:  row.ClientID,
		TokenType: tokenType,
		Iat:       row.CreatedAt.Unix(),
		Aud:       row.Resource,
		Iss:       tenant.IssuerURL,
	}
	if !exp.IsZero() {
		resp.Exp = exp.Unix()
	}
	if row.UserID != nil {
		resp.Sub = fmt.Sprintf("%d", *row.UserID)
	}
	return resp
}

// CheckScope reports whether the token's scope grant covers every required
// scope.
func (s *IntrospectService) CheckScope(token domain.OAuthToken, required ...string) bool {
	return scopeSubset(strings.Join(required, " "), token.Scope)
}

func (s *IntrospectService) lookup(ctx context.Context, tenantID int64, token, hint string) (domain.OAuthToken, bool) {
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
			s.log().Warn("introspection lookup failed", zap.Error(err))
			return domain.OAuthToken{}, false
		}
	}
	return domain.OAuthToken{}, false
}

func (s *IntrospectService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}

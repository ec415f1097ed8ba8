package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mcpgrid/mcpgrid-auth/internal/config"
	"github.com/mcpgrid/mcpgrid-auth/internal/domain"
	"github.com/mcpgrid/mcpgrid-auth/internal/repository"
)

// RFC 7636 code verifier alphabet, 43-128 chars. The challenge shares the
// same surface because a base64url SHA-256 digest always fits it.
var codeChallengeRe = regexp.MustCompile(`^[A-Za-z0-9._~-]{43,128}$`)

// AuthorizeRequest is the parsed query of GET /oauth/authorize.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Resource            string
}

// AuthorizeService validates authorization requests, tracks consent, and
// mints single-use authorization codes.
type AuthorizeService struct {
	clients  repository.ClientRepository
	codes    repository.CodeRepository
	consents repository.ConsentRepository
	cfg      config.Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewAuthorizeService wires the authorization engine.
func NewAuthorizeService(
	clients repository.ClientRepository,
	codes repository.CodeRepository,
	consents repository.ConsentRepository,
	cfg config.Config,
	logger *zap.Logger,
) *AuthorizeService {
	return &AuthorizeService{
		clients:  clients,
		codes:    codes,
		consents: consents,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Validate checks an authorization request up front. Errors returned before
// the redirect URI is verified against the client must be rendered to the
// user agent directly and never redirected; once Validate succeeds the
// caller may redirect errors to req.RedirectURI.
func (s *AuthorizeService) Validate(ctx context.Context, tenant domain.Tenant, req AuthorizeRequest) (domain.OAuthClient, string, error) {
	ctx, span := startSpan(ctx, "AuthorizeService.Validate")
	defer span.End()

	if req.ClientID == "" {
		return domain.OAuthClient{}, "", errInvalidRequest("client_id is required.")
	}

	client, err := s.clients.Get(ctx, tenant.ID, req.ClientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.OAuthClient{}, "", errInvalidClient("Unknown client.")
		}
		return domain.OAuthClient{}, "", fmt.Errorf("load client: %w", err)
	}
	if !client.Active() {
		return domain.OAuthClient{}, "", errInvalidClient("Client has been revoked.")
	}
	if req.RedirectURI == "" || !client.HasRedirectURI(req.RedirectURI) {
		return domain.OAuthClient{}, "", errInvalidRequest("redirect_uri does not match a registered value.")
	}

	// The redirect URI is trusted from here on; remaining failures may be
	// returned to it per RFC 6749 section 4.1.2.1.
	if req.ResponseType != "code" {
		return client, "", newOAuthError(ErrCodeUnsupportedResponseType, "Only the code response type is supported.", http.StatusFound)
	}
	if !client.SupportsGrant(domain.GrantAuthorizationCode) {
		return client, "", newOAuthError(ErrCodeUnauthorizedClient, "Client is not allowed to use the authorization code grant.", http.StatusFound)
	}

	switch req.CodeChallengeMethod {
	case "S256":
	case "":
		return client, "", newOAuthError(ErrCodeInvalidRequest, "code_challenge_method is required.", http.StatusFound)
	case "plain":
		return client, "", newOAuthError(ErrCodeInvalidRequest, "The plain code challenge method is not supported.", http.StatusFound)
	default:
		return client, "", newOAuthError(ErrCodeInvalidRequest, "Unsupported code_challenge_method.", http.StatusFound)
	}
	if !codeChallengeRe.MatchString(req.CodeChallenge) {
		return client, "", newOAuthError(ErrCodeInvalidRequest, "code_challenge is missing or malformed.", http.StatusFound)
	}

	scope, err := s.resolveScope(tenant, req.Scope)
	if err != nil {
		return client, "", err
	}

	return client, scope, nil
}

func (s *AuthorizeService) resolveScope(tenant domain.Tenant, requested string) (string, error) {
	fields := scopeFields(requested)
	if len(fields) == 0 {
		return tenant.DefaultScope, nil
	}
	for _, sc := range fields {
		if !tenant.SupportsScope(sc) {
			return "", newOAuthError(ErrCodeInvalidScope, fmt.Sprintf("Scope %q is not supported.", sc), http.StatusFound)
		}
	}
	return strings.Join(fields, " "), nil
}

// NeedsConsent reports whether the user must be shown the consent prompt for
// this client and scope combination.
func (s *AuthorizeService) NeedsConsent(ctx context.Context, tenant domain.Tenant, userID int64, clientID, scope string) (bool, error) {
	ctx, span := startSpan(ctx, "AuthorizeService.NeedsConsent")
	defer span.End()

	consent, err := s.consents.Get(ctx, tenant.ID, userID, clientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return true, nil
		}
		return true, fmt.Errorf("load consent: %w", err)
	}
	return !consent.Covers(scope, s.now()), nil
}

// Approve records consent, mints a single-use code, and returns the full
// redirect URL. The caller has already validated the request and
// authenticated the user. When remember is false the consent expires after
// ConsentTTL and the user is prompted again on the next request.
func (s *AuthorizeService) Approve(ctx context.Context, tenant domain.Tenant, userID int64, req AuthorizeRequest, scope string, remember bool) (string, error) {
	ctx, span := startSpan(ctx, "AuthorizeService.Approve")
	defer span.End()

	consent := domain.Consent{
		TenantID: tenant.ID,
		UserID:   userID,
		ClientID: req.ClientID,
		Scope:    scope,
		Granted:  true,
	}
	if !remember {
		exp := s.now().Add(s.cfg.ConsentTTL)
		consent.ExpiresAt = &exp
	}
	if _, err := s.consents.Upsert(ctx, consent); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("record consent: %w", err)
	}

	return s.IssueCode(ctx, tenant, userID, req, scope)
}

// IssueCode mints a single-use code and returns the redirect URL without
// touching stored consent. The auto-approve path uses it so a narrower
// repeat request never shrinks an earlier grant.
func (s *AuthorizeService) IssueCode(ctx context.Context, tenant domain.Tenant, userID int64, req AuthorizeRequest, scope string) (string, error) {
	ctx, span := startSpan(ctx, "AuthorizeService.IssueCode")
	defer span.End()

	code, err := secureRandomString(32)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}

	if err := s.codes.Create(ctx, domain.OAuthCode{
		TenantID:            tenant.ID,
		ClientID:            req.ClientID,
		UserID:              userID,
		Code:                code,
		RedirectURI:         req.RedirectURI,
		Scope:               scope,
		State:               req.State,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: "S256",
		Resource:            req.Resource,
		ExpiresAt:           s.now().Add(s.cfg.AuthorizationCodeTTL),
	}); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("store code: %w", err)
	}

	s.log().Info("authorization code issued",
		zap.Int64("tenant_id", tenant.ID),
		zap.String("client_id", req.ClientID),
		zap.Int64("user_id", userID),
		zap.String("scope", scope),
	)

	return successRedirect(req.RedirectURI, code, req.State)
}

// Deny records the refusal and returns the access_denied redirect URL.
func (s *AuthorizeService) Deny(ctx context.Context, tenant domain.Tenant, userID int64, req AuthorizeRequest) (string, error) {
	ctx, span := startSpan(ctx, "AuthorizeService.Deny")
	defer span.End()

	if _, err := s.consents.Upsert(ctx, domain.Consent{
		TenantID: tenant.ID,
		UserID:   userID,
		ClientID: req.ClientID,
		Granted:  false,
	}); err != nil {
		return "", fmt.Errorf("record denial: %w", err)
	}
	return ErrorRedirect(req.RedirectURI, ErrCodeAccessDenied, "The user denied the request.", req.State)
}

// RevokeConsent removes a stored grant so the next authorization request
// prompts again.
func (s *AuthorizeService) RevokeConsent(ctx context.Context, tenantID, userID int64, clientID string) error {
	ctx, span := startSpan(ctx, "AuthorizeService.RevokeConsent")
	defer span.End()

	if err := s.consents.Delete(ctx, tenantID, userID, clientID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delete consent: %w", err)
	}
	return nil
}

func successRedirect(redirectURI, code, state string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("parse redirect uri: %w", err)
	}
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ErrorRedirect builds an RFC 6749 error redirect back to the client.
func ErrorRedirect(redirectURI, code, description, state string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("parse redirect uri: %w", err)
	}
	q := u.Query()
	q.Set("error", code)
	if description != "" {
		q.Set("error_description", description)
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *AuthorizeService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
